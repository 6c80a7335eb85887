package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestUSD(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0", "$0.00"},
		{"1100", "$1,100.00"},
		{"1234.5", "$1,234.50"},
		{"0.039682", "$0.04"},
		{"-12.345", "-$12.35"},
		{"1383505805528216371200", "$1383505805528216371200.00"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, USD(decimal.RequireFromString(tc.in)), tc.in)
	}
}

func TestFormat_UnknownCurrencyFallsBack(t *testing.T) {
	assert.Equal(t, "$5.00", Format(decimal.NewFromInt(5), "not-a-currency"))
}
