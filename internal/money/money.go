// Package money formats decimal amounts for display using ISO 4217
// currency conventions.
package money

import (
	gomoney "github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// DefaultCurrency is the settlement currency of every account.
const DefaultCurrency = gomoney.USD

// Format renders amount in currency, rounded to the currency's minor unit
// (e.g. "$1,234.50"). Unknown currency codes fall back to two decimals.
func Format(amount decimal.Decimal, currency string) string {
	cur := gomoney.GetCurrency(currency)
	if cur == nil {
		cur = gomoney.GetCurrency(DefaultCurrency)
	}
	minor := amount.Shift(int32(cur.Fraction)).Round(0)
	if !minor.BigInt().IsInt64() {
		// Beyond go-money's int64 minor units; keep it exact without grouping.
		s := amount.Abs().StringFixed(int32(cur.Fraction))
		if amount.IsNegative() {
			return "-" + cur.Grapheme + s
		}
		return cur.Grapheme + s
	}
	return gomoney.New(minor.IntPart(), cur.Code).Display()
}

// USD formats amount in US dollars.
func USD(amount decimal.Decimal) string {
	return Format(amount, DefaultCurrency)
}
