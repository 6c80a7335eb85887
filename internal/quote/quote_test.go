package quote

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wnjoon/go-yfinance/pkg/models"

	"github.com/atmx/paper-broker/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var ctx = context.Background()

// --- Synthetic ---

func TestSynthetic_PriceWithinHalfPercent(t *testing.T) {
	s := NewSynthetic(1)
	for _, l := range Catalog {
		for i := 0; i < 50; i++ {
			p, err := s.Price(ctx, l.Symbol)
			require.NoError(t, err)
			lo := l.Base.Mul(d(0.995)).Round(2)
			hi := l.Base.Mul(d(1.005)).Round(2)
			assert.True(t, p.GreaterThanOrEqual(lo) && p.LessThanOrEqual(hi),
				"%s price %s outside [%s, %s]", l.Symbol, p, lo, hi)
			assert.LessOrEqual(t, -p.Exponent(), int32(2), "price %s has more than 2 decimals", p)
		}
	}
}

func TestSynthetic_UnknownSymbolUsesDefaultBase(t *testing.T) {
	s := NewSynthetic(1)
	p, err := s.Price(ctx, "ZZZZ")
	require.NoError(t, err)
	assert.True(t, p.GreaterThanOrEqual(d(99.5)) && p.LessThanOrEqual(d(100.5)), "got %s", p)

	name, err := s.Name(ctx, "ZZZZ")
	require.NoError(t, err)
	assert.Equal(t, "ZZZZ", name)

	y, err := s.Yield(ctx, "ZZZZ")
	require.NoError(t, err)
	assert.False(t, y.IsPositive())
}

func TestSynthetic_DeterministicForSeed(t *testing.T) {
	a, b := NewSynthetic(99), NewSynthetic(99)
	for i := 0; i < 10; i++ {
		pa, _ := a.Price(ctx, "AAPL")
		pb, _ := b.Price(ctx, "AAPL")
		assert.True(t, pa.Equal(pb))
	}
}

func TestSynthetic_Search(t *testing.T) {
	s := NewSynthetic(1)

	tests := []struct {
		query string
		want  []string
	}{
		{"aapl", []string{"AAPL"}},
		{"inc", []string{"AAPL", "GOOGL", "AMZN", "TSLA", "META", "V", "WMT"}},
		{"Johnson", []string{"JNJ"}},
		{"M", []string{"MSFT", "AMZN", "META", "JPM", "WMT"}},
		{"", nil},
		{"nothing-like-this", nil},
	}
	for _, tc := range tests {
		t.Run(tc.query, func(t *testing.T) {
			got, err := s.Search(ctx, tc.query)
			require.NoError(t, err)
			require.NotNil(t, got)
			syms := make([]string, 0, len(got))
			for _, m := range got {
				syms = append(syms, m.Symbol)
			}
			if tc.want == nil {
				assert.Empty(t, syms)
				return
			}
			assert.Equal(t, tc.want, syms)
		})
	}
}

// --- Guard ---

type stubProvider struct {
	price  func(string) (decimal.Decimal, error)
	search func(string) ([]model.SymbolMatch, error)
}

func (s stubProvider) Price(_ context.Context, sym string) (decimal.Decimal, error) {
	return s.price(sym)
}

func (s stubProvider) Search(_ context.Context, q string) ([]model.SymbolMatch, error) {
	return s.search(q)
}

func TestGuard_TranslatesErrors(t *testing.T) {
	g := Guard(stubProvider{
		price:  func(string) (decimal.Decimal, error) { return decimal.Zero, errors.New("connection reset") },
		search: func(string) ([]model.SymbolMatch, error) { return nil, errors.New("bad json") },
	}, time.Second)

	_, err := g.Price(ctx, "AAPL")
	assert.ErrorIs(t, err, ErrUnavailable)
	_, err = g.Search(ctx, "a")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestGuard_RejectsNonPositivePrice(t *testing.T) {
	for _, v := range []float64{0, -1} {
		g := Guard(stubProvider{price: func(string) (decimal.Decimal, error) { return d(v), nil }}, 0)
		_, err := g.Price(ctx, "AAPL")
		assert.ErrorIs(t, err, ErrUnavailable)
	}
}

func TestGuard_RecoversPanic(t *testing.T) {
	g := Guard(stubProvider{
		price: func(string) (decimal.Decimal, error) { panic("index out of range") },
	}, time.Second)

	_, err := g.Price(ctx, "AAPL")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestGuard_TimesOut(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	g := Guard(stubProvider{
		price: func(string) (decimal.Decimal, error) {
			<-release
			return d(1), nil
		},
	}, 20*time.Millisecond)

	start := time.Now()
	_, err := g.Price(ctx, "AAPL")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Less(t, time.Since(start), time.Second)
}

func TestGuard_NilSearchBecomesEmpty(t *testing.T) {
	g := Guard(stubProvider{search: func(string) ([]model.SymbolMatch, error) { return nil, nil }}, 0)
	got, err := g.Search(ctx, "x")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestGuard_OptionalCapabilities(t *testing.T) {
	plain := Guard(stubProvider{}, 0)
	y, err := plain.Yield(ctx, "AAPL")
	require.NoError(t, err)
	assert.True(t, y.IsZero())
	name, err := plain.Name(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", name)

	synth := Guard(NewSynthetic(1), time.Second)
	y, err = synth.Yield(ctx, "JNJ")
	require.NoError(t, err)
	assert.True(t, y.Equal(d(0.03)))
	name, err = synth.Name(ctx, "JNJ")
	require.NoError(t, err)
	assert.Equal(t, "Johnson & Johnson", name)
}

// --- Yahoo ---

func TestYahoo_DisplayNamePrefersFullName(t *testing.T) {
	tests := []struct {
		doc  models.LookupDocument
		want string
	}{
		{models.LookupDocument{Symbol: "AAPL", Name: "Apple Inc.", ShortName: "Apple"}, "Apple Inc."},
		{models.LookupDocument{Symbol: "AAPL", ShortName: "Apple"}, "Apple"},
		{models.LookupDocument{Symbol: "AAPL", Name: "  "}, "AAPL"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, displayName(tc.doc))
	}
}
