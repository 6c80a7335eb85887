package quote

import (
	"context"
	"math/rand"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/atmx/paper-broker/internal/model"
)

// Listing is one instrument of the synthetic market.
type Listing struct {
	Symbol string
	Name   string
	Base   decimal.Decimal // reference price the random walk oscillates around
	Yield  decimal.Decimal // annual dividend yield as a fraction
}

// DefaultBase is the reference price of symbols outside the catalog.
var DefaultBase = decimal.NewFromInt(100)

// Catalog is the built-in list of tradable instruments.
var Catalog = []Listing{
	{"AAPL", "Apple Inc.", decimal.NewFromInt(170), decimal.RequireFromString("0.005")},
	{"MSFT", "Microsoft Corp.", decimal.NewFromInt(320), decimal.RequireFromString("0.008")},
	{"GOOGL", "Alphabet Inc.", decimal.NewFromInt(145), decimal.RequireFromString("0.005")},
	{"AMZN", "Amazon.com Inc.", decimal.NewFromInt(135), decimal.Zero},
	{"TSLA", "Tesla Inc.", decimal.NewFromInt(700), decimal.Zero},
	{"META", "Meta Platforms Inc.", decimal.NewFromInt(300), decimal.RequireFromString("0.004")},
	{"JNJ", "Johnson & Johnson", decimal.NewFromInt(165), decimal.RequireFromString("0.03")},
	{"V", "Visa Inc.", decimal.NewFromInt(230), decimal.RequireFromString("0.007")},
	{"JPM", "JPMorgan Chase & Co.", decimal.NewFromInt(160), decimal.RequireFromString("0.022")},
	{"WMT", "Walmart Inc.", decimal.NewFromInt(150), decimal.RequireFromString("0.013")},
}

var (
	hundred   = decimal.NewFromInt(100)
	halfPoint = decimal.NewFromFloat(0.5)
)

// Synthetic prices every symbol at its base moved by a uniform ±0.5%,
// rounded to cents. Symbols outside the catalog trade around DefaultBase.
type Synthetic struct {
	mu       sync.Mutex
	rng      *rand.Rand
	listings []Listing
	bySymbol map[string]Listing
}

// NewSynthetic creates a synthetic market over Catalog.
func NewSynthetic(seed int64) *Synthetic {
	return NewSyntheticWith(seed, Catalog)
}

// NewSyntheticWith creates a synthetic market over listings.
func NewSyntheticWith(seed int64, listings []Listing) *Synthetic {
	s := &Synthetic{
		rng:      rand.New(rand.NewSource(seed)),
		listings: append([]Listing(nil), listings...),
		bySymbol: make(map[string]Listing, len(listings)),
	}
	for _, l := range listings {
		s.bySymbol[l.Symbol] = l
	}
	return s
}

// Price returns round(base × (1 + u/100), 2) with u uniform in [-0.5, 0.5).
func (s *Synthetic) Price(_ context.Context, symbol string) (decimal.Decimal, error) {
	base := DefaultBase
	if l, ok := s.bySymbol[symbol]; ok {
		base = l.Base
	}

	s.mu.Lock()
	u := s.rng.Float64()
	s.mu.Unlock()

	fluct := decimal.NewFromFloat(u).Sub(halfPoint)
	return base.Mul(decimal.NewFromInt(1).Add(fluct.Div(hundred))).Round(2), nil
}

// Search matches query against tickers (case-insensitive substring) and
// names, in catalog order. An empty query matches nothing.
func (s *Synthetic) Search(_ context.Context, query string) ([]model.SymbolMatch, error) {
	q := strings.TrimSpace(query)
	matches := []model.SymbolMatch{}
	if q == "" {
		return matches, nil
	}
	upper, lower := strings.ToUpper(q), strings.ToLower(q)
	for _, l := range s.listings {
		if strings.Contains(l.Symbol, upper) || strings.Contains(strings.ToLower(l.Name), lower) {
			matches = append(matches, model.SymbolMatch{Symbol: l.Symbol, Name: l.Name})
		}
	}
	return matches, nil
}

// Yield returns the catalog yield, zero for unknown symbols.
func (s *Synthetic) Yield(_ context.Context, symbol string) (decimal.Decimal, error) {
	return s.bySymbol[symbol].Yield, nil
}

// Name returns the catalog name, or the symbol for unknown symbols.
func (s *Synthetic) Name(_ context.Context, symbol string) (string, error) {
	if l, ok := s.bySymbol[symbol]; ok {
		return l.Name, nil
	}
	return symbol, nil
}
