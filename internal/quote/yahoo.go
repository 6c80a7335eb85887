package quote

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/wnjoon/go-yfinance/pkg/lookup"
	"github.com/wnjoon/go-yfinance/pkg/models"
	"github.com/wnjoon/go-yfinance/pkg/ticker"

	"github.com/atmx/paper-broker/internal/model"
)

// Yahoo serves live quotes from Yahoo Finance. The underlying client does
// not take a context; wrap it with Guard to bound calls.
type Yahoo struct {
	searchLimit int
}

// NewYahoo creates a Yahoo Finance provider returning at most searchLimit
// search results.
func NewYahoo(searchLimit int) *Yahoo {
	if searchLimit <= 0 {
		searchLimit = 10
	}
	return &Yahoo{searchLimit: searchLimit}
}

// Price returns the regular market price, falling back to the current price
// reported by the summary endpoint.
func (y *Yahoo) Price(_ context.Context, symbol string) (decimal.Decimal, error) {
	t, err := ticker.New(symbol)
	if err != nil {
		return decimal.Zero, fmt.Errorf("create ticker %s: %w", symbol, err)
	}
	defer t.Close()

	if q, err := t.Quote(); err == nil && q != nil && q.RegularMarketPrice > 0 {
		return decimal.NewFromFloat(q.RegularMarketPrice), nil
	}

	info, err := t.Info()
	if err != nil {
		return decimal.Zero, fmt.Errorf("info %s: %w", symbol, err)
	}
	if info == nil || info.CurrentPrice <= 0 {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrNotFound, symbol)
	}
	return decimal.NewFromFloat(info.CurrentPrice), nil
}

// Search looks up equities matching query.
func (y *Yahoo) Search(_ context.Context, query string) ([]model.SymbolMatch, error) {
	matches := []model.SymbolMatch{}
	if query == "" {
		return matches, nil
	}

	lc, err := lookup.New(query)
	if err != nil {
		return nil, fmt.Errorf("create lookup: %w", err)
	}
	defer lc.Close()

	results, err := lc.Stock(y.searchLimit)
	if err != nil {
		return nil, fmt.Errorf("lookup %q: %w", query, err)
	}
	for _, r := range results {
		if r.Symbol == "" {
			continue
		}
		matches = append(matches, model.SymbolMatch{Symbol: r.Symbol, Name: displayName(r)})
	}
	return matches, nil
}

// displayName prefers the instrument's full name and falls back to the ticker.
func displayName(r models.LookupDocument) string {
	for _, s := range []string{r.Name, r.ShortName, r.Symbol} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// Yield returns the trailing dividend yield as a fraction.
func (y *Yahoo) Yield(_ context.Context, symbol string) (decimal.Decimal, error) {
	t, err := ticker.New(symbol)
	if err != nil {
		return decimal.Zero, fmt.Errorf("create ticker %s: %w", symbol, err)
	}
	defer t.Close()

	info, err := t.Info()
	if err != nil {
		return decimal.Zero, fmt.Errorf("info %s: %w", symbol, err)
	}
	if info == nil || info.DividendYield <= 0 {
		return decimal.Zero, nil
	}
	return decimal.NewFromFloat(info.DividendYield), nil
}

// Name returns the long company name.
func (y *Yahoo) Name(_ context.Context, symbol string) (string, error) {
	t, err := ticker.New(symbol)
	if err != nil {
		return "", fmt.Errorf("create ticker %s: %w", symbol, err)
	}
	defer t.Close()

	info, err := t.Info()
	if err != nil {
		return "", fmt.Errorf("info %s: %w", symbol, err)
	}
	if info == nil || info.LongName == "" {
		return symbol, nil
	}
	return info.LongName, nil
}
