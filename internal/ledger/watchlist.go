package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/paper-broker/internal/model"
)

// Watchlist is the user's list of tracked symbols, in the order they were
// added. Its prices are a display cache only.
type Watchlist struct {
	entries []model.WatchlistEntry
}

// NewWatchlist creates a watchlist from persisted entries.
func NewWatchlist(entries []model.WatchlistEntry) *Watchlist {
	return &Watchlist{entries: append([]model.WatchlistEntry(nil), entries...)}
}

// Add inserts e, or replaces the entry for the same symbol in place.
func (w *Watchlist) Add(e model.WatchlistEntry) error {
	if e.Symbol == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidInput)
	}
	if e.Name == "" {
		e.Name = e.Symbol
	}
	for i := range w.entries {
		if w.entries[i].Symbol == e.Symbol {
			w.entries[i] = e
			return nil
		}
	}
	w.entries = append(w.entries, e)
	return nil
}

// Remove deletes symbol and reports whether it was present.
func (w *Watchlist) Remove(symbol string) bool {
	for i := range w.entries {
		if w.entries[i].Symbol == symbol {
			w.entries = append(w.entries[:i], w.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Get returns the entry for symbol.
func (w *Watchlist) Get(symbol string) (model.WatchlistEntry, bool) {
	for _, e := range w.entries {
		if e.Symbol == symbol {
			return e, true
		}
	}
	return model.WatchlistEntry{}, false
}

// Entries returns a copy of the entries in insertion order.
func (w *Watchlist) Entries() []model.WatchlistEntry {
	return append([]model.WatchlistEntry(nil), w.entries...)
}

// Refresh updates LastPrice for every entry whose quote succeeds and returns
// how many were updated. Failed lookups keep their previous price.
func (w *Watchlist) Refresh(ctx context.Context, p Pricer, now time.Time) int {
	if p == nil {
		return 0
	}
	n := 0
	for i := range w.entries {
		price, err := p.Price(ctx, w.entries[i].Symbol)
		if err != nil || !price.IsPositive() {
			continue
		}
		w.entries[i].LastPrice = price
		w.entries[i].UpdatedAt = now
		n++
	}
	return n
}

// Yields returns symbol → annual dividend yield for entries that carry one.
func (w *Watchlist) Yields() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, e := range w.entries {
		if e.DividendYield.IsPositive() {
			out[e.Symbol] = e.DividendYield
		}
	}
	return out
}
