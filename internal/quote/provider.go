// Package quote defines the price/search capability the broker consumes and
// the providers behind it: a synthetic random-walk market and Yahoo Finance.
//
// Providers are untrusted. Guard wraps any of them so that every failure
// surfaces as ErrUnavailable.
package quote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/paper-broker/internal/metrics"
	"github.com/atmx/paper-broker/internal/model"
)

var (
	// ErrUnavailable is returned when a provider cannot produce a usable answer.
	ErrUnavailable = errors.New("quote: unavailable")

	// ErrNotFound is returned by providers that do not know a symbol.
	ErrNotFound = errors.New("quote: symbol not found")
)

// Provider returns current prices and symbol search results.
type Provider interface {
	// Price returns the last trade price of symbol.
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)

	// Search returns symbols whose ticker or name matches query. It may
	// return an empty slice.
	Search(ctx context.Context, query string) ([]model.SymbolMatch, error)
}

// YieldSource is implemented by providers that know annual dividend yields.
type YieldSource interface {
	Yield(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Namer is implemented by providers that can resolve a display name.
type Namer interface {
	Name(ctx context.Context, symbol string) (string, error)
}

// Guarded is a Provider that bounds and sanitises every call to the
// provider it wraps.
type Guarded struct {
	p       Provider
	timeout time.Duration
}

// Guard wraps p. A zero timeout leaves calls bounded only by the caller's
// context.
func Guard(p Provider, timeout time.Duration) *Guarded {
	return &Guarded{p: p, timeout: timeout}
}

// Price returns a positive price or an error wrapping ErrUnavailable.
func (g *Guarded) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	price, err := call(ctx, g.timeout, func(ctx context.Context) (decimal.Decimal, error) {
		return g.p.Price(ctx, symbol)
	})
	if err != nil {
		return decimal.Zero, g.fail("price", symbol, err)
	}
	if !price.IsPositive() {
		return decimal.Zero, g.fail("price", symbol, fmt.Errorf("non-positive price %s", price))
	}
	return price, nil
}

// Search returns the provider's matches, never nil on success.
func (g *Guarded) Search(ctx context.Context, query string) ([]model.SymbolMatch, error) {
	matches, err := call(ctx, g.timeout, func(ctx context.Context) ([]model.SymbolMatch, error) {
		return g.p.Search(ctx, query)
	})
	if err != nil {
		return nil, g.fail("search", query, err)
	}
	if matches == nil {
		matches = []model.SymbolMatch{}
	}
	return matches, nil
}

// Yield returns the annual dividend yield of symbol, or zero when the
// wrapped provider does not publish yields.
func (g *Guarded) Yield(ctx context.Context, symbol string) (decimal.Decimal, error) {
	ys, ok := g.p.(YieldSource)
	if !ok {
		return decimal.Zero, nil
	}
	y, err := call(ctx, g.timeout, func(ctx context.Context) (decimal.Decimal, error) {
		return ys.Yield(ctx, symbol)
	})
	if err != nil {
		return decimal.Zero, g.fail("yield", symbol, err)
	}
	if y.IsNegative() {
		return decimal.Zero, nil
	}
	return y, nil
}

// Name resolves a display name, falling back to the symbol itself.
func (g *Guarded) Name(ctx context.Context, symbol string) (string, error) {
	n, ok := g.p.(Namer)
	if !ok {
		return symbol, nil
	}
	name, err := call(ctx, g.timeout, func(ctx context.Context) (string, error) {
		return n.Name(ctx, symbol)
	})
	if err != nil {
		return symbol, g.fail("name", symbol, err)
	}
	if name == "" {
		name = symbol
	}
	return name, nil
}

func (g *Guarded) fail(op, subject string, err error) error {
	metrics.QuoteFailures.WithLabelValues(op).Inc()
	slog.Warn("quote provider failed", "op", op, "subject", subject, "err", err)
	return fmt.Errorf("%w: %s %s: %v", ErrUnavailable, op, subject, err)
}

// call runs fn under the timeout and converts a panic into an error.
// Providers that ignore ctx are abandoned when it expires.
func call[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("provider panic: %v", r)}
			}
		}()
		v, err := fn(ctx)
		ch <- result{v: v, err: err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
