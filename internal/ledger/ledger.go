// Package ledger implements the paper-trading settlement engine: a cash
// balance, a whole-share position map, an append-only trade log, valuation
// sampling and daily dividend accrual.
//
// The engine does no I/O of its own. Prices arrive through a Pricer that is
// consulted at settlement time, so a trade is never settled against a cached
// quote. Every operation either applies in full or returns an error and
// leaves the account untouched.
//
// All monetary values use shopspring/decimal, never float64.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/paper-broker/internal/model"
)

var (
	// ErrQuoteUnavailable is returned when no usable price could be obtained.
	ErrQuoteUnavailable = errors.New("ledger: quote unavailable")

	// ErrInsufficientFunds is returned when a buy would acquire zero shares.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrNoPosition is returned when selling a symbol that is not held.
	ErrNoPosition = errors.New("ledger: no position")

	// ErrInvalidInput is returned for empty symbols and non-positive amounts.
	ErrInvalidInput = errors.New("ledger: invalid input")
)

// Pricer returns the current price of a symbol.
type Pricer interface {
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// PriceFunc adapts a function to the Pricer interface.
type PriceFunc func(ctx context.Context, symbol string) (decimal.Decimal, error)

// Price calls f(ctx, symbol).
func (f PriceFunc) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return f(ctx, symbol)
}

type fundingKind int

const (
	fundSpendCash fundingKind = iota + 1
	fundMax
)

// Funding selects how much cash a buy may use.
type Funding struct {
	kind   fundingKind
	amount decimal.Decimal
}

// SpendCash spends at most amount (capped by the cash balance).
func SpendCash(amount decimal.Decimal) Funding {
	return Funding{kind: fundSpendCash, amount: amount}
}

// BuyMax spends the whole cash balance.
func BuyMax() Funding {
	return Funding{kind: fundMax}
}

type quantityKind int

const (
	sellAll quantityKind = iota + 1
	sellExact
)

// Quantity selects how many shares a sell liquidates.
type Quantity struct {
	kind   quantityKind
	shares int64
}

// All sells the whole position.
func All() Quantity { return Quantity{kind: sellAll} }

// Exact sells n shares, clamped to the position size.
func Exact(n int64) Quantity { return Quantity{kind: sellExact, shares: n} }

// Options configures a Ledger. Zero values select defaults.
type Options struct {
	SampleLimit int
	Now         func() time.Time
	NewID       func() string
}

func (o Options) withDefaults() Options {
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	if o.NewID == nil {
		o.NewID = func() string { return uuid.New().String() }
	}
	return o
}

// Ledger owns one account together with its trade log and valuation history.
// It is not safe for concurrent use; callers serialise access per session.
type Ledger struct {
	account  model.Account
	log      *TradeLog
	recorder *Recorder
	now      func() time.Time
	newID    func() string
}

// New creates a ledger for a fresh account holding startingCash.
func New(startingCash decimal.Decimal, opts Options) *Ledger {
	if startingCash.IsNegative() {
		startingCash = decimal.Zero
	}
	return Restore(model.NewAccount(startingCash), nil, nil, opts)
}

// Restore rebuilds a ledger from persisted state.
func Restore(acct model.Account, trades []model.Trade, samples []model.ValuationSample, opts Options) *Ledger {
	opts = opts.withDefaults()
	acct = acct.Clone()
	for s, n := range acct.Positions {
		if n <= 0 {
			delete(acct.Positions, s)
		}
	}
	rec := NewRecorder(opts.SampleLimit)
	rec.load(samples)
	return &Ledger{
		account:  acct,
		log:      NewTradeLog(trades),
		recorder: rec,
		now:      opts.Now,
		newID:    opts.NewID,
	}
}

// SaveTo copies the ledger state into s.
func (l *Ledger) SaveTo(s *model.Session) {
	s.Account = l.account.Clone()
	s.Trades = l.log.All()
	s.Samples = l.recorder.Samples()
}

// Buy acquires whole shares of symbol at the price returned by p.
// shares = floor(funds / price), where funds is min(amount, cash) for
// SpendCash and cash for BuyMax.
func (l *Ledger) Buy(ctx context.Context, p Pricer, symbol string, f Funding) (model.TradeResult, error) {
	if symbol == "" {
		return model.TradeResult{}, fmt.Errorf("%w: symbol is required", ErrInvalidInput)
	}
	switch f.kind {
	case fundSpendCash:
		if !f.amount.IsPositive() {
			return model.TradeResult{}, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
		}
	case fundMax:
	default:
		return model.TradeResult{}, fmt.Errorf("%w: unknown funding mode", ErrInvalidInput)
	}

	price, err := fetchPrice(ctx, p, symbol)
	if err != nil {
		return model.TradeResult{}, err
	}

	funds := l.account.Cash
	if f.kind == fundSpendCash && f.amount.LessThan(funds) {
		funds = f.amount
	}
	whole, _ := funds.QuoRem(price, 0)
	if !whole.IsPositive() {
		return model.TradeResult{}, fmt.Errorf("%w: %s at %s needs more than %s",
			ErrInsufficientFunds, symbol, price, funds)
	}
	held := l.account.Positions[symbol]
	if whole.GreaterThan(decimal.NewFromInt(math.MaxInt64 - held)) {
		return model.TradeResult{}, fmt.Errorf("%w: %s shares would exceed the position limit",
			ErrInvalidInput, whole)
	}
	shares := whole.IntPart()
	amount := price.Mul(decimal.NewFromInt(shares))

	l.account.Cash = l.account.Cash.Sub(amount)
	l.account.Positions[symbol] += shares
	tr := l.record(model.ActionBuy, symbol, shares, price, amount)

	l.recorder.Sample(ctx, l.account, settled(p, symbol, price), tr.Timestamp)
	return l.result(tr), nil
}

// Sell liquidates shares of symbol at the price returned by p.
func (l *Ledger) Sell(ctx context.Context, p Pricer, symbol string, q Quantity) (model.TradeResult, error) {
	if symbol == "" {
		return model.TradeResult{}, fmt.Errorf("%w: symbol is required", ErrInvalidInput)
	}
	switch q.kind {
	case sellAll:
	case sellExact:
		if q.shares <= 0 {
			return model.TradeResult{}, fmt.Errorf("%w: shares must be positive", ErrInvalidInput)
		}
	default:
		return model.TradeResult{}, fmt.Errorf("%w: unknown quantity mode", ErrInvalidInput)
	}

	held := l.account.Positions[symbol]
	if held <= 0 {
		return model.TradeResult{}, fmt.Errorf("%w: %s", ErrNoPosition, symbol)
	}

	price, err := fetchPrice(ctx, p, symbol)
	if err != nil {
		return model.TradeResult{}, err
	}

	shares := held
	if q.kind == sellExact && q.shares < held {
		shares = q.shares
	}
	amount := price.Mul(decimal.NewFromInt(shares))

	l.account.Cash = l.account.Cash.Add(amount)
	if remaining := held - shares; remaining > 0 {
		l.account.Positions[symbol] = remaining
	} else {
		delete(l.account.Positions, symbol)
	}
	tr := l.record(model.ActionSell, symbol, shares, price, amount)

	l.recorder.Sample(ctx, l.account, settled(p, symbol, price), tr.Timestamp)
	return l.result(tr), nil
}

// AddCash credits amount and returns the new balance. Non-positive amounts
// are ignored.
func (l *Ledger) AddCash(amount decimal.Decimal) decimal.Decimal {
	if amount.IsPositive() {
		l.account.Cash = l.account.Cash.Add(amount)
	}
	return l.account.Cash
}

// Sample records the current total value using best-effort prices.
func (l *Ledger) Sample(ctx context.Context, p Pricer) model.ValuationSample {
	return l.recorder.Sample(ctx, l.account, p, l.now())
}

// Cash returns the current cash balance.
func (l *Ledger) Cash() decimal.Decimal { return l.account.Cash }

// Positions returns a copy of the symbol → shares map.
func (l *Ledger) Positions() map[string]int64 {
	return l.account.Clone().Positions
}

// Held returns the held symbols in lexical order.
func (l *Ledger) Held() []string {
	syms := make([]string, 0, len(l.account.Positions))
	for s := range l.account.Positions {
		syms = append(syms, s)
	}
	sort.Strings(syms)
	return syms
}

// Account returns a deep copy of the account.
func (l *Ledger) Account() model.Account { return l.account.Clone() }

// Trades returns the log in execution order.
func (l *Ledger) Trades() []model.Trade { return l.log.All() }

// Log exposes the trade log for filtering and cost queries.
func (l *Ledger) Log() *TradeLog { return l.log }

// Samples returns the valuation history, oldest first.
func (l *Ledger) Samples() []model.ValuationSample { return l.recorder.Samples() }

// Recorder exposes the valuation recorder.
func (l *Ledger) Recorder() *Recorder { return l.recorder }

// AvgCost returns the blended BUY price for symbol.
func (l *Ledger) AvgCost(symbol string) decimal.Decimal { return l.log.AvgCost(symbol) }

// Dividends returns the cumulative dividends credited for symbol.
func (l *Ledger) Dividends(symbol string) decimal.Decimal {
	return l.account.Dividends[symbol].Total
}

func (l *Ledger) record(action model.Action, symbol string, shares int64, price, amount decimal.Decimal) model.Trade {
	tr := model.Trade{
		ID:        l.newID(),
		Timestamp: l.now(),
		Action:    action,
		Symbol:    symbol,
		Shares:    shares,
		Price:     price,
		Amount:    amount,
	}
	l.log.append(tr)
	return tr
}

func (l *Ledger) result(tr model.Trade) model.TradeResult {
	return model.TradeResult{
		TradeID: tr.ID,
		Action:  tr.Action,
		Symbol:  tr.Symbol,
		Shares:  tr.Shares,
		Price:   tr.Price,
		Amount:  tr.Amount,
		Cash:    l.account.Cash,
	}
}

// fetchPrice asks p for a price and rejects anything that is not positive.
func fetchPrice(ctx context.Context, p Pricer, symbol string) (decimal.Decimal, error) {
	if p == nil {
		return decimal.Zero, fmt.Errorf("%w: %s: no price source", ErrQuoteUnavailable, symbol)
	}
	price, err := p.Price(ctx, symbol)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s: %v", ErrQuoteUnavailable, symbol, err)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s: non-positive price %s", ErrQuoteUnavailable, symbol, price)
	}
	return price, nil
}

// settled answers with the settlement price for the traded symbol and
// defers to p for the rest, so the post-trade sample needs no extra lookup.
func settled(p Pricer, symbol string, price decimal.Decimal) Pricer {
	return PriceFunc(func(ctx context.Context, s string) (decimal.Decimal, error) {
		if s == symbol {
			return price, nil
		}
		return p.Price(ctx, s)
	})
}
