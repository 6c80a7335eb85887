// Package model defines the core domain types shared across the paper broker.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateFormat is the calendar-date layout used for dividend bookkeeping.
const DateFormat = "2006-01-02"

// Action is the direction of a trade.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// Valid reports whether a is BUY or SELL.
func (a Action) Valid() bool {
	return a == ActionBuy || a == ActionSell
}

// Trade is an immutable record of an executed buy or sell.
// Once created, these are never modified or deleted.
// Schema: {timestamp, action, symbol, shares, price, amount}
type Trade struct {
	ID        string          `json:"id" db:"id"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
	Action    Action          `json:"action" db:"action"`
	Symbol    string          `json:"symbol" db:"symbol"`
	Shares    int64           `json:"shares" db:"shares"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Amount    decimal.Decimal `json:"amount" db:"amount"` // shares * price
}

// DividendRecord tracks income credited for one held symbol.
type DividendRecord struct {
	Total        decimal.Decimal `json:"total"`
	LastCredited string          `json:"last_credited,omitempty"` // YYYY-MM-DD
}

// Account is the cash balance and share positions of one session.
// A symbol with zero shares is absent from Positions.
type Account struct {
	Cash      decimal.Decimal           `json:"cash"`
	Positions map[string]int64          `json:"positions"`
	Dividends map[string]DividendRecord `json:"dividends"`
}

// NewAccount returns an empty account seeded with cash.
func NewAccount(cash decimal.Decimal) Account {
	return Account{
		Cash:      cash,
		Positions: make(map[string]int64),
		Dividends: make(map[string]DividendRecord),
	}
}

// Clone returns a deep copy of the account.
func (a Account) Clone() Account {
	out := NewAccount(a.Cash)
	for s, n := range a.Positions {
		out.Positions[s] = n
	}
	for s, r := range a.Dividends {
		out.Dividends[s] = r
	}
	return out
}

// ValuationSample is a timestamped total net worth used for charting.
type ValuationSample struct {
	Timestamp  time.Time       `json:"ts"`
	TotalValue decimal.Decimal `json:"total_value"`
}

// WatchlistEntry is a cached view of a tracked symbol. LastPrice may be
// stale and is never used to settle a trade.
type WatchlistEntry struct {
	Symbol        string          `json:"symbol"`
	Name          string          `json:"name"`
	LastPrice     decimal.Decimal `json:"last_price"`
	DividendYield decimal.Decimal `json:"dividend_yield"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// SymbolMatch is one search hit from a quote provider.
type SymbolMatch struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

// TradeResult is returned by a successful buy or sell.
type TradeResult struct {
	TradeID string          `json:"trade_id"`
	Action  Action          `json:"action"`
	Symbol  string          `json:"symbol"`
	Shares  int64           `json:"shares"`
	Price   decimal.Decimal `json:"price"`
	Amount  decimal.Decimal `json:"amount"`
	Cash    decimal.Decimal `json:"cash"` // balance after settlement
}

// Session is the durable state of one user's brokerage session.
type Session struct {
	ID        string            `json:"id"`
	CreatedAt time.Time         `json:"created_at"`
	Account   Account           `json:"account"`
	Trades    []Trade           `json:"trades"`
	Samples   []ValuationSample `json:"samples"`
	Watchlist []WatchlistEntry  `json:"watchlist"`
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	out := &Session{
		ID:        s.ID,
		CreatedAt: s.CreatedAt,
		Account:   s.Account.Clone(),
		Trades:    append([]Trade(nil), s.Trades...),
		Samples:   append([]ValuationSample(nil), s.Samples...),
		Watchlist: append([]WatchlistEntry(nil), s.Watchlist...),
	}
	return out
}

// Holding is a position enriched with market and cost data for display.
type Holding struct {
	Symbol        string          `json:"symbol"`
	Shares        int64           `json:"shares"`
	Price         decimal.Decimal `json:"price"`          // zero when the quote was unavailable
	Value         decimal.Decimal `json:"value"`          // shares * price
	AvgCost       decimal.Decimal `json:"avg_cost"`       // blended BUY price from the trade log
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"` // value - shares*avgCost
	Dividends     decimal.Decimal `json:"dividends"`
}

// Portfolio aggregates one session's holdings with totals.
type Portfolio struct {
	SessionID      string          `json:"session_id"`
	Cash           decimal.Decimal `json:"cash"`
	CashDisplay    string          `json:"cash_display"`
	Holdings       []Holding       `json:"holdings"`
	PositionsValue decimal.Decimal `json:"positions_value"`
	TotalValue     decimal.Decimal `json:"total_value"`
	TotalDisplay   string          `json:"total_display"`
	TotalDividends decimal.Decimal `json:"total_dividends"`
	UnrealizedPnL  decimal.Decimal `json:"unrealized_pnl"`
}
