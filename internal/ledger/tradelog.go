package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/atmx/paper-broker/internal/model"
)

// TradeLog is an append-only sequence of executed trades. Append order is
// execution order. Entries are never modified or removed.
type TradeLog struct {
	trades []model.Trade
}

// NewTradeLog creates a log seeded with previously persisted trades.
func NewTradeLog(trades []model.Trade) *TradeLog {
	return &TradeLog{trades: append([]model.Trade(nil), trades...)}
}

func (t *TradeLog) append(tr model.Trade) {
	t.trades = append(t.trades, tr)
}

// Len returns the number of logged trades.
func (t *TradeLog) Len() int { return len(t.trades) }

// All returns a copy of every trade in execution order.
func (t *TradeLog) All() []model.Trade {
	return append([]model.Trade(nil), t.trades...)
}

// Filter returns trades matching symbol and action, in execution order.
// An empty symbol or action matches everything.
func (t *TradeLog) Filter(symbol string, action model.Action) []model.Trade {
	out := []model.Trade{}
	for _, tr := range t.trades {
		if symbol != "" && tr.Symbol != symbol {
			continue
		}
		if action != "" && tr.Action != action {
			continue
		}
		out = append(out, tr)
	}
	return out
}

// AvgCost returns Σ(BUY shares×price) / Σ(BUY shares) for symbol, or zero
// when the symbol was never bought. It scans the full log on every call so
// the figure always agrees with the log.
func (t *TradeLog) AvgCost(symbol string) decimal.Decimal {
	var cost decimal.Decimal
	var shares int64
	for _, tr := range t.trades {
		if tr.Symbol != symbol || tr.Action != model.ActionBuy {
			continue
		}
		cost = cost.Add(tr.Price.Mul(decimal.NewFromInt(tr.Shares)))
		shares += tr.Shares
	}
	if shares == 0 {
		return decimal.Zero
	}
	return cost.Div(decimal.NewFromInt(shares))
}

// Replay applies trades to an empty account and returns the resulting
// positions and the net cash flow (sell proceeds minus buy costs).
// Symbols that net to zero are omitted.
func Replay(trades []model.Trade) (map[string]int64, decimal.Decimal) {
	positions := make(map[string]int64)
	flow := decimal.Zero
	for _, tr := range trades {
		amount := tr.Price.Mul(decimal.NewFromInt(tr.Shares))
		switch tr.Action {
		case model.ActionBuy:
			positions[tr.Symbol] += tr.Shares
			flow = flow.Sub(amount)
		case model.ActionSell:
			positions[tr.Symbol] -= tr.Shares
			flow = flow.Add(amount)
		}
	}
	for s, n := range positions {
		if n == 0 {
			delete(positions, s)
		}
	}
	return positions, flow
}
