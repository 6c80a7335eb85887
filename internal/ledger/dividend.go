package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/paper-broker/internal/model"
)

// TradingDaysPerYear converts an annual yield into a daily accrual.
const TradingDaysPerYear = 252

var tradingDays = decimal.NewFromInt(TradingDaysPerYear)

// Credit is one dividend payment made by AccrueDaily.
type Credit struct {
	Symbol string          `json:"symbol"`
	Shares int64           `json:"shares"`
	Price  decimal.Decimal `json:"price"`
	Yield  decimal.Decimal `json:"yield"`
	Amount decimal.Decimal `json:"amount"`
	Date   string          `json:"date"`
}

// DailyDividend returns price × yield × shares / 252.
func DailyDividend(price, yield decimal.Decimal, shares int64) decimal.Decimal {
	return price.Mul(yield).Mul(decimal.NewFromInt(shares)).Div(tradingDays)
}

// AccrueDaily credits one day of dividends for every held symbol that has
// not yet been credited on today's calendar date. Symbols with no positive
// yield or no usable price are skipped. Repeated calls on the same date are
// no-ops for symbols already credited.
func (l *Ledger) AccrueDaily(ctx context.Context, p Pricer, yields map[string]decimal.Decimal, today time.Time) []Credit {
	day := today.Format(model.DateFormat)
	var credits []Credit

	for _, sym := range l.Held() {
		rec := l.account.Dividends[sym]
		if rec.LastCredited == day {
			continue
		}
		yield := yields[sym]
		if !yield.IsPositive() {
			continue
		}
		price, err := fetchPrice(ctx, p, sym)
		if err != nil {
			continue
		}
		shares := l.account.Positions[sym]
		amount := DailyDividend(price, yield, shares)

		l.account.Cash = l.account.Cash.Add(amount)
		rec.Total = rec.Total.Add(amount)
		rec.LastCredited = day
		l.account.Dividends[sym] = rec

		credits = append(credits, Credit{
			Symbol: sym,
			Shares: shares,
			Price:  price,
			Yield:  yield,
			Amount: amount,
			Date:   day,
		})
	}
	return credits
}

// TotalDividends returns the dividends credited across all symbols.
func (l *Ledger) TotalDividends() decimal.Decimal {
	total := decimal.Zero
	for _, rec := range l.account.Dividends {
		total = total.Add(rec.Total)
	}
	return total
}
