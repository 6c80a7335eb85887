package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/atmx/paper-broker/internal/model"
)

// DefaultSampleLimit bounds the valuation history when no limit is set.
const DefaultSampleLimit = 500

// Recorder keeps a bounded, oldest-first history of valuation samples.
// When full, the oldest sample is dropped.
type Recorder struct {
	samples []model.ValuationSample
	limit   int
}

// NewRecorder creates a recorder holding at most limit samples.
func NewRecorder(limit int) *Recorder {
	if limit <= 0 {
		limit = DefaultSampleLimit
	}
	return &Recorder{limit: limit}
}

func (r *Recorder) load(samples []model.ValuationSample) {
	if len(samples) > r.limit {
		samples = samples[len(samples)-r.limit:]
	}
	r.samples = append([]model.ValuationSample(nil), samples...)
}

// Sample values acct at now and appends the result.
func (r *Recorder) Sample(ctx context.Context, acct model.Account, p Pricer, now time.Time) model.ValuationSample {
	total, _ := Valuate(ctx, acct, p)
	s := model.ValuationSample{Timestamp: now, TotalValue: total}
	if len(r.samples) >= r.limit {
		n := copy(r.samples, r.samples[len(r.samples)-r.limit+1:])
		r.samples = r.samples[:n]
	}
	r.samples = append(r.samples, s)
	return s
}

// Samples returns a copy of the history.
func (r *Recorder) Samples() []model.ValuationSample {
	return append([]model.ValuationSample(nil), r.samples...)
}

// Limit returns the capacity of the history.
func (r *Recorder) Limit() int { return r.limit }

// Valuate returns cash plus the mark-to-market value of every position,
// along with the prices it used. A symbol whose lookup fails contributes
// zero and is absent from the returned prices.
func Valuate(ctx context.Context, acct model.Account, p Pricer) (decimal.Decimal, map[string]decimal.Decimal) {
	total := acct.Cash
	prices := make(map[string]decimal.Decimal, len(acct.Positions))
	if p == nil {
		return total, prices
	}
	for sym, shares := range acct.Positions {
		price, err := p.Price(ctx, sym)
		if err != nil || !price.IsPositive() {
			continue
		}
		prices[sym] = price
		total = total.Add(price.Mul(decimal.NewFromInt(shares)))
	}
	return total, prices
}

// SampleSummary describes the valuation history for charting. The float
// fields are display statistics, not money.
type SampleSummary struct {
	Count  int             `json:"count"`
	First  decimal.Decimal `json:"first"`
	Last   decimal.Decimal `json:"last"`
	Change decimal.Decimal `json:"change"`
	Min    float64         `json:"min"`
	Max    float64         `json:"max"`
	Mean   float64         `json:"mean"`
	StdDev float64         `json:"std_dev"`
}

// Summary computes statistics over the recorded samples.
func (r *Recorder) Summary() SampleSummary {
	var sum SampleSummary
	sum.Count = len(r.samples)
	if sum.Count == 0 {
		return sum
	}
	values := make([]float64, len(r.samples))
	for i, s := range r.samples {
		values[i] = s.TotalValue.InexactFloat64()
	}
	sum.First = r.samples[0].TotalValue
	sum.Last = r.samples[len(r.samples)-1].TotalValue
	sum.Change = sum.Last.Sub(sum.First)
	sum.Min = floats.Min(values)
	sum.Max = floats.Max(values)
	sum.Mean = stat.Mean(values, nil)
	if sum.Count > 1 {
		sum.StdDev = stat.StdDev(values, nil)
	}
	return sum
}
