package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/paper-broker/internal/model"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func assertDec(t *testing.T, want, got decimal.Decimal, msg ...interface{}) {
	t.Helper()
	assert.Truef(t, want.Equal(got), "want %s, got %s %v", want, got, msg)
}

// fixedPrices returns a Pricer backed by a map; unknown symbols fail.
func fixedPrices(prices map[string]float64) PriceFunc {
	return func(_ context.Context, symbol string) (decimal.Decimal, error) {
		p, ok := prices[symbol]
		if !ok {
			return decimal.Zero, fmt.Errorf("no quote for %s", symbol)
		}
		return d(p), nil
	}
}

func testOptions() Options {
	clock := time.Date(2025, 3, 3, 14, 0, 0, 0, time.UTC)
	seq := 0
	return Options{
		Now: func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		},
		NewID: func() string {
			seq++
			return fmt.Sprintf("t-%d", seq)
		},
	}
}

func newLedger(cash float64) *Ledger {
	return New(d(cash), testOptions())
}

var ctx = context.Background()

// --- Scenarios ---

func TestScenarioA_AddCashThenBuy(t *testing.T) {
	l := newLedger(0)
	assertDec(t, d(1000), l.AddCash(d(1000)))

	res, err := l.Buy(ctx, fixedPrices(map[string]float64{"XYZ": 200}), "XYZ", SpendCash(d(450)))
	require.NoError(t, err)

	assert.Equal(t, int64(2), res.Shares)
	assertDec(t, d(200), res.Price)
	assertDec(t, d(400), res.Amount)
	assertDec(t, d(600), l.Cash())
	assert.Equal(t, map[string]int64{"XYZ": 2}, l.Positions())

	trades := l.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, model.ActionBuy, trades[0].Action)
	assert.Equal(t, "t-1", trades[0].ID)
}

func TestScenarioB_SellAllKeepsCostHistory(t *testing.T) {
	l := newLedger(0)
	l.AddCash(d(1000))
	_, err := l.Buy(ctx, fixedPrices(map[string]float64{"XYZ": 200}), "XYZ", SpendCash(d(450)))
	require.NoError(t, err)

	res, err := l.Sell(ctx, fixedPrices(map[string]float64{"XYZ": 250}), "XYZ", All())
	require.NoError(t, err)

	assert.Equal(t, int64(2), res.Shares)
	assertDec(t, d(500), res.Amount)
	assertDec(t, d(1100), l.Cash())
	assert.Empty(t, l.Positions())
	assert.Len(t, l.Log().Filter("XYZ", model.ActionSell), 1)
	assertDec(t, d(200), l.AvgCost("XYZ"))
}

func TestScenarioC_InsufficientFunds(t *testing.T) {
	l := newLedger(1000)
	_, err := l.Buy(ctx, fixedPrices(map[string]float64{"XYZ": 100}), "XYZ", SpendCash(d(50)))

	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assertDec(t, d(1000), l.Cash())
	assert.Empty(t, l.Positions())
	assert.Zero(t, l.Log().Len())
	assert.Empty(t, l.Samples())
}

func TestScenarioD_SellWithoutPosition(t *testing.T) {
	l := newLedger(1000)
	called := false
	p := PriceFunc(func(context.Context, string) (decimal.Decimal, error) {
		called = true
		return d(10), nil
	})

	_, err := l.Sell(ctx, p, "ABC", All())
	assert.ErrorIs(t, err, ErrNoPosition)
	assert.False(t, called, "no quote should be fetched without a position")
}

func TestScenarioE_DividendAccrualIsIdempotentPerDay(t *testing.T) {
	l := newLedger(500)
	prices := fixedPrices(map[string]float64{"DIV": 50})
	_, err := l.Buy(ctx, prices, "DIV", BuyMax())
	require.NoError(t, err)
	require.Equal(t, int64(10), l.Positions()["DIV"])
	before := l.Cash()

	yields := map[string]decimal.Decimal{"DIV": d(0.02)}
	today := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)

	credits := l.AccrueDaily(ctx, prices, yields, today)
	require.Len(t, credits, 1)
	credits = l.AccrueDaily(ctx, prices, yields, today.Add(6*time.Hour))
	assert.Empty(t, credits)

	want := d(50).Mul(d(0.02)).Mul(decimal.NewFromInt(10)).Div(decimal.NewFromInt(252))
	assertDec(t, before.Add(want), l.Cash())
	assertDec(t, want, l.Dividends("DIV"))

	// Next calendar day credits again.
	credits = l.AccrueDaily(ctx, prices, yields, today.AddDate(0, 0, 1))
	require.Len(t, credits, 1)
	assertDec(t, want.Mul(decimal.NewFromInt(2)), l.Dividends("DIV"))
}

// --- Buy ---

func TestBuy_FloorDivisionLaw(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		amount := decimal.NewFromInt(r.Int63n(100000)).Div(decimal.NewFromInt(100)).Add(d(0.01))
		price := decimal.NewFromInt(r.Int63n(50000)).Div(decimal.NewFromInt(100)).Add(d(0.01))

		l := newLedger(1000000)
		p := PriceFunc(func(context.Context, string) (decimal.Decimal, error) { return price, nil })
		res, err := l.Buy(ctx, p, "XYZ", SpendCash(amount))

		maxShares := amount.Div(price).Floor().IntPart()
		if maxShares == 0 {
			assert.ErrorIs(t, err, ErrInsufficientFunds, "amount=%s price=%s", amount, price)
			continue
		}
		require.NoError(t, err)
		assert.LessOrEqual(t, res.Shares, maxShares)
		assert.True(t, price.Mul(decimal.NewFromInt(res.Shares)).LessThanOrEqual(amount),
			"spent more than %s at %s", amount, price)
	}
}

func TestBuy_SpendCashCappedByBalance(t *testing.T) {
	l := newLedger(300)
	res, err := l.Buy(ctx, fixedPrices(map[string]float64{"XYZ": 100}), "XYZ", SpendCash(d(10000)))
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Shares)
	assertDec(t, decimal.Zero, l.Cash())
}

func TestBuy_MaxUsesWholeBalance(t *testing.T) {
	l := newLedger(1000)
	res, err := l.Buy(ctx, fixedPrices(map[string]float64{"XYZ": 333}), "XYZ", BuyMax())
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Shares)
	assertDec(t, d(1), l.Cash())
}

func TestBuy_AccumulatesPosition(t *testing.T) {
	l := newLedger(1000)
	p := fixedPrices(map[string]float64{"XYZ": 100})
	_, err := l.Buy(ctx, p, "XYZ", SpendCash(d(200)))
	require.NoError(t, err)
	_, err = l.Buy(ctx, p, "XYZ", SpendCash(d(300)))
	require.NoError(t, err)
	assert.Equal(t, int64(5), l.Positions()["XYZ"])
}

func TestBuy_RejectsShareCountBeyondInt64(t *testing.T) {
	l := newLedger(0)
	l.AddCash(decimal.RequireFromString("9223372036854775808"))
	p := fixedPrices(map[string]float64{"XYZ": 1})

	_, err := l.Buy(ctx, p, "XYZ", BuyMax())
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.Zero(t, l.Positions()["XYZ"])
	assert.Empty(t, l.Trades())
	assertDec(t, decimal.RequireFromString("9223372036854775808"), l.Cash())
}

func TestBuy_RejectsPositionOverflow(t *testing.T) {
	l := newLedger(0)
	l.AddCash(decimal.NewFromInt(math.MaxInt64))
	p := fixedPrices(map[string]float64{"XYZ": 1})

	res, err := l.Buy(ctx, p, "XYZ", BuyMax())
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), res.Shares)

	l.AddCash(d(5))
	_, err = l.Buy(ctx, p, "XYZ", BuyMax())
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, int64(math.MaxInt64), l.Positions()["XYZ"])
	assert.Len(t, l.Trades(), 1)
	assertDec(t, d(5), l.Cash())
}

func TestBuy_QuoteUnavailable(t *testing.T) {
	l := newLedger(1000)
	_, err := l.Buy(ctx, fixedPrices(nil), "XYZ", BuyMax())
	assert.ErrorIs(t, err, ErrQuoteUnavailable)

	zero := PriceFunc(func(context.Context, string) (decimal.Decimal, error) { return decimal.Zero, nil })
	_, err = l.Buy(ctx, zero, "XYZ", BuyMax())
	assert.ErrorIs(t, err, ErrQuoteUnavailable)

	_, err = l.Buy(ctx, nil, "XYZ", BuyMax())
	assert.ErrorIs(t, err, ErrQuoteUnavailable)

	assertDec(t, d(1000), l.Cash())
	assert.Zero(t, l.Log().Len())
}

func TestBuy_InvalidInput(t *testing.T) {
	l := newLedger(1000)
	p := fixedPrices(map[string]float64{"XYZ": 10})

	cases := []struct {
		name   string
		symbol string
		f      Funding
	}{
		{"empty symbol", "", BuyMax()},
		{"zero amount", "XYZ", SpendCash(decimal.Zero)},
		{"negative amount", "XYZ", SpendCash(d(-5))},
		{"zero funding", "XYZ", Funding{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := l.Buy(ctx, p, tc.symbol, tc.f)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
	assertDec(t, d(1000), l.Cash())
}

// --- Sell ---

func TestSell_ExactClampsToPosition(t *testing.T) {
	l := newLedger(1000)
	p := fixedPrices(map[string]float64{"XYZ": 100})
	_, err := l.Buy(ctx, p, "XYZ", SpendCash(d(500)))
	require.NoError(t, err)

	res, err := l.Sell(ctx, p, "XYZ", Exact(2))
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Shares)
	assert.Equal(t, int64(3), l.Positions()["XYZ"])

	res, err = l.Sell(ctx, p, "XYZ", Exact(50))
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Shares)
	assert.NotContains(t, l.Positions(), "XYZ")
	assertDec(t, d(1000), l.Cash())
}

func TestSell_QuoteUnavailableKeepsPosition(t *testing.T) {
	l := newLedger(1000)
	_, err := l.Buy(ctx, fixedPrices(map[string]float64{"XYZ": 100}), "XYZ", BuyMax())
	require.NoError(t, err)
	before := l.Account()

	_, err = l.Sell(ctx, fixedPrices(nil), "XYZ", All())
	assert.ErrorIs(t, err, ErrQuoteUnavailable)
	assert.Equal(t, before, l.Account())
	assert.Equal(t, 1, l.Log().Len())
}

func TestSell_InvalidExact(t *testing.T) {
	l := newLedger(1000)
	_, err := l.Sell(ctx, fixedPrices(nil), "XYZ", Exact(0))
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = l.Sell(ctx, fixedPrices(nil), "", All())
	assert.ErrorIs(t, err, ErrInvalidInput)
}

// --- AddCash ---

func TestAddCash_NonPositiveIsNoop(t *testing.T) {
	l := newLedger(10)
	assertDec(t, d(10), l.AddCash(decimal.Zero))
	assertDec(t, d(10), l.AddCash(d(-3)))
	assertDec(t, d(12.5), l.AddCash(d(2.5)))
}

// --- Properties ---

func TestRandomOperations_PreserveInvariants(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	symbols := []string{"AAA", "BBB", "CCC"}
	l := newLedger(0)
	added := decimal.Zero

	for step := 0; step < 500; step++ {
		sym := symbols[r.Intn(len(symbols))]
		price := decimal.NewFromInt(r.Int63n(20000) + 1).Div(decimal.NewFromInt(100))
		var p Pricer = PriceFunc(func(context.Context, string) (decimal.Decimal, error) { return price, nil })
		if r.Intn(10) == 0 {
			p = fixedPrices(nil)
		}

		before := l.Account()
		beforeTrades := l.Log().Len()
		var err error
		switch r.Intn(5) {
		case 0:
			amt := decimal.NewFromInt(r.Int63n(1000))
			l.AddCash(amt)
			if amt.IsPositive() {
				added = added.Add(amt)
			}
		case 1:
			_, err = l.Buy(ctx, p, sym, SpendCash(decimal.NewFromInt(r.Int63n(500))))
		case 2:
			_, err = l.Buy(ctx, p, sym, BuyMax())
		case 3:
			_, err = l.Sell(ctx, p, sym, All())
		case 4:
			_, err = l.Sell(ctx, p, sym, Exact(r.Int63n(5)))
		}

		if err != nil {
			require.True(t, errors.Is(err, ErrInsufficientFunds) || errors.Is(err, ErrNoPosition) ||
				errors.Is(err, ErrQuoteUnavailable) || errors.Is(err, ErrInvalidInput), "unexpected error %v", err)
			require.Equal(t, before, l.Account(), "failed operation mutated account at step %d", step)
			require.Equal(t, beforeTrades, l.Log().Len())
		}

		require.False(t, l.Cash().IsNegative(), "cash negative at step %d", step)
		for s, n := range l.Positions() {
			require.Positive(t, n, "position %s not positive at step %d", s, step)
		}
		for _, tr := range l.Trades() {
			require.Positive(t, tr.Shares)
			require.True(t, tr.Price.IsPositive())
		}

		positions, flow := Replay(l.Trades())
		require.Equal(t, l.Positions(), positions, "replay mismatch at step %d", step)
		assertDec(t, added.Add(flow), l.Cash(), "cash reconciliation at step", step)
	}
}

func TestRestore_RoundTripsThroughSession(t *testing.T) {
	l := newLedger(1000)
	p := fixedPrices(map[string]float64{"XYZ": 100, "ABC": 40})
	_, err := l.Buy(ctx, p, "XYZ", SpendCash(d(300)))
	require.NoError(t, err)
	_, err = l.Buy(ctx, p, "ABC", SpendCash(d(200)))
	require.NoError(t, err)

	var s model.Session
	l.SaveTo(&s)

	restored := Restore(s.Account, s.Trades, s.Samples, testOptions())
	assert.Equal(t, l.Account(), restored.Account())
	assert.Equal(t, l.Trades(), restored.Trades())
	assert.Equal(t, l.Samples(), restored.Samples())
	assert.Equal(t, []string{"ABC", "XYZ"}, restored.Held())
}
