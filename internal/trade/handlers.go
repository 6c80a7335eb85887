package trade

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/paper-broker/internal/ledger"
	"github.com/atmx/paper-broker/internal/metrics"
	"github.com/atmx/paper-broker/internal/model"
	"github.com/atmx/paper-broker/internal/money"
)

// --- Request/Response types ---

// CashRequest is the JSON body for POST /sessions/{id}/cash.
type CashRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// CashResponse reports the balance after a deposit.
type CashResponse struct {
	Cash        decimal.Decimal `json:"cash"`
	CashDisplay string          `json:"cash_display"`
}

// BuyRequest is the JSON body for POST /sessions/{id}/buy.
type BuyRequest struct {
	Symbol string          `json:"symbol"`
	Mode   string          `json:"mode"`   // "cash" (default) or "max"
	Amount decimal.Decimal `json:"amount"` // cash to spend in "cash" mode
}

// SellRequest is the JSON body for POST /sessions/{id}/sell.
type SellRequest struct {
	Symbol string `json:"symbol"`
	Mode   string `json:"mode"`   // "all" (default) or "exact"
	Shares int64  `json:"shares"` // shares to sell in "exact" mode
}

// WatchRequest is the JSON body for POST /sessions/{id}/watchlist.
type WatchRequest struct {
	Symbol string `json:"symbol"`
}

// RefreshResponse is returned from POST /sessions/{id}/refresh.
type RefreshResponse struct {
	Sample    model.ValuationSample `json:"sample"`
	Refreshed int                   `json:"refreshed"`
}

// SamplesResponse is returned from GET /sessions/{id}/samples.
type SamplesResponse struct {
	Samples []model.ValuationSample `json:"samples"`
	Summary ledger.SampleSummary    `json:"summary"`
}

// QuoteResponse is returned from GET /quotes/{symbol}.
type QuoteResponse struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body", ledger.ErrInvalidInput)
	}
	return nil
}

// --- Session lifecycle ---

// CreateSession handles POST /api/v1/sessions
func (s *Service) CreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.createSession(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// GetPortfolio handles GET /api/v1/sessions/{sessionID}
// Values every position at a fresh quote; holdings whose quote fails show
// a zero price and contribute nothing to the total.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	ctx := r.Context()

	st, err := s.load(ctx, id)
	if err != nil {
		writeErr(w, err)
		return
	}
	l := st.ledger
	acct := l.Account()
	total, prices := ledger.Valuate(ctx, acct, s.quotes)

	holdings := make([]model.Holding, 0, len(acct.Positions))
	positionsValue := decimal.Zero
	totalPnL := decimal.Zero
	for _, sym := range l.Held() {
		shares := decimal.NewFromInt(acct.Positions[sym])
		h := model.Holding{
			Symbol:    sym,
			Shares:    acct.Positions[sym],
			AvgCost:   l.AvgCost(sym),
			Dividends: l.Dividends(sym),
		}
		if price, ok := prices[sym]; ok {
			h.Price = price
			h.Value = price.Mul(shares)
			h.UnrealizedPnL = h.Value.Sub(h.AvgCost.Mul(shares))
		}
		positionsValue = positionsValue.Add(h.Value)
		totalPnL = totalPnL.Add(h.UnrealizedPnL)
		holdings = append(holdings, h)
	}

	writeJSON(w, http.StatusOK, model.Portfolio{
		SessionID:      id,
		Cash:           acct.Cash,
		CashDisplay:    money.USD(acct.Cash),
		Holdings:       holdings,
		PositionsValue: positionsValue,
		TotalValue:     total,
		TotalDisplay:   money.USD(total),
		TotalDividends: l.TotalDividends(),
		UnrealizedPnL:  totalPnL,
	})
}

// DeleteSession handles DELETE /api/v1/sessions/{sessionID}
func (s *Service) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	s.mu.Lock()
	err := s.store.DeleteSession(r.Context(), id)
	s.mu.Unlock()
	if err != nil {
		writeErr(w, err)
		return
	}
	metrics.ActiveSessions.Dec()
	slog.Info("session ended", "session", id)
	w.WriteHeader(http.StatusNoContent)
}

// --- Cash and trading ---

// AddCash handles POST /api/v1/sessions/{sessionID}/cash
// Non-positive amounts leave the balance unchanged.
func (s *Service) AddCash(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	var req CashRequest
	if err := decode(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	var cash decimal.Decimal
	if _, err := s.mutate(r.Context(), id, func(st *state) error {
		cash = st.ledger.AddCash(req.Amount)
		return nil
	}); err != nil {
		writeErr(w, err)
		return
	}

	slog.Info("cash added", "session", id, "amount", req.Amount.String(), "cash", cash.String())
	writeJSON(w, http.StatusOK, CashResponse{Cash: cash, CashDisplay: money.USD(cash)})
}

// Buy handles POST /api/v1/sessions/{sessionID}/buy
// The quote is fetched at settlement; no cached price is ever used.
func (s *Service) Buy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	var req BuyRequest
	if err := decode(r, &req); err != nil {
		s.reject(w, model.ActionBuy, err)
		return
	}

	var funding ledger.Funding
	switch strings.ToLower(req.Mode) {
	case "", "cash":
		funding = ledger.SpendCash(req.Amount)
	case "max":
		funding = ledger.BuyMax()
	default:
		s.reject(w, model.ActionBuy, fmt.Errorf("%w: mode must be cash or max", ledger.ErrInvalidInput))
		return
	}

	s.settle(w, r, id, model.ActionBuy, req.Symbol, func(st *state, sym string) (model.TradeResult, error) {
		return st.ledger.Buy(r.Context(), s.quotes, sym, funding)
	})
}

// Sell handles POST /api/v1/sessions/{sessionID}/sell
func (s *Service) Sell(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	var req SellRequest
	if err := decode(r, &req); err != nil {
		s.reject(w, model.ActionSell, err)
		return
	}

	var qty ledger.Quantity
	switch strings.ToLower(req.Mode) {
	case "", "all":
		qty = ledger.All()
	case "exact":
		qty = ledger.Exact(req.Shares)
	default:
		s.reject(w, model.ActionSell, fmt.Errorf("%w: mode must be all or exact", ledger.ErrInvalidInput))
		return
	}

	s.settle(w, r, id, model.ActionSell, req.Symbol, func(st *state, sym string) (model.TradeResult, error) {
		return st.ledger.Sell(r.Context(), s.quotes, sym, qty)
	})
}

// settle runs one trade against a session and reports the result.
func (s *Service) settle(w http.ResponseWriter, r *http.Request, id string, action model.Action, rawSymbol string,
	exec func(st *state, sym string) (model.TradeResult, error)) {
	sym, err := normalizeSymbol(rawSymbol)
	if err != nil {
		s.reject(w, action, err)
		return
	}

	start := time.Now()
	var res model.TradeResult
	st, err := s.mutate(r.Context(), id, func(st *state) error {
		var err error
		res, err = exec(st, sym)
		return err
	})
	metrics.TradeLatency.WithLabelValues(string(action)).Observe(time.Since(start).Seconds())
	if err != nil {
		s.reject(w, action, err)
		return
	}
	metrics.TradesTotal.WithLabelValues(string(action)).Inc()

	slog.Info("trade executed",
		"session", id,
		"trade_id", res.TradeID,
		"action", string(action),
		"symbol", sym,
		"shares", res.Shares,
		"price", res.Price.String(),
		"amount", res.Amount.String(),
		"cash", res.Cash.String(),
	)

	s.broadcast(WSMessage{
		Type:      "trade_executed",
		SessionID: id,
		Symbol:    sym,
		Action:    string(action),
		Shares:    res.Shares,
		Price:     res.Price.String(),
		Amount:    res.Amount.String(),
		Cash:      res.Cash.String(),
	})
	if samples := st.ledger.Samples(); len(samples) > 0 {
		s.broadcastValuation(id, samples[len(samples)-1])
	}

	writeJSON(w, http.StatusOK, res)
}

// reject counts a refused trade and writes the error.
func (s *Service) reject(w http.ResponseWriter, action model.Action, err error) {
	_, code := classify(err)
	metrics.TradeRejections.WithLabelValues(string(action), code).Inc()
	slog.Info("trade rejected", "action", string(action), "code", code, "err", err)
	writeErr(w, err)
}

func (s *Service) broadcastValuation(id string, v model.ValuationSample) {
	s.broadcast(WSMessage{
		Type:       "valuation",
		SessionID:  id,
		TotalValue: v.TotalValue.String(),
	})
}

// --- Dividends and valuation ---

// AccrueDividends handles POST /api/v1/sessions/{sessionID}/dividends/accrue
// Credits one day of dividends for today's date; repeating it the same day
// pays nothing further.
func (s *Service) AccrueDividends(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	credits, err := s.accrue(r.Context(), id, s.cfg.Now())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, credits)
}

// Refresh handles POST /api/v1/sessions/{sessionID}/refresh
// Records a valuation sample and refreshes watchlist prices.
func (s *Service) Refresh(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	ctx := r.Context()

	var resp RefreshResponse
	if _, err := s.mutate(ctx, id, func(st *state) error {
		resp.Sample = st.ledger.Sample(ctx, s.quotes)
		resp.Refreshed = st.watchlist.Refresh(ctx, s.quotes, s.cfg.Now())
		return nil
	}); err != nil {
		writeErr(w, err)
		return
	}

	s.broadcastValuation(id, resp.Sample)
	writeJSON(w, http.StatusOK, resp)
}

// GetTrades handles GET /api/v1/sessions/{sessionID}/trades
// Optional ?symbol= and ?action= filters narrow the log.
func (s *Service) GetTrades(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	var sym string
	if raw := r.URL.Query().Get("symbol"); raw != "" {
		var err error
		if sym, err = normalizeSymbol(raw); err != nil {
			writeErr(w, err)
			return
		}
	}
	action := model.Action(strings.ToUpper(r.URL.Query().Get("action")))
	if action != "" && !action.Valid() {
		writeErr(w, fmt.Errorf("%w: action must be BUY or SELL", ledger.ErrInvalidInput))
		return
	}

	st, err := s.load(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st.ledger.Log().Filter(sym, action))
}

// GetSamples handles GET /api/v1/sessions/{sessionID}/samples
func (s *Service) GetSamples(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	st, err := s.load(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	samples := st.ledger.Samples()
	if samples == nil {
		samples = []model.ValuationSample{}
	}
	writeJSON(w, http.StatusOK, SamplesResponse{
		Samples: samples,
		Summary: st.ledger.Recorder().Summary(),
	})
}

// --- Watchlist ---

// GetWatchlist handles GET /api/v1/sessions/{sessionID}/watchlist
func (s *Service) GetWatchlist(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	st, err := s.load(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	entries := st.watchlist.Entries()
	if entries == nil {
		entries = []model.WatchlistEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// AddToWatchlist handles POST /api/v1/sessions/{sessionID}/watchlist
// Name, price and yield are captured from the provider on a best-effort
// basis; a failed lookup leaves the field at its zero value.
func (s *Service) AddToWatchlist(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	ctx := r.Context()

	var req WatchRequest
	if err := decode(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	sym, err := normalizeSymbol(req.Symbol)
	if err != nil {
		writeErr(w, err)
		return
	}

	entry := model.WatchlistEntry{Symbol: sym, UpdatedAt: s.cfg.Now()}
	entry.Name, _ = s.quotes.Name(ctx, sym)
	if price, err := s.quotes.Price(ctx, sym); err == nil {
		entry.LastPrice = price
	}
	if y, err := s.quotes.Yield(ctx, sym); err == nil {
		entry.DividendYield = y
	}

	if _, err := s.mutate(ctx, id, func(st *state) error {
		return st.watchlist.Add(entry)
	}); err != nil {
		writeErr(w, err)
		return
	}

	slog.Info("watchlist add", "session", id, "symbol", sym)
	writeJSON(w, http.StatusCreated, entry)
}

// RemoveFromWatchlist handles DELETE /api/v1/sessions/{sessionID}/watchlist/{symbol}
func (s *Service) RemoveFromWatchlist(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	sym, err := normalizeSymbol(chi.URLParam(r, "symbol"))
	if err != nil {
		writeErr(w, err)
		return
	}

	if _, err := s.mutate(r.Context(), id, func(st *state) error {
		if !st.watchlist.Remove(sym) {
			return fmt.Errorf("%w: %s", errNotWatched, sym)
		}
		return nil
	}); err != nil {
		writeErr(w, err)
		return
	}

	slog.Info("watchlist remove", "session", id, "symbol", sym)
	w.WriteHeader(http.StatusNoContent)
}

// --- Market data ---

// Search handles GET /api/v1/search?q=
func (s *Service) Search(w http.ResponseWriter, r *http.Request) {
	matches, err := s.quotes.Search(r.Context(), strings.TrimSpace(r.URL.Query().Get("q")))
	if err != nil {
		writeErr(w, err)
		return
	}
	if matches == nil {
		matches = []model.SymbolMatch{}
	}
	writeJSON(w, http.StatusOK, matches)
}

// GetQuote handles GET /api/v1/quotes/{symbol}
func (s *Service) GetQuote(w http.ResponseWriter, r *http.Request) {
	sym, err := normalizeSymbol(chi.URLParam(r, "symbol"))
	if err != nil {
		writeErr(w, err)
		return
	}
	price, err := s.quotes.Price(r.Context(), sym)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !price.IsPositive() {
		writeErr(w, errors.Join(ledger.ErrQuoteUnavailable, fmt.Errorf("non-positive price for %s", sym)))
		return
	}
	writeJSON(w, http.StatusOK, QuoteResponse{Symbol: sym, Price: price})
}

// Routes mounts the session and market data endpoints on r.
func (s *Service) Routes(r chi.Router) {
	r.Post("/sessions", s.CreateSession)
	r.Route("/sessions/{sessionID}", func(r chi.Router) {
		r.Get("/", s.GetPortfolio)
		r.Delete("/", s.DeleteSession)
		r.Post("/cash", s.AddCash)
		r.Post("/buy", s.Buy)
		r.Post("/sell", s.Sell)
		r.Post("/dividends/accrue", s.AccrueDividends)
		r.Post("/refresh", s.Refresh)
		r.Get("/trades", s.GetTrades)
		r.Get("/samples", s.GetSamples)
		r.Get("/watchlist", s.GetWatchlist)
		r.Post("/watchlist", s.AddToWatchlist)
		r.Delete("/watchlist/{symbol}", s.RemoveFromWatchlist)
	})
	r.Get("/search", s.Search)
	r.Get("/quotes/{symbol}", s.GetQuote)
}
