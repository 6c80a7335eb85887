// Package trade provides the HTTP handlers and business logic for
// brokerage sessions: funding, buying, selling, dividends, valuation
// history and the watchlist.
//
// All monetary values use shopspring/decimal, never float64.
package trade

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/paper-broker/internal/ledger"
	"github.com/atmx/paper-broker/internal/metrics"
	"github.com/atmx/paper-broker/internal/model"
	"github.com/atmx/paper-broker/internal/quote"
	"github.com/atmx/paper-broker/internal/store"
	"github.com/atmx/paper-broker/internal/symbol"
)

// Quotes is the market data the service needs. *quote.Guarded satisfies it.
type Quotes interface {
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
	Search(ctx context.Context, query string) ([]model.SymbolMatch, error)
	Yield(ctx context.Context, symbol string) (decimal.Decimal, error)
	Name(ctx context.Context, symbol string) (string, error)
}

// Config tunes a Service. Zero values select defaults.
type Config struct {
	StartingCash decimal.Decimal
	SampleLimit  int
	Now          func() time.Time
	NewID        func() string
}

// Service handles session operations. Uses a mutex for serialized
// mutations (single-instance). For horizontal scaling, replace with
// distributed locking or database-level optimistic concurrency.
type Service struct {
	store  store.Store
	quotes Quotes
	cfg    Config
	mu     sync.Mutex
	wsHub  *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new trade service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, quotes Quotes, hub *WSHub, cfg Config) *Service {
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.NewID == nil {
		cfg.NewID = func() string { return uuid.New().String() }
	}
	if cfg.StartingCash.IsNegative() {
		cfg.StartingCash = decimal.Zero
	}
	return &Service{
		store:  st,
		quotes: quotes,
		cfg:    cfg,
		wsHub:  hub,
	}
}

// errNotWatched is returned when removing a symbol absent from the watchlist.
var errNotWatched = errors.New("symbol not in watchlist")

// state is one loaded session with its ledger and watchlist rebuilt.
type state struct {
	sess      *model.Session
	ledger    *ledger.Ledger
	watchlist *ledger.Watchlist
}

func (s *Service) ledgerOptions() ledger.Options {
	return ledger.Options{SampleLimit: s.cfg.SampleLimit, Now: s.cfg.Now, NewID: s.cfg.NewID}
}

// load reads a session for display; it may be served from a cache.
func (s *Service) load(ctx context.Context, id string) (*state, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.restore(sess), nil
}

func (s *Service) restore(sess *model.Session) *state {
	return &state{
		sess:      sess,
		ledger:    ledger.Restore(sess.Account, sess.Trades, sess.Samples, s.ledgerOptions()),
		watchlist: ledger.NewWatchlist(sess.Watchlist),
	}
}

// mutate loads the authoritative copy of a session, applies fn and
// persists the result. Nothing is written when fn fails, so every operation
// applies in full or not at all.
func (s *Service) mutate(ctx context.Context, id string, fn func(st *state) error) (*state, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.store.GetSessionForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	st := s.restore(sess)
	if err := fn(st); err != nil {
		return nil, err
	}
	st.ledger.SaveTo(st.sess)
	st.sess.Watchlist = st.watchlist.Entries()
	if err := s.store.SaveSession(ctx, st.sess); err != nil {
		return nil, fmt.Errorf("persist session %s: %w", id, err)
	}
	return st, nil
}

// createSession opens a new session funded with the configured starting cash.
func (s *Service) createSession(ctx context.Context) (*model.Session, error) {
	sess := &model.Session{
		ID:        s.cfg.NewID(),
		CreatedAt: s.cfg.Now(),
		Account:   model.NewAccount(s.cfg.StartingCash),
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	metrics.ActiveSessions.Inc()
	slog.Info("session created", "session", sess.ID, "cash", sess.Account.Cash.String())
	return sess, nil
}

// SeedSessionGauge sets the active-session gauge from the store, so
// sessions persisted before a restart are counted.
func (s *Service) SeedSessionGauge(ctx context.Context) (int, error) {
	ids, err := s.store.ListSessionIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}
	metrics.ActiveSessions.Set(float64(len(ids)))
	return len(ids), nil
}

// yields collects the annual dividend yield for every held symbol. The
// provider's figure wins; the watchlist fills gaps.
func (s *Service) yields(ctx context.Context, held []string, wl *ledger.Watchlist) map[string]decimal.Decimal {
	out := wl.Yields()
	for _, sym := range held {
		y, err := s.quotes.Yield(ctx, sym)
		if err != nil || !y.IsPositive() {
			continue
		}
		out[sym] = y
	}
	return out
}

// accrue credits one day of dividends to a session and samples its value
// when anything was paid.
func (s *Service) accrue(ctx context.Context, id string, today time.Time) ([]ledger.Credit, error) {
	var credits []ledger.Credit
	st, err := s.mutate(ctx, id, func(st *state) error {
		ys := s.yields(ctx, st.ledger.Held(), st.watchlist)
		credits = st.ledger.AccrueDaily(ctx, s.quotes, ys, today)
		if len(credits) > 0 {
			st.ledger.Sample(ctx, s.quotes)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if credits == nil {
		credits = []ledger.Credit{}
	}

	for _, c := range credits {
		metrics.DividendsCredited.Inc()
		slog.Info("dividend credited",
			"session", id,
			"symbol", c.Symbol,
			"shares", c.Shares,
			"yield", c.Yield.String(),
			"amount", c.Amount.String(),
			"date", c.Date,
		)
		s.broadcast(WSMessage{
			Type:      "dividend",
			SessionID: id,
			Symbol:    c.Symbol,
			Shares:    c.Shares,
			Price:     c.Price.String(),
			Amount:    c.Amount.String(),
			Cash:      st.ledger.Cash().String(),
		})
	}
	return credits, nil
}

// AccrueAll credits one day of dividends to every stored session and
// returns the number of credits applied. A failing session is logged and
// skipped.
func (s *Service) AccrueAll(ctx context.Context, today time.Time) (int, error) {
	ids, err := s.store.ListSessionIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}
	n := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		credits, err := s.accrue(ctx, id, today)
		if err != nil {
			slog.Error("dividend accrual failed", "session", id, "err", err)
			continue
		}
		n += len(credits)
	}
	return n, nil
}

func (s *Service) broadcast(msg WSMessage) {
	if s.wsHub != nil {
		s.wsHub.Broadcast(msg)
	}
}

// normalizeSymbol validates a ticker and tags failures as invalid input.
func normalizeSymbol(raw string) (string, error) {
	sym, err := symbol.Normalize(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ledger.ErrInvalidInput, err)
	}
	return sym, nil
}

// --- Error mapping ---

// errorResponse is the JSON body of every failed request.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// classify maps an error to its HTTP status and a stable code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "session_not_found"
	case errors.Is(err, errNotWatched):
		return http.StatusNotFound, "not_watched"
	case errors.Is(err, symbol.ErrInvalidSymbol):
		return http.StatusBadRequest, "invalid_symbol"
	case errors.Is(err, ledger.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return http.StatusConflict, "insufficient_funds"
	case errors.Is(err, ledger.ErrNoPosition):
		return http.StatusConflict, "no_position"
	case errors.Is(err, ledger.ErrQuoteUnavailable), errors.Is(err, quote.ErrUnavailable):
		return http.StatusServiceUnavailable, "quote_unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// writeErr writes the response for err, hiding internal details.
func writeErr(w http.ResponseWriter, err error) {
	status, code := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "err", err)
		msg = "internal error"
	}
	writeError(w, msg, code, status)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message, code string, status int) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
