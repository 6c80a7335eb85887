package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/paper-broker/internal/ledger"
	"github.com/atmx/paper-broker/internal/model"
)

// Schema creates the session tables. Trades are append-only; positions are
// never stored and are rebuilt from the trade log on load.
const Schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id          TEXT PRIMARY KEY,
    cash        NUMERIC NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS trades (
    seq         BIGSERIAL,
    id          TEXT PRIMARY KEY,
    session_id  TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    timestamp   TIMESTAMPTZ NOT NULL,
    action      TEXT NOT NULL CHECK (action IN ('BUY', 'SELL')),
    symbol      TEXT NOT NULL,
    shares      BIGINT NOT NULL CHECK (shares > 0),
    price       NUMERIC NOT NULL,
    amount      NUMERIC NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_session ON trades(session_id, seq);

CREATE TABLE IF NOT EXISTS dividends (
    session_id     TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    symbol         TEXT NOT NULL,
    total          NUMERIC NOT NULL,
    last_credited  TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (session_id, symbol)
);

CREATE TABLE IF NOT EXISTS valuation_samples (
    session_id   TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    idx          INTEGER NOT NULL,
    ts           TIMESTAMPTZ NOT NULL,
    total_value  NUMERIC NOT NULL,
    PRIMARY KEY (session_id, idx)
);

CREATE TABLE IF NOT EXISTS watchlist (
    session_id      TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    idx             INTEGER NOT NULL,
    symbol          TEXT NOT NULL,
    name            TEXT NOT NULL,
    last_price      NUMERIC NOT NULL,
    dividend_yield  NUMERIC NOT NULL,
    updated_at      TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (session_id, symbol)
);
`

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// InitSchema ensures the session tables exist.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	return err
}

func (s *PostgresStore) CreateSession(ctx context.Context, sess *model.Session) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO sessions (id, cash, created_at) VALUES ($1, $2::NUMERIC, $3)`,
		sess.ID, sess.Account.Cash.String(), sess.CreatedAt,
	); err != nil {
		return fmt.Errorf("create session %s: %w", sess.ID, err)
	}
	if err := writeChildren(ctx, tx, sess); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) SaveSession(ctx context.Context, sess *model.Session) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE sessions SET cash = $2::NUMERIC WHERE id = $1`,
		sess.ID, sess.Account.Cash.String(),
	)
	if err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("save session %s: %w", sess.ID, ErrNotFound)
	}
	if err := writeChildren(ctx, tx, sess); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// writeChildren queues every dependent row in one batch. Trades are only
// ever inserted; samples and watchlist are replaced wholesale.
func writeChildren(ctx context.Context, tx pgx.Tx, sess *model.Session) error {
	b := &pgx.Batch{}

	for _, t := range sess.Trades {
		b.Queue(
			`INSERT INTO trades (id, session_id, timestamp, action, symbol, shares, price, amount)
			 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC)
			 ON CONFLICT (id) DO NOTHING`,
			t.ID, sess.ID, t.Timestamp, string(t.Action), t.Symbol, t.Shares,
			t.Price.String(), t.Amount.String(),
		)
	}

	for sym, rec := range sess.Account.Dividends {
		b.Queue(
			`INSERT INTO dividends (session_id, symbol, total, last_credited)
			 VALUES ($1, $2, $3::NUMERIC, $4)
			 ON CONFLICT (session_id, symbol)
			 DO UPDATE SET total = EXCLUDED.total, last_credited = EXCLUDED.last_credited`,
			sess.ID, sym, rec.Total.String(), rec.LastCredited,
		)
	}

	b.Queue(`DELETE FROM valuation_samples WHERE session_id = $1`, sess.ID)
	for i, v := range sess.Samples {
		b.Queue(
			`INSERT INTO valuation_samples (session_id, idx, ts, total_value)
			 VALUES ($1, $2, $3, $4::NUMERIC)`,
			sess.ID, i, v.Timestamp, v.TotalValue.String(),
		)
	}

	b.Queue(`DELETE FROM watchlist WHERE session_id = $1`, sess.ID)
	for i, w := range sess.Watchlist {
		b.Queue(
			`INSERT INTO watchlist (session_id, idx, symbol, name, last_price, dividend_yield, updated_at)
			 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7)`,
			sess.ID, i, w.Symbol, w.Name, w.LastPrice.String(), w.DividendYield.String(), w.UpdatedAt,
		)
	}

	br := tx.SendBatch(ctx, b)
	for i := 0; i < b.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("write session %s: %w", sess.ID, err)
		}
	}
	return br.Close()
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	sess := &model.Session{ID: id}
	var cashS string

	err := s.pool.QueryRow(ctx,
		`SELECT cash::TEXT, created_at FROM sessions WHERE id = $1`, id).
		Scan(&cashS, &sess.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	sess.Account = model.NewAccount(num(cashS))

	if sess.Trades, err = s.trades(ctx, id); err != nil {
		return nil, err
	}
	positions, _ := ledger.Replay(sess.Trades)
	sess.Account.Positions = positions

	if sess.Account.Dividends, err = s.dividends(ctx, id); err != nil {
		return nil, err
	}
	if sess.Samples, err = s.samples(ctx, id); err != nil {
		return nil, err
	}
	if sess.Watchlist, err = s.watchlist(ctx, id); err != nil {
		return nil, err
	}
	return sess, nil
}

// GetSessionForUpdate reads straight from the database. Writers are
// serialized by the caller, so no row lock is held across the save.
func (s *PostgresStore) GetSessionForUpdate(ctx context.Context, id string) (*model.Session, error) {
	return s.GetSession(ctx, id)
}

func (s *PostgresStore) DeleteSession(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete session %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ListSessionIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM sessions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) trades(ctx context.Context, sessionID string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, timestamp, action, symbol, shares, price::TEXT, amount::TEXT
		 FROM trades WHERE session_id = $1 ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load trades %s: %w", sessionID, err)
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var action, priceS, amountS string
		if err := rows.Scan(&t.ID, &t.Timestamp, &action, &t.Symbol, &t.Shares, &priceS, &amountS); err != nil {
			return nil, err
		}
		t.Action = model.Action(action)
		t.Price = num(priceS)
		t.Amount = num(amountS)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (s *PostgresStore) dividends(ctx context.Context, sessionID string) (map[string]model.DividendRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT symbol, total::TEXT, last_credited FROM dividends WHERE session_id = $1`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load dividends %s: %w", sessionID, err)
	}
	defer rows.Close()

	out := make(map[string]model.DividendRecord)
	for rows.Next() {
		var sym, totalS string
		var rec model.DividendRecord
		if err := rows.Scan(&sym, &totalS, &rec.LastCredited); err != nil {
			return nil, err
		}
		rec.Total = num(totalS)
		out[sym] = rec
	}
	return out, rows.Err()
}

func (s *PostgresStore) samples(ctx context.Context, sessionID string) ([]model.ValuationSample, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT ts, total_value::TEXT FROM valuation_samples
		 WHERE session_id = $1 ORDER BY idx`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load samples %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []model.ValuationSample
	for rows.Next() {
		var v model.ValuationSample
		var totalS string
		if err := rows.Scan(&v.Timestamp, &totalS); err != nil {
			return nil, err
		}
		v.TotalValue = num(totalS)
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *PostgresStore) watchlist(ctx context.Context, sessionID string) ([]model.WatchlistEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT symbol, name, last_price::TEXT, dividend_yield::TEXT, updated_at
		 FROM watchlist WHERE session_id = $1 ORDER BY idx`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load watchlist %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []model.WatchlistEntry
	for rows.Next() {
		var w model.WatchlistEntry
		var priceS, yieldS string
		if err := rows.Scan(&w.Symbol, &w.Name, &priceS, &yieldS, &w.UpdatedAt); err != nil {
			return nil, err
		}
		w.LastPrice = num(priceS)
		w.DividendYield = num(yieldS)
		out = append(out, w)
	}
	return out, rows.Err()
}

// num parses a NUMERIC rendered as text. The column types guarantee the
// format, so a parse failure yields zero.
func num(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}
