// Package store defines the persistence interface for brokerage sessions.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (development and tests).
package store

import (
	"context"
	"errors"

	"github.com/atmx/paper-broker/internal/model"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("store: session not found")

// Store is the persistence interface. A session is loaded and saved as a
// whole; the trade log inside it is append-only.
type Store interface {
	// CreateSession persists a new session.
	CreateSession(ctx context.Context, s *model.Session) error

	// GetSession retrieves a session by its ID. The result may come from a
	// cache and lag the latest save.
	GetSession(ctx context.Context, id string) (*model.Session, error)

	// GetSessionForUpdate retrieves the authoritative copy of a session for
	// a read-modify-write. It never reads from a cache.
	GetSessionForUpdate(ctx context.Context, id string) (*model.Session, error)

	// SaveSession writes back account, trades, samples and watchlist.
	SaveSession(ctx context.Context, s *model.Session) error

	// DeleteSession ends a session and discards its state.
	DeleteSession(ctx context.Context, id string) error

	// ListSessionIDs returns the IDs of all stored sessions.
	ListSessionIDs(ctx context.Context) ([]string, error)
}
