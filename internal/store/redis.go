package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/paper-broker/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary. Cached reads may lag a
// save by up to the TTL; GetSessionForUpdate always reads the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateSession(ctx context.Context, sess *model.Session) error {
	if err := s.primary.CreateSession(ctx, sess); err != nil {
		return err
	}
	s.cacheSession(ctx, sess)
	return nil
}

func (s *CachedStore) SaveSession(ctx context.Context, sess *model.Session) error {
	if err := s.primary.SaveSession(ctx, sess); err != nil {
		return err
	}
	// Invalidate cache; next read will re-populate.
	s.rdb.Del(ctx, sessionKey(sess.ID))
	return nil
}

func (s *CachedStore) DeleteSession(ctx context.Context, id string) error {
	if err := s.primary.DeleteSession(ctx, id); err != nil {
		return err
	}
	s.rdb.Del(ctx, sessionKey(id))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	data, err := s.rdb.Get(ctx, sessionKey(id)).Bytes()
	if err == nil {
		var sess model.Session
		if json.Unmarshal(data, &sess) == nil {
			normalize(&sess)
			return &sess, nil
		}
	}

	// Cache miss: read from primary.
	sess, err := s.primary.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheSession(ctx, sess)
	return sess, nil
}

// --- Passthrough (not cached) ---

// GetSessionForUpdate bypasses Redis. A concurrent read can re-cache a copy
// older than the latest save, and a mutation must never start from one.
func (s *CachedStore) GetSessionForUpdate(ctx context.Context, id string) (*model.Session, error) {
	return s.primary.GetSessionForUpdate(ctx, id)
}

func (s *CachedStore) ListSessionIDs(ctx context.Context) ([]string, error) {
	return s.primary.ListSessionIDs(ctx)
}

// --- Cache helpers ---

func (s *CachedStore) cacheSession(ctx context.Context, sess *model.Session) {
	if data, err := json.Marshal(sess); err == nil {
		s.rdb.Set(ctx, sessionKey(sess.ID), data, s.ttl)
	}
}

// normalize restores the non-nil maps a decoded session may lack.
func normalize(sess *model.Session) {
	if sess.Account.Positions == nil {
		sess.Account.Positions = make(map[string]int64)
	}
	if sess.Account.Dividends == nil {
		sess.Account.Dividends = make(map[string]model.DividendRecord)
	}
}

func sessionKey(id string) string { return fmt.Sprintf("session:%s", id) }
