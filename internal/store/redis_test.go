package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/paper-broker/internal/model"
)

func newCachedStore(t *testing.T, primary Store) (*CachedStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewCachedStore(primary, rdb, time.Minute), mr
}

// pausingStore holds GetSession after the primary read until released.
type pausingStore struct {
	*MemoryStore
	fetched chan struct{}
	release chan struct{}
}

func (p *pausingStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	sess, err := p.MemoryStore.GetSession(ctx, id)
	close(p.fetched)
	<-p.release
	return sess, err
}

func TestCachedStore_CreateCachesAndSaveInvalidates(t *testing.T) {
	ctx := context.Background()
	cs, mr := newCachedStore(t, NewMemoryStore())

	if err := cs.CreateSession(ctx, newSession("s1")); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if !mr.Exists(sessionKey("s1")) {
		t.Fatal("expected session cached after create")
	}

	got, err := cs.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Account.Positions == nil || got.Account.Dividends == nil {
		t.Error("cached session decoded with nil maps")
	}

	got.Account.Cash = d("250")
	if err := cs.SaveSession(ctx, got); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	if mr.Exists(sessionKey("s1")) {
		t.Error("expected cache entry invalidated by save")
	}

	again, _ := cs.GetSession(ctx, "s1")
	if !again.Account.Cash.Equal(d("250")) {
		t.Errorf("cash = %s, want 250", again.Account.Cash)
	}
	if !mr.Exists(sessionKey("s1")) {
		t.Error("expected read to repopulate the cache")
	}

	if err := cs.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if mr.Exists(sessionKey("s1")) {
		t.Error("expected cache entry removed by delete")
	}
	if _, err := cs.GetSession(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetSession after delete err = %v, want ErrNotFound", err)
	}
}

func TestCachedStore_ForUpdateIgnoresStaleCache(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	if err := mem.CreateSession(ctx, newSession("s1")); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	primary := &pausingStore{MemoryStore: mem, fetched: make(chan struct{}), release: make(chan struct{})}
	cs, mr := newCachedStore(t, primary)

	// A cache-miss read fetches the old copy, then a save commits before the
	// read writes its copy back into Redis.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		cs.GetSession(ctx, "s1")
	}()
	<-primary.fetched

	updated := newSession("s1")
	updated.Account.Cash = d("400")
	updated.Account.Positions["AAPL"] = 4
	updated.Trades = []model.Trade{{ID: "t1", Action: model.ActionBuy, Symbol: "AAPL", Shares: 4, Price: d("150"), Amount: d("600")}}
	if err := cs.SaveSession(ctx, updated); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	close(primary.release)
	<-readDone

	if !mr.Exists(sessionKey("s1")) {
		t.Fatal("expected the late read to have cached its copy")
	}

	got, err := cs.GetSessionForUpdate(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSessionForUpdate: %v", err)
	}
	if !got.Account.Cash.Equal(d("400")) {
		t.Errorf("cash = %s, want 400", got.Account.Cash)
	}
	if len(got.Trades) != 1 || got.Account.Positions["AAPL"] != 4 {
		t.Errorf("stale session returned: trades=%d positions=%v", len(got.Trades), got.Account.Positions)
	}
}

func TestCachedStore_ListPassesThrough(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	_ = mem.CreateSession(ctx, newSession("b"))
	_ = mem.CreateSession(ctx, newSession("a"))
	cs, _ := newCachedStore(t, mem)

	ids, err := cs.ListSessionIDs(ctx)
	if err != nil {
		t.Fatalf("ListSessionIDs: %v", err)
	}
	if len(ids) != 2 || ids[0] != "a" {
		t.Errorf("ListSessionIDs = %v, want [a b]", ids)
	}
}
