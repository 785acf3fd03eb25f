package lease

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestManager(t *testing.T) (*RedisManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisManager(client, ""), mr
}

func TestAcquireIsExclusive(t *testing.T) {
	ctx := context.Background()
	m, mr := newTestManager(t)

	if _, ok, err := m.Acquire(ctx, "orders", "worker-a", time.Minute); err != nil || !ok {
		t.Fatalf("acquire a: ok=%v err=%v", ok, err)
	}
	if got, _ := mr.Get("seqtracker:lease:orders"); got != "worker-a" {
		t.Errorf("expected stored owner worker-a, got %q", got)
	}

	if _, ok, err := m.Acquire(ctx, "orders", "worker-b", time.Minute); err != nil || ok {
		t.Fatalf("acquire b: expected not acquired, got ok=%v err=%v", ok, err)
	}
	if _, ok, err := m.Acquire(ctx, "payments", "worker-b", time.Minute); err != nil || !ok {
		t.Fatalf("acquire other tracker: ok=%v err=%v", ok, err)
	}
}

func TestRenewAndRelease(t *testing.T) {
	ctx := context.Background()
	m, mr := newTestManager(t)

	l, _, err := m.Acquire(ctx, "orders", "worker-a", time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := l.Renew(ctx, time.Minute); err != nil {
		t.Fatalf("renew: %v", err)
	}
	if ttl := mr.TTL("seqtracker:lease:orders"); ttl != time.Minute {
		t.Errorf("expected ttl 1m, got %s", ttl)
	}
	if err := l.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := l.Release(ctx); !errors.Is(err, ErrNotOwned) {
		t.Errorf("expected ErrNotOwned on double release, got %v", err)
	}
}

func TestRenewAfterExpiry(t *testing.T) {
	ctx := context.Background()
	m, mr := newTestManager(t)

	l, _, err := m.Acquire(ctx, "orders", "worker-a", time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	mr.FastForward(2 * time.Second)

	if _, ok, err := m.Acquire(ctx, "orders", "worker-b", time.Minute); err != nil || !ok {
		t.Fatalf("acquire after expiry: ok=%v err=%v", ok, err)
	}
	if err := l.Renew(ctx, time.Minute); !errors.Is(err, ErrNotOwned) {
		t.Errorf("expected ErrNotOwned, got %v", err)
	}
}
