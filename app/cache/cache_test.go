package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/vibast-solutions/ms-go-isp-billing/app/provider"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	cli := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cli.Close() })
	return mr, cli
}

func TestRedisLockerExcludesSecondOwner(t *testing.T) {
	_, cli := newTestRedis(t)
	locker := NewRedisLocker(cli)
	ctx := context.Background()

	token, err := locker.TryLock(ctx, "jobs:sweep", time.Minute)
	if err != nil {
		t.Fatalf("expected lock, got %v", err)
	}
	if _, err := locker.TryLock(ctx, "jobs:sweep", time.Minute); !errors.Is(err, ErrLockHeld) {
		t.Fatalf("expected ErrLockHeld, got %v", err)
	}

	if err := locker.Unlock(ctx, "jobs:sweep", "someone-else"); err != nil {
		t.Fatalf("unlock with foreign token: %v", err)
	}
	if _, err := locker.TryLock(ctx, "jobs:sweep", time.Minute); !errors.Is(err, ErrLockHeld) {
		t.Fatalf("foreign token must not release the lock, got %v", err)
	}

	if err := locker.Unlock(ctx, "jobs:sweep", token); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if _, err := locker.TryLock(ctx, "jobs:sweep", time.Minute); err != nil {
		t.Fatalf("expected lock after release, got %v", err)
	}
}

func TestRedisLockerExpires(t *testing.T) {
	mr, cli := newTestRedis(t)
	locker := NewRedisLocker(cli)
	ctx := context.Background()

	if _, err := locker.TryLock(ctx, "jobs:sweep", time.Second); err != nil {
		t.Fatalf("expected lock, got %v", err)
	}
	mr.FastForward(2 * time.Second)
	if _, err := locker.TryLock(ctx, "jobs:sweep", time.Second); err != nil {
		t.Fatalf("expected lock after ttl, got %v", err)
	}
}

func TestTokenCacheNeverOutlivesToken(t *testing.T) {
	mr, cli := newTestRedis(t)
	c := NewTokenCache(cli)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	if err := c.Set(ctx, "mpesa:token:key", &provider.Token{Value: "tok", ExpiresAt: now.Add(time.Hour)}); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, err := c.Get(ctx, "mpesa:token:key")
	if err != nil || got == nil || got.Value != "tok" {
		t.Fatalf("expected cached token, got %+v %v", got, err)
	}
	if got.ExpiresAt.After(now.Add(time.Hour)) {
		t.Fatalf("cached expiry %s exceeds token lifetime", got.ExpiresAt)
	}

	mr.FastForward(time.Hour + time.Second)
	got, err = c.Get(ctx, "mpesa:token:key")
	if err != nil || got != nil {
		t.Fatalf("expected expired entry to be gone, got %+v %v", got, err)
	}
}

func TestTokenCacheSkipsExpiredToken(t *testing.T) {
	mr, cli := newTestRedis(t)
	c := NewTokenCache(cli)
	now := time.Now()
	c.now = func() time.Time { return now }

	if err := c.Set(context.Background(), "k", &provider.Token{Value: "old", ExpiresAt: now.Add(-time.Second)}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if mr.Exists("k") {
		t.Fatalf("expired token must not be stored")
	}
}
