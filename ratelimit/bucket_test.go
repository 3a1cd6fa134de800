package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func drain(t *testing.T, l Limiter, key string, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		ok, err := l.Check(ctx, key, 1)
		if err != nil {
			t.Fatalf("check %d: %v", i+1, err)
		}
		if !ok {
			t.Fatalf("check %d denied, want allowed", i+1)
		}
	}
}

func expectDenied(t *testing.T, l Limiter, key string) {
	t.Helper()
	ok, err := l.Check(context.Background(), key, 1)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if ok {
		t.Fatal("check allowed, want denied")
	}
}

func TestConstantRefillBucketMaxThenRefillOne(t *testing.T) {
	_, rdb := newTestRedis(t)
	clock := newFakeClock()

	b, err := NewConstantRefillBucket(rdb, BucketConfig{Name: "resend", Max: 5, Interval: time.Minute}, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewConstantRefillBucket: %v", err)
	}

	drain(t, b, "user-1", 5)
	expectDenied(t, b, "user-1")

	clock.Advance(time.Minute)
	drain(t, b, "user-1", 1)
	expectDenied(t, b, "user-1")
}

func TestConstantRefillBucketKeepsPartialIntervalProgress(t *testing.T) {
	_, rdb := newTestRedis(t)
	clock := newFakeClock()

	b, err := NewConstantRefillBucket(rdb, BucketConfig{Name: "resend", Max: 2, Interval: time.Minute}, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewConstantRefillBucket: %v", err)
	}

	drain(t, b, "k", 2)
	clock.Advance(90 * time.Second)
	drain(t, b, "k", 1)
	expectDenied(t, b, "k")

	// 30s remain of the interval that started at +60s.
	clock.Advance(30 * time.Second)
	drain(t, b, "k", 1)
}

func TestConstantRefillBucketCapsAtMax(t *testing.T) {
	_, rdb := newTestRedis(t)
	clock := newFakeClock()

	b, err := NewConstantRefillBucket(rdb, BucketConfig{Name: "cap", Max: 3, Interval: time.Second}, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewConstantRefillBucket: %v", err)
	}

	drain(t, b, "k", 1)
	clock.Advance(time.Hour)
	drain(t, b, "k", 3)
	expectDenied(t, b, "k")
}

func TestFixedRefillBucketRestoresMaxAfterInterval(t *testing.T) {
	_, rdb := newTestRedis(t)
	clock := newFakeClock()

	b, err := NewFixedRefillBucket(rdb, BucketConfig{Name: "verify", Max: 5, Interval: 30 * time.Minute}, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewFixedRefillBucket: %v", err)
	}

	drain(t, b, "user-1", 5)
	expectDenied(t, b, "user-1")

	clock.Advance(29 * time.Minute)
	expectDenied(t, b, "user-1")

	clock.Advance(time.Minute)
	drain(t, b, "user-1", 5)
	expectDenied(t, b, "user-1")
}

func TestBucketDeniedCheckDoesNotMutate(t *testing.T) {
	_, rdb := newTestRedis(t)
	clock := newFakeClock()

	b, err := NewConstantRefillBucket(rdb, BucketConfig{Name: "cost", Max: 4, Interval: time.Minute}, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewConstantRefillBucket: %v", err)
	}

	ctx := context.Background()
	ok, err := b.Check(ctx, "k", 3)
	if err != nil || !ok {
		t.Fatalf("cost 3 check = %v, %v; want allowed", ok, err)
	}
	ok, err = b.Check(ctx, "k", 2)
	if err != nil || ok {
		t.Fatalf("cost 2 check = %v, %v; want denied", ok, err)
	}
	remaining, err := b.Remaining(ctx, "k")
	if err != nil {
		t.Fatalf("Remaining: %v", err)
	}
	if remaining != 1 {
		t.Fatalf("remaining = %d, want 1", remaining)
	}
}

func TestBucketCostAboveMaxAlwaysFails(t *testing.T) {
	_, rdb := newTestRedis(t)

	b, err := NewFixedRefillBucket(rdb, BucketConfig{Name: "big", Max: 2, Interval: time.Minute})
	if err != nil {
		t.Fatalf("NewFixedRefillBucket: %v", err)
	}
	ok, err := b.Check(context.Background(), "k", 3)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if ok {
		t.Fatal("expected cost above max to be denied")
	}
}

func TestBucketIncrementAndReset(t *testing.T) {
	_, rdb := newTestRedis(t)
	clock := newFakeClock()

	b, err := NewConstantRefillBucket(rdb, BucketConfig{Name: "inc", Max: 2, Interval: time.Minute}, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewConstantRefillBucket: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := b.Increment(ctx, "k"); err != nil {
			t.Fatalf("Increment: %v", err)
		}
	}
	expectDenied(t, b, "k")

	remaining, err := b.Remaining(ctx, "k")
	if err != nil {
		t.Fatalf("Remaining: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("remaining = %d, want 0 (floored)", remaining)
	}

	if err := b.Reset(ctx, "k"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	drain(t, b, "k", 2)
}

func TestBucketKeysAreIndependent(t *testing.T) {
	_, rdb := newTestRedis(t)

	b, err := NewFixedRefillBucket(rdb, BucketConfig{Name: "ind", Max: 1, Interval: time.Minute})
	if err != nil {
		t.Fatalf("NewFixedRefillBucket: %v", err)
	}
	drain(t, b, "a", 1)
	expectDenied(t, b, "a")
	drain(t, b, "b", 1)
}

func TestBucketSetsStoreExpiry(t *testing.T) {
	mr, rdb := newTestRedis(t)
	clock := newFakeClock()

	b, err := NewFixedRefillBucket(rdb, BucketConfig{Name: "ttl", Max: 3, Interval: 10 * time.Minute}, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewFixedRefillBucket: %v", err)
	}
	drain(t, b, "k", 1)

	ttl := mr.TTL(bucketKey("ttl", "k"))
	if ttl <= 0 || ttl > 10*time.Minute {
		t.Fatalf("ttl = %v, want (0, 10m]", ttl)
	}
}

func TestBucketConcurrentChecksNeverOverspend(t *testing.T) {
	_, rdb := newTestRedis(t)

	b, err := NewFixedRefillBucket(rdb, BucketConfig{Name: "race", Max: 10, Interval: time.Hour})
	if err != nil {
		t.Fatalf("NewFixedRefillBucket: %v", err)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := b.Check(context.Background(), "shared", 1)
			if err != nil {
				t.Errorf("Check: %v", err)
				return
			}
			if ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 10 {
		t.Fatalf("allowed = %d, want 10", allowed)
	}
}

func TestBucketFailsClosedWhenStoreUnavailable(t *testing.T) {
	mr, rdb := newTestRedis(t)

	b, err := NewConstantRefillBucket(rdb, BucketConfig{Name: "down", Max: 5, Interval: time.Minute})
	if err != nil {
		t.Fatalf("NewConstantRefillBucket: %v", err)
	}
	mr.Close()

	ok, err := b.Check(context.Background(), "k", 1)
	if ok {
		t.Fatal("expected denial when store is down")
	}
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestBucketConfigValidation(t *testing.T) {
	_, rdb := newTestRedis(t)

	cases := []BucketConfig{
		{Name: "", Max: 1, Interval: time.Second},
		{Name: "x", Max: 0, Interval: time.Second},
		{Name: "x", Max: 1, Interval: 0},
	}
	for _, cfg := range cases {
		if _, err := NewConstantRefillBucket(rdb, cfg); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("config %+v: err = %v, want ErrInvalidConfig", cfg, err)
		}
	}
	if _, err := NewFixedRefillBucket(nil, BucketConfig{Name: "x", Max: 1, Interval: time.Second}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("nil client: err = %v, want ErrInvalidConfig", err)
	}
}
