package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter is the contract shared by both token bucket variants.
type Limiter interface {
	// Check debits cost tokens from key when enough are available.
	// It reports false without touching the stored state otherwise.
	Check(ctx context.Context, key string, cost int) (bool, error)
	// Increment debits a single token unconditionally, flooring at zero.
	Increment(ctx context.Context, key string) error
	// Reset forgets all state stored for key.
	Reset(ctx context.Context, key string) error
}

// BucketConfig describes one named bucket family.
type BucketConfig struct {
	Name     string
	Max      int
	Interval time.Duration
}

func (c BucketConfig) validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: bucket name is required", ErrInvalidConfig)
	}
	if c.Max <= 0 {
		return fmt.Errorf("%w: bucket %s max must be > 0", ErrInvalidConfig, c.Name)
	}
	if c.Interval < time.Millisecond {
		return fmt.Errorf("%w: bucket %s interval must be >= 1ms", ErrInvalidConfig, c.Name)
	}
	return nil
}

// Option customises a limiter at construction time.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now. Tests use it to move time forward without
// sleeping.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func bucketKey(name, key string) string {
	return "rl:" + name + ":" + key
}

func throttleKey(name, key string) string {
	return "th:" + name + ":" + key
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func resetKey(ctx context.Context, client redis.UniversalClient, key string) error {
	if err := client.Del(ctx, key).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}
