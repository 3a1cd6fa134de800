package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ResetType selects what a successful attempt does to the failure history.
type ResetType int

const (
	// ResetInstant forgets every recorded failure.
	ResetInstant ResetType = iota
	// ResetDecay forgives a single failure and lifts the current delay.
	ResetDecay
)

// DefaultLoginTimeouts is the escalation sequence applied to login failures.
var DefaultLoginTimeouts = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
	16 * time.Second,
	30 * time.Second,
	60 * time.Second,
	180 * time.Second,
	300 * time.Second,
	600 * time.Second,
}

// ThrottlerConfig tunes a [Throttler].
type ThrottlerConfig struct {
	Name string
	// Timeouts is indexed by the number of failures past Grace. The last
	// entry repeats once the sequence is exhausted.
	Timeouts []time.Duration
	// Grace failures are recorded without imposing any delay.
	Grace int
	// Cutoff discards failure history older than this. Zero keeps it until
	// the key expires.
	Cutoff    time.Duration
	ResetType ResetType
}

func (c ThrottlerConfig) validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: throttler name is required", ErrInvalidConfig)
	}
	if len(c.Timeouts) == 0 {
		return fmt.Errorf("%w: throttler %s needs at least one timeout", ErrInvalidConfig, c.Name)
	}
	for i, d := range c.Timeouts {
		if d <= 0 {
			return fmt.Errorf("%w: throttler %s timeout %d must be > 0", ErrInvalidConfig, c.Name, i)
		}
	}
	if c.Grace < 0 {
		return fmt.Errorf("%w: throttler %s grace must be >= 0", ErrInvalidConfig, c.Name)
	}
	if c.Cutoff < 0 {
		return fmt.Errorf("%w: throttler %s cutoff must be >= 0", ErrInvalidConfig, c.Name)
	}
	if c.ResetType != ResetInstant && c.ResetType != ResetDecay {
		return fmt.Errorf("%w: throttler %s reset type unknown", ErrInvalidConfig, c.Name)
	}
	return nil
}

// KEYS[1] throttle key
// ARGV: now ms, cutoff ms
// returns remaining wait in ms, 0 when allowed
var throttleCheckScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local cutoff = tonumber(ARGV[2])

local state = redis.call("HMGET", KEYS[1], "attempts", "next_allowed", "last_failure")
if state[1] == false then
	return 0
end

local nextAllowed = tonumber(state[2]) or 0
local lastFailure = tonumber(state[3]) or 0
if cutoff > 0 and now - lastFailure > cutoff then
	redis.call("DEL", KEYS[1])
	return 0
end

if now < nextAllowed then
	return nextAllowed - now
end
return 0
`)

// KEYS[1] throttle key
// ARGV: now ms, grace, cutoff ms, ttl ms, timeouts ms...
// returns the delay imposed by this failure in ms
var throttleIncrementScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local grace = tonumber(ARGV[2])
local cutoff = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])
local steps = #ARGV - 4

local state = redis.call("HMGET", KEYS[1], "attempts", "last_failure")
local attempts = tonumber(state[1]) or 0
local lastFailure = tonumber(state[2]) or 0
if attempts > 0 and cutoff > 0 and now - lastFailure > cutoff then
	attempts = 0
end

attempts = attempts + 1
local delay = 0
if attempts > grace then
	local idx = attempts - grace
	if idx > steps then
		idx = steps
	end
	delay = tonumber(ARGV[4 + idx])
end

redis.call("HSET", KEYS[1], "attempts", attempts, "next_allowed", now + delay, "last_failure", now)
if delay > ttl then
	ttl = delay
end
redis.call("PEXPIRE", KEYS[1], ttl)
return delay
`)

// KEYS[1] throttle key
// ARGV: now ms, grace, cutoff ms, ttl ms, timeouts ms...
// returns the remaining wait in ms when refused, 0 when the attempt was
// admitted and charged
var throttleAttemptScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local grace = tonumber(ARGV[2])
local cutoff = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])
local steps = #ARGV - 4

local state = redis.call("HMGET", KEYS[1], "attempts", "next_allowed", "last_failure")
local attempts = tonumber(state[1]) or 0
local nextAllowed = tonumber(state[2]) or 0
local lastFailure = tonumber(state[3]) or 0
if attempts > 0 and cutoff > 0 and now - lastFailure > cutoff then
	attempts = 0
	nextAllowed = 0
end

if now < nextAllowed then
	return nextAllowed - now
end

attempts = attempts + 1
local delay = 0
if attempts > grace then
	local idx = attempts - grace
	if idx > steps then
		idx = steps
	end
	delay = tonumber(ARGV[4 + idx])
end

redis.call("HSET", KEYS[1], "attempts", attempts, "next_allowed", now + delay, "last_failure", now)
if delay > ttl then
	ttl = delay
end
redis.call("PEXPIRE", KEYS[1], ttl)
return 0
`)

// KEYS[1] throttle key
// ARGV: now ms, failures to forgive
var throttleDecayScript = redis.NewScript(`
local attempts = tonumber(redis.call("HGET", KEYS[1], "attempts"))
local forgive = tonumber(ARGV[2])
if attempts == nil or attempts <= forgive then
	redis.call("DEL", KEYS[1])
	return 0
end
redis.call("HSET", KEYS[1], "attempts", attempts - forgive, "next_allowed", tonumber(ARGV[1]))
return attempts - forgive
`)

// Throttler imposes escalating delays after repeated failures on one key.
type Throttler struct {
	redis  redis.UniversalClient
	config ThrottlerConfig
	now    func() time.Time
	ttl    time.Duration
}

// NewThrottler creates a [Throttler] backed by client.
func NewThrottler(client redis.UniversalClient, cfg ThrottlerConfig, opts ...Option) (*Throttler, error) {
	if client == nil {
		return nil, ErrInvalidConfig
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.Timeouts = append([]time.Duration(nil), cfg.Timeouts...)

	// Without a cutoff, keep state long enough to outlive the longest delay.
	ttl := cfg.Cutoff
	if ttl == 0 {
		for _, d := range cfg.Timeouts {
			ttl = max(ttl, 2*d)
		}
	}

	o := buildOptions(opts)
	return &Throttler{
		redis:  client,
		config: cfg,
		now:    o.now,
		ttl:    ttl,
	}, nil
}

// Check reports whether key may attempt now.
func (t *Throttler) Check(ctx context.Context, key string) (bool, error) {
	wait, err := t.RetryAfter(ctx, key)
	if err != nil {
		return false, err
	}
	return wait == 0, nil
}

// RetryAfter returns how long key must wait before its next attempt.
func (t *Throttler) RetryAfter(ctx context.Context, key string) (time.Duration, error) {
	ms, err := throttleCheckScript.Run(ctx, t.redis,
		[]string{throttleKey(t.config.Name, key)},
		t.now().UnixMilli(),
		t.config.Cutoff.Milliseconds(),
	).Int64()
	if err != nil {
		return 0, unavailable(err)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// Increment records a failure and returns the delay it imposed.
func (t *Throttler) Increment(ctx context.Context, key string) (time.Duration, error) {
	ms, err := throttleIncrementScript.Run(ctx, t.redis, []string{throttleKey(t.config.Name, key)}, t.failureArgs()...).Int64()
	if err != nil {
		return 0, unavailable(err)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// Attempt admits key when no delay is pending and records the attempt as a
// failure in the same step, so concurrent attempts on one key escalate
// exactly like sequential ones. A positive result is the wait before key
// may try again. Admitted attempts that turn out valid call Succeed.
func (t *Throttler) Attempt(ctx context.Context, key string) (time.Duration, error) {
	ms, err := throttleAttemptScript.Run(ctx, t.redis, []string{throttleKey(t.config.Name, key)}, t.failureArgs()...).Int64()
	if err != nil {
		return 0, unavailable(err)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// Reset is called after a successful attempt that was checked with
// RetryAfter or Check.
func (t *Throttler) Reset(ctx context.Context, key string) error {
	return t.settle(ctx, key, 1)
}

// Succeed settles an attempt admitted by Attempt. With ResetDecay it also
// takes back the failure Attempt recorded.
func (t *Throttler) Succeed(ctx context.Context, key string) error {
	return t.settle(ctx, key, 2)
}

func (t *Throttler) settle(ctx context.Context, key string, forgive int) error {
	k := throttleKey(t.config.Name, key)
	if t.config.ResetType == ResetInstant {
		return resetKey(ctx, t.redis, k)
	}
	if err := throttleDecayScript.Run(ctx, t.redis, []string{k}, t.now().UnixMilli(), forgive).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (t *Throttler) failureArgs() []any {
	args := make([]any, 0, 4+len(t.config.Timeouts))
	args = append(args,
		t.now().UnixMilli(),
		t.config.Grace,
		t.config.Cutoff.Milliseconds(),
		t.ttl.Milliseconds(),
	)
	for _, d := range t.config.Timeouts {
		args = append(args, d.Milliseconds())
	}
	return args
}
