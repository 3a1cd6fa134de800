package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// KEYS[1] bucket key
// ARGV: max, interval ms, cost, now ms, force (1 = debit what is there)
var constantRefillScript = redis.NewScript(`
local max = tonumber(ARGV[1])
local interval = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])
local force = ARGV[5] == "1"

local state = redis.call("HMGET", KEYS[1], "count", "refilled_at")
local count = tonumber(state[1])
local refilledAt = tonumber(state[2])
if count == nil or refilledAt == nil then
	count = max
	refilledAt = now
end

local refill = math.floor((now - refilledAt) / interval)
if refill > 0 then
	count = math.min(max, count + refill)
	refilledAt = refilledAt + refill * interval
end

if count < cost then
	if not force then
		return {0, count}
	end
	cost = count
end

count = count - cost
redis.call("HSET", KEYS[1], "count", count, "refilled_at", refilledAt)
redis.call("PEXPIRE", KEYS[1], (max - count) * interval + interval)
return {1, count}
`)

// KEYS[1] bucket key
// ARGV: max, interval ms, cost, now ms, force
var fixedRefillScript = redis.NewScript(`
local max = tonumber(ARGV[1])
local interval = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])
local force = ARGV[5] == "1"

local state = redis.call("HMGET", KEYS[1], "count", "refilled_at")
local count = tonumber(state[1])
local refilledAt = tonumber(state[2])
if count == nil or refilledAt == nil or now - refilledAt >= interval then
	count = max
	refilledAt = now
end

if count < cost then
	if not force then
		return {0, count}
	end
	cost = count
end

count = count - cost
redis.call("HSET", KEYS[1], "count", count, "refilled_at", refilledAt)
local ttl = refilledAt + interval - now
if ttl < 1 then
	ttl = 1
end
redis.call("PEXPIRE", KEYS[1], ttl)
return {1, count}
`)

type bucket struct {
	redis  redis.UniversalClient
	config BucketConfig
	script *redis.Script
	now    func() time.Time
}

// ConstantRefillBucket adds one token back every Interval up to Max.
type ConstantRefillBucket struct {
	bucket
}

// FixedRefillBucket restores the full Max once Interval has passed since the
// current window opened. Suited to coarse quotas such as "5 emails per 30
// minutes".
type FixedRefillBucket struct {
	bucket
}

var (
	_ Limiter = (*ConstantRefillBucket)(nil)
	_ Limiter = (*FixedRefillBucket)(nil)
)

// NewConstantRefillBucket creates a [ConstantRefillBucket] backed by client.
func NewConstantRefillBucket(client redis.UniversalClient, cfg BucketConfig, opts ...Option) (*ConstantRefillBucket, error) {
	b, err := newBucket(client, cfg, constantRefillScript, opts)
	if err != nil {
		return nil, err
	}
	return &ConstantRefillBucket{bucket: b}, nil
}

// NewFixedRefillBucket creates a [FixedRefillBucket] backed by client.
func NewFixedRefillBucket(client redis.UniversalClient, cfg BucketConfig, opts ...Option) (*FixedRefillBucket, error) {
	b, err := newBucket(client, cfg, fixedRefillScript, opts)
	if err != nil {
		return nil, err
	}
	return &FixedRefillBucket{bucket: b}, nil
}

func newBucket(client redis.UniversalClient, cfg BucketConfig, script *redis.Script, opts []Option) (bucket, error) {
	if client == nil {
		return bucket{}, ErrInvalidConfig
	}
	if err := cfg.validate(); err != nil {
		return bucket{}, err
	}
	o := buildOptions(opts)
	return bucket{
		redis:  client,
		config: cfg,
		script: script,
		now:    o.now,
	}, nil
}

// Check implements [Limiter].
func (b *bucket) Check(ctx context.Context, key string, cost int) (bool, error) {
	if cost <= 0 {
		cost = 1
	}
	if cost > b.config.Max {
		return false, nil
	}
	ok, _, err := b.run(ctx, key, cost, false)
	return ok, err
}

// Increment implements [Limiter].
func (b *bucket) Increment(ctx context.Context, key string) error {
	_, _, err := b.run(ctx, key, 1, true)
	return err
}

// Reset implements [Limiter].
func (b *bucket) Reset(ctx context.Context, key string) error {
	return resetKey(ctx, b.redis, bucketKey(b.config.Name, key))
}

// Remaining reports how many tokens a Check would currently see. It does not
// mutate state.
func (b *bucket) Remaining(ctx context.Context, key string) (int, error) {
	_, remaining, err := b.run(ctx, key, b.config.Max+1, false)
	return remaining, err
}

func (b *bucket) run(ctx context.Context, key string, cost int, force bool) (bool, int, error) {
	forceArg := "0"
	if force {
		forceArg = "1"
	}

	res, err := b.script.Run(ctx, b.redis,
		[]string{bucketKey(b.config.Name, key)},
		b.config.Max,
		b.config.Interval.Milliseconds(),
		cost,
		b.now().UnixMilli(),
		forceArg,
	).Int64Slice()
	if err != nil {
		return false, 0, unavailable(err)
	}
	if len(res) != 2 {
		return false, 0, unavailable(errUnexpectedReply)
	}

	return res[0] == 1, int(res[1]), nil
}
