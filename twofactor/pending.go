package twofactor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultPendingTTL bounds how long a generated key waits for its first
// code.
const DefaultPendingTTL = 10 * time.Minute

var ErrNoPendingKey = errors.New("no pending totp key")

// PendingKeys holds secrets handed out for enrollment until a code confirms
// them. Entries are keyed by the session that asked for the key, so only
// that session can enroll it.
type PendingKeys struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewPendingKeys(client redis.UniversalClient, ttl time.Duration) *PendingKeys {
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	return &PendingKeys{redis: client, prefix: "totp-pending", ttl: ttl}
}

func (p *PendingKeys) key(sessionID string) string {
	return p.prefix + ":" + sessionID
}

// Put replaces the pending secret for sessionID.
func (p *PendingKeys) Put(ctx context.Context, sessionID, secret string) error {
	if err := p.redis.Set(ctx, p.key(sessionID), secret, p.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Get returns the pending secret for sessionID, or ErrNoPendingKey when it
// was never issued or has expired.
func (p *PendingKeys) Get(ctx context.Context, sessionID string) (string, error) {
	secret, err := p.redis.Get(ctx, p.key(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNoPendingKey
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return secret, nil
}

// Drop forgets the pending secret once it is enrolled.
func (p *PendingKeys) Drop(ctx context.Context, sessionID string) error {
	if err := p.redis.Del(ctx, p.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
