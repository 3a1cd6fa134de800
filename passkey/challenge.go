package passkey

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	challengeRecordVersion1 = 1

	// ChallengeSize is the number of random bytes in a login challenge.
	ChallengeSize = 32
	// DefaultChallengeTTL bounds how long a browser may take to sign.
	DefaultChallengeTTL = 5 * time.Minute
)

var (
	ErrChallengeNotFound = errors.New("passkey challenge not found")
	ErrUnavailable       = errors.New("passkey challenge backend unavailable")
)

// Challenge is handed to the browser for navigator.credentials.get.
type Challenge struct {
	ID        string
	Value     []byte
	ExpiresAt time.Time
}

// ChallengeStore keeps outstanding login challenges in Redis. Each
// challenge can be consumed once.
type ChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

type ChallengeOption func(*ChallengeStore)

func WithTTL(ttl time.Duration) ChallengeOption {
	return func(s *ChallengeStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithPrefix(prefix string) ChallengeOption {
	return func(s *ChallengeStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

func WithClock(now func() time.Time) ChallengeOption {
	return func(s *ChallengeStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewChallengeStore(client redis.UniversalClient, opts ...ChallengeOption) *ChallengeStore {
	s := &ChallengeStore{
		redis:  client,
		prefix: "pkc",
		ttl:    DefaultChallengeTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ChallengeStore) key(id string) string {
	return s.prefix + ":" + id
}

// Issue stores a fresh challenge and returns it.
func (s *ChallengeStore) Issue(ctx context.Context) (Challenge, error) {
	value := make([]byte, ChallengeSize)
	if _, err := rand.Read(value); err != nil {
		return Challenge{}, err
	}

	c := Challenge{
		ID:        uuid.NewString(),
		Value:     value,
		ExpiresAt: s.now().Add(s.ttl),
	}
	encoded, err := encodeChallenge(c)
	if err != nil {
		return Challenge{}, err
	}
	if err := s.redis.Set(ctx, s.key(c.ID), encoded, s.ttl).Err(); err != nil {
		return Challenge{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return c, nil
}

// Consume atomically removes the challenge and returns its value. A second
// call with the same id yields ErrChallengeNotFound.
func (s *ChallengeStore) Consume(ctx context.Context, id string) ([]byte, error) {
	if id == "" {
		return nil, ErrChallengeNotFound
	}

	data, err := s.redis.GetDel(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	c, err := decodeChallenge(data)
	if err != nil {
		return nil, ErrChallengeNotFound
	}
	// Redis TTL granularity can leave a key alive past its deadline.
	if !s.now().Before(c.ExpiresAt) {
		return nil, ErrChallengeNotFound
	}
	return c.Value, nil
}

func encodeChallenge(c Challenge) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(challengeRecordVersion1)

	if err := binary.Write(&buf, binary.BigEndian, c.ExpiresAt.UnixMilli()); err != nil {
		return nil, err
	}
	if len(c.Value) > 255 {
		return nil, errors.New("passkey challenge too long")
	}
	buf.WriteByte(byte(len(c.Value)))
	buf.Write(c.Value)

	return buf.Bytes(), nil
}

func decodeChallenge(data []byte) (Challenge, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return Challenge{}, err
	}
	if version != challengeRecordVersion1 {
		return Challenge{}, errors.New("invalid passkey challenge version")
	}

	var expiresAt int64
	if err := binary.Read(reader, binary.BigEndian, &expiresAt); err != nil {
		return Challenge{}, err
	}

	n, err := reader.ReadByte()
	if err != nil {
		return Challenge{}, err
	}
	value := make([]byte, n)
	if _, err := io.ReadFull(reader, value); err != nil {
		return Challenge{}, err
	}

	return Challenge{Value: value, ExpiresAt: time.UnixMilli(expiresAt)}, nil
}
