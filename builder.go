package authcore

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/mailer"
	"github.com/MrEthical07/authcore/passkey"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/ratelimit"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/store"
	"github.com/MrEthical07/authcore/twofactor"
)

// Builder assembles an Engine. A Builder can build once.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	store  store.Store

	notifier  mailer.Notifier
	corpus    password.Corpus
	auditSink AuditSink
	logger    zerolog.Logger
	now       func() time.Time

	built bool
}

func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
		logger: zerolog.Nop(),
		now:    time.Now,
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the counter store used by limiters, passkey challenges
// and TOTP replay protection.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithStore(s store.Store) *Builder {
	b.store = s
	return b
}

func (b *Builder) WithNotifier(n mailer.Notifier) *Builder {
	b.notifier = n
	return b
}

// WithBreachCorpus replaces the Pwned Passwords client used when
// Password.BreachCheck is on.
func (b *Builder) WithBreachCorpus(c password.Corpus) *Builder {
	b.corpus = c
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger zerolog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock replaces time.Now for expiry checks and limiters.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	if now != nil {
		b.now = now
	}
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.store == nil {
		return nil, errors.New("store required")
	}

	logger := b.logger.With().Str("component", "authcore").Logger()

	// -------- CREDENTIALS --------
	hasher, err := password.NewArgon2(cfg.Password.Argon2)
	if err != nil {
		return nil, err
	}
	dummyHash, err := hasher.Hash("authcore-dummy-password")
	if err != nil {
		return nil, fmt.Errorf("dummy hash: %w", err)
	}

	policy := password.Policy{MinLength: cfg.Password.MinLength, MaxLength: cfg.Password.MaxLength}
	if cfg.Password.BreachCheck {
		policy.Corpus = b.corpus
		if policy.Corpus == nil {
			policy.Corpus = password.NewHIBPCorpus()
		}
	}

	verifier, err := passkey.NewVerifier(cfg.Passkey.RPID, cfg.Passkey.Origins...)
	if err != nil {
		return nil, err
	}
	challenges := passkey.NewChallengeStore(b.redis,
		passkey.WithTTL(cfg.Passkey.ChallengeTTL),
		passkey.WithClock(b.now),
	)

	totpConfig := twofactor.DefaultConfig(cfg.TwoFactor.Issuer)
	totpConfig.Skew = cfg.TwoFactor.Skew
	totp, err := twofactor.New(totpConfig)
	if err != nil {
		return nil, err
	}

	// -------- LIMITERS --------
	clock := ratelimit.WithClock(b.now)
	throttler, err := ratelimit.NewThrottler(b.redis, ratelimit.ThrottlerConfig{
		Name:      "login",
		Timeouts:  cfg.LoginThrottle.Timeouts,
		Grace:     cfg.LoginThrottle.Grace,
		Cutoff:    cfg.LoginThrottle.Cutoff,
		ResetType: cfg.LoginThrottle.ResetType,
	}, clock)
	if err != nil {
		return nil, err
	}

	constant := func(name string, c BucketConfig) (ratelimit.Limiter, error) {
		return ratelimit.NewConstantRefillBucket(b.redis, ratelimit.BucketConfig{Name: name, Max: c.Max, Interval: c.Interval}, clock)
	}
	fixed := func(name string, c BucketConfig) (ratelimit.Limiter, error) {
		return ratelimit.NewFixedRefillBucket(b.redis, ratelimit.BucketConfig{Name: name, Max: c.Max, Interval: c.Interval}, clock)
	}

	limiters := engineLimiters{login: throttler}
	for _, l := range []struct {
		dst  *ratelimit.Limiter
		make func(string, BucketConfig) (ratelimit.Limiter, error)
		name string
		cfg  BucketConfig
	}{
		{&limiters.accountLogin, constant, "account-login", cfg.Buckets.AccountLogin},
		{&limiters.signup, fixed, "signup", cfg.Buckets.Signup},
		{&limiters.emailVerification, fixed, "email-verification", cfg.Buckets.EmailVerification},
		{&limiters.emailResend, constant, "email-resend", cfg.Buckets.EmailResend},
		{&limiters.passwordReset, constant, "password-reset", cfg.Buckets.PasswordReset},
		{&limiters.twoFactor, fixed, "two-factor", cfg.Buckets.TwoFactor},
		{&limiters.passkeyChallenge, constant, "passkey-challenge", cfg.Buckets.PasskeyChallenge},
	} {
		limiter, err := l.make(l.name, l.cfg)
		if err != nil {
			return nil, err
		}
		*l.dst = limiter
	}

	notifier := b.notifier
	if notifier == nil {
		notifier = mailer.NewLogNotifier(logger, "")
	}

	e := &Engine{
		config:     cfg,
		logger:     logger,
		store:      b.store,
		hasher:     hasher,
		dummyHash:  dummyHash,
		policy:     policy,
		lifetime:   session.Lifetime{Duration: cfg.Session.Lifetime, RenewWithin: cfg.Session.RenewWithin},
		sessions:   session.Policy{RequirePasskey: cfg.Session.RequirePasskey},
		limiters:   limiters,
		challenges: challenges,
		passkeys:   verifier,
		totp:       totp,
		replay:     twofactor.NewReplayGuard(b.redis, totpConfig),
		pending:    twofactor.NewPendingKeys(b.redis, twofactor.DefaultPendingTTL),
		notifier:   notifier,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		metrics:    NewMetrics(cfg.Metrics),
		audit: audit.NewDispatcher(audit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
			Now:        b.now,
		}, b.auditSink),
		now: b.now,
	}

	b.built = true
	return e, nil
}
