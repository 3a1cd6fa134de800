package password

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	// ErrWeakPassword is returned when a password fails the strength policy.
	ErrWeakPassword = errors.New("weak password")
	// ErrCorpusUnavailable is returned when the breach corpus cannot be
	// consulted. Callers must reject the password rather than skip the check.
	ErrCorpusUnavailable = errors.New("breach corpus unavailable")
)

const (
	DefaultMinLength = 8
	DefaultMaxLength = 255

	defaultHIBPEndpoint = "https://api.pwnedpasswords.com/range/"
)

// Corpus reports whether a password appears in a set of known-compromised
// passwords.
type Corpus interface {
	Contains(ctx context.Context, password string) (bool, error)
}

// Policy is the strength policy applied to new passwords.
type Policy struct {
	MinLength int
	MaxLength int
	// Corpus is optional. When set, a password found in it is weak.
	Corpus Corpus
}

// DefaultPolicy enforces 8..255 characters and no corpus.
func DefaultPolicy() Policy {
	return Policy{MinLength: DefaultMinLength, MaxLength: DefaultMaxLength}
}

// Check returns nil for an acceptable password, an error wrapping
// ErrWeakPassword for a rejected one, or one wrapping ErrCorpusUnavailable
// when the corpus could not answer.
func (p Policy) Check(ctx context.Context, password string) error {
	n := utf8.RuneCountInString(password)
	if n < p.MinLength {
		return fmt.Errorf("%w: shorter than %d characters", ErrWeakPassword, p.MinLength)
	}
	if p.MaxLength > 0 && n > p.MaxLength {
		return fmt.Errorf("%w: longer than %d characters", ErrWeakPassword, p.MaxLength)
	}
	if p.Corpus == nil {
		return nil
	}

	found, err := p.Corpus.Contains(ctx, password)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorpusUnavailable, err)
	}
	if found {
		return fmt.Errorf("%w: found in compromised databases", ErrWeakPassword)
	}
	return nil
}

// HIBPCorpus queries the Pwned Passwords range API. Only the first five hex
// characters of the SHA-1 leave the process.
type HIBPCorpus struct {
	client   *http.Client
	endpoint string
}

type HIBPOption func(*HIBPCorpus)

func WithHTTPClient(c *http.Client) HIBPOption {
	return func(h *HIBPCorpus) {
		if c != nil {
			h.client = c
		}
	}
}

// WithEndpoint points the corpus at another range API base URL.
func WithEndpoint(url string) HIBPOption {
	return func(h *HIBPCorpus) {
		if url != "" {
			if !strings.HasSuffix(url, "/") {
				url += "/"
			}
			h.endpoint = url
		}
	}
}

func NewHIBPCorpus(opts ...HIBPOption) *HIBPCorpus {
	h := &HIBPCorpus{
		client:   &http.Client{Timeout: 5 * time.Second},
		endpoint: defaultHIBPEndpoint,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *HIBPCorpus) Contains(ctx context.Context, password string) (bool, error) {
	sum := sha1.Sum([]byte(password))
	digest := strings.ToUpper(hex.EncodeToString(sum[:]))
	prefix, suffix := digest[:5], digest[5:]

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.endpoint+prefix, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Add-Padding", "true")

	resp, err := h.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("range api status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		hashSuffix, countText, ok := strings.Cut(strings.TrimSpace(scanner.Text()), ":")
		if !ok || !strings.EqualFold(hashSuffix, suffix) {
			continue
		}
		// Padding entries carry a zero count.
		count, err := strconv.Atoi(countText)
		if err != nil {
			return false, fmt.Errorf("range api count %q: %w", countText, err)
		}
		return count > 0, nil
	}
	if err := scanner.Err(); err != nil {
		return false, err
	}
	return false, nil
}

// SetCorpus is an in-memory Corpus, handy for tests and air-gapped
// deployments with a local deny list.
type SetCorpus map[string]struct{}

func NewSetCorpus(passwords ...string) SetCorpus {
	s := make(SetCorpus, len(passwords))
	for _, p := range passwords {
		s[p] = struct{}{}
	}
	return s
}

func (s SetCorpus) Contains(_ context.Context, password string) (bool, error) {
	_, ok := s[password]
	return ok, nil
}
