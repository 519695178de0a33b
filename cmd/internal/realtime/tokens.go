package realtime

import (
	"errors"
	"strings"
	"sync"
	"time"

	"linkchat/cmd/internal/auth/credentials"
	"linkchat/cmd/security/token"
)

var (
	// ErrInvalidToken is returned when a bearer or refresh token is unknown or expired.
	ErrInvalidToken = errors.New("invalid token")
)

// TokenVerifier resolves a bearer token to the user it was issued to.
type TokenVerifier interface {
	Verify(access string) (userID string, err error)
}

// Tokens is the dev server's opaque token registry. Access tokens may expire;
// refresh tokens are single use, rotate on every refresh, and are only kept as
// digests.
type Tokens struct {
	accessTTL time.Duration
	now       func() time.Time
	hash      token.Hasher

	mu      sync.Mutex
	access  map[string]accessGrant
	refresh map[string]string // refresh digest -> user id
}

type accessGrant struct {
	user    string
	expires time.Time // zero: never
}

// NewTokens constructs a registry. accessTTL <= 0 issues non-expiring access tokens.
func NewTokens(accessTTL time.Duration, hash token.Hasher) *Tokens {
	return &Tokens{
		accessTTL: accessTTL,
		now:       time.Now,
		hash:      hash,
		access:    make(map[string]accessGrant),
		refresh:   make(map[string]string),
	}
}

// Issue mints a fresh credential pair for user.
func (t *Tokens) Issue(user string) (credentials.Pair, error) {
	user = strings.TrimSpace(user)
	if user == "" {
		return credentials.Pair{}, errors.New("missing user")
	}

	access, err := token.Opaque(24)
	if err != nil {
		return credentials.Pair{}, err
	}
	refresh, err := token.Opaque(32)
	if err != nil {
		return credentials.Pair{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	g := accessGrant{user: user}
	if t.accessTTL > 0 {
		g.expires = t.now().Add(t.accessTTL)
	}
	t.access[access] = g
	t.refresh[t.hash.Hash(refresh)] = user
	return credentials.Pair{Access: access, Refresh: refresh}, nil
}

// Grant registers a fixed access token, used for seeded dev users.
func (t *Tokens) Grant(access, user string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.access[access] = accessGrant{user: user}
}

// Verify implements TokenVerifier.
func (t *Tokens) Verify(access string) (string, error) {
	access = strings.TrimSpace(access)
	if access == "" {
		return "", ErrInvalidToken
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	g, ok := t.access[access]
	if !ok {
		return "", ErrInvalidToken
	}
	if !g.expires.IsZero() && !t.now().Before(g.expires) {
		delete(t.access, access)
		return "", ErrInvalidToken
	}
	return g.user, nil
}

// Revoke invalidates an access token.
func (t *Tokens) Revoke(access string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.access, access)
}

// Rotate exchanges a refresh token for a new pair. The presented token is spent.
func (t *Tokens) Rotate(refresh string) (credentials.Pair, error) {
	refresh = strings.TrimSpace(refresh)
	if refresh == "" {
		return credentials.Pair{}, ErrInvalidToken
	}
	digest := t.hash.Hash(refresh)

	t.mu.Lock()
	user, ok := t.refresh[digest]
	delete(t.refresh, digest)
	t.mu.Unlock()

	if !ok {
		return credentials.Pair{}, ErrInvalidToken
	}
	return t.Issue(user)
}

func bearerToken(header string) string {
	const prefix = "bearer "
	h := strings.TrimSpace(header)
	if len(h) < len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}
