package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"os"
	"strings"
)

const (
	// HMACEnvKey is the env var name for the token HMAC secret.
	// #nosec G101 -- not a credential; it's an environment variable name.
	HMACEnvKey = "LINKCHAT_TOKEN_HMAC_KEY"

	// MinHMACKeyBytes is the shortest accepted HMAC key.
	MinHMACKeyBytes = 32
)

// Hasher digests tokens before they are used as storage keys.
// The zero value hashes with plain SHA-256.
type Hasher struct {
	key []byte
}

// NewHasher returns an HMAC-SHA256 hasher. An empty key yields the SHA-256 hasher.
func NewHasher(key []byte) Hasher {
	if len(key) == 0 {
		return Hasher{}
	}
	return Hasher{key: append([]byte(nil), key...)}
}

// HasherFromEnv builds a Hasher from HMACEnvKey, enforcing minBytes.
// A missing key returns the SHA-256 hasher together with ErrHMACKeyMissing.
func HasherFromEnv(minBytes int) (Hasher, error) {
	raw := strings.TrimSpace(os.Getenv(HMACEnvKey))
	if raw == "" {
		return Hasher{}, ErrHMACKeyMissing
	}
	if minBytes > 0 && len(raw) < minBytes {
		return Hasher{}, ErrHMACKeyTooShort
	}
	return NewHasher([]byte(raw)), nil
}

// Keyed reports whether h uses HMAC.
func (h Hasher) Keyed() bool { return len(h.key) > 0 }

// Hash returns the hex digest of s.
func (h Hasher) Hash(s string) string {
	if !h.Keyed() {
		return HashSHA256Hex(s)
	}
	return HashHMACSHA256Hex(s, h.key)
}

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// Opaque returns nBytes of crypto randomness, URL-safe base64 without padding.
func Opaque(nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
