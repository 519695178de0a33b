// Package token mints opaque bearer tokens and hashes refresh tokens for storage.
//
// Hashing has two modes:
//   - SHA-256(token) when no key is configured (dev).
//   - HMAC-SHA256(token, key) when LINKCHAT_TOKEN_HMAC_KEY is set.
//
// Both produce stable 64-char hex digests.
package token
