// Package ids provides identifier primitives shared by the chat client and the dev server.
package ids

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewULID returns a new ULID string (26 chars).
// ULIDs are lexicographically sortable, so ids minted later sort later.
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewClientMsgID returns the provisional token attached to a locally originated message.
// It falls back to a time-only ULID if the entropy source fails, which keeps the send
// path infallible; collisions then require two sends in the same millisecond.
func NewClientMsgID(now time.Time) string {
	id, err := NewULID(now)
	if err != nil {
		if now.IsZero() {
			now = time.Now().UTC()
		}
		var fallback ulid.ULID
		_ = fallback.SetTime(ulid.Timestamp(now))
		return fallback.String()
	}
	return id
}

// Time extracts the millisecond timestamp encoded in a ULID string.
func Time(id string) (time.Time, error) {
	u, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(u.Time()).UTC(), nil
}
