// Package room derives conversation room tokens and keeps the transport joined to
// exactly one room at a time.
package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// ErrInvalidParticipant is returned when a participant id is empty or contains
// the room separator.
var ErrInvalidParticipant = errors.New("room: invalid participant")

const separator = "_"

// Token returns the room shared by a and b: both ids sorted and joined with "_".
// Token(a, b) == Token(b, a). Ids containing the separator are rejected so that
// distinct pairs never share a token.
func Token(a, b string) (string, error) {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" || strings.Contains(a, separator) || strings.Contains(b, separator) {
		return "", ErrInvalidParticipant
	}
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, separator), nil
}

// Session is the part of the transport the manager drives.
type Session interface {
	Open(ctx context.Context) error
	Subscribe(ctx context.Context, room string) error
	Close() error
}

// Manager tracks the active room and owns the open/close lifecycle of the session.
type Manager struct {
	log     *slog.Logger
	session Session

	mu     sync.Mutex
	active string
}

// NewManager constructs a Manager over session.
func NewManager(log *slog.Logger, session Session) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{log: log, session: session}
}

// Activate makes the room of (localUser, counterpart) the only joined room.
// Switching rooms closes the session before reopening it.
func (m *Manager) Activate(ctx context.Context, localUser, counterpart string) (string, error) {
	room, err := Token(localUser, counterpart)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != "" && m.active != room {
		m.log.Info("room.switch", "from", m.active, "to", room)
		_ = m.session.Close()
		m.active = ""
	}

	if err := m.session.Open(ctx); err != nil {
		return "", fmt.Errorf("room: open session: %w", err)
	}
	if err := m.session.Subscribe(ctx, room); err != nil {
		return "", fmt.Errorf("room: subscribe %s: %w", room, err)
	}

	m.active = room
	m.log.Info("room.activate", "room", room)
	return room, nil
}

// Deactivate closes the session and forgets the active room.
func (m *Manager) Deactivate() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != "" {
		m.log.Info("room.deactivate", "room", m.active)
	}
	_ = m.session.Close()
	m.active = ""
}

// Active returns the joined room, or "" when none.
func (m *Manager) Active() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}
