package realtime

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"linkchat/cmd/identity/ids"
	"linkchat/cmd/internal/room"
)

const (
	memMaxMessagesPerRoom = 10_000
)

// InMemoryStore is the dev server's MessageStore.
type InMemoryStore struct {
	mu    sync.Mutex
	rooms map[string]*memRoom
	now   func() time.Time
}

type memRoom struct {
	dedupe map[string]StoredMessage // sender + client_msg_id -> stored message
	msgs   []StoredMessage          // append order
}

// NewInMemoryStore constructs an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		rooms: make(map[string]*memRoom),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Close is a no-op.
func (s *InMemoryStore) Close() error { return nil }

// Append persists a message and assigns its server id.
func (s *InMemoryStore) Append(ctx context.Context, in AppendInput) (AppendResult, error) {
	if in.Room == "" || in.Sender == "" || strings.TrimSpace(in.Content) == "" {
		return AppendResult{}, ErrInvalidMessage
	}
	if err := ctx.Err(); err != nil {
		return AppendResult{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = s.now()
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return AppendResult{}, fmt.Errorf("mint message id: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.rooms[in.Room]
	if r == nil {
		r = &memRoom{
			dedupe: make(map[string]StoredMessage),
			msgs:   make([]StoredMessage, 0, 64),
		}
		s.rooms[in.Room] = r
	}

	dedupeKey := ""
	if in.ClientMsgID != "" {
		dedupeKey = in.Sender + "\x00" + in.ClientMsgID
		if existing, ok := r.dedupe[dedupeKey]; ok {
			return AppendResult{Stored: existing, Duplicated: true}, nil
		}
	}

	msg := StoredMessage{
		ID:          id,
		ClientMsgID: in.ClientMsgID,
		Room:        in.Room,
		Sender:      in.Sender,
		Receiver:    in.Receiver,
		Content:     in.Content,
		Timestamp:   now,
	}
	if dedupeKey != "" {
		r.dedupe[dedupeKey] = msg
	}
	r.msgs = append(r.msgs, msg)

	if len(r.msgs) > memMaxMessagesPerRoom {
		r.msgs = r.msgs[len(r.msgs)-memMaxMessagesPerRoom:]
	}

	return AppendResult{Stored: msg}, nil
}

// Between returns every stored message exchanged by a and b, oldest first.
func (s *InMemoryStore) Between(ctx context.Context, a, b string) ([]StoredMessage, error) {
	token, err := room.Token(a, b)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.rooms[token]
	if r == nil {
		return []StoredMessage{}, nil
	}
	return append([]StoredMessage(nil), r.msgs...), nil
}
