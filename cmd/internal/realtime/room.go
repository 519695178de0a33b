package realtime

import (
	"log/slog"
	"strings"
	"sync"

	v1 "linkchat/contracts/realtime/v1"
)

// Room is the membership and fanout primitive for one conversation.
//
// Join and Leave are safe under concurrent Broadcast. Broadcast never blocks:
// a member whose queue is full misses the envelope.
type Room struct {
	log   *slog.Logger
	Token string

	mu      sync.RWMutex
	members map[string]*Client
}

func newRoom(log *slog.Logger, token string) *Room {
	return &Room{
		log:     log,
		Token:   token,
		members: make(map[string]*Client),
	}
}

// Join adds a client to the room. Joining twice is a no-op.
func (r *Room) Join(client *Client) {
	if r == nil || client == nil || client.SessionID == "" {
		return
	}

	r.mu.Lock()
	_, already := r.members[client.SessionID]
	r.members[client.SessionID] = client
	r.mu.Unlock()

	if !already {
		r.log.Info("room.member.join", "room", r.Token, "user_id", client.UserID, "session_id", client.SessionID)
	}
}

// Leave removes a session from the room.
func (r *Room) Leave(sessionID string) {
	if r == nil || sessionID == "" {
		return
	}

	r.mu.Lock()
	_, ok := r.members[sessionID]
	delete(r.members, sessionID)
	r.mu.Unlock()

	if ok {
		r.log.Info("room.member.leave", "room", r.Token, "session_id", sessionID)
	}
}

// Len reports the current member count.
func (r *Room) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Broadcast fans env out to every member and returns how many accepted it.
func (r *Room) Broadcast(env v1.Envelope) int {
	if r == nil {
		return 0
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	delivered := 0
	for _, m := range r.members {
		if m == nil {
			continue
		}
		if m.offer(env) {
			delivered++
			continue
		}
		r.log.Warn("room.broadcast.drop", "room", r.Token, "session_id", m.SessionID)
	}
	return delivered
}

// isParticipant reports whether user is one of the two ids that make up token.
func isParticipant(token, user string) bool {
	if user == "" || token == "" {
		return false
	}
	parts := strings.Split(token, "_")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return false
	}
	return parts[0] == user || parts[1] == user
}
