package realtime

import (
	"log/slog"
	"sync"
)

// Hub owns the in-memory rooms. Persistence lives behind MessageStore.
type Hub struct {
	log *slog.Logger

	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewHub constructs a Hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:   log,
		rooms: make(map[string]*Room),
	}
}

// Room returns the room with the given token, creating it on first use.
func (h *Hub) Room(token string) *Room {
	h.mu.RLock()
	r, ok := h.rooms[token]
	h.mu.RUnlock()
	if ok {
		return r
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if r, ok := h.rooms[token]; ok {
		return r
	}
	r = newRoom(h.log, token)
	h.rooms[token] = r
	return r
}

// Lookup returns the room if it exists.
func (h *Hub) Lookup(token string) (*Room, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[token]
	return r, ok
}

// Members reports how many sessions have joined token.
func (h *Hub) Members(token string) int {
	r, ok := h.Lookup(token)
	if !ok {
		return 0
	}
	return r.Len()
}
