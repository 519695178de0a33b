// Package realtime is the in-memory dev messaging server: the WebSocket gateway,
// the history endpoint, and token refresh. It speaks the same contract as a
// production server and backs integration tests and the devserver command.
package realtime

import (
	"log/slog"
	"net/http"

	"linkchat/cmd/security/token"
)

// Server bundles the dev server's collaborators.
type Server struct {
	Hub     *Hub
	Store   MessageStore
	Tokens  *Tokens
	Gateway *WSGateway
	History *HistoryHandler
	Refresh *RefreshHandler
}

// ServerOptions configures NewServer. Zero values take dev defaults.
type ServerOptions struct {
	Log     *slog.Logger
	Store   MessageStore
	Tokens  *Tokens
	Gateway GatewayConfig
}

// NewServer wires an in-memory dev server.
func NewServer(opts ServerOptions) *Server {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	store := opts.Store
	if store == nil {
		store = NewInMemoryStore()
	}
	tokens := opts.Tokens
	if tokens == nil {
		tokens = NewTokens(0, token.Hasher{})
	}
	hub := NewHub(log)

	return &Server{
		Hub:     hub,
		Store:   store,
		Tokens:  tokens,
		Gateway: NewWSGateway(log, hub, store, tokens, opts.Gateway),
		History: NewHistoryHandler(log, store, tokens),
		Refresh: NewRefreshHandler(log, tokens),
	}
}

// Register mounts the server routes on mux:
//
//	/ws                              websocket gateway
//	GET  /messages/{sender}/{receiver}  conversation history
//	POST /auth/refresh/                 credential rotation
func (s *Server) Register(mux *http.ServeMux) {
	mux.Handle("/ws", s.Gateway)
	mux.Handle("GET /messages/{sender}/{receiver}", s.History)
	mux.Handle("POST /auth/refresh/", s.Refresh)
}

// Handler returns a mux with only the server routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

// Close releases the store.
func (s *Server) Close() error { return s.Store.Close() }
