package realtime

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"linkchat/cmd/internal/room"
	v1 "linkchat/contracts/realtime/v1"
)

type errorBody struct {
	Message string `json:"message"`
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

type refreshResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// HistoryHandler serves GET /messages/{sender}/{receiver}.
// The caller must be one of the two participants.
type HistoryHandler struct {
	log    *slog.Logger
	store  MessageStore
	tokens TokenVerifier
}

// NewHistoryHandler constructs a HistoryHandler.
func NewHistoryHandler(log *slog.Logger, store MessageStore, tokens TokenVerifier) *HistoryHandler {
	if log == nil {
		log = slog.Default()
	}
	return &HistoryHandler{log: log, store: store, tokens: tokens}
}

func (h *HistoryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	user, err := h.tokens.Verify(bearerToken(r.Header.Get("Authorization")))
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, "Given token not valid for any token type")
		return
	}

	sender := strings.TrimSpace(r.PathValue("sender"))
	receiver := strings.TrimSpace(r.PathValue("receiver"))
	if sender == "" || receiver == "" {
		writeJSONError(w, http.StatusBadRequest, "sender and receiver are required")
		return
	}
	if user != sender && user != receiver {
		writeJSONError(w, http.StatusForbidden, "You are not a participant of this conversation")
		return
	}

	msgs, err := h.store.Between(r.Context(), sender, receiver)
	if errors.Is(err, room.ErrInvalidParticipant) {
		writeJSONError(w, http.StatusBadRequest, "Invalid participant id")
		return
	}
	if err != nil {
		h.log.Error("history.query.fail", "sender", sender, "receiver", receiver, "err", err)
		writeJSONError(w, http.StatusInternalServerError, "Could not load messages")
		return
	}

	out := make([]v1.MessagePayload, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Payload())
	}
	writeJSON(w, http.StatusOK, out)
}

// RefreshHandler serves POST /auth/refresh/, rotating the credential pair.
type RefreshHandler struct {
	log    *slog.Logger
	tokens *Tokens
}

// NewRefreshHandler constructs a RefreshHandler.
func NewRefreshHandler(log *slog.Logger, tokens *Tokens) *RefreshHandler {
	if log == nil {
		log = slog.Default()
	}
	return &RefreshHandler{log: log, tokens: tokens}
}

func (h *RefreshHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var in refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || strings.TrimSpace(in.Refresh) == "" {
		writeJSONError(w, http.StatusBadRequest, "refresh is required")
		return
	}

	pair, err := h.tokens.Rotate(strings.TrimSpace(in.Refresh))
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			h.log.Info("auth.refresh.reject")
			writeJSONError(w, http.StatusUnauthorized, "Token is invalid or expired")
			return
		}
		h.log.Error("auth.refresh.fail", "err", err)
		writeJSONError(w, http.StatusInternalServerError, "Could not refresh token")
		return
	}

	writeJSON(w, http.StatusOK, refreshResponse{Access: pair.Access, Refresh: pair.Refresh})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Message: msg})
}
