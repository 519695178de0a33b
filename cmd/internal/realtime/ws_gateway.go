package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"linkchat/cmd/internal/room"
	v1 "linkchat/contracts/realtime/v1"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3
)

// Error codes sent in error envelopes.
const (
	CodeBadJSON      = "bad_json"
	CodeBadEnvelope  = "bad_envelope"
	CodeRateLimited  = "rate_limited"
	CodeJoinFailed   = "join_failed"
	CodeSendFailed   = "send_failed"
	CodeUnsupported  = "unsupported"
	CodeBackpressure = "backpressure"
)

// GatewayConfig tunes the gateway. Zero values take the defaults.
type GatewayConfig struct {
	WriteTimeout      time.Duration
	ReadIdleTimeout   time.Duration
	SendQueueSize     int
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	// RateEvents inbound events are allowed per RateWindow, as a burst.
	RateEvents int
	RateWindow time.Duration

	// OriginPatterns authorizes cross-origin browser clients (host patterns).
	// Non-browser clients send no Origin and are always accepted.
	OriginPatterns []string
}

func (c GatewayConfig) withDefaults() GatewayConfig {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = wsDefaultWriteTimeout
	}
	if c.ReadIdleTimeout <= 0 {
		c.ReadIdleTimeout = wsDefaultReadIdle
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = wsDefaultSendQueueSize
	}
	if c.SendQueueSize < wsMinSendQueueSize {
		c.SendQueueSize = wsMinSendQueueSize
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = heartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = heartbeatTimeout
	}
	if c.RateEvents <= 0 {
		c.RateEvents = rateLimitEvents
	}
	if c.RateWindow <= 0 {
		c.RateWindow = rateLimitWindow
	}
	return c
}

// WSGateway is the WebSocket entrypoint of the dev messaging server.
//
// It authenticates the bearer, negotiates the subprotocol, enforces rate limits
// and heartbeats, and routes validated envelopes to the Hub and MessageStore.
type WSGateway struct {
	log    *slog.Logger
	hub    *Hub
	store  MessageStore
	tokens TokenVerifier
	cfg    GatewayConfig
}

// NewWSGateway constructs a gateway. A nil hub or store falls back to in-memory ones.
func NewWSGateway(log *slog.Logger, hub *Hub, store MessageStore, tokens TokenVerifier, cfg GatewayConfig) *WSGateway {
	if log == nil {
		log = slog.Default()
	}
	if hub == nil {
		hub = NewHub(log)
	}
	if store == nil {
		store = NewInMemoryStore()
	}
	return &WSGateway{log: log, hub: hub, store: store, tokens: tokens, cfg: cfg.withDefaults()}
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS authenticates, upgrades, and runs one connection until it ends.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	userID, err := g.tokens.Verify(bearerToken(r.Header.Get("Authorization")))
	if err != nil {
		g.log.Info("ws.reject.auth", "remote", r.RemoteAddr, "err", err)
		writeJSONError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{v1.Subprotocol},
		OriginPatterns: g.cfg.OriginPatterns,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	client := NewClient(userID, uuid.NewString(), g.cfg.SendQueueSize)
	sessionID := client.SessionID
	g.log.Info("ws.open", "user_id", userID, "session_id", sessionID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var (
		closeOnce sync.Once
		joinedMu  sync.Mutex
		joined    = make(map[string]*Room)
	)

	// Membership is dropped before the client is closed so broadcasters never
	// hold a member whose goroutines are gone. Send stays open.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			joinedMu.Lock()
			for token, rm := range joined {
				rm.Leave(sessionID)
				delete(joined, token)
			}
			joinedMu.Unlock()
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	limiter := rate.NewLimiter(rate.Every(g.cfg.RateWindow/time.Duration(g.cfg.RateEvents)), g.cfg.RateEvents)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout); err != nil {
					g.log.Info("ws.write.fail", "session_id", sessionID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		g.heartbeat(ctx, conn, client, shutdown)
	}()

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.sendError(client, CodeBadJSON, "invalid JSON")
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "session_id", sessionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		now := time.Now().UTC()
		if !limiter.AllowN(now, 1) {
			// Written inline: shutdown stops the writer before it drains the queue.
			if env, err := newEnvelope(v1.TypeError, v1.ErrorPayload{Code: CodeRateLimited, Message: "too many events"}, now); err == nil {
				_ = writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout)
			}
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.sendError(client, CodeBadEnvelope, err.Error())
			continue readLoop
		}

		switch env.Type {
		case v1.TypeJoinRoom:
			rm, err := g.onJoin(client, env)
			if err != nil {
				g.sendError(client, CodeJoinFailed, err.Error())
				continue readLoop
			}
			joinedMu.Lock()
			joined[rm.Token] = rm
			joinedMu.Unlock()

		case v1.TypeSendMessage:
			if err := g.onSendMessage(ctx, client, env, now); err != nil {
				code := CodeSendFailed
				if errors.Is(err, errBackpressure) {
					code = CodeBackpressure
				}
				g.sendError(client, code, err.Error())
				continue readLoop
			}

		default:
			g.sendError(client, CodeUnsupported, fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
	g.log.Info("ws.close", "user_id", userID, "session_id", sessionID)
}

func (g *WSGateway) heartbeat(ctx context.Context, conn *websocket.Conn, client *Client, shutdown func(websocket.StatusCode, string)) {
	t := time.NewTicker(g.cfg.HeartbeatInterval)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			return
		case <-t.C:
			hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
			err := conn.Ping(hbCtx)
			hbCancel()

			if err != nil {
				failures++
				g.log.Info("ws.ping.fail", "session_id", client.SessionID, "failures", failures, "err", err)
				if failures >= wsMaxPingFailures {
					shutdown(websocket.StatusGoingAway, "heartbeat failed")
					return
				}
				continue
			}
			failures = 0
		}
	}
}

var errBackpressure = errors.New("backpressure")

func (g *WSGateway) onJoin(client *Client, env v1.Envelope) (*Room, error) {
	var p v1.JoinRoomPayload
	if err := env.Decode(&p); err != nil {
		return nil, err
	}

	token := strings.TrimSpace(p.Room)
	if token == "" {
		return nil, errors.New("missing room")
	}
	if !isParticipant(token, client.UserID) {
		g.log.Info("ws.join.denied", "user_id", client.UserID, "room", token)
		return nil, errors.New("not a participant of room")
	}

	rm := g.hub.Room(token)
	rm.Join(client)
	return rm, nil
}

func (g *WSGateway) onSendMessage(ctx context.Context, client *Client, env v1.Envelope, now time.Time) error {
	var p v1.SendMessagePayload
	if err := env.Decode(&p); err != nil {
		return err
	}

	to := strings.TrimSpace(p.To)
	want, err := room.Token(client.UserID, to)
	if err != nil {
		return errors.New("missing recipient")
	}
	if strings.TrimSpace(p.Room) != want {
		return errors.New("room does not match participants")
	}

	content := strings.TrimSpace(p.Content)
	if content == "" {
		return errors.New("empty content")
	}
	if len([]rune(content)) > maxMessageChars {
		return fmt.Errorf("message too long: max=%d chars", maxMessageChars)
	}

	res, err := g.store.Append(ctx, AppendInput{
		Room:        want,
		ClientMsgID: strings.TrimSpace(p.ClientMsgID),
		Sender:      client.UserID,
		Receiver:    to,
		Content:     content,
		Now:         now,
	})
	if err != nil {
		return fmt.Errorf("store append: %w", err)
	}
	stored := res.Stored

	ack, err := newEnvelope(v1.TypeMessageSent, stored.Ack(), now)
	if err != nil {
		return err
	}
	if !client.offer(ack) {
		return fmt.Errorf("%w: messageSent", errBackpressure)
	}

	if res.Duplicated {
		g.log.Debug("ws.send.duplicate", "room", want, "client_msg_id", stored.ClientMsgID)
		return nil
	}

	out, err := newEnvelope(v1.TypeReceiveMessage, stored.Payload(), now)
	if err != nil {
		return err
	}
	n := g.hub.Room(want).Broadcast(out)
	g.log.Debug("ws.send.ok", "room", want, "id", stored.ID, "delivered", n)
	return nil
}

func (g *WSGateway) sendError(client *Client, code, msg string) {
	env, err := newEnvelope(v1.TypeError, v1.ErrorPayload{Code: code, Message: msg}, time.Now().UTC())
	if err != nil {
		return
	}
	if !client.offer(env) {
		g.log.Debug("ws.error.drop", "session_id", client.SessionID, "code", code)
	}
}

func newEnvelope(typ string, payload any, ts time.Time) (v1.Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return v1.Envelope{}, fmt.Errorf("encode %s: %w", typ, err)
	}
	return v1.NewEnvelope(typ, uuid.NewString(), ts, b), nil
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return readErrBadJSON
	}
	if strings.Contains(err.Error(), "unexpected end of JSON input") {
		return readErrBadJSON
	}
	return readErrUnknown
}
