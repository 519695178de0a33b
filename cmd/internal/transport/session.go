// Package transport owns the single authenticated WebSocket connection to the
// messaging server.
//
// A Session multiplexes room subscriptions over one connection, delivers inbound
// events to registered handlers on the event loop, keeps the link alive with
// pings, and redials with backoff when the link is lost.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"linkchat/cmd/internal/chat"
	"linkchat/cmd/internal/eventloop"
	"linkchat/cmd/internal/metrics"
	v1 "linkchat/contracts/realtime/v1"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// CredentialSource yields the current bearer credential, or "" when logged out.
type CredentialSource interface {
	AccessToken() string
}

// SendRequest is one outbound chat message.
type SendRequest struct {
	Room        string
	Content     string
	To          string
	ClientMsgID string
}

// Options carries the collaborators of a Session.
type Options struct {
	Log         *slog.Logger
	Loop        *eventloop.Loop
	Credentials CredentialSource
	Metrics     *metrics.Metrics
	// HTTPClient is used for the handshake; nil means http.DefaultClient.
	HTTPClient *http.Client
	Now        func() time.Time
}

// Session is one logical realtime connection. It survives link loss and may be
// reopened after Close.
type Session struct {
	cfg        Config
	log        *slog.Logger
	loop       *eventloop.Loop
	creds      CredentialSource
	metrics    *metrics.Metrics
	httpClient *http.Client
	now        func() time.Time
	limiter    *RateLimiter

	messages   registry[func(chat.Message)]
	acks       registry[func(chat.Ack)]
	states     registry[func(StateChange)]
	serverErrs registry[func(ServerError)]

	mu      sync.Mutex
	state   State
	lastErr error
	// epoch changes on every Open and Close; goroutines of an older epoch stop
	// touching session state.
	epoch  uint64
	conn   *websocket.Conn
	rooms  []string
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSession constructs a closed session. A nil Loop gets a private one.
func NewSession(cfg Config, opts Options) *Session {
	cfg = cfg.withDefaults()

	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	loop := opts.Loop
	if loop == nil {
		loop = eventloop.New(log)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Session{
		cfg:        cfg,
		log:        log,
		loop:       loop,
		creds:      opts.Credentials,
		metrics:    opts.Metrics,
		httpClient: opts.HTTPClient,
		now:        now,
		limiter:    NewRateLimiter(cfg.SendRateEvents, cfg.SendRateWindow),
	}
}

// State returns the current connection state and the error that caused it, if any.
func (s *Session) State() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.lastErr
}

// Open establishes the connection. It is a no-op while a connection is live or
// recovering.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.state.active() {
		s.mu.Unlock()
		return nil
	}
	token := s.token()
	if token == "" {
		s.mu.Unlock()
		return ErrAuthenticationMissing
	}
	if s.cfg.WSURL == "" {
		s.mu.Unlock()
		return errors.New("transport: missing ws url")
	}

	s.epoch++
	epoch := s.epoch
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.state, s.lastErr = StateConnecting, nil
	s.mu.Unlock()
	s.notify(StateChange{State: StateConnecting})

	conn, err := s.dial(ctx, token)
	if err != nil {
		s.log.Warn("transport.open.fail", "url", s.cfg.WSURL, "err", err)
		s.setState(epoch, StateDisconnected, err)
		cancel()
		return err
	}

	s.mu.Lock()
	if s.epoch != epoch {
		// Closed while dialing.
		s.mu.Unlock()
		_ = conn.CloseNow()
		cancel()
		return ErrNotOpen
	}
	s.conn = conn
	s.wg.Add(1)
	s.mu.Unlock()

	s.log.Info("transport.open", "url", s.cfg.WSURL)
	s.setState(epoch, StateConnected, nil)
	go s.supervise(runCtx, epoch, conn)
	return nil
}

// Subscribe joins room. The room is remembered and joined again after a reconnect.
// While the link is recovering the join is deferred until it is back.
func (s *Session) Subscribe(ctx context.Context, room string) error {
	room = strings.TrimSpace(room)
	if room == "" {
		return errors.New("transport: empty room")
	}

	s.mu.Lock()
	if !s.state.active() {
		s.mu.Unlock()
		return ErrNotOpen
	}
	if !slices.Contains(s.rooms, room) {
		s.rooms = append(s.rooms, room)
	}
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := s.write(ctx, conn, v1.TypeJoinRoom, v1.JoinRoomPayload{Room: room}); err != nil {
		return fmt.Errorf("transport: join %s: %w", room, err)
	}
	s.log.Info("transport.join", "room", room)
	return nil
}

// Emit writes a sendMessage event. It does not wait for the acknowledgment.
func (s *Session) Emit(ctx context.Context, req SendRequest) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		s.metrics.Send("error")
		return ErrNotOpen
	}
	if !s.limiter.Allow(s.now()) {
		s.metrics.Send("rate_limited")
		return ErrRateLimited
	}

	err := s.write(ctx, conn, v1.TypeSendMessage, v1.SendMessagePayload{
		Room:        req.Room,
		Content:     req.Content,
		To:          req.To,
		ClientMsgID: req.ClientMsgID,
	})
	if err != nil {
		s.metrics.Send("error")
		return fmt.Errorf("transport: emit: %w", err)
	}
	s.metrics.Send("ok")
	return nil
}

// Close tears the connection down and stops any recovery. Remembered rooms are
// forgotten. It is idempotent and the session may be opened again afterwards.
func (s *Session) Close() error {
	s.mu.Lock()
	prev := s.state
	s.epoch++
	cancel := s.cancel
	conn := s.conn
	s.cancel, s.conn, s.rooms = nil, nil, nil
	s.state, s.lastErr = StateClosed, nil
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	if prev != StateClosed {
		s.log.Info("transport.close", "from", prev.String())
		s.notify(StateChange{State: StateClosed})
	}
	return nil
}

// OnMessage registers h for receiveMessage events.
func (s *Session) OnMessage(h func(chat.Message)) HandlerID { return s.messages.add(h) }

// RemoveMessageHandler unregisters a message handler.
func (s *Session) RemoveMessageHandler(id HandlerID) bool { return s.messages.remove(id) }

// OnSendAck registers h for messageSent events.
func (s *Session) OnSendAck(h func(chat.Ack)) HandlerID { return s.acks.add(h) }

// RemoveSendAckHandler unregisters an ack handler.
func (s *Session) RemoveSendAckHandler(id HandlerID) bool { return s.acks.remove(id) }

// OnStateChange registers h for connection state transitions.
func (s *Session) OnStateChange(h func(StateChange)) HandlerID { return s.states.add(h) }

// RemoveStateHandler unregisters a state handler.
func (s *Session) RemoveStateHandler(id HandlerID) bool { return s.states.remove(id) }

// OnServerError registers h for error envelopes.
func (s *Session) OnServerError(h func(ServerError)) HandlerID { return s.serverErrs.add(h) }

// RemoveServerErrorHandler unregisters an error handler.
func (s *Session) RemoveServerErrorHandler(id HandlerID) bool { return s.serverErrs.remove(id) }

func (s *Session) token() string {
	if s.creds == nil {
		return ""
	}
	return strings.TrimSpace(s.creds.AccessToken())
}

func (s *Session) dial(ctx context.Context, token string) (*websocket.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
	defer cancel()

	conn, resp, err := websocket.Dial(dctx, s.cfg.WSURL, &websocket.DialOptions{
		HTTPClient:   s.httpClient,
		HTTPHeader:   http.Header{"Authorization": []string{"Bearer " + token}},
		Subprotocols: []string{v1.Subprotocol},
	})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("transport: handshake rejected (%d): %w", resp.StatusCode, ErrAuthenticationMissing)
		}
		return nil, fmt.Errorf("transport: dial: %w", err)
	}
	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return nil, fmt.Errorf("%w: got %q", ErrSubprotocol, sp)
	}
	conn.SetReadLimit(maxFrameBytes)
	return conn, nil
}

// supervise owns the connection of one epoch until Close or until recovery gives up.
func (s *Session) supervise(ctx context.Context, epoch uint64, conn *websocket.Conn) {
	defer s.wg.Done()

	for {
		err := s.serve(ctx, conn)
		if ctx.Err() != nil || !s.current(epoch) {
			return
		}
		s.log.Warn("transport.link.lost", "err", err)

		conn = s.reconnect(ctx, epoch, err)
		if conn == nil {
			return
		}
	}
}

// serve runs the read loop and heartbeat for conn and returns once the link is gone.
func (s *Session) serve(ctx context.Context, conn *websocket.Conn) error {
	hbCtx, hbCancel := context.WithCancel(ctx)
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		s.heartbeat(hbCtx, conn)
	}()

	err := s.readLoop(ctx, conn)

	hbCancel()
	<-hbDone
	_ = conn.CloseNow()
	return err
}

func (s *Session) heartbeat(ctx context.Context, conn *websocket.Conn) {
	t := time.NewTicker(s.cfg.HeartbeatInterval)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, s.cfg.HeartbeatTimeout)
			err := conn.Ping(pctx)
			cancel()

			if err == nil {
				failures = 0
				continue
			}
			if ctx.Err() != nil {
				return
			}
			failures++
			s.log.Info("transport.ping.fail", "failures", failures, "err", err)
			if failures >= s.cfg.MaxPingFailures {
				_ = conn.CloseNow()
				return
			}
		}
	}
}

// reconnect redials with backoff. It returns the new connection, or nil when the
// session was closed or attempts ran out.
func (s *Session) reconnect(ctx context.Context, epoch uint64, cause error) *websocket.Conn {
	if !s.setState(epoch, StateReconnecting, cause) {
		return nil
	}
	s.mu.Lock()
	if s.epoch == epoch {
		s.conn = nil
	}
	s.mu.Unlock()

	lastErr := cause
	if s.cfg.ReconnectMaxAttempts < 0 {
		s.setState(epoch, StateDisconnected, lastErr)
		return nil
	}

	b := newBackoff(s.cfg.ReconnectMin, s.cfg.ReconnectMax)
	timer := time.NewTimer(0)
	<-timer.C
	defer timer.Stop()

	for attempt := 1; attempt <= s.cfg.ReconnectMaxAttempts; attempt++ {
		timer.Reset(b.next())
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		token := s.token()
		if token == "" {
			lastErr = ErrAuthenticationMissing
			break
		}

		conn, err := s.dial(ctx, token)
		s.metrics.Reconnect(err == nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			lastErr = err
			s.log.Info("transport.reconnect.fail", "attempt", attempt, "err", err)
			if errors.Is(err, ErrAuthenticationMissing) {
				break
			}
			continue
		}

		rooms, ok := s.adopt(epoch, conn)
		if !ok {
			_ = conn.CloseNow()
			return nil
		}
		if err := s.rejoin(ctx, conn, rooms); err != nil {
			lastErr = err
			s.log.Info("transport.rejoin.fail", "attempt", attempt, "err", err)
			s.mu.Lock()
			if s.epoch == epoch {
				s.conn = nil
			}
			s.mu.Unlock()
			_ = conn.CloseNow()
			continue
		}

		s.log.Info("transport.reconnect.ok", "attempt", attempt, "rooms", len(rooms))
		s.setState(epoch, StateConnected, nil)
		return conn
	}

	s.log.Warn("transport.reconnect.giveup", "err", lastErr)
	s.setState(epoch, StateDisconnected, lastErr)
	return nil
}

func (s *Session) current(epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch == epoch
}

// adopt installs conn as the current connection and returns the rooms to rejoin.
func (s *Session) adopt(epoch uint64, conn *websocket.Conn) ([]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return nil, false
	}
	s.conn = conn
	return append([]string(nil), s.rooms...), true
}

func (s *Session) rejoin(ctx context.Context, conn *websocket.Conn, rooms []string) error {
	for _, room := range rooms {
		if err := s.write(ctx, conn, v1.TypeJoinRoom, v1.JoinRoomPayload{Room: room}); err != nil {
			return fmt.Errorf("transport: rejoin %s: %w", room, err)
		}
	}
	return nil
}

// setState records a transition for epoch and notifies handlers when it changed.
// It reports false when epoch is stale.
func (s *Session) setState(epoch uint64, st State, err error) bool {
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return false
	}
	changed := s.state != st
	s.state, s.lastErr = st, err
	s.mu.Unlock()

	if changed {
		s.log.Info("transport.state", "state", st.String(), "err", err)
		s.notify(StateChange{State: st, Err: err})
	}
	return true
}

func (s *Session) notify(ch StateChange) {
	s.metrics.ConnectionState(ch.State.String(), stateNames())
	s.loop.Post(func() {
		s.states.each(func(h func(StateChange)) { h(ch) })
	})
}

func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		mt, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if mt != websocket.MessageText {
			s.log.Info("transport.read.skip", "message_type", mt.String())
			continue
		}

		var env v1.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.log.Info("transport.read.bad_json", "err", err)
			continue
		}
		if err := env.Validate(); err != nil {
			s.log.Info("transport.read.bad_envelope", "err", err)
			continue
		}
		s.route(env)
	}
}

// route decodes an inbound envelope and posts its dispatch to the loop. Handlers
// are looked up when the task runs.
func (s *Session) route(env v1.Envelope) {
	switch env.Type {
	case v1.TypeReceiveMessage:
		var p v1.MessagePayload
		if err := env.Decode(&p); err != nil {
			s.log.Info("transport.read.bad_payload", "type", env.Type, "err", err)
			return
		}
		msg := chat.FromPayload(p)
		s.loop.Post(func() {
			s.messages.each(func(h func(chat.Message)) { h(msg) })
		})

	case v1.TypeMessageSent:
		var p v1.MessageSentPayload
		if err := env.Decode(&p); err != nil {
			s.log.Info("transport.read.bad_payload", "type", env.Type, "err", err)
			return
		}
		s.metrics.Ack()
		ack := chat.AckFromPayload(p)
		s.loop.Post(func() {
			s.acks.each(func(h func(chat.Ack)) { h(ack) })
		})

	case v1.TypeError:
		var p v1.ErrorPayload
		if err := env.Decode(&p); err != nil {
			s.log.Info("transport.read.bad_payload", "type", env.Type, "err", err)
			return
		}
		s.metrics.ServerError(p.Code)
		s.log.Warn("transport.server.error", "code", p.Code, "message", p.Message)
		se := ServerError{Code: p.Code, Message: p.Message}
		s.loop.Post(func() {
			s.serverErrs.each(func(h func(ServerError)) { h(se) })
		})

	default:
		s.log.Info("transport.read.unsupported", "type", env.Type)
	}
}

func (s *Session) write(ctx context.Context, conn *websocket.Conn, typ string, payload any) error {
	p, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	b, err := json.Marshal(v1.NewEnvelope(typ, uuid.NewString(), s.now().UTC(), p))
	if err != nil {
		return err
	}

	wctx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, b)
}
