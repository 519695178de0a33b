// Package conversation implements the controller behind the chat screen: which
// conversation is open, its history, live traffic, and locally sent messages,
// merged into one timeline.
//
// All controller state lives on the event loop. Public methods may be called from
// any goroutine except a loop task; network work runs on the caller's goroutine
// and its results are posted back to the loop.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"linkchat/cmd/identity/ids"
	"linkchat/cmd/internal/chat"
	"linkchat/cmd/internal/eventloop"
	"linkchat/cmd/internal/metrics"
	"linkchat/cmd/internal/reconcile"
	"linkchat/cmd/internal/room"
	"linkchat/cmd/internal/transport"
)

var (
	// ErrEmptyMessage is returned by Send for blank input.
	ErrEmptyMessage = errors.New("conversation: empty message")

	// ErrNoConversation is returned by Send when nothing is selected.
	ErrNoConversation = errors.New("conversation: no conversation selected")
)

// State is the controller lifecycle state.
type State uint8

const (
	StateIdle State = iota
	StateLoadingHistory
	StateReady
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoadingHistory:
		return "loading_history"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Transport is the realtime session as the controller uses it.
type Transport interface {
	room.Session
	State() (transport.State, error)
	Emit(ctx context.Context, req transport.SendRequest) error

	OnMessage(h func(chat.Message)) transport.HandlerID
	RemoveMessageHandler(id transport.HandlerID) bool
	OnSendAck(h func(chat.Ack)) transport.HandlerID
	RemoveSendAckHandler(id transport.HandlerID) bool
	OnStateChange(h func(transport.StateChange)) transport.HandlerID
	RemoveStateHandler(id transport.HandlerID) bool
}

// HistoryFetcher loads persisted messages between two users.
type HistoryFetcher interface {
	Fetch(ctx context.Context, sender, receiver string) ([]chat.Message, error)
}

// View is an immutable snapshot of what the chat screen shows.
type View struct {
	State       State
	Counterpart string
	Room        string
	Messages    []chat.Message
	// Err is the failure that moved the controller to StateError.
	Err error
	// Alert is a non-fatal notice, such as a send that could not be written.
	Alert      string
	Connection transport.State
}

// Options carries the controller's collaborators.
type Options struct {
	LocalUser string
	Transport Transport
	History   HistoryFetcher
	Loop      *eventloop.Loop
	Log       *slog.Logger
	Metrics   *metrics.Metrics

	Now            func() time.Time
	NewClientMsgID func(time.Time) string
}

// Controller drives one chat screen.
type Controller struct {
	local     string
	transport Transport
	history   HistoryFetcher
	loop      *eventloop.Loop
	log       *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
	newID     func(time.Time) string
	rooms     *room.Manager

	// selectMu serializes Select and Deselect so room activation happens in
	// call order.
	selectMu sync.Mutex

	obsMu     sync.Mutex
	obsNext   int
	observers []observer

	// Loop-owned.
	state       State
	gen         uint64
	counterpart string
	room        string
	hist        []chat.Message
	live        []chat.Message
	pending     []chat.Message
	timeline    []chat.Message
	err         error
	alert       string
	conn        transport.State
	handlers    handlerSet
}

type observer struct {
	id int
	fn func(View)
}

type handlerSet struct {
	active bool
	msg    transport.HandlerID
	ack    transport.HandlerID
	state  transport.HandlerID
}

// New constructs an idle controller.
func New(opts Options) (*Controller, error) {
	local := strings.TrimSpace(opts.LocalUser)
	if local == "" {
		return nil, fmt.Errorf("conversation: %w", room.ErrInvalidParticipant)
	}
	if opts.Transport == nil || opts.History == nil || opts.Loop == nil {
		return nil, errors.New("conversation: transport, history, and loop are required")
	}

	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	newID := opts.NewClientMsgID
	if newID == nil {
		newID = ids.NewClientMsgID
	}

	return &Controller{
		local:     local,
		transport: opts.Transport,
		history:   opts.History,
		loop:      opts.Loop,
		log:       log,
		metrics:   opts.Metrics,
		now:       now,
		newID:     newID,
		rooms:     room.NewManager(log, opts.Transport),
	}, nil
}

// LocalUser returns the id of the logged-in user.
func (c *Controller) LocalUser() string { return c.local }

// Select opens the conversation with counterpart. The previous conversation is
// torn down first. Select returns after history has loaded or failed; the error
// is also visible in View. Selecting the open conversation again is a no-op
// unless it is in the error state, in which case it is retried.
func (c *Controller) Select(ctx context.Context, counterpart string) error {
	counterpart = strings.TrimSpace(counterpart)
	roomID, err := room.Token(c.local, counterpart)
	if err != nil {
		return err
	}

	c.selectMu.Lock()

	var (
		gen  uint64
		same bool
	)
	err = c.loop.Do(ctx, func() {
		if c.counterpart == counterpart && c.state != StateError {
			same = true
			return
		}
		c.teardown()
		c.gen++
		gen = c.gen
		c.counterpart, c.room = counterpart, roomID
		c.state = StateLoadingHistory
		c.register(gen)
		c.log.Info("conversation.select", "counterpart", counterpart, "room", roomID)
		c.changed()
	})
	if err != nil || same {
		c.selectMu.Unlock()
		return err
	}

	_, err = c.rooms.Activate(ctx, c.local, counterpart)
	c.selectMu.Unlock()
	if err != nil {
		c.log.Warn("conversation.activate.fail", "room", roomID, "err", err)
		_ = c.loop.Do(context.WithoutCancel(ctx), func() { c.fail(gen, err) })
		return err
	}

	msgs, fetchErr := c.history.Fetch(ctx, c.local, counterpart)

	var current bool
	if err := c.loop.Do(context.WithoutCancel(ctx), func() {
		current = c.onHistory(gen, msgs, fetchErr)
	}); err != nil {
		return err
	}
	if current {
		return fetchErr
	}
	return nil
}

// Deselect closes the open conversation and returns to idle.
func (c *Controller) Deselect() {
	c.selectMu.Lock()
	defer c.selectMu.Unlock()

	_ = c.loop.Do(context.Background(), func() {
		if c.counterpart != "" {
			c.log.Info("conversation.deselect", "counterpart", c.counterpart)
		}
		c.teardown()
		c.gen++
		c.state = StateIdle
		c.changed()
	})
	c.rooms.Deactivate()
}

// Close deselects the open conversation.
func (c *Controller) Close() { c.Deselect() }

// Send appends text to the open conversation as a pending message and writes it
// to the transport. A write failure leaves the entry pending and sets View.Alert.
func (c *Controller) Send(ctx context.Context, text string) error {
	content := chat.NormalizeContent(text)
	if content == "" {
		return ErrEmptyMessage
	}

	var (
		req transport.SendRequest
		gen uint64
	)
	err := c.loop.Do(ctx, func() {
		if c.counterpart == "" {
			return
		}
		now := c.now().UTC()
		m := chat.Message{
			ClientMsgID: c.newID(now),
			Room:        c.room,
			Sender:      c.local,
			Recipient:   c.counterpart,
			Content:     content,
			Timestamp:   now,
			Status:      chat.StatusSending,
		}
		c.pending = append(c.pending, m)
		c.alert = ""
		gen = c.gen
		req = transport.SendRequest{Room: c.room, Content: content, To: c.counterpart, ClientMsgID: m.ClientMsgID}
		c.recompute()
	})
	if err != nil {
		return err
	}
	if req.Room == "" {
		return ErrNoConversation
	}

	if err := c.transport.Emit(ctx, req); err != nil {
		c.log.Warn("conversation.send.fail", "room", req.Room, "client_msg_id", req.ClientMsgID, "err", err)
		c.loop.Post(func() {
			if c.gen != gen {
				return
			}
			c.alert = fmt.Sprintf("message not sent: %v", err)
			c.changed()
		})
		return err
	}
	return nil
}

// View returns the current snapshot.
func (c *Controller) View() View {
	var v View
	_ = c.loop.Do(context.Background(), func() { v = c.snapshot() })
	return v
}

// OnChange registers fn to receive a snapshot after every change. fn runs on the
// event loop and must not call back into the controller. The returned func
// unregisters it.
func (c *Controller) OnChange(fn func(View)) (cancel func()) {
	c.obsMu.Lock()
	c.obsNext++
	id := c.obsNext
	c.observers = append(c.observers, observer{id: id, fn: fn})
	c.obsMu.Unlock()

	return func() {
		c.obsMu.Lock()
		c.observers = slices.DeleteFunc(c.observers, func(o observer) bool { return o.id == id })
		c.obsMu.Unlock()
	}
}

func (c *Controller) register(gen uint64) {
	c.handlers = handlerSet{
		active: true,
		msg: c.transport.OnMessage(func(m chat.Message) {
			if c.gen == gen {
				c.onLive(m)
			}
		}),
		ack: c.transport.OnSendAck(func(a chat.Ack) {
			if c.gen == gen {
				c.onAck(a)
			}
		}),
		state: c.transport.OnStateChange(func(sc transport.StateChange) {
			if c.gen == gen {
				c.onConnection(sc)
			}
		}),
	}
	c.conn, _ = c.transport.State()
}

// teardown unregisters every handler of the open conversation and drops its data.
func (c *Controller) teardown() {
	if c.handlers.active {
		c.transport.RemoveMessageHandler(c.handlers.msg)
		c.transport.RemoveSendAckHandler(c.handlers.ack)
		c.transport.RemoveStateHandler(c.handlers.state)
		c.handlers = handlerSet{}
	}
	c.counterpart, c.room = "", ""
	c.hist, c.live, c.pending, c.timeline = nil, nil, nil, nil
	c.err, c.alert = nil, ""
	c.metrics.Pending(0)
}

func (c *Controller) fail(gen uint64, err error) {
	if c.gen != gen {
		return
	}
	c.state = StateError
	c.err = err
	c.changed()
}

// onHistory applies a fetch result and reports whether it was still current.
func (c *Controller) onHistory(gen uint64, msgs []chat.Message, err error) bool {
	if c.gen != gen {
		c.log.Info("conversation.history.stale", "gen", gen, "current", c.gen)
		return false
	}
	if err != nil {
		c.log.Warn("conversation.history.fail", "room", c.room, "err", err)
		c.fail(gen, err)
		return true
	}

	c.hist = make([]chat.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Room == "" {
			m.Room = c.room
		}
		c.hist = append(c.hist, m)
	}
	c.state = StateReady
	c.log.Info("conversation.history.ok", "room", c.room, "count", len(c.hist))
	c.recompute()
	return true
}

func (c *Controller) onLive(m chat.Message) {
	if !c.belongs(m) {
		c.metrics.Live(false)
		c.log.Debug("conversation.live.drop", "room", m.Room, "active", c.room)
		return
	}
	c.metrics.Live(true)

	if m.Room == "" {
		m.Room = c.room
	}
	c.live = append(c.live, m)
	if i := c.pendingForLive(m); i >= 0 {
		c.pending = slices.Delete(c.pending, i, i+1)
	}
	c.recompute()
}

func (c *Controller) onAck(a chat.Ack) {
	if a.Room != "" && a.Room != c.room {
		return
	}
	if a.Sender == "" {
		a.Sender = c.local
	}

	i := c.pendingForAck(a)
	if i < 0 {
		c.log.Debug("conversation.ack.unmatched", "id", a.ID, "client_msg_id", a.ClientMsgID)
		return
	}

	p := &c.pending[i]
	p.Status = p.Status.Advance(chat.StatusSent)
	if p.ID == "" {
		p.ID = a.ID
	}
	if !a.Timestamp.IsZero() {
		p.Timestamp = a.Timestamp
	}
	c.recompute()
}

func (c *Controller) onConnection(sc transport.StateChange) {
	c.conn = sc.State
	switch sc.State {
	case transport.StateDisconnected:
		if sc.Err != nil {
			c.alert = fmt.Sprintf("connection lost: %v", sc.Err)
		} else {
			c.alert = "connection lost"
		}
	case transport.StateConnected:
		if strings.HasPrefix(c.alert, "connection lost") {
			c.alert = ""
		}
	}
	c.changed()
}

// belongs reports whether m is traffic of the open room. Messages without a room
// are matched by their participants.
func (c *Controller) belongs(m chat.Message) bool {
	if c.room == "" {
		return false
	}
	if m.Room != "" {
		return m.Room == c.room
	}
	r, err := room.Token(m.Sender, m.Recipient)
	return err == nil && r == c.room
}

// pendingForAck matches by client token. Only acks without a token fall back to
// the oldest sending entry with the same text; a tokened ack whose entry was
// already pruned by its echo matches nothing.
func (c *Controller) pendingForAck(a chat.Ack) int {
	if a.ClientMsgID != "" {
		for i, p := range c.pending {
			if p.ClientMsgID == a.ClientMsgID {
				return i
			}
		}
		return -1
	}
	for i, p := range c.pending {
		if p.Status == chat.StatusSending && p.Sender == a.Sender && p.Content == a.Content {
			return i
		}
	}
	return -1
}

// pendingForLive matches by client token, then server id, then text for
// messages that carry no client token.
func (c *Controller) pendingForLive(m chat.Message) int {
	if m.ClientMsgID != "" {
		for i, p := range c.pending {
			if p.ClientMsgID == m.ClientMsgID {
				return i
			}
		}
	}
	if m.ID != "" {
		for i, p := range c.pending {
			if p.ID == m.ID {
				return i
			}
		}
	}
	if m.ClientMsgID == "" {
		for i, p := range c.pending {
			if p.SameText(m) {
				return i
			}
		}
	}
	return -1
}

func (c *Controller) recompute() {
	c.timeline = reconcile.Merge(reconcile.Inputs{
		LocalUser: c.local,
		History:   c.hist,
		Live:      c.live,
		Pending:   c.pending,
	})
	c.metrics.Pending(len(c.pending))
	c.changed()
}

func (c *Controller) snapshot() View {
	return View{
		State:       c.state,
		Counterpart: c.counterpart,
		Room:        c.room,
		Messages:    slices.Clone(c.timeline),
		Err:         c.err,
		Alert:       c.alert,
		Connection:  c.conn,
	}
}

func (c *Controller) changed() {
	c.obsMu.Lock()
	if len(c.observers) == 0 {
		c.obsMu.Unlock()
		return
	}
	obs := slices.Clone(c.observers)
	c.obsMu.Unlock()

	v := c.snapshot()
	for _, o := range obs {
		o.fn(v)
	}
}
