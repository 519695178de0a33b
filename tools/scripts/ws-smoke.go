// Package main provides a CI-friendly smoke test for a running linkchat server.
//
// It validates:
//   - bearer handshake + subprotocol selection
//   - joinRoom for both participants
//   - sendMessage -> messageSent ack to the sender
//   - receiveMessage fanout to the other participant
//   - REST history fetch
//   - idempotent dedupe by client_msg_id
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	v1 "linkchat/contracts/realtime/v1"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const maxReadBytes = 1 << 20 // 1MiB

type smokeClient struct {
	name string
	user string
	conn *websocket.Conn

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		apiURL  = flag.String("api", "http://127.0.0.1:8080", "REST base URL")
		origin  = flag.String("origin", "", "Origin header to send (browser-like WS handshake)")
		userA   = flag.String("user-a", "alice", "first participant")
		userB   = flag.String("user-b", "bob", "second participant")
		tokenA  = flag.String("token-a", "tok-alice", "access token of the first participant")
		tokenB  = flag.String("token-b", "tok-bob", "access token of the second participant")
		text    = flag.String("text", "hello linkchat 👋", "Message text to send")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()
	room := roomToken(*userA, *userB)

	a := mustConnect(root, "A", *userA, *tokenA, *wsURL, *origin, *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", *userB, *tokenB, *wsURL, *origin, *timeout)
	defer closeWS(b.conn)

	if *verbose {
		fmt.Printf("connected: A=%s B=%s room=%s\n", a.user, b.user, room)
	}

	mustJoin(root, a, room, *timeout)
	mustJoin(root, b, room, *timeout)

	clientMsgID := uuid.NewString()

	msgID := mustSendAndAssertAck(root, a, room, b.user, clientMsgID, *text, *timeout)

	mustAssertReceive(root, b, room, clientMsgID, msgID, a.user, *text, *timeout)

	mustHistoryContains(root, *apiURL, *tokenB, a.user, b.user, msgID, *text, *timeout)

	again := mustSendAndAssertAck(root, a, room, b.user, clientMsgID, *text, *timeout)
	if again != msgID {
		fatalf("dedupe: id mismatch: first=%s second=%s", msgID, again)
	}

	mustAssertNoType(root, b, v1.TypeReceiveMessage, 1200*time.Millisecond)

	fmt.Printf("OK: room=%s id=%s client_msg_id=%s\n", room, msgID, clientMsgID)
}

// roomToken mirrors the server's room naming: both ids sorted and joined with "_".
func roomToken(a, b string) string {
	ids := []string{strings.TrimSpace(a), strings.TrimSpace(b)}
	sort.Strings(ids)
	return strings.Join(ids, "_")
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, user, token, wsURL, origin string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}
	if got := conn.Subprotocol(); got != v1.Subprotocol {
		fatalf("subprotocol mismatch (%s): got=%q want=%q", name, got, v1.Subprotocol)
	}

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		user:  user,
		conn:  conn,
		inbox: make(chan v1.Envelope, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()
	return c
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				c.fail(err)
				return
			}
			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				c.fail(fmt.Errorf("unsupported message type: %v", mt))
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				c.fail(fmt.Errorf("bad json: %w", err))
				return
			}
			if err := env.Validate(); err != nil {
				c.fail(fmt.Errorf("bad envelope: %w", err))
				return
			}

			select {
			case c.inbox <- env:
			default:
				c.fail(errors.New("inbox overflow: consumer too slow"))
				return
			}
		}
	}()
}

func (c *smokeClient) fail(err error) {
	select {
	case c.errCh <- err:
	default:
	}
}

// mustJoin joins room and waits until the server has processed the join. The
// server handles frames in order and answers a server-only type with an
// "unsupported" error, so that error marks the join as applied.
func mustJoin(parent context.Context, c *smokeClient, room string, stepTimeout time.Duration) {
	mustWrite(parent, c, v1.TypeJoinRoom, v1.JoinRoomPayload{Room: room}, stepTimeout)
	mustWrite(parent, c, v1.TypeReceiveMessage, v1.MessagePayload{}, stepTimeout)

	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()
	for {
		env := c.next(ctx, "join barrier")
		if env.Type != v1.TypeError {
			continue
		}
		var ep v1.ErrorPayload
		_ = env.Decode(&ep)
		if ep.Code == "unsupported" {
			return
		}
		fatalf("join failed (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
	}
}

func mustSendAndAssertAck(parent context.Context, c *smokeClient, room, to, clientMsgID, text string, stepTimeout time.Duration) string {
	mustWrite(parent, c, v1.TypeSendMessage, v1.SendMessagePayload{
		Room:        room,
		To:          to,
		Content:     text,
		ClientMsgID: clientMsgID,
	}, stepTimeout)

	skip := map[string]struct{}{v1.TypeReceiveMessage: {}}
	ack := c.mustReadUntilType(parent, v1.TypeMessageSent, stepTimeout, skip)

	var p v1.MessageSentPayload
	if err := ack.Decode(&p); err != nil {
		fatalf("decode messageSent (%s): %v", c.name, err)
	}
	if p.ClientMsgID != clientMsgID {
		fatalf("ack client_msg_id mismatch (%s): got=%q want=%q", c.name, p.ClientMsgID, clientMsgID)
	}
	if strings.TrimSpace(p.ID) == "" {
		fatalf("ack missing _id (%s)", c.name)
	}
	if p.Sender != c.user || p.Content != text {
		fatalf("ack echo mismatch (%s): sender=%q content=%q", c.name, p.Sender, p.Content)
	}
	if p.Timestamp.IsZero() {
		fatalf("ack timestamp missing/zero (%s)", c.name)
	}
	return p.ID
}

func mustAssertReceive(parent context.Context, c *smokeClient, room, clientMsgID, id, sender, text string, stepTimeout time.Duration) {
	env := c.mustReadUntilType(parent, v1.TypeReceiveMessage, stepTimeout, nil)

	var p v1.MessagePayload
	if err := env.Decode(&p); err != nil {
		fatalf("decode receiveMessage (%s): %v", c.name, err)
	}
	if p.ID != id {
		fatalf("receive _id mismatch (%s): got=%q want=%q", c.name, p.ID, id)
	}
	if p.ClientMsgID != clientMsgID {
		fatalf("receive client_msg_id mismatch (%s): got=%q want=%q", c.name, p.ClientMsgID, clientMsgID)
	}
	if p.Room != room || p.Sender != sender || p.Content != text {
		fatalf("receive mismatch (%s): room=%q sender=%q content=%q", c.name, p.Room, p.Sender, p.Content)
	}
}

func mustHistoryContains(parent context.Context, apiURL, token, sender, receiver, id, text string, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	endpoint := strings.TrimRight(apiURL, "/") + "/messages/" + url.PathEscape(sender) + "/" + url.PathEscape(receiver)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		fatalf("history request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("history fetch: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fatalf("history status: %d", resp.StatusCode)
	}

	var msgs []v1.MessagePayload
	if err := json.NewDecoder(resp.Body).Decode(&msgs); err != nil {
		fatalf("history decode: %v", err)
	}
	for _, m := range msgs {
		if m.ID == id && m.Content == text && m.Sender == sender {
			return
		}
	}
	fatalf("history missing message %s (%d entries)", id, len(msgs))
}

func mustAssertNoType(parent context.Context, c *smokeClient, forbiddenType string, wait time.Duration) {
	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-c.errCh:
			fatalf("connection closed unexpectedly (%s): %v", c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = env.Decode(&ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if env.Type == forbiddenType {
				fatalf("unexpected %s received (%s)", forbiddenType, c.name)
			}
		}
	}
}

func (c *smokeClient) next(ctx context.Context, what string) v1.Envelope {
	select {
	case <-ctx.Done():
		fatalf("timeout waiting for %s (%s): %v", what, c.name, ctx.Err())
	case err := <-c.errCh:
		fatalf("connection error while waiting for %s (%s): %v", what, c.name, err)
	case env, ok := <-c.inbox:
		if !ok {
			fatalf("connection closed while waiting for %s (%s)", what, c.name)
		}
		return env
	}
	panic("unreachable")
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration, skipTypes map[string]struct{}) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		env := c.next(ctx, fmt.Sprintf("%q", wantType))
		if env.Type == wantType {
			return env
		}
		if env.Type == v1.TypeError {
			var ep v1.ErrorPayload
			_ = env.Decode(&ep)
			fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
		}
		if _, ok := skipTypes[env.Type]; ok {
			continue
		}
		fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, wantType)
	}
}

func mustWrite(parent context.Context, c *smokeClient, typ string, payload any, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	raw, err := json.Marshal(payload)
	if err != nil {
		fatalf("marshal payload: %v", err)
	}
	b, err := json.Marshal(v1.NewEnvelope(typ, uuid.NewString(), time.Now().UTC(), raw))
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := c.conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed (%s): %v", c.name, err)
	}
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
