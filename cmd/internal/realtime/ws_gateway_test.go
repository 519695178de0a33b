package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	v1 "linkchat/contracts/realtime/v1"

	"github.com/coder/websocket"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func startTestServer(t *testing.T, opts ServerOptions) (*Server, *httptest.Server) {
	t.Helper()
	opts.Log = quietLogger()
	srv := NewServer(opts)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func grant(t *testing.T, srv *Server, user string) string {
	t.Helper()
	tok := "tok-" + user
	srv.Tokens.Grant(tok, user)
	return tok
}

func dialWS(t *testing.T, baseHTTPURL string, bearerToken string) (*websocket.Conn, *http.Response, error) {
	t.Helper()

	u, err := url.Parse(baseHTTPURL)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	u.Scheme = "ws"
	u.Path = "/ws"

	h := http.Header{}
	if strings.TrimSpace(bearerToken) != "" {
		h.Set("Authorization", "Bearer "+bearerToken)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
}

func mustDial(t *testing.T, baseHTTPURL, bearerToken string) *websocket.Conn {
	t.Helper()
	conn, resp, err := dialWS(t, baseHTTPURL, bearerToken)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") })
	return conn
}

func writeEnvelopeWS(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	env := v1.NewEnvelope(typ, "test-"+typ, time.Now().UTC(), mustJSONRaw(t, payload))
	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		t.Fatalf("conn.Write: %v", err)
	}
}

func readUntilType(t *testing.T, conn *websocket.Conn, typ string, maxReads int) v1.Envelope {
	t.Helper()
	if maxReads <= 0 {
		maxReads = 1
	}
	for i := 0; i < maxReads; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, b, err := conn.Read(ctx)
		cancel()
		if err != nil {
			t.Fatalf("conn.Read: %v", err)
		}
		var env v1.Envelope
		if err := json.Unmarshal(b, &env); err != nil {
			t.Fatalf("unmarshal envelope: %v", err)
		}
		if env.Type == typ {
			return env
		}
	}
	t.Fatalf("did not receive envelope type %q", typ)
	return v1.Envelope{}
}

// barrier round-trips an invalid envelope. The gateway handles frames in order,
// so once the error arrives every earlier frame has been processed.
func barrier(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	writeEnvelopeWS(t, conn, "ping", struct{}{})
	env := readUntilType(t, conn, v1.TypeError, 4)
	var p v1.ErrorPayload
	mustDecode(t, env, &p)
	if p.Code != CodeBadEnvelope {
		t.Fatalf("barrier code=%q want %q", p.Code, CodeBadEnvelope)
	}
}

func mustJSONRaw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	return b
}

func mustDecode(t *testing.T, env v1.Envelope, dst any) {
	t.Helper()
	if err := env.Decode(dst); err != nil {
		t.Fatalf("decode %s: %v", env.Type, err)
	}
}

func TestWSGateway_UnauthorizedRejected(t *testing.T) {
	t.Parallel()

	_, ts := startTestServer(t, ServerOptions{})

	for _, bearer := range []string{"", "unknown"} {
		conn, resp, err := dialWS(t, ts.URL, bearer)
		if err == nil {
			_ = conn.Close(websocket.StatusNormalClosure, "bye")
			t.Fatalf("bearer %q: expected dial failure", bearer)
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("bearer %q: expected 401 response, got %+v", bearer, resp)
		}
		_ = resp.Body.Close()
	}
}

func TestWSGateway_SendDeliversToBothParticipants(t *testing.T) {
	t.Parallel()

	srv, ts := startTestServer(t, ServerOptions{})
	alice := mustDial(t, ts.URL, grant(t, srv, "alice"))
	bob := mustDial(t, ts.URL, grant(t, srv, "bob"))

	const room = "alice_bob"
	writeEnvelopeWS(t, alice, v1.TypeJoinRoom, v1.JoinRoomPayload{Room: room})
	writeEnvelopeWS(t, bob, v1.TypeJoinRoom, v1.JoinRoomPayload{Room: room})
	barrier(t, alice)
	barrier(t, bob)

	writeEnvelopeWS(t, alice, v1.TypeSendMessage, v1.SendMessagePayload{
		Room: room, Content: "  hello  ", To: "bob", ClientMsgID: "c-1",
	})

	var ack v1.MessageSentPayload
	mustDecode(t, readUntilType(t, alice, v1.TypeMessageSent, 4), &ack)
	if ack.ID == "" || ack.ClientMsgID != "c-1" || ack.Content != "hello" || ack.Sender != "alice" || ack.Room != room {
		t.Fatalf("unexpected ack: %+v", ack)
	}
	if ack.Timestamp.IsZero() {
		t.Fatalf("ack must carry the server timestamp")
	}

	var own v1.MessagePayload
	mustDecode(t, readUntilType(t, alice, v1.TypeReceiveMessage, 4), &own)
	if own.ID != ack.ID {
		t.Fatalf("sender echo id=%q want %q", own.ID, ack.ID)
	}

	var got v1.MessagePayload
	mustDecode(t, readUntilType(t, bob, v1.TypeReceiveMessage, 4), &got)
	if got.ID != ack.ID || got.Sender != "alice" || got.Receiver != "bob" || got.Content != "hello" || got.ClientMsgID != "c-1" {
		t.Fatalf("unexpected delivery: %+v", got)
	}
}

func TestWSGateway_DuplicateClientMsgIDStoredOnce(t *testing.T) {
	t.Parallel()

	srv, ts := startTestServer(t, ServerOptions{})
	alice := mustDial(t, ts.URL, grant(t, srv, "alice"))

	send := v1.SendMessagePayload{Room: "alice_bob", Content: "again", To: "bob", ClientMsgID: "c-dup"}

	writeEnvelopeWS(t, alice, v1.TypeSendMessage, send)
	var first v1.MessageSentPayload
	mustDecode(t, readUntilType(t, alice, v1.TypeMessageSent, 4), &first)

	writeEnvelopeWS(t, alice, v1.TypeSendMessage, send)
	var second v1.MessageSentPayload
	mustDecode(t, readUntilType(t, alice, v1.TypeMessageSent, 4), &second)

	if first.ID != second.ID {
		t.Fatalf("duplicate send minted a new id: %q vs %q", first.ID, second.ID)
	}
	msgs, err := srv.Store.Between(context.Background(), "alice", "bob")
	if err != nil {
		t.Fatalf("Between: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("stored=%d want 1", len(msgs))
	}
}

func TestWSGateway_Rejections(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		typ      string
		payload  any
		wantCode string
	}{
		{name: "join foreign room", typ: v1.TypeJoinRoom, payload: v1.JoinRoomPayload{Room: "bob_carol"}, wantCode: CodeJoinFailed},
		{name: "join room of another pair", typ: v1.TypeJoinRoom, payload: v1.JoinRoomPayload{Room: "alice_bob_carol"}, wantCode: CodeJoinFailed},
		{name: "join empty room", typ: v1.TypeJoinRoom, payload: v1.JoinRoomPayload{}, wantCode: CodeJoinFailed},
		{name: "room mismatch", typ: v1.TypeSendMessage, payload: v1.SendMessagePayload{Room: "bob_carol", Content: "x", To: "bob"}, wantCode: CodeSendFailed},
		{name: "missing recipient", typ: v1.TypeSendMessage, payload: v1.SendMessagePayload{Room: "alice_bob", Content: "x"}, wantCode: CodeSendFailed},
		{name: "blank content", typ: v1.TypeSendMessage, payload: v1.SendMessagePayload{Room: "alice_bob", Content: "   ", To: "bob"}, wantCode: CodeSendFailed},
		{name: "too long", typ: v1.TypeSendMessage, payload: v1.SendMessagePayload{Room: "alice_bob", Content: strings.Repeat("a", maxMessageChars+1), To: "bob"}, wantCode: CodeSendFailed},
		{name: "server-only type", typ: v1.TypeReceiveMessage, payload: v1.MessagePayload{}, wantCode: CodeUnsupported},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv, ts := startTestServer(t, ServerOptions{})
			conn := mustDial(t, ts.URL, grant(t, srv, "alice"))

			writeEnvelopeWS(t, conn, tc.typ, tc.payload)

			var p v1.ErrorPayload
			mustDecode(t, readUntilType(t, conn, v1.TypeError, 4), &p)
			if p.Code != tc.wantCode {
				t.Fatalf("code=%q want %q (message=%q)", p.Code, tc.wantCode, p.Message)
			}
		})
	}
}

func TestWSGateway_RateLimitClosesConnection(t *testing.T) {
	t.Parallel()

	srv, ts := startTestServer(t, ServerOptions{Gateway: GatewayConfig{RateEvents: 2, RateWindow: time.Hour}})
	conn := mustDial(t, ts.URL, grant(t, srv, "alice"))

	for i := 0; i < 3; i++ {
		writeEnvelopeWS(t, conn, v1.TypeJoinRoom, v1.JoinRoomPayload{Room: "alice_bob"})
	}

	var p v1.ErrorPayload
	mustDecode(t, readUntilType(t, conn, v1.TypeError, 4), &p)
	if p.Code != CodeRateLimited {
		t.Fatalf("code=%q want %q", p.Code, CodeRateLimited)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	if got := websocket.CloseStatus(err); got != websocket.StatusPolicyViolation {
		t.Fatalf("close status=%v want %v (err=%v)", got, websocket.StatusPolicyViolation, err)
	}
}

func TestWSGateway_LeaveOnDisconnect(t *testing.T) {
	t.Parallel()

	srv, ts := startTestServer(t, ServerOptions{})
	conn := mustDial(t, ts.URL, grant(t, srv, "alice"))

	writeEnvelopeWS(t, conn, v1.TypeJoinRoom, v1.JoinRoomPayload{Room: "alice_bob"})
	barrier(t, conn)
	if n := srv.Hub.Members("alice_bob"); n != 1 {
		t.Fatalf("members=%d want 1", n)
	}

	_ = conn.Close(websocket.StatusNormalClosure, "bye")

	deadline := time.Now().Add(5 * time.Second)
	for srv.Hub.Members("alice_bob") != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("member not removed after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestIsParticipant(t *testing.T) {
	t.Parallel()

	cases := []struct {
		token, user string
		want        bool
	}{
		{"alice_bob", "alice", true},
		{"alice_bob", "bob", true},
		{"alice_bob", "carol", false},
		{"alice_bob", "ali", false},
		{"a_b_c", "a", false},
		{"a_b_c", "a_b", false},
		{"a_b_c", "c", false},
		{"alice_", "alice", false},
		{"alice", "alice", false},
		{"alice_bob", "", false},
	}
	for _, tc := range cases {
		if got := isParticipant(tc.token, tc.user); got != tc.want {
			t.Errorf("isParticipant(%q, %q)=%v want %v", tc.token, tc.user, got, tc.want)
		}
	}
}
