package app

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"linkchat/cmd/internal/auth/credentials"
	"linkchat/cmd/internal/chat"
	"linkchat/cmd/internal/conversation"
	"linkchat/cmd/internal/transport"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func startDevServer(t *testing.T) (*App, *httptest.Server) {
	t.Helper()
	cfg := Defaults()
	cfg.DevTokens = map[string]string{"tok-alice": "alice", "tok-bob": "bob"}

	a := New(cfg, quietLogger())
	ts := httptest.NewServer(a.Handler())
	t.Cleanup(ts.Close)
	return a, ts
}

func startClient(t *testing.T, baseURL string, user string, pair credentials.Pair) *Client {
	t.Helper()
	cfg := Defaults()
	cfg.UserID = user
	cfg.APIBaseURL = baseURL
	cfg.CredentialsFile = ""
	cfg.AccessToken = pair.Access
	cfg.RefreshToken = pair.Refresh

	c, err := NewClient(cfg, quietLogger())
	if err != nil {
		t.Fatalf("NewClient(%s): %v", user, err)
	}
	t.Cleanup(c.Close)
	return c
}

func waitView(t *testing.T, c *conversation.Controller, what string, ok func(conversation.View) bool) conversation.View {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		v := c.View()
		if ok(v) {
			return v
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s; last view: %+v", what, v)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEndToEnd_ConversationOverDevServer(t *testing.T) {
	t.Parallel()

	a, ts := startDevServer(t)
	alice := startClient(t, ts.URL, "alice", credentials.Pair{Access: "tok-alice"})
	bob := startClient(t, ts.URL, "bob", credentials.Pair{Access: "tok-bob"})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := alice.Controller.Select(ctx, "bob"); err != nil {
		t.Fatalf("alice Select: %v", err)
	}
	if err := bob.Controller.Select(ctx, "alice"); err != nil {
		t.Fatalf("bob Select: %v", err)
	}
	// Joins are processed asynchronously by the server.
	deadline := time.Now().Add(5 * time.Second)
	for a.Dev().Hub.Members("alice_bob") != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("both participants should have joined, members=%d", a.Dev().Hub.Members("alice_bob"))
		}
		time.Sleep(10 * time.Millisecond)
	}

	if v := alice.Controller.View(); v.State != conversation.StateReady || v.Room != "alice_bob" || v.Connection != transport.StateConnected {
		t.Fatalf("alice view after select: %+v", v)
	}

	if err := alice.Controller.Send(ctx, "hello bob"); err != nil {
		t.Fatalf("alice Send: %v", err)
	}

	av := waitView(t, alice.Controller, "alice's message delivered", func(v conversation.View) bool {
		return len(v.Messages) == 1 && v.Messages[0].Status == chat.StatusDelivered
	})
	if av.Messages[0].ID == "" || av.Messages[0].Content != "hello bob" {
		t.Fatalf("alice message: %+v", av.Messages[0])
	}

	bv := waitView(t, bob.Controller, "bob receives alice's message", func(v conversation.View) bool {
		return len(v.Messages) == 1
	})
	if got := bv.Messages[0]; got.Sender != "alice" || got.Status != chat.StatusNone || got.ID != av.Messages[0].ID {
		t.Fatalf("bob sees %+v", got)
	}

	if err := bob.Controller.Send(ctx, "hi alice"); err != nil {
		t.Fatalf("bob Send: %v", err)
	}
	waitView(t, alice.Controller, "alice receives the reply", func(v conversation.View) bool {
		return len(v.Messages) == 2 && v.Messages[1].Sender == "bob"
	})

	// Reopening the conversation rebuilds the same timeline from history alone.
	alice.Controller.Deselect()
	if err := alice.Controller.Select(ctx, "bob"); err != nil {
		t.Fatalf("alice reselect: %v", err)
	}
	rv := alice.Controller.View()
	if len(rv.Messages) != 2 {
		t.Fatalf("history after reselect: %+v", rv.Messages)
	}
	if rv.Messages[0].Content != "hello bob" || rv.Messages[0].Status != chat.StatusDelivered {
		t.Fatalf("own history entry: %+v", rv.Messages[0])
	}
	if rv.Messages[1].Content != "hi alice" || rv.Messages[1].Status != chat.StatusNone {
		t.Fatalf("peer history entry: %+v", rv.Messages[1])
	}
}

func TestEndToEnd_HistoryRefreshesExpiredAccess(t *testing.T) {
	t.Parallel()

	a, ts := startDevServer(t)
	pair, err := a.Dev().Tokens.Issue("alice")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	a.Dev().Tokens.Revoke(pair.Access)

	alice := startClient(t, ts.URL, "alice", pair)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msgs, err := alice.History.Fetch(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected empty history, got %+v", msgs)
	}
	if got := alice.Credentials.AccessToken(); got == "" || got == pair.Access {
		t.Fatalf("access token not rotated: %q", got)
	}
	if got := alice.Credentials.RefreshToken(); got == "" || got == pair.Refresh {
		t.Fatalf("refresh token not rotated: %q", got)
	}
}

func TestNewClient_RequiresUser(t *testing.T) {
	t.Parallel()

	cfg := Defaults()
	cfg.CredentialsFile = ""
	if _, err := NewClient(cfg, quietLogger()); err != ErrUserRequired {
		t.Fatalf("err=%v want ErrUserRequired", err)
	}
}
