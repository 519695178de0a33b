package history

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"linkchat/cmd/internal/auth/credentials"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newClient(t *testing.T, srv *httptest.Server, creds *credentials.Store) *Client {
	t.Helper()
	return NewClient(Config{BaseURL: srv.URL + "/"}, creds, srv.Client(), quietLogger(), nil)
}

func TestFetch_DecodesMessages(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages/A/B" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization=%q want Bearer tok", got)
		}
		_, _ = io.WriteString(w, `[
			{"_id":"m1","sender":"A","receiver":"B","content":"hi","timestamp":"2026-01-01T10:00:00Z"},
			{"_id":"m2","sender":"B","receiver":"A","content":"yo","timestamp":"2026-01-01T10:00:05Z"}
		]`)
	}))
	defer srv.Close()

	c := newClient(t, srv, credentials.NewStore(credentials.Pair{Access: "tok"}))
	msgs, err := c.Fetch(context.Background(), "A", "B")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len=%d want 2", len(msgs))
	}
	if msgs[0].ID != "m1" || msgs[0].Recipient != "B" || msgs[1].Sender != "B" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
	if want := time.Date(2026, 1, 1, 10, 0, 5, 0, time.UTC); !msgs[1].Timestamp.Equal(want) {
		t.Fatalf("timestamp=%v want %v", msgs[1].Timestamp, want)
	}
}

func TestFetch_ErrorMessages(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{name: "server message", status: 500, body: `{"message":"Database unavailable"}`, wantMsg: "Database unavailable"},
		{name: "no message", status: 503, body: `oops`, wantMsg: "Service Unavailable"},
		{name: "blank message", status: 404, body: `{"message":"  "}`, wantMsg: "Not Found"},
		{name: "unknown status", status: 599, body: ``, wantMsg: "request failed with status code 599"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			}))
			defer srv.Close()

			c := newClient(t, srv, credentials.NewStore(credentials.Pair{Access: "tok"}))
			_, err := c.Fetch(context.Background(), "A", "B")

			if !errors.Is(err, ErrHistoryFetchFailed) {
				t.Fatalf("err=%v want ErrHistoryFetchFailed", err)
			}
			var fe *FetchError
			if !errors.As(err, &fe) {
				t.Fatalf("err=%T want *FetchError", err)
			}
			if fe.Status != tc.status || fe.Message != tc.wantMsg {
				t.Fatalf("FetchError=%+v want status=%d message=%q", fe, tc.status, tc.wantMsg)
			}
			if err.Error() != tc.wantMsg {
				t.Fatalf("Error()=%q want verbatim %q", err.Error(), tc.wantMsg)
			}
		})
	}
}

func TestFetch_RefreshOnceForConcurrentCallers(t *testing.T) {
	t.Parallel()

	const callers = 5

	var (
		refreshes atomic.Int32
		barrier   sync.WaitGroup
	)
	barrier.Add(callers)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/refresh/":
			refreshes.Add(1)
			var in refreshRequest
			_ = json.NewDecoder(r.Body).Decode(&in)
			if in.Refresh != "r1" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			time.Sleep(100 * time.Millisecond)
			_ = json.NewEncoder(w).Encode(refreshResponse{Access: "new", Refresh: "r2"})
		default:
			if r.Header.Get("Authorization") != "Bearer new" {
				// Hold every stale request until all callers are in flight.
				barrier.Done()
				barrier.Wait()
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = io.WriteString(w, `[]`)
		}
	}))
	defer srv.Close()

	creds := credentials.NewStore(credentials.Pair{Access: "old", Refresh: "r1"})
	c := newClient(t, srv, creds)

	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Fetch(context.Background(), "A", "B")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("Fetch: %v", err)
		}
	}
	if n := refreshes.Load(); n != 1 {
		t.Fatalf("refreshes=%d want 1", n)
	}
	if creds.AccessToken() != "new" || creds.RefreshToken() != "r2" {
		t.Fatalf("credentials not rotated: %q/%q", creds.AccessToken(), creds.RefreshToken())
	}
}

func TestFetch_RefreshRejectedExpiresSession(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	creds := credentials.NewStore(credentials.Pair{Access: "old", Refresh: "r1"})
	c := newClient(t, srv, creds)

	_, err := c.Fetch(context.Background(), "A", "B")
	if !errors.Is(err, ErrSessionExpired) || !IsSessionExpired(err) {
		t.Fatalf("err=%v want ErrSessionExpired", err)
	}
	if creds.AccessToken() != "" || creds.RefreshToken() != "" {
		t.Fatalf("credentials must be cleared after a failed refresh")
	}
}

func TestFetch_NetworkErrorIsFetchError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c := NewClient(Config{BaseURL: base, Timeout: time.Second}, credentials.NewStore(credentials.Pair{Access: "tok"}), nil, quietLogger(), nil)
	_, err := c.Fetch(context.Background(), "A", "B")

	var fe *FetchError
	if !errors.As(err, &fe) || fe.Status != 0 || fe.Message == "" {
		t.Fatalf("err=%v want *FetchError without status", err)
	}
}
