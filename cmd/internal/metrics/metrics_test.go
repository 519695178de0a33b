package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_NilSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.Send("ok")
	m.Ack()
	m.Live(true)
	m.Reconnect(false)
	m.ConnectionState("connected", []string{"connected"})
	m.Pending(3)
	m.History(time.Second, nil)
	m.ServerError("bad_json")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Fatalf("nil handler status=%d want 404", rec.Code)
	}
}

func TestMetrics_Counters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Send("ok")
	m.Send("ok")
	m.Send("rate_limited")
	m.Ack()
	m.Live(true)
	m.Live(false)
	m.Reconnect(true)
	m.Pending(2)
	m.History(50*time.Millisecond, errors.New("boom"))
	m.ServerError("")

	if got := testutil.ToFloat64(m.sends.WithLabelValues("ok")); got != 2 {
		t.Fatalf("sends{ok}=%v want 2", got)
	}
	if got := testutil.ToFloat64(m.sends.WithLabelValues("rate_limited")); got != 1 {
		t.Fatalf("sends{rate_limited}=%v want 1", got)
	}
	if got := testutil.ToFloat64(m.acks); got != 1 {
		t.Fatalf("acks=%v want 1", got)
	}
	if got := testutil.ToFloat64(m.live.WithLabelValues("dropped")); got != 1 {
		t.Fatalf("live{dropped}=%v want 1", got)
	}
	if got := testutil.ToFloat64(m.pending); got != 2 {
		t.Fatalf("pending=%v want 2", got)
	}
	if got := testutil.ToFloat64(m.serverErrors.WithLabelValues("unknown")); got != 1 {
		t.Fatalf("server_errors{unknown}=%v want 1", got)
	}
}

func TestMetrics_ConnectionStateIsExclusive(t *testing.T) {
	t.Parallel()

	m := New(nil)
	known := []string{"connecting", "connected", "reconnecting"}

	m.ConnectionState("connecting", known)
	m.ConnectionState("connected", known)

	for _, s := range known {
		want := 0.0
		if s == "connected" {
			want = 1
		}
		if got := testutil.ToFloat64(m.connState.WithLabelValues(s)); got != want {
			t.Fatalf("connection_state{%s}=%v want %v", s, got, want)
		}
	}
}

func TestMetrics_HandlerExposesNamespace(t *testing.T) {
	t.Parallel()

	m := New(nil)
	m.Ack()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "linkchat_transport_acks_total 1") {
		t.Fatalf("exposition missing acks counter:\n%s", body)
	}
}
