// Package metrics exposes Prometheus instruments for the chat core.
//
// All methods are safe on a nil *Metrics so components can run without
// instrumentation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "linkchat"

// Metrics groups the instruments. Build it with New.
type Metrics struct {
	gatherer prometheus.Gatherer

	sends        *prometheus.CounterVec
	acks         prometheus.Counter
	live         *prometheus.CounterVec
	reconnects   *prometheus.CounterVec
	connState    *prometheus.GaugeVec
	pending      prometheus.Gauge
	history      *prometheus.HistogramVec
	serverErrors *prometheus.CounterVec
}

// New registers the instruments on reg. A nil reg uses a private registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		gatherer: reg,
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "sends_total",
			Help:      "Outbound sendMessage attempts by outcome.",
		}, []string{"outcome"}),
		acks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "acks_total",
			Help:      "messageSent acknowledgments received.",
		}),
		live: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conversation",
			Name:      "live_messages_total",
			Help:      "Live messages received, by whether they matched the active room.",
		}, []string{"result"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "reconnects_total",
			Help:      "Reconnect attempts by outcome.",
		}, []string{"outcome"}),
		connState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "connection_state",
			Help:      "1 for the current connection state, 0 otherwise.",
		}, []string{"state"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "conversation",
			Name:      "pending_messages",
			Help:      "Locally sent messages not yet seen in the live stream.",
		}),
		history: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "fetch_seconds",
			Help:      "History fetch latency by outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		serverErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "server_errors_total",
			Help:      "Error envelopes received from the server, by code.",
		}, []string{"code"}),
	}

	reg.MustRegister(
		m.sends,
		m.acks,
		m.live,
		m.reconnects,
		m.connState,
		m.pending,
		m.history,
		m.serverErrors,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Send records an outbound send with outcome "ok", "rate_limited", or "error".
func (m *Metrics) Send(outcome string) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Ack() {
	if m == nil {
		return
	}
	m.acks.Inc()
}

// Live records a live delivery. matched is false when it belonged to another room.
func (m *Metrics) Live(matched bool) {
	if m == nil {
		return
	}
	result := "matched"
	if !matched {
		result = "dropped"
	}
	m.live.WithLabelValues(result).Inc()
}

// Reconnect records one redial attempt.
func (m *Metrics) Reconnect(ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.reconnects.WithLabelValues(outcome).Inc()
}

// ConnectionState marks state as current among the known states.
func (m *Metrics) ConnectionState(state string, known []string) {
	if m == nil {
		return
	}
	for _, s := range known {
		v := 0.0
		if s == state {
			v = 1
		}
		m.connState.WithLabelValues(s).Set(v)
	}
}

func (m *Metrics) Pending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}

// History observes one history fetch.
func (m *Metrics) History(d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.history.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Metrics) ServerError(code string) {
	if m == nil {
		return
	}
	if code == "" {
		code = "unknown"
	}
	m.serverErrors.WithLabelValues(code).Inc()
}
