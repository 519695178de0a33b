// Package app wires the linkchat runtimes: the chat client core (loop, transport,
// history, controller) and the in-memory dev messaging server, plus config and logging.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"linkchat/cmd/internal/metrics"
	"linkchat/cmd/internal/realtime"
	"linkchat/cmd/security/token"

	"github.com/prometheus/client_golang/prometheus"
)

// App is the dev messaging server runtime: it owns the HTTP server and the
// realtime dependencies behind it.
type App struct {
	cfg Config
	log Logger

	dev     *realtime.Server
	metrics *metrics.Metrics
}

// New constructs the dev server from config. Configured dev tokens are granted
// up front so clients can connect without a login flow.
func New(cfg Config, log Logger) *App {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	hasher, err := token.HasherFromEnv(token.MinHMACKeyBytes)
	switch {
	case errors.Is(err, token.ErrHMACKeyMissing):
		log.Debug("devserver.refresh_hash", "mode", "sha256")
	case err != nil:
		log.Warn("devserver.refresh_hash", "mode", "sha256", "err", err)
	default:
		log.Debug("devserver.refresh_hash", "mode", "hmac")
	}

	tokens := realtime.NewTokens(cfg.DevAccessTTL, hasher)
	for access, user := range cfg.DevTokens {
		tokens.Grant(access, user)
	}

	dev := realtime.NewServer(realtime.ServerOptions{
		Log:    log,
		Tokens: tokens,
		Gateway: realtime.GatewayConfig{
			RateEvents: cfg.DevRateEvents,
			RateWindow: cfg.DevRateWindow,
		},
	})

	return &App{
		cfg:     cfg,
		log:     log,
		dev:     dev,
		metrics: metrics.New(prometheus.NewRegistry()),
	}
}

// Dev exposes the dev server, e.g. to issue tokens.
func (a *App) Dev() *realtime.Server { return a.dev }

// Handler returns the fully wired HTTP handler.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.dev, a.metrics)
	return WithRequestLogging(mux, a.log)
}

// Run listens on cfg.HTTPAddr and blocks until ctx is done or the server fails.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.HTTPAddr)
	if err != nil {
		return err
	}
	return a.Serve(ctx, ln)
}

// Serve runs the server on ln until ctx is done.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
		// No WriteTimeout: websocket connections are long lived.
	}

	a.log.Info("server.start", "addr", ln.Addr().String(), "base_url", runtimeBaseURL(ln.Addr().String()), "dev_users", len(a.cfg.DevTokens))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if err := a.dev.Close(); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
