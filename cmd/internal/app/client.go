package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"linkchat/cmd/internal/auth/credentials"
	"linkchat/cmd/internal/conversation"
	"linkchat/cmd/internal/eventloop"
	"linkchat/cmd/internal/history"
	"linkchat/cmd/internal/metrics"
	"linkchat/cmd/internal/transport"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrUserRequired is returned when no local user id is configured.
var ErrUserRequired = errors.New("local user id is required (LINKCHAT_USER or --user)")

// Client is the wired chat client core for one local user.
type Client struct {
	cfg Config
	log Logger

	Loop        *eventloop.Loop
	Credentials *credentials.Store
	Metrics     *metrics.Metrics
	Transport   *transport.Session
	History     *history.Client
	Controller  *conversation.Controller
}

// NewClient wires the client core. Tokens from cfg seed the credential file.
func NewClient(cfg Config, log Logger) (*Client, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	user := strings.TrimSpace(cfg.UserID)
	if user == "" {
		return nil, ErrUserRequired
	}

	creds, err := openCredentials(cfg)
	if err != nil {
		return nil, err
	}

	m := metrics.New(prometheus.NewRegistry())
	loop := eventloop.New(log)

	session := transport.NewSession(cfg.TransportSettings(), transport.Options{
		Log:         log,
		Loop:        loop,
		Credentials: creds,
		Metrics:     m,
	})

	hist := history.NewClient(history.Config{
		BaseURL: cfg.APIBaseURL,
		Timeout: cfg.HistoryTimeout,
	}, creds, nil, log, m)

	ctrl, err := conversation.New(conversation.Options{
		LocalUser: user,
		Transport: session,
		History:   hist,
		Loop:      loop,
		Log:       log,
		Metrics:   m,
	})
	if err != nil {
		loop.Close()
		return nil, err
	}

	log.Info("client.ready", "user_id", user, "ws_url", cfg.WebSocketURL(), "api_url", cfg.APIBaseURL)

	return &Client{
		cfg:         cfg,
		log:         log,
		Loop:        loop,
		Credentials: creds,
		Metrics:     m,
		Transport:   session,
		History:     hist,
		Controller:  ctrl,
	}, nil
}

func openCredentials(cfg Config) (*credentials.Store, error) {
	seed := credentials.Pair{Access: cfg.AccessToken, Refresh: cfg.RefreshToken}
	if strings.TrimSpace(cfg.CredentialsFile) == "" {
		return credentials.NewStore(seed), nil
	}
	creds, err := credentials.Open(cfg.CredentialsFile, seed)
	if err != nil {
		return nil, fmt.Errorf("open credentials: %w", err)
	}
	return creds, nil
}

// ServeMetrics exposes /metrics on cfg.MetricsAddr until ctx is done.
// It returns immediately when no address is configured.
func (c *Client) ServeMetrics(ctx context.Context) error {
	if strings.TrimSpace(c.cfg.MetricsAddr) == "" {
		return nil
	}

	ln, err := net.Listen("tcp", c.cfg.MetricsAddr)
	if err != nil {
		return fmt.Errorf("metrics listen: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Metrics.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	c.log.Info("metrics.start", "addr", ln.Addr().String())
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.log.Error("metrics.fail", "err", err)
		}
	}()
	return nil
}

// Close tears down the conversation, the transport, and the loop.
func (c *Client) Close() {
	c.Controller.Close()
	if err := c.Transport.Close(); err != nil {
		c.log.Warn("transport.close.fail", "err", err)
	}
	c.Loop.Close()
}
