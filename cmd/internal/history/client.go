// Package history loads the persisted messages of a conversation over REST.
//
// Requests carry the bearer credential. A 401 triggers one refresh of the
// credential pair, shared by every request that hit the 401 at the same time,
// followed by a single retry.
package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"linkchat/cmd/internal/auth/credentials"
	"linkchat/cmd/internal/chat"
	"linkchat/cmd/internal/metrics"
	v1 "linkchat/contracts/realtime/v1"

	"golang.org/x/sync/singleflight"
)

const (
	defaultTimeout = 30 * time.Second

	// Cap on error bodies read for a message.
	maxErrorBody = 64 << 10
)

// Credentials is the credential store the client reads and refreshes.
type Credentials interface {
	AccessToken() string
	RefreshToken() string
	Set(credentials.Pair) error
	Clear() error
}

// Config configures the REST client.
type Config struct {
	// BaseURL is the API root, e.g. http://localhost:8080/api.
	BaseURL string
	Timeout time.Duration
}

// Client fetches conversation history.
type Client struct {
	base    string
	http    *http.Client
	creds   Credentials
	log     *slog.Logger
	metrics *metrics.Metrics

	refreshes singleflight.Group
}

// NewClient builds a Client. httpClient may be nil.
func NewClient(cfg Config, creds Credentials, httpClient *http.Client, log *slog.Logger, m *metrics.Metrics) *Client {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		base:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		http:    httpClient,
		creds:   creds,
		log:     log,
		metrics: m,
	}
}

// Fetch returns the messages exchanged by sender and receiver, oldest first as
// the server stores them.
func (c *Client) Fetch(ctx context.Context, sender, receiver string) (msgs []chat.Message, err error) {
	start := time.Now()
	defer func() { c.metrics.History(time.Since(start), err) }()

	endpoint := fmt.Sprintf("%s/messages/%s/%s", c.base, url.PathEscape(sender), url.PathEscape(receiver))

	var payloads []v1.MessagePayload
	if err := c.getJSON(ctx, endpoint, &payloads); err != nil {
		c.log.Info("history.fetch.fail", "sender", sender, "receiver", receiver, "err", err)
		return nil, err
	}

	msgs = make([]chat.Message, 0, len(payloads))
	for _, p := range payloads {
		msgs = append(msgs, chat.FromPayload(p))
	}
	c.log.Debug("history.fetch.ok", "sender", sender, "receiver", receiver, "count", len(msgs))
	return msgs, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, dst any) error {
	token := c.creds.AccessToken()

	resp, err := c.get(ctx, endpoint, token)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		drain(resp)
		if err := c.refresh(ctx, token); err != nil {
			return err
		}
		resp, err = c.get(ctx, endpoint, c.creds.AccessToken())
		if err != nil {
			return err
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return responseError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return &FetchError{Status: resp.StatusCode, Message: fmt.Sprintf("invalid response: %v", err)}
	}
	return nil
}

func (c *Client) get(ctx context.Context, endpoint, token string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &FetchError{Message: err.Error()}
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &FetchError{Message: err.Error()}
	}
	return resp, nil
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

type refreshResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// refresh exchanges the refresh credential for a new pair. Concurrent callers
// share one request. stale is the bearer that was rejected; if the store already
// holds a different one, another caller refreshed in the meantime.
func (c *Client) refresh(ctx context.Context, stale string) error {
	if cur := c.creds.AccessToken(); cur != "" && cur != stale {
		return nil
	}

	_, err, shared := c.refreshes.Do("refresh", func() (any, error) {
		// Detached so one canceled caller does not fail the others.
		return nil, c.doRefresh(context.WithoutCancel(ctx))
	})
	if err != nil {
		c.log.Warn("history.refresh.fail", "shared", shared, "err", err)
		return err
	}
	c.log.Info("history.refresh.ok", "shared", shared)
	return nil
}

func (c *Client) doRefresh(ctx context.Context) error {
	rt := c.creds.RefreshToken()
	if rt == "" {
		c.expire()
		return ErrSessionExpired
	}

	body, err := json.Marshal(refreshRequest{Refresh: rt})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/auth/refresh/", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.expire()
		return fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.expire()
		return fmt.Errorf("%w: refresh status %d", ErrSessionExpired, resp.StatusCode)
	}

	var out refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || strings.TrimSpace(out.Access) == "" {
		c.expire()
		return fmt.Errorf("%w: invalid refresh response", ErrSessionExpired)
	}
	if out.Refresh == "" {
		out.Refresh = rt
	}
	if err := c.creds.Set(credentials.Pair{Access: out.Access, Refresh: out.Refresh}); err != nil {
		return fmt.Errorf("history: store refreshed credentials: %w", err)
	}
	return nil
}

func (c *Client) expire() {
	if err := c.creds.Clear(); err != nil {
		c.log.Warn("history.credentials.clear.fail", "err", err)
	}
}

type errorBody struct {
	Message string `json:"message"`
}

// responseError prefers the server's message field and falls back to the status text.
func responseError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var eb errorBody
	if err := json.Unmarshal(b, &eb); err == nil && strings.TrimSpace(eb.Message) != "" {
		return &FetchError{Status: resp.StatusCode, Message: eb.Message}
	}

	msg := http.StatusText(resp.StatusCode)
	if msg == "" {
		msg = fmt.Sprintf("request failed with status code %d", resp.StatusCode)
	}
	return &FetchError{Status: resp.StatusCode, Message: msg}
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	_ = resp.Body.Close()
}

// IsSessionExpired reports whether err means the user must log in again.
func IsSessionExpired(err error) bool { return errors.Is(err, ErrSessionExpired) }
