package transport

import (
	"strings"
	"time"
)

const (
	defaultDialTimeout       = 10 * time.Second
	defaultWriteTimeout      = 5 * time.Second
	defaultHeartbeatInterval = 25 * time.Second
	defaultHeartbeatTimeout  = 5 * time.Second
	defaultMaxPingFailures   = 3

	defaultReconnectMin         = 500 * time.Millisecond
	defaultReconnectMax         = 30 * time.Second
	defaultReconnectMaxAttempts = 10

	defaultSendRateEvents = 60
	defaultSendRateWindow = 10 * time.Second

	// Matches the server's per-frame read limit.
	maxFrameBytes = 64 << 10
)

// Config controls the connection and its recovery policy.
type Config struct {
	// WSURL is the realtime endpoint, e.g. ws://localhost:8080/ws.
	WSURL string

	DialTimeout  time.Duration
	WriteTimeout time.Duration

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	MaxPingFailures   int

	ReconnectMin time.Duration
	ReconnectMax time.Duration
	// ReconnectMaxAttempts bounds consecutive failed redials; 0 uses the default,
	// a negative value disables reconnecting.
	ReconnectMaxAttempts int

	SendRateEvents int
	SendRateWindow time.Duration
}

// withDefaults fills zero values.
func (c Config) withDefaults() Config {
	c.WSURL = strings.TrimSpace(c.WSURL)
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	if c.MaxPingFailures <= 0 {
		c.MaxPingFailures = defaultMaxPingFailures
	}
	if c.ReconnectMin <= 0 {
		c.ReconnectMin = defaultReconnectMin
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = defaultReconnectMax
	}
	if c.ReconnectMaxAttempts == 0 {
		c.ReconnectMaxAttempts = defaultReconnectMaxAttempts
	}
	if c.SendRateEvents <= 0 {
		c.SendRateEvents = defaultSendRateEvents
	}
	if c.SendRateWindow <= 0 {
		c.SendRateWindow = defaultSendRateWindow
	}
	return c
}
