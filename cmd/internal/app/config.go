package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"linkchat/cmd/internal/transport"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the runtime configuration shared by the chat client and the dev server.
//
// Precedence: Defaults < YAML file (LINKCHAT_CONFIG) < environment < command flags.
type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // json | pretty

	// Client.
	UserID          string        `yaml:"user"`
	APIBaseURL      string        `yaml:"api_url"`
	WSURL           string        `yaml:"ws_url"` // derived from APIBaseURL when empty
	CredentialsFile string        `yaml:"credentials_file"`
	AccessToken     string        `yaml:"access_token"`
	RefreshToken    string        `yaml:"refresh_token"`
	HistoryTimeout  time.Duration `yaml:"history_timeout"`
	MetricsAddr     string        `yaml:"metrics_addr"`

	Transport TransportConfig `yaml:"transport"`

	// Dev server.
	HTTPAddr          string            `yaml:"http_addr"`
	ReadHeaderTimeout time.Duration     `yaml:"read_header_timeout"`
	ReadTimeout       time.Duration     `yaml:"read_timeout"`
	IdleTimeout       time.Duration     `yaml:"idle_timeout"`
	MaxHeaderBytes    int               `yaml:"max_header_bytes"`
	DevTokens         map[string]string `yaml:"dev_tokens"` // access token -> user id
	DevAccessTTL      time.Duration     `yaml:"dev_access_ttl"`
	DevRateEvents     int               `yaml:"dev_rate_events"`
	DevRateWindow     time.Duration     `yaml:"dev_rate_window"`
}

// TransportConfig mirrors transport.Config for file and env configuration.
type TransportConfig struct {
	DialTimeout          time.Duration `yaml:"dial_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	HeartbeatTimeout     time.Duration `yaml:"heartbeat_timeout"`
	MaxPingFailures      int           `yaml:"max_ping_failures"`
	ReconnectMin         time.Duration `yaml:"reconnect_min"`
	ReconnectMax         time.Duration `yaml:"reconnect_max"`
	ReconnectMaxAttempts int           `yaml:"reconnect_max_attempts"`
	SendRateEvents       int           `yaml:"send_rate_events"`
	SendRateWindow       time.Duration `yaml:"send_rate_window"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		LogLevel:        "info",
		LogFormat:       "json",
		APIBaseURL:      "http://127.0.0.1:8080",
		CredentialsFile: defaultCredentialsFile(),
		HistoryTimeout:  30 * time.Second,

		HTTPAddr:          "127.0.0.1:8080",
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
}

// LoadConfig reads .env, the optional YAML file named by LINKCHAT_CONFIG (or
// path, when non-empty), and environment overrides.
func LoadConfig(path string) (Config, error) {
	// Missing .env is fine.
	_ = godotenv.Load(".env")

	cfg := Defaults()

	if path == "" {
		path = EnvString("LINKCHAT_CONFIG", "")
	}
	if path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func loadYAML(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file not found: %s", path)
		}
		return err
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.LogLevel = EnvString("LINKCHAT_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = EnvString("LINKCHAT_LOG_FORMAT", cfg.LogFormat)

	cfg.UserID = EnvString("LINKCHAT_USER", cfg.UserID)
	cfg.APIBaseURL = EnvString("LINKCHAT_API_URL", cfg.APIBaseURL)
	cfg.WSURL = EnvString("LINKCHAT_WS_URL", cfg.WSURL)
	cfg.CredentialsFile = EnvString("LINKCHAT_CREDENTIALS", cfg.CredentialsFile)
	cfg.AccessToken = EnvString("LINKCHAT_ACCESS_TOKEN", cfg.AccessToken)
	cfg.RefreshToken = EnvString("LINKCHAT_REFRESH_TOKEN", cfg.RefreshToken)
	cfg.HistoryTimeout = EnvDuration("LINKCHAT_HISTORY_TIMEOUT", cfg.HistoryTimeout)
	cfg.MetricsAddr = EnvString("LINKCHAT_METRICS_ADDR", cfg.MetricsAddr)

	t := &cfg.Transport
	t.DialTimeout = EnvDuration("LINKCHAT_WS_DIAL_TIMEOUT", t.DialTimeout)
	t.WriteTimeout = EnvDuration("LINKCHAT_WS_WRITE_TIMEOUT", t.WriteTimeout)
	t.HeartbeatInterval = EnvDuration("LINKCHAT_WS_HEARTBEAT_INTERVAL", t.HeartbeatInterval)
	t.HeartbeatTimeout = EnvDuration("LINKCHAT_WS_HEARTBEAT_TIMEOUT", t.HeartbeatTimeout)
	t.MaxPingFailures = EnvInt("LINKCHAT_WS_MAX_PING_FAILURES", t.MaxPingFailures)
	t.ReconnectMin = EnvDuration("LINKCHAT_WS_RECONNECT_MIN", t.ReconnectMin)
	t.ReconnectMax = EnvDuration("LINKCHAT_WS_RECONNECT_MAX", t.ReconnectMax)
	t.ReconnectMaxAttempts = EnvInt("LINKCHAT_WS_RECONNECT_ATTEMPTS", t.ReconnectMaxAttempts)
	t.SendRateEvents = EnvInt("LINKCHAT_WS_SEND_RATE_EVENTS", t.SendRateEvents)
	t.SendRateWindow = EnvDuration("LINKCHAT_WS_SEND_RATE_WINDOW", t.SendRateWindow)

	cfg.HTTPAddr = EnvString("LINKCHAT_HTTP_ADDR", cfg.HTTPAddr)
	cfg.ReadHeaderTimeout = EnvDuration("LINKCHAT_HTTP_READ_HEADER_TIMEOUT", cfg.ReadHeaderTimeout)
	cfg.ReadTimeout = EnvDuration("LINKCHAT_HTTP_READ_TIMEOUT", cfg.ReadTimeout)
	cfg.IdleTimeout = EnvDuration("LINKCHAT_HTTP_IDLE_TIMEOUT", cfg.IdleTimeout)
	cfg.MaxHeaderBytes = EnvInt("LINKCHAT_HTTP_MAX_HEADER_BYTES", cfg.MaxHeaderBytes)
	if toks := EnvPairs("LINKCHAT_DEV_TOKENS"); len(toks) > 0 {
		cfg.DevTokens = toks
	}
	cfg.DevAccessTTL = EnvDuration("LINKCHAT_DEV_ACCESS_TTL", cfg.DevAccessTTL)
	cfg.DevRateEvents = EnvInt("LINKCHAT_DEV_RATE_EVENTS", cfg.DevRateEvents)
	cfg.DevRateWindow = EnvDuration("LINKCHAT_DEV_RATE_WINDOW", cfg.DevRateWindow)
}

// WebSocketURL returns WSURL, or the /ws endpoint next to APIBaseURL.
func (c Config) WebSocketURL() string {
	if strings.TrimSpace(c.WSURL) != "" {
		return c.WSURL
	}
	return strings.TrimRight(wsBaseURL(c.APIBaseURL), "/") + "/ws"
}

// TransportSettings converts the configured values into a transport.Config.
func (c Config) TransportSettings() transport.Config {
	t := c.Transport
	return transport.Config{
		WSURL:                c.WebSocketURL(),
		DialTimeout:          t.DialTimeout,
		WriteTimeout:         t.WriteTimeout,
		HeartbeatInterval:    t.HeartbeatInterval,
		HeartbeatTimeout:     t.HeartbeatTimeout,
		MaxPingFailures:      t.MaxPingFailures,
		ReconnectMin:         t.ReconnectMin,
		ReconnectMax:         t.ReconnectMax,
		ReconnectMaxAttempts: t.ReconnectMaxAttempts,
		SendRateEvents:       t.SendRateEvents,
		SendRateWindow:       t.SendRateWindow,
	}
}

func defaultCredentialsFile() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return ".linkchat-credentials.json"
	}
	return filepath.Join(dir, "linkchat", "credentials.json")
}
