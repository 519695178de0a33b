package main

import (
	"fmt"

	"linkchat/cmd/internal/app"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "linkchat",
	Short: "Terminal client for linkchat direct messages",
	Long: `linkchat opens a one-to-one conversation, loads its history, and keeps it
in sync with the messaging server in real time.

Configuration is read from LINKCHAT_* environment variables, an optional YAML
file (--config or LINKCHAT_CONFIG), and the flags below, in increasing precedence.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	f := rootCmd.PersistentFlags()
	f.StringP("config", "c", "", "YAML config file path")
	f.StringP("user", "u", "", "local user id")
	f.String("api-url", "", "REST base URL, e.g. http://127.0.0.1:8080")
	f.String("ws-url", "", "realtime endpoint (default: <api-url>/ws)")
	f.String("credentials", "", "credential file path")
	f.String("access-token", "", "bearer token (overrides the credential file)")
	f.String("refresh-token", "", "refresh token (overrides the credential file)")
	f.String("log-level", "", "debug|info|warn|error")
	f.String("log-format", "", "json|pretty")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address")
}

// loadConfig layers explicitly set flags over file and environment config.
func loadConfig(cmd *cobra.Command) (app.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := app.LoadConfig(path)
	if err != nil {
		return app.Config{}, err
	}

	overrides := []struct {
		flag string
		dst  *string
	}{
		{"user", &cfg.UserID},
		{"api-url", &cfg.APIBaseURL},
		{"ws-url", &cfg.WSURL},
		{"credentials", &cfg.CredentialsFile},
		{"access-token", &cfg.AccessToken},
		{"refresh-token", &cfg.RefreshToken},
		{"log-level", &cfg.LogLevel},
		{"log-format", &cfg.LogFormat},
		{"metrics-addr", &cfg.MetricsAddr},
	}
	for _, o := range overrides {
		fl := cmd.Flags().Lookup(o.flag)
		if fl == nil || !fl.Changed {
			continue
		}
		*o.dst = fl.Value.String()
	}
	return cfg, nil
}
