package main

import (
	"fmt"
	"strings"

	"linkchat/cmd/internal/app"

	"github.com/spf13/cobra"
)

var devServerCmd = &cobra.Command{
	Use:   "devserver",
	Short: "Run an in-memory messaging server for local development",
	Long: `Run the realtime endpoint, the history and refresh REST endpoints, and
/metrics on one listener. Messages live in memory only.

Static access tokens are granted with --dev-token token:user (repeatable) or
LINKCHAT_DEV_TOKENS="tok-a:alice,tok-b:bob".`,
	Args: cobra.NoArgs,
	RunE: runDevServer,
}

func init() {
	rootCmd.AddCommand(devServerCmd)

	devServerCmd.Flags().String("addr", "", "listen address (default 127.0.0.1:8080)")
	devServerCmd.Flags().StringArray("dev-token", nil, "static access grant token:user (repeatable)")
}

func runDevServer(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if fl := cmd.Flags().Lookup("addr"); fl != nil && fl.Changed {
		cfg.HTTPAddr = fl.Value.String()
	}

	grants, _ := cmd.Flags().GetStringArray("dev-token")
	for _, g := range grants {
		token, user, ok := strings.Cut(g, ":")
		token, user = strings.TrimSpace(token), strings.TrimSpace(user)
		if !ok || token == "" || user == "" {
			return fmt.Errorf("invalid --dev-token %q (want token:user)", g)
		}
		if cfg.DevTokens == nil {
			cfg.DevTokens = make(map[string]string)
		}
		cfg.DevTokens[token] = user
	}

	return app.RunDevServer(cfg, nil)
}
