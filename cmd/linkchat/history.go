package main

import (
	"context"
	"strings"

	"linkchat/cmd/internal/app"
	"linkchat/cmd/internal/reconcile"

	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history <peer>",
	Short: "Print the stored conversation with another user",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	client, err := app.NewClient(cfg, nil)
	if err != nil {
		return err
	}
	defer client.Close()

	timeout := cfg.HistoryTimeout
	if timeout <= 0 {
		timeout = app.Defaults().HistoryTimeout
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	local := client.Controller.LocalUser()
	msgs, err := client.History.Fetch(ctx, local, strings.TrimSpace(args[0]))
	if err != nil {
		return err
	}

	out := newTimelinePrinter(cmd.OutOrStdout(), local)
	for _, m := range reconcile.Merge(reconcile.Inputs{LocalUser: local, History: msgs}) {
		out.Line(m)
	}
	return nil
}
