package main

import (
	"bufio"
	"context"
	"errors"
	"strings"

	"linkchat/cmd/internal/app"
	"linkchat/cmd/internal/conversation"

	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat <peer>",
	Short: "Open a live conversation with another user",
	Long: `Open a live conversation with <peer>. Each line typed on stdin is sent as a
message. Commands: /retry reloads the conversation after an error, /quit leaves.`,
	Args: cobra.ExactArgs(1),
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	peer := strings.TrimSpace(args[0])

	client, err := app.NewClient(cfg, nil)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := app.SignalContext(cmd.Context())
	defer cancel()

	if err := client.ServeMetrics(ctx); err != nil {
		return err
	}

	out := newTimelinePrinter(cmd.OutOrStdout(), client.Controller.LocalUser())
	stop := client.Controller.OnChange(out.Render)
	defer stop()

	if err := client.Controller.Select(ctx, peer); err != nil {
		// The controller stays in its error state; /retry may still recover.
		out.Notice("open failed: %v", err)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(cmd.InOrStdin())
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if done := handleLine(ctx, client.Controller, out, peer, line); done {
				return nil
			}
		}
	}
}

// handleLine executes one line of input and reports whether the session should end.
func handleLine(ctx context.Context, ctrl *conversation.Controller, out *timelinePrinter, peer, line string) bool {
	line = strings.TrimSpace(line)
	switch line {
	case "":
		return false
	case "/quit", "/exit":
		return true
	case "/retry":
		ctrl.Deselect()
		if err := ctrl.Select(ctx, peer); err != nil {
			out.Notice("retry failed: %v", err)
		}
		return false
	}

	if err := ctrl.Send(ctx, line); err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			return true
		default:
			out.Notice("not sent: %v", err)
		}
	}
	return false
}
