package app

import (
	"context"
	"os/signal"
	"syscall"
)

// SignalContext returns a context canceled on SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

// RunDevServer runs the dev messaging server until a shutdown signal arrives.
// It returns an error instead of calling os.Exit so defers stay effective.
func RunDevServer(cfg Config, log Logger) error {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	ctx, cancel := SignalContext(context.Background())
	defer cancel()

	return New(cfg, log).Run(ctx)
}
