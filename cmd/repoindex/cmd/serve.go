package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/repoindex/internal/daemon"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the index daemon in the foreground",
		Long: `Run a scheduler for every enabled index kind until interrupted.

With workers enabled (Redis coordination), a worker pool per kind also
consumes queued tasks. SIGINT or SIGTERM starts a graceful drain: running
updates finish and held leases are released.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx)
		},
	}
}

func runServe(ctx context.Context) error {
	comp, err := openComponents(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := comp.Close(); err != nil {
			slog.Warn("close_failed", slog.String("error", err.Error()))
		}
	}()

	d, err := daemon.New(comp, daemonConfig(), slog.Default())
	if err != nil {
		return err
	}
	return d.Run(ctx)
}
