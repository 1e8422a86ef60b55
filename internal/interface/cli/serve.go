package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/remloop/internal/app"
)

// newServeCmd creates the serve command
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the control plane",
		Long: `Run the remediation control plane until interrupted.

Startup replays cancellation requests left in the durable queue by a
previous process, then starts the periodic reconciliation and retention
sweep loops. SIGINT or SIGTERM drains in-flight cancellations before
shutting down.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	container, err := initializeContainer()
	if err != nil {
		return fmt.Errorf("failed to initialize container: %w", err)
	}
	defer container.Close()

	ctx, cancel := setupSignalHandler()
	defer cancel()

	replayed, err := container.Replay(ctx)
	if err != nil {
		return fmt.Errorf("failed to replay pending cancellations: %w", err)
	}
	if replayed > 0 {
		app.GetLogger().Info("replayed %d pending cancellation requests", replayed)
	}

	if err := container.Start(ctx); err != nil {
		return fmt.Errorf("failed to start background services: %w", err)
	}

	app.GetLogger().Info("remloop serving (db: %s)", globalConfig.DBPath())
	<-ctx.Done()
	app.GetLogger().Info("shutting down")
	return nil
}

// setupSignalHandler sets up graceful shutdown on SIGINT/SIGTERM
func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan,
		os.Interrupt,
		syscall.SIGTERM,
	)

	go func() {
		select {
		case sig := <-sigChan:
			app.GetLogger().Info("received signal: %v, initiating graceful shutdown", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
