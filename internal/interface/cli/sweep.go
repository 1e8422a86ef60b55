package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// newSweepCmd creates the sweep command
func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove terminal records past retention",
		Long: `Run one retention sweep pass.

Terminal remediation records older than the configured retention are
removed. Records with a cancellation in progress are never touched.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := initializeContainer()
			if err != nil {
				return fmt.Errorf("failed to initialize container: %w", err)
			}
			defer container.Close()

			removed, err := container.SweepOnce(context.Background())
			if err != nil {
				return fmt.Errorf("sweep failed: %w", err)
			}
			fmt.Printf("Removed %d expired records\n", removed)
			return nil
		},
	}
}
