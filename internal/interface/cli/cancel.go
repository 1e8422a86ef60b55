package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/remloop/internal/domain/model/cancellation"
)

// newCancelCmd creates the cancel command
func newCancelCmd() *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "cancel <task-id> <pr-number>",
		Short: "Cancel competing agent jobs for a task",
		Long: `Submit a cancellation request for all agent jobs attached to a task.

The request is persisted before execution, so it survives a crash and is
replayed on the next serve. With --wait the command blocks until the
cancellation finishes or the timeout elapses.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			prNumber, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid PR number %q: %w", args[1], err)
			}
			return runCancel(args[0], prNumber, wait)
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", 2*time.Minute, "How long to wait for completion (0 = enqueue only)")
	return cmd
}

func runCancel(taskID string, prNumber int, wait time.Duration) error {
	container, err := initializeContainer()
	if err != nil {
		return fmt.Errorf("failed to initialize container: %w", err)
	}
	defer container.Close()

	ctx := context.Background()
	req, err := cancellation.NewRequest(taskID, prNumber)
	if err != nil {
		return err
	}

	coordinator := container.GetCoordinator()
	if err := coordinator.RequestCancellation(ctx, req); err != nil {
		return fmt.Errorf("failed to submit cancellation: %w", err)
	}
	fmt.Printf("Cancellation submitted for task %s [%s]\n", taskID, req.CorrelationID)

	if wait <= 0 {
		return nil
	}

	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		status, ok := coordinator.Status(taskID)
		if !ok {
			fmt.Printf("Cancellation for task %s completed\n", taskID)
			return nil
		}
		if status.Phase == cancellation.PhaseFailed {
			return fmt.Errorf("cancellation for task %s failed: %s", taskID, status.Err)
		}
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("cancellation for task %s still running after %s", taskID, wait)
}
