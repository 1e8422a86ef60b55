package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/remloop/internal/domain/model/lock"
)

// newLockCmd creates the locks command
func newLockCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "locks",
		Short: "Manage cancellation locks",
		Long: `Inspect and clean up the distributed cancellation locks.

A lock is held per task while a cancellation runs; a crashed holder
leaves its lock behind until it expires. Expired locks are taken over
automatically, this command only speeds that up.`,
	}

	cmd.AddCommand(newLockListCmd())
	cmd.AddCommand(newLockCleanupCmd())
	cmd.AddCommand(newLockInfoCmd())

	return cmd
}

func newLockListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all cancellation locks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLockList()
		},
	}
}

func newLockCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove expired cancellation locks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLockCleanup()
		},
	}
}

func newLockInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <lockID>",
		Short: "Show information about a specific lock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLockInfo(args[0])
		},
	}
}

func runLockList() error {
	container, err := initializeContainer()
	if err != nil {
		return fmt.Errorf("failed to initialize container: %w", err)
	}
	defer container.Close()

	ctx := context.Background()
	locks, err := container.GetLockService().List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list locks: %w", err)
	}

	if len(locks) == 0 {
		fmt.Println("No cancellation locks found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "LOCK ID\tHOLDER\tACQUIRED\tEXPIRES\tSTATUS")
	for _, l := range locks {
		status := "active"
		if l.IsExpired() {
			status = "expired"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			l.LockID().String(),
			l.Holder(),
			l.AcquiredAt().Format("15:04:05"),
			l.ExpiresAt().Format("15:04:05"),
			status,
		)
	}
	return w.Flush()
}

func runLockCleanup() error {
	container, err := initializeContainer()
	if err != nil {
		return fmt.Errorf("failed to initialize container: %w", err)
	}
	defer container.Close()

	removed, err := container.GetLockService().CleanupExpired(context.Background())
	if err != nil {
		return fmt.Errorf("failed to clean up locks: %w", err)
	}
	fmt.Printf("Removed %d expired locks\n", removed)
	return nil
}

func runLockInfo(lockID string) error {
	container, err := initializeContainer()
	if err != nil {
		return fmt.Errorf("failed to initialize container: %w", err)
	}
	defer container.Close()

	id, err := lock.NewLockID(lockID)
	if err != nil {
		return err
	}
	l, err := container.GetLockService().Find(context.Background(), id)
	if err != nil {
		return fmt.Errorf("failed to find lock: %w", err)
	}
	if l == nil {
		fmt.Printf("Lock %s not found\n", lockID)
		return nil
	}

	fmt.Printf("Lock ID:     %s\n", l.LockID().String())
	fmt.Printf("Holder:      %s\n", l.Holder())
	fmt.Printf("Acquired:    %s\n", l.AcquiredAt().Format("2006-01-02 15:04:05"))
	fmt.Printf("Renewed:     %s\n", l.RenewedAt().Format("2006-01-02 15:04:05"))
	fmt.Printf("Expires:     %s\n", l.ExpiresAt().Format("2006-01-02 15:04:05"))
	fmt.Printf("Expired:     %v\n", l.IsExpired())
	return nil
}
