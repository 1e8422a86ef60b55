package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/remloop/internal/domain/model/remediation"
)

// StatusOutput is the JSON projection of one remediation record
type StatusOutput struct {
	TaskID       string `json:"task_id"`
	Iteration    int    `json:"iteration"`
	Status       string `json:"status"`
	Cancelling   bool   `json:"cancelling"`
	LastUpdate   string `json:"last_update"`
	FeedbackSize int    `json:"feedback_size,omitempty"`
}

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status [task-id]",
		Short: "Show remediation state",
		Long: `Show the flat state projections of all tracked tasks, or the full
record of one task when a task ID is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return runStatusOne(args[0], jsonOutput)
			}
			return runStatusList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	return cmd
}

func runStatusList(jsonOutput bool) error {
	container, err := initializeContainer()
	if err != nil {
		return fmt.Errorf("failed to initialize container: %w", err)
	}
	defer container.Close()

	ctx := context.Background()
	summaries, err := container.GetStateService().ListSummaries(ctx)
	if err != nil {
		return fmt.Errorf("failed to list states: %w", err)
	}

	if jsonOutput {
		out := make([]StatusOutput, 0, len(summaries))
		for _, s := range summaries {
			out = append(out, StatusOutput{
				TaskID:     s.TaskID,
				Iteration:  s.Iteration,
				Status:     string(s.Status),
				LastUpdate: s.LastUpdate.Format(time.RFC3339),
			})
		}
		return json.NewEncoder(os.Stdout).Encode(out)
	}

	if len(summaries) == 0 {
		fmt.Println("No remediation records found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TASK ID\tITERATION\tSTATUS\tLAST UPDATE")
	for _, s := range summaries {
		fmt.Fprintf(w, "%s\t%d/%d\t%s\t%s\n",
			s.TaskID,
			s.Iteration,
			remediation.MaxIterations,
			s.Status,
			s.LastUpdate.Format("2006-01-02 15:04:05"),
		)
	}
	return w.Flush()
}

func runStatusOne(taskID string, jsonOutput bool) error {
	container, err := initializeContainer()
	if err != nil {
		return fmt.Errorf("failed to initialize container: %w", err)
	}
	defer container.Close()

	ctx := context.Background()
	state, err := container.GetStateService().GetState(ctx, taskID)
	if err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}
	if state == nil {
		return fmt.Errorf("no remediation record for task %s", taskID)
	}

	if jsonOutput {
		return json.NewEncoder(os.Stdout).Encode(StatusOutput{
			TaskID:       state.TaskID(),
			Iteration:    state.Iteration(),
			Status:       string(state.Status()),
			Cancelling:   state.CancellationInProgress(),
			LastUpdate:   state.LastUpdate().Format(time.RFC3339),
			FeedbackSize: len(state.FeedbackHistory()),
		})
	}

	fmt.Printf("Task:         %s\n", state.TaskID())
	fmt.Printf("Iteration:    %d/%d\n", state.Iteration(), remediation.MaxIterations)
	fmt.Printf("Status:       %s\n", state.Status())
	fmt.Printf("Cancelling:   %v\n", state.CancellationInProgress())
	fmt.Printf("Last update:  %s\n", state.LastUpdate().Format(time.RFC3339))
	fmt.Printf("Feedback:     %d entries\n", len(state.FeedbackHistory()))
	if msgs := state.ErrorMessages(); len(msgs) > 0 {
		fmt.Printf("Errors:\n")
		for _, m := range msgs {
			fmt.Printf("  - %s\n", m)
		}
	}
	return nil
}
