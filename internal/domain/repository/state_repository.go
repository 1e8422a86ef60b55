package repository

import (
	"context"
	"time"

	"github.com/YoshitsuguKoike/remloop/internal/domain/model/remediation"
)

// StateSummary is the flat projection stored beside the serialized state
// document, inspectable without full deserialization.
type StateSummary struct {
	TaskID     string
	Iteration  int
	Status     remediation.Status
	LastUpdate time.Time
}

// StateRepository manages RemediationState persistence.
//
// Save is a full-document replace guarded by the record's version: when
// the record changed since it was loaded the save fails with ErrConflict
// and the caller must re-read and recompute. Find returns (nil, nil) for
// unknown tasks; absence is a first-class result, not an error.
type StateRepository interface {
	// Find retrieves the state for a task, or (nil, nil) if absent
	Find(ctx context.Context, taskID string) (*remediation.State, error)

	// Save persists the full state document. Fails with ErrConflict when
	// the stored version no longer matches the loaded one.
	Save(ctx context.Context, state *remediation.State) error

	// ListSummaries returns the flat projections of all managed records
	ListSummaries(ctx context.Context) ([]StateSummary, error)

	// ListFlagged returns task IDs whose persisted record has the
	// cancellation-in-progress flag set
	ListFlagged(ctx context.Context) ([]string, error)

	// Remove deletes the record for a task. Used only by the retention
	// sweep; task owners never physically delete state.
	Remove(ctx context.Context, taskID string) error

	// SerializedSize returns the persisted document size in bytes for a
	// task, or 0 if absent. Drives the compression trigger.
	SerializedSize(ctx context.Context, taskID string) (int, error)
}
