package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/YoshitsuguKoike/remloop/internal/domain/model/remediation"
	"github.com/YoshitsuguKoike/remloop/internal/domain/repository"
)

// stateDocument is the serialized form of a remediation state
type stateDocument struct {
	TaskID                 string                      `json:"task_id"`
	Iteration              int                         `json:"iteration"`
	Status                 remediation.Status          `json:"status"`
	FeedbackHistory        []remediation.FeedbackEntry `json:"feedback_history"`
	CancellationInProgress bool                        `json:"cancellation_in_progress"`
	LastUpdate             time.Time                   `json:"last_update"`
	ErrorMessages          []string                    `json:"error_messages"`
	Metadata               map[string]string           `json:"metadata"`
	SchemaVersion          string                      `json:"schema_version"`
}

// StateRepositoryImpl implements repository.StateRepository with SQLite.
//
// Conflict detection uses a per-row version counter: Find stamps the
// loaded version onto the aggregate and Save conditions its UPDATE on
// that same token, so of two writers racing on the same record exactly
// one wins a round and the loser sees repository.ErrConflict. The token
// travels with the document, never with the repository, so goroutines
// sharing one instance cannot observe each other's loads.
type StateRepositoryImpl struct {
	db *sql.DB
}

// NewStateRepository creates a new SQLite-based state repository
func NewStateRepository(db *sql.DB) repository.StateRepository {
	return &StateRepositoryImpl{db: db}
}

// Find retrieves the state for a task, or (nil, nil) if absent
func (r *StateRepositoryImpl) Find(ctx context.Context, taskID string) (*remediation.State, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT document, version FROM remediation_states WHERE task_id = ?`, taskID)

	var (
		docJSON string
		version int64
	)
	if err := row.Scan(&docJSON, &version); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan remediation state: %w", err)
	}

	state, err := unmarshalState(docJSON)
	if err != nil {
		return nil, err
	}
	state.SetVersion(version)
	return state, nil
}

// Save persists the full state document as one atomic replace.
// Never-persisted documents (version 0) INSERT; loaded documents UPDATE
// conditioned on the version stamped by the Find that loaded them.
func (r *StateRepositoryImpl) Save(ctx context.Context, state *remediation.State) error {
	docJSON, err := marshalState(state)
	if err != nil {
		return err
	}

	cancelling := 0
	if state.CancellationInProgress() {
		cancelling = 1
	}
	lastUpdate := state.LastUpdate().Format(time.RFC3339Nano)

	loadedVersion := state.Version()
	if loadedVersion == 0 {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO remediation_states (task_id, iteration, status, cancelling, last_update, document, version)
			VALUES (?, ?, ?, ?, ?, ?, 1)
		`, state.TaskID(), state.Iteration(), string(state.Status()), cancelling, lastUpdate, docJSON)
		if err != nil {
			if isUniqueConstraintError(err) {
				// Another writer created the record first
				return repository.ErrConflict
			}
			return fmt.Errorf("insert remediation state: %w", err)
		}
		state.SetVersion(1)
		return nil
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE remediation_states
		SET iteration = ?, status = ?, cancelling = ?, last_update = ?, document = ?, version = version + 1
		WHERE task_id = ? AND version = ?
	`, state.Iteration(), string(state.Status()), cancelling, lastUpdate, docJSON, state.TaskID(), loadedVersion)
	if err != nil {
		return fmt.Errorf("update remediation state: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return repository.ErrConflict
	}
	state.SetVersion(loadedVersion + 1)
	return nil
}

// ListSummaries returns the flat projections of all managed records
func (r *StateRepositoryImpl) ListSummaries(ctx context.Context) ([]repository.StateSummary, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT task_id, iteration, status, last_update FROM remediation_states ORDER BY last_update DESC`)
	if err != nil {
		return nil, fmt.Errorf("query state summaries: %w", err)
	}
	defer rows.Close()

	var summaries []repository.StateSummary
	for rows.Next() {
		var (
			s          repository.StateSummary
			status     string
			lastUpdate string
		)
		if err := rows.Scan(&s.TaskID, &s.Iteration, &status, &lastUpdate); err != nil {
			return nil, fmt.Errorf("scan state summary: %w", err)
		}
		s.Status = remediation.Status(status)
		s.LastUpdate, _ = time.Parse(time.RFC3339Nano, lastUpdate)
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate state summaries: %w", err)
	}
	return summaries, nil
}

// ListFlagged returns task IDs whose persisted record has the
// cancellation-in-progress flag set
func (r *StateRepositoryImpl) ListFlagged(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT task_id FROM remediation_states WHERE cancelling = 1`)
	if err != nil {
		return nil, fmt.Errorf("query flagged states: %w", err)
	}
	defer rows.Close()

	var taskIDs []string
	for rows.Next() {
		var taskID string
		if err := rows.Scan(&taskID); err != nil {
			return nil, fmt.Errorf("scan flagged state: %w", err)
		}
		taskIDs = append(taskIDs, taskID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate flagged states: %w", err)
	}
	return taskIDs, nil
}

// Remove deletes the record for a task
func (r *StateRepositoryImpl) Remove(ctx context.Context, taskID string) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM remediation_states WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("delete remediation state: %w", err)
	}
	return nil
}

// SerializedSize returns the persisted document size in bytes, or 0 if absent
func (r *StateRepositoryImpl) SerializedSize(ctx context.Context, taskID string) (int, error) {
	var size int
	err := r.db.QueryRowContext(ctx,
		`SELECT length(document) FROM remediation_states WHERE task_id = ?`, taskID).Scan(&size)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query document size: %w", err)
	}
	return size, nil
}

func marshalState(state *remediation.State) (string, error) {
	doc := stateDocument{
		TaskID:                 state.TaskID(),
		Iteration:              state.Iteration(),
		Status:                 state.Status(),
		FeedbackHistory:        state.FeedbackHistory(),
		CancellationInProgress: state.CancellationInProgress(),
		LastUpdate:             state.LastUpdate(),
		ErrorMessages:          state.ErrorMessages(),
		Metadata:               state.Metadata(),
		SchemaVersion:          state.SchemaVer(),
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal remediation state: %w", err)
	}
	return string(data), nil
}

func unmarshalState(docJSON string) (*remediation.State, error) {
	var doc stateDocument
	if err := json.Unmarshal([]byte(docJSON), &doc); err != nil {
		return nil, fmt.Errorf("unmarshal remediation state: %w", err)
	}
	return remediation.ReconstructState(
		doc.TaskID,
		doc.Iteration,
		doc.Status,
		doc.FeedbackHistory,
		doc.CancellationInProgress,
		doc.LastUpdate,
		doc.ErrorMessages,
		doc.Metadata,
		doc.SchemaVersion,
	), nil
}

// isUniqueConstraintError checks if the error is a UNIQUE constraint violation
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "constraint failed")
}
