package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/oklog/ulid/v2"

	"github.com/YoshitsuguKoike/remloop/internal/domain/model/pullreq"
	"github.com/YoshitsuguKoike/remloop/internal/domain/repository"
)

// PullRequestRepositoryImpl is the local label store, backing tests and
// deployments without an external review platform. The etag column plays
// the concurrency-token role: it rotates on every successful write and a
// conditional update keyed on a stale value affects zero rows.
type PullRequestRepositoryImpl struct {
	db *sql.DB
}

// NewPullRequestRepository creates a new SQLite-based pull request repository
func NewPullRequestRepository(db *sql.DB) repository.PullRequestRepository {
	return &PullRequestRepositoryImpl{db: db}
}

// Seed creates or replaces a pull request record with the given labels
func (r *PullRequestRepositoryImpl) Seed(ctx context.Context, number int, labels []string) error {
	data, err := json.Marshal(labels)
	if err != nil {
		return fmt.Errorf("marshal labels: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO pull_requests (number, labels, etag)
		VALUES (?, ?, ?)
		ON CONFLICT(number) DO UPDATE SET labels = excluded.labels, etag = excluded.etag
	`, number, string(data), ulid.Make().String())
	if err != nil {
		return fmt.Errorf("seed pull request: %w", err)
	}
	return nil
}

// Get returns the current labels together with the etag they were read with
func (r *PullRequestRepositoryImpl) Get(ctx context.Context, number int) (*pullreq.PullRequest, error) {
	var (
		labelsJSON string
		etag       string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT labels, etag FROM pull_requests WHERE number = ?`, number).
		Scan(&labelsJSON, &etag)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("pull request %d not found", number)
	}
	if err != nil {
		return nil, fmt.Errorf("scan pull request: %w", err)
	}

	var labels []string
	if err := json.Unmarshal([]byte(labelsJSON), &labels); err != nil {
		return nil, fmt.Errorf("unmarshal labels: %w", err)
	}
	sort.Strings(labels)
	return &pullreq.PullRequest{Number: number, Labels: labels, ETag: etag}, nil
}

// UpdateLabels replaces the label set, conditioned on etag being current
func (r *PullRequestRepositoryImpl) UpdateLabels(ctx context.Context, number int, labels []string, etag string) error {
	data, err := json.Marshal(labels)
	if err != nil {
		return fmt.Errorf("marshal labels: %w", err)
	}
	result, err := r.db.ExecContext(ctx, `
		UPDATE pull_requests SET labels = ?, etag = ? WHERE number = ? AND etag = ?
	`, string(data), ulid.Make().String(), number, etag)
	if err != nil {
		return fmt.Errorf("update pull request labels: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return repository.ErrConcurrentModification
	}
	return nil
}
