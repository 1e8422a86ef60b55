package repository

import (
	"context"

	"github.com/YoshitsuguKoike/remloop/internal/domain/model/pullreq"
)

// PullRequestRepository reads and conditionally writes the label set of
// the external label-bearing object.
type PullRequestRepository interface {
	// Get returns the current labels together with the concurrency token
	// they were read with
	Get(ctx context.Context, number int) (*pullreq.PullRequest, error)

	// UpdateLabels replaces the full label set, conditioned on etag being
	// current. Fails with ErrConcurrentModification when the object
	// changed since the read.
	UpdateLabels(ctx context.Context, number int, labels []string, etag string) error
}
