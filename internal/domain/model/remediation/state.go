package remediation

import (
	"fmt"
	"sort"
	"time"
)

// SchemaVersion is the current persisted schema version. RecoverState
// migrates older records forward.
const SchemaVersion = "2"

// MaxIterations caps the number of remediation cycles per task.
const MaxIterations = 10

// Status represents the lifecycle state of a remediation workflow
type Status string

const (
	StatusInitialized          Status = "Initialized"
	StatusInProgress           Status = "InProgress"
	StatusCompleted            Status = "Completed"
	StatusFailed               Status = "Failed"
	StatusMaxIterationsReached Status = "MaxIterationsReached"
)

// IsActive reports whether the workflow still accepts remediation pushes
func (s Status) IsActive() bool {
	return s == StatusInitialized || s == StatusInProgress
}

// State is the per-task remediation record. It tracks how many remediation
// cycles have run, the feedback seen so far, and whether a cancellation is
// currently executing for the task. One record exists per task ID; all
// mutation goes through the repository's conflict-detecting save.
type State struct {
	taskID                 string
	iteration              int
	status                 Status
	feedbackHistory        []FeedbackEntry
	cancellationInProgress bool
	lastUpdate             time.Time
	errorMessages          []string
	metadata               map[string]string
	schemaVersion          string

	// version is the store's concurrency token: the row version this
	// document was loaded with. Zero means not yet persisted. Set by the
	// repository, never by domain logic.
	version int64
}

// NewState creates a fresh Initialized state for a task
func NewState(taskID string) (*State, error) {
	if taskID == "" {
		return nil, fmt.Errorf("task ID cannot be empty")
	}
	return &State{
		taskID:        taskID,
		iteration:     0,
		status:        StatusInitialized,
		lastUpdate:    time.Now().UTC(),
		metadata:      make(map[string]string),
		schemaVersion: SchemaVersion,
	}, nil
}

// ReconstructState rebuilds a State from persisted data.
// Used by repository when loading from database.
func ReconstructState(
	taskID string,
	iteration int,
	status Status,
	feedbackHistory []FeedbackEntry,
	cancellationInProgress bool,
	lastUpdate time.Time,
	errorMessages []string,
	metadata map[string]string,
	schemaVersion string,
) *State {
	if metadata == nil {
		metadata = make(map[string]string)
	}
	return &State{
		taskID:                 taskID,
		iteration:              iteration,
		status:                 status,
		feedbackHistory:        feedbackHistory,
		cancellationInProgress: cancellationInProgress,
		lastUpdate:             lastUpdate,
		errorMessages:          errorMessages,
		metadata:               metadata,
		schemaVersion:          schemaVersion,
	}
}

// IncrementIteration advances the iteration counter by one.
// Once the cap is reached the status flips to MaxIterationsReached and the
// call fails with *MaxIterationsError; the counter is never advanced past
// the cap.
func (s *State) IncrementIteration() (int, error) {
	if s.iteration >= MaxIterations {
		s.status = StatusMaxIterationsReached
		s.touch()
		return s.iteration, &MaxIterationsError{TaskID: s.taskID, Count: s.iteration}
	}
	s.iteration++
	s.status = StatusInProgress
	s.metadata[fmt.Sprintf("iteration_%d_started_at", s.iteration)] = time.Now().UTC().Format(time.RFC3339)
	s.touch()
	return s.iteration, nil
}

// AppendFeedback adds an entry to the history. Entries sharing
// (source comment ID, timestamp) with an existing entry are dropped
// silently, so duplicate webhook deliveries cannot grow the history.
func (s *State) AppendFeedback(entry FeedbackEntry) {
	for _, existing := range s.feedbackHistory {
		if existing.DuplicateOf(entry) {
			return
		}
	}
	s.feedbackHistory = append(s.feedbackHistory, entry)
	s.touch()
}

// ResolveFeedback marks every entry with the given source comment ID as
// resolved. Resolved entries lose their compression protection and can
// age out of the history. Returns how many entries were marked.
func (s *State) ResolveFeedback(sourceCommentID string) int {
	marked := 0
	for i := range s.feedbackHistory {
		if s.feedbackHistory[i].SourceCommentID == sourceCommentID && !s.feedbackHistory[i].Resolved {
			s.feedbackHistory[i].Resolved = true
			marked++
		}
	}
	if marked > 0 {
		s.touch()
	}
	return marked
}

// compressionKeepRecent is how many most-recent entries compression retains
// beyond the protected unresolved High/Critical entries.
const compressionKeepRecent = 15

// CompressFeedback applies the bounded degradation policy: every unresolved
// entry of severity High or Critical is retained, plus the 15 most recent
// entries by timestamp. The result is re-sorted by timestamp and the
// original count is recorded in metadata. Lossy, but bounded.
func (s *State) CompressFeedback() {
	originalCount := len(s.feedbackHistory)

	keep := make(map[int]bool)
	for i, e := range s.feedbackHistory {
		if !e.Resolved && (e.Severity == SeverityHigh || e.Severity == SeverityCritical) {
			keep[i] = true
		}
	}

	byTime := make([]int, 0, len(s.feedbackHistory))
	for i := range s.feedbackHistory {
		byTime = append(byTime, i)
	}
	sort.Slice(byTime, func(a, b int) bool {
		return s.feedbackHistory[byTime[a]].Timestamp.After(s.feedbackHistory[byTime[b]].Timestamp)
	})
	for n, i := range byTime {
		if n >= compressionKeepRecent {
			break
		}
		keep[i] = true
	}

	compressed := make([]FeedbackEntry, 0, len(keep))
	for i, e := range s.feedbackHistory {
		if keep[i] {
			compressed = append(compressed, e)
		}
	}
	sort.Slice(compressed, func(a, b int) bool {
		return compressed[a].Timestamp.Before(compressed[b].Timestamp)
	})

	s.feedbackHistory = compressed
	s.metadata["feedback_compressed_at"] = time.Now().UTC().Format(time.RFC3339)
	s.metadata["feedback_original_count"] = fmt.Sprintf("%d", originalCount)
	s.touch()
}

// DedupFeedback removes duplicate (source comment ID, timestamp) entries,
// keeping the first occurrence. Insertion order is preserved.
func (s *State) DedupFeedback() int {
	seen := make(map[string]bool, len(s.feedbackHistory))
	deduped := s.feedbackHistory[:0]
	removed := 0
	for _, e := range s.feedbackHistory {
		key := e.SourceCommentID + "|" + e.Timestamp.UTC().Format(time.RFC3339Nano)
		if seen[key] {
			removed++
			continue
		}
		seen[key] = true
		deduped = append(deduped, e)
	}
	s.feedbackHistory = deduped
	if removed > 0 {
		s.touch()
	}
	return removed
}

// Repair reconciles a possibly corrupt record to the current schema:
// stale schema versions are migrated, an iteration count beyond the cap is
// clamped (flipping status to MaxIterationsReached), and duplicate feedback
// entries are removed. Each repair leaves an audit line. Repair never
// rejects a record.
func (s *State) Repair() []string {
	var repairs []string

	if s.schemaVersion != SchemaVersion {
		repairs = append(repairs, fmt.Sprintf("migrated schema version %q to %q", s.schemaVersion, SchemaVersion))
		s.schemaVersion = SchemaVersion
	}

	if s.iteration > MaxIterations {
		repairs = append(repairs, fmt.Sprintf("clamped corrupt iteration %d to %d", s.iteration, MaxIterations))
		s.iteration = MaxIterations
		s.status = StatusMaxIterationsReached
	}

	if removed := s.DedupFeedback(); removed > 0 {
		repairs = append(repairs, fmt.Sprintf("removed %d duplicate feedback entries", removed))
	}

	if len(repairs) > 0 {
		for _, r := range repairs {
			s.errorMessages = append(s.errorMessages, "repair: "+r)
		}
	}
	s.metadata["recovered_at"] = time.Now().UTC().Format(time.RFC3339)
	s.touch()
	return repairs
}

// BeginCancellation sets the re-entrancy guard. Returns false if a
// cancellation is already in progress.
func (s *State) BeginCancellation() bool {
	if s.cancellationInProgress {
		return false
	}
	s.cancellationInProgress = true
	s.touch()
	return true
}

// EndCancellation clears the guard and records any per-job errors
func (s *State) EndCancellation(errs []string) {
	s.cancellationInProgress = false
	s.errorMessages = append(s.errorMessages, errs...)
	s.touch()
}

// ClearCancellationFlag clears the guard with an audit note.
// Used by recovery when repairing stuck or orphaned work.
func (s *State) ClearCancellationFlag(reason string) {
	s.cancellationInProgress = false
	s.errorMessages = append(s.errorMessages, "repair: "+reason)
	s.metadata["cancellation_flag_cleared_at"] = time.Now().UTC().Format(time.RFC3339)
	s.touch()
}

// MarkCompleted marks the workflow as successfully finished
func (s *State) MarkCompleted() {
	s.status = StatusCompleted
	s.touch()
}

// MarkFailed marks the workflow as failed with a reason
func (s *State) MarkFailed(reason string) {
	s.status = StatusFailed
	s.metadata["failure_reason"] = reason
	s.metadata["failed_at"] = time.Now().UTC().Format(time.RFC3339)
	s.touch()
}

// MarkTerminated marks the workflow as failed by external termination
func (s *State) MarkTerminated(reason string) {
	s.status = StatusFailed
	s.metadata["termination_reason"] = reason
	s.metadata["terminated_at"] = time.Now().UTC().Format(time.RFC3339)
	s.touch()
}

// AppendError appends a diagnostic line to the trail
func (s *State) AppendError(msg string) {
	s.errorMessages = append(s.errorMessages, msg)
	s.touch()
}

// SetMetadata sets a metadata annotation
func (s *State) SetMetadata(key, value string) {
	s.metadata[key] = value
	s.touch()
}

// GetMetadata retrieves a metadata annotation
func (s *State) GetMetadata(key string) (string, bool) {
	v, ok := s.metadata[key]
	return v, ok
}

func (s *State) touch() {
	s.lastUpdate = time.Now().UTC()
}

// Getters
func (s *State) TaskID() string                 { return s.taskID }
func (s *State) Iteration() int                 { return s.iteration }
func (s *State) Status() Status                 { return s.status }
func (s *State) FeedbackHistory() []FeedbackEntry { return s.feedbackHistory }
func (s *State) CancellationInProgress() bool   { return s.cancellationInProgress }
func (s *State) LastUpdate() time.Time          { return s.lastUpdate }
func (s *State) ErrorMessages() []string        { return s.errorMessages }
func (s *State) Metadata() map[string]string    { return s.metadata }
func (s *State) SchemaVer() string              { return s.schemaVersion }

// Version returns the concurrency token this document was loaded with,
// or 0 when it has never been persisted.
func (s *State) Version() int64 { return s.version }

// SetVersion records the concurrency token. Repository use only.
func (s *State) SetVersion(v int64) { s.version = v }
