package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/YoshitsuguKoike/remloop/internal/domain/model/agentjob"
	"github.com/YoshitsuguKoike/remloop/internal/domain/model/cancellation"
	"github.com/YoshitsuguKoike/remloop/internal/domain/model/lock"
	"github.com/YoshitsuguKoike/remloop/internal/domain/model/pullreq"
	"github.com/YoshitsuguKoike/remloop/internal/domain/model/remediation"
	"github.com/YoshitsuguKoike/remloop/internal/domain/repository"
)

// MockStateRepository is an in-memory StateRepository for testing
type MockStateRepository struct {
	mu     sync.Mutex
	states map[string]*remediation.State
	sizes  map[string]int // overrides SerializedSize when set

	// conflictsLeft makes the next N saves fail with ErrConflict
	conflictsLeft int
	saveCount     int
}

func NewMockStateRepository() *MockStateRepository {
	return &MockStateRepository{
		states: make(map[string]*remediation.State),
		sizes:  make(map[string]int),
	}
}

func cloneState(s *remediation.State) *remediation.State {
	cp := remediation.ReconstructState(
		s.TaskID(), s.Iteration(), s.Status(),
		append([]remediation.FeedbackEntry(nil), s.FeedbackHistory()...),
		s.CancellationInProgress(), s.LastUpdate(),
		append([]string(nil), s.ErrorMessages()...),
		copyMap(s.Metadata()), s.SchemaVer(),
	)
	cp.SetVersion(s.Version())
	return cp
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (m *MockStateRepository) Find(ctx context.Context, taskID string) (*remediation.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[taskID]
	if !ok {
		return nil, nil
	}
	return cloneState(s), nil
}

func (m *MockStateRepository) Save(ctx context.Context, state *remediation.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveCount++
	if m.conflictsLeft > 0 {
		m.conflictsLeft--
		return repository.ErrConflict
	}
	m.states[state.TaskID()] = cloneState(state)
	return nil
}

func (m *MockStateRepository) saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveCount
}

func (m *MockStateRepository) ListSummaries(ctx context.Context) ([]repository.StateSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []repository.StateSummary
	for _, s := range m.states {
		out = append(out, repository.StateSummary{
			TaskID:     s.TaskID(),
			Iteration:  s.Iteration(),
			Status:     s.Status(),
			LastUpdate: s.LastUpdate(),
		})
	}
	return out, nil
}

func (m *MockStateRepository) ListFlagged(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for id, s := range m.states {
		if s.CancellationInProgress() {
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *MockStateRepository) Remove(ctx context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, taskID)
	return nil
}

func (m *MockStateRepository) SerializedSize(ctx context.Context, taskID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if size, ok := m.sizes[taskID]; ok {
		return size, nil
	}
	if _, ok := m.states[taskID]; ok {
		return 256, nil
	}
	return 0, nil
}

// MockLockRepository is an in-memory LockRepository for testing
type MockLockRepository struct {
	mu          sync.Mutex
	locks       map[string]*lock.CancelLock
	renewCounts map[string]int
}

func NewMockLockRepository() *MockLockRepository {
	return &MockLockRepository{
		locks:       make(map[string]*lock.CancelLock),
		renewCounts: make(map[string]int),
	}
}

func (m *MockLockRepository) TryAcquire(ctx context.Context, lockID lock.LockID, holder string, duration time.Duration) (*lock.CancelLock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.locks[lockID.String()]; ok && !existing.IsExpired() {
		return nil, &repository.LockHeldError{Holder: existing.Holder()}
	}
	l, err := lock.NewCancelLock(lockID, holder, duration)
	if err != nil {
		return nil, err
	}
	m.locks[lockID.String()] = l
	return l, nil
}

func (m *MockLockRepository) Renew(ctx context.Context, lockID lock.LockID, holder string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[lockID.String()]
	if !ok || !l.HeldBy(holder) {
		return lock.ErrLockNotFound
	}
	l.Renew()
	m.renewCounts[lockID.String()]++
	return nil
}

func (m *MockLockRepository) Release(ctx context.Context, lockID lock.LockID, holder string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.locks[lockID.String()]; ok && l.HeldBy(holder) {
		delete(m.locks, lockID.String())
	}
	return nil
}

func (m *MockLockRepository) Find(ctx context.Context, lockID lock.LockID) (*lock.CancelLock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[lockID.String()]
	if !ok {
		return nil, lock.ErrLockNotFound
	}
	return l, nil
}

func (m *MockLockRepository) List(ctx context.Context) ([]*lock.CancelLock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*lock.CancelLock
	for _, l := range m.locks {
		out = append(out, l)
	}
	return out, nil
}

func (m *MockLockRepository) DeleteExpired(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deleted := 0
	for id, l := range m.locks {
		if l.IsExpired() {
			delete(m.locks, id)
			deleted++
		}
	}
	return deleted, nil
}

func (m *MockLockRepository) renewCount(lockID lock.LockID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.renewCounts[lockID.String()]
}

// MockJobRepository is an in-memory JobRepository for testing
type MockJobRepository struct {
	mu   sync.Mutex
	jobs map[string]*agentjob.AgentJob

	// terminateMovesToCancelled makes RequestTermination flip the phase,
	// simulating a runner that honors the marker promptly
	terminateMovesToCancelled bool

	// deleteErr makes Delete fail with this error until deleteFailures
	// runs out
	deleteErr      error
	deleteFailures int

	// listErr makes ListByTask fail outright
	listErr error
}

func NewMockJobRepository() *MockJobRepository {
	return &MockJobRepository{jobs: make(map[string]*agentjob.AgentJob)}
}

func (m *MockJobRepository) Save(ctx context.Context, job *agentjob.AgentJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.Name()] = job
	return nil
}

func (m *MockJobRepository) ListByTask(ctx context.Context, taskID string) ([]*agentjob.AgentJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*agentjob.AgentJob
	for _, j := range m.jobs {
		if j.TaskID() == taskID {
			out = append(out, j)
		}
	}
	return out, nil
}

func (m *MockJobRepository) Find(ctx context.Context, name string) (*agentjob.AgentJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[name]
	if !ok {
		return nil, nil
	}
	return j, nil
}

func (m *MockJobRepository) RequestTermination(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[name]
	if !ok {
		return fmt.Errorf("agent job %s not found", name)
	}
	j.RequestTermination()
	if m.terminateMovesToCancelled {
		j.SetPhase(agentjob.PhaseCancelled)
	}
	return nil
}

func (m *MockJobRepository) Delete(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteFailures > 0 {
		m.deleteFailures--
		return m.deleteErr
	}
	delete(m.jobs, name)
	return nil
}

// MockQueueRepository is an in-memory QueueRepository for testing
type MockQueueRepository struct {
	mu      sync.Mutex
	entries map[string]*cancellation.Request

	// onEnqueue runs after an entry is stored, letting a test act inside
	// the window between the durable write and whatever follows it
	onEnqueue func(*cancellation.Request)
}

func NewMockQueueRepository() *MockQueueRepository {
	return &MockQueueRepository{entries: make(map[string]*cancellation.Request)}
}

func (m *MockQueueRepository) Enqueue(ctx context.Context, req *cancellation.Request) error {
	m.mu.Lock()
	cp := *req
	m.entries[req.QueueKey()] = &cp
	hook := m.onEnqueue
	m.mu.Unlock()
	if hook != nil {
		hook(req)
	}
	return nil
}

func (m *MockQueueRepository) Remove(ctx context.Context, queueKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, queueKey)
	return nil
}

func (m *MockQueueRepository) ListPending(ctx context.Context) ([]*cancellation.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*cancellation.Request
	for _, r := range m.entries {
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MockQueueRepository) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// MockPullRequestRepository is an in-memory PullRequestRepository for testing
type MockPullRequestRepository struct {
	mu     sync.Mutex
	labels map[int][]string
	etags  map[int]string

	// conflictsLeft makes the next N updates fail with
	// ErrConcurrentModification
	conflictsLeft int
	updateCalls   int
}

func NewMockPullRequestRepository() *MockPullRequestRepository {
	return &MockPullRequestRepository{
		labels: make(map[int][]string),
		etags:  make(map[int]string),
	}
}

func (m *MockPullRequestRepository) seed(number int, labels []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.labels[number] = labels
	m.etags[number] = "etag-0"
}

func (m *MockPullRequestRepository) Get(ctx context.Context, number int) (*pullreq.PullRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &pullreq.PullRequest{
		Number: number,
		Labels: append([]string(nil), m.labels[number]...),
		ETag:   m.etags[number],
	}, nil
}

func (m *MockPullRequestRepository) UpdateLabels(ctx context.Context, number int, labels []string, etag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	if m.conflictsLeft > 0 {
		m.conflictsLeft--
		return repository.ErrConcurrentModification
	}
	if etag != m.etags[number] {
		return repository.ErrConcurrentModification
	}
	m.labels[number] = append([]string(nil), labels...)
	m.etags[number] = etag + "x"
	return nil
}

func (m *MockPullRequestRepository) currentLabels(number int) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.labels[number]...)
}

// MockEscalator records escalations
type MockEscalator struct {
	mu    sync.Mutex
	calls []string
}

func (m *MockEscalator) Escalate(ctx context.Context, taskID string, iteration int, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, taskID)
	return nil
}

func (m *MockEscalator) escalated() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}
