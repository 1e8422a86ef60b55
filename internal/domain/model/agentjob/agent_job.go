package agentjob

import (
	"fmt"
	"time"
)

// Phase is the lifecycle phase of an agent job
type Phase string

const (
	PhasePending   Phase = "Pending"
	PhaseRunning   Phase = "Running"
	PhaseSucceeded Phase = "Succeeded"
	PhaseFailed    Phase = "Failed"
	PhaseCancelled Phase = "Cancelled"
)

// IsTerminal reports whether the job has finished and needs no cancellation
func (p Phase) IsTerminal() bool {
	return p == PhaseSucceeded || p == PhaseFailed || p == PhaseCancelled
}

// AgentJob is a running agent worker (quality agent, test agent, ...)
// attached to a task. A remediation push invalidates competing jobs for
// the same task; cancellation locates them via the task-id label and
// terminates them gracefully, then forcefully.
type AgentJob struct {
	name      string
	taskID    string
	agentType string
	phase     Phase
	terminate bool
	startedAt time.Time
}

// NewAgentJob creates a pending job for a task
func NewAgentJob(name, taskID, agentType string) (*AgentJob, error) {
	if name == "" {
		return nil, fmt.Errorf("job name cannot be empty")
	}
	if taskID == "" {
		return nil, fmt.Errorf("task ID cannot be empty")
	}
	return &AgentJob{
		name:      name,
		taskID:    taskID,
		agentType: agentType,
		phase:     PhasePending,
		startedAt: time.Now().UTC(),
	}, nil
}

// ReconstructAgentJob rebuilds an AgentJob from persisted data
func ReconstructAgentJob(name, taskID, agentType string, phase Phase, terminate bool, startedAt time.Time) *AgentJob {
	return &AgentJob{
		name:      name,
		taskID:    taskID,
		agentType: agentType,
		phase:     phase,
		terminate: terminate,
		startedAt: startedAt,
	}
}

// RequestTermination sets the graceful-termination marker. The job's
// runner is expected to observe it and move the job to a terminal phase.
func (j *AgentJob) RequestTermination() {
	j.terminate = true
}

// SetPhase transitions the job phase
func (j *AgentJob) SetPhase(phase Phase) {
	j.phase = phase
}

// Getters
func (j *AgentJob) Name() string         { return j.name }
func (j *AgentJob) TaskID() string       { return j.taskID }
func (j *AgentJob) AgentType() string    { return j.agentType }
func (j *AgentJob) Phase() Phase         { return j.phase }
func (j *AgentJob) TerminateSet() bool   { return j.terminate }
func (j *AgentJob) StartedAt() time.Time { return j.startedAt }
