package core

import "time"

// AgentStatus is the lifecycle state of a single dispatched agent task.
// Transitions are monotonic: Queued -> Running -> {Completed, Failed,
// TimedOut}. Terminal states are never revisited.
type AgentStatus string

const (
	AgentQueued    AgentStatus = "queued"
	AgentRunning   AgentStatus = "running"
	AgentCompleted AgentStatus = "completed"
	AgentFailed    AgentStatus = "failed"
	AgentTimedOut  AgentStatus = "timed_out"
)

// Terminal reports whether s is one of the three terminal states.
func (s AgentStatus) Terminal() bool {
	return s == AgentCompleted || s == AgentFailed || s == AgentTimedOut
}

// AgentRun is the lifecycle record the Dispatcher maintains for one task.
// It is created on enqueue and mutated only by the dispatcher goroutine
// that owns it; readers observe the final records in the Runs field of the
// dispatcher.Result that Dispatcher.Run returns.
type AgentRun struct {
	ID            string      `json:"id"`
	AgentID       string      `json:"agent_id"`
	Status        AgentStatus `json:"status"`
	QueuedAt      time.Time   `json:"queued_at"`
	StartedAt     *time.Time  `json:"started_at,omitempty"`
	CompletedAt   *time.Time  `json:"completed_at,omitempty"`
	DurationMs    *int64      `json:"duration_ms,omitempty"`
	FindingCount  *int        `json:"finding_count,omitempty"`
	Error         string      `json:"error,omitempty"`
}
