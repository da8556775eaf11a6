// Package chronoforge turns ordinary background-job handlers into resumable,
// idempotent, long-running state machines whose progress is persisted in a
// relational database and survives process crashes, restarts, and retries.
//
// A Workflow body is plain code. It is re-run from the top on every entry;
// the Execution Log acts as a memo table keyed by step name, so primitives
// that already completed short-circuit instead of re-running. Anything the
// body needs across entries must live in the Context, not in a local
// variable, because there is no coroutine underneath this — just replay.
package chronoforge

import "time"

// WorkflowState is the lifecycle state of a Workflow row.
//
// The integer values are part of the persisted schema and must not change.
type WorkflowState int

const (
	WorkflowIdle WorkflowState = iota
	WorkflowRunning
	WorkflowCompleted
	WorkflowFailed
	WorkflowStalled
)

func (s WorkflowState) String() string {
	switch s {
	case WorkflowIdle:
		return "idle"
	case WorkflowRunning:
		return "running"
	case WorkflowCompleted:
		return "completed"
	case WorkflowFailed:
		return "failed"
	case WorkflowStalled:
		return "stalled"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further mutation is legal except via an
// explicit retry.
func (s WorkflowState) IsTerminal() bool {
	return s == WorkflowCompleted || s == WorkflowFailed
}

// Retryable reports whether RetryNow/RetryLater may act on a workflow in
// this state.
func (s WorkflowState) Retryable() bool {
	return s == WorkflowStalled || s == WorkflowFailed
}

// Workflow is the root persisted instance of a durable execution, identified
// by the unique pair (JobClass, Key).
type Workflow struct {
	ID          string
	Key         string
	JobClass    string
	Kwargs      map[string]any
	Options     map[string]any
	Context     map[string]any
	State       WorkflowState
	LockedBy    *string
	LockedAt    *time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// WorkflowInit carries the fields a find-or-create call populates only when
// the row does not already exist.
type WorkflowInit struct {
	Options map[string]any
	Kwargs  map[string]any
}
