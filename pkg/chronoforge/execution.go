package chronoforge

import (
	"context"
	"time"
)

// Execution is bound to exactly one Workflow for exactly one Executor
// Driver entry. A workflow body receives an *Execution and calls step
// primitives on it; the primitives are what make the body idempotent
// across crashes. An Execution must never be retained past the entry that
// created it.
type Execution struct {
	workflow  *Workflow
	store     Store
	queue     Queue
	tracker   *executionTracker
	ctx       *Context
	executorID string
}

func newExecution(workflow *Workflow, store Store, queue Queue, tracker *executionTracker, executorID string) *Execution {
	return &Execution{
		workflow:   workflow,
		store:      store,
		queue:      queue,
		tracker:    tracker,
		ctx:        newContext(workflow, store),
		executorID: executorID,
	}
}

// Context returns the durable key/value bag for this workflow.
func (e *Execution) Context() *Context { return e.ctx }

// Key returns the workflow's unique key.
func (e *Execution) Key() string { return e.workflow.Key }

func (e *Execution) enqueueAfter(ctx context.Context, delay time.Duration) error {
	return e.queue.EnqueueAfter(ctx, delay, e.workflow.JobClass, e.workflow.Key, JobPayload{
		Options: e.workflow.Options,
		Kwargs:  e.workflow.Kwargs,
	})
}

func (e *Execution) enqueueNow(ctx context.Context) error {
	return e.queue.EnqueueNow(ctx, e.workflow.JobClass, e.workflow.Key, JobPayload{
		Options: e.workflow.Options,
		Kwargs:  e.workflow.Kwargs,
	})
}

func halt(reason string) error { return &HaltExecution{Reason: reason} }

func metaString(m map[string]any, k string) (string, bool) {
	v, ok := m[k]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func metaTime(m map[string]any, k string) (time.Time, bool) {
	s, ok := metaString(m, k)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
