package chronoforge

import (
	"context"
	"math"
	"time"
)

// workflowBackoffTable is the fixed workflow-level retry schedule, in
// seconds. This is distinct from the per-step exponential backoff used by
// DurablyExecute/WaitUntil/DurablyRepeat.
var workflowBackoffTable = []time.Duration{
	1 * time.Second,
	5 * time.Second,
	30 * time.Second,
	120 * time.Second,
	600 * time.Second,
}

// MaxAttempts is the number of workflow-level attempts the Driver will
// allow before silently dropping re-entry.
const MaxAttempts = len(workflowBackoffTable)

// defaultShouldRetryAttempts is the default attempt budget for
// ShouldRetry, independent of MaxAttempts (which bounds the Driver's own
// attempt counter).
const defaultShouldRetryAttempts = 3

// retryPolicy decides retryability of user errors and schedules workflow
// re-entry with backoff after a failed entry.
type retryPolicy struct {
	queue Queue
}

func newRetryPolicy(queue Queue) *retryPolicy {
	return &retryPolicy{queue: queue}
}

// scheduleRetry enqueues jobClass/key for attempt+1 after the backoff
// appropriate to attempt.
func (p *retryPolicy) scheduleRetry(ctx context.Context, workflow *Workflow, attempt int) error {
	delay := workflowBackoffTable[min(attempt, len(workflowBackoffTable)-1)]
	return p.queue.EnqueueAfter(ctx, delay, workflow.JobClass, workflow.Key, JobPayload{
		Attempt: attempt + 1,
		Options: workflow.Options,
		Kwargs:  workflow.Kwargs,
	})
}

// shouldRetry applies the default attempt-count policy, deferring to a
// Retryable implementation on err when present. Sentinel flow-control and
// protocol errors are never retried by this policy; the Driver handles
// those kinds before shouldRetry is ever consulted.
func (p *retryPolicy) shouldRetry(err error, attemptCount int) bool {
	if r, ok := err.(Retryable); ok {
		return r.Retryable()
	}
	return attemptCount < defaultShouldRetryAttempts
}

// stepBackoff is the per-step exponential backoff used by
// DurablyExecute/WaitUntil/DurablyRepeat retries: 2^min(attempts, 5) seconds.
func stepBackoff(attempts int) time.Duration {
	exp := attempts
	if exp > 5 {
		exp = 5
	}
	return time.Duration(math.Pow(2, float64(exp))) * time.Second
}
