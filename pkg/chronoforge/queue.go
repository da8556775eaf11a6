package chronoforge

import (
	"context"
	"time"
)

// JobPayload is the keyword payload carried by a job-system message.
type JobPayload struct {
	Attempt       int
	RetryWorkflow bool
	Options       map[string]any
	Kwargs        map[string]any
}

// Queue is the hosting background-job system's contract, the one external
// collaborator the core depends on to move work forward in time. The
// reference implementation (internal/queue) is backed by NATS JetStream;
// any type satisfying this interface can stand in for it.
type Queue interface {
	// EnqueueNow schedules an immediate re-entry of (jobClass, key).
	EnqueueNow(ctx context.Context, jobClass, key string, payload JobPayload) error

	// EnqueueAfter schedules a re-entry of (jobClass, key) no sooner than
	// delay from now. Implementations are not required to guarantee exact
	// timing, only that the entry is not attempted before delay elapses.
	EnqueueAfter(ctx context.Context, delay time.Duration, jobClass, key string, payload JobPayload) error
}
