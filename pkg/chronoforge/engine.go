package chronoforge

import (
	"context"
	"fmt"
	"time"
)

// Engine is the library-caller-facing surface: it registers workflow
// bodies by job class, submits new workflows, and drives retries of
// stalled/failed ones. Handling of an inbound job-system message (the
// (key, attempt, payload) triple from the queue) is delegated to the
// Driver via Dispatch.
type Engine struct {
	store  Store
	queue  Queue
	driver *Driver
	bodies map[string]WorkflowFunc
}

// NewEngine builds an Engine over store and queue with a freshly generated
// executor instance id and no telemetry.
func NewEngine(store Store, queue Queue) *Engine {
	return NewEngineWithTelemetry(store, queue, NoopTelemetry{})
}

// NewEngineWithTelemetry builds an Engine with an explicit Telemetry
// implementation, e.g. an OpenTelemetry-backed one from internal/telemetry.
func NewEngineWithTelemetry(store Store, queue Queue, telemetry Telemetry) *Engine {
	return &Engine{
		store:  store,
		queue:  queue,
		driver: NewDriver(store, queue, telemetry),
		bodies: map[string]WorkflowFunc{},
	}
}

// Register associates a workflow body with a job class. Submitting or
// dispatching that job class invokes body.
func (e *Engine) Register(jobClass string, body WorkflowFunc) {
	e.bodies[jobClass] = body
}

// Submit enqueues an immediate first entry for (jobClass, key). It is safe
// to call repeatedly for the same key; FindOrCreateWorkflow makes the
// underlying row creation idempotent.
func (e *Engine) Submit(ctx context.Context, jobClass, key string, kwargs, options map[string]any) error {
	return e.queue.EnqueueNow(ctx, jobClass, key, JobPayload{Kwargs: kwargs, Options: options})
}

// SubmitAsync behaves exactly like Submit: it calls the same EnqueueNow and
// returns once that call returns. It does not return before the Queue has
// finished the enqueue (the reference NATS queue waits for the JetStream
// publish acknowledgement).
func (e *Engine) SubmitAsync(ctx context.Context, jobClass, key string, kwargs, options map[string]any) error {
	return e.Submit(ctx, jobClass, key, kwargs, options)
}

// Dispatch runs one Executor Driver entry for (jobClass, key), invoking
// the registered body. This is what a queue consumer calls on message
// delivery.
func (e *Engine) Dispatch(ctx context.Context, jobClass, key string, payload JobPayload) error {
	body, ok := e.bodies[jobClass]
	if !ok {
		return fmt.Errorf("chronoforge: no workflow registered for job class %q", jobClass)
	}
	return e.driver.Perform(ctx, jobClass, key, body, payload)
}

// RetryNow immediately enqueues a retry entry for (jobClass, key). It does
// not check the workflow's state itself: the Driver entry that handles the
// retry returns WorkflowNotRetryableError, changing nothing, when the
// workflow is not stalled or failed.
func (e *Engine) RetryNow(ctx context.Context, jobClass, key string) error {
	return e.queue.EnqueueNow(ctx, jobClass, key, JobPayload{RetryWorkflow: true})
}

// RetryLater enqueues a retry entry for (jobClass, key) no sooner than
// delay from now. Like RetryNow, it does not check the workflow's state;
// the Driver entry that handles the retry does.
func (e *Engine) RetryLater(ctx context.Context, jobClass, key string, delay time.Duration) error {
	return e.queue.EnqueueAfter(ctx, delay, jobClass, key, JobPayload{RetryWorkflow: true})
}
