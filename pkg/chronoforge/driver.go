package chronoforge

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/radioactive-labs/chrono-forge/internal/logging"
)

// WorkflowFunc is a workflow body: ordinary code, re-run from the top on
// every entry, making forward progress only through the *Execution's step
// primitives.
type WorkflowFunc func(ctx context.Context, e *Execution, kwargs map[string]any) error

// Telemetry receives span/metric hooks from the Driver. A nil Telemetry is
// valid; NoopTelemetry is used by default.
type Telemetry interface {
	PerformStarted(ctx context.Context, jobClass, key string, attempt int) (context.Context, func())
	WorkflowCompleted(jobClass string)
	WorkflowFailed(jobClass string)
	WorkflowStalled(jobClass string)
}

// NoopTelemetry discards all telemetry hooks.
type NoopTelemetry struct{}

func (NoopTelemetry) PerformStarted(ctx context.Context, jobClass, key string, attempt int) (context.Context, func()) {
	return ctx, func() {}
}
func (NoopTelemetry) WorkflowCompleted(string) {}
func (NoopTelemetry) WorkflowFailed(string)    {}
func (NoopTelemetry) WorkflowStalled(string)   {}

// Driver is the Executor Driver: the entrypoint a job system calls into.
// It composes lock -> replay -> complete/fail/halt, enforces the attempt
// cap, and performs structured exception handling per the error taxonomy.
type Driver struct {
	store      Store
	queue      Queue
	locks      *lockManager
	tracker    *executionTracker
	retry      *retryPolicy
	telemetry  Telemetry
	executorID string
	maxDuration time.Duration
}

// NewDriver constructs a Driver with a freshly generated executor instance
// id. Pass an explicit executorID via NewDriverWithID for tests that need
// determinism.
func NewDriver(store Store, queue Queue, telemetry Telemetry) *Driver {
	return NewDriverWithID(store, queue, telemetry, uuid.NewString())
}

// NewDriverWithID constructs a Driver with a caller-supplied executor
// instance id.
func NewDriverWithID(store Store, queue Queue, telemetry Telemetry, executorID string) *Driver {
	if telemetry == nil {
		telemetry = NoopTelemetry{}
	}
	return &Driver{
		store:       store,
		queue:       queue,
		locks:       newLockManager(store),
		tracker:     newExecutionTracker(store),
		retry:       newRetryPolicy(queue),
		telemetry:   telemetry,
		executorID:  executorID,
		maxDuration: defaultMaxDuration,
	}
}

// WithMaxDuration overrides the lock staleness window (default 10 minutes).
func (d *Driver) WithMaxDuration(dur time.Duration) *Driver {
	d.maxDuration = dur
	return d
}

// Perform is the job system's entrypoint: (key, attempt, payload) in,
// terminal workflow state (persisted) out. It never panics on user errors;
// it converts them into retries, terminal failure, or a stalled workflow
// per the error taxonomy in the package doc.
func (d *Driver) Perform(ctx context.Context, jobClass, key string, body WorkflowFunc, payload JobPayload) error {
	if key == "" {
		return &ContextValidationError{Key: "key", Reason: "workflow key must be a non-empty string"}
	}
	if payload.Attempt >= MaxAttempts {
		logging.Info("chronoforge: dropping %s/%s: attempt %d >= max attempts %d", jobClass, key, payload.Attempt, MaxAttempts)
		return nil
	}

	ctx, end := d.telemetry.PerformStarted(ctx, jobClass, key, payload.Attempt)
	defer end()

	workflow, err := d.store.FindOrCreateWorkflow(ctx, jobClass, key, WorkflowInit{
		Options: payload.Options,
		Kwargs:  payload.Kwargs,
	})
	if err != nil {
		return err
	}
	if workflow.StartedAt == nil {
		now := time.Now().UTC()
		workflow.StartedAt = &now
		if err := d.store.UpdateColumns(ctx, workflow.ID, map[string]any{"started_at": now}); err != nil {
			return err
		}
	}

	if payload.RetryWorkflow {
		if err := retryTransition(ctx, d.store, d.queue, d.locks, d.executorID, workflow, 0); err != nil {
			return err
		}
		return nil
	}

	lockAcquired := false
	var exec *Execution

	performErr := func() error {
		acquired, err := d.locks.acquire(ctx, d.executorID, workflow, d.maxDuration)
		if err != nil {
			return err
		}
		lockAcquired = true
		workflow = acquired

		exec = newExecution(workflow, d.store, d.queue, d.tracker, d.executorID)

		if err := body(ctx, exec, workflow.Kwargs); err != nil {
			return err
		}

		return completeWorkflow(ctx, d.store, workflow)
	}()

	return d.handleOutcome(ctx, workflow, exec, lockAcquired, payload.Attempt, performErr)
}

func (d *Driver) handleOutcome(ctx context.Context, workflow *Workflow, exec *Execution, lockAcquired bool, attempt int, performErr error) error {
	var execCtx *Context
	if exec != nil {
		execCtx = exec.Context()
	}

	defer func() {
		if !lockAcquired {
			return
		}
		if execCtx != nil {
			if err := execCtx.Save(ctx); err != nil {
				logging.Error("chronoforge: failed to save context for %s: %v", workflow.Key, err)
			}
		}
		if err := d.locks.release(ctx, d.executorID, workflow, false); err != nil {
			if _, ok := err.(*LongRunningConcurrentExecutionError); ok {
				d.tracker.track(ctx, workflow, execCtx, err)
				logging.Error("chronoforge: %v", err)
				return
			}
			logging.Error("chronoforge: failed to release lock for %s: %v", workflow.Key, err)
		}
	}()

	if performErr == nil {
		d.telemetry.WorkflowCompleted(workflow.JobClass)
		return nil
	}

	switch e := performErr.(type) {
	case *ExecutionFailedError:
		d.tracker.track(ctx, workflow, execCtx, e)
		if err := stallWorkflow(ctx, d.store, workflow); err != nil {
			return err
		}
		d.telemetry.WorkflowStalled(workflow.JobClass)
		return nil

	case *HaltExecution:
		return nil

	case *ConcurrentExecutionError:
		logging.Info("chronoforge: %v", e)
		return nil

	case *WorkflowNotRetryableError:
		return e

	default:
		errLog := d.tracker.track(ctx, workflow, execCtx, performErr)
		if d.retry.shouldRetry(performErr, attempt) {
			if err := d.retry.scheduleRetry(ctx, workflow, attempt); err != nil {
				return err
			}
			return nil
		}
		if err := failWorkflow(ctx, d.store, workflow, errLog); err != nil {
			return err
		}
		d.telemetry.WorkflowFailed(workflow.JobClass)
		return nil
	}
}
