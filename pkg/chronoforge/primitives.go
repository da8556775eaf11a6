package chronoforge

import (
	"context"
	"time"
)

// DurablyExecute runs method at most once successfully across all replays
// of this workflow. name disambiguates multiple calls to DurablyExecute
// within one body; it defaults to the caller-supplied name and must be
// stable across entries.
//
// On failure, it is attempted up to maxAttempts times in total, with exponential
// backoff (2^min(attempts,5) seconds) via delayed re-entry, not by
// blocking. Once attempts are exhausted it records the failure and returns
// an *ExecutionFailedError, which the Driver turns into a stalled workflow.
func (e *Execution) DurablyExecute(ctx context.Context, name string, maxAttempts int, method func(ctx context.Context, c *Context) error) error {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	stepName := durablyExecuteStepName(name)

	log, err := e.store.FindOrCreateStep(ctx, e.workflow.ID, stepName, StepInit{})
	if err != nil {
		return err
	}
	if log.Completed() {
		return nil
	}

	now := time.Now().UTC()
	attempts := log.Attempts + 1
	if err := e.store.UpdateStep(ctx, log.ID, map[string]any{
		"attempts":         attempts,
		"last_executed_at": now,
		"started_at":       firstNonNil(log.StartedAt, &now),
	}); err != nil {
		return err
	}

	if runErr := method(ctx, e.ctx); runErr != nil {
		if _, ok := runErr.(*HaltExecution); ok {
			return runErr
		}
		e.tracker.track(ctx, e.workflow, e.ctx, runErr)

		if attempts < maxAttempts {
			if err := e.enqueueAfter(ctx, stepBackoff(attempts)); err != nil {
				return err
			}
			return halt("durably_execute retry scheduled")
		}

		_ = e.store.UpdateStep(ctx, log.ID, map[string]any{
			"state":         int(StepFailed),
			"error_class":   errorClass(runErr),
			"error_message": runErr.Error(),
		})
		return &ExecutionFailedError{StepName: stepName, Cause: runErr}
	}

	completedAt := time.Now().UTC()
	return e.store.UpdateStep(ctx, log.ID, map[string]any{
		"state":        int(StepCompleted),
		"completed_at": completedAt,
	})
}

// Wait is a time-based durable sleep. The wake time is fixed at first
// creation of the step so replays agree on when to resume.
func (e *Execution) Wait(ctx context.Context, name string, duration time.Duration) error {
	stepName := waitStepName(name)

	log, err := e.store.FindOrCreateStep(ctx, e.workflow.ID, stepName, StepInit{
		Metadata: map[string]any{"wait_until": time.Now().UTC().Add(duration).Format(time.RFC3339Nano)},
	})
	if err != nil {
		return err
	}
	if log.Completed() {
		return nil
	}

	waitUntil, ok := metaTime(log.Metadata, "wait_until")
	if !ok {
		waitUntil = time.Now().UTC().Add(duration)
	}

	now := time.Now().UTC()
	if !now.Before(waitUntil) {
		return e.store.UpdateStep(ctx, log.ID, map[string]any{
			"state":        int(StepCompleted),
			"completed_at": now,
		})
	}

	remaining := waitUntil.Sub(now)
	if remaining <= 0 {
		remaining = 0
	}
	if err := e.enqueueAfter(ctx, remaining); err != nil {
		return err
	}
	return halt("wait not yet elapsed")
}

// WaitUntil is a polled-condition wait. condition is evaluated at most once
// per entry; a falsy result reschedules re-entry after checkInterval until
// timeout elapses, at which point WaitConditionNotMetError is returned.
func (e *Execution) WaitUntil(ctx context.Context, condition string, timeout, checkInterval time.Duration, retryOn func(error) bool, check func(ctx context.Context, c *Context) (bool, error)) error {
	if timeout <= 0 {
		timeout = time.Hour
	}
	if checkInterval <= 0 {
		checkInterval = 15 * time.Minute
	}
	stepName := waitUntilStepName(condition)

	log, err := e.store.FindOrCreateStep(ctx, e.workflow.ID, stepName, StepInit{
		Metadata: map[string]any{
			"timeout_at":     time.Now().UTC().Add(timeout).Format(time.RFC3339Nano),
			"check_interval": checkInterval.String(),
		},
	})
	if err != nil {
		return err
	}
	if log.Completed() {
		return nil
	}

	ok, checkErr := check(ctx, e.ctx)
	if checkErr != nil {
		if retryOn != nil && retryOn(checkErr) {
			attempts := log.Attempts + 1
			if err := e.store.UpdateStep(ctx, log.ID, map[string]any{"attempts": attempts}); err != nil {
				return err
			}
			if err := e.enqueueAfter(ctx, stepBackoff(attempts)); err != nil {
				return err
			}
			return halt("wait_until retryable error")
		}
		e.tracker.track(ctx, e.workflow, e.ctx, checkErr)
		_ = e.store.UpdateStep(ctx, log.ID, map[string]any{
			"state":         int(StepFailed),
			"error_class":   errorClass(checkErr),
			"error_message": checkErr.Error(),
		})
		return &ExecutionFailedError{StepName: stepName, Cause: checkErr}
	}

	if ok {
		meta := log.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		meta["result"] = true
		return e.store.UpdateStep(ctx, log.ID, map[string]any{
			"state":        int(StepCompleted),
			"completed_at": time.Now().UTC(),
			"metadata":     meta,
		})
	}

	timeoutAt, hasTimeout := metaTime(log.Metadata, "timeout_at")
	if hasTimeout && time.Now().UTC().After(timeoutAt) {
		waitErr := &WaitConditionNotMetError{StepName: stepName}
		_ = e.store.UpdateStep(ctx, log.ID, map[string]any{
			"state":         int(StepFailed),
			"error_class":   errorClass(waitErr),
			"error_message": waitErr.Error(),
		})
		return &ExecutionFailedError{StepName: stepName, Cause: waitErr}
	}

	if err := e.enqueueAfter(ctx, checkInterval); err != nil {
		return err
	}
	return halt("wait_until condition not yet met")
}

// ContinueIf evaluates condition exactly once per entry with no automatic
// polling. A falsy result halts without rescheduling: the workflow stays
// idle until some external actor re-enqueues it.
func (e *Execution) ContinueIf(ctx context.Context, condition string, check func(ctx context.Context, c *Context) (bool, error)) error {
	stepName := continueIfStepName(condition)

	log, err := e.store.FindOrCreateStep(ctx, e.workflow.ID, stepName, StepInit{})
	if err != nil {
		return err
	}
	if log.Completed() {
		return nil
	}

	attempts := log.Attempts + 1
	ok, checkErr := check(ctx, e.ctx)
	if checkErr != nil {
		e.tracker.track(ctx, e.workflow, e.ctx, checkErr)
		_ = e.store.UpdateStep(ctx, log.ID, map[string]any{
			"attempts":      attempts,
			"state":         int(StepFailed),
			"error_class":   errorClass(checkErr),
			"error_message": checkErr.Error(),
		})
		return &ExecutionFailedError{StepName: stepName, Cause: checkErr}
	}

	if ok {
		return e.store.UpdateStep(ctx, log.ID, map[string]any{
			"attempts":     attempts,
			"state":        int(StepCompleted),
			"completed_at": time.Now().UTC(),
			"metadata":     map[string]any{"result": true},
		})
	}

	if err := e.store.UpdateStep(ctx, log.ID, map[string]any{"attempts": attempts}); err != nil {
		return err
	}
	return halt("continue_if not yet met")
}

func firstNonNil(a, b *time.Time) *time.Time {
	if a != nil {
		return a
	}
	return b
}
