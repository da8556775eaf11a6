package chronoforge

import (
	"context"
	"time"
)

// OnRepeatError selects what DurablyRepeat does once a tick exhausts its
// own per-tick retries.
type OnRepeatError int

const (
	// OnErrorContinue advances the schedule past the failed tick.
	OnErrorContinue OnRepeatError = iota
	// OnErrorFailWorkflow raises ExecutionFailed, stalling the workflow.
	OnErrorFailWorkflow
)

// DurablyRepeatOptions configures a periodic task.
type DurablyRepeatOptions struct {
	Every       time.Duration
	Till        func(ctx context.Context, c *Context) (bool, error)
	StartAt     *time.Time
	MaxAttempts int
	Timeout     time.Duration
	OnError     OnRepeatError
}

// DurablyRepeat runs method on a fixed cadence (every) until till returns
// true, with catch-up semantics: ticks older than their own
// scheduled_for+timeout are skipped (marked TimeoutError, not a failure)
// rather than fired, so a long process outage does not cause a burst of
// stale invocations.
func (e *Execution) DurablyRepeat(ctx context.Context, name string, opts DurablyRepeatOptions, method func(ctx context.Context, c *Context, scheduledFor time.Time) error) error {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Hour
	}

	coordName := durablyRepeatCoordName(name)
	coord, err := e.store.FindOrCreateStep(ctx, e.workflow.ID, coordName, StepInit{})
	if err != nil {
		return err
	}
	if coord.Completed() {
		return nil
	}

	if opts.Till != nil {
		done, tillErr := opts.Till(ctx, e.ctx)
		if tillErr != nil {
			e.tracker.track(ctx, e.workflow, e.ctx, tillErr)
			return &ExecutionFailedError{StepName: coordName, Cause: tillErr}
		}
		if done {
			return e.store.UpdateStep(ctx, coord.ID, map[string]any{
				"state":        int(StepCompleted),
				"completed_at": time.Now().UTC(),
			})
		}
	}

	nextAt := e.computeNextTick(coord, opts)

	tickName := durablyRepeatTickName(name, nextAt)
	tick, err := e.store.FindOrCreateStep(ctx, e.workflow.ID, tickName, StepInit{
		Metadata: map[string]any{
			"scheduled_for": nextAt.Format(time.RFC3339Nano),
			"timeout_at":    nextAt.Add(opts.Timeout).Format(time.RFC3339Nano),
			"parent_id":     coord.ID,
		},
	})
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if now.Before(nextAt) {
		if err := e.enqueueAfter(ctx, nextAt.Sub(now)); err != nil {
			return err
		}
		return halt("durably_repeat waiting for next tick")
	}

	timeoutAt, _ := metaTime(tick.Metadata, "timeout_at")
	if now.After(timeoutAt) {
		timeoutErr := &staleTickError{}
		_ = e.store.UpdateStep(ctx, tick.ID, map[string]any{
			"state":         int(StepFailed),
			"error_class":   "TimeoutError",
			"error_message": timeoutErr.Error(),
		})
		return e.advanceRepeat(ctx, coord, nextAt, opts)
	}

	attempts := tick.Attempts + 1
	if err := e.store.UpdateStep(ctx, tick.ID, map[string]any{
		"attempts":         attempts,
		"last_executed_at": now,
	}); err != nil {
		return err
	}

	if runErr := method(ctx, e.ctx, nextAt); runErr != nil {
		if _, ok := runErr.(*HaltExecution); ok {
			return runErr
		}
		e.tracker.track(ctx, e.workflow, e.ctx, runErr)

		if attempts < opts.MaxAttempts {
			if err := e.enqueueAfter(ctx, stepBackoff(attempts)); err != nil {
				return err
			}
			return halt("durably_repeat tick retry scheduled")
		}

		_ = e.store.UpdateStep(ctx, tick.ID, map[string]any{
			"state":         int(StepFailed),
			"error_class":   errorClass(runErr),
			"error_message": runErr.Error(),
		})
		if opts.OnError == OnErrorFailWorkflow {
			return &ExecutionFailedError{StepName: tickName, Cause: runErr}
		}
		return e.advanceRepeat(ctx, coord, nextAt, opts)
	}

	if err := e.store.UpdateStep(ctx, tick.ID, map[string]any{
		"state":        int(StepCompleted),
		"completed_at": time.Now().UTC(),
	}); err != nil {
		return err
	}
	return e.advanceRepeat(ctx, coord, nextAt, opts)
}

func (e *Execution) computeNextTick(coord *ExecutionLog, opts DurablyRepeatOptions) time.Time {
	if last, ok := metaTime(coord.Metadata, "last_execution_at"); ok {
		return last.Add(opts.Every)
	}
	if opts.StartAt != nil {
		return *opts.StartAt
	}
	return coord.CreatedAt.Add(opts.Every)
}

func (e *Execution) advanceRepeat(ctx context.Context, coord *ExecutionLog, completedTick time.Time, opts DurablyRepeatOptions) error {
	meta := coord.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	meta["last_execution_at"] = completedTick.Format(time.RFC3339Nano)
	if err := e.store.UpdateStep(ctx, coord.ID, map[string]any{"metadata": meta}); err != nil {
		return err
	}

	nextAt := completedTick.Add(opts.Every)
	now := time.Now().UTC()
	delay := nextAt.Sub(now)
	if delay < 0 {
		delay = 0
	}
	if err := e.enqueueAfter(ctx, delay); err != nil {
		return err
	}
	return halt("durably_repeat advanced")
}

type staleTickError struct{}

func (*staleTickError) Error() string { return "tick is older than scheduled_for+timeout" }
