package chronoforge

import (
	"context"
	"time"
)

// completeWorkflow writes the terminal $workflow_completion$ log and
// transitions running -> completed. The log write is itself idempotent via
// find-or-create, so a crash mid-completion resolves cleanly on re-entry.
func completeWorkflow(ctx context.Context, store Store, workflow *Workflow) error {
	log, err := store.FindOrCreateStep(ctx, workflow.ID, stepWorkflowCompleted, StepInit{})
	if err != nil {
		return err
	}
	if !log.Completed() {
		now := time.Now().UTC()
		if err := store.UpdateStep(ctx, log.ID, map[string]any{
			"state":        int(StepCompleted),
			"completed_at": now,
		}); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	workflow.State = WorkflowCompleted
	workflow.CompletedAt = &now
	return store.UpdateColumns(ctx, workflow.ID, map[string]any{
		"state":        int(WorkflowCompleted),
		"completed_at": now,
	})
}

// failWorkflow writes the terminal $workflow_failure$<error_log_id> log
// and transitions running -> failed.
func failWorkflow(ctx context.Context, store Store, workflow *Workflow, errorLog *ErrorLog) error {
	stepName := workflowFailureStepName(errorLog.ID)
	log, err := store.FindOrCreateStep(ctx, workflow.ID, stepName, StepInit{})
	if err != nil {
		return err
	}
	if !log.Completed() {
		now := time.Now().UTC()
		if err := store.UpdateStep(ctx, log.ID, map[string]any{
			"state":        int(StepCompleted),
			"completed_at": now,
		}); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	workflow.State = WorkflowFailed
	workflow.CompletedAt = &now
	return store.UpdateColumns(ctx, workflow.ID, map[string]any{
		"state":        int(WorkflowFailed),
		"completed_at": now,
	})
}

// stallWorkflow transitions running -> stalled; no terminal log is written
// because stalled is not a terminal state, it is retryable.
func stallWorkflow(ctx context.Context, store Store, workflow *Workflow) error {
	workflow.State = WorkflowStalled
	return store.UpdateColumns(ctx, workflow.ID, map[string]any{
		"state": int(WorkflowStalled),
	})
}

// retryTransition handles the explicit {stalled, failed} -> idle
// transition: writes a $workflow_retry$<unix_ts> log, force-releases the
// lock, and re-enqueues. It fails with WorkflowNotRetryableError if the
// workflow is in any other state.
func retryTransition(ctx context.Context, store Store, queue Queue, locks *lockManager, executorID string, workflow *Workflow, delay time.Duration) error {
	if !workflow.State.Retryable() {
		return &WorkflowNotRetryableError{WorkflowKey: workflow.Key, State: workflow.State}
	}

	now := time.Now().UTC()
	stepName := workflowRetryStepName(now)
	if _, err := store.FindOrCreateStep(ctx, workflow.ID, stepName, StepInit{}); err != nil {
		return err
	}

	if err := locks.release(ctx, executorID, workflow, true); err != nil {
		return err
	}

	if delay <= 0 {
		return queue.EnqueueNow(ctx, workflow.JobClass, workflow.Key, JobPayload{
			Options: workflow.Options,
			Kwargs:  workflow.Kwargs,
		})
	}
	return queue.EnqueueAfter(ctx, delay, workflow.JobClass, workflow.Key, JobPayload{
		Options: workflow.Options,
		Kwargs:  workflow.Kwargs,
	})
}
