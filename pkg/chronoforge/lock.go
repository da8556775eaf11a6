package chronoforge

import (
	"context"
	"time"
)

// defaultMaxDuration bounds how long the Lock Manager waits before treating
// a lease as abandoned by a dead executor instance.
const defaultMaxDuration = 10 * time.Minute

// lockManager enforces that at most one executor instance runs a given
// workflow at a time, via a row lock plus a wall-clock lease.
type lockManager struct {
	store Store
}

func newLockManager(store Store) *lockManager {
	return &lockManager{store: store}
}

// acquire takes the lease for executorID, failing with
// ConcurrentExecutionError if another instance holds a non-stale one.
func (l *lockManager) acquire(ctx context.Context, executorID string, workflow *Workflow, maxDuration time.Duration) (*Workflow, error) {
	if maxDuration <= 0 {
		maxDuration = defaultMaxDuration
	}

	var acquired *Workflow
	err := l.store.WithRowLock(ctx, workflow.ID, func(ctx context.Context, w *Workflow) error {
		now := time.Now().UTC()
		if w.LockedAt != nil && w.LockedAt.After(now.Add(-maxDuration)) {
			return &ConcurrentExecutionError{WorkflowKey: w.Key, LockedBy: derefOr(w.LockedBy, "")}
		}

		lockedBy := executorID
		w.LockedBy = &lockedBy
		w.LockedAt = &now
		w.State = WorkflowRunning

		if err := l.store.UpdateColumns(ctx, w.ID, map[string]any{
			"locked_by": lockedBy,
			"locked_at": now,
			"state":     int(WorkflowRunning),
		}); err != nil {
			return err
		}
		acquired = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return acquired, nil
}

// release clears the lease. With force=false, it fails with
// LongRunningConcurrentExecutionError if a different instance now owns the
// lease. Without force, only a running workflow is set back to idle;
// completed/failed/stalled are left as they are. With force=true the state
// is set to idle whatever it was.
func (l *lockManager) release(ctx context.Context, executorID string, workflow *Workflow, force bool) error {
	return l.store.WithRowLock(ctx, workflow.ID, func(ctx context.Context, w *Workflow) error {
		owner := derefOr(w.LockedBy, "")
		if !force && owner != executorID {
			return &LongRunningConcurrentExecutionError{
				WorkflowKey:   w.Key,
				ExpectedOwner: executorID,
				ActualOwner:   owner,
			}
		}

		fields := map[string]any{
			"locked_by": nil,
			"locked_at": nil,
		}
		if force || w.State == WorkflowRunning {
			fields["state"] = int(WorkflowIdle)
			w.State = WorkflowIdle
		}
		w.LockedBy = nil
		w.LockedAt = nil

		return l.store.UpdateColumns(ctx, w.ID, fields)
	})
}

func derefOr(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}
