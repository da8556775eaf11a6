package chronoforge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockManagerAcquireFreshWorkflow(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	w, err := store.FindOrCreateWorkflow(ctx, "jc", "k1", WorkflowInit{})
	require.NoError(t, err)

	locks := newLockManager(store)
	acquired, err := locks.acquire(ctx, "executor-a", w, time.Minute)
	require.NoError(t, err)

	assert.Equal(t, WorkflowRunning, acquired.State)
	require.NotNil(t, acquired.LockedBy)
	assert.Equal(t, "executor-a", *acquired.LockedBy)
}

func TestLockManagerAcquireRejectsFreshLease(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	w, err := store.FindOrCreateWorkflow(ctx, "jc", "k1", WorkflowInit{})
	require.NoError(t, err)

	locks := newLockManager(store)
	_, err = locks.acquire(ctx, "executor-a", w, time.Minute)
	require.NoError(t, err)

	w2, err := store.GetWorkflow(ctx, w.ID)
	require.NoError(t, err)

	_, err = locks.acquire(ctx, "executor-b", w2, time.Minute)
	require.Error(t, err)
	var cee *ConcurrentExecutionError
	require.ErrorAs(t, err, &cee)
	assert.Equal(t, "executor-a", cee.LockedBy)
}

func TestLockManagerAcquireStealsStaleLease(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	w, err := store.FindOrCreateWorkflow(ctx, "jc", "k1", WorkflowInit{})
	require.NoError(t, err)

	locks := newLockManager(store)
	_, err = locks.acquire(ctx, "executor-a", w, time.Minute)
	require.NoError(t, err)

	// Simulate a crashed executor: push the lease's locked_at far enough
	// into the past that it is considered stale.
	stale := time.Now().UTC().Add(-2 * time.Minute)
	require.NoError(t, store.UpdateColumns(ctx, w.ID, map[string]any{"locked_at": stale}))

	w2, err := store.GetWorkflow(ctx, w.ID)
	require.NoError(t, err)

	acquired, err := locks.acquire(ctx, "executor-b", w2, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "executor-b", *acquired.LockedBy)
}

func TestLockManagerReleaseHappyPath(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	w, err := store.FindOrCreateWorkflow(ctx, "jc", "k1", WorkflowInit{})
	require.NoError(t, err)

	locks := newLockManager(store)
	acquired, err := locks.acquire(ctx, "executor-a", w, time.Minute)
	require.NoError(t, err)

	require.NoError(t, locks.release(ctx, "executor-a", acquired, false))

	reloaded, err := store.GetWorkflow(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, WorkflowIdle, reloaded.State)
	assert.Nil(t, reloaded.LockedBy)
}

func TestLockManagerReleaseDetectsLeaseHandoff(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	w, err := store.FindOrCreateWorkflow(ctx, "jc", "k1", WorkflowInit{})
	require.NoError(t, err)

	locks := newLockManager(store)
	acquired, err := locks.acquire(ctx, "executor-a", w, time.Minute)
	require.NoError(t, err)

	// Another instance took over the lease (e.g. after it went stale)
	// before executor-a got around to releasing it.
	otherOwner := "executor-b"
	require.NoError(t, store.UpdateColumns(ctx, w.ID, map[string]any{"locked_by": otherOwner}))

	err = locks.release(ctx, "executor-a", acquired, false)
	require.Error(t, err)
	var lrc *LongRunningConcurrentExecutionError
	require.ErrorAs(t, err, &lrc)
	assert.Equal(t, "executor-a", lrc.ExpectedOwner)
	assert.Equal(t, "executor-b", lrc.ActualOwner)
}

func TestLockManagerForceReleaseIgnoresOwner(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	w, err := store.FindOrCreateWorkflow(ctx, "jc", "k1", WorkflowInit{})
	require.NoError(t, err)

	locks := newLockManager(store)
	acquired, err := locks.acquire(ctx, "executor-a", w, time.Minute)
	require.NoError(t, err)

	require.NoError(t, locks.release(ctx, "someone-else", acquired, true))

	reloaded, err := store.GetWorkflow(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, WorkflowIdle, reloaded.State)
}
