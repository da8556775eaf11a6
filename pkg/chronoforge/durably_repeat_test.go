package chronoforge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDurablyRepeatFirstEntryWaitsForNextTick(t *testing.T) {
	store := newFakeStore()
	queue := newFakeQueue()
	e := newTestExecution(t, store, queue)

	err := e.DurablyRepeat(context.Background(), "poll", DurablyRepeatOptions{Every: time.Minute},
		func(ctx context.Context, c *Context, scheduledFor time.Time) error {
			t.Fatal("method must not run before the first tick is due")
			return nil
		},
	)

	require.Error(t, err)
	var halt *HaltExecution
	require.ErrorAs(t, err, &halt)
	require.Len(t, queue.afterCalls(), 1)
	assert.InDelta(t, time.Minute.Seconds(), queue.afterCalls()[0].Delay.Seconds(), 1)
}

func TestDurablyRepeatRunsDueTickAndAdvances(t *testing.T) {
	store := newFakeStore()
	queue := newFakeQueue()
	e := newTestExecution(t, store, queue)

	coord, err := store.FindOrCreateStep(context.Background(), e.workflow.ID, durablyRepeatCoordName("poll"), StepInit{})
	require.NoError(t, err)
	past := time.Now().UTC().Add(-2 * time.Minute)
	require.NoError(t, store.UpdateStep(context.Background(), coord.ID, map[string]any{
		"metadata": map[string]any{"last_execution_at": past.Format(time.RFC3339Nano)},
	}))

	ran := false
	err = e.DurablyRepeat(context.Background(), "poll", DurablyRepeatOptions{Every: time.Minute},
		func(ctx context.Context, c *Context, scheduledFor time.Time) error {
			ran = true
			return nil
		},
	)

	require.Error(t, err)
	var halt *HaltExecution
	require.ErrorAs(t, err, &halt)
	assert.True(t, ran)

	reloadedCoord, err := store.FindOrCreateStep(context.Background(), e.workflow.ID, durablyRepeatCoordName("poll"), StepInit{})
	require.NoError(t, err)
	_, hasLast := reloadedCoord.Metadata["last_execution_at"]
	assert.True(t, hasLast)
}

func TestDurablyRepeatSkipsStaleTickAsTimeout(t *testing.T) {
	store := newFakeStore()
	queue := newFakeQueue()
	e := newTestExecution(t, store, queue)

	coord, err := store.FindOrCreateStep(context.Background(), e.workflow.ID, durablyRepeatCoordName("poll"), StepInit{})
	require.NoError(t, err)
	wayPast := time.Now().UTC().Add(-3 * time.Hour)
	require.NoError(t, store.UpdateStep(context.Background(), coord.ID, map[string]any{
		"metadata": map[string]any{"last_execution_at": wayPast.Format(time.RFC3339Nano)},
	}))

	err = e.DurablyRepeat(context.Background(), "poll", DurablyRepeatOptions{Every: time.Minute, Timeout: time.Second},
		func(ctx context.Context, c *Context, scheduledFor time.Time) error {
			t.Fatal("a tick older than scheduled_for+timeout must not run")
			return nil
		},
	)

	require.Error(t, err)
	var halt *HaltExecution
	require.ErrorAs(t, err, &halt)
}

func TestDurablyRepeatStopsOnceTillIsTrue(t *testing.T) {
	store := newFakeStore()
	queue := newFakeQueue()
	e := newTestExecution(t, store, queue)

	err := e.DurablyRepeat(context.Background(), "poll", DurablyRepeatOptions{
		Every: time.Minute,
		Till:  func(ctx context.Context, c *Context) (bool, error) { return true, nil },
	}, func(ctx context.Context, c *Context, scheduledFor time.Time) error {
		t.Fatal("method must not run once till is satisfied")
		return nil
	})

	require.NoError(t, err)
	assert.Empty(t, queue.afterCalls())

	// Re-entry short-circuits via the coordination step's completed state.
	err = e.DurablyRepeat(context.Background(), "poll", DurablyRepeatOptions{
		Every: time.Minute,
		Till:  func(ctx context.Context, c *Context) (bool, error) { return false, nil },
	}, func(ctx context.Context, c *Context, scheduledFor time.Time) error {
		t.Fatal("completed coordination steps must not re-evaluate till")
		return nil
	})
	require.NoError(t, err)
}

func TestDurablyRepeatRetriesFailingTickBeforeAdvancing(t *testing.T) {
	store := newFakeStore()
	queue := newFakeQueue()
	e := newTestExecution(t, store, queue)

	coord, err := store.FindOrCreateStep(context.Background(), e.workflow.ID, durablyRepeatCoordName("poll"), StepInit{})
	require.NoError(t, err)
	past := time.Now().UTC().Add(-2 * time.Minute)
	require.NoError(t, store.UpdateStep(context.Background(), coord.ID, map[string]any{
		"metadata": map[string]any{"last_execution_at": past.Format(time.RFC3339Nano)},
	}))

	err = e.DurablyRepeat(context.Background(), "poll", DurablyRepeatOptions{Every: time.Minute, MaxAttempts: 2},
		func(ctx context.Context, c *Context, scheduledFor time.Time) error {
			return assertableError{}
		},
	)

	require.Error(t, err)
	var halt *HaltExecution
	require.ErrorAs(t, err, &halt)
	calls := queue.afterCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, stepBackoff(1), calls[0].Delay)
}
