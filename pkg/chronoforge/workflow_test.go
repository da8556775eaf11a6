package chronoforge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorkflowStateString(t *testing.T) {
	cases := map[WorkflowState]string{
		WorkflowIdle:      "idle",
		WorkflowRunning:   "running",
		WorkflowCompleted: "completed",
		WorkflowFailed:    "failed",
		WorkflowStalled:   "stalled",
		WorkflowState(99): "unknown",
	}
	for state, want := range cases {
		assert.Equal(t, want, state.String())
	}
}

func TestWorkflowStateIsTerminal(t *testing.T) {
	assert.True(t, WorkflowCompleted.IsTerminal())
	assert.True(t, WorkflowFailed.IsTerminal())
	assert.False(t, WorkflowStalled.IsTerminal())
	assert.False(t, WorkflowIdle.IsTerminal())
	assert.False(t, WorkflowRunning.IsTerminal())
}

func TestWorkflowStateRetryable(t *testing.T) {
	assert.True(t, WorkflowStalled.Retryable())
	assert.True(t, WorkflowFailed.Retryable())
	assert.False(t, WorkflowCompleted.Retryable())
	assert.False(t, WorkflowIdle.Retryable())
	assert.False(t, WorkflowRunning.Retryable())
}

func TestExecutionLogCompleted(t *testing.T) {
	var nilLog *ExecutionLog
	assert.False(t, nilLog.Completed())

	pending := &ExecutionLog{State: StepPending}
	assert.False(t, pending.Completed())

	done := &ExecutionLog{State: StepCompleted}
	assert.True(t, done.Completed())
}

func TestReservedStepNameBuilders(t *testing.T) {
	assert.Equal(t, "wait$cool", waitStepName("cool"))
	assert.Equal(t, "wait_until$paid", waitUntilStepName("paid"))
	assert.Equal(t, "continue_if$approved", continueIfStepName("approved"))
	assert.Equal(t, "durably_execute$charge", durablyExecuteStepName("charge"))
	assert.Equal(t, "durably_repeat$poll", durablyRepeatCoordName("poll"))
	assert.Equal(t, "$workflow_failure$err-1", workflowFailureStepName("err-1"))
}
