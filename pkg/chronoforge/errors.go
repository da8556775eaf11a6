package chronoforge

import "fmt"

// ExecutionFailedError signals that a primitive exhausted its per-step
// retries. The Driver transitions the workflow to stalled and does not
// retry it automatically.
type ExecutionFailedError struct {
	StepName string
	Cause    error
}

func (e *ExecutionFailedError) Error() string {
	return fmt.Sprintf("chronoforge: step %q exhausted retries: %v", e.StepName, e.Cause)
}

func (e *ExecutionFailedError) Unwrap() error { return e.Cause }

// HaltExecution is normal flow control: a primitive asks the Driver to stop
// the current entry and expects to be re-entered later. It is swallowed by
// the Driver, never reported to the caller.
type HaltExecution struct {
	Reason string
}

func (h *HaltExecution) Error() string { return "chronoforge: halt: " + h.Reason }

// ConcurrentExecutionError means lock acquisition observed a non-stale
// lease held by another executor instance.
type ConcurrentExecutionError struct {
	WorkflowKey string
	LockedBy    string
}

func (e *ConcurrentExecutionError) Error() string {
	return fmt.Sprintf("chronoforge: workflow %q is locked by %q", e.WorkflowKey, e.LockedBy)
}

// LongRunningConcurrentExecutionError means release observed a different
// lease owner than the one that acquired it: this instance ran past
// max_duration and another instance took over.
type LongRunningConcurrentExecutionError struct {
	WorkflowKey string
	ExpectedOwner string
	ActualOwner   string
}

func (e *LongRunningConcurrentExecutionError) Error() string {
	return fmt.Sprintf("chronoforge: workflow %q lease moved from %q to %q", e.WorkflowKey, e.ExpectedOwner, e.ActualOwner)
}

// WaitConditionNotMetError is raised by WaitUntil when its timeout elapses
// without the condition becoming true. It is handled with ExecutionFailed
// semantics by the Driver (workflow -> stalled).
type WaitConditionNotMetError struct {
	StepName string
}

func (e *WaitConditionNotMetError) Error() string {
	return fmt.Sprintf("chronoforge: wait_until %q timed out", e.StepName)
}

// WorkflowNotRetryableError is returned by RetryNow/RetryLater when the
// target workflow is not in {stalled, failed}.
type WorkflowNotRetryableError struct {
	WorkflowKey string
	State       WorkflowState
}

func (e *WorkflowNotRetryableError) Error() string {
	return fmt.Sprintf("chronoforge: workflow %q in state %q is not retryable", e.WorkflowKey, e.State)
}

// ContextValidationError is returned synchronously when user code stores an
// unsupported value in the Context.
type ContextValidationError struct {
	Key    string
	Reason string
}

func (e *ContextValidationError) Error() string {
	return fmt.Sprintf("chronoforge: context key %q: %s", e.Key, e.Reason)
}

// Retryable lets a user-defined error opt out of the default retry policy.
type Retryable interface {
	Retryable() bool
}
