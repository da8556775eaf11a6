package chronoforge

import (
	"context"
	"fmt"
	"runtime"

	"github.com/radioactive-labs/chrono-forge/internal/logging"
)

// executionTracker records error rows and correlates them with the
// workflow's current context. It never returns an error to its caller;
// failures from the tracker itself are logged and swallowed, mirroring the
// "never block the workflow on observability" posture of the teacher's own
// error-tracking helpers.
type executionTracker struct {
	store Store
}

func newExecutionTracker(store Store) *executionTracker {
	return &executionTracker{store: store}
}

func (t *executionTracker) track(ctx context.Context, workflow *Workflow, execCtx *Context, err error) *ErrorLog {
	snapshot := map[string]any{}
	if execCtx != nil {
		snapshot = execCtx.Snapshot()
	}

	log := &ErrorLog{
		WorkflowID:   workflow.ID,
		ErrorClass:   errorClass(err),
		ErrorMessage: err.Error(),
		Backtrace:    captureBacktrace(),
		Context:      snapshot,
	}

	created, insertErr := t.store.InsertErrorLog(ctx, log)
	if insertErr != nil {
		logging.Error("chronoforge: failed to record error log for workflow %s: %v", workflow.Key, insertErr)
		return log
	}
	return created
}

func errorClass(err error) string {
	return fmt.Sprintf("%T", err)
}

func captureBacktrace() string {
	const depth = 32
	pcs := make([]uintptr, depth)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	out := ""
	for {
		frame, more := frames.Next()
		out += fmt.Sprintf("%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line)
		if !more {
			break
		}
	}
	return out
}
