package chronoforge

import (
	"context"
	"time"
)

// Store provides transactional persistence of workflow, step, and error
// rows, plus row-level locking. The reference implementation is
// internal/store, backed by database/sql over SQLite or libsql; any type
// satisfying this interface can stand in for it.
type Store interface {
	// FindOrCreateWorkflow atomically upserts by the unique (job_class,
	// key) pair. init only populates fields on create; a unique-constraint
	// violation on concurrent create must be handled by re-reading the row.
	FindOrCreateWorkflow(ctx context.Context, jobClass, key string, init WorkflowInit) (*Workflow, error)

	// GetWorkflow re-reads a workflow row by id.
	GetWorkflow(ctx context.Context, id string) (*Workflow, error)

	// WithRowLock opens a transaction, select-for-updates the workflow row,
	// runs fn with the locked row, and commits on success or rolls back on
	// error.
	WithRowLock(ctx context.Context, workflowID string, fn func(ctx context.Context, w *Workflow) error) error

	// UpdateColumns writes the given fields on the workflow row, bumping
	// updated_at.
	UpdateColumns(ctx context.Context, workflowID string, fields map[string]any) error

	// FindOrCreateStep atomically upserts by the unique (workflow_id,
	// step_name) pair.
	FindOrCreateStep(ctx context.Context, workflowID, stepName string, init StepInit) (*ExecutionLog, error)

	// UpdateStep writes the given fields on an execution log row, bumping
	// updated_at.
	UpdateStep(ctx context.Context, stepID string, fields map[string]any) error

	// InsertErrorLog records an observed exception.
	InsertErrorLog(ctx context.Context, log *ErrorLog) (*ErrorLog, error)

	// ListStale returns workflows left running with a lease older than
	// olderThan, for crash-recovery scans.
	ListStale(ctx context.Context, olderThan time.Time) ([]*Workflow, error)
}

// StepInit carries the fields a step find-or-create call populates only on
// create.
type StepInit struct {
	Metadata map[string]any
}
