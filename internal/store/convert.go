package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/radioactive-labs/chrono-forge/pkg/chronoforge"
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows, letting the scan
// helpers below serve single-row lookups and multi-row listings alike.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*chronoforge.Workflow, error) {
	var (
		w                                            chronoforge.Workflow
		kwargs, options, context                     sql.NullString
		lockedBy                                      sql.NullString
		lockedAt, startedAt, completedAt             sql.NullTime
		state                                        int
	)

	err := row.Scan(&w.ID, &w.Key, &w.JobClass, &kwargs, &options, &context, &state,
		&lockedBy, &lockedAt, &startedAt, &completedAt, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}

	w.State = chronoforge.WorkflowState(state)
	w.Kwargs = unmarshalMap(kwargs)
	w.Options = unmarshalMap(options)
	w.Context = unmarshalMap(context)
	w.LockedBy = nullStringPtr(lockedBy)
	w.LockedAt = nullTimePtr(lockedAt)
	w.StartedAt = nullTimePtr(startedAt)
	w.CompletedAt = nullTimePtr(completedAt)

	return &w, nil
}

func scanWorkflowRows(rows *sql.Rows) (*chronoforge.Workflow, error) {
	return scanWorkflow(rows)
}

func scanStep(row rowScanner) (*chronoforge.ExecutionLog, error) {
	var (
		l                                          chronoforge.ExecutionLog
		startedAt, lastExecutedAt, completedAt     sql.NullTime
		metadata                                   sql.NullString
		errorClass, errorMessage                   sql.NullString
		state                                       int
	)

	err := row.Scan(&l.ID, &l.WorkflowID, &l.StepName, &l.Attempts, &startedAt, &lastExecutedAt, &completedAt,
		&metadata, &state, &errorClass, &errorMessage, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}

	l.State = chronoforge.StepState(state)
	l.StartedAt = nullTimePtr(startedAt)
	l.LastExecutedAt = nullTimePtr(lastExecutedAt)
	l.CompletedAt = nullTimePtr(completedAt)
	l.Metadata = unmarshalMap(metadata)
	l.ErrorClass = errorClass.String
	l.ErrorMessage = errorMessage.String

	return &l, nil
}

func unmarshalMap(s sql.NullString) map[string]any {
	if !s.Valid || s.String == "" {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return map[string]any{}
	}
	return m
}

func nullStringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
