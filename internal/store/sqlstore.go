package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/radioactive-labs/chrono-forge/pkg/chronoforge"
)

// SQLStore implements chronoforge.Store over a *sql.DB, the reference Store
// this library ships with.
type SQLStore struct {
	db *DB
}

// New wraps an already-opened DB as a chronoforge.Store.
func New(db *DB) *SQLStore {
	return &SQLStore{db: db}
}

var _ chronoforge.Store = (*SQLStore)(nil)

func (s *SQLStore) FindOrCreateWorkflow(ctx context.Context, jobClass, key string, init chronoforge.WorkflowInit) (*chronoforge.Workflow, error) {
	if w, err := s.getWorkflowByKey(ctx, jobClass, key); err == nil {
		return w, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	writeMutex.Lock()
	defer writeMutex.Unlock()

	now := time.Now().UTC()
	id := newID()
	kwargsJSON, err := marshalMap(init.Kwargs)
	if err != nil {
		return nil, err
	}
	optionsJSON, err := marshalMap(init.Options)
	if err != nil {
		return nil, err
	}

	_, err = s.db.Conn().ExecContext(ctx, `
		INSERT INTO workflows (id, key, job_class, kwargs, options, context, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, '{}', ?, ?, ?)
	`, id, key, jobClass, kwargsJSON, optionsJSON, int(chronoforge.WorkflowIdle), now, now)
	if err != nil {
		// Unique-constraint violation on concurrent create: re-read.
		if w, getErr := s.getWorkflowByKey(ctx, jobClass, key); getErr == nil {
			return w, nil
		}
		return nil, fmt.Errorf("chronoforge: creating workflow: %w", err)
	}

	return s.getWorkflowByKey(ctx, jobClass, key)
}

func (s *SQLStore) getWorkflowByKey(ctx context.Context, jobClass, key string) (*chronoforge.Workflow, error) {
	row := s.db.Conn().QueryRowContext(ctx, `
		SELECT id, key, job_class, kwargs, options, context, state, locked_by, locked_at, started_at, completed_at, created_at, updated_at
		FROM workflows WHERE job_class = ? AND key = ?
	`, jobClass, key)
	return scanWorkflow(row)
}

func (s *SQLStore) GetWorkflow(ctx context.Context, id string) (*chronoforge.Workflow, error) {
	row := s.db.Conn().QueryRowContext(ctx, `
		SELECT id, key, job_class, kwargs, options, context, state, locked_by, locked_at, started_at, completed_at, created_at, updated_at
		FROM workflows WHERE id = ?
	`, id)
	return scanWorkflow(row)
}

func (s *SQLStore) WithRowLock(ctx context.Context, workflowID string, fn func(ctx context.Context, w *chronoforge.Workflow) error) error {
	writeMutex.Lock()
	defer writeMutex.Unlock()

	tx, err := s.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("chronoforge: beginning lock transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT id, key, job_class, kwargs, options, context, state, locked_by, locked_at, started_at, completed_at, created_at, updated_at
		FROM workflows WHERE id = ?
	`, workflowID)
	w, err := scanWorkflow(row)
	if err != nil {
		return err
	}

	if err := fn(ctx, w); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLStore) UpdateColumns(ctx context.Context, workflowID string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	set, args, err := buildSetClause(fields)
	if err != nil {
		return err
	}
	set = append(set, "updated_at = ?")
	args = append(args, time.Now().UTC(), workflowID)

	query := fmt.Sprintf("UPDATE workflows SET %s WHERE id = ?", strings.Join(set, ", "))
	_, err = s.db.Conn().ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("chronoforge: updating workflow %s: %w", workflowID, err)
	}
	return nil
}

func (s *SQLStore) FindOrCreateStep(ctx context.Context, workflowID, stepName string, init chronoforge.StepInit) (*chronoforge.ExecutionLog, error) {
	if l, err := s.getStep(ctx, workflowID, stepName); err == nil {
		return l, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	writeMutex.Lock()
	defer writeMutex.Unlock()

	now := time.Now().UTC()
	id := newID()
	metaJSON, err := marshalMap(init.Metadata)
	if err != nil {
		return nil, err
	}

	_, err = s.db.Conn().ExecContext(ctx, `
		INSERT INTO execution_logs (id, workflow_id, step_name, attempts, metadata, state, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?, ?, ?)
	`, id, workflowID, stepName, metaJSON, int(chronoforge.StepPending), now, now)
	if err != nil {
		if l, getErr := s.getStep(ctx, workflowID, stepName); getErr == nil {
			return l, nil
		}
		return nil, fmt.Errorf("chronoforge: creating step %s: %w", stepName, err)
	}

	return s.getStep(ctx, workflowID, stepName)
}

func (s *SQLStore) getStep(ctx context.Context, workflowID, stepName string) (*chronoforge.ExecutionLog, error) {
	row := s.db.Conn().QueryRowContext(ctx, `
		SELECT id, workflow_id, step_name, attempts, started_at, last_executed_at, completed_at, metadata, state, error_class, error_message, created_at, updated_at
		FROM execution_logs WHERE workflow_id = ? AND step_name = ?
	`, workflowID, stepName)
	return scanStep(row)
}

func (s *SQLStore) UpdateStep(ctx context.Context, stepID string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	writeMutex.Lock()
	defer writeMutex.Unlock()

	set, args, err := buildSetClause(fields)
	if err != nil {
		return err
	}
	set = append(set, "updated_at = ?")
	args = append(args, time.Now().UTC(), stepID)

	query := fmt.Sprintf("UPDATE execution_logs SET %s WHERE id = ?", strings.Join(set, ", "))
	_, err = s.db.Conn().ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("chronoforge: updating step %s: %w", stepID, err)
	}
	return nil
}

func (s *SQLStore) InsertErrorLog(ctx context.Context, log *chronoforge.ErrorLog) (*chronoforge.ErrorLog, error) {
	writeMutex.Lock()
	defer writeMutex.Unlock()

	now := time.Now().UTC()
	id := newID()
	ctxJSON, err := marshalMap(log.Context)
	if err != nil {
		return nil, err
	}

	_, err = s.db.Conn().ExecContext(ctx, `
		INSERT INTO error_logs (id, workflow_id, error_class, error_message, backtrace, context, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, id, log.WorkflowID, log.ErrorClass, log.ErrorMessage, log.Backtrace, ctxJSON, now, now)
	if err != nil {
		return nil, fmt.Errorf("chronoforge: inserting error log: %w", err)
	}

	out := *log
	out.ID = id
	out.CreatedAt = now
	out.UpdatedAt = now
	return &out, nil
}

func (s *SQLStore) ListStale(ctx context.Context, olderThan time.Time) ([]*chronoforge.Workflow, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT id, key, job_class, kwargs, options, context, state, locked_by, locked_at, started_at, completed_at, created_at, updated_at
		FROM workflows WHERE state = ? AND locked_at IS NOT NULL AND locked_at < ?
	`, int(chronoforge.WorkflowRunning), olderThan)
	if err != nil {
		return nil, fmt.Errorf("chronoforge: listing stale workflows: %w", err)
	}
	defer rows.Close()

	var out []*chronoforge.Workflow
	for rows.Next() {
		w, err := scanWorkflowRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func newID() string {
	return ulid.Make().String()
}

func marshalMap(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("chronoforge: marshaling JSON column: %w", err)
	}
	return string(b), nil
}

// buildSetClause turns a fields map into "col = ?" clauses plus matching
// args, JSON-encoding map/slice values for the json-typed columns.
func buildSetClause(fields map[string]any) ([]string, []any, error) {
	set := make([]string, 0, len(fields))
	args := make([]any, 0, len(fields))
	for col, val := range fields {
		set = append(set, col+" = ?")
		switch v := val.(type) {
		case map[string]any:
			b, err := json.Marshal(v)
			if err != nil {
				return nil, nil, fmt.Errorf("chronoforge: marshaling column %s: %w", col, err)
			}
			args = append(args, string(b))
		default:
			args = append(args, v)
		}
	}
	return set, args, nil
}
