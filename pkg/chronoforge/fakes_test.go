package chronoforge

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// fakeStore is a minimal in-memory Store used by unit tests in this package.
// pkg/chronoforge cannot import internal/store (it would be an import
// cycle: internal/store imports chronoforge), so tests exercise the state
// machine and primitives against this instead of a real database.
type fakeStore struct {
	mu        sync.Mutex
	rowMu     sync.Mutex // serializes WithRowLock callers; mu guards the maps
	workflows map[string]*Workflow
	byKey     map[string]string // jobClass + "/" + key -> id
	steps     map[string]*ExecutionLog
	stepByKey map[string]string // workflowID + "/" + stepName -> id
	errors    []*ErrorLog
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		workflows: map[string]*Workflow{},
		byKey:     map[string]string{},
		steps:     map[string]*ExecutionLog{},
		stepByKey: map[string]string{},
	}
}

func fakeID() string { return ulid.Make().String() }

func cloneWorkflow(w *Workflow) *Workflow {
	cp := *w
	return &cp
}

func cloneStep(l *ExecutionLog) *ExecutionLog {
	cp := *l
	return &cp
}

func (s *fakeStore) FindOrCreateWorkflow(ctx context.Context, jobClass, key string, init WorkflowInit) (*Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idxKey := jobClass + "/" + key
	if id, ok := s.byKey[idxKey]; ok {
		return cloneWorkflow(s.workflows[id]), nil
	}

	now := time.Now().UTC()
	w := &Workflow{
		ID:        fakeID(),
		Key:       key,
		JobClass:  jobClass,
		Kwargs:    init.Kwargs,
		Options:   init.Options,
		Context:   map[string]any{},
		State:     WorkflowIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.workflows[w.ID] = w
	s.byKey[idxKey] = w.ID
	return cloneWorkflow(w), nil
}

func (s *fakeStore) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workflows[id]
	if !ok {
		return nil, errNotFound
	}
	return cloneWorkflow(w), nil
}

func (s *fakeStore) WithRowLock(ctx context.Context, workflowID string, fn func(ctx context.Context, w *Workflow) error) error {
	s.rowMu.Lock()
	defer s.rowMu.Unlock()

	// fn writes through UpdateColumns, which takes s.mu itself, so s.mu
	// must not be held while fn runs.
	w, err := s.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	return fn(ctx, w)
}

func (s *fakeStore) UpdateColumns(ctx context.Context, workflowID string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.workflows[workflowID]
	if !ok {
		return errNotFound
	}
	for k, v := range fields {
		applyWorkflowField(w, k, v)
	}
	w.UpdatedAt = time.Now().UTC()
	return nil
}

func applyWorkflowField(w *Workflow, k string, v any) {
	switch k {
	case "state":
		w.State = WorkflowState(v.(int))
	case "locked_by":
		if v == nil {
			w.LockedBy = nil
			return
		}
		s := v.(string)
		w.LockedBy = &s
	case "locked_at":
		if v == nil {
			w.LockedAt = nil
			return
		}
		t := v.(time.Time)
		w.LockedAt = &t
	case "started_at":
		t := v.(time.Time)
		w.StartedAt = &t
	case "completed_at":
		t := v.(time.Time)
		w.CompletedAt = &t
	case "context":
		w.Context = v.(map[string]any)
	}
}

func (s *fakeStore) FindOrCreateStep(ctx context.Context, workflowID, stepName string, init StepInit) (*ExecutionLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idxKey := workflowID + "/" + stepName
	if id, ok := s.stepByKey[idxKey]; ok {
		return cloneStep(s.steps[id]), nil
	}

	now := time.Now().UTC()
	l := &ExecutionLog{
		ID:         fakeID(),
		WorkflowID: workflowID,
		StepName:   stepName,
		State:      StepPending,
		Metadata:   init.Metadata,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.steps[l.ID] = l
	s.stepByKey[idxKey] = l.ID
	return cloneStep(l), nil
}

func (s *fakeStore) UpdateStep(ctx context.Context, stepID string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.steps[stepID]
	if !ok {
		return errNotFound
	}
	for k, v := range fields {
		applyStepField(l, k, v)
	}
	l.UpdatedAt = time.Now().UTC()
	return nil
}

func applyStepField(l *ExecutionLog, k string, v any) {
	switch k {
	case "state":
		l.State = StepState(v.(int))
	case "attempts":
		l.Attempts = v.(int)
	case "started_at":
		if t, ok := v.(*time.Time); ok {
			l.StartedAt = t
			return
		}
		t := v.(time.Time)
		l.StartedAt = &t
	case "last_executed_at":
		t := v.(time.Time)
		l.LastExecutedAt = &t
	case "completed_at":
		t := v.(time.Time)
		l.CompletedAt = &t
	case "metadata":
		l.Metadata = v.(map[string]any)
	case "error_class":
		l.ErrorClass = v.(string)
	case "error_message":
		l.ErrorMessage = v.(string)
	}
}

func (s *fakeStore) InsertErrorLog(ctx context.Context, log *ErrorLog) (*ErrorLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *log
	cp.ID = fakeID()
	cp.CreatedAt = time.Now().UTC()
	cp.UpdatedAt = cp.CreatedAt
	s.errors = append(s.errors, &cp)
	return &cp, nil
}

func (s *fakeStore) ListStale(ctx context.Context, olderThan time.Time) ([]*Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Workflow
	for _, w := range s.workflows {
		if w.State == WorkflowRunning && w.LockedAt != nil && w.LockedAt.Before(olderThan) {
			out = append(out, cloneWorkflow(w))
		}
	}
	return out, nil
}

type notFoundError struct{}

func (notFoundError) Error() string { return "chronoforge: not found" }

var errNotFound = notFoundError{}

// fakeQueue records every enqueue call for test assertions instead of
// talking to a real broker.
type fakeQueue struct {
	mu    sync.Mutex
	now   []enqueueCall
	after []enqueueCall
}

type enqueueCall struct {
	Delay    time.Duration
	JobClass string
	Key      string
	Payload  JobPayload
}

func newFakeQueue() *fakeQueue { return &fakeQueue{} }

func (q *fakeQueue) EnqueueNow(ctx context.Context, jobClass, key string, payload JobPayload) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = append(q.now, enqueueCall{JobClass: jobClass, Key: key, Payload: payload})
	return nil
}

func (q *fakeQueue) EnqueueAfter(ctx context.Context, delay time.Duration, jobClass, key string, payload JobPayload) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.after = append(q.after, enqueueCall{Delay: delay, JobClass: jobClass, Key: key, Payload: payload})
	return nil
}

func (q *fakeQueue) nowCalls() []enqueueCall {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]enqueueCall, len(q.now))
	copy(out, q.now)
	return out
}

func (q *fakeQueue) afterCalls() []enqueueCall {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]enqueueCall, len(q.after))
	copy(out, q.after)
	return out
}
