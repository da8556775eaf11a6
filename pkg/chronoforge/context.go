package chronoforge

import (
	"context"
	"encoding/json"
	"fmt"
)

// maxContextStringBytes bounds individual string values stored in the
// Context, per the durable-state size budget.
const maxContextStringBytes = 64 * 1024

// Context is a typed, JSON-safe, dirty-tracked key/value bag attached to a
// single Workflow. It holds a borrowed handle on its workflow and is
// discarded at the end of each executor entry; callers never reuse one
// across entries.
type Context struct {
	workflow *Workflow
	store    Store
	values   map[string]any
	dirty    bool
}

func newContext(workflow *Workflow, store Store) *Context {
	values := workflow.Context
	if values == nil {
		values = map[string]any{}
	}
	return &Context{workflow: workflow, store: store, values: values}
}

// Get returns the stored value for k, or nil if absent.
func (c *Context) Get(k string) any {
	return c.values[k]
}

// Has reports whether k is present.
func (c *Context) Has(k string) bool {
	_, ok := c.values[k]
	return ok
}

// Fetch returns the stored value for k, or def if absent. It never writes.
func (c *Context) Fetch(k string, def any) any {
	if v, ok := c.values[k]; ok {
		return v
	}
	return def
}

// Set validates v's type and size, deep-copies object/array values through
// a JSON round-trip so the stored representation equals the wire
// representation, and marks the context dirty.
func (c *Context) Set(k string, v any) error {
	copied, err := validateAndCopy(k, v)
	if err != nil {
		return err
	}
	c.values[k] = copied
	c.dirty = true
	return nil
}

// SetOnce writes v only if k is not already present, and reports whether a
// write happened.
func (c *Context) SetOnce(k string, v any) (bool, error) {
	if c.Has(k) {
		return false, nil
	}
	if err := c.Set(k, v); err != nil {
		return false, err
	}
	return true, nil
}

// Snapshot returns a deep copy of the current values, suitable for embedding
// in an ErrorLog.
func (c *Context) Snapshot() map[string]any {
	out := map[string]any{}
	for k, v := range c.values {
		switch v.(type) {
		case map[string]any, []any:
			if copied, err := jsonRoundTrip(k, v); err == nil {
				v = copied
			}
		}
		out[k] = v
	}
	return out
}

// Save persists the whole JSON blob back to the workflow row if dirty, then
// clears the dirty flag.
func (c *Context) Save(ctx context.Context) error {
	if !c.dirty {
		return nil
	}
	c.workflow.Context = c.values
	if err := c.store.UpdateColumns(ctx, c.workflow.ID, map[string]any{
		"context": c.values,
	}); err != nil {
		return fmt.Errorf("chronoforge: saving context: %w", err)
	}
	c.dirty = false
	return nil
}

func validateAndCopy(k string, v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case bool, int, int32, int64, float32, float64:
		return val, nil
	case string:
		if len(val) > maxContextStringBytes {
			return nil, &ContextValidationError{Key: k, Reason: "string exceeds 64KiB limit"}
		}
		return val, nil
	case map[string]any, []any:
		return jsonRoundTrip(k, val)
	default:
		// Anything else (structs, channels, funcs, ...) must already be
		// JSON-marshalable as an object or array to be accepted.
		b, err := json.Marshal(val)
		if err != nil {
			return nil, &ContextValidationError{Key: k, Reason: "unsupported value type"}
		}
		var decoded any
		if err := json.Unmarshal(b, &decoded); err != nil {
			return nil, &ContextValidationError{Key: k, Reason: "unsupported value type"}
		}
		switch decoded.(type) {
		case map[string]any, []any:
			return decoded, nil
		default:
			return nil, &ContextValidationError{Key: k, Reason: "unsupported value type"}
		}
	}
}

func jsonRoundTrip(k string, v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, &ContextValidationError{Key: k, Reason: "value is not JSON-serializable"}
	}
	var decoded any
	if err := json.Unmarshal(b, &decoded); err != nil {
		return nil, &ContextValidationError{Key: k, Reason: "value is not JSON-serializable"}
	}
	return decoded, nil
}
