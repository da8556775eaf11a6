package chronoforge

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testWorkflow() *Workflow {
	return &Workflow{ID: "wf-1", Key: "k", JobClass: "jc", Context: map[string]any{}}
}

func TestContextGetSetHasFetch(t *testing.T) {
	store := newFakeStore()
	w := testWorkflow()
	c := newContext(w, store)

	assert.False(t, c.Has("name"))
	assert.Nil(t, c.Get("name"))
	assert.Equal(t, "default", c.Fetch("name", "default"))

	require.NoError(t, c.Set("name", "ada"))
	assert.True(t, c.Has("name"))
	assert.Equal(t, "ada", c.Get("name"))
	assert.Equal(t, "ada", c.Fetch("name", "default"))
}

func TestContextSetOnce(t *testing.T) {
	c := newContext(testWorkflow(), newFakeStore())

	wrote, err := c.SetOnce("k", 1)
	require.NoError(t, err)
	assert.True(t, wrote)

	wrote, err = c.SetOnce("k", 2)
	require.NoError(t, err)
	assert.False(t, wrote)
	assert.Equal(t, float64(1), toFloat(t, c.Get("k")))
}

func toFloat(t *testing.T, v any) float64 {
	t.Helper()
	switch n := v.(type) {
	case int:
		return float64(n)
	case float64:
		return n
	default:
		t.Fatalf("unexpected numeric type %T", v)
		return 0
	}
}

func TestContextSetRejectsOversizedString(t *testing.T) {
	c := newContext(testWorkflow(), newFakeStore())
	huge := strings.Repeat("x", maxContextStringBytes+1)

	err := c.Set("blob", huge)
	require.Error(t, err)
	var cve *ContextValidationError
	require.ErrorAs(t, err, &cve)
	assert.Equal(t, "blob", cve.Key)
}

func TestContextSetRejectsUnsupportedValue(t *testing.T) {
	c := newContext(testWorkflow(), newFakeStore())
	err := c.Set("fn", func() {})
	require.Error(t, err)
	var cve *ContextValidationError
	require.ErrorAs(t, err, &cve)
}

func TestContextSetDeepCopiesThroughJSON(t *testing.T) {
	c := newContext(testWorkflow(), newFakeStore())
	original := map[string]any{"nested": []any{1, 2, 3}}

	require.NoError(t, c.Set("obj", original))
	original["nested"] = []any{9}

	stored := c.Get("obj").(map[string]any)
	nested := stored["nested"].([]any)
	require.Len(t, nested, 3)
}

func TestContextSaveOnlyWritesWhenDirty(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()

	w, err := store.FindOrCreateWorkflow(ctx, "jc", "k1", WorkflowInit{})
	require.NoError(t, err)

	c := newContext(w, store)
	require.NoError(t, c.Save(ctx)) // not dirty: no-op

	require.NoError(t, c.Set("seen", true))
	require.NoError(t, c.Save(ctx))

	reloaded, err := store.GetWorkflow(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, true, reloaded.Context["seen"])

	// Saving again without further mutation must not error.
	require.NoError(t, c.Save(ctx))
}

func TestContextSnapshotIsACopy(t *testing.T) {
	c := newContext(testWorkflow(), newFakeStore())
	require.NoError(t, c.Set("a", 1))

	snap := c.Snapshot()
	snap["a"] = 99

	assert.Equal(t, float64(1), toFloat(t, c.Get("a")))
}
