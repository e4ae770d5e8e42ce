package expressions

import (
	"context"
	"sync"
	"testing"

	"github.com/rendis/drawmaid/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCELEngine(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)
	assert.Equal(t, "cel", e.Name())
}

func TestCEL_IntegerArithmetic(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	out, err := e.Evaluate(context.Background(), "1 + 2", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), out)
}

func TestCEL_CountsGuard(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	data := map[string]any{
		"counts": map[string]any{"services": int64(2), "groups": int64(1), "junctions": int64(0)},
	}
	ok, err := EvaluateBool(context.Background(), e, "counts.services + counts.groups + counts.junctions >= 2", data)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = EvaluateBool(context.Background(), e, "counts.junctions > 0", data)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCEL_HeaderVariable(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	ok, err := EvaluateBool(context.Background(), e, `header in ["graph", "flowchart"]`, map[string]any{"header": "graph"})
	require.NoError(t, err)
	assert.True(t, ok)

	// Missing header defaults to empty string.
	ok, err = EvaluateBool(context.Background(), e, `header == ""`, nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCEL_MissingKeyIsEvaluationError(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	_, err = e.Evaluate(context.Background(), "counts.nope > 0", map[string]any{"counts": map[string]any{}})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeExpression))
}

func TestCEL_CompileError(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	_, err = e.Evaluate(context.Background(), "counts.(", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compile error")

	assert.Error(t, e.Compile("undeclared_var > 1"))
}

func TestCEL_EmptyExpression(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	_, err = e.Evaluate(context.Background(), "", nil)
	require.Error(t, err)
}

func TestCEL_NonBoolOutcome(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	_, err = EvaluateBool(context.Background(), e, "1 + 1", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "want bool")
}

func TestCEL_ConcurrentCache(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := e.Evaluate(context.Background(), "counts.arrows * 2",
				map[string]any{"counts": map[string]any{"arrows": int64(3)}})
			assert.NoError(t, err)
			assert.Equal(t, int64(6), out)
		}()
	}
	wg.Wait()
	assert.Len(t, e.cache, 1)
}
