package expressions

import (
	"context"
	"testing"

	"github.com/rendis/drawmaid/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGoJQEngine(t *testing.T) {
	e := NewGoJQEngine()
	assert.Equal(t, "jq", e.Name())
}

func TestGoJQ_SelectField(t *testing.T) {
	e := NewGoJQEngine()
	data := map[string]any{"diagram_type": "flowchart", "nodes_converted": 2}

	out, err := e.Evaluate(context.Background(), ".diagram_type", data)
	require.NoError(t, err)
	assert.Equal(t, "flowchart", out)

	// Ints are normalized to float64.
	out, err = e.Evaluate(context.Background(), ".nodes_converted", data)
	require.NoError(t, err)
	assert.Equal(t, 2.0, out)
}

func TestGoJQ_TypedSliceNormalized(t *testing.T) {
	e := NewGoJQEngine()
	data := map[string]any{"warnings": []string{"a", "b"}}

	out, err := e.Evaluate(context.Background(), ".warnings | length", data)
	require.NoError(t, err)
	assert.Equal(t, 2, out)
}

func TestGoJQ_MultipleOutputs(t *testing.T) {
	e := NewGoJQEngine()
	data := map[string]any{"items": []any{1, 2, 3}}

	out, err := e.Evaluate(context.Background(), ".items[]", data)
	require.NoError(t, err)
	assert.Equal(t, []any{1.0, 2.0, 3.0}, out)

	all, err := e.EvaluateAll(context.Background(), ".missing", data)
	require.NoError(t, err)
	assert.Equal(t, []any{nil}, all)
}

func TestGoJQ_NoOutput(t *testing.T) {
	e := NewGoJQEngine()
	out, err := e.Evaluate(context.Background(), "empty", map[string]any{})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestGoJQ_ParseError(t *testing.T) {
	e := NewGoJQEngine()
	_, err := e.Evaluate(context.Background(), ".[", map[string]any{})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeExpression))
}

func TestGoJQ_RuntimeError(t *testing.T) {
	e := NewGoJQEngine()
	_, err := e.Evaluate(context.Background(), ".a + 1", map[string]any{"a": "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "evaluation failed")
}

func TestGoJQ_EnvSandboxed(t *testing.T) {
	e := NewGoJQEngine()
	out, err := e.Evaluate(context.Background(), "$ENV | length", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, 0, out)
}
