package expressions

import (
	"context"
	"testing"

	"github.com/rendis/drawmaid/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewExprEngine(t *testing.T) {
	e := NewExprEngine()
	assert.Equal(t, "expr", e.Name())
}

func TestExpr_LimitRule(t *testing.T) {
	e := NewExprEngine()
	data := map[string]any{"estimated_nodes": 120.0, "max_nodes": 100.0}

	ok, err := EvaluateBool(context.Background(), e, "estimated_nodes > max_nodes", data)
	require.NoError(t, err)
	assert.True(t, ok)

	data["estimated_nodes"] = 10.0
	ok, err = EvaluateBool(context.Background(), e, "estimated_nodes > max_nodes", data)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExpr_UndefinedVariablesAllowed(t *testing.T) {
	e := NewExprEngine()

	out, err := e.Evaluate(context.Background(), "missing ?? 7", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, 7, out)
}

func TestExpr_CompileError(t *testing.T) {
	e := NewExprEngine()

	_, err := e.Evaluate(context.Background(), "a +", map[string]any{"a": 1})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeExpression))
}

func TestExpr_EmptyExpression(t *testing.T) {
	e := NewExprEngine()
	_, err := e.Evaluate(context.Background(), "", nil)
	require.Error(t, err)
}

func TestExpr_NilData(t *testing.T) {
	e := NewExprEngine()
	out, err := e.Evaluate(context.Background(), "1 + 1", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, out)
}
