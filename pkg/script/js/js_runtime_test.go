package js

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateBindsAndUnbindsVariables(t *testing.T) {
	runtime := NewJsRuntime(t.Context(), 2, 1)

	res, err := runtime.Evaluate("amount > 100", map[string]any{"amount": 250})
	require.NoError(t, err)
	assert.Equal(t, true, res)

	// the runner was returned clean, the variable must not leak into the
	// next evaluation
	res, err = runtime.Evaluate("typeof amount === 'undefined'", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, true, res)
}

func TestEvaluateFailsOnScriptError(t *testing.T) {
	runtime := NewJsRuntime(t.Context(), 2, 1)

	_, err := runtime.Evaluate("amount >", map[string]any{"amount": 1})
	assert.ErrorContains(t, err, "failed to evaluate script")
}
