package feel

import (
	"github.com/pbinitiative/feel"
	"github.com/pbinitiative/zencmmn/pkg/script"
)

// FeelRuntime evaluates FEEL expressions through the pure-Go interpreter.
// The interpreter is stateless, so no VM pooling is needed here.
type FeelRuntime struct{}

var _ script.ExpressionRuntime = FeelRuntime{}

func NewFeelRuntime() FeelRuntime {
	return FeelRuntime{}
}

func (FeelRuntime) Evaluate(expression string, variableContext map[string]any) (any, error) {
	return feel.EvalStringWithScope(expression, variableContext)
}
