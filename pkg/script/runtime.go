package script

// ExpressionRuntime evaluates condition and name expressions of a case
// model against a variable context.
type ExpressionRuntime interface {
	Evaluate(expression string, variableContext map[string]any) (any, error)
}
