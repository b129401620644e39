package cmmn

import (
	"fmt"
	"maps"
	"strings"
)

const (
	// stageCompletableFunction is the call form modelers write in available
	// conditions. The expression runtime has no engine builtins, so the call
	// is rewritten to a variable the engine binds before evaluation.
	stageCompletableFunction = "isStageCompletable()"
	stageCompletableVariable = "stageCompletable"
)

// evaluateExpression follows the convention that an expression starts with
// the "=" prefix; any other value is a literal and returned as is.
func (engine *Engine) evaluateExpression(expression string, variableContext map[string]any) (any, error) {
	expression = strings.TrimSpace(expression)
	if !strings.HasPrefix(expression, "=") {
		return expression, nil
	}
	expression = strings.TrimPrefix(expression, "=")
	result, err := engine.expressionRuntime.Evaluate(expression, variableContext)
	if err != nil {
		return nil, &ExpressionEvaluationError{
			Msg: fmt.Sprintf("failed to evaluate expression %q", expression),
			Err: err,
		}
	}
	return result, nil
}

// evaluateCondition evaluates a rule or if-part condition. An empty condition
// means the rule applies unconditionally.
func (engine *Engine) evaluateCondition(condition string, variableContext map[string]any) (bool, error) {
	if strings.TrimSpace(condition) == "" {
		return true, nil
	}
	result, err := engine.evaluateExpression(condition, variableContext)
	if err != nil {
		return false, err
	}
	b, ok := result.(bool)
	if !ok {
		return false, &ExpressionEvaluationError{
			Msg: fmt.Sprintf("condition %q evaluated to %T instead of a boolean", condition, result),
		}
	}
	return b, nil
}

// evaluateAvailableCondition evaluates the available condition of an event
// listener with the completable flag of its containing stage bound.
func (engine *Engine) evaluateAvailableCondition(condition string, completable bool, variableContext map[string]any) (bool, error) {
	if strings.TrimSpace(condition) == "" {
		return true, nil
	}
	condition = strings.ReplaceAll(condition, stageCompletableFunction, stageCompletableVariable)
	bound := maps.Clone(variableContext)
	if bound == nil {
		bound = map[string]any{}
	}
	bound[stageCompletableVariable] = completable
	return engine.evaluateCondition(condition, bound)
}

// resolveName evaluates a name expression to its display string.
func (engine *Engine) resolveName(name string, variableContext map[string]any) (string, error) {
	if !strings.HasPrefix(strings.TrimSpace(name), "=") {
		return name, nil
	}
	result, err := engine.evaluateExpression(name, variableContext)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%v", result), nil
}
