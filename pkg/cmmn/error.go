package cmmn

import (
	"errors"
	"fmt"
)

// ErrIllegalState is wrapped by errors that report an operation applied to an
// entity whose lifecycle state does not allow it, e.g. completing a human
// task that is not active.
var ErrIllegalState = errors.New("operation not allowed in current state")

// CmmnEngineError is returned for failures inside the engine that are not
// caused by the caller's input, e.g. a model that cannot be resolved at
// runtime or an evaluation that does not stabilize.
type CmmnEngineError struct {
	Msg string
}

func (e *CmmnEngineError) Error() string {
	return e.Msg
}

func newEngineErrorf(format string, a ...any) *CmmnEngineError {
	return &CmmnEngineError{
		Msg: fmt.Sprintf(format, a...),
	}
}

// ExpressionEvaluationError is returned when a condition or name expression
// of the case model fails to evaluate or yields a value of the wrong type.
type ExpressionEvaluationError struct {
	Msg string
	Err error
}

func (e *ExpressionEvaluationError) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Msg, e.Err.Error())
}

func (e *ExpressionEvaluationError) Unwrap() error {
	return e.Err
}
