package js

import (
	"context"
	"fmt"

	"github.com/dop251/goja"
	"github.com/pbinitiative/zencmmn/pkg/script"
)

type JsRunnerFactory struct{}

func (factory JsRunnerFactory) NewRunner() script.Runner {
	return &JsRunner{vm: goja.New()}
}

// JsRuntime evaluates JavaScript expressions on pooled goja VMs. It is an
// alternative to the default FEEL runtime for models that declare their
// conditions in JavaScript.
type JsRuntime struct {
	pool *script.RunnerPool
}

var _ script.ExpressionRuntime = &JsRuntime{}

func NewJsRuntime(ctx context.Context, maxVmPoolSize int, minVmPoolSize int) *JsRuntime {
	return &JsRuntime{
		pool: script.NewRunnerPool(ctx, JsRunnerFactory{}, maxVmPoolSize, minVmPoolSize),
	}
}

func (r *JsRuntime) Evaluate(expression string, variableContext map[string]any) (any, error) {
	runner := r.pool.GetRunnerFromPool()
	defer r.pool.ReturnRunnerToPool(runner)

	return runner.(*JsRunner).evaluate(expression, variableContext)
}

type JsRunner struct {
	vm *goja.Runtime
}

func (r *JsRunner) Runner() {}

func (r *JsRunner) evaluate(expression string, variableContext map[string]any) (any, error) {
	for name, value := range variableContext {
		if err := r.vm.Set(name, value); err != nil {
			return nil, fmt.Errorf("failed to bind variable %s: %w", name, err)
		}
	}
	defer func() {
		// unbind so the next evaluation on this runner starts clean
		for name := range variableContext {
			_ = r.vm.Set(name, goja.Undefined())
		}
	}()

	res, err := r.vm.RunString(expression)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate script: %w", err)
	}
	return res.Export(), nil
}
