// Package jsruntime evaluates legacy JavaScript configuration modules in a
// goja sandbox. A module sees `exports`, `module.exports`, `console` and a
// read-only `process.env`; `require` is not available.
package jsruntime

import (
	"context"
	"time"

	"github.com/dop251/goja"

	"github.com/fourks/sockethub/internal/common/apperrors"
)

// Options control module evaluation.
type Options struct {
	Timeout time.Duration     // default 500ms
	Env     map[string]string // exposed as process.env
}

const defaultTimeout = 500 * time.Millisecond

// EvalModule runs src as a CommonJS module named name and returns the final
// value of module.exports converted to Go values.
func EvalModule(ctx context.Context, name, src string, opts Options) (map[string]any, apperrors.Error) {
	if opts.Timeout == 0 {
		opts.Timeout = defaultTimeout
	}
	vm := goja.New()
	bindConsole(ctx, vm, name)

	exports := vm.NewObject()
	module := vm.NewObject()
	_ = module.Set("exports", exports)
	_ = vm.Set("module", module)
	_ = vm.Set("exports", exports)

	env := map[string]any{}
	for k, v := range opts.Env {
		env[k] = v
	}
	process := vm.NewObject()
	_ = process.Set("env", env)
	_ = vm.Set("process", process)
	_ = vm.Set("require", func(call goja.FunctionCall) goja.Value {
		panic(vm.NewTypeError("require is not available in configuration modules"))
	})

	prog, err := goja.Compile(name, src, true)
	if err != nil {
		return nil, ErrInvalidModule.Err(err)
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt(ErrJSRuntimeTimeout)
	})
	defer stop()

	if _, err := vm.RunProgram(prog); err != nil {
		if _, ok := err.(*goja.InterruptedError); ok {
			return nil, ErrJSRuntimeTimeout
		}
		if jsErr, ok := err.(*goja.Exception); ok {
			return nil, ErrJSExecutionError.Msg(jsErr.Value().String())
		}
		return nil, ErrJSExecutionError.Err(err)
	}

	out := module.Get("exports")
	if out == nil || goja.IsUndefined(out) || goja.IsNull(out) {
		return map[string]any{}, nil
	}
	exported, ok := out.Export().(map[string]any)
	if !ok {
		return nil, ErrInvalidModule.Msg("module.exports is not an object")
	}
	return exported, nil
}
