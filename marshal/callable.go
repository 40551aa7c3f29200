package marshal

import (
	"github.com/dop251/goja"

	jsruntime "github.com/wippyai/js-runtime"
	"github.com/wippyai/js-runtime/engine"
)

// BindCallable wraps a host function as an engine function value. Calls
// from the engine re-enter the runtime guard through the Reenter supplied
// with WithReenter before running fn; without one, fn runs directly (the
// trampoline is then only safe when the host already serializes access).
// A host error surfaces in the engine as a thrown exception.
func BindCallable(r *engine.Realm, fn jsruntime.HostFunc, opts ...Option) goja.Value {
	return bindCallable(r, fn, buildOptions(opts))
}

func bindCallable(r *engine.Realm, fn jsruntime.HostFunc, o options) goja.Value {
	vm := r.VM()
	trampoline := func(call goja.FunctionCall) goja.Value {
		args := make([]any, len(call.Arguments))
		for i, a := range call.Arguments {
			hv, err := FromEngine(a)
			if err != nil {
				panic(vm.NewGoError(err))
			}
			args[i] = hv
		}

		var result any
		run := func() error {
			var err error
			result, err = fn(args...)
			return err
		}

		var err error
		if o.reenter != nil {
			err = o.reenter(run)
		} else {
			err = run()
		}
		if err != nil {
			panic(vm.NewGoError(err))
		}

		ev, err := ToEngine(r, result, optionsAsSlice(o)...)
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return ev
	}
	return vm.ToValue(trampoline)
}

func optionsAsSlice(o options) []Option {
	var opts []Option
	if o.lossy {
		opts = append(opts, Lossy())
	}
	if o.reenter != nil {
		opts = append(opts, WithReenter(o.reenter))
	}
	return opts
}
