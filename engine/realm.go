package engine

import (
	"regexp"
	"strconv"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"

	"github.com/wippyai/js-runtime/errors"
)

// Realm is one isolated global environment inside the engine: its own
// global object, prototypes, and pending-rejection bookkeeping. Not safe
// for concurrent use; callers hold the runtime guard.
type Realm struct {
	vm        *goja.Runtime
	engine    *Engine
	unhandled map[*goja.Promise]goja.Value
}

// NewRealm allocates a fresh global environment.
func (e *Engine) NewRealm() (*Realm, error) {
	if e.closed {
		return nil, errors.Shutdown("new realm")
	}

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	if e.cfg.MaxCallStackSize > 0 {
		vm.SetMaxCallStackSize(e.cfg.MaxCallStackSize)
	}

	e.registry.Enable(vm)
	if !e.cfg.DisableConsole {
		console.Enable(vm)
	}

	r := &Realm{
		vm:        vm,
		engine:    e,
		unhandled: make(map[*goja.Promise]goja.Value),
	}

	vm.SetPromiseRejectionTracker(func(p *goja.Promise, op goja.PromiseRejectionOperation) {
		switch op {
		case goja.PromiseRejectionReject:
			r.unhandled[p] = p.Result()
		case goja.PromiseRejectionHandle:
			delete(r.unhandled, p)
		}
	})

	return r, nil
}

// VM exposes the underlying goja runtime for the marshalling layer.
// Callers must hold the runtime guard.
func (r *Realm) VM() *goja.Runtime {
	return r.vm
}

// Compile compiles source under an origin label without running it.
// Syntax errors come back as [compile] syntax with position when the
// engine reports one.
func (r *Realm) Compile(src, origin string) (*goja.Program, error) {
	prog, err := goja.Compile(origin, src, false)
	if err != nil {
		return nil, compileError(origin, err)
	}
	return prog, nil
}

// Run executes a compiled program. Thrown values come back as [eval] throw
// errors carrying the exported thrown value.
func (r *Realm) Run(prog *goja.Program, origin string) (goja.Value, error) {
	v, err := r.vm.RunProgram(prog)
	if err != nil {
		return nil, throwError(origin, err)
	}
	return v, nil
}

// CallFunction invokes a callable value. Exceptions from the call surface
// as [eval] throw errors.
func (r *Realm) CallFunction(fn goja.Value, origin string, args ...goja.Value) (goja.Value, error) {
	callable, ok := goja.AssertFunction(fn)
	if !ok {
		return nil, errors.InvalidInput(errors.PhaseEval, "value is not callable")
	}
	v, err := callable(goja.Undefined(), args...)
	if err != nil {
		return nil, throwError(origin, err)
	}
	return v, nil
}

// Global returns the value bound to name in the realm's global scope.
func (r *Realm) Global(name string) goja.Value {
	return r.vm.Get(name)
}

// SetGlobal binds a value into the realm's global scope.
func (r *Realm) SetGlobal(name string, v any) error {
	return r.vm.Set(name, v)
}

// NewPromise creates an engine promise plus its host-side resolve and
// reject functions.
func (r *Realm) NewPromise() (*goja.Promise, func(any), func(any)) {
	p, resolve, reject := r.vm.NewPromise()
	return p, func(v any) { resolve(v) }, func(v any) { reject(v) }
}

// AsPromise reports whether a value is a promise.
func AsPromise(v goja.Value) (*goja.Promise, bool) {
	if v == nil {
		return nil, false
	}
	p, ok := v.Export().(*goja.Promise)
	return p, ok
}

// TakeUnhandledRejections returns and clears the reasons of promises that
// were rejected with no handler attached. Called at drain checkpoints.
func (r *Realm) TakeUnhandledRejections() []goja.Value {
	if len(r.unhandled) == 0 {
		return nil
	}
	out := make([]goja.Value, 0, len(r.unhandled))
	for p, reason := range r.unhandled {
		out = append(out, reason)
		delete(r.unhandled, p)
	}
	return out
}

// goja's parser reports positions as "Line 12:34" inside the message;
// thrown exceptions carry "origin:line:col" in the first stack frame.
var (
	reParsePos = regexp.MustCompile(`Line (\d+):(\d+)`)
	reStackPos = regexp.MustCompile(`:(\d+):(\d+)\(?`)
)

func compileError(origin string, err error) error {
	line, col := 0, 0
	if m := reParsePos.FindStringSubmatch(err.Error()); m != nil {
		line, _ = strconv.Atoi(m[1])
		col, _ = strconv.Atoi(m[2])
	}
	return errors.New(errors.PhaseCompile, errors.KindSyntax).
		Origin(origin).
		Position(line, col).
		Detail("%s", err.Error()).
		Cause(err).
		Build()
}

func throwError(origin string, err error) error {
	var thrown any
	detail := err.Error()

	if ex, ok := err.(*goja.Exception); ok {
		if v := ex.Value(); v != nil {
			thrown = v.Export()
		}
		detail = ex.Error()
	}

	line, col := 0, 0
	if m := reStackPos.FindStringSubmatch(detail); m != nil {
		line, _ = strconv.Atoi(m[1])
		col, _ = strconv.Atoi(m[2])
	}

	return errors.New(errors.PhaseEval, errors.KindThrow).
		Origin(origin).
		Position(line, col).
		Value(thrown).
		Detail("%s", detail).
		Cause(err).
		Build()
}
