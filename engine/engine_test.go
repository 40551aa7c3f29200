package engine

import (
	stderrors "errors"
	"testing"

	"github.com/dop251/goja"

	"github.com/wippyai/js-runtime/errors"
)

func newTestRealm(t *testing.T) *Realm {
	t.Helper()
	eng, err := New()
	if err != nil {
		t.Fatalf("create engine: %v", err)
	}
	r, err := eng.NewRealm()
	if err != nil {
		t.Fatalf("create realm: %v", err)
	}
	return r
}

func TestRealm_CompileAndRun(t *testing.T) {
	r := newTestRealm(t)

	prog, err := r.Compile(`6 * 7`, "answer.js")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	v, err := r.Run(prog, "answer.js")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if v.ToInteger() != 42 {
		t.Errorf("result = %v, want 42", v)
	}
}

func TestRealm_CompileError(t *testing.T) {
	r := newTestRealm(t)

	_, err := r.Compile(`let = ;`, "bad.js")
	if err == nil {
		t.Fatal("expected compile error")
	}

	var e *errors.Error
	if !stderrors.As(err, &e) {
		t.Fatalf("error type = %T, want *errors.Error", err)
	}
	if e.Kind != errors.KindSyntax {
		t.Errorf("Kind = %v, want %v", e.Kind, errors.KindSyntax)
	}
	if e.Origin != "bad.js" {
		t.Errorf("Origin = %v, want bad.js", e.Origin)
	}
	if e.Line == 0 {
		t.Errorf("expected a source line, got 0")
	}
}

func TestRealm_ThrowError(t *testing.T) {
	r := newTestRealm(t)

	prog, err := r.Compile(`throw new Error("boom")`, "boom.js")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	_, err = r.Run(prog, "boom.js")
	if err == nil {
		t.Fatal("expected thrown error")
	}

	var e *errors.Error
	if !stderrors.As(err, &e) {
		t.Fatalf("error type = %T, want *errors.Error", err)
	}
	if e.Kind != errors.KindThrow {
		t.Errorf("Kind = %v, want %v", e.Kind, errors.KindThrow)
	}
	if e.Value == nil {
		t.Error("expected exported thrown value")
	}
}

func TestRealm_ThrowDistinctFromSyntax(t *testing.T) {
	r := newTestRealm(t)

	// Valid syntax, throws at runtime.
	prog, err := r.Compile(`undefinedFunction()`, "a.js")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	_, err = r.Run(prog, "a.js")
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseEval, Kind: errors.KindThrow}) {
		t.Errorf("runtime error should be throw kind, got %v", err)
	}
}

func TestRealm_Promise(t *testing.T) {
	r := newTestRealm(t)

	prog, err := r.Compile(`new Promise(function(resolve) { resolve(123); })`, "p.js")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	v, err := r.Run(prog, "p.js")
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	p, ok := AsPromise(v)
	if !ok {
		t.Fatal("expected a promise value")
	}
	if p.State() != goja.PromiseStateFulfilled {
		t.Errorf("promise state = %v, want fulfilled", p.State())
	}
	if p.Result().ToInteger() != 123 {
		t.Errorf("promise result = %v, want 123", p.Result())
	}
}

func TestRealm_NewPromiseFromHost(t *testing.T) {
	r := newTestRealm(t)

	p, resolve, _ := r.NewPromise()
	resolve("done")
	if p.Result().String() != "done" {
		t.Errorf("result = %v, want done", p.Result())
	}
}

func TestRealm_UnhandledRejections(t *testing.T) {
	r := newTestRealm(t)

	prog, err := r.Compile(`Promise.reject("nobody listens"); undefined`, "rej.js")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if _, err := r.Run(prog, "rej.js"); err != nil {
		t.Fatalf("run: %v", err)
	}

	reasons := r.TakeUnhandledRejections()
	if len(reasons) != 1 {
		t.Fatalf("unhandled rejections = %d, want 1", len(reasons))
	}
	if reasons[0].String() != "nobody listens" {
		t.Errorf("reason = %v", reasons[0])
	}

	// Second take is empty: reasons are consumed.
	if reasons := r.TakeUnhandledRejections(); len(reasons) != 0 {
		t.Errorf("second take = %d reasons, want 0", len(reasons))
	}
}

func TestRealm_HandledRejectionNotReported(t *testing.T) {
	r := newTestRealm(t)

	prog, err := r.Compile(`Promise.reject("caught").catch(function() {}); undefined`, "rej.js")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if _, err := r.Run(prog, "rej.js"); err != nil {
		t.Fatalf("run: %v", err)
	}

	if reasons := r.TakeUnhandledRejections(); len(reasons) != 0 {
		t.Errorf("handled rejection reported: %v", reasons)
	}
}

func TestEngine_ClosedRefusesRealms(t *testing.T) {
	eng, err := New()
	if err != nil {
		t.Fatalf("create engine: %v", err)
	}
	if err := eng.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := eng.NewRealm(); err == nil {
		t.Error("expected error creating realm after close")
	}
}

func TestEngine_ConfigValidation(t *testing.T) {
	if _, err := NewWithConfig(&Config{MaxCallStackSize: -1}); err == nil {
		t.Error("expected error for negative call stack size")
	}
}

func TestRealm_ConsoleBound(t *testing.T) {
	r := newTestRealm(t)
	if r.Global("console") == nil {
		t.Error("console should be bound by default")
	}
}
