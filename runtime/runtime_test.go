package runtime

import (
	stderrors "errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wippyai/js-runtime/engine"
	"github.com/wippyai/js-runtime/errors"
)

func TestRegisterOp(t *testing.T) {
	rt := newTestRuntime(t)

	err := rt.RegisterOp("double", func(args ...any) (any, error) {
		return args[0].(int64) * 2, nil
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	ctx := newTestContext(t, rt)
	h, err := ctx.Evaluate(`ops.invoke('double', 21)`, "op.js")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	n, err := h.AsInt()
	if err != nil {
		t.Fatalf("as int: %v", err)
	}
	if n != 42 {
		t.Errorf("result = %d, want 42", n)
	}
}

func TestRegisterOpErrorIsCatchable(t *testing.T) {
	rt := newTestRuntime(t)

	rt.RegisterOp("refuse", func(args ...any) (any, error) {
		return nil, stderrors.New("not today")
	})

	ctx := newTestContext(t, rt)
	h, err := ctx.Evaluate(`
		var outcome = "none";
		try { ops.invoke('refuse'); } catch (e) { outcome = "caught"; }
		outcome
	`, "op.js")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	s, _ := h.AsString()
	if s != "caught" {
		t.Errorf("outcome = %q, want caught", s)
	}
}

func TestRegisterOpCallsBackIntoRuntime(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := newTestContext(t, rt)

	err := rt.RegisterOp("eval.inner", func(args ...any) (any, error) {
		h, err := ctx.Evaluate(`1 + 1`, "inner.js")
		if err != nil {
			return nil, err
		}
		defer h.Unroot()
		return h.AsInt()
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	// Run on a separate goroutine so a guard deadlock fails the test
	// instead of wedging the package.
	done := make(chan struct{})
	var n int64
	go func() {
		defer close(done)
		h, err := ctx.Evaluate(`ops.invoke('eval.inner') + 40`, "outer.js")
		if err != nil {
			t.Errorf("evaluate: %v", err)
			return
		}
		n, err = h.AsInt()
		if err != nil {
			t.Errorf("as int: %v", err)
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("op calling back into the runtime never returned")
	}
	if n != 42 {
		t.Errorf("result = %d, want 42", n)
	}
}

func TestUnknownOp(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := newTestContext(t, rt)

	_, err := ctx.Evaluate(`ops.invoke('no-such-op')`, "op.js")
	if err == nil {
		t.Fatal("expected error for unknown op")
	}
	if !strings.Contains(err.Error(), "no-such-op") {
		t.Errorf("error %v does not name the missing op", err)
	}
}

func TestRegisterOpValidation(t *testing.T) {
	rt := newTestRuntime(t)

	if err := rt.RegisterOp("", func(...any) (any, error) { return nil, nil }); err == nil {
		t.Error("empty name accepted")
	}
	if err := rt.RegisterOp("x", nil); err == nil {
		t.Error("nil function accepted")
	}
}

func TestScheduleCallbackRunsAtCheckpoint(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := newTestContext(t, rt)

	ran := false
	rt.ScheduleCallback(func() error {
		ran = true
		return nil
	})
	if ran {
		t.Fatal("job ran before any checkpoint")
	}
	if rt.PendingJobs() != 1 {
		t.Fatalf("pending = %d, want 1", rt.PendingJobs())
	}

	if _, err := ctx.Evaluate(`1`, "tick.js"); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !ran {
		t.Error("job did not run at the evaluate checkpoint")
	}
	if rt.PendingJobs() != 0 {
		t.Errorf("pending = %d after checkpoint", rt.PendingJobs())
	}
}

func TestScheduleCallbackAfter(t *testing.T) {
	rt := newTestRuntime(t)

	done := make(chan struct{})
	rt.ScheduleCallbackAfter(10*time.Millisecond, func() error {
		close(done)
		return nil
	})

	// The job only exists once the timer fires, and still needs a
	// checkpoint to run.
	deadline := time.After(2 * time.Second)
	for {
		if err := rt.Drain(); err != nil {
			t.Fatalf("drain: %v", err)
		}
		select {
		case <-done:
			return
		case <-deadline:
			t.Fatal("delayed job never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestCancelJob(t *testing.T) {
	rt := newTestRuntime(t)

	ran := false
	id := rt.ScheduleCallback(func() error { ran = true; return nil })
	if !rt.CancelJob(id) {
		t.Fatal("cancel failed")
	}
	if err := rt.Drain(); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if ran {
		t.Error("cancelled job ran")
	}
}

func TestFailingJobReported(t *testing.T) {
	rt := newTestRuntime(t)

	var mu sync.Mutex
	var origins []string
	rt.SetRejectionHandler(func(origin string, value any) {
		mu.Lock()
		origins = append(origins, origin)
		mu.Unlock()
	})

	after := false
	rt.ScheduleCallback(func() error { return stderrors.New("job broke") })
	rt.ScheduleCallback(func() error { after = true; return nil })

	if err := rt.Drain(); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if !after {
		t.Error("job after the failing one did not run")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(origins) != 1 || origins[0] != "job" {
		t.Errorf("rejection origins = %v, want [job]", origins)
	}
}

func TestUnhandledRejectionReported(t *testing.T) {
	rt := newTestRuntime(t)

	var mu sync.Mutex
	var values []any
	rt.SetRejectionHandler(func(origin string, value any) {
		mu.Lock()
		values = append(values, value)
		mu.Unlock()
	})

	ctx := newTestContext(t, rt)
	if _, err := ctx.Evaluate(`Promise.reject("abandoned"); 0`, "rej.js"); err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(values) != 1 || values[0] != "abandoned" {
		t.Errorf("rejection values = %v, want [abandoned]", values)
	}
}

func TestAwaitHandleSettled(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := newTestContext(t, rt)

	h, err := ctx.Evaluate(`Promise.resolve(123)`, "p.js")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !h.IsPromise() {
		t.Fatal("promise not detected")
	}

	res, err := rt.AwaitHandle(h, time.Second)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	n, err := res.AsInt()
	if err != nil || n != 123 {
		t.Errorf("result = %v, %v", n, err)
	}
}

func TestAwaitHandleRejected(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := newTestContext(t, rt)

	h, err := ctx.Evaluate(`Promise.reject("no").catch(function (e) { throw e })`, "p.js")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	_, err = rt.AwaitHandle(h, time.Second)
	if err == nil {
		t.Fatal("expected rejection error")
	}
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseEval, Kind: errors.KindThrow}) {
		t.Errorf("error = %v, want throw kind", err)
	}
	var e *errors.Error
	if stderrors.As(err, &e) && e.Value != "no" {
		t.Errorf("rejection value = %v, want no", e.Value)
	}
}

func TestAwaitHandleSettledLater(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := newTestContext(t, rt)

	h, resolve, _, err := ctx.NewPromise()
	if err != nil {
		t.Fatalf("new promise: %v", err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		if err := resolve("done"); err != nil {
			t.Errorf("resolve: %v", err)
		}
	}()

	res, err := rt.AwaitHandle(h, 2*time.Second)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	s, err := res.AsString()
	if err != nil || s != "done" {
		t.Errorf("result = %q, %v", s, err)
	}
}

func TestAwaitHandleTimeout(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := newTestContext(t, rt)

	h, err := ctx.Evaluate(`new Promise(function () {})`, "p.js")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	_, err = rt.AwaitHandle(h, 30*time.Millisecond)
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseJob, Kind: errors.KindTimeout}) {
		t.Errorf("error = %v, want timeout kind", err)
	}
}

func TestAwaitHandleNonPromise(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := newTestContext(t, rt)

	h, err := ctx.Evaluate(`"just a string"`, "p.js")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if _, err := rt.AwaitHandle(h, time.Second); err == nil {
		t.Error("awaiting a non-promise succeeded")
	}
}

func TestShutdownInvalidatesHandles(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	engine.SetLogger(zap.New(core))
	defer engine.SetLogger(zap.NewNop())

	rt, err := New(nil)
	if err != nil {
		t.Fatalf("create runtime: %v", err)
	}
	ctx, err := rt.NewContext()
	if err != nil {
		t.Fatalf("create context: %v", err)
	}

	h, err := ctx.Evaluate(`({alive: true})`, "v.js")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	rt.ScheduleCallback(func() error { return nil })

	if err := rt.Shutdown(); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	if h.Valid() {
		t.Error("handle valid after shutdown")
	}
	found := false
	for _, entry := range logs.All() {
		if entry.Message == "shutdown invalidated live handles" {
			found = true
		}
	}
	if !found {
		t.Error("no warning recorded for force-invalidated handles")
	}

	if err := rt.Shutdown(); err != nil {
		t.Errorf("second shutdown: %v", err)
	}
	if _, err := rt.NewContext(); err == nil {
		t.Error("context created after shutdown")
	}
}

func TestShutdownHandleAccessorsFail(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := newTestContext(t, rt)

	h, err := ctx.Evaluate(`7`, "v.js")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if err := rt.Shutdown(); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	// Surviving handles fail like handles of a destroyed context, not with
	// a generic shutdown error.
	destroyed := &errors.Error{Phase: errors.PhaseHandle, Kind: errors.KindContextDestroyed}
	if _, err := h.Export(); !stderrors.Is(err, destroyed) {
		t.Errorf("Export error = %v, want destroyed-context kind", err)
	}
	var n int64
	if err := h.ExportTo(&n); !stderrors.Is(err, destroyed) {
		t.Errorf("ExportTo error = %v, want destroyed-context kind", err)
	}
	if _, err := h.AsInt(); !stderrors.Is(err, destroyed) {
		t.Errorf("AsInt error = %v, want destroyed-context kind", err)
	}
	if _, err := h.JSON(); !stderrors.Is(err, destroyed) {
		t.Errorf("JSON error = %v, want destroyed-context kind", err)
	}
	if _, err := h.Clone(); !stderrors.Is(err, destroyed) {
		t.Errorf("Clone error = %v, want destroyed-context kind", err)
	}
}
