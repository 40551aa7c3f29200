// Package runtime provides the high-level API for embedding the script
// engine: runtimes, contexts, value handles, and the job scheduler.
//
// # Quick Start
//
//	rt, err := runtime.New(nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Shutdown()
//
//	ctx, err := rt.NewContext()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ctx.Destroy()
//
//	h, err := ctx.Evaluate(`6 * 7`, "answer.js")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	n, _ := h.AsInt()
//	fmt.Println(n) // 42
//
// # The Guard
//
// The engine admits one goroutine at a time. Evaluate, Call, LoadModule,
// and the handle accessors take the guard internally; Enter and TryEnter
// expose it to embedders that need to batch work. Waiters are admitted
// in FIFO order, so no caller is starved.
//
// Host callbacks fired by the engine (marshalled functions, registered
// ops) run while the guard is already held; the marshalling trampoline
// re-enters rather than re-acquiring, so calling back into the host from
// script does not deadlock.
//
// # Handles
//
// Script values returned to the host are pinned in the owning context's
// root table and wrapped in a ValueHandle. Unroot releases the pin and is
// safe to call twice; Clone creates an independent reference to the same
// value. Valid never blocks on the guard. Destroying a context, or
// shutting the runtime down, invalidates every handle rooted in it: later
// use fails with a destroyed-context error instead of touching freed
// engine state.
//
// # Jobs and Checkpoints
//
// ScheduleCallback queues host work behind the engine's own pending work;
// everything runs in arrival order at the next drain checkpoint. A
// checkpoint runs after every Evaluate, Call, and LoadModule, and can be
// forced with Drain. Jobs queued while a drain is running execute in the
// same checkpoint, after everything that was already queued. A failing
// job is reported through the rejection handler and the log; the jobs
// behind it still run.
//
// # Promises
//
// AwaitHandle blocks the calling goroutine until a promise settles,
// pumping drain checkpoints so resolvers get to run. Rejections come back
// as throw errors carrying the rejection value; unhandled rejections
// elsewhere are reported at checkpoints through SetRejectionHandler.
//
// # Modules
//
// LoadModule evaluates a CommonJS-style module graph. Modules are cached
// per context by normalized path; the same path always returns the same
// handle. Missing files, compile failures, and import cycles are distinct
// error kinds, and a cycle is reported with the full chain.
//
// # Host Ops
//
//	rt.RegisterOp("now", func(args ...any) (any, error) {
//	    return time.Now().Unix(), nil
//	})
//
//	// script side:
//	//   var t = ops.invoke('now');
//
// Op arguments and results go through the marshalling layer; an op error
// surfaces in script as a catchable exception.
//
// # Shutdown
//
// Shutdown destroys all contexts, discards queued jobs, and releases the
// engine. Handles still live at that point are force-invalidated and the
// count is logged as a warning; nothing panics.
package runtime
