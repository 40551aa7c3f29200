// Package jsruntime embeds an ECMAScript engine (goja) in a Go process behind
// a safe, ownership-checked bridge.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	jsruntime/           Root package with shared host-facing types
//	├── runtime/         Runtime, Context, ValueHandle, rooting table,
//	│                    job queue and the exclusive engine guard
//	├── engine/          Low-level goja integration (realms, compilation,
//	│                    promises, exception retrieval)
//	├── marshal/         Conversion between host values and engine values
//	├── errors/          Structured error types for debugging
//	└── cmd/repl         Script runner and interactive REPL
//
// # Quick Start
//
// Create a runtime, a context, and evaluate a script:
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
//	defer h.Unroot()
//
//	n, _ := h.AsInt()
//	fmt.Println(n) // 42
//
// # Ownership Model
//
// The engine's garbage collector and the host's ownership model disagree
// about who owns what. The bridge never hands out raw engine values: every
// engine value reachable from host code is represented by a ValueHandle,
// an indexed, refcounted entry in the owning Context's rooting table. The
// registration is what keeps the referent alive; releasing the handle
// (Unroot) releases the registration. A handle used after its Context is
// destroyed fails with a context_destroyed error, never returns garbage.
//
// # Threading
//
// The engine is single-threaded by contract. All engine mutation happens
// only while a goroutine holds the Runtime's exclusive guard, acquired with
// Enter. Acquisition blocks with FIFO fairness; it never busy-spins and
// never starves a waiter. Handle validity checks do not require the guard;
// dereferencing does.
//
// # Jobs and Checkpoints
//
// Promise reactions and host-scheduled callbacks share one FIFO job queue.
// The queue drains after every top-level Evaluate, Call or LoadModule and
// before Enter returns, mirroring a microtask checkpoint: host code never
// observes a promise as settled before its reaction job has run. Jobs
// enqueued during a drain run in the same checkpoint, after everything that
// was already queued. A failing job is recorded as an unhandled-rejection
// event and never prevents the remaining jobs from running.
//
// # Modules
//
// Context.LoadModule resolves, compiles and evaluates a module graph,
// caching compiled modules by normalized path. An import cycle is reported
// as a distinct error kind rather than tolerated with partial exports.
//
// # Shutdown
//
// Runtime.Shutdown destroys all contexts and discards queued jobs. Live
// handles at shutdown are forcibly invalidated with a recorded warning
// rather than a panic.
package jsruntime
