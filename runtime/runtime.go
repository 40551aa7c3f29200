package runtime

import (
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/require"
	"go.uber.org/zap"

	jsruntime "github.com/wippyai/js-runtime"
	"github.com/wippyai/js-runtime/engine"
	"github.com/wippyai/js-runtime/errors"
)

// Config holds configuration for runtime creation.
type Config struct {
	// MaxCallStackSize limits script call stack depth per context.
	// 0 means the engine default.
	MaxCallStackSize int

	// DisableConsole skips binding console.log into new contexts.
	DisableConsole bool

	// ModuleLoader resolves module paths to source bytes for LoadModule
	// and script-side require. Nil reads from the process filesystem.
	ModuleLoader func(path string) ([]byte, error)

	// AwaitPoll is the fallback re-check interval while AwaitHandle waits
	// for a promise to settle. 0 means 2ms.
	AwaitPoll time.Duration
}

const defaultAwaitPoll = 2 * time.Millisecond

// Runtime owns one engine and serializes all access to it. Contexts,
// handles, and the job queue hang off it; every script-facing operation
// funnels through the FIFO guard.
type Runtime struct {
	engine *engine.Engine
	cfg    Config
	gate   gate
	jobs   *jobQueue

	mu          sync.Mutex
	active      *Guard
	contexts    map[*Context]struct{}
	ops         map[string]jsruntime.HostFunc
	onRejection jsruntime.RejectionHandler
	closed      bool
}

// New initializes the engine and returns a runtime ready to mint
// contexts. A nil cfg uses defaults.
func New(cfg *Config) (*Runtime, error) {
	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	if c.AwaitPoll <= 0 {
		c.AwaitPoll = defaultAwaitPoll
	}

	ec := engine.Config{
		MaxCallStackSize: c.MaxCallStackSize,
		DisableConsole:   c.DisableConsole,
	}
	if c.ModuleLoader != nil {
		ec.SourceLoader = require.SourceLoader(c.ModuleLoader)
	}

	eng, err := engine.NewWithConfig(&ec)
	if err != nil {
		return nil, errors.EngineInit("create engine", err)
	}

	return &Runtime{
		engine:   eng,
		cfg:      c,
		jobs:     newJobQueue(),
		contexts: make(map[*Context]struct{}),
		ops:      make(map[string]jsruntime.HostFunc),
	}, nil
}

func (r *Runtime) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// SetRejectionHandler installs the hook invoked for unhandled promise
// rejections and failed jobs. A nil handler leaves only the log record.
func (r *Runtime) SetRejectionHandler(h jsruntime.RejectionHandler) {
	r.mu.Lock()
	r.onRejection = h
	r.mu.Unlock()
}

// RegisterOp exposes a named host function to every context under the
// script-side ops.invoke surface. Re-registering a name replaces the
// previous function.
func (r *Runtime) RegisterOp(name string, fn jsruntime.HostFunc) error {
	if name == "" || fn == nil {
		return errors.InvalidInput(errors.PhaseInit, "op needs a name and a function")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.Shutdown("register op")
	}
	r.ops[name] = fn
	return nil
}

// dispatchOp is the single bridge entry point bound into every context.
// First argument is the op name, the rest are forwarded as-is.
func (r *Runtime) dispatchOp(args ...any) (any, error) {
	if len(args) == 0 {
		return nil, errors.InvalidInput(errors.PhaseEval, "op invocation needs a name")
	}
	name, ok := args[0].(string)
	if !ok {
		return nil, errors.InvalidInput(errors.PhaseEval, "op name must be a string")
	}

	r.mu.Lock()
	fn := r.ops[name]
	r.mu.Unlock()

	if fn == nil {
		return nil, errors.New(errors.PhaseEval, errors.KindNotFound).
			Detail("no host op named %s", name).
			Build()
	}
	return fn(args[1:]...)
}

// ScheduleCallback queues a host job behind whatever is already queued.
// It runs at the next drain checkpoint, in arrival order with engine
// jobs; there are no priority lanes.
func (r *Runtime) ScheduleCallback(fn func() error) JobID {
	return r.jobs.enqueue(fn)
}

// ScheduleCallbackAfter queues fn once the delay elapses. The job enters
// the same FIFO as immediate callbacks at expiry time and still runs only
// at a drain checkpoint. The returned channel delivers the job id when
// the timer fires; before that the job does not exist and cannot be
// cancelled.
func (r *Runtime) ScheduleCallbackAfter(delay time.Duration, fn func() error) <-chan JobID {
	ch := make(chan JobID, 1)
	if delay <= 0 {
		ch <- r.jobs.enqueue(fn)
		return ch
	}
	time.AfterFunc(delay, func() {
		if r.isClosed() {
			close(ch)
			return
		}
		ch <- r.jobs.enqueue(fn)
	})
	return ch
}

// CancelJob removes a job that has not run yet. Returns false once the
// job has started or finished.
func (r *Runtime) CancelJob(id JobID) bool {
	return r.jobs.cancel(id)
}

// PendingJobs counts queued jobs that have not run or been cancelled.
func (r *Runtime) PendingJobs() int {
	return r.jobs.pending()
}

// Drain runs a checkpoint: acquires the guard, runs every queued job, and
// reports unhandled rejections. Evaluate, Call, and LoadModule already do
// this before returning; Drain is for embedders whose only engine work is
// scheduled callbacks.
func (r *Runtime) Drain() error {
	return r.Enter(func(g *Guard) error {
		r.checkpoint(g)
		return nil
	})
}

// checkpoint drains the job queue and flushes unhandled-rejection
// records. Caller holds the guard. Nested calls (a job evaluating script,
// which checkpoints again) collapse into the outer drain.
func (r *Runtime) checkpoint(*Guard) {
	r.jobs.drain(func(err error) {
		r.reportRejection("job", err)
	})

	r.mu.Lock()
	ctxs := make([]*Context, 0, len(r.contexts))
	for c := range r.contexts {
		ctxs = append(ctxs, c)
	}
	r.mu.Unlock()

	for _, c := range ctxs {
		for _, reason := range c.realm.TakeUnhandledRejections() {
			r.reportRejection(c.name, reason.Export())
		}
	}
}

func (r *Runtime) reportRejection(origin string, value any) {
	engine.Logger().Warn("unhandled rejection",
		zap.String("origin", origin),
		zap.Any("value", value))

	r.mu.Lock()
	h := r.onRejection
	r.mu.Unlock()
	if h != nil {
		h(origin, value)
	}
}

// AwaitHandle blocks until the promise referenced by h settles, then
// returns a handle to the fulfillment value. Rejection comes back as a
// throw error carrying the rejection value. Each re-check runs a drain
// checkpoint so queued resolvers get to run. A timeout of zero or less
// waits indefinitely.
func (r *Runtime) AwaitHandle(h *ValueHandle, timeout time.Duration) (*ValueHandle, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		var out *ValueHandle
		settled := false

		err := r.Enter(func(g *Guard) error {
			v, err := h.deref()
			if err != nil {
				return err
			}
			p, ok := engine.AsPromise(v)
			if !ok {
				return errors.InvalidInput(errors.PhaseEval, "handle does not reference a promise")
			}

			r.checkpoint(g)

			switch p.State() {
			case goja.PromiseStateFulfilled:
				settled = true
				out = h.ctx.rootValue(p.Result())
			case goja.PromiseStateRejected:
				settled = true
				return errors.Throw("await", p.Result().Export(), "promise rejected")
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		if settled {
			return out, nil
		}

		if !deadline.IsZero() && time.Now().After(deadline) {
			return nil, errors.Timeout("promise settlement")
		}

		select {
		case <-r.jobs.wake:
		case <-time.After(r.cfg.AwaitPoll):
		}
	}
}

func (r *Runtime) removeContext(c *Context) {
	r.mu.Lock()
	delete(r.contexts, c)
	r.mu.Unlock()
}

// Shutdown destroys every context, discards queued jobs, and releases the
// engine. Live handles are force-invalidated with a logged warning rather
// than a panic; every later use of them fails with a destroyed-context
// error. Idempotent.
func (r *Runtime) Shutdown() error {
	r.gate.acquire()
	defer r.gate.release()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	ctxs := make([]*Context, 0, len(r.contexts))
	for c := range r.contexts {
		ctxs = append(ctxs, c)
	}
	r.contexts = nil
	r.mu.Unlock()

	live := 0
	for _, c := range ctxs {
		c.destroyed.Store(true)
		live += c.roots.destroyAll()
	}

	dropped := r.jobs.discard()

	if live > 0 {
		engine.Logger().Warn("shutdown invalidated live handles",
			zap.Int("handles", live),
			zap.Int("contexts", len(ctxs)))
	}
	if dropped > 0 {
		engine.Logger().Debug("shutdown discarded queued jobs",
			zap.Int("jobs", dropped))
	}

	return r.engine.Close()
}
