package runtime

import (
	_ "embed"
	"fmt"
	"sync/atomic"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/wippyai/js-runtime/engine"
	"github.com/wippyai/js-runtime/errors"
	"github.com/wippyai/js-runtime/marshal"
)

// Bridge helpers installed into every context before user code runs.
//
//go:embed bootstrap.js
var bootstrapSrc string

const bootstrapOrigin = "bootstrap.js"

// Context is one isolated global scope with its own root table and module
// cache. Contexts from the same runtime share the engine and the guard
// but never see each other's globals.
type Context struct {
	rt        *Runtime
	realm     *engine.Realm
	roots     *rootTable
	modules   *moduleLoader
	name      string
	destroyed atomic.Bool
}

// ContextOption customizes context creation.
type ContextOption func(*contextConfig)

type contextConfig struct {
	name    string
	globals map[string]any
	loader  func(path string) ([]byte, error)
}

// WithName labels the context in logs and rejection reports.
func WithName(name string) ContextOption {
	return func(c *contextConfig) {
		c.name = name
	}
}

// WithGlobal binds a marshalled host value into the context's global
// scope at creation.
func WithGlobal(name string, v any) ContextOption {
	return func(c *contextConfig) {
		if c.globals == nil {
			c.globals = make(map[string]any)
		}
		c.globals[name] = v
	}
}

// WithModuleLoader overrides the runtime's module source loader for this
// context only.
func WithModuleLoader(fn func(path string) ([]byte, error)) ContextOption {
	return func(c *contextConfig) {
		c.loader = fn
	}
}

var ctxSeq atomic.Uint64

// NewContext creates a fresh global scope. The bridge bootstrap script is
// evaluated into it before this returns; a bootstrap failure is fatal and
// reported with its source position.
func (r *Runtime) NewContext(opts ...ContextOption) (*Context, error) {
	cc := contextConfig{}
	for _, opt := range opts {
		opt(&cc)
	}
	if cc.name == "" {
		cc.name = fmt.Sprintf("context-%d", ctxSeq.Add(1))
	}
	if cc.loader == nil {
		cc.loader = r.cfg.ModuleLoader
	}

	ctx := &Context{rt: r, name: cc.name, roots: newRootTable()}
	ctx.modules = newModuleLoader(ctx, cc.loader)

	err := r.Enter(func(g *Guard) error {
		realm, err := r.engine.NewRealm()
		if err != nil {
			return err
		}
		ctx.realm = realm

		invoke := marshal.BindCallable(realm, r.dispatchOp, marshal.WithReenter(r.reenter))
		if err := realm.SetGlobal("__invokeOp", invoke); err != nil {
			return errors.EngineInit("bind op dispatcher", err)
		}

		prog, err := realm.Compile(bootstrapSrc, bootstrapOrigin)
		if err != nil {
			return err
		}
		if _, err := realm.Run(prog, bootstrapOrigin); err != nil {
			return err
		}

		for name, v := range cc.globals {
			ev, err := marshal.ToEngine(realm, v, marshal.WithReenter(r.reenter))
			if err != nil {
				return err
			}
			if err := realm.SetGlobal(name, ev); err != nil {
				return errors.Wrap(errors.PhaseInit, errors.KindInvalidInput, err, "bind global "+name)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, errors.Shutdown("new context")
	}
	r.contexts[ctx] = struct{}{}
	r.mu.Unlock()

	engine.Logger().Debug("context created", zap.String("context", ctx.name))
	return ctx, nil
}

// Name returns the context's label.
func (c *Context) Name() string {
	return c.name
}

// Runtime returns the owning runtime.
func (c *Context) Runtime() *Runtime {
	return c.rt
}

// LiveHandles returns the outstanding handle reference count.
func (c *Context) LiveHandles() int {
	return c.roots.live()
}

// rootValue pins an engine value and wraps it in a handle. Caller holds
// the guard.
func (c *Context) rootValue(v goja.Value) *ValueHandle {
	return &ValueHandle{ctx: c, slot: c.roots.root(v)}
}

// Evaluate compiles and runs src under the given origin label. Syntax
// errors and thrown values surface as distinct error kinds, both carrying
// position when the engine reports one. A drain checkpoint runs before
// control returns, whether or not the script threw.
func (c *Context) Evaluate(src, origin string) (*ValueHandle, error) {
	var h *ValueHandle
	err := c.rt.Enter(func(g *Guard) error {
		if c.destroyed.Load() {
			return errors.ContextDestroyed("evaluate")
		}

		prog, err := c.realm.Compile(src, origin)
		if err != nil {
			return err
		}

		v, runErr := c.realm.Run(prog, origin)
		c.rt.checkpoint(g)
		if runErr != nil {
			return runErr
		}

		h = c.rootValue(v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Call invokes a function bound in the context's global scope by name,
// marshalling args on the way in. The result is rooted like an Evaluate
// result, and a drain checkpoint runs before returning.
func (c *Context) Call(fnName string, args ...any) (*ValueHandle, error) {
	var h *ValueHandle
	err := c.rt.Enter(func(g *Guard) error {
		if c.destroyed.Load() {
			return errors.ContextDestroyed("call")
		}

		fn := c.realm.Global(fnName)
		if fn == nil || goja.IsUndefined(fn) || goja.IsNull(fn) {
			return errors.New(errors.PhaseEval, errors.KindNotFound).
				Origin(fnName).
				Detail("no global function named %s", fnName).
				Build()
		}

		ev := make([]goja.Value, len(args))
		for i, a := range args {
			v, err := marshal.ToEngine(c.realm, a, marshal.WithReenter(c.rt.reenter))
			if err != nil {
				return err
			}
			ev[i] = v
		}

		v, callErr := c.realm.CallFunction(fn, fnName, ev...)
		c.rt.checkpoint(g)
		if callErr != nil {
			return callErr
		}

		h = c.rootValue(v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

// NewPromise creates an engine promise plus host-side settle functions.
// The returned resolve and reject take the guard themselves, so they can
// be called from any goroutine that does not already hold it; the value
// is marshalled before settling.
func (c *Context) NewPromise() (*ValueHandle, func(any) error, func(any) error, error) {
	var h *ValueHandle
	var resolveRaw, rejectRaw func(any)

	err := c.rt.Enter(func(*Guard) error {
		if c.destroyed.Load() {
			return errors.ContextDestroyed("new promise")
		}
		p, res, rej := c.realm.NewPromise()
		resolveRaw, rejectRaw = res, rej
		h = c.rootValue(c.realm.VM().ToValue(p))
		return nil
	})
	if err != nil {
		return nil, nil, nil, err
	}

	settle := func(raw func(any)) func(any) error {
		return func(v any) error {
			return c.rt.Enter(func(g *Guard) error {
				if c.destroyed.Load() {
					return errors.ContextDestroyed("settle promise")
				}
				ev, err := marshal.ToEngine(c.realm, v, marshal.WithReenter(c.rt.reenter))
				if err != nil {
					return err
				}
				raw(ev)
				c.rt.checkpoint(g)
				return nil
			})
		}
	}
	return h, settle(resolveRaw), settle(rejectRaw), nil
}

// Destroy invalidates every handle rooted in the context and removes it
// from the runtime. Later use of the context or its handles fails with a
// destroyed-context error. Idempotent.
func (c *Context) Destroy() error {
	return c.rt.Enter(func(*Guard) error {
		if !c.destroyed.CompareAndSwap(false, true) {
			return nil
		}
		n := c.roots.destroyAll()
		c.rt.removeContext(c)
		engine.Logger().Debug("context destroyed",
			zap.String("context", c.name),
			zap.Int("handles", n))
		return nil
	})
}
