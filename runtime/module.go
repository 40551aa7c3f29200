package runtime

import (
	stderrors "errors"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dop251/goja"

	"github.com/wippyai/js-runtime/errors"
)

// ModuleHandle is a cached, evaluated module. The same normalized path
// always yields the same handle for the life of the context.
type ModuleHandle struct {
	path    string
	exports *ValueHandle
}

// Path returns the module's normalized path.
func (m *ModuleHandle) Path() string {
	return m.path
}

// Exports returns the handle to the module's exports value.
func (m *ModuleHandle) Exports() *ValueHandle {
	return m.exports
}

// moduleLoader resolves, compiles, and evaluates a CommonJS-style module
// graph for one context. The loading stack doubles as the grey set for
// cycle detection and as the chain reported in a cycle error.
type moduleLoader struct {
	ctx     *Context
	resolve func(path string) ([]byte, error)
	cache   map[string]*ModuleHandle
	loading []string
}

func newModuleLoader(ctx *Context, resolve func(path string) ([]byte, error)) *moduleLoader {
	if resolve == nil {
		resolve = func(p string) ([]byte, error) {
			return os.ReadFile(filepath.FromSlash(p))
		}
	}
	return &moduleLoader{
		ctx:     ctx,
		resolve: resolve,
		cache:   make(map[string]*ModuleHandle),
	}
}

// normalizeModulePath resolves spec against the directory of the
// requiring module (empty for top-level loads) and appends .js when the
// spec has no extension. Paths are slash-form keys into the cache.
func normalizeModulePath(from, spec string) string {
	p := spec
	if strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../") {
		p = path.Join(path.Dir(from), spec)
	}
	p = path.Clean(p)
	if path.Ext(p) == "" {
		p += ".js"
	}
	return p
}

// LoadModule resolves, compiles, and evaluates the module graph rooted at
// the given path. Results are cached by normalized path, so loading the
// same module twice returns the identical handle. Missing sources,
// compile failures, and import cycles come back as distinct error kinds;
// a cycle is an error, never a crash or a partial evaluation.
func (c *Context) LoadModule(modPath string) (*ModuleHandle, error) {
	var m *ModuleHandle
	err := c.rt.Enter(func(g *Guard) error {
		if c.destroyed.Load() {
			return errors.ContextDestroyed("load module")
		}
		var err error
		m, err = c.modules.load(normalizeModulePath("", modPath))
		c.rt.checkpoint(g)
		return err
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (l *moduleLoader) load(norm string) (*ModuleHandle, error) {
	if m, ok := l.cache[norm]; ok {
		return m, nil
	}

	for _, p := range l.loading {
		if p == norm {
			return nil, errors.Cycle(append(append([]string{}, l.loading...), norm))
		}
	}

	src, err := l.resolve(norm)
	if err != nil {
		return nil, errors.ModuleNotFound(norm, err)
	}

	prog, err := compileModule(l.ctx, norm, string(src))
	if err != nil {
		return nil, err
	}

	l.loading = append(l.loading, norm)
	defer func() {
		l.loading = l.loading[:len(l.loading)-1]
	}()

	vm := l.ctx.realm.VM()
	exports := vm.NewObject()
	moduleObj := vm.NewObject()
	if err := moduleObj.Set("exports", exports); err != nil {
		return nil, errors.Wrap(errors.PhaseModule, errors.KindInvalidInput, err, "init module object")
	}

	requireFn := vm.ToValue(func(call goja.FunctionCall) goja.Value {
		spec := call.Argument(0).String()
		dep, err := l.load(normalizeModulePath(norm, spec))
		if err != nil {
			panic(vm.NewGoError(err))
		}
		v, derr := dep.exports.deref()
		if derr != nil {
			panic(vm.NewGoError(derr))
		}
		return v
	})

	wrapper, err := l.ctx.realm.Run(prog, norm)
	if err != nil {
		return nil, unwrapModuleError(err)
	}
	if _, err := l.ctx.realm.CallFunction(wrapper, norm, exports, moduleObj, requireFn); err != nil {
		return nil, unwrapModuleError(err)
	}

	// module.exports may have been reassigned inside the body.
	final := moduleObj.Get("exports")

	m := &ModuleHandle{path: norm, exports: l.ctx.rootValue(final)}
	l.cache[norm] = m
	return m, nil
}

// compileModule wraps the source in a CommonJS-style function expression.
// The wrapper adds one line before user code, so reported positions are
// shifted back to match the file.
func compileModule(c *Context, norm, src string) (*goja.Program, error) {
	wrapped := "(function (exports, module, require) {\n" + src + "\n})"
	prog, err := c.realm.Compile(wrapped, norm)
	if err != nil {
		var e *errors.Error
		if stderrors.As(err, &e) {
			adj := *e
			adj.Phase = errors.PhaseModule
			if adj.Line > 1 {
				adj.Line--
			}
			return nil, &adj
		}
		return nil, errors.Wrap(errors.PhaseModule, errors.KindSyntax, err, "compile module "+norm)
	}
	return prog, nil
}

// unwrapModuleError recovers a loader error thrown through the engine by
// a nested require, so a deep cycle or missing module keeps its kind
// instead of arriving as a generic throw. Loader errors cross the engine
// as GoError objects; the original error rides in their value property.
func unwrapModuleError(err error) error {
	var e *errors.Error
	if !stderrors.As(err, &e) {
		return err
	}
	ex, ok := e.Cause.(*goja.Exception)
	if !ok {
		return err
	}
	obj, ok := ex.Value().(*goja.Object)
	if !ok {
		return err
	}
	wrapped := obj.Get("value")
	if wrapped == nil {
		return err
	}
	var inner *errors.Error
	if werr, ok := wrapped.Export().(error); ok && stderrors.As(werr, &inner) {
		if inner.Phase == errors.PhaseModule {
			return inner
		}
	}
	return err
}
