package runtime

import (
	"reflect"
	"sync/atomic"

	"github.com/dop251/goja"

	"github.com/wippyai/js-runtime/engine"
	"github.com/wippyai/js-runtime/errors"
	"github.com/wippyai/js-runtime/marshal"
)

// ValueHandle is a host-side reference to an engine value, pinned in its
// context's root table. Valid and Unroot only touch the table lock; every
// dereferencing accessor takes the engine guard internally.
type ValueHandle struct {
	ctx      *Context
	slot     slot
	released atomic.Bool
}

// Context returns the context the handle is rooted in.
func (h *ValueHandle) Context() *Context {
	return h.ctx
}

// Valid reports whether the handle can still be dereferenced. It never
// blocks on the engine guard, so it is safe to call while another
// goroutine is evaluating.
func (h *ValueHandle) Valid() bool {
	if h.released.Load() {
		return false
	}
	if h.ctx.destroyed.Load() {
		return false
	}
	return h.ctx.roots.alive(h.slot)
}

// Unroot releases the handle's reference. Safe to call more than once;
// only the first call drops the count.
func (h *ValueHandle) Unroot() {
	if h.released.CompareAndSwap(false, true) {
		h.ctx.roots.release(h.slot)
	}
}

// Clone returns a new handle aliasing the same engine value with its own
// reference count. Unrooting the original does not invalidate the clone.
func (h *ValueHandle) Clone() (*ValueHandle, error) {
	if h.released.Load() {
		return nil, errors.UseAfterFree("clone")
	}
	if h.ctx.destroyed.Load() {
		return nil, errors.ContextDestroyed("clone")
	}
	if !h.ctx.roots.retain(h.slot) {
		return nil, errors.UseAfterFree("clone")
	}
	return &ValueHandle{ctx: h.ctx, slot: h.slot}, nil
}

// precheck mirrors deref's ordering without taking the guard, so a dead
// handle fails with the same error whether the runtime is live or already
// shut down.
func (h *ValueHandle) precheck(op string) error {
	if h.released.Load() {
		return errors.UseAfterFree(op)
	}
	if h.ctx.destroyed.Load() {
		return errors.ContextDestroyed(op)
	}
	return nil
}

// deref fetches the pinned engine value. Callers hold the guard.
func (h *ValueHandle) deref() (goja.Value, error) {
	if h.released.Load() {
		return nil, errors.UseAfterFree("deref")
	}
	if h.ctx.destroyed.Load() {
		return nil, errors.ContextDestroyed("deref")
	}
	v, ok := h.ctx.roots.get(h.slot)
	if !ok {
		return nil, errors.UseAfterFree("deref")
	}
	return v, nil
}

// Export converts the referenced value to its natural host representation.
func (h *ValueHandle) Export() (any, error) {
	if err := h.precheck("export"); err != nil {
		return nil, err
	}
	var out any
	err := h.ctx.rt.Enter(func(*Guard) error {
		v, err := h.deref()
		if err != nil {
			return err
		}
		out, err = marshal.FromEngine(v)
		return err
	})
	return out, err
}

// ExportTo converts the referenced value into target, which must be a
// non-nil pointer.
func (h *ValueHandle) ExportTo(target any) error {
	if err := h.precheck("export"); err != nil {
		return err
	}
	return h.ctx.rt.Enter(func(*Guard) error {
		v, err := h.deref()
		if err != nil {
			return err
		}
		return marshal.FromEngineAs(h.ctx.realm, v, target)
	})
}

// AsString returns the value as a string, erroring on any other type.
func (h *ValueHandle) AsString() (string, error) {
	v, err := h.Export()
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", errors.Conversion(nil, "string", typeName(v), "value is not a string")
	}
	return s, nil
}

// AsInt returns the value as an int64. Fractional numbers error rather
// than truncate.
func (h *ValueHandle) AsInt() (int64, error) {
	var n int64
	if err := h.ExportTo(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// AsFloat returns the value as a float64.
func (h *ValueHandle) AsFloat() (float64, error) {
	var f float64
	if err := h.ExportTo(&f); err != nil {
		return 0, err
	}
	return f, nil
}

// AsBool returns the value as a bool, erroring on any other type. No
// truthiness coercion happens here.
func (h *ValueHandle) AsBool() (bool, error) {
	v, err := h.Export()
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, errors.Conversion(nil, "bool", typeName(v), "value is not a boolean")
	}
	return b, nil
}

// AsObject returns the value's properties as a map.
func (h *ValueHandle) AsObject() (map[string]any, error) {
	v, err := h.Export()
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, errors.Conversion(nil, "map[string]any", typeName(v), "value is not an object")
	}
	return m, nil
}

// IsPromise reports whether the handle references a promise.
func (h *ValueHandle) IsPromise() bool {
	is := false
	_ = h.ctx.rt.Enter(func(*Guard) error {
		v, err := h.deref()
		if err != nil {
			return err
		}
		_, is = engine.AsPromise(v)
		return nil
	})
	return is
}

// IsFunction reports whether the handle references a callable value.
func (h *ValueHandle) IsFunction() bool {
	is := false
	_ = h.ctx.rt.Enter(func(*Guard) error {
		v, err := h.deref()
		if err != nil {
			return err
		}
		_, is = goja.AssertFunction(v)
		return nil
	})
	return is
}

// JSON renders the referenced value through the realm's JSON.stringify,
// mainly for display surfaces like the REPL.
func (h *ValueHandle) JSON() (string, error) {
	if err := h.precheck("json"); err != nil {
		return "", err
	}
	var out string
	err := h.ctx.rt.Enter(func(*Guard) error {
		v, err := h.deref()
		if err != nil {
			return err
		}
		jsonObj, ok := h.ctx.realm.Global("JSON").(*goja.Object)
		if !ok {
			return errors.InvalidInput(errors.PhaseEval, "realm has no JSON global")
		}
		res, err := h.ctx.realm.CallFunction(jsonObj.Get("stringify"), "json", v)
		if err != nil {
			return err
		}
		out = res.String()
		return nil
	})
	return out, err
}

func typeName(v any) string {
	if v == nil {
		return "null"
	}
	return reflect.TypeOf(v).String()
}
