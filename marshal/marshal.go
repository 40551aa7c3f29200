package marshal

import (
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/dop251/goja"

	jsruntime "github.com/wippyai/js-runtime"
	"github.com/wippyai/js-runtime/engine"
	"github.com/wippyai/js-runtime/errors"
)

// MaxSafeInteger is the largest integer the engine can represent exactly.
const MaxSafeInteger = int64(1)<<53 - 1

// MinSafeInteger is the smallest integer the engine can represent exactly.
const MinSafeInteger = -(int64(1)<<53 - 1)

// Reenter runs fn under the runtime's exclusive guard. The marshalling
// layer never acquires the guard itself; the runtime supplies this when
// binding callables.
type Reenter func(fn func() error) error

type options struct {
	lossy   bool
	reenter Reenter
}

// Option configures a conversion.
type Option func(*options)

// Lossy permits integers outside the engine's safe range to degrade to
// float64 instead of failing with an overflow error.
func Lossy() Option {
	return func(o *options) { o.lossy = true }
}

// WithReenter supplies the guard re-entry used by callable trampolines.
func WithReenter(re Reenter) Option {
	return func(o *options) { o.reenter = re }
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// descriptor is one conversion rule from a host type tag to an engine
// representation. The table is stateless; converters carry per-call state.
type descriptor func(c *converter, rv reflect.Value, path []string) (goja.Value, error)

var descriptors map[reflect.Kind]descriptor

func init() {
	descriptors = map[reflect.Kind]descriptor{
		reflect.Bool:    lowerBool,
		reflect.Int:     lowerInt,
		reflect.Int8:    lowerInt,
		reflect.Int16:   lowerInt,
		reflect.Int32:   lowerInt,
		reflect.Int64:   lowerInt,
		reflect.Uint:    lowerUint,
		reflect.Uint8:   lowerUint,
		reflect.Uint16:  lowerUint,
		reflect.Uint32:  lowerUint,
		reflect.Uint64:  lowerUint,
		reflect.Float32: lowerFloat,
		reflect.Float64: lowerFloat,
		reflect.String:  lowerString,
		reflect.Slice:   lowerSlice,
		reflect.Array:   lowerSlice,
		reflect.Map:     lowerMap,
		reflect.Struct:  lowerStruct,
		reflect.Pointer: lowerPointer,
	}
}

type converter struct {
	realm *engine.Realm
	opts  options
}

// ToEngine converts a host value to an engine value. Callers must hold the
// runtime guard for the realm.
func ToEngine(r *engine.Realm, v any, opts ...Option) (goja.Value, error) {
	c := &converter{realm: r, opts: buildOptions(opts)}
	return c.lower(v, nil)
}

func (c *converter) lower(v any, path []string) (goja.Value, error) {
	switch tv := v.(type) {
	case nil:
		return goja.Null(), nil
	case goja.Value:
		return tv, nil
	case jsruntime.HostFunc:
		return bindCallable(c.realm, tv, c.opts), nil
	case func(args ...any) (any, error):
		return bindCallable(c.realm, tv, c.opts), nil
	}

	rv := reflect.ValueOf(v)
	desc, ok := descriptors[rv.Kind()]
	if !ok {
		return nil, errors.New(errors.PhaseMarshal, errors.KindUnsupported).
			Path(path...).
			GoType(rv.Type().String()).
			Detail("no engine representation for this type").
			Build()
	}
	return desc(c, rv, path)
}

func lowerBool(c *converter, rv reflect.Value, _ []string) (goja.Value, error) {
	return c.realm.VM().ToValue(rv.Bool()), nil
}

func lowerInt(c *converter, rv reflect.Value, path []string) (goja.Value, error) {
	n := rv.Int()
	if n > MaxSafeInteger || n < MinSafeInteger {
		if !c.opts.lossy {
			return nil, errors.Overflow(path, n, "number")
		}
		return c.realm.VM().ToValue(float64(n)), nil
	}
	return c.realm.VM().ToValue(n), nil
}

func lowerUint(c *converter, rv reflect.Value, path []string) (goja.Value, error) {
	n := rv.Uint()
	if n > uint64(MaxSafeInteger) {
		if !c.opts.lossy {
			return nil, errors.Overflow(path, n, "number")
		}
		return c.realm.VM().ToValue(float64(n)), nil
	}
	return c.realm.VM().ToValue(int64(n)), nil
}

func lowerFloat(c *converter, rv reflect.Value, _ []string) (goja.Value, error) {
	return c.realm.VM().ToValue(rv.Float()), nil
}

func lowerString(c *converter, rv reflect.Value, _ []string) (goja.Value, error) {
	return c.realm.VM().ToValue(rv.String()), nil
}

func lowerSlice(c *converter, rv reflect.Value, path []string) (goja.Value, error) {
	if rv.Kind() == reflect.Slice && rv.IsNil() {
		return goja.Null(), nil
	}
	elems := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		ev, err := c.lower(rv.Index(i).Interface(), append(path, fmt.Sprintf("[%d]", i)))
		if err != nil {
			return nil, err
		}
		elems[i] = ev
	}
	// NewArray builds a native engine array, so exporting it later yields
	// plain host values rather than the wrapped Go slice.
	return c.realm.VM().NewArray(elems...), nil
}

func lowerMap(c *converter, rv reflect.Value, path []string) (goja.Value, error) {
	if rv.Type().Key().Kind() != reflect.String {
		return nil, errors.New(errors.PhaseMarshal, errors.KindUnsupported).
			Path(path...).
			GoType(rv.Type().String()).
			Detail("map keys must be strings").
			Build()
	}
	if rv.IsNil() {
		return goja.Null(), nil
	}
	obj := c.realm.VM().NewObject()
	iter := rv.MapRange()
	for iter.Next() {
		key := iter.Key().String()
		ev, err := c.lower(iter.Value().Interface(), append(path, key))
		if err != nil {
			return nil, err
		}
		if err := obj.Set(key, ev); err != nil {
			return nil, errors.Wrap(errors.PhaseMarshal, errors.KindConversion, err, "set property "+key)
		}
	}
	return obj, nil
}

// lowerStruct walks exported fields through the conversion table, so the
// safe-integer policy holds inside records too. Field names follow json
// tags; embedded structs without a tag flatten into the enclosing object.
func lowerStruct(c *converter, rv reflect.Value, path []string) (goja.Value, error) {
	obj := c.realm.VM().NewObject()
	if err := c.lowerFields(obj, rv, path); err != nil {
		return nil, err
	}
	return obj, nil
}

func (c *converter) lowerFields(obj *goja.Object, rv reflect.Value, path []string) error {
	t := rv.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" {
			continue
		}
		tag := f.Tag.Get("json")
		if f.Anonymous && tag == "" && f.Type.Kind() == reflect.Struct {
			if err := c.lowerFields(obj, rv.Field(i), path); err != nil {
				return err
			}
			continue
		}
		name, ok := fieldName(f, tag)
		if !ok {
			continue
		}
		ev, err := c.lower(rv.Field(i).Interface(), append(path, name))
		if err != nil {
			return err
		}
		if err := obj.Set(name, ev); err != nil {
			return errors.Wrap(errors.PhaseMarshal, errors.KindConversion, err, "set field "+name)
		}
	}
	return nil
}

func fieldName(f reflect.StructField, tag string) (string, bool) {
	if tag == "" {
		return f.Name, true
	}
	if tag == "-" {
		return "", false
	}
	name := tag
	if i := strings.IndexByte(tag, ','); i >= 0 {
		name = tag[:i]
	}
	if name == "" {
		return f.Name, true
	}
	return name, true
}

func lowerPointer(c *converter, rv reflect.Value, path []string) (goja.Value, error) {
	if rv.IsNil() {
		return goja.Null(), nil
	}
	return c.lower(rv.Elem().Interface(), path)
}

// FromEngine converts an engine value to a host value using the engine's
// natural export mapping: numbers become int64 when integral and float64
// otherwise, objects become map[string]any, arrays become []any.
func FromEngine(v goja.Value) (any, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	if _, ok := engine.AsPromise(v); ok {
		return nil, errors.New(errors.PhaseMarshal, errors.KindUnsupported).
			JSType("Promise").
			Detail("promise values must be awaited, not exported").
			Build()
	}
	exported := v.Export()
	switch exported.(type) {
	case bool, string, int64, float64, map[string]any, []any:
		return exported, nil
	}
	// Anything else (functions, symbols, host objects round-tripping) is
	// surfaced as-is for the caller to inspect.
	return exported, nil
}

// FromEngineAs converts an engine value into target, which must be a
// non-nil pointer. Integer targets reject fractional numbers instead of
// truncating.
func FromEngineAs(r *engine.Realm, v goja.Value, target any) error {
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return errors.InvalidInput(errors.PhaseMarshal, "target must be a non-nil pointer")
	}

	if isIntegerKind(rv.Elem().Kind()) && v != nil {
		f := v.ToFloat()
		if !math.IsNaN(f) && f != math.Trunc(f) {
			return errors.Conversion(nil, rv.Elem().Type().String(), "number",
				fmt.Sprintf("value %v has a fractional part", f))
		}
	}

	if err := r.VM().ExportTo(v, target); err != nil {
		return errors.New(errors.PhaseMarshal, errors.KindConversion).
			GoType(rv.Elem().Type().String()).
			Cause(err).
			Detail("cannot export engine value").
			Build()
	}
	return nil
}

func isIntegerKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}
