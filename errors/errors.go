package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseInit     Phase = "init"     // engine initialization
	PhaseCompile  Phase = "compile"  // script compilation
	PhaseEval     Phase = "eval"     // script evaluation
	PhaseModule   Phase = "module"   // module resolution and loading
	PhaseMarshal  Phase = "marshal"  // host <-> engine value conversion
	PhaseHandle   Phase = "handle"   // value handle operations
	PhaseJob      Phase = "job"      // job queue and draining
	PhaseShutdown Phase = "shutdown" // runtime teardown
)

// Kind categorizes the error
type Kind string

const (
	KindEngineInit       Kind = "engine_init"
	KindBusy             Kind = "busy"
	KindSyntax           Kind = "syntax"
	KindThrow            Kind = "throw"
	KindNotFound         Kind = "not_found"
	KindCycle            Kind = "cycle"
	KindContextDestroyed Kind = "context_destroyed"
	KindUseAfterFree     Kind = "use_after_free"
	KindConversion       Kind = "conversion"
	KindUnsupported      Kind = "unsupported"
	KindOverflow         Kind = "overflow"
	KindInvalidInput     Kind = "invalid_input"
	KindTimeout          Kind = "timeout"
	KindShutdown         Kind = "shutdown"
)

// Error is the structured error type used throughout the bridge
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Origin string
	GoType string
	JSType string
	Detail string
	Path   []string
	Line   int
	Column int
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Origin != "" {
		b.WriteString(" at ")
		b.WriteString(e.Origin)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
		}
	}

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.GoType != "" || e.JSType != "" {
		b.WriteString(": ")
		if e.GoType != "" && e.JSType != "" {
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
			b.WriteString(", JS type ")
			b.WriteString(e.JSType)
		} else if e.GoType != "" {
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
		} else {
			b.WriteString("JS type ")
			b.WriteString(e.JSType)
		}
	}

	if e.Detail != "" {
		if e.GoType != "" || e.JSType != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Origin sets the script origin label
func (b *Builder) Origin(origin string) *Builder {
	b.err.Origin = origin
	return b
}

// Position sets the source position within the origin
func (b *Builder) Position(line, column int) *Builder {
	b.err.Line = line
	b.err.Column = column
	return b
}

// GoType sets the Go type name
func (b *Builder) GoType(t string) *Builder {
	b.err.GoType = t
	return b
}

// JSType sets the JS type name
func (b *Builder) JSType(t string) *Builder {
	b.err.JSType = t
	return b
}

// Value sets the offending or thrown value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// EngineInit creates an engine initialization error
func EngineInit(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseInit,
		Kind:   KindEngineInit,
		Detail: detail,
		Cause:  cause,
	}
}

// Busy creates an error for a guard that is held elsewhere
func Busy(what string) *Error {
	return &Error{
		Phase:  PhaseEval,
		Kind:   KindBusy,
		Detail: fmt.Sprintf("engine busy: %s", what),
	}
}

// Syntax creates a compile error with source position
func Syntax(origin string, line, column int, detail string) *Error {
	return &Error{
		Phase:  PhaseCompile,
		Kind:   KindSyntax,
		Origin: origin,
		Line:   line,
		Column: column,
		Detail: detail,
	}
}

// Throw creates an error for an exception thrown by script.
// value carries the host-converted thrown value.
func Throw(origin string, value any, detail string) *Error {
	return &Error{
		Phase:  PhaseEval,
		Kind:   KindThrow,
		Origin: origin,
		Value:  value,
		Detail: detail,
	}
}

// ModuleNotFound creates a module resolution error
func ModuleNotFound(path string, cause error) *Error {
	return &Error{
		Phase:  PhaseModule,
		Kind:   KindNotFound,
		Origin: path,
		Detail: fmt.Sprintf("module %q not found", path),
		Cause:  cause,
	}
}

// Cycle creates an import cycle error. chain lists the normalized module
// paths along the cycle, ending at the module that closed it.
func Cycle(chain []string) *Error {
	return &Error{
		Phase:  PhaseModule,
		Kind:   KindCycle,
		Path:   chain,
		Detail: fmt.Sprintf("import cycle: %s", strings.Join(chain, " -> ")),
	}
}

// ContextDestroyed creates an error for operations on a destroyed context
func ContextDestroyed(op string) *Error {
	return &Error{
		Phase:  PhaseHandle,
		Kind:   KindContextDestroyed,
		Detail: fmt.Sprintf("%s on destroyed context", op),
	}
}

// UseAfterFree creates an error for a handle used after release
func UseAfterFree(op string) *Error {
	return &Error{
		Phase:  PhaseHandle,
		Kind:   KindUseAfterFree,
		Detail: fmt.Sprintf("%s on released handle", op),
	}
}

// Conversion creates a conversion failure error
func Conversion(path []string, goType, jsType, detail string) *Error {
	return &Error{
		Phase:  PhaseMarshal,
		Kind:   KindConversion,
		Path:   path,
		GoType: goType,
		JSType: jsType,
		Detail: detail,
	}
}

// Unsupported creates an unsupported type or operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// Overflow creates an overflow error for values outside the engine's safe range
func Overflow(path []string, value any, targetType string) *Error {
	return &Error{
		Phase:  PhaseMarshal,
		Kind:   KindOverflow,
		Path:   path,
		GoType: targetType,
		Detail: fmt.Sprintf("value %v outside safe range of %s", value, targetType),
		Value:  value,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Timeout creates a deadline error
func Timeout(what string) *Error {
	return &Error{
		Phase:  PhaseJob,
		Kind:   KindTimeout,
		Detail: fmt.Sprintf("timed out waiting for %s", what),
	}
}

// Shutdown creates an error for operations on a shut-down runtime
func Shutdown(op string) *Error {
	return &Error{
		Phase:  PhaseShutdown,
		Kind:   KindShutdown,
		Detail: fmt.Sprintf("%s after shutdown", op),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
