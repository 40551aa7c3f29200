// Package marshal converts between host values and engine values.
//
// Conversion is bidirectional and stateless beyond the descriptor table:
//
//	┌───────────────────────────────────────────────────────┐
//	│ Go Value  ←→  [marshal]  ←→  engine value (goja)      │
//	└───────────────────────────────────────────────────────┘
//
// # Type Mapping
//
//	Go Type            Engine Type
//	────────────────────────────────
//	bool               boolean
//	int*/uint*         number (safe-integer checked)
//	float32/float64    number
//	string             string
//	[]T                array
//	map[string]T       object
//	struct{...}        object (json tags)
//	*T                 value or null
//	nil                null
//	jsruntime.HostFunc function (guard-reentrant trampoline)
//
// # Numeric Safety
//
// The engine represents numbers as IEEE-754 doubles. Host integers outside
// ±(2^53 - 1) cannot round-trip; converting one fails with an overflow
// error by default. Pass Lossy() to opt in to float64 degradation instead.
// Conversions from engine numbers into host integer targets reject values
// with a fractional part rather than truncating silently.
//
// # Callables
//
// A HostFunc exposed to the engine is wrapped in a trampoline. Engine-side
// calls re-enter the runtime's exclusive guard through the supplied Reenter
// before touching host state, and a host error propagates into the engine
// as a thrown exception.
package marshal
