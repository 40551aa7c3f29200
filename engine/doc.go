// Package engine provides the low-level goja integration for the bridge.
//
// The engine is treated as a black box: this package is the only place that
// talks to goja directly. It exposes exactly what the higher layers need
// from the wrapped VM:
//
//   - global environment creation (Realm)
//   - script compilation and execution with origin labels
//   - promise construction and inspection
//   - unhandled-rejection tracking
//   - exception retrieval with source positions
//
// A Realm wraps one goja.Runtime: one isolated global scope with its own
// require registry and console binding. Realms are created through an
// Engine, which carries shared configuration.
//
// # Thread Safety
//
// goja runtimes are single-threaded by contract. Nothing in this package
// synchronizes access; the runtime package's exclusive guard is the only
// thing allowed to call into a Realm.
package engine
