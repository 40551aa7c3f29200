package jsruntime

// HostFunc is a host function exposed to scripts.
// Arguments arrive already converted to host values; the returned value is
// converted back to an engine value. A returned error surfaces in the script
// as a thrown exception.
type HostFunc func(args ...any) (any, error)

// RejectionHandler receives unhandled promise rejections and job failures
// observed during a drain. The value is the host-converted rejection reason
// (or the job error). Handlers must not block; they run under the engine
// guard.
type RejectionHandler func(origin string, value any)
