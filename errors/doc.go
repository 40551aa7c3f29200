// Package errors provides structured error types for the js-runtime library.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error
// category). The Error type includes rich context: script origin with source
// position when available, the thrown or offending value, Go/JS type names,
// and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseMarshal, errors.KindConversion).
//		Path("user", "age").
//		GoType("chan int").
//		JSType("number").
//		Detail("cannot convert channel to engine value").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.Syntax("boot.js", 3, 14, "unexpected token")
//	err := errors.Throw("boot.js", thrown, "Error: boom")
//	err := errors.ContextDestroyed("evaluate")
//
// All errors implement the standard error interface and support errors.Is/As.
// Matching with errors.Is compares Phase and Kind only, so callers can test
// for a category without caring about context:
//
//	if errors.Is(err, &errors.Error{Phase: errors.PhaseModule, Kind: errors.KindCycle}) {
//	    // import cycle
//	}
package errors
