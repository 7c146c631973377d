// Package errors provides structured error types for the bridge.
//
// Errors are categorized by Phase (which entry point or subsystem produced the
// error) and Kind (error category). The Error type carries the operation it
// concerns, a field path for request validation failures and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseResolve, errors.KindHostContract).
//		Op("timer").
//		Value(handle).
//		Detail("handle resolved twice").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.HostContract("resolve of unknown handle", handle)
//	err := errors.Malformed([]string{"params", "0"}, "expected string")
//
// The taxonomy follows the bridge's containment rules: host contract
// violations are logged and ignored, malformed requests and engine errors
// become per-request JSON-RPC errors, allocation failures are fatal.
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
