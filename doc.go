// Package lightbridge is the asynchronous execution bridge that runs a
// blockchain light-client engine inside a single-threaded sandbox.
//
// The sandbox has no threads, sockets or timers of its own. Every wait is
// delegated to the host, which later reports completion through a callback.
// This module turns those one-way callbacks into cooperative task wake-ups
// and multiplexes JSON-RPC traffic between the host and the engine.
//
// # Architecture Overview
//
// The module is organized into several packages with distinct responsibilities:
//
//	lightbridge/        Root package with the linear Memory and Allocator interfaces
//	├── alloc/          Allocator shim: free-list arena over linear memory
//	├── resource/       Generational handle tables
//	├── executor/       Cooperative single-threaded task executor
//	├── pending/        Pending-operation table and wake bridge
//	├── rpc/            JSON-RPC request/response/subscription multiplexer
//	├── engine/         Engine adapter: reference light client
//	├── bridge/         The four host entry points wired together
//	├── host/           Go implementation of the embedding host
//	├── config/         YAML configuration
//	├── errors/         Structured error types
//	├── internal/logging  zap logger construction with file rotation
//	└── cmd/lightbridge   Line-oriented and interactive JSON-RPC console
//
// # Host Loop
//
// The host drives the bridge through four calls:
//
//	b := bridge.New(engine.DefaultConfig())
//	defer b.Close()
//
//	b.Ingest(`{"jsonrpc":"2.0","id":1,"method":"chain_getHeader","params":[]}`)
//	b.RunUntilIdle()
//	for _, req := range b.HostRequests() {
//	    // perform req.Kind with req.Params, then later:
//	    b.Resolve(req.Handle, payload, nil)
//	}
//	b.RunUntilIdle()
//	for resp := range b.DrainResponses() {
//	    fmt.Println(resp)
//	}
//
// # Thread Safety
//
// Nothing in the bridge is safe for concurrent use. The sandbox has exactly
// one thread of control; hosts that complete operations on other goroutines
// must funnel completions back onto the loop goroutine (see package host).
//
// # Memory Model
//
// Linear memory can only grow, never shrink. Result payloads delivered by the
// host are staged in linear memory and released once the waiting task takes
// them. Exhausting linear memory is fatal.
package lightbridge
