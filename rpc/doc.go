// Package rpc multiplexes JSON-RPC 2.0 traffic onto executor tasks.
//
// Ingest parses request text, validates it, and spawns one task per call
// through the Engine. Engine tasks answer through their Call: Reply or Fail
// for single-shot methods, Notify for subscriptions. Answers are queued as
// text and pulled by the host with DrainResponses.
//
// Every call reaches a terminal, observable state: a task that finishes
// without answering, panics, or is cancelled is answered with an error.
//
// Subscription methods answer immediately with a generated subscription id.
// Events are emitted as notifications tagged with that id:
//
//	{"jsonrpc":"2.0","method":"chain_newHead","params":{"subscription":"…","result":{…}}}
package rpc
