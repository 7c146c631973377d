package rpc

import "github.com/wippyai/lightbridge/executor"

// MethodKind says how the multiplexer routes a method.
type MethodKind uint8

const (
	// MethodCall produces exactly one response.
	MethodCall MethodKind = iota
	// MethodSubscribe answers with a subscription id and then streams
	// notifications until unsubscribed.
	MethodSubscribe
	// MethodUnsubscribe cancels a subscription. It is handled by the
	// multiplexer and never reaches Serve.
	MethodUnsubscribe
)

// MethodInfo describes one engine method.
type MethodInfo struct {
	Name string
	// Notification is the method name of events for MethodSubscribe.
	Notification string
	// Unsubscribe is the paired unsubscribe method for MethodSubscribe.
	Unsubscribe string
	Kind        MethodKind
}

// Engine services JSON-RPC calls as executor tasks.
type Engine interface {
	// Method looks up a method by name.
	Method(name string) (MethodInfo, bool)
	// Serve builds the task servicing call. The task answers through
	// call.Reply, call.Fail or, for subscriptions, call.Notify. Returning an
	// error answers the call immediately without spawning anything.
	Serve(call *Call) (executor.Task, error)
}
