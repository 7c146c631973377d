package rpc

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/wippyai/lightbridge/errors"
	"github.com/wippyai/lightbridge/executor"
)

type endReason uint8

const (
	endNone endReason = iota
	endSession
	endUnsubscribed
)

// Call is one open JSON-RPC request as seen by the engine task servicing it.
type Call struct {
	mux          *Mux
	info         MethodInfo
	id           json.RawMessage
	params       json.RawMessage
	subscription string
	task         executor.TaskID
	events       uint64
	reason       endReason
	closed       bool
}

// ID returns the request id as received.
func (c *Call) ID() json.RawMessage { return c.id }

// Method returns the method name.
func (c *Call) Method() string { return c.info.Name }

// Params returns the raw params member.
func (c *Call) Params() json.RawMessage { return c.params }

// Subscription returns the subscription id, or "" for single-shot calls.
func (c *Call) Subscription() string { return c.subscription }

// Closed reports whether the call reached a terminal state.
func (c *Call) Closed() bool { return c.closed }

// DecodeParams unmarshals the params member into v. Absent params leave v
// untouched.
func (c *Call) DecodeParams(v any) error {
	if len(c.params) == 0 || string(c.params) == "null" {
		return nil
	}
	if err := json.Unmarshal(c.params, v); err != nil {
		return errors.Wrap(errors.PhaseIngest, errors.KindInvalidInput, err, "invalid params")
	}
	return nil
}

// Reply answers a single-shot call. Only the first answer is emitted.
func (c *Call) Reply(result any) {
	if c.info.Kind == MethodSubscribe {
		Logger().Warn("reply on subscription ignored",
			zap.String("method", c.info.Name),
			zap.String("subscription", c.subscription))
		return
	}
	if c.closed {
		Logger().Warn("duplicate reply ignored",
			zap.String("method", c.info.Name),
			zap.ByteString("id", c.id))
		return
	}
	raw, err := json.Marshal(result)
	if err != nil {
		c.mux.respondError(c.id, ErrorFrom(errors.Engine(c.info.Name, "result not serializable", err)))
	} else {
		c.mux.respond(c.id, raw)
	}
	c.mux.close(c)
}

// Fail answers the call with an error. On a subscription the error is
// delivered as a final notification and the subscription ends.
func (c *Call) Fail(err error) {
	if c.closed {
		return
	}
	obj := ErrorFrom(err)
	if c.info.Kind == MethodSubscribe {
		c.mux.notify(c, NotificationParams{Subscription: c.subscription, Error: obj})
	} else {
		c.mux.respondError(c.id, obj)
	}
	c.mux.close(c)
}

// Notify emits one subscription event. Events are queued in call order.
func (c *Call) Notify(event any) {
	if c.info.Kind != MethodSubscribe || c.closed {
		return
	}
	raw, err := json.Marshal(event)
	if err != nil {
		Logger().Error("subscription event not serializable",
			zap.String("subscription", c.subscription),
			zap.Error(err))
		return
	}
	c.events++
	c.mux.notify(c, NotificationParams{Subscription: c.subscription, Result: raw})
}

// callTask wraps an engine task so every call reaches a terminal state,
// whatever way the task ends.
type callTask struct {
	inner executor.Task
	call  *Call
}

func (t *callTask) Poll(cx *executor.Context) executor.Outcome {
	if t.call.closed {
		return executor.Done
	}
	out := t.inner.Poll(cx)
	if out == executor.Done {
		t.finished()
	}
	// an answered single-shot call has nothing left to do
	if t.call.closed {
		return executor.Done
	}
	return out
}

func (t *callTask) finished() {
	c := t.call
	if c.closed {
		return
	}
	if c.info.Kind == MethodSubscribe {
		Logger().Debug("subscription ended by engine",
			zap.String("subscription", c.subscription),
			zap.Uint64("events", c.events))
		c.mux.close(c)
		return
	}
	c.Fail(errors.Engine(c.info.Name, "method finished without a result", nil))
}

func (t *callTask) OnCancel() {
	if cc, ok := t.inner.(executor.Canceller); ok {
		cc.OnCancel()
	}
	c := t.call
	if c.closed {
		return
	}
	switch {
	case c.info.Kind == MethodSubscribe:
		c.mux.close(c)
	case c.reason == endSession:
		c.mux.respondError(c.id, newError(CodeSessionEnded, "session ended"))
		c.mux.close(c)
	default:
		c.Fail(errors.New(errors.PhaseDrive, errors.KindCancelled).Detail("request cancelled").Build())
	}
}

func (t *callTask) OnPanic(recovered any) {
	c := t.call
	if c.closed {
		return
	}
	Logger().Error("engine task panicked",
		zap.String("method", c.info.Name),
		zap.Any("panic", recovered))
	c.Fail(&ErrorObject{Code: CodeInternalError, Message: "internal error"})
}
