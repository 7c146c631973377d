package rpc

import (
	"bytes"
	"cmp"
	"encoding/json"
	"iter"
	"slices"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wippyai/lightbridge/errors"
	"github.com/wippyai/lightbridge/executor"
)

// Stats holds multiplexer counters.
type Stats struct {
	Requests      uint64
	Rejected      uint64
	Responses     uint64
	Notifications uint64
}

// Mux routes JSON-RPC requests to engine tasks and queues what they answer.
// Mux is not safe for concurrent use.
type Mux struct {
	exec   *executor.Executor
	engine Engine
	open   map[string]*Call
	subs   map[string]*Call
	// subIDs maps the request id of each live subscription to its
	// subscription id; the request id stays in use until it ends.
	subIDs map[string]string
	newID  func() string
	out    []string
	stats  Stats
	ended  bool
}

// Option configures a Mux.
type Option func(*Mux)

// WithSubscriptionIDs replaces the subscription id generator.
func WithSubscriptionIDs(gen func() string) Option {
	return func(m *Mux) { m.newID = gen }
}

// New creates a multiplexer spawning call tasks on exec.
func New(exec *executor.Executor, engine Engine, opts ...Option) *Mux {
	m := &Mux{
		exec:   exec,
		engine: engine,
		open:   make(map[string]*Call),
		subs:   make(map[string]*Call),
		subIDs: make(map[string]string),
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Ingest parses one request or a batch of requests. Every problem with the
// input is answered with an error response queued for DrainResponses; the
// returned error reports the first such problem to the caller and does not
// affect other calls.
func (m *Mux) Ingest(text string) error {
	data := bytes.TrimSpace([]byte(text))
	if len(data) > 0 && data[0] == '[' {
		var batch []json.RawMessage
		if err := json.Unmarshal(data, &batch); err != nil {
			return m.reject(nullID, newError(CodeParseError, "parse error"), err)
		}
		if len(batch) == 0 {
			return m.reject(nullID, newError(CodeInvalidRequest, "empty batch"), nil)
		}
		var first error
		for _, item := range batch {
			if err := m.ingestOne(item); err != nil && first == nil {
				first = err
			}
		}
		return first
	}
	return m.ingestOne(data)
}

func (m *Mux) ingestOne(data []byte) error {
	m.stats.Requests++

	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		if _, ok := err.(*json.SyntaxError); ok || !json.Valid(data) {
			return m.reject(nullID, newError(CodeParseError, "parse error"), err)
		}
		// valid JSON of the wrong shape
		return m.reject(salvageID(data), newError(CodeInvalidRequest, "invalid request"), err)
	}

	if len(req.ID) == 0 {
		return m.reject(nullID, newError(CodeInvalidRequest, "missing id"), nil)
	}
	if !validID(req.ID) {
		return m.reject(nullID, newError(CodeInvalidRequest, "id must be a string, number or null"), nil)
	}
	if req.JSONRPC != "" && req.JSONRPC != Version {
		return m.reject(req.ID, newError(CodeInvalidRequest, "unsupported jsonrpc version"), nil)
	}
	if req.Method == "" {
		return m.reject(req.ID, newError(CodeInvalidRequest, "missing method"), nil)
	}
	if !validParams(req.Params) {
		return m.reject(req.ID, newError(CodeInvalidParams, "params must be an array or an object"), nil)
	}
	if m.ended {
		return m.reject(req.ID, newError(CodeSessionEnded, "session ended"), nil)
	}
	key := string(req.ID)
	_, busy := m.open[key]
	if _, live := m.subIDs[key]; busy || live {
		return m.reject(req.ID, newError(CodeDuplicateID, "request id already in use"), nil)
	}

	info, ok := m.engine.Method(req.Method)
	if !ok {
		return m.reject(req.ID, newError(CodeMethodNotFound, "method not found: "+req.Method), nil)
	}

	if info.Kind == MethodUnsubscribe {
		m.unsubscribe(req)
		return nil
	}

	call := &Call{mux: m, info: info, id: req.ID, params: req.Params}
	if info.Kind == MethodSubscribe {
		call.subscription = m.newID()
	}

	task, err := m.engine.Serve(call)
	if err != nil {
		m.respondError(req.ID, ErrorFrom(err))
		return nil
	}

	if info.Kind == MethodSubscribe {
		raw, _ := json.Marshal(call.subscription)
		m.respond(req.ID, raw)
		m.subs[call.subscription] = call
		m.subIDs[key] = call.subscription
	} else {
		m.open[key] = call
	}
	call.task = m.exec.Spawn(&callTask{inner: task, call: call})

	Logger().Debug("call opened",
		zap.String("method", info.Name),
		zap.ByteString("id", req.ID),
		zap.Uint64("task", uint64(call.task)),
		zap.String("subscription", call.subscription))
	return nil
}

// salvageID recovers the id of a request object whose other members have
// the wrong type. It returns null when the id itself is unusable.
func salvageID(data []byte) json.RawMessage {
	var head struct {
		ID json.RawMessage `json:"id"`
	}
	if json.Unmarshal(data, &head) != nil || len(head.ID) == 0 || !validID(head.ID) {
		return nullID
	}
	return head.ID
}

func (m *Mux) unsubscribe(req Request) {
	var params []string
	if err := json.Unmarshal(req.Params, &params); err != nil || len(params) != 1 {
		m.respondError(req.ID, newError(CodeInvalidParams, "expected [subscription id]"))
		return
	}
	call, ok := m.subs[params[0]]
	if !ok || call.info.Unsubscribe != req.Method {
		m.respond(req.ID, json.RawMessage("false"))
		return
	}
	call.reason = endUnsubscribed
	m.exec.Cancel(call.task)
	m.close(call)
	m.respond(req.ID, json.RawMessage("true"))
}

// EndSession ends every open call. Single-shot calls are answered with a
// session-ended error; subscriptions stop. Later requests are rejected.
func (m *Mux) EndSession() {
	if m.ended {
		return
	}
	m.ended = true

	calls := make([]*Call, 0, len(m.open)+len(m.subs))
	for _, c := range m.open {
		calls = append(calls, c)
	}
	for _, c := range m.subs {
		calls = append(calls, c)
	}
	slices.SortFunc(calls, func(a, b *Call) int {
		return cmp.Compare(a.task, b.task)
	})
	for _, c := range calls {
		c.reason = endSession
		m.exec.Cancel(c.task)
	}
	Logger().Debug("session ended", zap.Int("calls", len(calls)))
}

// DrainResponses yields the queued output, oldest first, until the queue
// is empty. It never blocks; call it again for output queued later.
func (m *Mux) DrainResponses() iter.Seq[string] {
	return func(yield func(string) bool) {
		for len(m.out) > 0 {
			s := m.out[0]
			m.out[0] = ""
			m.out = m.out[1:]
			if !yield(s) {
				return
			}
		}
		m.out = nil
	}
}

// Pending returns the number of queued responses.
func (m *Mux) Pending() int {
	return len(m.out)
}

// Open returns the number of open single-shot calls.
func (m *Mux) Open() int {
	return len(m.open)
}

// Subscriptions returns the number of live subscriptions.
func (m *Mux) Subscriptions() int {
	return len(m.subs)
}

// Ended reports whether EndSession was called.
func (m *Mux) Ended() bool {
	return m.ended
}

// Stats returns multiplexer counters.
func (m *Mux) Stats() Stats {
	return m.stats
}

func (m *Mux) reject(id json.RawMessage, obj *ErrorObject, cause error) error {
	m.stats.Rejected++
	m.respondError(id, obj)
	Logger().Debug("request rejected",
		zap.ByteString("id", id),
		zap.Int("code", obj.Code),
		zap.String("reason", obj.Message),
		zap.Error(cause))

	b := errors.New(errors.PhaseIngest, errors.KindMalformedRequest).
		Detail("%s", obj.Message).
		Value(obj.Code)
	if cause != nil {
		b = b.Cause(cause)
	}
	return b.Build()
}

func (m *Mux) respond(id, result json.RawMessage) {
	m.emit(Response{JSONRPC: Version, ID: id, Result: result})
}

func (m *Mux) respondError(id json.RawMessage, obj *ErrorObject) {
	m.emit(Response{JSONRPC: Version, ID: id, Error: obj})
}

func (m *Mux) notify(c *Call, params NotificationParams) {
	m.stats.Notifications++
	m.push(Notification{JSONRPC: Version, Method: c.info.Notification, Params: params})
}

func (m *Mux) emit(r Response) {
	m.stats.Responses++
	m.push(r)
}

func (m *Mux) push(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		// only engine-supplied error data can fail here
		Logger().Error("response not serializable", zap.Error(err))
		return
	}
	m.out = append(m.out, string(data))
}

func (m *Mux) close(c *Call) {
	if c.closed {
		return
	}
	c.closed = true
	if c.subscription != "" {
		delete(m.subs, c.subscription)
		delete(m.subIDs, string(c.id))
	} else {
		delete(m.open, string(c.id))
	}
}
