package pending

import (
	"go.uber.org/zap"

	"github.com/wippyai/lightbridge/alloc"
	"github.com/wippyai/lightbridge/errors"
	"github.com/wippyai/lightbridge/executor"
	"github.com/wippyai/lightbridge/resource"
)

// Handle identifies a pending operation across the host boundary.
type Handle = resource.Handle

var (
	// ErrUnknownHandle is returned by Resolve for a handle never issued.
	ErrUnknownHandle = errors.New(errors.PhaseResolve, errors.KindHostContract).
				Detail("unknown handle").Build()
	// ErrStaleHandle is returned by Resolve for an abandoned or consumed handle.
	ErrStaleHandle = errors.New(errors.PhaseResolve, errors.KindHostContract).
			Detail("stale handle").Build()
	// ErrAlreadyResolved is returned by Resolve for a handle resolved twice.
	ErrAlreadyResolved = errors.New(errors.PhaseResolve, errors.KindHostContract).
				Detail("handle already resolved").Build()
)

// Waker makes a task runnable again. *executor.Executor implements it.
type Waker interface {
	Wake(id executor.TaskID) bool
}

// Request is an instruction to the host: perform an operation and resolve
// Handle exactly once, or (Cancel set) stop working on Handle.
// Handle is 0 for fire-and-forget notifications that must not be resolved.
type Request struct {
	Params any    `json:"params,omitempty"`
	Handle Handle `json:"handle"`
	Kind   Kind   `json:"kind"`
	Cancel bool   `json:"cancel,omitempty"`
}

// Result is what the host delivered for an operation.
type Result struct {
	Err     error
	Payload []byte
}

type opState uint8

const (
	stateWaiting opState = iota
	stateResolved
)

// Operation is one host-delegated action in flight.
type Operation struct {
	arena  *alloc.Arena
	err    error
	params any
	waiter executor.TaskID
	result alloc.Buffer
	kind   Kind
	state  opState
}

// Drop releases the staged result buffer.
func (o *Operation) Drop() {
	o.arena.Release(o.result)
	o.result = alloc.Buffer{}
}

// Stats holds pending table counters.
type Stats struct {
	Registered uint64
	Resolved   uint64
	Taken      uint64
	Abandoned  uint64
	Violations uint64
	Ignored    uint64
}

// Table is the pending-operation table and wake bridge. It hands handles to
// the host, stores what the host resolves them with, and wakes the waiting
// task. Table is not safe for concurrent use.
type Table struct {
	ops    *resource.Table[*Operation]
	waker  Waker
	arena  *alloc.Arena
	byTask map[executor.TaskID]map[Handle]struct{}
	outbox []Request
	stats  Stats
}

// New creates a table that wakes tasks through waker and stages result
// payloads in arena.
func New(waker Waker, arena *alloc.Arena) *Table {
	t := &Table{
		ops:    resource.NewTable[*Operation](),
		waker:  waker,
		arena:  arena,
		byTask: make(map[executor.TaskID]map[Handle]struct{}),
	}
	t.ops.Subscribe(resource.ObserverFunc[*Operation](logLifecycle))
	return t
}

// Register records that waiter is parked on a new host operation and queues
// the request for the host. The returned handle is what the host resolves.
func (t *Table) Register(kind Kind, waiter executor.TaskID, params any) Handle {
	op := &Operation{arena: t.arena, kind: kind, waiter: waiter, params: params}
	h := t.ops.Insert(op)
	if h == 0 {
		Logger().Error("register on closed table", zap.Stringer("kind", kind))
		return 0
	}

	set, ok := t.byTask[waiter]
	if !ok {
		set = make(map[Handle]struct{}, 1)
		t.byTask[waiter] = set
	}
	set[h] = struct{}{}

	t.outbox = append(t.outbox, Request{Handle: h, Kind: kind, Params: params})
	t.stats.Registered++
	return h
}

// Notify queues a fire-and-forget request with no handle to resolve.
func (t *Table) Notify(kind Kind, params any) {
	t.outbox = append(t.outbox, Request{Kind: kind, Params: params})
}

// Resolve stores the host's result for handle and wakes its waiter.
// Unknown, stale and duplicate resolutions are host contract violations:
// they are logged, counted and rejected without touching any state.
func (t *Table) Resolve(handle Handle, payload []byte, err error) error {
	switch t.ops.Status(handle) {
	case resource.StatusUnknown:
		t.stats.Violations++
		Logger().Warn("resolve of unknown handle",
			zap.Uint64("handle", uint64(handle)))
		return ErrUnknownHandle
	case resource.StatusStale:
		t.stats.Ignored++
		Logger().Debug("late resolve of abandoned handle ignored",
			zap.Uint64("handle", uint64(handle)))
		return ErrStaleHandle
	}

	op, _ := t.ops.Get(handle)
	if op.state != stateWaiting {
		t.stats.Violations++
		Logger().Warn("handle resolved twice",
			zap.Uint64("handle", uint64(handle)),
			zap.Stringer("kind", op.kind))
		return ErrAlreadyResolved
	}

	op.result = t.arena.MustStore(payload)
	op.err = err
	op.state = stateResolved
	t.stats.Resolved++
	t.waker.Wake(op.waiter)
	return nil
}

// Ready reports whether handle has been resolved and not yet taken.
func (t *Table) Ready(handle Handle) bool {
	op, ok := t.ops.Get(handle)
	return ok && op.state == stateResolved
}

// Take consumes the result of a resolved operation and retires its handle.
// It returns false while the operation is still waiting or if the handle is
// not live.
func (t *Table) Take(handle Handle) (Result, bool) {
	op, ok := t.ops.Get(handle)
	if !ok || op.state != stateResolved {
		return Result{}, false
	}
	payload, err := t.arena.Load(op.result)
	if err != nil {
		alloc.Fatal(err)
	}
	res := Result{Payload: payload, Err: op.err}
	t.retire(handle, op)
	t.stats.Taken++
	return res, true
}

// Abandon retires handle without consuming it. Waiting operations of a
// cancellable kind produce a cancel request for the host. A later Resolve
// of the handle is ignored. Abandon reports whether the handle was live.
func (t *Table) Abandon(handle Handle) bool {
	op, ok := t.ops.Get(handle)
	if !ok {
		return false
	}
	if op.state == stateWaiting && op.kind.Cancellable() {
		t.outbox = append(t.outbox, Request{Handle: handle, Kind: op.kind, Cancel: true})
	}
	t.retire(handle, op)
	t.stats.Abandoned++
	return true
}

// ReleaseTask abandons every operation registered by id. It implements
// executor.Releaser so completion and cancellation reclaim registrations.
func (t *Table) ReleaseTask(id executor.TaskID) {
	set, ok := t.byTask[id]
	if !ok {
		return
	}
	for h := range set {
		t.Abandon(h)
	}
	delete(t.byTask, id)
}

// Handles returns the live handles registered by id.
func (t *Table) Handles(id executor.TaskID) []Handle {
	set := t.byTask[id]
	out := make([]Handle, 0, len(set))
	for h := range set {
		out = append(out, h)
	}
	return out
}

// Waiter returns the task parked on handle.
func (t *Table) Waiter(handle Handle) (executor.TaskID, bool) {
	op, ok := t.ops.Get(handle)
	if !ok {
		return 0, false
	}
	return op.waiter, true
}

// Kind returns the kind of a live operation.
func (t *Table) Kind(handle Handle) (Kind, bool) {
	op, ok := t.ops.Get(handle)
	if !ok {
		return KindInvalid, false
	}
	return op.kind, true
}

// DrainRequests returns and clears the queued host requests, oldest first.
func (t *Table) DrainRequests() []Request {
	out := t.outbox
	t.outbox = nil
	return out
}

// Len returns the number of live operations.
func (t *Table) Len() int {
	return t.ops.Len()
}

// Stats returns table counters.
func (t *Table) Stats() Stats {
	return t.stats
}

// Close drops every live operation and rejects new registrations.
func (t *Table) Close() error {
	t.byTask = make(map[executor.TaskID]map[Handle]struct{})
	t.outbox = nil
	return t.ops.Close()
}

func (t *Table) retire(handle Handle, op *Operation) {
	if set, ok := t.byTask[op.waiter]; ok {
		delete(set, handle)
		if len(set) == 0 {
			delete(t.byTask, op.waiter)
		}
	}
	t.ops.Remove(handle)
}

func logLifecycle(e resource.Event[*Operation]) {
	if ce := Logger().Check(zap.DebugLevel, "pending operation"); ce != nil {
		event := "registered"
		if e.Type == resource.EventDropped {
			event = "retired"
		}
		ce.Write(
			zap.String("event", event),
			zap.Uint64("handle", uint64(e.Handle)),
			zap.Stringer("kind", e.Value.kind),
			zap.Uint64("task", uint64(e.Value.waiter)))
	}
}
