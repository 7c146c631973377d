package bridge

import (
	"iter"

	"go.uber.org/zap"

	"github.com/wippyai/lightbridge/alloc"
	"github.com/wippyai/lightbridge/engine"
	"github.com/wippyai/lightbridge/executor"
	"github.com/wippyai/lightbridge/pending"
	"github.com/wippyai/lightbridge/rpc"
)

// Stats aggregates the counters of every component.
type Stats struct {
	Executor executor.Stats
	Pending  pending.Stats
	RPC      rpc.Stats
	Arena    alloc.Stats
}

// Bridge is the scheduler context shared by every component: one executor,
// one pending-operation table and one multiplexer over one arena. It is the
// whole surface the host drives. Bridge is not safe for concurrent use; the
// host serializes its calls.
type Bridge struct {
	arena  *alloc.Arena
	exec   *executor.Executor
	table  *pending.Table
	mux    *rpc.Mux
	client *engine.LightClient
}

type options struct {
	arena  *alloc.Arena
	muxOpt []rpc.Option
}

// Option configures a Bridge.
type Option func(*options)

// WithArena stages results in arena instead of the process-wide arena.
func WithArena(a *alloc.Arena) Option {
	return func(o *options) { o.arena = a }
}

// WithRPCOptions passes options to the multiplexer.
func WithRPCOptions(opts ...rpc.Option) Option {
	return func(o *options) { o.muxOpt = append(o.muxOpt, opts...) }
}

// New wires a bridge around a light client configured by cfg.
func New(cfg engine.Config, opts ...Option) *Bridge {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.arena == nil {
		o.arena = alloc.Default()
	}

	exec := executor.New()
	table := pending.New(exec, o.arena)
	exec.OnRelease(table)
	client := engine.New(table, cfg)

	b := &Bridge{
		arena:  o.arena,
		exec:   exec,
		table:  table,
		client: client,
		mux:    rpc.New(exec, client, o.muxOpt...),
	}
	Logger().Debug("bridge ready",
		zap.String("chain", cfg.ChainName),
		zap.Int("peers", len(cfg.Peers)))
	return b
}

// Ingest hands one JSON-RPC request (or batch) to the multiplexer.
// Malformed input is answered through DrainResponses; the returned error
// only reports it.
func (b *Bridge) Ingest(text string) error {
	return b.mux.Ingest(text)
}

// Resolve delivers the host's result for handle: a payload, or an error if
// the operation failed. Contract violations are logged and rejected.
func (b *Bridge) Resolve(handle pending.Handle, payload []byte, err error) error {
	return b.table.Resolve(handle, payload, err)
}

// DriveOnce polls the task at the front of the ready queue.
func (b *Bridge) DriveOnce() (executor.DriveResult, error) {
	return b.exec.DriveOnce()
}

// RunUntilIdle drives until no task is runnable.
func (b *Bridge) RunUntilIdle() (int, error) {
	return b.exec.RunUntilIdle(0)
}

// DrainResponses yields the JSON-RPC output that is ready.
func (b *Bridge) DrainResponses() iter.Seq[string] {
	return b.mux.DrainResponses()
}

// HostRequests returns the operations the host must perform or cancel,
// oldest first.
func (b *Bridge) HostRequests() []pending.Request {
	return b.table.DrainRequests()
}

// Idle reports whether no task is runnable.
func (b *Bridge) Idle() bool {
	return b.exec.Queued() == 0
}

// EndSession answers every open call and rejects later requests.
func (b *Bridge) EndSession() {
	b.mux.EndSession()
}

// Close ends the session and drops every pending operation.
func (b *Bridge) Close() error {
	b.mux.EndSession()
	return b.table.Close()
}

// Stats returns the counters of every component.
func (b *Bridge) Stats() Stats {
	return Stats{
		Executor: b.exec.Stats(),
		Pending:  b.table.Stats(),
		RPC:      b.mux.Stats(),
		Arena:    b.arena.Stats(),
	}
}

// Executor returns the task executor.
func (b *Bridge) Executor() *executor.Executor { return b.exec }

// Table returns the pending-operation table.
func (b *Bridge) Table() *pending.Table { return b.table }

// Client returns the light client.
func (b *Bridge) Client() *engine.LightClient { return b.client }

// Open returns the number of calls and subscriptions not yet finished.
func (b *Bridge) Open() int {
	return b.mux.Open() + b.mux.Subscriptions()
}
