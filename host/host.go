package host

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/lightbridge/bridge"
	"github.com/wippyai/lightbridge/errors"
	"github.com/wippyai/lightbridge/pending"
	"github.com/wippyai/lightbridge/resource"
)

// Config configures the host services.
type Config struct {
	// Storage is served to storage lookups, keyed by raw key bytes.
	Storage      map[string][]byte
	DialTimeout  time.Duration
	MaxLineBytes int
}

// completion is the outcome of a host operation, produced on a service
// goroutine and applied on the loop goroutine.
type completion struct {
	err     error
	conn    net.Conn
	payload []byte
	handle  pending.Handle
}

// socket is a TCP connection owned by the host, addressed by the bridge
// through its handle.
type socket struct {
	conn net.Conn
}

func (s *socket) Drop() {
	_ = s.conn.Close()
}

// Host is a Go embedding environment for a Bridge. It performs the
// operations the bridge requests with timers and TCP connections and feeds
// the results back. The bridge is only ever touched from the goroutine
// running Run; service goroutines report through a channel.
type Host struct {
	bridge   *bridge.Bridge
	events   chan completion
	done     chan struct{}
	sockets  *resource.Table[*socket]
	inflight map[pending.Handle]func()
	cfg      Config
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a host driving b.
func New(b *bridge.Bridge, cfg Config) *Host {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = 1 << 20
	}
	return &Host{
		bridge:   b,
		cfg:      cfg,
		events:   make(chan completion, 64),
		done:     make(chan struct{}),
		sockets:  resource.NewTable[*socket](),
		inflight: make(map[pending.Handle]func()),
	}
}

// Run is the host loop: run the bridge until idle, deliver ready responses
// to out, start requested operations, then wait for the next request from
// in or the next completed operation. Run returns when ctx is done, or with
// nil once in is closed and no call remains open.
func (h *Host) Run(ctx context.Context, in <-chan string, out func(string)) error {
	defer h.stop()

	for {
		if _, err := h.bridge.RunUntilIdle(); err != nil {
			return err
		}
		for resp := range h.bridge.DrainResponses() {
			out(resp)
		}
		for _, req := range h.bridge.HostRequests() {
			h.start(req)
		}
		if !h.bridge.Idle() {
			continue
		}
		if in == nil && h.bridge.Open() == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			h.bridge.EndSession()
			for resp := range h.bridge.DrainResponses() {
				out(resp)
			}
			return ctx.Err()
		case text, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			if err := h.bridge.Ingest(text); err != nil {
				Logger().Debug("request rejected", zap.Error(err))
			}
		case c := <-h.events:
			h.complete(c)
		}
	}
}

// Sockets returns the number of open sockets.
func (h *Host) Sockets() int {
	return h.sockets.Len()
}

// Inflight returns the number of operations still being serviced.
func (h *Host) Inflight() int {
	return len(h.inflight)
}

func (h *Host) start(req pending.Request) {
	if req.Cancel {
		h.cancel(req.Handle)
		return
	}
	Logger().Debug("host request",
		zap.Stringer("kind", req.Kind),
		zap.Uint64("handle", uint64(req.Handle)))

	switch req.Kind {
	case pending.KindTimer:
		h.startTimer(req)
	case pending.KindSocketConnect:
		h.startConnect(req)
	case pending.KindSocketRead:
		h.startRead(req)
	case pending.KindSocketWrite:
		h.startWrite(req)
	case pending.KindSocketClose:
		h.closeSocket(req)
	case pending.KindStorageGet:
		h.storageGet(req)
	case networkKind:
		h.startNetworkRequest(req)
	default:
		h.fail(req.Handle, errors.New(errors.PhaseHost, errors.KindUnsupported).
			Detail("unsupported operation %s", req.Kind).
			Build())
	}
}

// goService runs fn on a service goroutine for handle. cancel is invoked if
// the bridge abandons the operation first.
func (h *Host) goService(handle pending.Handle, cancel func(), fn func() completion) {
	h.inflight[handle] = cancel
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		c := fn()
		c.handle = handle
		h.send(c)
	}()
}

func (h *Host) send(c completion) {
	select {
	case h.events <- c:
	case <-h.done:
		if c.conn != nil {
			_ = c.conn.Close()
		}
	}
}

func (h *Host) cancel(handle pending.Handle) {
	if cancel, ok := h.inflight[handle]; ok {
		delete(h.inflight, handle)
		cancel()
		Logger().Debug("operation cancelled", zap.Uint64("handle", uint64(handle)))
	}
}

// complete applies a service goroutine's result on the loop goroutine.
func (h *Host) complete(c completion) {
	if _, ok := h.inflight[c.handle]; !ok {
		// abandoned while in flight
		if c.conn != nil {
			_ = c.conn.Close()
		}
		return
	}
	delete(h.inflight, c.handle)

	if c.conn != nil {
		id := h.sockets.Insert(&socket{conn: c.conn})
		c.payload = pending.EncodeSocket(uint64(id))
	}
	h.resolve(c.handle, c.payload, c.err)
}

func (h *Host) resolve(handle pending.Handle, payload []byte, err error) {
	if handle == 0 {
		return
	}
	if rerr := h.bridge.Resolve(handle, payload, err); rerr != nil {
		Logger().Warn("resolve rejected",
			zap.Uint64("handle", uint64(handle)),
			zap.Error(rerr))
	}
}

func (h *Host) fail(handle pending.Handle, err error) {
	Logger().Debug("operation failed",
		zap.Uint64("handle", uint64(handle)),
		zap.Error(err))
	h.resolve(handle, nil, err)
}

func (h *Host) stop() {
	h.stopOnce.Do(func() {
		for handle, cancel := range h.inflight {
			cancel()
			delete(h.inflight, handle)
		}
		close(h.done)
		h.wg.Wait()
		_ = h.sockets.Close()
	})
}
