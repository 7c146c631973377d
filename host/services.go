package host

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/lightbridge/engine"
	"github.com/wippyai/lightbridge/errors"
	"github.com/wippyai/lightbridge/pending"
	"github.com/wippyai/lightbridge/resource"
)

var networkKind = engine.KindNetworkRequest

func paramsOf[T any](req pending.Request) (T, error) {
	p, ok := req.Params.(T)
	if !ok {
		var zero T
		return zero, errors.InvalidInput(errors.PhaseHost, "unexpected parameters for "+req.Kind.String())
	}
	return p, nil
}

func (h *Host) startTimer(req pending.Request) {
	p, err := paramsOf[pending.TimerParams](req)
	if err != nil {
		h.fail(req.Handle, err)
		return
	}
	handle := req.Handle
	// AfterFunc goroutines are not tracked; send gives up once the host stops
	t := time.AfterFunc(p.Duration, func() {
		h.send(completion{handle: handle})
	})
	h.inflight[handle] = func() { t.Stop() }
}

func (h *Host) startConnect(req pending.Request) {
	p, err := paramsOf[pending.SocketConnectParams](req)
	if err != nil {
		h.fail(req.Handle, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.DialTimeout)
	h.goService(req.Handle, cancel, func() completion {
		defer cancel()
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", p.Address)
		if err != nil {
			return completion{err: netError("connect", err)}
		}
		return completion{conn: conn}
	})
}

func (h *Host) lookupSocket(id uint64) (net.Conn, error) {
	s, ok := h.sockets.Get(resource.Handle(id))
	if !ok {
		return nil, errors.NotFound(errors.PhaseHost, "socket", resource.Handle(id).String())
	}
	return s.conn, nil
}

func (h *Host) startRead(req pending.Request) {
	p, err := paramsOf[pending.SocketReadParams](req)
	if err != nil {
		h.fail(req.Handle, err)
		return
	}
	conn, err := h.lookupSocket(p.Socket)
	if err != nil {
		h.fail(req.Handle, err)
		return
	}
	size := p.MaxBytes
	if size <= 0 || size > h.cfg.MaxLineBytes {
		size = h.cfg.MaxLineBytes
	}
	cancel := func() { _ = conn.SetReadDeadline(time.Now()) }
	h.goService(req.Handle, cancel, func() completion {
		buf := make([]byte, size)
		n, err := conn.Read(buf)
		if n > 0 {
			return completion{payload: buf[:n]}
		}
		if err == io.EOF {
			// end of stream is an empty read
			return completion{}
		}
		return completion{err: netError("read", err)}
	})
}

func (h *Host) startWrite(req pending.Request) {
	p, err := paramsOf[pending.SocketWriteParams](req)
	if err != nil {
		h.fail(req.Handle, err)
		return
	}
	conn, err := h.lookupSocket(p.Socket)
	if err != nil {
		h.fail(req.Handle, err)
		return
	}
	cancel := func() { _ = conn.SetWriteDeadline(time.Now()) }
	h.goService(req.Handle, cancel, func() completion {
		if _, err := conn.Write(p.Data); err != nil {
			return completion{err: netError("write", err)}
		}
		return completion{}
	})
}

func (h *Host) closeSocket(req pending.Request) {
	p, err := paramsOf[pending.SocketCloseParams](req)
	if err != nil {
		h.fail(req.Handle, err)
		return
	}
	if _, ok := h.sockets.Remove(resource.Handle(p.Socket)); !ok {
		Logger().Debug("close of unknown socket", zap.Uint64("socket", p.Socket))
	}
	h.resolve(req.Handle, nil, nil)
}

func (h *Host) storageGet(req pending.Request) {
	p, err := paramsOf[pending.StorageGetParams](req)
	if err != nil {
		h.fail(req.Handle, err)
		return
	}
	h.resolve(req.Handle, h.cfg.Storage[string(p.Key)], nil)
}

// peerResponse is a JSON-RPC response read from a peer.
type peerResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// startNetworkRequest sends one JSON-RPC request to a peer over a fresh
// connection and resolves with the result member of the first line read.
func (h *Host) startNetworkRequest(req pending.Request) {
	p, err := paramsOf[engine.NetworkRequest](req)
	if err != nil {
		h.fail(req.Handle, err)
		return
	}
	if p.Peer == "" {
		h.fail(req.Handle, errors.New(errors.PhaseHost, errors.KindNotFound).
			Op(p.Method).
			Detail("no peers available").
			Build())
		return
	}

	line, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      uint64(req.Handle),
		"method":  p.Method,
		"params":  p.Params,
	})
	if err != nil {
		h.fail(req.Handle, errors.Wrap(errors.PhaseHost, errors.KindInvalidInput, err, "encoding peer request"))
		return
	}
	line = append(line, '\n')

	ctx, cancel := context.WithCancel(context.Background())
	maxLine := h.cfg.MaxLineBytes
	dialTimeout := h.cfg.DialTimeout
	h.goService(req.Handle, cancel, func() completion {
		defer cancel()
		dialCtx, dialCancel := context.WithTimeout(ctx, dialTimeout)
		defer dialCancel()

		var d net.Dialer
		conn, err := d.DialContext(dialCtx, "tcp", p.Peer)
		if err != nil {
			return completion{err: netError("dial "+p.Peer, err)}
		}
		defer conn.Close()
		stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
		defer stop()

		if _, err := conn.Write(line); err != nil {
			return completion{err: netError("write "+p.Peer, err)}
		}

		r := bufio.NewReaderSize(conn, 4096)
		var buf bytes.Buffer
		for {
			chunk, more, err := r.ReadLine()
			buf.Write(chunk)
			if err != nil {
				return completion{err: netError("read "+p.Peer, err)}
			}
			if buf.Len() > maxLine {
				return completion{err: errors.New(errors.PhaseHost, errors.KindInvalidInput).
					Op(p.Method).
					Detail("peer response exceeds %d bytes", maxLine).
					Build()}
			}
			if !more {
				break
			}
		}

		var resp peerResponse
		if err := json.Unmarshal(buf.Bytes(), &resp); err != nil {
			return completion{err: errors.Wrap(errors.PhaseHost, errors.KindInvalidInput, err, "unexpected response from "+p.Peer)}
		}
		if resp.Error != nil {
			return completion{err: errors.New(errors.PhaseHost, errors.KindEngine).
				Op(p.Method).
				Value(resp.Error.Code).
				Detail("peer error: %s", resp.Error.Message).
				Build()}
		}
		if len(resp.Result) == 0 {
			return completion{payload: []byte("null")}
		}
		return completion{payload: resp.Result}
	})
}
