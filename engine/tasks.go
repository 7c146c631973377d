package engine

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/wippyai/lightbridge/errors"
	"github.com/wippyai/lightbridge/executor"
	"github.com/wippyai/lightbridge/pending"
	"github.com/wippyai/lightbridge/rpc"
)

// headerTask serves chain_getHeader.
type headerTask struct {
	lc    *LightClient
	call  *rpc.Call
	hash  string
	fetch fetch
}

func (t *headerTask) Poll(cx *executor.Context) executor.Outcome {
	if !t.fetch.started && t.hash != "" {
		if h, ok := t.lc.byHash[t.hash]; ok {
			t.call.Reply(h)
			return executor.Done
		}
	}

	var params []any
	if t.hash != "" {
		params = []any{t.hash}
	}
	payload, done, err := t.fetch.poll(t.lc, cx, "chain_getHeader", params...)
	if !done {
		return executor.Park
	}
	if err != nil {
		t.call.Fail(err)
		return executor.Done
	}

	h, err := DecodeHeader(payload)
	if err != nil {
		t.call.Fail(errors.Engine("chain_getHeader", "peer sent an invalid header", err))
		return executor.Done
	}
	if h != nil {
		if _, err := t.lc.observe(h); err != nil {
			t.call.Fail(errors.Engine("chain_getHeader", "header not hashable", err))
			return executor.Done
		}
	}
	t.call.Reply(h)
	return executor.Done
}

// blockHashTask serves chain_getBlockHash.
type blockHashTask struct {
	lc     *LightClient
	call   *rpc.Call
	number *uint64
	fetch  fetch
}

func (t *blockHashTask) Poll(cx *executor.Context) executor.Outcome {
	if !t.fetch.started {
		if h := t.cached(); h != nil {
			hash, err := h.Hash()
			if err != nil {
				t.call.Fail(err)
			} else {
				t.call.Reply(hash)
			}
			return executor.Done
		}
	}

	var params []any
	if t.number != nil {
		params = []any{*t.number}
	}
	payload, done, err := t.fetch.poll(t.lc, cx, "chain_getBlockHash", params...)
	if !done {
		return executor.Park
	}
	if err != nil {
		t.call.Fail(err)
		return executor.Done
	}

	var hash *string
	if err := json.Unmarshal(payload, &hash); err != nil || (hash != nil && !isHex(*hash)) {
		t.call.Fail(errors.Engine("chain_getBlockHash", "peer sent an invalid hash", err))
		return executor.Done
	}
	t.call.Reply(hash)
	return executor.Done
}

func (t *blockHashTask) cached() *Header {
	if t.number == nil {
		return t.lc.best
	}
	return t.lc.byNumber[*t.number]
}

// storageTask serves state_getStorage with a host storage lookup.
type storageTask struct {
	lc     *LightClient
	call   *rpc.Call
	key    []byte
	handle pending.Handle
}

func (t *storageTask) Poll(cx *executor.Context) executor.Outcome {
	if t.handle == 0 {
		t.handle = t.lc.table.Register(pending.KindStorageGet, cx.ID(),
			pending.StorageGetParams{Key: t.key})
		return executor.Park
	}
	res, ok := t.lc.table.Take(t.handle)
	if !ok {
		return executor.Park
	}
	switch {
	case res.Err != nil:
		t.call.Fail(errors.Engine("state_getStorage", "storage lookup failed", res.Err))
	case len(res.Payload) == 0:
		t.call.Reply(nil)
	default:
		t.call.Reply("0x" + hex.EncodeToString(res.Payload))
	}
	return executor.Done
}

type headsPhase uint8

const (
	headsFetch headsPhase = iota
	headsSleep
)

// headsTask polls peers for the best header every poll interval and feeds a
// new-heads or finalized-heads subscription.
type headsTask struct {
	lc        *LightClient
	call      *rpc.Call
	fetch     fetch
	timer     pending.Handle
	lastHash  string
	last      uint64
	phase     headsPhase
	emitted   bool
	finalized bool
}

func (t *headsTask) Poll(cx *executor.Context) executor.Outcome {
	for {
		switch t.phase {
		case headsFetch:
			payload, done, err := t.fetch.poll(t.lc, cx, "chain_getHeader")
			if !done {
				return executor.Park
			}
			if err != nil {
				Logger().Debug("head poll failed",
					zap.String("subscription", t.call.Subscription()),
					zap.Error(err))
			} else {
				t.update(payload)
			}
			t.timer = t.lc.table.Register(pending.KindTimer, cx.ID(),
				pending.TimerParams{Duration: t.lc.cfg.PollInterval})
			t.phase = headsSleep
			return executor.Park
		case headsSleep:
			if _, ok := t.lc.table.Take(t.timer); !ok {
				return executor.Park
			}
			t.timer = 0
			t.phase = headsFetch
		}
	}
}

func (t *headsTask) update(payload []byte) {
	h, err := DecodeHeader(payload)
	if err != nil || h == nil {
		Logger().Debug("peer sent no usable header",
			zap.String("subscription", t.call.Subscription()),
			zap.Error(err))
		return
	}
	hash, err := t.lc.observe(h)
	if err != nil {
		return
	}
	if t.finalized {
		t.emitFinalized()
		return
	}
	n, _ := h.BlockNumber()
	if t.emitted && (hash == t.lastHash || n < t.last) {
		return
	}
	t.call.Notify(h)
	t.emitted, t.last, t.lastHash = true, n, hash
}

// emitFinalized emits every cached header that became final since the last
// emission, lowest first.
func (t *headsTask) emitFinalized() {
	target, ok := t.lc.finalizedNumber()
	if !ok || (t.emitted && target <= t.last) {
		return
	}
	// cached headers only, never the numeric range in between
	var numbers []uint64
	for n := range t.lc.byNumber {
		if n > target || (t.emitted && n <= t.last) || (!t.emitted && n != target) {
			continue
		}
		numbers = append(numbers, n)
	}
	slices.Sort(numbers)
	for _, n := range numbers {
		t.call.Notify(t.lc.byNumber[n])
	}
	t.emitted, t.last = true, target
}

type peerPhase uint8

const (
	peerConnect peerPhase = iota
	peerWrite
	peerRead
)

// probeRequest is written to a candidate peer to check it answers JSON-RPC.
var probeRequest = []byte(`{"jsonrpc":"2.0","id":0,"method":"system_name","params":[]}` + "\n")

// peerTask serves system_addReservedPeer: connect, send a probe, read the
// answer, close, then add the peer.
type peerTask struct {
	lc     *LightClient
	call   *rpc.Call
	addr   string
	race   pending.Race
	socket uint64
	phase  peerPhase
	active bool
}

func (t *peerTask) Poll(cx *executor.Context) executor.Outcome {
	table := t.lc.table
	timeout := t.lc.cfg.RequestTimeout

	if !t.active {
		t.active = true
		switch t.phase {
		case peerConnect:
			t.race = table.StartRace(cx.ID(), pending.KindSocketConnect,
				pending.SocketConnectParams{Address: t.addr}, timeout)
		case peerWrite:
			t.race = table.StartRace(cx.ID(), pending.KindSocketWrite,
				pending.SocketWriteParams{Socket: t.socket, Data: probeRequest}, timeout)
		case peerRead:
			t.race = table.StartRace(cx.ID(), pending.KindSocketRead,
				pending.SocketReadParams{Socket: t.socket, MaxBytes: 4096}, timeout)
		}
		return executor.Park
	}

	res, outcome := table.Settle(t.race)
	switch outcome {
	case pending.RacePending:
		return executor.Park
	case pending.RaceTimedOut:
		return t.fail(errors.Timeout(errors.PhaseEngine, fmt.Sprintf("peer %s", t.phase)))
	}
	if res.Err != nil {
		return t.fail(errors.Engine("system_addReservedPeer", fmt.Sprintf("peer %s failed", t.phase), res.Err))
	}

	t.active = false
	switch t.phase {
	case peerConnect:
		id, err := pending.DecodeSocket(res.Payload)
		if err != nil {
			return t.fail(err)
		}
		t.socket = id
		t.phase = peerWrite
	case peerWrite:
		t.phase = peerRead
	case peerRead:
		if len(res.Payload) == 0 {
			return t.fail(errors.Engine("system_addReservedPeer", "peer closed the connection", nil))
		}
		t.close()
		t.lc.AddPeer(t.addr)
		t.call.Reply(nil)
		return executor.Done
	}
	return executor.Yield
}

func (t *peerTask) OnCancel() {
	t.close()
}

func (t *peerTask) fail(err error) executor.Outcome {
	t.close()
	t.call.Fail(err)
	return executor.Done
}

func (t *peerTask) close() {
	if t.socket != 0 {
		t.lc.table.Notify(pending.KindSocketClose, pending.SocketCloseParams{Socket: t.socket})
		t.socket = 0
	}
}

func (p peerPhase) String() string {
	switch p {
	case peerConnect:
		return "connect"
	case peerWrite:
		return "write"
	default:
		return "read"
	}
}
