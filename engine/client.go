package engine

import (
	"encoding/json"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/lightbridge/errors"
	"github.com/wippyai/lightbridge/executor"
	"github.com/wippyai/lightbridge/pending"
	"github.com/wippyai/lightbridge/rpc"
)

// Name and Version are reported by system_name and system_version.
const (
	Name    = "lightbridge"
	Version = "0.1.0"
)

// KindNetworkRequest asks the host to send one JSON-RPC request to a peer
// and resolve with the result member of the peer's response.
var KindNetworkRequest = pending.RegisterKind("network-request", true)

// NetworkRequest is the parameter of a network-request operation.
// An empty Peer means no peer is known; the host fails the operation.
type NetworkRequest struct {
	Peer   string `json:"peer"`
	Method string `json:"method"`
	Params []any  `json:"params"`
}

// Config tunes the light client.
type Config struct {
	Genesis        *Header
	ChainName      string
	Peers          []string
	RequestTimeout time.Duration
	PollInterval   time.Duration
	FinalityLag    uint64
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		ChainName:      "lightbridge-dev",
		RequestTimeout: 10 * time.Second,
		PollInterval:   6 * time.Second,
		FinalityLag:    2,
	}
}

// LightClient is a minimal light client driven entirely by pending
// operations. It keeps the headers it has seen and serves JSON-RPC methods
// from that cache or from peers.
type LightClient struct {
	table    *pending.Table
	byHash   map[string]*Header
	byNumber map[uint64]*Header
	best     *Header
	cfg      Config
	peers    []string
	next     int
}

// New creates a light client registering operations in table.
func New(table *pending.Table, cfg Config) *LightClient {
	def := DefaultConfig()
	if cfg.ChainName == "" {
		cfg.ChainName = def.ChainName
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	lc := &LightClient{
		table:    table,
		cfg:      cfg,
		byHash:   make(map[string]*Header),
		byNumber: make(map[uint64]*Header),
		peers:    slices.Clone(cfg.Peers),
	}
	if cfg.Genesis != nil {
		if _, err := lc.observe(cfg.Genesis); err != nil {
			Logger().Warn("genesis header ignored", zap.Error(err))
		}
	}
	return lc
}

var methods = map[string]rpc.MethodInfo{
	"rpc_methods":            {Name: "rpc_methods"},
	"system_name":            {Name: "system_name"},
	"system_version":         {Name: "system_version"},
	"system_chain":           {Name: "system_chain"},
	"system_health":          {Name: "system_health"},
	"system_addReservedPeer": {Name: "system_addReservedPeer"},
	"chain_getHeader":        {Name: "chain_getHeader"},
	"chain_getBlockHash":     {Name: "chain_getBlockHash"},
	"state_getStorage":       {Name: "state_getStorage"},
	"chain_subscribeNewHeads": {
		Name:         "chain_subscribeNewHeads",
		Kind:         rpc.MethodSubscribe,
		Notification: "chain_newHead",
		Unsubscribe:  "chain_unsubscribeNewHeads",
	},
	"chain_unsubscribeNewHeads": {Name: "chain_unsubscribeNewHeads", Kind: rpc.MethodUnsubscribe},
	"chain_subscribeFinalizedHeads": {
		Name:         "chain_subscribeFinalizedHeads",
		Kind:         rpc.MethodSubscribe,
		Notification: "chain_finalizedHead",
		Unsubscribe:  "chain_unsubscribeFinalizedHeads",
	},
	"chain_unsubscribeFinalizedHeads": {Name: "chain_unsubscribeFinalizedHeads", Kind: rpc.MethodUnsubscribe},
}

// Method implements rpc.Engine.
func (lc *LightClient) Method(name string) (rpc.MethodInfo, bool) {
	info, ok := methods[name]
	return info, ok
}

// Serve implements rpc.Engine. Parameter errors are returned directly so the
// call is answered without spawning a task.
func (lc *LightClient) Serve(call *rpc.Call) (executor.Task, error) {
	Logger().Debug("serve",
		zap.String("method", call.Method()),
		zap.ByteString("params", call.Params()))
	switch call.Method() {
	case "rpc_methods":
		names := make([]string, 0, len(methods))
		for name := range methods {
			names = append(names, name)
		}
		slices.Sort(names)
		return replyWith(call, map[string]any{"methods": names}), nil
	case "system_name":
		return replyWith(call, Name), nil
	case "system_version":
		return replyWith(call, Version), nil
	case "system_chain":
		return replyWith(call, lc.cfg.ChainName), nil
	case "system_health":
		return executor.TaskFunc(func(*executor.Context) executor.Outcome {
			call.Reply(lc.Health())
			return executor.Done
		}), nil
	case "system_addReservedPeer":
		var params []string
		if err := call.DecodeParams(&params); err != nil {
			return nil, err
		}
		if len(params) != 1 || params[0] == "" {
			return nil, errors.InvalidInput(errors.PhaseEngine, "expected [peer address]")
		}
		return &peerTask{lc: lc, call: call, addr: params[0]}, nil
	case "chain_getHeader":
		hash, err := optionalString(call)
		if err != nil {
			return nil, err
		}
		return &headerTask{lc: lc, call: call, hash: hash}, nil
	case "chain_getBlockHash":
		number, err := optionalNumber(call)
		if err != nil {
			return nil, err
		}
		return &blockHashTask{lc: lc, call: call, number: number}, nil
	case "state_getStorage":
		var params []string
		if err := call.DecodeParams(&params); err != nil {
			return nil, err
		}
		if len(params) < 1 {
			return nil, errors.InvalidInput(errors.PhaseEngine, "expected [storage key]")
		}
		key, err := decodeHexParam(params[0])
		if err != nil {
			return nil, err
		}
		return &storageTask{lc: lc, call: call, key: key}, nil
	case "chain_subscribeNewHeads":
		return &headsTask{lc: lc, call: call}, nil
	case "chain_subscribeFinalizedHeads":
		return &headsTask{lc: lc, call: call, finalized: true}, nil
	}
	return nil, errors.New(errors.PhaseEngine, errors.KindUnsupported).
		Op(call.Method()).
		Detail("method not supported").
		Build()
}

// Health is the system_health result.
type Health struct {
	IsSyncing       bool `json:"isSyncing"`
	Peers           int  `json:"peers"`
	ShouldHavePeers bool `json:"shouldHavePeers"`
}

// Health reports sync and peer status.
func (lc *LightClient) Health() Health {
	return Health{
		IsSyncing:       lc.best == nil,
		Peers:           len(lc.peers),
		ShouldHavePeers: true,
	}
}

// Best returns the highest header seen.
func (lc *LightClient) Best() *Header {
	return lc.best
}

// Peers returns the known peer addresses.
func (lc *LightClient) Peers() []string {
	return slices.Clone(lc.peers)
}

// AddPeer adds a peer address if it is not known yet.
func (lc *LightClient) AddPeer(addr string) bool {
	if slices.Contains(lc.peers, addr) {
		return false
	}
	lc.peers = append(lc.peers, addr)
	Logger().Info("peer added", zap.String("peer", addr))
	return true
}

// nextPeer picks peers round-robin.
func (lc *LightClient) nextPeer() string {
	if len(lc.peers) == 0 {
		return ""
	}
	p := lc.peers[lc.next%len(lc.peers)]
	lc.next++
	return p
}

// observe records a header and returns its hash.
func (lc *LightClient) observe(h *Header) (string, error) {
	hash, err := h.Hash()
	if err != nil {
		return "", err
	}
	n, err := h.BlockNumber()
	if err != nil {
		return "", err
	}
	lc.byHash[hash] = h
	lc.byNumber[n] = h
	if lc.best == nil {
		lc.best = h
	} else if bn, _ := lc.best.BlockNumber(); n > bn {
		lc.best = h
		Logger().Debug("new best header", zap.Uint64("number", n), zap.String("hash", hash))
	}
	return hash, nil
}

// finalizedNumber returns the highest block number considered final.
func (lc *LightClient) finalizedNumber() (uint64, bool) {
	if lc.best == nil {
		return 0, false
	}
	bn, _ := lc.best.BlockNumber()
	if bn < lc.cfg.FinalityLag {
		return 0, false
	}
	return bn - lc.cfg.FinalityLag, true
}

func replyWith(call *rpc.Call, v any) executor.Task {
	return executor.TaskFunc(func(*executor.Context) executor.Outcome {
		call.Reply(v)
		return executor.Done
	})
}

func optionalString(call *rpc.Call) (string, error) {
	var params []*string
	if err := call.DecodeParams(&params); err != nil {
		return "", err
	}
	if len(params) == 0 || params[0] == nil {
		return "", nil
	}
	if !isHex(*params[0]) {
		return "", errors.InvalidInput(errors.PhaseEngine, "block hash must be 0x-prefixed hex")
	}
	return *params[0], nil
}

func optionalNumber(call *rpc.Call) (*uint64, error) {
	var params []json.RawMessage
	if err := call.DecodeParams(&params); err != nil {
		return nil, err
	}
	if len(params) == 0 || string(params[0]) == "null" {
		return nil, nil
	}
	var n uint64
	if err := json.Unmarshal(params[0], &n); err == nil {
		return &n, nil
	}
	var s string
	if err := json.Unmarshal(params[0], &s); err != nil {
		return nil, errors.InvalidInput(errors.PhaseEngine, "block number must be an integer or hex string")
	}
	n, err := parseNumber(s)
	if err != nil {
		return nil, err
	}
	return &n, nil
}
