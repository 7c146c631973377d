package engine

import (
	"github.com/wippyai/lightbridge/errors"
	"github.com/wippyai/lightbridge/executor"
	"github.com/wippyai/lightbridge/pending"
)

// fetch is a peer request raced against the request timeout. A task embeds
// one per in-flight request and polls it until it reports done.
type fetch struct {
	race    pending.Race
	method  string
	started bool
}

// poll starts the request on first use and afterwards checks whether it
// settled. The fetch can be reused once it reports done.
func (f *fetch) poll(lc *LightClient, cx *executor.Context, method string, params ...any) ([]byte, bool, error) {
	if !f.started {
		if params == nil {
			params = []any{}
		}
		f.method = method
		f.started = true
		f.race = lc.table.StartRace(cx.ID(), KindNetworkRequest,
			NetworkRequest{Peer: lc.nextPeer(), Method: method, Params: params},
			lc.cfg.RequestTimeout)
		return nil, false, nil
	}

	res, outcome := lc.table.Settle(f.race)
	switch outcome {
	case pending.RacePending:
		return nil, false, nil
	case pending.RaceTimedOut:
		f.started = false
		return nil, true, errors.Timeout(errors.PhaseEngine, f.method)
	}
	f.started = false
	if res.Err != nil {
		return nil, true, errors.Engine(f.method, "network request failed", res.Err)
	}
	return res.Payload, true, nil
}
