package pending

import (
	"time"

	"github.com/wippyai/lightbridge/executor"
)

// Race pairs an operation with a timer registered for the same task.
// Whichever resolves first wins; the other is abandoned.
type Race struct {
	Op    Handle
	Timer Handle
}

// RaceOutcome says how a race settled.
type RaceOutcome uint8

const (
	RacePending RaceOutcome = iota
	RaceCompleted
	RaceTimedOut
)

func (o RaceOutcome) String() string {
	switch o {
	case RaceCompleted:
		return "completed"
	case RaceTimedOut:
		return "timed out"
	default:
		return "pending"
	}
}

// StartRace registers kind with params and a timer of timeout for waiter.
func (t *Table) StartRace(waiter executor.TaskID, kind Kind, params any, timeout time.Duration) Race {
	return Race{
		Op:    t.Register(kind, waiter, params),
		Timer: t.Register(KindTimer, waiter, TimerParams{Duration: timeout}),
	}
}

// Settle checks a race. When the operation resolved first its result is
// returned with RaceCompleted; when the timer fired first the operation is
// abandoned and RaceTimedOut is returned. Both handles are retired once the
// race settles. A race that has not settled returns RacePending.
func (t *Table) Settle(r Race) (Result, RaceOutcome) {
	if res, ok := t.Take(r.Op); ok {
		t.Abandon(r.Timer)
		return res, RaceCompleted
	}
	if _, ok := t.Take(r.Timer); ok {
		t.Abandon(r.Op)
		return Result{}, RaceTimedOut
	}
	return Result{}, RacePending
}

// Abort abandons both sides of an unsettled race.
func (t *Table) Abort(r Race) {
	t.Abandon(r.Op)
	t.Abandon(r.Timer)
}
