package executor

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/lightbridge/errors"
)

// DriveStatus classifies one DriveOnce call.
type DriveStatus uint8

const (
	// DriveIdle means the ready queue was empty; no progress is possible
	// until an external event wakes a task.
	DriveIdle DriveStatus = iota
	// DriveRan means a task was polled.
	DriveRan
	// DriveSkipped means a cancelled or finished task was popped and dropped.
	DriveSkipped
)

func (s DriveStatus) String() string {
	switch s {
	case DriveIdle:
		return "idle"
	case DriveRan:
		return "ran"
	case DriveSkipped:
		return "skipped"
	default:
		return fmt.Sprintf("drive(%d)", uint8(s))
	}
}

// DriveResult describes one DriveOnce call.
type DriveResult struct {
	Task    TaskID
	Status  DriveStatus
	Outcome Outcome
}

// Idle reports whether the drive found nothing to run.
func (r DriveResult) Idle() bool {
	return r.Status == DriveIdle
}

// Stats holds executor counters.
type Stats struct {
	Spawned   uint64
	Completed uint64
	Cancelled uint64
	Panicked  uint64
	Polls     uint64
}

type taskEntry struct {
	task    Task
	id      TaskID
	state   State
	queued  bool
	polling bool
}

// Executor is a cooperative single-threaded scheduler.
// Runnable tasks are polled in strict FIFO order; a task only gives up
// control by returning from Poll. Executor is not safe for concurrent use.
type Executor struct {
	tasks     map[TaskID]*taskEntry
	releasers []Releaser
	queue     readyQueue
	nextID    TaskID
	stats     Stats
	running   bool
}

// New creates an executor with an empty task table.
func New() *Executor {
	return &Executor{
		tasks: make(map[TaskID]*taskEntry),
		queue: newReadyQueue(64),
	}
}

// OnRelease registers r to be told when tasks reach a terminal state.
func (e *Executor) OnRelease(r Releaser) {
	e.releasers = append(e.releasers, r)
}

// Spawn adds a task to the task table and the back of the ready queue.
func (e *Executor) Spawn(t Task) TaskID {
	e.nextID++
	id := e.nextID
	e.tasks[id] = &taskEntry{task: t, id: id, state: StateRunnable, queued: true}
	e.queue.push(id)
	e.stats.Spawned++
	Logger().Debug("task spawned", zap.Uint64("task", uint64(id)))
	return id
}

// Wake makes a suspended task runnable. Waking a task that is already queued,
// finished or unknown is a no-op; Wake reports whether the task was enqueued.
func (e *Executor) Wake(id TaskID) bool {
	t, ok := e.tasks[id]
	if !ok || t.state.terminal() || t.queued {
		return false
	}
	t.queued = true
	t.state = StateRunnable
	e.queue.push(id)
	return true
}

// DriveOnce pops the front of the ready queue and polls that task once.
// It must not be called from inside a Poll.
func (e *Executor) DriveOnce() (DriveResult, error) {
	if e.running {
		return DriveResult{}, errors.New(errors.PhaseDrive, errors.KindReentrant).
			Detail("DriveOnce called while a task is being polled").
			Build()
	}

	id, ok := e.queue.pop()
	if !ok {
		return DriveResult{Status: DriveIdle}, nil
	}

	t, ok := e.tasks[id]
	if !ok {
		return DriveResult{Task: id, Status: DriveSkipped}, nil
	}
	t.queued = false
	if t.state.terminal() {
		delete(e.tasks, id)
		return DriveResult{Task: id, Status: DriveSkipped}, nil
	}

	outcome, recovered, panicked := e.poll(t)
	result := DriveResult{Task: id, Status: DriveRan, Outcome: outcome}

	switch {
	case t.state == StateCancelled:
		// cancelled from inside its own poll; already released
		if !t.queued {
			delete(e.tasks, id)
		}
	case panicked:
		e.stats.Panicked++
		e.finish(t)
		result.Outcome = Done
		if h, ok := t.task.(PanicHandler); ok {
			h.OnPanic(recovered)
		}
	case outcome == Done:
		e.finish(t)
	case outcome == Yield:
		if !t.queued {
			t.queued = true
			e.queue.push(id)
		}
		t.state = StateRunnable
	default:
		if t.queued {
			t.state = StateRunnable
		} else {
			t.state = StateSuspended
		}
	}
	return result, nil
}

// RunUntilIdle drives until the ready queue is empty or limit polls have run
// (limit <= 0 means no limit). It returns the number of DriveOnce calls that
// made progress.
func (e *Executor) RunUntilIdle(limit int) (int, error) {
	n := 0
	for limit <= 0 || n < limit {
		res, err := e.DriveOnce()
		if err != nil {
			return n, err
		}
		if res.Idle() {
			break
		}
		n++
	}
	return n, nil
}

// Cancel marks a task cancelled and releases what it registered. A queued
// task stays in the ready queue and is skipped when popped. Cancel reports
// whether the task was live.
func (e *Executor) Cancel(id TaskID) bool {
	t, ok := e.tasks[id]
	if !ok || t.state.terminal() {
		return false
	}
	t.state = StateCancelled
	e.stats.Cancelled++
	e.release(id)
	if c, ok := t.task.(Canceller); ok {
		c.OnCancel()
	}
	if !t.queued && !t.polling {
		delete(e.tasks, id)
	}
	Logger().Debug("task cancelled", zap.Uint64("task", uint64(id)))
	return true
}

// State returns the state of a task still present in the task table.
func (e *Executor) State(id TaskID) (State, bool) {
	t, ok := e.tasks[id]
	if !ok {
		return 0, false
	}
	return t.state, true
}

// Len returns the number of tasks in the task table.
func (e *Executor) Len() int {
	return len(e.tasks)
}

// Queued returns the number of entries in the ready queue.
func (e *Executor) Queued() int {
	return e.queue.len()
}

// ReadyQueue returns the queued task ids, front first.
func (e *Executor) ReadyQueue() []TaskID {
	return e.queue.snapshot()
}

// Stats returns executor counters.
func (e *Executor) Stats() Stats {
	return e.stats
}

func (e *Executor) poll(t *taskEntry) (outcome Outcome, recovered any, panicked bool) {
	e.running = true
	t.polling = true
	e.stats.Polls++
	defer func() {
		e.running = false
		t.polling = false
		if r := recover(); r != nil {
			Logger().Error("task panicked",
				zap.Uint64("task", uint64(t.id)),
				zap.Any("panic", r))
			outcome, recovered, panicked = Done, r, true
		}
	}()
	return t.task.Poll(&Context{exec: e, id: t.id}), nil, false
}

func (e *Executor) finish(t *taskEntry) {
	t.state = StateCompleted
	e.stats.Completed++
	if !t.queued {
		delete(e.tasks, t.id)
	}
	e.release(t.id)
}

func (e *Executor) release(id TaskID) {
	for _, r := range e.releasers {
		r.ReleaseTask(id)
	}
}
