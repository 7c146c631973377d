package executor

import "fmt"

// TaskID identifies a task. IDs are assigned monotonically and never reused.
type TaskID uint64

// State is the lifecycle state of a task.
type State uint8

const (
	StateRunnable State = iota
	StateSuspended
	StateCompleted
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateRunnable:
		return "runnable"
	case StateSuspended:
		return "suspended"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

func (s State) terminal() bool {
	return s == StateCompleted || s == StateCancelled
}

// Outcome reports how one poll of a task ended.
type Outcome uint8

const (
	// Done means the task finished; it is never polled again.
	Done Outcome = iota
	// Yield re-enqueues the task at the back of the ready queue.
	Yield
	// Park suspends the task until something wakes it, normally the
	// resolution of a pending operation it registered.
	Park
)

func (o Outcome) String() string {
	switch o {
	case Done:
		return "done"
	case Yield:
		return "yield"
	case Park:
		return "park"
	default:
		return fmt.Sprintf("outcome(%d)", uint8(o))
	}
}

// Task is a resumable state machine. Poll advances it to its next suspension
// point. Poll must not block; waiting is expressed by registering a pending
// operation and returning Park.
type Task interface {
	Poll(cx *Context) Outcome
}

// TaskFunc adapts a function to the Task interface.
type TaskFunc func(cx *Context) Outcome

func (f TaskFunc) Poll(cx *Context) Outcome { return f(cx) }

// Canceller is implemented by tasks that must observe their own cancellation,
// for example to emit a terminal error response.
type Canceller interface {
	OnCancel()
}

// PanicHandler is implemented by tasks that report a panic raised by their
// own Poll. The task is already finished when OnPanic runs.
type PanicHandler interface {
	OnPanic(recovered any)
}

// Releaser is notified once per task when the task completes or is
// cancelled, so resources registered on its behalf can be reclaimed.
type Releaser interface {
	ReleaseTask(id TaskID)
}

// Context is handed to Task.Poll.
type Context struct {
	exec *Executor
	id   TaskID
}

// ID returns the polled task's id.
func (cx *Context) ID() TaskID {
	return cx.id
}

// Wake re-enqueues the polled task. A following Park does not suspend it.
func (cx *Context) Wake() {
	cx.exec.Wake(cx.id)
}

// Spawn schedules a new task on the same executor.
func (cx *Context) Spawn(t Task) TaskID {
	return cx.exec.Spawn(t)
}

// Executor returns the executor running the task.
func (cx *Context) Executor() *Executor {
	return cx.exec
}
