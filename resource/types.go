package resource

import "fmt"

// Handle is an opaque reference to an entry in a table.
// The low 32 bits hold the slot index plus one, the high 32 bits the slot
// generation. Handle 0 is reserved and always invalid.
type Handle uint64

func makeHandle(index, generation uint32) Handle {
	return Handle(uint64(generation)<<32 | uint64(index+1))
}

// slot returns the slot index encoded in the handle.
func (h Handle) slot() (uint32, bool) {
	lo := uint32(h)
	if lo == 0 {
		return 0, false
	}
	return lo - 1, true
}

// Generation returns the slot generation encoded in the handle.
func (h Handle) Generation() uint32 {
	return uint32(h >> 32)
}

func (h Handle) String() string {
	if idx, ok := h.slot(); ok {
		return fmt.Sprintf("%d/%d", idx, h.Generation())
	}
	return "invalid"
}

// Status classifies a handle against the current table contents.
type Status uint8

const (
	// StatusUnknown means the handle was never issued by this table.
	StatusUnknown Status = iota
	// StatusLive means the handle addresses a live entry.
	StatusLive
	// StatusStale means the handle was issued but its entry has been dropped.
	StatusStale
)

func (s Status) String() string {
	switch s {
	case StatusLive:
		return "live"
	case StatusStale:
		return "stale"
	default:
		return "unknown"
	}
}

// Event types for entry lifecycle notifications.
type EventType uint8

const (
	EventCreated EventType = iota
	EventDropped
)

// Event represents an entry lifecycle event.
type Event[T any] struct {
	Value  T
	Handle Handle
	Type   EventType
}

// Observer receives notifications about entry lifecycle events.
type Observer[T any] interface {
	OnResourceEvent(Event[T])
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc[T any] func(Event[T])

func (f ObserverFunc[T]) OnResourceEvent(e Event[T]) { f(e) }

// Dropper is optionally implemented by values that need cleanup.
type Dropper interface {
	Drop()
}
