package resource

// Table wraps a Slab with lifecycle observers and Dropper support.
type Table[T any] struct {
	slab      *Slab[T]
	observers []Observer[T]
}

// NewTable creates a new table backed by a fresh slab.
func NewTable[T any]() *Table[T] {
	return &Table[T]{slab: NewSlab[T]()}
}

// Insert adds a value and returns its handle, or 0 once the table is closed.
func (t *Table[T]) Insert(value T) Handle {
	handle, err := t.slab.Create(value)
	if err != nil {
		return 0
	}
	t.notify(Event[T]{Type: EventCreated, Handle: handle, Value: value})
	return handle
}

// Get retrieves a value by handle.
func (t *Table[T]) Get(handle Handle) (T, bool) {
	return t.slab.Get(handle)
}

// Status classifies a handle.
func (t *Table[T]) Status(handle Handle) Status {
	return t.slab.Status(handle)
}

// Remove drops an entry and returns (value, true) if found.
// Values implementing Dropper have Drop called.
func (t *Table[T]) Remove(handle Handle) (T, bool) {
	value, ok := t.slab.Drop(handle)
	if !ok {
		return value, false
	}
	if d, ok := any(value).(Dropper); ok {
		d.Drop()
	}
	t.notify(Event[T]{Type: EventDropped, Handle: handle, Value: value})
	return value, true
}

// Subscribe adds an observer for lifecycle events.
func (t *Table[T]) Subscribe(o Observer[T]) {
	t.observers = append(t.observers, o)
}

// Len returns the number of live entries.
func (t *Table[T]) Len() int {
	return t.slab.Len()
}

// Each iterates over all live entries.
func (t *Table[T]) Each(fn func(Handle, T) bool) {
	t.slab.Each(fn)
}

// Clear removes every live entry, notifying observers.
func (t *Table[T]) Clear() {
	var handles []Handle
	t.slab.Each(func(h Handle, _ T) bool {
		handles = append(handles, h)
		return true
	})
	for _, h := range handles {
		t.Remove(h)
	}
}

// Close releases all entries and stops accepting inserts.
func (t *Table[T]) Close() error {
	return t.slab.Close()
}

func (t *Table[T]) notify(e Event[T]) {
	for _, o := range t.observers {
		o.OnResourceEvent(e)
	}
}
