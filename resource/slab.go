package resource

import (
	"errors"
)

var ErrClosed = errors.New("resource slab closed")

// Slab is an in-memory handle allocator with slot reuse.
// Reused slots get a new generation, so handles issued earlier for the same
// slot never address the new occupant.
//
// Slab is not safe for concurrent use; the bridge drives it from a single
// logical thread.
type Slab[T any] struct {
	entries  []entry[T]
	freeList []uint32
	live     int
	closed   bool
}

type entry[T any] struct {
	value      T
	generation uint32
	valid      bool
}

// NewSlab creates a new slab.
func NewSlab[T any]() *Slab[T] {
	return &Slab[T]{
		entries:  make([]entry[T], 0, 64),
		freeList: make([]uint32, 0, 16),
	}
}

// Create stores a value and returns a handle.
func (s *Slab[T]) Create(value T) (Handle, error) {
	if s.closed {
		return 0, ErrClosed
	}

	if n := len(s.freeList); n > 0 {
		idx := s.freeList[n-1]
		s.freeList = s.freeList[:n-1]
		e := &s.entries[idx]
		e.generation++
		e.value = value
		e.valid = true
		s.live++
		return makeHandle(idx, e.generation), nil
	}

	s.entries = append(s.entries, entry[T]{value: value, generation: 1, valid: true})
	s.live++
	return makeHandle(uint32(len(s.entries)-1), 1), nil
}

// Get retrieves a value by handle.
func (s *Slab[T]) Get(handle Handle) (T, bool) {
	e := s.lookup(handle)
	if e == nil {
		var zero T
		return zero, false
	}
	return e.value, true
}

// Drop removes an entry and returns its value.
func (s *Slab[T]) Drop(handle Handle) (T, bool) {
	var zero T
	e := s.lookup(handle)
	if e == nil {
		return zero, false
	}

	value := e.value
	e.value = zero
	e.valid = false
	s.live--
	idx, _ := handle.slot()
	s.freeList = append(s.freeList, idx)
	return value, true
}

// Status reports whether handle is live, stale or was never issued.
func (s *Slab[T]) Status(handle Handle) Status {
	idx, ok := handle.slot()
	if !ok || int(idx) >= len(s.entries) {
		return StatusUnknown
	}
	e := s.entries[idx]
	gen := handle.Generation()
	switch {
	case gen > e.generation || gen == 0:
		return StatusUnknown
	case gen == e.generation && e.valid:
		return StatusLive
	default:
		return StatusStale
	}
}

// Close drops every live entry and rejects further Create calls.
func (s *Slab[T]) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var zero T
	for i := range s.entries {
		if s.entries[i].valid {
			if d, ok := any(s.entries[i].value).(Dropper); ok {
				d.Drop()
			}
			s.entries[i].valid = false
			s.entries[i].value = zero
		}
	}
	s.live = 0
	s.freeList = s.freeList[:0]
	return nil
}

// Len returns the number of live entries.
func (s *Slab[T]) Len() int {
	return s.live
}

// Each iterates over all live entries in slot order.
func (s *Slab[T]) Each(fn func(Handle, T) bool) {
	for i := range s.entries {
		e := &s.entries[i]
		if e.valid {
			if !fn(makeHandle(uint32(i), e.generation), e.value) {
				break
			}
		}
	}
}

func (s *Slab[T]) lookup(handle Handle) *entry[T] {
	idx, ok := handle.slot()
	if !ok || int(idx) >= len(s.entries) {
		return nil
	}
	e := &s.entries[idx]
	if !e.valid || e.generation != handle.Generation() {
		return nil
	}
	return e
}
