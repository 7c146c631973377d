package alloc

import (
	"sort"

	"go.uber.org/zap"

	lightbridge "github.com/wippyai/lightbridge"
	"github.com/wippyai/lightbridge/errors"
)

// reserved keeps offset 0 unallocatable so a zero pointer means "no buffer".
const reserved = 8

type span struct {
	off  uint32
	size uint32
}

func (s span) end() uint64 { return uint64(s.off) + uint64(s.size) }

// Arena is a first-fit free-list allocator over linear memory.
// Adjacent free spans are coalesced; memory grows page-wise on demand.
// Arena implements lightbridge.Allocator and is not safe for concurrent use.
type Arena struct {
	mem   lightbridge.Memory
	used  map[uint32]uint32
	free  []span
	inUse uint64
	peak  uint64
}

var _ lightbridge.Allocator = (*Arena)(nil)

// NewArena creates an allocator managing all of mem's current and future pages.
func NewArena(mem lightbridge.Memory) *Arena {
	a := &Arena{
		mem:  mem,
		used: make(map[uint32]uint32),
	}
	if size := mem.Size(); size > 0 {
		a.release(span{off: 0, size: size})
	}
	return a
}

// Memory returns the linear memory the arena manages.
func (a *Arena) Memory() lightbridge.Memory {
	return a.mem
}

// Alloc reserves size bytes aligned to align (a power of two).
func (a *Arena) Alloc(size, align uint32) (uint32, error) {
	if align == 0 {
		align = 1
	}
	if align&(align-1) != 0 {
		return 0, errors.InvalidInput(errors.PhaseAlloc, "alignment must be a power of two")
	}
	if size == 0 {
		size = 1
	}

	if ptr, ok := a.carve(size, align); ok {
		return ptr, nil
	}
	if !a.grow(uint64(size) + uint64(align)) {
		return 0, errors.AllocationFailed(size, align)
	}
	if ptr, ok := a.carve(size, align); ok {
		return ptr, nil
	}
	return 0, errors.AllocationFailed(size, align)
}

// Free releases an allocation. Unknown pointers are logged and ignored.
func (a *Arena) Free(ptr, _, _ uint32) {
	size, ok := a.used[ptr]
	if !ok {
		Logger().Warn("free of unknown pointer", zap.Uint32("ptr", ptr))
		return
	}
	delete(a.used, ptr)
	a.inUse -= uint64(size)
	a.release(span{off: ptr, size: size})
}

// Realloc resizes an allocation, moving it when it cannot grow in place.
// A zero ptr behaves like Alloc.
func (a *Arena) Realloc(ptr, align, newSize uint32) (uint32, error) {
	if ptr == 0 {
		return a.Alloc(newSize, align)
	}
	size, ok := a.used[ptr]
	if !ok {
		return 0, errors.InvalidInput(errors.PhaseAlloc, "realloc of unknown pointer")
	}
	if newSize == 0 {
		newSize = 1
	}

	if newSize <= size {
		a.used[ptr] = newSize
		a.inUse -= uint64(size - newSize)
		if newSize < size {
			a.release(span{off: ptr + newSize, size: size - newSize})
		}
		return ptr, nil
	}

	if a.extendInPlace(ptr, size, newSize) {
		return ptr, nil
	}

	next, err := a.Alloc(newSize, align)
	if err != nil {
		return 0, err
	}
	old, err := a.mem.Read(ptr, size)
	if err != nil {
		return 0, err
	}
	buf := make([]byte, len(old))
	copy(buf, old)
	if err := a.mem.Write(next, buf); err != nil {
		return 0, err
	}
	a.Free(ptr, size, align)
	return next, nil
}

// Stats describes arena usage.
type Stats struct {
	InUse       uint64
	Peak        uint64
	Allocations int
	FreeSpans   int
	MemorySize  uint32
}

// Stats returns current usage counters.
func (a *Arena) Stats() Stats {
	return Stats{
		InUse:       a.inUse,
		Peak:        a.peak,
		Allocations: len(a.used),
		FreeSpans:   len(a.free),
		MemorySize:  a.mem.Size(),
	}
}

func (a *Arena) carve(size, align uint32) (uint32, bool) {
	for i, s := range a.free {
		start := alignUp(uint64(s.off), uint64(align))
		if start+uint64(size) > s.end() {
			continue
		}
		ptr := uint32(start)

		var pieces []span
		if ptr > s.off {
			pieces = append(pieces, span{off: s.off, size: ptr - s.off})
		}
		if tail := s.end() - (start + uint64(size)); tail > 0 {
			pieces = append(pieces, span{off: ptr + size, size: uint32(tail)})
		}
		a.free = append(a.free[:i], append(pieces, a.free[i+1:]...)...)

		a.used[ptr] = size
		a.inUse += uint64(size)
		if a.inUse > a.peak {
			a.peak = a.inUse
		}
		return ptr, true
	}
	return 0, false
}

func (a *Arena) extendInPlace(ptr, size, newSize uint32) bool {
	end := uint64(ptr) + uint64(size)
	i := sort.Search(len(a.free), func(i int) bool { return uint64(a.free[i].off) >= end })
	if i == len(a.free) || uint64(a.free[i].off) != end {
		return false
	}
	need := newSize - size
	next := a.free[i]
	if next.size < need {
		return false
	}
	if next.size == need {
		a.free = append(a.free[:i], a.free[i+1:]...)
	} else {
		a.free[i] = span{off: next.off + need, size: next.size - need}
	}
	a.used[ptr] = newSize
	a.inUse += uint64(need)
	if a.inUse > a.peak {
		a.peak = a.inUse
	}
	return true
}

func (a *Arena) grow(need uint64) bool {
	if n := len(a.free); n > 0 {
		last := a.free[n-1]
		if last.end() == uint64(a.mem.Size()) {
			if uint64(last.size) >= need {
				need = 1
			} else {
				need -= uint64(last.size)
			}
		}
	}
	pages := (need + lightbridge.PageSize - 1) / lightbridge.PageSize
	if pages > lightbridge.MaxPages {
		return false
	}
	prev, ok := a.mem.Grow(uint32(pages))
	if !ok {
		return false
	}
	off := uint64(prev) * lightbridge.PageSize
	a.release(span{off: uint32(off), size: uint32(pages * lightbridge.PageSize)})
	return true
}

// release returns a span to the free list, coalescing with neighbours.
func (a *Arena) release(s span) {
	if s.off < reserved {
		if s.end() <= reserved {
			return
		}
		s.size -= reserved - s.off
		s.off = reserved
	}

	i := sort.Search(len(a.free), func(i int) bool { return a.free[i].off >= s.off })
	a.free = append(a.free, span{})
	copy(a.free[i+1:], a.free[i:])
	a.free[i] = s

	if i+1 < len(a.free) && a.free[i].end() == uint64(a.free[i+1].off) {
		a.free[i].size += a.free[i+1].size
		a.free = append(a.free[:i+1], a.free[i+2:]...)
	}
	if i > 0 && a.free[i-1].end() == uint64(a.free[i].off) {
		a.free[i-1].size += a.free[i].size
		a.free = append(a.free[:i], a.free[i+1:]...)
	}
}

func alignUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}
