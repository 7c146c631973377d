package alloc

// Buffer is a byte range staged in linear memory.
// The zero Buffer is empty and owns no allocation.
type Buffer struct {
	Ptr uint32
	Len uint32
}

// IsZero reports whether the buffer owns no allocation.
func (b Buffer) IsZero() bool {
	return b.Ptr == 0
}

// Store copies data into a fresh allocation.
func (a *Arena) Store(data []byte) (Buffer, error) {
	if len(data) == 0 {
		return Buffer{}, nil
	}
	ptr, err := a.Alloc(uint32(len(data)), 1)
	if err != nil {
		return Buffer{}, err
	}
	if err := a.mem.Write(ptr, data); err != nil {
		a.Free(ptr, uint32(len(data)), 1)
		return Buffer{}, err
	}
	return Buffer{Ptr: ptr, Len: uint32(len(data))}, nil
}

// Load copies the buffer's bytes out of linear memory.
func (a *Arena) Load(b Buffer) ([]byte, error) {
	if b.IsZero() {
		return nil, nil
	}
	view, err := a.mem.Read(b.Ptr, b.Len)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(view))
	copy(out, view)
	return out, nil
}

// Release frees the buffer's allocation.
func (a *Arena) Release(b Buffer) {
	if b.IsZero() {
		return
	}
	a.Free(b.Ptr, b.Len, 1)
}

// Take loads the buffer and releases it.
func (a *Arena) Take(b Buffer) ([]byte, error) {
	data, err := a.Load(b)
	a.Release(b)
	return data, err
}
