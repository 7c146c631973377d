package alloc

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	lightbridge "github.com/wippyai/lightbridge"
)

// HeapMemory is linear memory backed by a Go byte slice.
type HeapMemory struct {
	data     []byte
	maxPages uint32
}

// NewHeapMemory creates heap-backed linear memory with the given initial size
// in pages. maxPages of 0, or above lightbridge.MaxPages, means MaxPages.
func NewHeapMemory(initialPages, maxPages uint32) *HeapMemory {
	if maxPages == 0 || maxPages > lightbridge.MaxPages {
		maxPages = lightbridge.MaxPages
	}
	return &HeapMemory{
		data:     make([]byte, int(initialPages)*lightbridge.PageSize),
		maxPages: maxPages,
	}
}

func (m *HeapMemory) Read(offset uint32, length uint32) ([]byte, error) {
	end := uint64(offset) + uint64(length)
	if end > uint64(len(m.data)) {
		return nil, fmt.Errorf("read out of bounds: offset=%d, length=%d", offset, length)
	}
	return m.data[offset:end], nil
}

func (m *HeapMemory) Write(offset uint32, data []byte) error {
	end := uint64(offset) + uint64(len(data))
	if end > uint64(len(m.data)) {
		return fmt.Errorf("write out of bounds: offset=%d, length=%d", offset, len(data))
	}
	copy(m.data[offset:], data)
	return nil
}

func (m *HeapMemory) Size() uint32 {
	return uint32(len(m.data))
}

func (m *HeapMemory) Grow(deltaPages uint32) (uint32, bool) {
	prev := uint32(len(m.data) / lightbridge.PageSize)
	if uint64(prev)+uint64(deltaPages) > uint64(m.maxPages) {
		return prev, false
	}
	grown := make([]byte, len(m.data)+int(deltaPages)*lightbridge.PageSize)
	copy(grown, m.data)
	m.data = grown
	return prev, true
}

// WazeroMemory wraps wazero memory to implement lightbridge.Memory
type WazeroMemory struct {
	mem api.Memory
}

// NewWazeroMemory wraps the memory of an instantiated sandbox module.
func NewWazeroMemory(mem api.Memory) *WazeroMemory {
	return &WazeroMemory{mem: mem}
}

func (m *WazeroMemory) Read(offset uint32, length uint32) ([]byte, error) {
	data, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, fmt.Errorf("read out of bounds: offset=%d, length=%d", offset, length)
	}
	return data, nil
}

func (m *WazeroMemory) Write(offset uint32, data []byte) error {
	if !m.mem.Write(offset, data) {
		return fmt.Errorf("write out of bounds: offset=%d, length=%d", offset, len(data))
	}
	return nil
}

func (m *WazeroMemory) Size() uint32 {
	return m.mem.Size()
}

func (m *WazeroMemory) Grow(deltaPages uint32) (uint32, bool) {
	return m.mem.Grow(deltaPages)
}

// SandboxMemory is linear memory exported by a wazero module instance that
// exists only to own it. Close releases the runtime.
type SandboxMemory struct {
	*WazeroMemory
	runtime wazero.Runtime
}

// NewSandboxMemory instantiates a memory-only module in a fresh wazero
// runtime and returns its exported memory. maxPages is capped like
// NewHeapMemory.
func NewSandboxMemory(ctx context.Context, initialPages, maxPages uint32) (*SandboxMemory, error) {
	if maxPages == 0 || maxPages > lightbridge.MaxPages {
		maxPages = lightbridge.MaxPages
	}
	cfg := wazero.NewRuntimeConfig().WithMemoryLimitPages(maxPages)
	rt := wazero.NewRuntimeWithConfig(ctx, cfg)

	mod, err := rt.Instantiate(ctx, memoryModule(initialPages, maxPages))
	if err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("instantiate memory module: %w", err)
	}
	mem := mod.ExportedMemory("memory")
	if mem == nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("memory module exports no memory")
	}
	return &SandboxMemory{WazeroMemory: NewWazeroMemory(mem), runtime: rt}, nil
}

// Close releases the wazero runtime owning the memory.
func (m *SandboxMemory) Close(ctx context.Context) error {
	return m.runtime.Close(ctx)
}

// memoryModule encodes a core module with one exported memory.
func memoryModule(initialPages, maxPages uint32) []byte {
	mem := []byte{0x01} // one memory
	if maxPages > 0 {
		mem = append(mem, 0x01)
		mem = appendULEB128(mem, initialPages)
		mem = appendULEB128(mem, maxPages)
	} else {
		mem = append(mem, 0x00)
		mem = appendULEB128(mem, initialPages)
	}

	export := []byte{0x01, 0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00}

	out := []byte{0x00, 'a', 's', 'm', 0x01, 0x00, 0x00, 0x00}
	out = appendSection(out, 0x05, mem)
	out = appendSection(out, 0x07, export)
	return out
}

func appendSection(out []byte, id byte, content []byte) []byte {
	out = append(out, id)
	out = appendULEB128(out, uint32(len(content)))
	return append(out, content...)
}

func appendULEB128(out []byte, v uint32) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
			continue
		}
		return append(out, b)
	}
}
