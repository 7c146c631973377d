package lightbridge

// PageSize is the size of one linear memory page in bytes.
const PageSize = 65536

// MaxPages is the largest memory size, in pages, whose byte size still fits
// in the uint32 returned by Memory.Size.
const MaxPages = 65535

// Memory represents growable sandbox linear memory
type Memory interface {
	Read(offset uint32, length uint32) ([]byte, error)
	Write(offset uint32, data []byte) error
	// Size returns the current size in bytes.
	Size() uint32
	// Grow adds delta pages and returns the previous size in pages.
	Grow(deltaPages uint32) (previousPages uint32, ok bool)
}

// Allocator allocates memory in linear memory
type Allocator interface {
	Alloc(size, align uint32) (uint32, error)
	Free(ptr, size, align uint32)
}
