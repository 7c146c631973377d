package alloc

import (
	"os"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"

	lightbridge "github.com/wippyai/lightbridge"
)

// exitAllocationFailure is the process exit status after memory exhaustion.
const exitAllocationFailure = 70

// Config sizes the process-wide arena.
type Config struct {
	// InitialPages is the linear memory size at start, in 64 KiB pages.
	InitialPages uint32
	// MaxPages caps linear memory growth. 0 means lightbridge.MaxPages.
	MaxPages uint32
	// LimitBytes, when positive, is applied as the Go runtime soft memory limit.
	LimitBytes int64
}

var (
	global   *Arena
	initOnce sync.Once

	abort = func(err error) {
		Logger().Error("linear memory exhausted", zap.Error(err))
		_ = Logger().Sync()
		os.Exit(exitAllocationFailure)
	}
)

// Init installs the process-wide arena over mem. Only the first call has an
// effect; later calls return the arena installed by the first. A nil mem
// selects heap-backed memory sized by cfg.
func Init(mem lightbridge.Memory, cfg Config) *Arena {
	initOnce.Do(func() {
		if mem == nil {
			mem = NewHeapMemory(cfg.InitialPages, cfg.MaxPages)
		}
		if cfg.LimitBytes > 0 {
			debug.SetMemoryLimit(cfg.LimitBytes)
		}
		global = NewArena(mem)
		Logger().Debug("arena initialized",
			zap.Uint32("size", mem.Size()),
			zap.Uint32("max_pages", cfg.MaxPages))
	})
	return global
}

// Default returns the process-wide arena, initializing heap-backed memory
// with default sizing if Init was never called.
func Default() *Arena {
	return Init(nil, Config{})
}

// Fatal aborts the process after an allocation failure.
// There is no supervisor to recover into, so this never returns.
func Fatal(err error) {
	abort(err)
}

// MustStore is Store that treats exhaustion as fatal.
func (a *Arena) MustStore(data []byte) Buffer {
	b, err := a.Store(data)
	if err != nil {
		Fatal(err)
	}
	return b
}
