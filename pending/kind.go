package pending

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/wippyai/lightbridge/errors"
)

// Kind identifies the host action behind a pending operation.
// The set is open: engines add their own kinds with RegisterKind.
type Kind uint16

const (
	KindInvalid Kind = iota
	KindTimer
	KindSocketConnect
	KindSocketRead
	KindSocketWrite
	KindSocketClose
	KindStorageGet
)

type kindInfo struct {
	name        string
	cancellable bool
}

var (
	kindsMu sync.RWMutex
	kinds   = []kindInfo{
		KindInvalid:       {name: "invalid"},
		KindTimer:         {name: "timer", cancellable: true},
		KindSocketConnect: {name: "socket-connect", cancellable: true},
		KindSocketRead:    {name: "socket-read", cancellable: true},
		KindSocketWrite:   {name: "socket-write", cancellable: true},
		KindSocketClose:   {name: "socket-close"},
		KindStorageGet:    {name: "storage-get"},
	}
)

// RegisterKind adds an operation kind. Cancellable kinds produce a cancel
// request to the host when abandoned. Registering an existing name returns
// the existing kind.
func RegisterKind(name string, cancellable bool) Kind {
	kindsMu.Lock()
	defer kindsMu.Unlock()
	for i, k := range kinds {
		if k.name == name {
			return Kind(i)
		}
	}
	kinds = append(kinds, kindInfo{name: name, cancellable: cancellable})
	return Kind(len(kinds) - 1)
}

// KindByName looks up a kind by its registered name.
func KindByName(name string) (Kind, bool) {
	kindsMu.RLock()
	defer kindsMu.RUnlock()
	for i, k := range kinds {
		if k.name == name && i != int(KindInvalid) {
			return Kind(i), true
		}
	}
	return KindInvalid, false
}

func (k Kind) info() (kindInfo, bool) {
	kindsMu.RLock()
	defer kindsMu.RUnlock()
	if int(k) >= len(kinds) {
		return kindInfo{}, false
	}
	return kinds[k], true
}

func (k Kind) String() string {
	if info, ok := k.info(); ok {
		return info.name
	}
	return fmt.Sprintf("kind(%d)", uint16(k))
}

// Cancellable reports whether abandoning an operation of this kind must be
// forwarded to the host.
func (k Kind) Cancellable() bool {
	info, _ := k.info()
	return info.cancellable
}

// MarshalText encodes the kind as its name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Parameters for the built-in kinds.

type TimerParams struct {
	Duration time.Duration `json:"duration"`
}

type SocketConnectParams struct {
	Address string `json:"address"`
}

type SocketReadParams struct {
	Socket   uint64 `json:"socket"`
	MaxBytes int    `json:"max_bytes"`
}

type SocketWriteParams struct {
	Data   []byte `json:"data"`
	Socket uint64 `json:"socket"`
}

type SocketCloseParams struct {
	Socket uint64 `json:"socket"`
}

type StorageGetParams struct {
	Key []byte `json:"key"`
}

// EncodeSocket is the payload a host resolves a socket-connect with.
func EncodeSocket(id uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, id)
}

// DecodeSocket reads a socket-connect payload.
func DecodeSocket(payload []byte) (uint64, error) {
	if len(payload) != 8 {
		return 0, errors.InvalidInput(errors.PhaseResolve,
			fmt.Sprintf("socket payload is %d bytes, want 8", len(payload)))
	}
	return binary.BigEndian.Uint64(payload), nil
}
