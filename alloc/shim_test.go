package alloc

import (
	"testing"

	lightbridge "github.com/wippyai/lightbridge"
	"github.com/wippyai/lightbridge/errors"
)

func TestInit_Once(t *testing.T) {
	first := Init(NewHeapMemory(1, 2), Config{})
	second := Init(NewHeapMemory(4, 8), Config{})
	if first != second {
		t.Fatal("Init must only take effect once")
	}
	if Default() != first {
		t.Fatal("Default must return the installed arena")
	}
}

func TestFatal_UsesAbortHook(t *testing.T) {
	var got error
	prev := abort
	abort = func(err error) { got = err }
	defer func() { abort = prev }()

	a := NewArena(NewHeapMemory(1, 1))
	b := a.MustStore(make([]byte, 2*lightbridge.PageSize))
	if !b.IsZero() {
		t.Fatal("failed store should yield an empty buffer")
	}
	if errors.KindOf(got) != errors.KindAllocation {
		t.Fatalf("abort received %v", got)
	}
}
