package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:  PhaseIngest,
				Kind:   KindMalformedRequest,
				Path:   []string{"params", "0"},
				Op:     "chain_getHeader",
				Detail: "expected string",
			},
			contains: []string{"[ingest]", "malformed_request", "params.0", "(chain_getHeader)", "expected string"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseResolve,
				Kind:  KindHostContract,
			},
			contains: []string{"[resolve]", "host_contract"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseEngine,
				Kind:   KindEngine,
				Detail: "header decode",
				Cause:  errors.New("unexpected EOF"),
			},
			contains: []string{"[engine]", "engine", "header decode", "<- unexpected", "unexpected EOF"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := Wrap(PhaseHost, KindTimeout, cause, "dial")

	if !errors.Is(err, cause) {
		t.Fatal("errors.Is should find the cause")
	}
	if err.Unwrap() != cause {
		t.Fatal("Unwrap returned wrong cause")
	}
}

func TestError_Is(t *testing.T) {
	err := HostContract("unknown handle", uint64(999))

	if !errors.Is(err, &Error{Phase: PhaseResolve, Kind: KindHostContract}) {
		t.Error("expected match on phase and kind")
	}
	if errors.Is(err, &Error{Phase: PhaseIngest, Kind: KindHostContract}) {
		t.Error("different phase should not match")
	}
	if errors.Is(err, &Error{Phase: PhaseResolve, Kind: KindNotFound}) {
		t.Error("different kind should not match")
	}
}

func TestBuilder(t *testing.T) {
	err := New(PhaseResolve, KindHostContract).
		Op("timer").
		Value(uint64(7)).
		Path("handle").
		Detail("resolved %d times", 2).
		Cause(errors.New("boom")).
		Build()

	if err.Op != "timer" {
		t.Errorf("Op = %q", err.Op)
	}
	if err.Value != uint64(7) {
		t.Errorf("Value = %v", err.Value)
	}
	if err.Detail != "resolved 2 times" {
		t.Errorf("Detail = %q", err.Detail)
	}
	if len(err.Path) != 1 || err.Path[0] != "handle" {
		t.Errorf("Path = %v", err.Path)
	}
	if err.Cause == nil {
		t.Error("Cause not set")
	}
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		err   *Error
		phase Phase
		kind  Kind
	}{
		{HostContract("x", 1), PhaseResolve, KindHostContract},
		{Malformed(nil, "x"), PhaseIngest, KindMalformedRequest},
		{AllocationFailed(16, 8), PhaseAlloc, KindAllocation},
		{Engine("m", "x", nil), PhaseEngine, KindEngine},
		{NotFound(PhaseEngine, "method", "foo"), PhaseEngine, KindNotFound},
		{InvalidInput(PhaseConfig, "x"), PhaseConfig, KindInvalidInput},
		{Timeout(PhaseEngine, "timer"), PhaseEngine, KindTimeout},
		{Closed(PhaseIngest, "session"), PhaseIngest, KindClosed},
	}
	for _, tt := range tests {
		if tt.err.Phase != tt.phase || tt.err.Kind != tt.kind {
			t.Errorf("%v: got %s/%s, want %s/%s", tt.err, tt.err.Phase, tt.err.Kind, tt.phase, tt.kind)
		}
	}

	if msg := AllocationFailed(16, 8).Error(); !strings.Contains(msg, "cannot allocate 16 bytes aligned to 8") {
		t.Errorf("unexpected allocation message %q", msg)
	}
}

func TestKindOf(t *testing.T) {
	inner := Timeout(PhaseHost, "network-request")
	wrapped := fmt.Errorf("request failed: %w", inner)

	if got := KindOf(wrapped); got != KindTimeout {
		t.Errorf("KindOf(wrapped) = %q, want %q", got, KindTimeout)
	}
	if got := KindOf(errors.New("plain")); got != "" {
		t.Errorf("KindOf(plain) = %q, want empty", got)
	}
	if got := KindOf(nil); got != "" {
		t.Errorf("KindOf(nil) = %q, want empty", got)
	}
}

func TestIsThroughWrapping(t *testing.T) {
	inner := Timeout(PhaseEngine, "chain_getHeader")
	wrapped := fmt.Errorf("poll: %w", inner)
	if !Is(wrapped, &Error{Phase: PhaseEngine, Kind: KindTimeout}) {
		t.Fatal("Is should see through fmt wrapping")
	}
	var target *Error
	if !As(wrapped, &target) || target.Op != "chain_getHeader" {
		t.Fatalf("As = %+v", target)
	}
}
