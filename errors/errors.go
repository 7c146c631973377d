package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase names the bridge stage that produced an error.
type Phase string

const (
	PhaseIngest  Phase = "ingest"  // JSON-RPC text entering from the host
	PhaseResolve Phase = "resolve" // host completion notifications
	PhaseDrive   Phase = "drive"   // executor drive loop
	PhaseEngine  Phase = "engine"  // engine adapter
	PhaseAlloc   Phase = "alloc"   // linear memory allocator
	PhaseHost    Phase = "host"    // host-side services
	PhaseConfig  Phase = "config"  // configuration loading
)

// Kind is the failure class, stable enough to branch on.
type Kind string

const (
	KindHostContract     Kind = "host_contract"
	KindMalformedRequest Kind = "malformed_request"
	KindAllocation       Kind = "allocation"
	KindEngine           Kind = "engine"
	KindNotFound         Kind = "not_found"
	KindReentrant        Kind = "reentrant"
	KindInvalidInput     Kind = "invalid_input"
	KindClosed           Kind = "closed"
	KindTimeout          Kind = "timeout"
	KindCancelled        Kind = "cancelled"
	KindUnsupported      Kind = "unsupported"
)

// Error is the structured error type used throughout the bridge
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Op     string
	Detail string
	Path   []string
}

func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Op != "" {
		b.WriteString(" (")
		b.WriteString(e.Op)
		b.WriteByte(')')
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" <- ")
		b.WriteString(e.Cause.Error())
	}

	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on Phase and Kind only, so package sentinels compare equal to
// errors that carry extra detail.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder assembles an Error field by field.
type Builder struct {
	err Error
}

// New starts an Error for phase and kind.
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Op sets the operation kind or method the error concerns
func (b *Builder) Op(op string) *Builder {
	b.err.Op = op
	return b
}

func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the message, formatting it when args are given.
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

func (b *Builder) Build() *Error {
	return &b.err
}

// HostContract creates a host contract violation for a resolve call
func HostContract(detail string, handle any) *Error {
	return &Error{
		Phase:  PhaseResolve,
		Kind:   KindHostContract,
		Detail: detail,
		Value:  handle,
	}
}

// Malformed creates a malformed request error
func Malformed(path []string, detail string) *Error {
	return &Error{
		Phase:  PhaseIngest,
		Kind:   KindMalformedRequest,
		Path:   path,
		Detail: detail,
	}
}

// AllocationFailed reports linear memory exhaustion.
func AllocationFailed(size, align uint32) *Error {
	return &Error{
		Phase:  PhaseAlloc,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("cannot allocate %d bytes aligned to %d", size, align),
	}
}

// Engine creates an engine error for a method
func Engine(method, detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseEngine,
		Kind:   KindEngine,
		Op:     method,
		Detail: detail,
		Cause:  cause,
	}
}

func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("no %s named %q", what, name),
	}
}

func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Timeout creates a timeout error for an operation
func Timeout(phase Phase, op string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTimeout,
		Op:     op,
		Detail: "deadline exceeded",
	}
}

// Closed creates an error for use after shutdown
func Closed(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindClosed,
		Detail: fmt.Sprintf("%s closed", what),
	}
}

// Wrap attaches phase, kind and detail to cause.
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}
