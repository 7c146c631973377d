package host

import (
	stderrors "errors"
	"io"
	"net"
	"os"
	"syscall"

	"github.com/wippyai/lightbridge/errors"
)

// NetworkCode classifies a failed network operation.
type NetworkCode string

const (
	NetworkUnknown           NetworkCode = "unknown"
	NetworkAccessDenied      NetworkCode = "access-denied"
	NetworkInvalidArgument   NetworkCode = "invalid-argument"
	NetworkTimeout           NetworkCode = "timeout"
	NetworkConnectionRefused NetworkCode = "connection-refused"
	NetworkConnectionReset   NetworkCode = "connection-reset"
	NetworkConnectionAborted NetworkCode = "connection-aborted"
	NetworkRemoteUnreachable NetworkCode = "remote-unreachable"
	NetworkNameUnresolvable  NetworkCode = "name-unresolvable"
	NetworkResolverFailure   NetworkCode = "resolver-failure"
	NetworkClosed            NetworkCode = "closed"
	NetworkSocketLimit       NetworkCode = "new-socket-limit"
	NetworkInvalidState      NetworkCode = "invalid-state"
)

// netError turns a Go network error into the error a pending operation is
// resolved with.
func netError(op string, err error) *errors.Error {
	code := mapNetError(err)
	var kind errors.Kind
	switch code {
	case NetworkTimeout:
		kind = errors.KindTimeout
	case NetworkClosed:
		kind = errors.KindClosed
	case NetworkInvalidArgument:
		kind = errors.KindInvalidInput
	default:
		kind = errors.KindEngine
	}
	return errors.New(errors.PhaseHost, kind).
		Op(op).
		Value(code).
		Detail("%s", code).
		Cause(err).
		Build()
}

func mapNetError(err error) NetworkCode {
	if err == nil {
		return ""
	}
	if stderrors.Is(err, net.ErrClosed) || stderrors.Is(err, io.EOF) {
		return NetworkClosed
	}

	var opErr *net.OpError
	if stderrors.As(err, &opErr) {
		var errno syscall.Errno
		if stderrors.As(opErr.Err, &errno) {
			return mapErrno(errno)
		}
		if opErr.Timeout() {
			return NetworkTimeout
		}
	}

	var addrErr *net.AddrError
	if stderrors.As(err, &addrErr) {
		return NetworkInvalidArgument
	}

	var dnsErr *net.DNSError
	if stderrors.As(err, &dnsErr) {
		if dnsErr.IsNotFound {
			return NetworkNameUnresolvable
		}
		return NetworkResolverFailure
	}

	if os.IsTimeout(err) {
		return NetworkTimeout
	}
	if os.IsPermission(err) {
		return NetworkAccessDenied
	}
	return NetworkUnknown
}

func mapErrno(errno syscall.Errno) NetworkCode {
	switch errno {
	case syscall.EACCES, syscall.EPERM:
		return NetworkAccessDenied
	case syscall.ECONNREFUSED:
		return NetworkConnectionRefused
	case syscall.ECONNRESET, syscall.EPIPE:
		return NetworkConnectionReset
	case syscall.ECONNABORTED:
		return NetworkConnectionAborted
	case syscall.EHOSTUNREACH, syscall.ENETUNREACH:
		return NetworkRemoteUnreachable
	case syscall.ETIMEDOUT:
		return NetworkTimeout
	case syscall.EINVAL:
		return NetworkInvalidArgument
	case syscall.ENOTCONN, syscall.ENOTSOCK:
		return NetworkInvalidState
	case syscall.EMFILE, syscall.ENFILE:
		return NetworkSocketLimit
	default:
		return NetworkUnknown
	}
}
