package transport

import (
	"errors"
	"io"
	"net"
	"strings"
	"syscall"
)

const errPrefix = "transport: "

var (
	ErrResolve          = errors.New("transport: cannot resolve remote endpoint")
	ErrConnectTimeout   = errors.New("transport: connect timed out")
	ErrBrokenPacket     = errors.New("transport: broken packet")
	ErrRemoteClosed     = errors.New("transport: connection closed by remote")
	ErrConnectionClosed = errors.New("transport: connection closed")
)

// Error is a socket-level fault observed by the transport. Op names the
// operation ("connect", "send", "receive command", ...).
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	var msg string
	if e.Err != nil {
		msg = strings.TrimPrefix(e.Err.Error(), errPrefix)
	}
	if e.Op == "" {
		return errPrefix + msg
	}
	return errPrefix + e.Op + ": " + msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// wrapError converts socket-level errors into *Error and passes every other
// error through unchanged.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return err
	}
	if isSocketError(err) {
		return &Error{Op: op, Err: err}
	}
	return err
}

func isSocketError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return true
	}
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}

// errorKind is the metrics label for a recorded fault.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrBrokenPacket):
		return "broken_packet"
	case errors.Is(err, ErrRemoteClosed):
		return "remote_closed"
	case errors.Is(err, ErrConnectTimeout):
		return "connect"
	case errors.Is(err, ErrConnectionClosed):
		return "closed"
	}
	var te *Error
	if errors.As(err, &te) {
		return "socket"
	}
	return "other"
}
