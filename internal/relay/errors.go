// Package relay defines the error taxonomy shared by the registry,
// dispatcher, and server lifecycle.
package relay

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
)

var (
	// ErrDuplicateName is returned when a display name is already registered.
	ErrDuplicateName = errors.New("relay: display name already registered")

	// ErrDuplicateID is returned when a session id is already registered.
	ErrDuplicateID = errors.New("relay: session id already registered")
	// ErrTargetNotFound is returned when a directed message names a session
	// that is not registered or no longer connected.
	ErrTargetNotFound = errors.New("relay: target not found or disconnected")

	// ErrPeerUnreachable is returned when a message cannot be handed to a
	// session's write path.
	ErrPeerUnreachable = errors.New("relay: peer unreachable")

	// ErrPeerClosed is reported when the remote side closed its connection.
	ErrPeerClosed = errors.New("relay: peer closed connection")

	// ErrServerStopped is returned by operations that need a running server.
	ErrServerStopped = errors.New("relay: server is not running")

	// ErrAlreadyRunning is returned by Start on a running server.
	ErrAlreadyRunning = errors.New("relay: server is already running")

	// ErrMessageTooLong is returned by transports when an inbound frame
	// exceeds the configured maximum size.
	ErrMessageTooLong = errors.New("relay: message exceeds maximum size")

	errSendQueueFull = fmt.Errorf("%w: send queue full", ErrPeerUnreachable)
	errSessionClosed = fmt.Errorf("%w: session closed", ErrPeerUnreachable)
)

// BindError reports that the listening socket could not be opened.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("relay: unable to listen on %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// DuplicateNameError carries the name rejected by Registry.Add.
// It matches ErrDuplicateName with errors.Is.
type DuplicateNameError struct {
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("relay: display name %q already registered", e.Name)
}

// Is reports whether target is ErrDuplicateName.
func (e *DuplicateNameError) Is(target error) bool {
	return target == ErrDuplicateName
}

// IsExpectedCloseError reports whether err is the normal by-product of a
// connection being closed, either by the peer or by this process.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, ErrPeerClosed) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset by peer")
}
