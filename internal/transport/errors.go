package transport

import (
	"errors"
	"fmt"

	"go.bug.st/serial"
)

var (
	// ErrClosed is returned when the session has no open port.
	ErrClosed = errors.New("serial port is closed")
	// ErrTimeout is returned when the port read timed out before the full
	// acknowledgment arrived.
	ErrTimeout = errors.New("timed out waiting for acknowledgment")
)

// OpenError is returned when a port cannot be opened.
type OpenError struct {
	Port string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("failed to open serial port %q: %v", e.Port, e.Err)
}

func (e *OpenError) Unwrap() error {
	return e.Err
}

// Code returns the serial error code if the port library reported one.
func (e *OpenError) Code() (serial.PortErrorCode, bool) {
	var portErr *serial.PortError
	if errors.As(e.Err, &portErr) {
		return portErr.Code(), true
	}
	return 0, false
}

// IOError is returned when a write, flush or read on an open port fails.
type IOError struct {
	// Op is one of "write", "flush" or "read".
	Op string
	// N is the number of bytes transferred before the failure.
	N   int
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("serial %s failed after %d bytes: %v", e.Op, e.N, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
