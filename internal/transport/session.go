// Package transport owns the serial port that frames are written to.
package transport

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
)

// Port is a byte-stream device. go.bug.st/serial ports satisfy it.
type Port interface {
	io.ReadWriteCloser
	// Drain blocks until everything written has been transmitted.
	Drain() error
}

var _ Port = (serial.Port)(nil)

// Opener opens the port with the given name at the given baud rate.
type Opener func(name string, baud int) (Port, error)

// SerialOpener returns an Opener for real serial ports. Reads time out after
// readTimeout; a zero readTimeout blocks forever.
func SerialOpener(readTimeout time.Duration) Opener {
	return func(name string, baud int) (Port, error) {
		port, err := serial.Open(name, &serial.Mode{
			BaudRate: baud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		})
		if err != nil {
			return nil, err
		}

		timeout := serial.NoTimeout
		if readTimeout > 0 {
			timeout = readTimeout
		}

		if err := port.SetReadTimeout(timeout); err != nil {
			port.Close()
			return nil, fmt.Errorf("failed to set read timeout: %w", err)
		}

		return port, nil
	}
}

// Session holds at most one open port. Every operation on it is serialized
// by a single lock, so a frame exchange can never interleave with another
// exchange or with the port being closed. IsOpen, Name and Generation do not
// take the lock and never wait for an exchange.
type Session struct {
	mu   sync.Mutex
	port Port

	gen  atomic.Uint64 // bumped on every open and close
	open atomic.Bool
	name atomic.Value // string
}

// Open opens the named port, closing whatever port the session held before.
func (s *Session) Open(opener Opener, name string, baud int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.close()

	port, err := opener(name, baud)
	if err != nil {
		return &OpenError{Port: name, Err: err}
	}

	s.port = port
	s.gen.Add(1)
	s.name.Store(name)
	s.open.Store(true)
	return nil
}

// Close closes the port. It is safe to call on a session that was never
// opened, and to call more than once.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.close()
}

func (s *Session) close() error {
	if s.port == nil {
		return nil
	}

	err := s.port.Close()
	s.port = nil
	s.gen.Add(1)
	s.open.Store(false)
	s.name.Store("")

	if err != nil {
		return fmt.Errorf("failed to close serial port: %w", err)
	}
	return nil
}

// IsOpen returns true if the session holds an open port.
func (s *Session) IsOpen() bool {
	if s == nil {
		return false
	}
	return s.open.Load()
}

// Name returns the name of the open port, or an empty string.
func (s *Session) Name() string {
	if s == nil {
		return ""
	}
	name, _ := s.name.Load().(string)
	return name
}

// Generation identifies the port the session currently holds. It changes
// whenever the port is opened or closed.
func (s *Session) Generation() uint64 {
	if s == nil {
		return 0
	}
	return s.gen.Load()
}

// Exchange writes packet to the port, waits for it to be transmitted, then
// reads exactly ackLen bytes back. The bytes read so far are returned even on
// error.
func (s *Session) Exchange(packet []byte, ackLen int) ([]byte, error) {
	return s.ExchangeOn(s.Generation(), packet, ackLen)
}

// ExchangeOn is like Exchange, but only talks to the port of the given
// generation. If that port has been closed since, even if another port was
// opened in its place, it fails with ErrClosed.
func (s *Session) ExchangeOn(gen uint64, packet []byte, ackLen int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil || s.gen.Load() != gen {
		return nil, &IOError{Op: "write", Err: ErrClosed}
	}

	var written int
	for written < len(packet) {
		n, err := s.port.Write(packet[written:])
		written += n
		if err != nil {
			return nil, &IOError{Op: "write", N: written, Err: err}
		}
		if n == 0 {
			return nil, &IOError{Op: "write", N: written, Err: io.ErrShortWrite}
		}
	}

	if err := s.port.Drain(); err != nil {
		return nil, &IOError{Op: "flush", N: written, Err: err}
	}

	ack := make([]byte, ackLen)
	var read int
	for read < ackLen {
		n, err := s.port.Read(ack[read:])
		read += n
		if err != nil {
			return ack[:read], &IOError{Op: "read", N: read, Err: err}
		}
		// A zero-length read without an error is how the serial port reports
		// a read timeout.
		if n == 0 {
			return ack[:read], &IOError{Op: "read", N: read, Err: ErrTimeout}
		}
	}

	return ack, nil
}
