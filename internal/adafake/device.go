// Package adafake implements an in-memory Adalight device. It plays the
// firmware side of the wire: it parses frames written to it and answers each
// one with an acknowledgment.
package adafake

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"libdb.so/adaglow/internal/led"
	"libdb.so/adaglow/internal/transport"
	"libdb.so/adaglow/ledserial"
)

// Frame is a frame received by the device.
type Frame struct {
	Header ledserial.Header
	Pix    []uint8
}

// LEDs returns the frame colors as an LED strip.
func (f Frame) LEDs() led.LEDs {
	leds := led.NewLEDs(len(f.Pix) / 3)
	for i := range leds {
		copy(leds[i][:], f.Pix[3*i:])
	}
	return leds
}

// Device stores the current state of the device.
type Device struct {
	mu     sync.Mutex
	cfg    Config
	in     bytes.Buffer
	out    chan byte
	done   chan struct{}
	open   bool
	frames []Frame
	errs   []error
	opens  int
	held   chan struct{}

	busy       atomic.Int32
	overlapped atomic.Bool
}

// Config controls how the device misbehaves.
type Config struct {
	// Ack is what the device answers each frame with. Defaults to the magic.
	Ack []byte
	// Silent devices never answer.
	Silent bool
	// ReadTimeout makes reads return (0, nil) after the given duration, the
	// way a serial port with a read timeout does. Zero blocks forever.
	ReadTimeout time.Duration
	// OpenErr is returned by the opener.
	OpenErr error
	// WriteErr is returned by every write.
	WriteErr error
}

var _ transport.Port = (*Device)(nil)

// New creates a new device.
func New(cfg Config) *Device {
	if cfg.Ack == nil {
		cfg.Ack = []byte(ledserial.Magic)
	}
	return &Device{
		cfg: cfg,
		out: make(chan byte, 1024),
	}
}

// Opener returns a transport.Opener that opens this device regardless of the
// port name.
func (d *Device) Opener() transport.Opener {
	return func(name string, baud int) (transport.Port, error) {
		d.mu.Lock()
		defer d.mu.Unlock()

		d.opens++
		if d.cfg.OpenErr != nil {
			return nil, d.cfg.OpenErr
		}

		d.open = true
		d.done = make(chan struct{})
		d.in.Reset()
		for len(d.out) > 0 {
			<-d.out
		}
		d.busy.Store(0)
		return d, nil
	}
}

// SetConfig replaces the device configuration.
func (d *Device) SetConfig(cfg Config) {
	if cfg.Ack == nil {
		cfg.Ack = []byte(ledserial.Magic)
	}

	d.mu.Lock()
	d.cfg = cfg
	d.mu.Unlock()
}

// Hold makes every write block until the returned release function is
// called.
func (d *Device) Hold() (release func()) {
	held := make(chan struct{})

	d.mu.Lock()
	d.held = held
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			if d.held == held {
				d.held = nil
			}
			d.mu.Unlock()
			close(held)
		})
	}
}

// Write implements io.Writer. It parses complete frames out of everything
// written so far and acknowledges each one.
func (d *Device) Write(b []byte) (int, error) {
	if d.busy.Add(1) > 1 {
		d.overlapped.Store(true)
	}

	d.mu.Lock()
	held := d.held
	d.mu.Unlock()

	if held != nil {
		<-held
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.open {
		d.idle()
		return 0, os.ErrClosed
	}
	if d.cfg.WriteErr != nil {
		d.idle()
		return 0, d.cfg.WriteErr
	}

	d.in.Write(b)

	for {
		p, err := d.readPacket()
		if err != nil {
			d.logError(err)
			d.in.Reset()
			break
		}
		if p == nil {
			break
		}
		d.handlePacket(*p)
	}

	return len(b), nil
}

// readPacket returns the next complete frame in the input buffer, or nil if
// the buffer does not hold one yet.
func (d *Device) readPacket() (*Frame, error) {
	r := bytes.NewReader(d.in.Bytes())

	h, pix, err := ledserial.ReadPacket(r)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, nil
		}
		return nil, err
	}

	d.in.Next(d.in.Len() - r.Len())
	return &Frame{Header: h, Pix: pix}, nil
}

func (d *Device) handlePacket(f Frame) {
	d.frames = append(d.frames, f)

	if d.cfg.Silent {
		return
	}

	for _, b := range d.cfg.Ack {
		select {
		case d.out <- b:
		default:
			d.logError(errors.New("ack buffer full"))
			return
		}
	}
}

func (d *Device) logError(err error) {
	d.errs = append(d.errs, err)
}

// idle marks the current exchange as finished.
func (d *Device) idle() {
	for {
		n := d.busy.Load()
		if n <= 0 || d.busy.CompareAndSwap(n, n-1) {
			return
		}
	}
}

// Drain implements transport.Port.
func (d *Device) Drain() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.open {
		return os.ErrClosed
	}
	return nil
}

// Read implements io.Reader. It blocks until at least one acknowledgment byte
// is available, the device is closed or the read timeout expires.
func (d *Device) Read(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}

	d.mu.Lock()
	done := d.done
	timeout := d.cfg.ReadTimeout
	open := d.open
	d.mu.Unlock()

	if !open {
		return 0, os.ErrClosed
	}

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	var n int
	select {
	case c := <-d.out:
		b[0] = c
		n = 1
	case <-done:
		d.idle()
		return 0, os.ErrClosed
	case <-timer:
		d.idle()
		return 0, nil
	}

	for n < len(b) {
		select {
		case c := <-d.out:
			b[n] = c
			n++
			continue
		default:
		}
		break
	}

	if len(d.out) == 0 {
		d.idle()
	}

	return n, nil
}

// Close implements io.Closer.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.open {
		return os.ErrClosed
	}

	d.open = false
	close(d.done)
	return nil
}

// IsOpen returns true if the device is open.
func (d *Device) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.open
}

// Opens returns how many times the device has been opened.
func (d *Device) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.opens
}

// Frames returns a copy of every frame received so far.
func (d *Device) Frames() []Frame {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]Frame(nil), d.frames...)
}

// LastFrame returns the most recent frame.
func (d *Device) LastFrame() (Frame, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.frames) == 0 {
		return Frame{}, false
	}
	return d.frames[len(d.frames)-1], true
}

// Err returns every parse error joined together, or nil.
func (d *Device) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.errs) == 0 {
		return nil
	}
	return fmt.Errorf("device errors: %w", errors.Join(d.errs...))
}

// Overlapped returns true if a frame was written before the previous frame's
// acknowledgment had been read.
func (d *Device) Overlapped() bool {
	return d.overlapped.Load()
}
