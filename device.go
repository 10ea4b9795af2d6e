package adaglow

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"libdb.so/adaglow/internal/events"
	"libdb.so/adaglow/internal/led"
	"libdb.so/adaglow/internal/metrics"
	"libdb.so/adaglow/internal/transport"
	"libdb.so/adaglow/ledserial"
)

// State is the lifecycle state of a Device.
type State int

const (
	Uninitialized State = iota
	Initialized
	Crashed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initialized:
		return "initialized"
	case Crashed:
		return "crashed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Option configures a Device.
type Option func(*Device)

// WithOpener sets how the serial port is opened. By default, real serial
// ports are opened with the configured read timeout.
func WithOpener(opener transport.Opener) Option {
	return func(d *Device) { d.opener = opener }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(d *Device) { d.logger = logger }
}

// WithEvents publishes state changes and sent frames on bus.
func WithEvents(bus *events.Bus) Option {
	return func(d *Device) { d.events = bus }
}

// WithMetrics records sends and crashes into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Device) { d.metrics = m }
}

// Device drives an Adalight LED strip. It moves between the Uninitialized,
// Initialized and Crashed states; any transport failure crashes it, and it
// stays crashed until Initialize or Reset is called.
//
// The lifecycle methods must not be called concurrently with each other.
// Status methods may be called from any goroutine.
type Device struct {
	opener  transport.Opener
	logger  *slog.Logger
	events  *events.Bus
	metrics *metrics.Metrics
	session transport.Session

	mu         sync.Mutex
	cfg        Config
	state      State
	crash      *CrashError
	header     ledserial.Header
	assignment led.Assignment
	numLEDs    int
	pending    chan struct{} // closed when the in-flight send is done

	lastUpdate atomic.Int64 // time.Duration
}

// NewDevice creates a new uninitialized device.
func NewDevice(cfg Config, opts ...Option) *Device {
	d := &Device{cfg: cfg}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	d.metrics.SetState(int(Uninitialized))
	return d
}

// Config returns the configuration the device uses on its next
// initialization.
func (d *Device) Config() Config {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.cfg
}

// SetConfig replaces the configuration. The running connection is not
// touched; the new configuration takes effect on the next Initialize or
// Reset.
func (d *Device) SetConfig(cfg Config) {
	d.mu.Lock()
	d.cfg = cfg
	d.mu.Unlock()
}

// Initialize opens the serial port and prepares the frame header and zone
// assignment from the current configuration. On failure, the device is
// crashed and the returned error is a *CrashError.
func (d *Device) Initialize() error {
	cfg := d.Config()

	if err := cfg.Validate(); err != nil {
		return d.crashed(StageInitialization, errors.Wrap(err, "invalid configuration"))
	}

	header, err := ledserial.NewHeader(cfg.LEDs)
	if err != nil {
		return d.crashed(StageInitialization, errors.Wrap(err, "failed to build frame header"))
	}

	opener := d.opener
	if opener == nil {
		opener = transport.SerialOpener(time.Duration(cfg.ReadTimeout))
	}

	d.logger.Debug(
		"opening serial port",
		"device", cfg.Device,
		"baud", cfg.Baud)

	if err := d.session.Open(opener, cfg.Device, cfg.Baud); err != nil {
		return d.crashed(StageInitialization, err)
	}

	assignment := led.AssignZones(cfg.LEDs, cfg.Zones)

	d.mu.Lock()
	from := d.state
	d.header = header
	d.assignment = assignment
	d.numLEDs = cfg.LEDs
	d.crash = nil
	d.state = Initialized
	d.mu.Unlock()

	d.logger.Info(
		"device initialized",
		"device", cfg.Device,
		"leds", cfg.LEDs,
		"zones", len(cfg.Zones))

	d.stateChanged(from, Initialized, nil)
	return nil
}

// Shutdown closes the serial port. The device is uninitialized afterwards,
// even if it had crashed.
func (d *Device) Shutdown() {
	if err := d.session.Close(); err != nil {
		d.logger.Warn(
			"failed to close serial port",
			"error", err)
	}

	d.mu.Lock()
	from := d.state
	d.state = Uninitialized
	d.crash = nil
	d.mu.Unlock()

	if from != Uninitialized {
		d.logger.Debug("device shut down")
		d.stateChanged(from, Uninitialized, nil)
	}
}

// Reset shuts the device down and initializes it again. It does nothing
// unless the device is initialized.
func (d *Device) Reset() error {
	if d.State() != Initialized {
		return nil
	}

	d.Shutdown()
	return d.Initialize()
}

// crashed latches the device into the Crashed state. It always returns the
// resulting *CrashError.
func (d *Device) crashed(stage Stage, err error) error {
	crash := &CrashError{Stage: stage, Err: err}

	d.mu.Lock()
	from := d.state
	d.state = Crashed
	d.crash = crash
	device := d.cfg.Device
	d.mu.Unlock()

	d.logger.Error(
		"device crashed",
		"stage", stage,
		"device", device,
		"error", err)

	d.metrics.Crashed(string(stage))
	d.stateChanged(from, Crashed, crash)
	return crash
}

func (d *Device) stateChanged(from, to State, crash *CrashError) {
	d.metrics.SetState(int(to))

	if d.events == nil {
		return
	}

	ev := events.StateChangedEvent{
		Port: d.Config().Device,
		From: from.String(),
		To:   to.String(),
		At:   time.Now(),
	}
	if crash != nil {
		ev.Stage = string(crash.Stage)
		ev.Error = crash.Err.Error()
	}
	d.events.Publish(ev)
}

// State returns the current state.
func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.state
}

// Crash returns the cause of the last crash, or nil if the device is not
// crashed.
func (d *Device) Crash() *CrashError {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.crash
}

// IsConnected returns true if the serial port is open.
func (d *Device) IsConnected() bool {
	return d.session.IsOpen()
}

// IsInitialized returns true if the device is initialized and not crashed.
func (d *Device) IsInitialized() bool {
	return d.State() == Initialized
}

// IsKeyboardConnected returns true if the device can display key zones. The
// strip stands in for a keyboard, so this is IsConnected.
func (d *Device) IsKeyboardConnected() bool {
	return d.IsConnected()
}

// IsPeripheralConnected always returns false; the strip only has key zones.
func (d *Device) IsPeripheralConnected() bool {
	return false
}

// Status returns a short status for display: "Connected", "Disconnected" or
// "Error: <message>".
func (d *Device) Status() string {
	if crash := d.Crash(); crash != nil {
		return "Error: " + crash.Err.Error()
	}
	if d.IsConnected() {
		return "Connected"
	}
	return "Disconnected"
}

// Detail returns a longer status for display.
func (d *Device) Detail() string {
	if crash := d.Crash(); crash != nil {
		return "Error: " + crash.Error()
	}
	if d.IsConnected() {
		d.mu.Lock()
		numLEDs := d.numLEDs
		d.mu.Unlock()
		return fmt.Sprintf("Connected to %s (%d LEDs)", d.session.Name(), numLEDs)
	}
	return "Disconnected"
}

// LastUpdateDuration returns how long the last acknowledged frame took from
// the update call to the acknowledgment.
func (d *Device) LastUpdateDuration() time.Duration {
	return time.Duration(d.lastUpdate.Load())
}

// LastUpdateDurationString formats LastUpdateDuration for display.
func (d *Device) LastUpdateDurationString() string {
	return fmt.Sprintf("%d ms", d.LastUpdateDuration().Milliseconds())
}
