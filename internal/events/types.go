package events

import "time"

// Event type constants for kelindar/event.
const (
	TypeStateChanged uint32 = iota + 1
	TypeFrameSent
	TypeConfigReloaded
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// StateChangedEvent is published whenever the device changes state.
type StateChangedEvent struct {
	Port string
	From string
	To   string
	// Stage and Error are set when the device crashed.
	Stage string
	Error string
	At    time.Time
}

// Type returns the event type identifier for StateChangedEvent.
func (e StateChangedEvent) Type() uint32 { return TypeStateChanged }

// FrameSentEvent is published after the device acknowledged a frame.
type FrameSentEvent struct {
	Port     string
	NumLEDs  int
	Duration time.Duration
	At       time.Time
}

// Type returns the event type identifier for FrameSentEvent.
func (e FrameSentEvent) Type() uint32 { return TypeFrameSent }

// ConfigReloadedEvent is published after the configuration file was reloaded.
type ConfigReloadedEvent struct {
	Path  string
	Error string
	At    time.Time
}

// Type returns the event type identifier for ConfigReloadedEvent.
func (e ConfigReloadedEvent) Type() uint32 { return TypeConfigReloaded }
