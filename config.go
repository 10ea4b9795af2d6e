package adaglow

import (
	"encoding"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"libdb.so/adaglow/internal/led"
	"libdb.so/adaglow/ledserial"
)

// Zone identifies a logical group of LEDs, usually a key position.
type Zone = led.Zone

// RGBColor is a color in the order the firmware expects it.
type RGBColor = led.RGBColor

// ZoneColors maps zones to the color they should display.
type ZoneColors = led.ZoneColors

// DefaultZones is the zone layout used when the configuration names none.
var DefaultZones = led.DefaultZones

const (
	// DefaultBaud is the baud rate most Adalight firmwares are built with.
	DefaultBaud = 115200
	// DefaultLEDs is the LED count of the reference strip.
	DefaultLEDs = 15
	// DefaultRate is the daemon refresh rate in frames per second.
	DefaultRate = 30
	// DefaultReadTimeout is how long to wait for an acknowledgment.
	DefaultReadTimeout = time.Second
)

// DefaultDevice returns the placeholder serial port for the current
// platform.
func DefaultDevice() string {
	if runtime.GOOS == "windows" {
		return "COM3"
	}
	return "/dev/ttyUSB0"
}

// Config is the configuration for an Adalight device.
type Config struct {
	// Device is the path to the serial port.
	// This is usually /dev/ttyUSB0 or /dev/ttyACM0, or COMx on Windows.
	Device string `toml:"device"`
	// Baud is the baud rate for the serial connection.
	Baud int `toml:"baud"`
	// LEDs is the number of LEDs on the strip.
	LEDs int `toml:"leds"`
	// Rate is the refresh rate of the daemon in frames per second.
	Rate int `toml:"rate"`
	// ReadTimeout bounds the wait for an acknowledgment. Defaults to
	// DefaultReadTimeout; an explicit zero waits forever.
	ReadTimeout TOMLDuration `toml:"read_timeout"`
	// Zones is the ordered list of zones the strip is split into, from the
	// first LED to the last. Defaults to DefaultZones.
	Zones []Zone `toml:"zones"`
	// Effects is a list of effects applied to groups of zones.
	Effects []EffectConfig `toml:"effect"`
}

// DefaultConfig returns the configuration used for anything a configuration
// file leaves out.
func DefaultConfig() Config {
	return Config{
		Device:      DefaultDevice(),
		Baud:        DefaultBaud,
		LEDs:        DefaultLEDs,
		Rate:        DefaultRate,
		ReadTimeout: TOMLDuration(DefaultReadTimeout),
		Zones:       append([]Zone(nil), DefaultZones...),
	}
}

// applyDefaults fills the fields that tree has no key for from
// DefaultConfig. Keys that are present are kept as they are, zero or not, so
// that Validate gets to reject them.
func (c *Config) applyDefaults(tree *toml.Tree) {
	def := DefaultConfig()
	if !tree.Has("device") {
		c.Device = def.Device
	}
	if !tree.Has("baud") {
		c.Baud = def.Baud
	}
	if !tree.Has("leds") {
		c.LEDs = def.LEDs
	}
	if !tree.Has("rate") {
		c.Rate = def.Rate
	}
	if !tree.Has("read_timeout") {
		c.ReadTimeout = def.ReadTimeout
	}
	if !tree.Has("zones") {
		c.Zones = def.Zones
	}
}

// ConfigError is returned when a configuration value is missing or out of
// bounds.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func configErrorf(field, f string, v ...any) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(f, v...)}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Device == "" {
		return configErrorf("device", "no serial port configured")
	}

	if c.Baud <= 0 {
		return configErrorf("baud", "must be positive, got %d", c.Baud)
	}

	if c.LEDs < 1 || c.LEDs > ledserial.MaxLEDs {
		return configErrorf("leds", "must be within [1, %d], got %d", ledserial.MaxLEDs, c.LEDs)
	}

	if c.Rate <= 0 {
		return configErrorf("rate", "must be positive, got %d", c.Rate)
	}

	if c.ReadTimeout < 0 {
		return configErrorf("read_timeout", "must not be negative, got %v", time.Duration(c.ReadTimeout))
	}

	if len(c.Zones) == 0 {
		return configErrorf("zones", "no zones configured")
	}

	known := make(map[Zone]bool, len(c.Zones))
	for _, zone := range c.Zones {
		if zone == "" {
			return configErrorf("zones", "empty zone name")
		}
		if known[zone] {
			return configErrorf("zones", "zone %q listed twice", zone)
		}
		known[zone] = true
	}

	// Check that every effect targets known zones and that no two effects
	// claim the same zone.
	claimed := make(map[Zone]int, len(c.Zones))
	for i, effect := range c.Effects {
		field := fmt.Sprintf("effect[%d]", i)

		if effect.Color != nil && effect.Snake != nil {
			return configErrorf(field, "only one of color and snake may be set")
		}

		if effect.Snake != nil {
			if len(effect.Snake.Chunks) == 0 {
				return configErrorf(field, "snake has no chunks")
			}
			if effect.Snake.Speed <= 0 {
				return configErrorf(field, "snake speed must be positive")
			}
		}

		for _, zone := range effect.Zones {
			if !known[zone] {
				return configErrorf(field, "unknown zone %q", zone)
			}
			if j, ok := claimed[zone]; ok {
				return configErrorf(field, "zone %q is already used by effect[%d]", zone, j)
			}
			claimed[zone] = i
		}
	}

	return nil
}

// EffectConfig is the configuration for an effect on a group of zones.
type EffectConfig struct {
	// Zones is the list of zones the effect applies to, in order.
	Zones []Zone `toml:"zones"`

	// Only one of the following fields should be set.
	// If none are set, then the zones stay off.

	// Color is the color to set the zones to.
	Color *RGBColor `toml:"color,omitempty"`
	// Snake is the configuration for the snake animation.
	Snake *SnakeAnimationConfig `toml:"snake,omitempty"`
}

// SnakeAnimationConfig is the configuration for the snake animation.
type SnakeAnimationConfig struct {
	// Chunks is the list of chunks for the snake animation.
	Chunks []SnakeAnimationChunk `toml:"chunk"`
	// Speed is how long the snake stays on each zone.
	Speed TOMLDuration `toml:"speed"`
	// Reverse makes the snake crawl from the last zone to the first.
	Reverse bool `toml:"reverse"`
}

// SnakeAnimationChunk is a chunk for the snake animation.
type SnakeAnimationChunk struct {
	// Color is the color for the chunk.
	Color RGBColor `toml:"color"`
}

// TOMLDuration is a duration that can be parsed from TOML.
type TOMLDuration time.Duration

var (
	_ encoding.TextUnmarshaler = (*TOMLDuration)(nil)
	_ encoding.TextMarshaler   = (*TOMLDuration)(nil)
)

func (d *TOMLDuration) UnmarshalText(text []byte) error {
	duration, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = TOMLDuration(duration)
	return nil
}

func (d TOMLDuration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// ParseConfig parses a configuration from a reader. Fields the reader leaves
// out take their default values.
func ParseConfig(r io.Reader) (*Config, error) {
	tree, err := toml.LoadReader(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode config")
	}

	var config Config
	if err := tree.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to decode config")
	}

	config.applyDefaults(tree)
	return &config, nil
}

// LoadConfig reads the configuration file at path.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open config file")
	}
	defer f.Close()

	return ParseConfig(f)
}
