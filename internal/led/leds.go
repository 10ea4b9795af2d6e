package led

import (
	"encoding"
	"encoding/hex"
	"fmt"
	"strings"
	"unsafe"
)

// RGBColor is a color in the order the firmware expects it on the wire.
type RGBColor [3]uint8

var (
	_ encoding.TextUnmarshaler = (*RGBColor)(nil)
	_ encoding.TextMarshaler   = (*RGBColor)(nil)
)

// RGB creates a new RGBColor.
func RGB(r, g, b uint8) RGBColor {
	return RGBColor{r, g, b}
}

// UnmarshalText parses a "#rrggbb" or "rrggbb" hex color.
func (c *RGBColor) UnmarshalText(text []byte) error {
	s := strings.TrimPrefix(string(text), "#")
	if len(s) != 6 {
		return fmt.Errorf("invalid color %q: expected #rrggbb", text)
	}

	var b [3]byte
	if _, err := hex.Decode(b[:], []byte(s)); err != nil {
		return fmt.Errorf("invalid color %q: %w", text, err)
	}

	*c = b
	return nil
}

// MarshalText formats the color as "#rrggbb".
func (c RGBColor) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c RGBColor) String() string {
	return "#" + hex.EncodeToString(c[:])
}

// LEDs describes a strip of LEDs. It is a preallocated slice of RGBColor.
type LEDs []RGBColor

// NewLEDs creates a new strip of LEDs. Colors are initialized to black
// (off).
func NewLEDs(numLEDs int) LEDs {
	return make(LEDs, numLEDs)
}

// AsPixels returns the LED strip as a slice of uint8 values. Each LED is
// represented by three values, one for each color channel. The returned slice
// aliases l.
func (l LEDs) AsPixels() []uint8 {
	if len(l) == 0 {
		return nil
	}
	return unsafe.Slice((*uint8)(unsafe.Pointer(&l[0])), 3*len(l))
}

// SetIndices sets the color of every LED in indices. It returns an error if
// any index is out of range, in which case no LED is changed.
func (l LEDs) SetIndices(indices []int, c RGBColor) error {
	for _, i := range indices {
		if i < 0 || i >= len(l) {
			return fmt.Errorf("LED index %d out of range [0, %d)", i, len(l))
		}
	}
	for _, i := range indices {
		l[i] = c
	}
	return nil
}
