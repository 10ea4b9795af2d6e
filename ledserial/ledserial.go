// Package ledserial implements the Adalight LED serial protocol.
//
// A frame is the 3-byte magic "Ada", a big-endian 16-bit count of LEDs minus
// one, a checksum byte, then 3 bytes (R, G, B) per LED. The firmware
// acknowledges every frame by writing the magic back.
package ledserial

import (
	"errors"
	"fmt"
	"io"
)

// Magic is the marker at the start of every frame. It is also the
// acknowledgment the firmware sends back.
const Magic = "Ada"

// ChecksumSeed is XORed into the header checksum.
const ChecksumSeed = 0x55

// HeaderSize is the size of a frame header in bytes.
const HeaderSize = len(Magic) + 3

// MaxLEDs is the largest LED count the header can encode.
const MaxLEDs = 65535

var (
	// ErrInvalidLEDCount is returned when the LED count cannot be encoded.
	ErrInvalidLEDCount = errors.New("LED count out of range")
	// ErrBadMagic is returned when a header does not start with Magic.
	ErrBadMagic = errors.New("header magic mismatch")
	// ErrBadChecksum is returned when a header checksum does not match.
	ErrBadChecksum = errors.New("header checksum mismatch")
)

// Header is a frame header. It is a value type, so a cached header is never
// mutated by building packets from it.
type Header [HeaderSize]byte

// NewHeader builds the header for a strip of numLEDs LEDs.
func NewHeader(numLEDs int) (Header, error) {
	var h Header
	if numLEDs < 1 || numLEDs > MaxLEDs {
		return h, fmt.Errorf("%w: %d", ErrInvalidLEDCount, numLEDs)
	}

	count := numLEDs - 1
	hi := uint8(count >> 8)
	lo := uint8(count)

	copy(h[:], Magic)
	h[3] = hi
	h[4] = lo
	h[5] = hi ^ lo ^ ChecksumSeed
	return h, nil
}

// ParseHeader parses and validates a header from the first HeaderSize bytes of
// b.
func ParseHeader(b []byte) (Header, error) {
	var h Header
	if len(b) < HeaderSize {
		return h, fmt.Errorf("short header: %w", io.ErrUnexpectedEOF)
	}
	copy(h[:], b)

	if string(h[:len(Magic)]) != Magic {
		return h, ErrBadMagic
	}
	if h.Checksum() != h[3]^h[4]^ChecksumSeed {
		return h, ErrBadChecksum
	}
	return h, nil
}

// NumLEDs decodes the LED count from the header.
func (h Header) NumLEDs() int {
	return (int(h[3])<<8 | int(h[4])) + 1
}

// Checksum returns the stored checksum byte.
func (h Header) Checksum() uint8 {
	return h[5]
}

// PixelSize returns the size of the color payload that follows the header.
func (h Header) PixelSize() int {
	return 3 * h.NumLEDs()
}

// BuildPacket returns a new slice holding the header followed by pix.
func BuildPacket(h Header, pix []uint8) []byte {
	packet := make([]byte, 0, HeaderSize+len(pix))
	packet = append(packet, h[:]...)
	packet = append(packet, pix...)
	return packet
}

// IsAck returns true if b is exactly the acknowledgment sent by the
// firmware.
func IsAck(b []byte) bool {
	return string(b) == Magic
}

// ReadPacket reads a full frame from r, the way the firmware does on its end
// of the wire. io.EOF and io.ErrUnexpectedEOF are wrapped, so an incomplete
// frame can be told apart from a corrupt one.
func ReadPacket(r io.Reader) (Header, []uint8, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, nil, fmt.Errorf("failed to read header: %w", err)
	}

	h, err := ParseHeader(buf[:])
	if err != nil {
		return h, nil, err
	}

	pix := make([]uint8, h.PixelSize())
	if _, err := io.ReadFull(r, pix); err != nil {
		return h, nil, fmt.Errorf("failed to read pixel data: %w", err)
	}

	return h, pix, nil
}
