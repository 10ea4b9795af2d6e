package adaglow

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"libdb.so/adaglow/internal/events"
	"libdb.so/adaglow/internal/led"
	"libdb.so/adaglow/internal/metrics"
	"libdb.so/adaglow/ledserial"
)

// UpdateDevice paints colors onto their zones and sends the resulting frame
// to the device in the background. It never waits for the device.
//
// If the previous frame is still being sent, the update is dropped and nil
// is returned. forced does not change that.
//
// ErrNotReady is returned if the device is not initialized. If the frame
// cannot be built, the device crashes and the *CrashError is returned.
// Failures of the background send crash the device; they are reported by
// State and Crash.
func (d *Device) UpdateDevice(colors ZoneColors, forced bool) error {
	d.mu.Lock()
	state := d.state
	pending := d.pending
	header := d.header
	assignment := d.assignment
	numLEDs := d.numLEDs
	d.mu.Unlock()

	if state != Initialized {
		d.logger.Warn(
			"refusing update",
			"state", state)
		return ErrNotReady
	}

	if pending != nil {
		select {
		case <-pending:
		default:
			d.logger.Debug(
				"frame still in flight, dropping update",
				"forced", forced)
			d.metrics.Coalesced()
			return nil
		}
	}

	start := time.Now()

	// The frame is only ever written to the port that is open now.
	gen := d.session.Generation()

	pix, err := buildPixels(header, assignment, numLEDs, colors)
	if err != nil {
		return d.crashed(StageUpdateDevice, err)
	}

	done := make(chan struct{})

	d.mu.Lock()
	d.pending = done
	d.mu.Unlock()

	go d.send(gen, header, pix, start, done)
	return nil
}

func buildPixels(header ledserial.Header, assignment led.Assignment, numLEDs int, colors ZoneColors) (pix []uint8, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while building frame: %v", r)
		}
	}()

	if _, err := ledserial.ParseHeader(header[:]); err != nil {
		return nil, errors.Wrap(err, "invalid frame header")
	}

	if header.NumLEDs() != numLEDs {
		return nil, errors.Errorf("frame header is for %d LEDs, have %d", header.NumLEDs(), numLEDs)
	}

	leds := led.NewLEDs(numLEDs)
	if err := assignment.Paint(leds, colors); err != nil {
		return nil, errors.Wrap(err, "failed to paint zones")
	}

	return leds.AsPixels(), nil
}

func (d *Device) send(gen uint64, header ledserial.Header, pix []uint8, start time.Time, done chan struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			d.crashed(StageSendColors, errors.Errorf("panic while sending frame: %v", r))
		}
	}()

	packet := ledserial.BuildPacket(header, pix)

	d.logger.Debug(
		"writing frame",
		"leds", header.NumLEDs(),
		"bytes", len(packet))

	ack, err := d.session.ExchangeOn(gen, packet, len(ledserial.Magic))
	if err != nil {
		d.metrics.FrameFailed(metrics.ResultError)
		d.crashed(StageSendColors, errors.Wrap(err, "failed to send frame"))
		return
	}

	if !ledserial.IsAck(ack) {
		d.metrics.FrameFailed(metrics.ResultMismatch)
		d.crashed(StageSendColors, errors.Wrapf(ErrProtocolMismatch, "got %q", ack))
		return
	}

	elapsed := time.Since(start)
	d.lastUpdate.Store(int64(elapsed))
	d.metrics.FrameSent(elapsed)

	d.events.Publish(events.FrameSentEvent{
		Port:     d.session.Name(),
		NumLEDs:  header.NumLEDs(),
		Duration: elapsed,
		At:       time.Now(),
	})
}

// Sending returns true if a frame is being sent.
func (d *Device) Sending() bool {
	d.mu.Lock()
	pending := d.pending
	d.mu.Unlock()

	if pending == nil {
		return false
	}

	select {
	case <-pending:
		return false
	default:
		return true
	}
}

// Wait blocks until the frame being sent, if any, has been acknowledged or
// has crashed the device. It does not cancel the send when ctx is done.
func (d *Device) Wait(ctx context.Context) error {
	d.mu.Lock()
	pending := d.pending
	d.mu.Unlock()

	if pending == nil {
		return nil
	}

	select {
	case <-pending:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
