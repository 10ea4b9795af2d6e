package transport_test

import (
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	"libdb.so/adaglow/internal/adafake"
	"libdb.so/adaglow/internal/transport"
	"libdb.so/adaglow/ledserial"
)

func newPacket(t *testing.T, numLEDs int) []byte {
	t.Helper()

	h, err := ledserial.NewHeader(numLEDs)
	require.NoError(t, err)

	return ledserial.BuildPacket(h, make([]uint8, 3*numLEDs))
}

func TestSession_Exchange(t *testing.T) {
	dev := adafake.New(adafake.Config{})

	var s transport.Session
	require.NoError(t, s.Open(dev.Opener(), "/dev/ttyUSB0", 115200))
	assert.True(t, s.IsOpen())
	assert.Equal(t, "/dev/ttyUSB0", s.Name())

	ack, err := s.Exchange(newPacket(t, 4), len(ledserial.Magic))
	require.NoError(t, err)
	assert.True(t, ledserial.IsAck(ack))

	frames := dev.Frames()
	require.Len(t, frames, 1)
	assert.Equal(t, 4, frames[0].Header.NumLEDs())
	assert.NoError(t, dev.Err())
}

func TestSession_CloseIdempotent(t *testing.T) {
	var s transport.Session
	assert.NoError(t, s.Close(), "close before open")
	assert.False(t, s.IsOpen())

	var nilSession *transport.Session
	assert.NoError(t, nilSession.Close())
	assert.False(t, nilSession.IsOpen())
	assert.Empty(t, nilSession.Name())
	assert.Zero(t, nilSession.Generation())

	dev := adafake.New(adafake.Config{})
	require.NoError(t, s.Open(dev.Opener(), "port", 9600))
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
	assert.False(t, s.IsOpen())
	assert.False(t, dev.IsOpen())
}

func TestSession_ReopenClosesPrevious(t *testing.T) {
	first := adafake.New(adafake.Config{})
	second := adafake.New(adafake.Config{})

	var s transport.Session
	require.NoError(t, s.Open(first.Opener(), "a", 9600))
	require.NoError(t, s.Open(second.Opener(), "b", 9600))

	assert.False(t, first.IsOpen())
	assert.True(t, second.IsOpen())
	assert.Equal(t, "b", s.Name())
}

func TestSession_ExchangeOnStalePort(t *testing.T) {
	dev := adafake.New(adafake.Config{})

	var s transport.Session
	require.NoError(t, s.Open(dev.Opener(), "port", 9600))
	gen := s.Generation()

	require.NoError(t, s.Close())
	assert.NotEqual(t, gen, s.Generation())

	_, err := s.ExchangeOn(gen, newPacket(t, 1), 3)
	assert.ErrorIs(t, err, transport.ErrClosed)

	require.NoError(t, s.Open(dev.Opener(), "port", 9600))
	assert.NotEqual(t, gen, s.Generation())

	_, err = s.ExchangeOn(gen, newPacket(t, 1), 3)
	assert.ErrorIs(t, err, transport.ErrClosed, "stale generation reached the reopened port")
	assert.Empty(t, dev.Frames())

	ack, err := s.ExchangeOn(s.Generation(), newPacket(t, 1), 3)
	require.NoError(t, err)
	assert.True(t, ledserial.IsAck(ack))
	assert.Len(t, dev.Frames(), 1)
}

func TestSession_OpenError(t *testing.T) {
	portErr := &serial.PortError{}
	dev := adafake.New(adafake.Config{OpenErr: portErr})

	var s transport.Session
	err := s.Open(dev.Opener(), "/dev/ttyACM9", 115200)
	require.Error(t, err)

	var openErr *transport.OpenError
	require.True(t, errors.As(err, &openErr))
	assert.Equal(t, "/dev/ttyACM9", openErr.Port)

	_, ok := openErr.Code()
	assert.True(t, ok)
	assert.False(t, s.IsOpen())
}

func TestSession_ExchangeClosed(t *testing.T) {
	var s transport.Session

	_, err := s.Exchange(newPacket(t, 1), 3)
	assert.ErrorIs(t, err, transport.ErrClosed)

	var ioErr *transport.IOError
	require.True(t, errors.As(err, &ioErr))
	assert.Equal(t, "write", ioErr.Op)
}

func TestSession_ExchangeWriteError(t *testing.T) {
	writeErr := errors.New("cable unplugged")
	dev := adafake.New(adafake.Config{WriteErr: writeErr})

	var s transport.Session
	require.NoError(t, s.Open(dev.Opener(), "port", 9600))

	_, err := s.Exchange(newPacket(t, 1), 3)
	assert.ErrorIs(t, err, writeErr)
}

func TestSession_ExchangeTimeout(t *testing.T) {
	dev := adafake.New(adafake.Config{
		Silent:      true,
		ReadTimeout: 10 * time.Millisecond,
	})

	var s transport.Session
	require.NoError(t, s.Open(dev.Opener(), "port", 9600))

	ack, err := s.Exchange(newPacket(t, 1), 3)
	assert.ErrorIs(t, err, transport.ErrTimeout)
	assert.Empty(t, ack)

	var ioErr *transport.IOError
	require.True(t, errors.As(err, &ioErr))
	assert.Equal(t, "read", ioErr.Op)
}

func TestSession_ExchangePartialAck(t *testing.T) {
	dev := adafake.New(adafake.Config{
		Ack:         []byte("Ad"),
		ReadTimeout: 10 * time.Millisecond,
	})

	var s transport.Session
	require.NoError(t, s.Open(dev.Opener(), "port", 9600))

	ack, err := s.Exchange(newPacket(t, 1), 3)
	assert.ErrorIs(t, err, transport.ErrTimeout)
	assert.Equal(t, []byte("Ad"), ack)
}

func TestSession_CloseUnblocksRead(t *testing.T) {
	dev := adafake.New(adafake.Config{Silent: true})

	var s transport.Session
	require.NoError(t, s.Open(dev.Opener(), "port", 9600))

	packet := newPacket(t, 1)
	errCh := make(chan error, 1)
	go func() {
		_, err := s.Exchange(packet, 3)
		errCh <- err
	}()

	// The exchange holds the session lock while it waits for an ack, so
	// closing the device underneath it is what a yanked cable looks like.
	require.Eventually(t, func() bool { return len(dev.Frames()) == 1 }, time.Second, time.Millisecond)
	require.NoError(t, dev.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, os.ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("exchange did not return after close")
	}
}

func TestSession_ConcurrentExchangesDoNotInterleave(t *testing.T) {
	dev := adafake.New(adafake.Config{})

	var s transport.Session
	require.NoError(t, s.Open(dev.Opener(), "port", 9600))

	const workers = 8
	const perWorker = 25

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		packet := newPacket(t, w+1)

		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				ack, err := s.Exchange(packet, 3)
				if assert.NoError(t, err) {
					assert.True(t, ledserial.IsAck(ack))
				}
			}
		}()
	}
	wg.Wait()

	assert.False(t, dev.Overlapped(), "exchanges interleaved")
	assert.NoError(t, dev.Err())
	assert.Len(t, dev.Frames(), workers*perWorker)
}
