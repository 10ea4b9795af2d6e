package events

import (
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := New()
	received := make(chan StateChangedEvent, 1)

	unsub := bus.Subscribe(func(e StateChangedEvent) {
		received <- e
	})
	defer unsub()

	bus.Publish(StateChangedEvent{
		Port: "/dev/ttyUSB0",
		From: "initialized",
		To:   "crashed",
	})

	select {
	case got := <-received:
		if got.To != "crashed" {
			t.Errorf("Expected to=crashed, got %s", got.To)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBus_TypedDelivery(t *testing.T) {
	bus := New()
	frames := make(chan FrameSentEvent, 1)
	states := make(chan StateChangedEvent, 1)

	defer bus.Subscribe(func(e FrameSentEvent) { frames <- e })()
	defer bus.Subscribe(func(e StateChangedEvent) { states <- e })()

	bus.Publish(FrameSentEvent{NumLEDs: 15})

	select {
	case got := <-frames:
		if got.NumLEDs != 15 {
			t.Errorf("Expected 15 LEDs, got %d", got.NumLEDs)
		}
	case <-time.After(time.Second):
		t.Fatal("frame event not delivered")
	}

	select {
	case <-states:
		t.Error("state handler received a frame event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_UnknownHandler(t *testing.T) {
	bus := New()
	unsub := bus.Subscribe(func(string) {})
	unsub()
}

func TestBus_NilPublish(t *testing.T) {
	var bus *Bus
	bus.Publish(FrameSentEvent{})
}
