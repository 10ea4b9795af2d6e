package ledvis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"libdb.so/adaglow/internal/led"
)

var (
	red   = led.RGB(0xFF, 0x00, 0x00)
	green = led.RGB(0x00, 0xFF, 0x00)
	blue  = led.RGB(0x00, 0x00, 0xFF)
	off   = led.RGBColor{}
)

var zones = []led.Zone{"A", "B", "C", "D"}

func frame(e Effect) led.ZoneColors {
	var colors led.ZoneColors
	e.AcquireFrame(func(c led.ZoneColors) {
		colors = make(led.ZoneColors, len(c))
		for zone, color := range c {
			colors[zone] = color
		}
	})
	return colors
}

func TestStatic(t *testing.T) {
	s := NewStatic(zones[:2], blue)
	assert.Equal(t, led.ZoneColors{"A": blue, "B": blue}, frame(s))
}

func TestSnake(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewSnake(SnakeConfig{
		Zones:  zones,
		Chunks: []led.RGBColor{red, green},
		Speed:  100 * time.Millisecond,
	}, t0)

	assert.Equal(t, led.ZoneColors{"A": red, "B": off, "C": off, "D": green}, frame(s))

	assert.False(t, s.Step(t0.Add(50*time.Millisecond)), "moved before speed elapsed")

	assert.True(t, s.Step(t0.Add(100*time.Millisecond)))
	assert.Equal(t, 1, s.Position())
	assert.Equal(t, led.ZoneColors{"A": green, "B": red, "C": off, "D": off}, frame(s))

	assert.True(t, s.Step(t0.Add(450*time.Millisecond)), "did not wrap around")
	assert.Equal(t, 0, s.Position())
	assert.Equal(t, led.ZoneColors{"A": red, "B": off, "C": off, "D": green}, frame(s))
}

func TestSnake_Reverse(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewSnake(SnakeConfig{
		Zones:   zones,
		Chunks:  []led.RGBColor{red, green},
		Speed:   time.Second,
		Reverse: true,
	}, t0)

	assert.Equal(t, led.ZoneColors{"A": red, "B": green, "C": off, "D": off}, frame(s))

	assert.True(t, s.Step(t0.Add(time.Second)))
	assert.Equal(t, 3, s.Position())
	assert.Equal(t, led.ZoneColors{"A": green, "B": off, "C": off, "D": red}, frame(s))
}

func TestSnake_LongerThanZones(t *testing.T) {
	s := NewSnake(SnakeConfig{
		Zones:  zones[:2],
		Chunks: []led.RGBColor{red, green, blue},
		Speed:  time.Second,
	}, time.Now())

	assert.Equal(t, led.ZoneColors{"A": red, "B": green}, frame(s))
}

func TestSnake_Stuck(t *testing.T) {
	t0 := time.Now()

	tests := []struct {
		name string
		cfg  SnakeConfig
		now  time.Time
	}{
		{"zero speed", SnakeConfig{Zones: zones, Chunks: []led.RGBColor{red}}, t0.Add(time.Hour)},
		{"no zones", SnakeConfig{Chunks: []led.RGBColor{red}, Speed: time.Millisecond}, t0.Add(time.Hour)},
		{"before start", SnakeConfig{Zones: zones, Chunks: []led.RGBColor{red}, Speed: time.Millisecond}, t0.Add(-time.Hour)},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			s := NewSnake(test.cfg, t0)
			assert.False(t, s.Step(test.now))
			assert.Equal(t, 0, s.Position())
		})
	}
}
