package ledvis

import (
	"time"

	"libdb.so/adaglow/internal/led"
)

// SnakeConfig is the configuration for a snake.
type SnakeConfig struct {
	// Zones is the path the snake crawls along.
	Zones []led.Zone
	// Chunks are the colors of the snake from its head to its tail.
	Chunks []led.RGBColor
	// Speed is how long the snake stays in place before moving by one zone.
	Speed time.Duration
	// Reverse makes the snake crawl from the last zone to the first.
	Reverse bool
}

// Snake crawls a run of colored chunks along its zones, wrapping around at
// the end. Zones not covered by the snake are off.
type Snake struct {
	baseOutput
	cfg   SnakeConfig
	start time.Time
	pos   int
}

var _ Animated = (*Snake)(nil)

// NewSnake creates a snake that starts crawling at start.
func NewSnake(cfg SnakeConfig, start time.Time) *Snake {
	s := &Snake{
		baseOutput: baseOutput{colors: make(led.ZoneColors, len(cfg.Zones))},
		cfg:        cfg,
		start:      start,
	}
	s.paint()
	return s
}

// Position returns the zone index of the head of the snake.
func (s *Snake) Position() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.pos
}

// Step implements Animated.
func (s *Snake) Step(now time.Time) bool {
	pos := s.position(now)

	s.mu.Lock()
	defer s.mu.Unlock()

	if pos == s.pos {
		return false
	}

	s.pos = pos
	s.paint()
	return true
}

func (s *Snake) position(now time.Time) int {
	n := len(s.cfg.Zones)
	if n == 0 || s.cfg.Speed <= 0 {
		return 0
	}

	steps := now.Sub(s.start) / s.cfg.Speed
	if steps < 0 {
		return 0
	}

	pos := int(steps % time.Duration(n))
	if s.cfg.Reverse && pos != 0 {
		pos = n - pos
	}
	return pos
}

func (s *Snake) paint() {
	n := len(s.cfg.Zones)

	for _, zone := range s.cfg.Zones {
		s.colors[zone] = led.RGBColor{}
	}

	for i, color := range s.cfg.Chunks {
		if i >= n {
			break
		}
		// The tail trails behind the head, so it sits on the zones the head
		// has already passed.
		j := s.pos - i
		if s.cfg.Reverse {
			j = s.pos + i
		}
		j = ((j % n) + n) % n
		s.colors[s.cfg.Zones[j]] = color
	}
}
