// Package ledvis contains the effects that color groups of zones.
package ledvis

import (
	"time"

	"libdb.so/adaglow/internal/led"
)

// Effect is a source of zone colors.
type Effect interface {
	// AcquireFrame passes the current colors to f. The colors must not be
	// used after f returns.
	AcquireFrame(f func(led.ZoneColors))
}

// Animated is an effect whose colors change over time.
type Animated interface {
	Effect
	// Step moves the animation to the given time. It returns true if the
	// colors changed.
	Step(now time.Time) bool
}

// Static keeps its zones at a single color.
type Static struct {
	baseOutput
}

var _ Effect = (*Static)(nil)

// NewStatic creates a static effect. Off zones are static effects with the
// zero color.
func NewStatic(zones []led.Zone, color led.RGBColor) *Static {
	colors := make(led.ZoneColors, len(zones))
	for _, zone := range zones {
		colors[zone] = color
	}
	return &Static{baseOutput{colors: colors}}
}
