package domain

import "math"

const (
	// OverlayMaxX and OverlayMaxY keep room for the bubble itself so it cannot be
	// dragged off the canvas.
	OverlayMaxX = 0.90
	OverlayMaxY = 0.85
)

// OverlayPosition is the normalized bubble position as a fraction of the canvas size.
type OverlayPosition struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DefaultOverlayPosition places the bubble in the bottom-right area.
func DefaultOverlayPosition() OverlayPosition {
	return OverlayPosition{X: 0.80, Y: 0.80}
}

// Clamp returns the position limited to the visible range.
func (p OverlayPosition) Clamp() OverlayPosition {
	return OverlayPosition{X: clamp(p.X, 0, OverlayMaxX), Y: clamp(p.Y, 0, OverlayMaxY)}
}

// Percent returns the UI-facing percentages.
func (p OverlayPosition) Percent() (x, y float64) {
	return p.X * 100, p.Y * 100
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
