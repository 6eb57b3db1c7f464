// Package overlay turns pointer drags into the normalized bubble position.
package overlay

import (
	"sync"
	"sync/atomic"

	"bubblecast/internal/domain"
)

// Point is a pointer position in container pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size is the rendered container size in pixels.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Cell holds the latest overlay position. The render loop reads it every tick
// while drag handling writes it.
type Cell struct {
	v atomic.Pointer[domain.OverlayPosition]
}

func NewCell(pos domain.OverlayPosition) *Cell {
	c := &Cell{}
	c.Store(pos)
	return c
}

func (c *Cell) Load() domain.OverlayPosition {
	if p := c.v.Load(); p != nil {
		return *p
	}
	return domain.DefaultOverlayPosition()
}

func (c *Cell) Store(pos domain.OverlayPosition) {
	pos = pos.Clamp()
	c.v.Store(&pos)
}

// Controller applies drag gestures to a Cell.
type Controller struct {
	cell     *Cell
	onChange func(domain.OverlayPosition)

	mu   sync.Mutex
	last *Point
}

// NewController returns a controller writing to cell. onChange may be nil.
func NewController(cell *Cell, onChange func(domain.OverlayPosition)) *Controller {
	if cell == nil {
		cell = NewCell(domain.DefaultOverlayPosition())
	}
	return &Controller{cell: cell, onChange: onChange}
}

func (c *Controller) Cell() *Cell { return c.cell }

// Current returns the position the next frame will be rendered with.
func (c *Controller) Current() domain.OverlayPosition { return c.cell.Load() }

// Dragging reports whether a drag is in progress.
func (c *Controller) Dragging() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last != nil
}

// DragStart records the pointer as the reference for the next move.
func (c *Controller) DragStart(p Point) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = &p
}

// DragMove shifts the bubble by the pointer delta since the previous event,
// expressed as a fraction of the container. Moves outside a drag are ignored.
func (c *Controller) DragMove(p Point, container Size) (domain.OverlayPosition, bool) {
	c.mu.Lock()
	if c.last == nil || container.Width <= 0 || container.Height <= 0 {
		c.mu.Unlock()
		return c.cell.Load(), false
	}
	dx := (p.X - c.last.X) / container.Width
	dy := (p.Y - c.last.Y) / container.Height
	c.last = &p

	cur := c.cell.Load()
	next := domain.OverlayPosition{X: cur.X + dx, Y: cur.Y + dy}.Clamp()
	c.cell.Store(next)
	c.mu.Unlock()

	c.notify(next)
	return next, true
}

// DragEnd stops tracking. Calling it without an active drag is a no-op.
func (c *Controller) DragEnd() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = nil
}

// Reset moves the bubble back to the default corner.
func (c *Controller) Reset() domain.OverlayPosition {
	c.mu.Lock()
	c.last = nil
	pos := domain.DefaultOverlayPosition()
	c.cell.Store(pos)
	c.mu.Unlock()

	c.notify(pos)
	return pos
}

func (c *Controller) notify(pos domain.OverlayPosition) {
	if c.onChange != nil {
		c.onChange(pos)
	}
}
