// Package compositor draws the screen capture and the circular webcam bubble onto
// the recording surface.
package compositor

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"

	"bubblecast/internal/domain"
)

const (
	DefaultBubbleRatio = 0.2
	DefaultRingWidth   = 4.0
)

// DefaultRingColor is the orange ring stroked around the bubble.
var DefaultRingColor = color.RGBA{R: 0xf9, G: 0x73, B: 0x16, A: 0xff}

// Compositor renders one composite frame per tick. It keeps a scratch buffer for
// the bubble, so a Compositor must only be used from one goroutine.
type Compositor struct {
	BubbleRatio float64
	RingWidth   float64
	RingColor   color.RGBA
	Scaler      draw.Scaler

	bubble *image.RGBA
}

func New() *Compositor {
	return &Compositor{
		BubbleRatio: DefaultBubbleRatio,
		RingWidth:   DefaultRingWidth,
		RingColor:   DefaultRingColor,
		Scaler:      draw.ApproxBiLinear,
	}
}

// RenderTick draws screen scaled to fill surface and, when the overlay is enabled and
// a webcam frame is available, the bubble centered at pos. A nil or empty webcam
// frame leaves only the screen.
func (c *Compositor) RenderTick(surface *image.RGBA, screen image.Image, webcam image.Image, overlayEnabled bool, pos domain.OverlayPosition) {
	if screen != nil && !screen.Bounds().Empty() {
		c.drawScreen(surface, screen)
	}
	if !overlayEnabled || webcam == nil || webcam.Bounds().Empty() {
		return
	}

	rect := BubbleRect(surface.Bounds(), pos.Clamp(), c.BubbleRatio)
	if rect.Empty() {
		return
	}
	cx := float64(rect.Min.X) + float64(rect.Dx())/2
	cy := float64(rect.Min.Y) + float64(rect.Dy())/2
	radius := float64(rect.Dx()) / 2

	scratch := c.scratch(rect.Dx())
	c.Scaler.Scale(scratch, scratch.Bounds(), webcam, CenterCrop(webcam.Bounds()), draw.Src, nil)

	clip := &ringMask{cx: cx, cy: cy, inner: -1, outer: radius}
	draw.DrawMask(surface, rect, scratch, image.Point{}, clip, rect.Min, draw.Over)

	half := c.RingWidth / 2
	ring := &ringMask{cx: cx, cy: cy, inner: radius - half, outer: radius + half}
	draw.DrawMask(surface, ring.Bounds(), image.NewUniform(c.RingColor), image.Point{}, ring, ring.Bounds().Min, draw.Over)
}

func (c *Compositor) drawScreen(surface *image.RGBA, screen image.Image) {
	if screen.Bounds().Size() == surface.Bounds().Size() {
		draw.Draw(surface, surface.Bounds(), screen, screen.Bounds().Min, draw.Src)
		return
	}
	c.Scaler.Scale(surface, surface.Bounds(), screen, screen.Bounds(), draw.Src, nil)
}

func (c *Compositor) scratch(size int) *image.RGBA {
	if c.bubble == nil || c.bubble.Bounds().Dx() != size {
		c.bubble = image.NewRGBA(image.Rect(0, 0, size, size))
	}
	return c.bubble
}

// CenterCrop returns the largest centered square inside bounds.
func CenterCrop(bounds image.Rectangle) image.Rectangle {
	w, h := bounds.Dx(), bounds.Dy()
	size := min(w, h)
	x := bounds.Min.X + (w-size)/2
	y := bounds.Min.Y + (h-size)/2
	return image.Rect(x, y, x+size, y+size)
}

// BubbleRect is the square holding the bubble: its side is ratio*min(w, h) and its
// center sits at pos scaled to the surface.
func BubbleRect(surface image.Rectangle, pos domain.OverlayPosition, ratio float64) image.Rectangle {
	w, h := surface.Dx(), surface.Dy()
	size := int(math.Round(float64(min(w, h)) * ratio))
	if size <= 0 {
		return image.Rectangle{}
	}
	cx := float64(surface.Min.X) + pos.X*float64(w)
	cy := float64(surface.Min.Y) + pos.Y*float64(h)
	x := int(math.Round(cx - float64(size)/2))
	y := int(math.Round(cy - float64(size)/2))
	return image.Rect(x, y, x+size, y+size)
}

// ringMask is an anti-aliased annulus. With inner < 0 it is a filled disc.
type ringMask struct {
	cx, cy       float64
	inner, outer float64
}

func (m *ringMask) ColorModel() color.Model { return color.AlphaModel }

func (m *ringMask) Bounds() image.Rectangle {
	return image.Rect(
		int(math.Floor(m.cx-m.outer))-1,
		int(math.Floor(m.cy-m.outer))-1,
		int(math.Ceil(m.cx+m.outer))+1,
		int(math.Ceil(m.cy+m.outer))+1,
	)
}

func (m *ringMask) At(x, y int) color.Color {
	dx := float64(x) + 0.5 - m.cx
	dy := float64(y) + 0.5 - m.cy
	dist := math.Hypot(dx, dy)

	coverage := clamp01(m.outer - dist + 0.5)
	if m.inner >= 0 {
		coverage = math.Min(coverage, clamp01(dist-m.inner+0.5))
	}
	return color.Alpha{A: uint8(math.Round(coverage * 0xff))}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
