package overlay

import (
	"math"
	"math/rand"
	"testing"

	"bubblecast/internal/domain"
)

var container = Size{Width: 1000, Height: 500}

func TestDragMoveUsesDeltaFromLastPointer(t *testing.T) {
	t.Parallel()

	c := NewController(NewCell(domain.OverlayPosition{X: 0.5, Y: 0.5}), nil)
	c.DragStart(Point{X: 100, Y: 100})

	if pos, ok := c.DragMove(Point{X: 200, Y: 150}, container); !ok || !near(pos.X, 0.6) || !near(pos.Y, 0.6) {
		t.Fatalf("unexpected first move: %+v ok=%v", pos, ok)
	}
	// Second move is relative to (200,150), not to the drag origin.
	if pos, _ := c.DragMove(Point{X: 250, Y: 150}, container); !near(pos.X, 0.65) || !near(pos.Y, 0.6) {
		t.Fatalf("unexpected second move: %+v", pos)
	}
	if got := c.Current(); !near(got.X, 0.65) {
		t.Fatalf("cell not updated: %+v", got)
	}
}

func TestDragMoveClampsToVisibleRange(t *testing.T) {
	t.Parallel()

	c := NewController(nil, nil)
	c.DragStart(Point{})
	pos, _ := c.DragMove(Point{X: 5000, Y: 5000}, container)
	if pos.X != domain.OverlayMaxX || pos.Y != domain.OverlayMaxY {
		t.Fatalf("expected max clamp, got %+v", pos)
	}
	pos, _ = c.DragMove(Point{X: -5000, Y: -5000}, container)
	if pos.X != 0 || pos.Y != 0 {
		t.Fatalf("expected min clamp, got %+v", pos)
	}
}

func TestRandomDragsStayInRange(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(7))
	c := NewController(nil, nil)
	c.DragStart(Point{X: 500, Y: 250})
	for i := 0; i < 2000; i++ {
		p := Point{X: rng.Float64()*4000 - 2000, Y: rng.Float64()*4000 - 2000}
		size := Size{Width: rng.Float64()*1900 + 100, Height: rng.Float64()*1000 + 100}
		pos, _ := c.DragMove(p, size)
		if pos.X < 0 || pos.X > domain.OverlayMaxX || pos.Y < 0 || pos.Y > domain.OverlayMaxY {
			t.Fatalf("position escaped range after move %d: %+v", i, pos)
		}
	}
}

func TestMovesWithoutDragAreIgnored(t *testing.T) {
	t.Parallel()

	calls := 0
	c := NewController(nil, func(domain.OverlayPosition) { calls++ })
	if _, ok := c.DragMove(Point{X: 10, Y: 10}, container); ok {
		t.Fatalf("expected move to be ignored")
	}

	c.DragStart(Point{})
	c.DragEnd()
	c.DragEnd()
	if c.Dragging() {
		t.Fatalf("expected drag to be over")
	}
	if _, ok := c.DragMove(Point{X: 10, Y: 10}, container); ok {
		t.Fatalf("expected move after drag end to be ignored")
	}
	if calls != 0 {
		t.Fatalf("expected no change notifications, got %d", calls)
	}
	if got := c.Current(); got != domain.DefaultOverlayPosition() {
		t.Fatalf("position changed without a drag: %+v", got)
	}
}

func TestResetNotifies(t *testing.T) {
	t.Parallel()

	var seen []domain.OverlayPosition
	c := NewController(NewCell(domain.OverlayPosition{X: 0.1, Y: 0.1}), func(p domain.OverlayPosition) { seen = append(seen, p) })
	c.DragStart(Point{})
	if pos := c.Reset(); pos != domain.DefaultOverlayPosition() {
		t.Fatalf("unexpected reset position: %+v", pos)
	}
	if c.Dragging() || len(seen) != 1 {
		t.Fatalf("expected reset to end the drag and notify once, got %d", len(seen))
	}
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}
