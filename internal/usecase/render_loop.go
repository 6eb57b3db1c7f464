package usecase

import (
	"context"
	"image"
	"time"

	"bubblecast/internal/compositor"
	"bubblecast/internal/domain"
	"bubblecast/internal/ports"
)

type renderSources struct {
	screen  ports.VideoStream
	webcam  func() *image.RGBA
	overlay func() domain.OverlayPosition
}

// runRenderLoop composites one frame per tick into surface and hands it to the
// encoder. Ticks that arrive while a frame is still being drawn are dropped by the
// ticker.
func runRenderLoop(
	ctx context.Context,
	interval time.Duration,
	surface *image.RGBA,
	sources renderSources,
	enc ports.Encoder,
	metrics ports.Metrics,
	done chan struct{},
) {
	defer close(done)

	comp := compositor.New()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		screen := sources.screen.LatestFrame()
		if screen == nil {
			continue
		}
		webcam := sources.webcam()
		comp.RenderTick(surface, screen, webcam, webcam != nil, sources.overlay())
		enc.WriteFrame(surface)
		metrics.FrameRendered()
	}
}

func frameInterval(rate float64) time.Duration {
	if rate <= 0 {
		rate = 60
	}
	return time.Duration(float64(time.Second) / rate)
}
