package usecase

import (
	"context"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"

	"bubblecast/internal/domain"
	"bubblecast/internal/ports"
)

// AcquirerConfig holds the ideal capture constraints.
type AcquirerConfig struct {
	Screen      ports.VideoConstraints
	Webcam      ports.VideoConstraints
	Microphone  ports.AudioConstraints
	SystemAudio bool
}

// StreamAcquirer opens the hardware streams and owns the webcam between sessions.
type StreamAcquirer struct {
	devices ports.MediaDevices
	events  ports.EventSink
	logger  *slog.Logger
	cfg     AcquirerConfig

	// toggleMu serializes webcam toggles. The render loop only reads webcam.
	toggleMu sync.Mutex
	webcam   atomic.Pointer[webcamSlot]
}

type webcamSlot struct {
	stream ports.VideoStream
}

func NewStreamAcquirer(devices ports.MediaDevices, events ports.EventSink, logger *slog.Logger, cfg AcquirerConfig) *StreamAcquirer {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamAcquirer{devices: devices, events: events, logger: logger, cfg: cfg}
}

// AcquireScreen requests the display at the ideal resolution, plus system audio when
// configured. A grant without a video stream is a NoVideoTrack failure.
func (a *StreamAcquirer) AcquireScreen(ctx context.Context) (ports.ScreenGrant, error) {
	grant, err := a.devices.GetDisplayMedia(ctx, a.cfg.Screen, a.cfg.SystemAudio)
	if err != nil {
		return ports.ScreenGrant{}, err
	}
	if grant.Video == nil {
		if grant.SystemAudio != nil {
			_ = grant.SystemAudio.Release()
		}
		return ports.ScreenGrant{}, &domain.AcquisitionError{Source: domain.StreamKindScreen, Kind: domain.ErrNoVideoTrack}
	}
	settings := grant.Video.Settings()
	a.logger.Info("screen acquired",
		"width", settings.Width,
		"height", settings.Height,
		"frame_rate", settings.FrameRate,
		"system_audio", grant.SystemAudio != nil,
	)
	return grant, nil
}

func (a *StreamAcquirer) AcquireMicrophone(ctx context.Context) (ports.AudioStream, error) {
	return a.devices.GetUserAudio(ctx, a.cfg.Microphone)
}

// ToggleWebcam flips the webcam. Turning it off releases the stream before
// returning; turning it on always opens a fresh stream. A failed enable leaves the
// webcam disabled and returns the categorized error.
func (a *StreamAcquirer) ToggleWebcam(ctx context.Context) (domain.WebcamStatus, error) {
	a.toggleMu.Lock()
	defer a.toggleMu.Unlock()
	return a.setWebcamLocked(ctx, a.webcam.Load() == nil)
}

// SetWebcam turns the webcam on or off. It is a no-op when already in that state.
func (a *StreamAcquirer) SetWebcam(ctx context.Context, enabled bool) (domain.WebcamStatus, error) {
	a.toggleMu.Lock()
	defer a.toggleMu.Unlock()
	return a.setWebcamLocked(ctx, enabled)
}

func (a *StreamAcquirer) setWebcamLocked(ctx context.Context, enabled bool) (domain.WebcamStatus, error) {
	current := a.webcam.Load()
	if enabled == (current != nil) {
		return a.WebcamStatus(), nil
	}
	if !enabled {
		a.releaseWebcamLocked()
		return a.WebcamStatus(), nil
	}

	stream, err := a.devices.GetUserVideo(ctx, a.cfg.Webcam)
	if err != nil {
		a.logger.Warn("webcam unavailable", "error", err)
		a.events.WebcamChanged(domain.WebcamStatus{})
		return domain.WebcamStatus{}, err
	}

	slot := &webcamSlot{stream: stream}
	a.webcam.Store(slot)
	go a.watchWebcam(slot)

	status := a.WebcamStatus()
	a.events.WebcamChanged(status)
	return status, nil
}

// ReleaseWebcam turns the webcam off. Safe to call when it is already off.
func (a *StreamAcquirer) ReleaseWebcam() {
	a.toggleMu.Lock()
	defer a.toggleMu.Unlock()
	a.releaseWebcamLocked()
}

func (a *StreamAcquirer) releaseWebcamLocked() {
	slot := a.webcam.Swap(nil)
	if slot == nil {
		return
	}
	if err := slot.stream.Release(); err != nil {
		a.logger.Warn("webcam release failed", "error", err)
	}
	a.events.WebcamChanged(domain.WebcamStatus{})
}

// watchWebcam disables the bubble when the device goes away on its own.
func (a *StreamAcquirer) watchWebcam(slot *webcamSlot) {
	<-slot.stream.Ended()
	if !a.webcam.CompareAndSwap(slot, nil) {
		return
	}
	_ = slot.stream.Release()
	a.logger.Info("webcam ended")
	a.events.WebcamChanged(domain.WebcamStatus{})
}

// WebcamFrame returns the newest webcam frame, or nil when the webcam is off or has
// not produced a frame yet.
func (a *StreamAcquirer) WebcamFrame() *image.RGBA {
	slot := a.webcam.Load()
	if slot == nil {
		return nil
	}
	return slot.stream.LatestFrame()
}

func (a *StreamAcquirer) WebcamStatus() domain.WebcamStatus {
	slot := a.webcam.Load()
	if slot == nil {
		return domain.WebcamStatus{}
	}
	return domain.WebcamStatus{Enabled: true, Ready: slot.stream.LatestFrame() != nil}
}
