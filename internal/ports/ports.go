package ports

import (
	"context"
	"image"
	"io"
	"time"

	"bubblecast/internal/domain"
)

// VideoConstraints are ideal capture values. Devices may grant something else.
type VideoConstraints struct {
	IdealWidth     int
	IdealHeight    int
	IdealFrameRate float64
}

// VideoSettings are the values a running video stream actually negotiated.
type VideoSettings struct {
	Width     int
	Height    int
	FrameRate float64
}

// AudioConstraints describes how an audio source should be captured.
type AudioConstraints struct {
	SampleRate       int
	Channels         int
	EchoCancellation bool
	NoiseSuppression bool
}

// AudioFormat is the PCM layout of an audio stream (s16le).
type AudioFormat struct {
	SampleRate int
	Channels   int
}

// MediaStream is a live hardware source.
type MediaStream interface {
	Kind() domain.StreamKind
	// Ended is closed when the source stops on its own or is released.
	Ended() <-chan struct{}
	// Release stops every constituent process. Safe to call more than once.
	Release() error
}

// VideoStream is a live frame source.
type VideoStream interface {
	MediaStream
	Settings() VideoSettings
	// LatestFrame returns the most recent decoded frame, or nil before the first one.
	// Returned frames are never modified afterwards.
	LatestFrame() *image.RGBA
}

// AudioStream is a live PCM source.
type AudioStream interface {
	MediaStream
	io.Reader
	Format() AudioFormat
}

// ScreenGrant is what a display capture request returns.
type ScreenGrant struct {
	Video       VideoStream
	SystemAudio AudioStream
}

// MediaDevices opens hardware streams.
type MediaDevices interface {
	GetDisplayMedia(ctx context.Context, video VideoConstraints, systemAudio bool) (ScreenGrant, error)
	GetUserVideo(ctx context.Context, video VideoConstraints) (VideoStream, error)
	GetUserAudio(ctx context.Context, audio AudioConstraints) (AudioStream, error)
}

// EncoderConfig describes one encoding run.
type EncoderConfig struct {
	MimeType           string
	Width              int
	Height             int
	FrameRate          float64
	VideoBitsPerSecond int
	Audio              []AudioFormat
	// Timeslice is how often buffered output is delivered to OnChunk.
	Timeslice time.Duration
	OnChunk   func(data []byte)
}

// Encoder turns composited frames plus audio into container chunks.
type Encoder interface {
	// WriteFrame hands over the current composite. It never blocks; a frame that
	// has not been consumed yet is replaced.
	WriteFrame(frame *image.RGBA)
	// AudioInput returns the sink for the i-th audio track of EncoderConfig.Audio.
	AudioInput(i int) io.WriteCloser
	// RequestData flushes buffered output as a chunk.
	RequestData()
	// Stop closes the inputs so the encoder can finish. Idempotent.
	Stop() error
	// Kill terminates the encoder without waiting for a clean finish.
	Kill() error
	// Done is closed once the encoder has stopped and delivered its final chunk.
	Done() <-chan struct{}
}

// EncoderFactory probes support and starts encoders.
type EncoderFactory interface {
	IsTypeSupported(mimeType string) bool
	NewEncoder(ctx context.Context, cfg EncoderConfig) (Encoder, error)
}

// Uploader ships a finished recording to the hosting boundary.
type Uploader interface {
	Upload(ctx context.Context, artifact *domain.Artifact, filename string, slug string) (domain.UploadResult, error)
}

// TokenProvider returns the bearer credential for uploads. An empty token means
// the user is not signed in.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// ArtifactPublisher exposes a finished recording as a locally playable URL.
type ArtifactPublisher interface {
	Publish(artifact *domain.Artifact, filename string) string
	Revoke(artifactID string)
}

// EventSink emits backend state/events to the UI.
type EventSink interface {
	SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason)
	SessionError(code domain.ErrorCode, detail string)
	WebcamChanged(status domain.WebcamStatus)
	OverlayMoved(pos domain.OverlayPosition)
	UploadProgress(sent int64, total int64)
}

// SlugNormalizer turns a user-typed share slug into the form the API accepts.
type SlugNormalizer interface {
	Normalize(slug string) (string, error)
}

// Metrics records recorder activity.
type Metrics interface {
	SessionStarted()
	SessionEnded(state domain.SessionState)
	FrameRendered()
	ChunkEncoded(size int)
	StopTimedOut()
	UploadFinished(err error, size int64, elapsed time.Duration)
}
