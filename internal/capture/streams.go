package capture

import (
	"image"
	"io"
	"sync"
	"sync/atomic"

	"bubblecast/internal/domain"
	"bubblecast/internal/ffmpeg"
	"bubblecast/internal/ports"
)

type handle struct {
	kind  domain.StreamKind
	proc  *ffmpeg.Process
	ended chan struct{}

	releaseOnce sync.Once
	releaseErr  error
}

func (h *handle) Kind() domain.StreamKind { return h.kind }

func (h *handle) Ended() <-chan struct{} { return h.ended }

func (h *handle) Release() error {
	h.releaseOnce.Do(func() {
		h.releaseErr = h.proc.Stop()
	})
	return h.releaseErr
}

// videoStream decodes rawvideo RGBA frames into a single-slot mailbox. Readers only
// ever see the newest frame; older unread frames are dropped.
type videoStream struct {
	handle
	settings ports.VideoSettings
	latest   atomic.Pointer[image.RGBA]
	frames   atomic.Uint64
}

func newVideoStream(kind domain.StreamKind, proc *ffmpeg.Process, settings ports.VideoSettings) *videoStream {
	s := &videoStream{
		handle:   handle{kind: kind, proc: proc, ended: make(chan struct{})},
		settings: settings,
	}
	go s.readLoop()
	return s
}

func (s *videoStream) Settings() ports.VideoSettings { return s.settings }

func (s *videoStream) LatestFrame() *image.RGBA { return s.latest.Load() }

// FrameCount is the number of frames decoded so far.
func (s *videoStream) FrameCount() uint64 { return s.frames.Load() }

func (s *videoStream) readLoop() {
	defer close(s.ended)

	bounds := image.Rect(0, 0, s.settings.Width, s.settings.Height)
	for {
		frame := image.NewRGBA(bounds)
		if _, err := io.ReadFull(s.proc.Stdout, frame.Pix); err != nil {
			return
		}
		s.latest.Store(frame)
		s.frames.Add(1)
	}
}

type audioStream struct {
	handle
	format ports.AudioFormat
}

func newAudioStream(kind domain.StreamKind, proc *ffmpeg.Process, format ports.AudioFormat) *audioStream {
	s := &audioStream{
		handle: handle{kind: kind, proc: proc, ended: make(chan struct{})},
		format: format,
	}
	go func() {
		<-proc.Exited()
		close(s.ended)
	}()
	return s
}

func (s *audioStream) Read(p []byte) (int, error) {
	return s.proc.Stdout.Read(p)
}

func (s *audioStream) Format() ports.AudioFormat { return s.format }

var (
	_ ports.VideoStream = (*videoStream)(nil)
	_ ports.AudioStream = (*audioStream)(nil)
)
