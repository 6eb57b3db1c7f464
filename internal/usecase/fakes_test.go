package usecase

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"io"
	"sync"
	"time"

	"bubblecast/internal/domain"
	"bubblecast/internal/ports"
)

type fakeVideoStream struct {
	kind     domain.StreamKind
	settings ports.VideoSettings
	name     string
	log      *callLog

	mu    sync.Mutex
	frame *image.RGBA

	ended     chan struct{}
	endOnce   sync.Once
	releases  int
	releaseMu sync.Mutex
}

func newFakeVideoStream(kind domain.StreamKind, name string, width, height int, fill color.RGBA, log *callLog) *fakeVideoStream {
	s := &fakeVideoStream{
		kind:     kind,
		name:     name,
		settings: ports.VideoSettings{Width: width, Height: height, FrameRate: 60},
		log:      log,
		ended:    make(chan struct{}),
	}
	if width > 0 && height > 0 {
		frame := image.NewRGBA(image.Rect(0, 0, width, height))
		for i := 0; i < len(frame.Pix); i += 4 {
			frame.Pix[i], frame.Pix[i+1], frame.Pix[i+2], frame.Pix[i+3] = fill.R, fill.G, fill.B, fill.A
		}
		s.frame = frame
	}
	return s
}

func (s *fakeVideoStream) Kind() domain.StreamKind       { return s.kind }
func (s *fakeVideoStream) Ended() <-chan struct{}        { return s.ended }
func (s *fakeVideoStream) Settings() ports.VideoSettings { return s.settings }

func (s *fakeVideoStream) LatestFrame() *image.RGBA {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame
}

// End simulates the source stopping on its own.
func (s *fakeVideoStream) End() {
	s.endOnce.Do(func() { close(s.ended) })
}

func (s *fakeVideoStream) Release() error {
	s.releaseMu.Lock()
	s.releases++
	first := s.releases == 1
	s.releaseMu.Unlock()
	if first && s.log != nil {
		s.log.add("release " + s.name)
	}
	s.End()
	return nil
}

func (s *fakeVideoStream) released() bool {
	s.releaseMu.Lock()
	defer s.releaseMu.Unlock()
	return s.releases > 0
}

type fakeAudioStream struct {
	kind   domain.StreamKind
	format ports.AudioFormat
	reader *io.PipeReader
	writer *io.PipeWriter

	ended    chan struct{}
	once     sync.Once
	mu       sync.Mutex
	releases int
}

func newFakeAudioStream(kind domain.StreamKind) *fakeAudioStream {
	r, w := io.Pipe()
	return &fakeAudioStream{
		kind:   kind,
		format: ports.AudioFormat{SampleRate: 44100, Channels: 1},
		reader: r,
		writer: w,
		ended:  make(chan struct{}),
	}
}

func (s *fakeAudioStream) Kind() domain.StreamKind     { return s.kind }
func (s *fakeAudioStream) Ended() <-chan struct{}      { return s.ended }
func (s *fakeAudioStream) Format() ports.AudioFormat   { return s.format }
func (s *fakeAudioStream) Read(p []byte) (int, error)  { return s.reader.Read(p) }
func (s *fakeAudioStream) Write(p []byte) (int, error) { return s.writer.Write(p) }

func (s *fakeAudioStream) Release() error {
	s.mu.Lock()
	s.releases++
	s.mu.Unlock()
	s.End()
	return nil
}

// End simulates the device disappearing.
func (s *fakeAudioStream) End() {
	s.once.Do(func() {
		_ = s.writer.Close()
		close(s.ended)
	})
}

func (s *fakeAudioStream) released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releases > 0
}

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type fakeDevices struct {
	log *callLog

	screen      *fakeVideoStream
	systemAudio *fakeAudioStream
	screenErr   error

	mic    *fakeAudioStream
	micErr error
	// micGate, when set, holds GetUserAudio until it closes or ctx is done.
	micGate chan struct{}

	webcamErr  error
	webcamFill color.RGBA

	mu      sync.Mutex
	webcams []*fakeVideoStream
	screenC ports.VideoConstraints
}

func newFakeDevices(width, height int) *fakeDevices {
	log := &callLog{}
	return &fakeDevices{
		log:        log,
		screen:     newFakeVideoStream(domain.StreamKindScreen, "screen", width, height, color.RGBA{B: 0xff, A: 0xff}, log),
		mic:        newFakeAudioStream(domain.StreamKindMicrophone),
		webcamFill: color.RGBA{G: 0xff, A: 0xff},
	}
}

func (f *fakeDevices) GetDisplayMedia(_ context.Context, video ports.VideoConstraints, _ bool) (ports.ScreenGrant, error) {
	f.mu.Lock()
	f.screenC = video
	f.mu.Unlock()
	f.log.add("get screen")
	if f.screenErr != nil {
		return ports.ScreenGrant{}, f.screenErr
	}
	grant := ports.ScreenGrant{Video: f.screen}
	if f.systemAudio != nil {
		grant.SystemAudio = f.systemAudio
	}
	return grant, nil
}

func (f *fakeDevices) GetUserVideo(_ context.Context, _ ports.VideoConstraints) (ports.VideoStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := fmt.Sprintf("webcam%d", len(f.webcams)+1)
	f.log.add("get " + name)
	if f.webcamErr != nil {
		return nil, f.webcamErr
	}
	stream := newFakeVideoStream(domain.StreamKindWebcam, name, 16, 8, f.webcamFill, f.log)
	f.webcams = append(f.webcams, stream)
	return stream, nil
}

func (f *fakeDevices) GetUserAudio(ctx context.Context, _ ports.AudioConstraints) (ports.AudioStream, error) {
	f.log.add("get mic")
	if f.micGate != nil {
		select {
		case <-f.micGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.micErr != nil {
		return nil, f.micErr
	}
	return f.mic, nil
}

func (f *fakeDevices) webcam(i int) *fakeVideoStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.webcams[i]
}

type fakeEncoderFactory struct {
	supported map[string]bool
	err       error
	stuck     bool
	final     []byte
	// onCreate runs after each encoder is built, before NewEncoder returns.
	onCreate func()

	mu      sync.Mutex
	configs []ports.EncoderConfig
	encs    []*fakeEncoder
}

func newFakeEncoderFactory() *fakeEncoderFactory {
	return &fakeEncoderFactory{
		supported: map[string]bool{"video/webm;codecs=vp9": true, "video/webm;codecs=vp8": true, "video/webm": true},
	}
}

func (f *fakeEncoderFactory) IsTypeSupported(mimeType string) bool { return f.supported[mimeType] }

func (f *fakeEncoderFactory) NewEncoder(_ context.Context, cfg ports.EncoderConfig) (ports.Encoder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configs = append(f.configs, cfg)
	if f.err != nil {
		return nil, f.err
	}
	enc := &fakeEncoder{cfg: cfg, stuck: f.stuck, final: f.final, done: make(chan struct{})}
	for range cfg.Audio {
		enc.audio = append(enc.audio, &discardWriter{})
	}
	f.encs = append(f.encs, enc)
	if f.onCreate != nil {
		f.onCreate()
	}
	return enc, nil
}

func (f *fakeEncoderFactory) lastConfig() ports.EncoderConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.configs[len(f.configs)-1]
}

func (f *fakeEncoderFactory) encoder(i int) *fakeEncoder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.encs[i]
}

type fakeEncoder struct {
	cfg   ports.EncoderConfig
	stuck bool
	final []byte
	audio []*discardWriter

	mu        sync.Mutex
	frames    int
	lastFrame *image.RGBA
	requests  int
	stopped   bool
	killed    bool

	doneOnce sync.Once
	done     chan struct{}
}

func (e *fakeEncoder) WriteFrame(frame *image.RGBA) {
	copied := image.NewRGBA(frame.Bounds())
	copy(copied.Pix, frame.Pix)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.frames++
	e.lastFrame = copied
}

func (e *fakeEncoder) AudioInput(i int) io.WriteCloser {
	if i < 0 || i >= len(e.audio) {
		return nil
	}
	return e.audio[i]
}

func (e *fakeEncoder) RequestData() {
	e.mu.Lock()
	e.requests++
	e.mu.Unlock()
}

// emit delivers a chunk the way the encoder's timeslice would.
func (e *fakeEncoder) emit(data string) {
	e.cfg.OnChunk([]byte(data))
}

func (e *fakeEncoder) Stop() error {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()
	if !e.stuck {
		e.finish()
	}
	return nil
}

func (e *fakeEncoder) Kill() error {
	e.mu.Lock()
	e.killed = true
	e.mu.Unlock()
	e.doneOnce.Do(func() { close(e.done) })
	return nil
}

func (e *fakeEncoder) finish() {
	e.doneOnce.Do(func() {
		if len(e.final) > 0 {
			e.cfg.OnChunk(e.final)
		}
		close(e.done)
	})
}

func (e *fakeEncoder) Done() <-chan struct{} { return e.done }

func (e *fakeEncoder) snapshot() (frames int, last *image.RGBA) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frames, e.lastFrame
}

func (e *fakeEncoder) wasKilled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.killed
}

type discardWriter struct {
	mu     sync.Mutex
	n      int
	closed bool
}

func (w *discardWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, io.ErrClosedPipe
	}
	w.n += len(p)
	return len(p), nil
}

func (w *discardWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *discardWriter) written() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.n
}

type fakeUploader struct {
	mu      sync.Mutex
	errs    []error
	result  domain.UploadResult
	calls   int
	slugs   []string
	payload []byte
}

func (f *fakeUploader) Upload(_ context.Context, artifact *domain.Artifact, _ string, slug string) (domain.UploadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.slugs = append(f.slugs, slug)
	if data, err := artifact.Bytes(); err == nil {
		f.payload = append([]byte(nil), data...)
	}
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return domain.UploadResult{}, err
		}
	}
	return f.result, nil
}

func (f *fakeUploader) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakePublisher struct {
	mu        sync.Mutex
	published map[string]*domain.Artifact
	revoked   []string
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{published: make(map[string]*domain.Artifact)}
}

func (p *fakePublisher) Publish(artifact *domain.Artifact, _ string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published[artifact.ID] = artifact
	return "http://127.0.0.1:3939/recordings/" + artifact.ID
}

func (p *fakePublisher) Revoke(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.published, id)
	p.revoked = append(p.revoked, id)
}

func (p *fakePublisher) revokedIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.revoked...)
}

type fakeSlugs struct{}

func (fakeSlugs) Normalize(slug string) (string, error) {
	if slug == "bad" {
		return "", fmt.Errorf("invalid slug %q", slug)
	}
	return "norm-" + slug, nil
}

type fakeEventSink struct {
	mu       sync.Mutex
	states   []stateEvent
	errors   []errEvent
	webcams  []domain.WebcamStatus
	overlays []domain.OverlayPosition
	progress [][2]int64
}

type stateEvent struct {
	state  domain.SessionState
	reason domain.SessionStateReason
}

type errEvent struct {
	code   domain.ErrorCode
	detail string
}

func (f *fakeEventSink) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, stateEvent{state: state, reason: reason})
}

func (f *fakeEventSink) SessionError(code domain.ErrorCode, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, errEvent{code: code, detail: detail})
}

func (f *fakeEventSink) WebcamChanged(status domain.WebcamStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.webcams = append(f.webcams, status)
}

func (f *fakeEventSink) OverlayMoved(pos domain.OverlayPosition) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.overlays = append(f.overlays, pos)
}

func (f *fakeEventSink) UploadProgress(sent int64, total int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress = append(f.progress, [2]int64{sent, total})
}

func (f *fakeEventSink) snapshotStates() []stateEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]stateEvent(nil), f.states...)
}

func (f *fakeEventSink) snapshotErrors() []errEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]errEvent(nil), f.errors...)
}

func (f *fakeEventSink) hasError(code domain.ErrorCode) bool {
	for _, e := range f.snapshotErrors() {
		if e.code == code {
			return true
		}
	}
	return false
}

func (f *fakeEventSink) hasState(state domain.SessionState, reason domain.SessionStateReason) bool {
	for _, e := range f.snapshotStates() {
		if e.state == state && e.reason == reason {
			return true
		}
	}
	return false
}

func waitFor(t interface {
	Helper()
	Fatalf(string, ...any)
}, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
