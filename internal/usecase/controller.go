package usecase

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"bubblecast/internal/domain"
	"bubblecast/internal/overlay"
	"bubblecast/internal/ports"
)

var (
	ErrNoActiveSession   = errors.New("no active recording session")
	ErrSessionActive     = errors.New("a recording session is already active")
	ErrNoRecording       = errors.New("no finished recording")
	ErrSessionDiscarded  = errors.New("recording was discarded")
	ErrUploadInProgress  = errors.New("upload already in progress")
	ErrAlreadyUploaded   = errors.New("recording was already uploaded")
	ErrInvalidTransition = errors.New("operation not allowed in the current state")
	ErrShuttingDown      = errors.New("recorder is shutting down")
)

// Config controls capture, encoding and stop behavior.
type Config struct {
	Acquirer AcquirerConfig

	// RenderRate is the compositor tick rate in frames per second.
	RenderRate         float64
	VideoBitsPerSecond int
	Timeslice          time.Duration
	AudioChunkSize     int

	// StopGrace is how long Stop lets buffered encoder output drain before closing
	// the inputs; StopTimeout bounds the wait for the encoder to finish.
	StopGrace   time.Duration
	StopTimeout time.Duration

	// DefaultWidth and DefaultHeight size the surface when the screen stream does
	// not report its dimensions.
	DefaultWidth  int
	DefaultHeight int
}

// Dependencies are the ports the controller drives.
type Dependencies struct {
	Devices   ports.MediaDevices
	Encoders  ports.EncoderFactory
	Uploader  ports.Uploader
	Publisher ports.ArtifactPublisher
	Slugs     ports.SlugNormalizer
	Events    ports.EventSink
	Metrics   ports.Metrics
	Logger    *slog.Logger
	Overlay   *overlay.Controller
	Now       func() time.Time
}

// RecordingController runs the recording session state machine. At most one
// session exists at a time.
type RecordingController struct {
	acquirer  *StreamAcquirer
	encoders  ports.EncoderFactory
	uploader  ports.Uploader
	slugs     ports.SlugNormalizer
	events    ports.EventSink
	metrics   ports.Metrics
	logger    *slog.Logger
	overlay   *overlay.Controller
	finalizer artifactFinalizer
	now       func() time.Time
	cfg       Config

	mu      sync.Mutex
	current *recordingSession
	closed  bool
}

func NewRecordingController(deps Dependencies, cfg Config) *RecordingController {
	if cfg.RenderRate <= 0 {
		cfg.RenderRate = 60
	}
	if cfg.VideoBitsPerSecond <= 0 {
		cfg.VideoBitsPerSecond = 8_000_000
	}
	if cfg.Timeslice <= 0 {
		cfg.Timeslice = time.Second
	}
	if cfg.AudioChunkSize < 256 {
		cfg.AudioChunkSize = 4096
	}
	if cfg.StopGrace < 0 {
		cfg.StopGrace = 0
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 4 * time.Second
	}
	if cfg.DefaultWidth <= 0 || cfg.DefaultHeight <= 0 {
		cfg.DefaultWidth, cfg.DefaultHeight = 1920, 1080
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Overlay == nil {
		deps.Overlay = overlay.NewController(nil, deps.Events.OverlayMoved)
	}

	return &RecordingController{
		acquirer:  NewStreamAcquirer(deps.Devices, deps.Events, deps.Logger, cfg.Acquirer),
		encoders:  deps.Encoders,
		uploader:  deps.Uploader,
		slugs:     deps.Slugs,
		events:    deps.Events,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		overlay:   deps.Overlay,
		finalizer: newArtifactFinalizer(deps.Publisher, deps.Now),
		now:       deps.Now,
		cfg:       cfg,
	}
}

// Overlay is the drag controller for the bubble position.
func (c *RecordingController) Overlay() *overlay.Controller { return c.overlay }

// Start acquires the screen and microphone and begins recording. Shutdown cancels
// an acquisition that is still in flight.
func (c *RecordingController) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrShuttingDown
	}
	if c.current != nil && !c.current.getState().Terminal() {
		c.mu.Unlock()
		return ErrSessionActive
	}
	s := newRecordingSession()
	s.cancelStart = cancel
	c.current = s
	c.mu.Unlock()

	c.events.SessionStateChanged(domain.SessionStateAcquiring, domain.SessionReasonAcquiringStreams)

	grant, err := c.acquirer.AcquireScreen(ctx)
	if err != nil {
		return c.failStart(s, err)
	}
	s.screen = grant

	mic, err := c.acquirer.AcquireMicrophone(ctx)
	if err != nil {
		return c.failStart(s, err)
	}
	s.mic = mic

	if err := c.startPipeline(ctx, s); err != nil {
		return c.failStart(s, err)
	}
	if err := c.goLive(s); err != nil {
		return c.failStart(s, err)
	}
	go c.watchSession(s)

	c.metrics.SessionStarted()
	c.logger.Info("recording started",
		"mime_type", s.mimeType,
		"width", s.surface.Bounds().Dx(),
		"height", s.surface.Bounds().Dy(),
		"audio_tracks", len(s.pumpsDone),
	)
	c.events.SessionStateChanged(domain.SessionStateLive, domain.SessionReasonRecordingStarted)
	s.markStarted()
	return nil
}

// goLive moves an acquiring session to live unless Shutdown got there first.
func (c *RecordingController) goLive(s *recordingSession) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrShuttingDown
	}
	if _, ok := s.transition(domain.SessionStateLive, domain.SessionReasonRecordingStarted, domain.SessionStateAcquiring); !ok {
		return ErrInvalidTransition
	}
	return nil
}

func (c *RecordingController) startPipeline(ctx context.Context, s *recordingSession) error {
	settings := s.screen.Video.Settings()
	width, height := settings.Width, settings.Height
	if width <= 0 || height <= 0 {
		width, height = c.cfg.DefaultWidth, c.cfg.DefaultHeight
	}
	frameRate := settings.FrameRate
	if frameRate <= 0 {
		frameRate = c.cfg.RenderRate
	}

	mimeType, err := selectMimeType(c.encoders)
	if err != nil {
		return err
	}
	s.mimeType = mimeType

	tracks := []ports.AudioStream{s.mic}
	if s.screen.SystemAudio != nil {
		tracks = append(tracks, s.screen.SystemAudio)
	}
	formats := make([]ports.AudioFormat, 0, len(tracks))
	for _, track := range tracks {
		formats = append(formats, track.Format())
	}

	s.chunks = newChunkBuffer(c.now)
	enc, err := c.encoders.NewEncoder(ctx, ports.EncoderConfig{
		MimeType:           mimeType,
		Width:              width,
		Height:             height,
		FrameRate:          frameRate,
		VideoBitsPerSecond: c.cfg.VideoBitsPerSecond,
		Audio:              formats,
		Timeslice:          c.cfg.Timeslice,
		OnChunk: func(data []byte) {
			if s.chunks.Append(data) {
				c.metrics.ChunkEncoded(len(data))
			}
		},
	})
	if err != nil {
		return err
	}
	s.encoder = enc
	s.surface = image.NewRGBA(image.Rect(0, 0, width, height))

	for i, track := range tracks {
		sink := enc.AudioInput(i)
		if sink == nil {
			continue
		}
		done := make(chan struct{})
		s.pumpsDone = append(s.pumpsDone, done)
		go pumpAudioChunks(track, sink, c.cfg.AudioChunkSize, c.events, done)
	}

	renderCtx, cancel := context.WithCancel(context.Background())
	s.stopRender = cancel
	s.renderDone = make(chan struct{})
	go runRenderLoop(renderCtx, frameInterval(c.cfg.RenderRate), s.surface, renderSources{
		screen:  s.screen.Video,
		webcam:  c.acquirer.WebcamFrame,
		overlay: c.overlay.Current,
	}, enc, c.metrics, s.renderDone)
	return nil
}

// failStart undoes a partial start and returns the session slot to idle.
func (c *RecordingController) failStart(s *recordingSession, err error) error {
	s.stopRender()
	if s.renderDone != nil {
		<-s.renderDone
	}
	if s.encoder != nil {
		_ = s.encoder.Kill()
	}
	c.releaseStreams(s)
	for _, done := range s.pumpsDone {
		<-done
	}
	if s.chunks != nil {
		s.chunks.Drain()
	}

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()

	reason := domain.SessionReasonAcquisitionFailed
	var acqErr *domain.AcquisitionError
	switch {
	case closed || errors.Is(err, ErrShuttingDown):
		reason = domain.SessionReasonTeardown
	case !errors.As(err, &acqErr):
		reason = domain.SessionReasonEncodingFailed
	}
	s.setState(domain.SessionStateIdle, reason)

	c.mu.Lock()
	if c.current == s {
		c.current = nil
	}
	c.mu.Unlock()

	c.logger.Warn("recording start failed", "reason", reason, "error", err)
	if reason != domain.SessionReasonTeardown {
		c.events.SessionError(errorCodeFor(err), err.Error())
	}
	c.events.SessionStateChanged(domain.SessionStateIdle, reason)
	s.markStarted()
	return err
}

// watchSession finalizes the session when the screen share, the encoder or the
// microphone goes away outside the app.
func (c *RecordingController) watchSession(s *recordingSession) {
	reason := domain.SessionReasonScreenShareEnded
	select {
	case <-s.screen.Video.Ended():
	case <-s.encoder.Done():
		reason = domain.SessionReasonEncoderExited
	case <-s.mic.Ended():
		reason = domain.SessionReasonMicrophoneEnded
	case <-s.finalizing:
		return
	}
	// Stop closes finalizing before it releases anything.
	select {
	case <-s.finalizing:
		return
	default:
	}

	switch reason {
	case domain.SessionReasonEncoderExited:
		c.logger.Error("encoder exited while recording")
		c.events.SessionError(domain.ErrorCodeEncoding, "encoder exited while recording")
	case domain.SessionReasonMicrophoneEnded:
		c.logger.Warn("microphone ended while recording")
		c.events.SessionError(domain.ErrorCodeMicrophone, "microphone stream ended")
	default:
		c.logger.Info("screen share ended externally")
	}
	if _, err := c.finalize(context.Background(), s, reason); err != nil {
		c.logger.Warn("finalize after source ended failed", "reason", reason, "error", err)
	}
}

// Stop finalizes the live session and returns its preview. Repeated and concurrent
// calls all get the same preview.
func (c *RecordingController) Stop(ctx context.Context) (domain.Preview, error) {
	s := c.session()
	if s == nil {
		return domain.Preview{}, ErrNoActiveSession
	}
	switch state := s.getState(); {
	case state == domain.SessionStateAcquiring:
		return domain.Preview{}, ErrInvalidTransition
	case state == domain.SessionStateDiscarded:
		return domain.Preview{}, ErrSessionDiscarded
	case state.Terminal():
		return domain.Preview{}, ErrNoActiveSession
	}
	return c.finalize(ctx, s, domain.SessionReasonStopRequested)
}

func (c *RecordingController) finalize(ctx context.Context, s *recordingSession, reason domain.SessionStateReason) (domain.Preview, error) {
	s.finalizeOnce.Do(func() {
		defer close(s.finalized)
		close(s.finalizing)

		if _, ok := s.transition(domain.SessionStateFinalizing, reason, domain.SessionStateLive); !ok {
			s.finalizeErr = ErrInvalidTransition
			return
		}
		c.events.SessionStateChanged(domain.SessionStateFinalizing, reason)

		c.stopEncoder(ctx, s)
		s.stopRender()
		<-s.renderDone
		c.releaseStreams(s)
		c.acquirer.ReleaseWebcam()
		for _, done := range s.pumpsDone {
			<-done
		}

		artifact, preview := c.finalizer.Finalize(s.chunks.Drain(), s.mimeType)
		s.stateMu.Lock()
		s.artifact = artifact
		s.preview = &preview
		s.state = domain.SessionStatePreviewing
		s.reason = domain.SessionReasonRecordingReady
		s.stateMu.Unlock()

		c.metrics.SessionEnded(domain.SessionStatePreviewing)
		c.logger.Info("recording ready",
			"artifact_id", artifact.ID,
			"size", preview.Size,
			"reason", reason,
		)
		c.events.SessionStateChanged(domain.SessionStatePreviewing, domain.SessionReasonRecordingReady)
	})

	<-s.finalized
	if s.finalizeErr != nil {
		return domain.Preview{}, s.finalizeErr
	}
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.preview == nil {
		return domain.Preview{}, ErrNoRecording
	}
	return *s.preview, nil
}

// stopEncoder flushes, closes the inputs and waits for the encoder. A stuck encoder
// is killed after StopTimeout and whatever chunks arrived are kept.
func (c *RecordingController) stopEncoder(ctx context.Context, s *recordingSession) {
	enc := s.encoder
	enc.RequestData()
	if c.cfg.StopGrace > 0 {
		timer := time.NewTimer(c.cfg.StopGrace)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}
	if err := enc.Stop(); err != nil {
		c.logger.Warn("encoder stop failed", "error", err)
	}

	timer := time.NewTimer(c.cfg.StopTimeout)
	defer timer.Stop()
	select {
	case <-enc.Done():
		return
	case <-timer.C:
	}

	c.logger.Warn("encoder did not stop in time", "timeout", c.cfg.StopTimeout)
	c.metrics.StopTimedOut()
	c.events.SessionError(domain.ErrorCodeStopTimeout, domain.ErrStopTimeout.Error())
	if err := enc.Kill(); err != nil {
		c.logger.Warn("encoder kill failed", "error", err)
	}
	select {
	case <-enc.Done():
	case <-time.After(c.cfg.StopTimeout):
	}
}

func (c *RecordingController) releaseStreams(s *recordingSession) {
	for _, stream := range s.streams() {
		if err := stream.Release(); err != nil {
			c.logger.Warn("stream release failed", "kind", stream.Kind(), "error", err)
		}
	}
}

// Discard drops a finished recording that has not been uploaded.
func (c *RecordingController) Discard() error {
	s := c.session()
	if s == nil {
		return ErrNoRecording
	}
	prev, ok := s.transition(domain.SessionStateDiscarded, domain.SessionReasonRecordingDiscarded,
		domain.SessionStatePreviewing, domain.SessionStateUploadFailed)
	if !ok {
		if prev == domain.SessionStateDiscarded {
			return nil
		}
		return fmt.Errorf("%w: cannot discard while %s", ErrInvalidTransition, prev)
	}
	c.release(s, domain.SessionStateDiscarded, domain.SessionReasonRecordingDiscarded)
	return nil
}

// Upload sends the finished recording. On success the session is destroyed; on
// failure it stays in upload_failed and Upload may be called again.
func (c *RecordingController) Upload(ctx context.Context, slug string) (domain.UploadResult, error) {
	s := c.session()
	if s == nil {
		return domain.UploadResult{}, ErrNoRecording
	}
	if state := s.getState(); !state.HoldsArtifact() || state == domain.SessionStateUploading {
		return domain.UploadResult{}, uploadStateErr(state)
	}
	if slug != "" && c.slugs != nil {
		normalized, err := c.slugs.Normalize(slug)
		if err != nil {
			return domain.UploadResult{}, err
		}
		slug = normalized
	}

	prev, ok := s.transition(domain.SessionStateUploading, domain.SessionReasonUploadStarted,
		domain.SessionStatePreviewing, domain.SessionStateUploadFailed)
	if !ok {
		return domain.UploadResult{}, uploadStateErr(prev)
	}
	c.events.SessionStateChanged(domain.SessionStateUploading, domain.SessionReasonUploadStarted)

	s.stateMu.Lock()
	artifact, filename := s.artifact, s.preview.Filename
	s.stateMu.Unlock()

	started := c.now()
	result, err := c.uploader.Upload(ctx, artifact, filename, slug)
	c.metrics.UploadFinished(err, artifact.Size(), c.now().Sub(started))
	if err != nil {
		s.setState(domain.SessionStateUploadFailed, domain.SessionReasonUploadFailed)
		c.logger.Warn("upload failed", "artifact_id", artifact.ID, "error", err)
		c.events.SessionError(domain.ErrorCodeUpload, err.Error())
		c.events.SessionStateChanged(domain.SessionStateUploadFailed, domain.SessionReasonUploadFailed)
		return domain.UploadResult{}, err
	}

	s.stateMu.Lock()
	s.uploaded = &result
	s.state = domain.SessionStateUploaded
	s.reason = domain.SessionReasonUploadSucceeded
	s.stateMu.Unlock()

	c.logger.Info("upload complete", "hosted_id", result.HostedID, "playback_path", result.PlaybackPath)
	c.release(s, domain.SessionStateUploaded, domain.SessionReasonUploadSucceeded)
	return result, nil
}

func uploadStateErr(state domain.SessionState) error {
	switch state {
	case domain.SessionStateDiscarded:
		return ErrSessionDiscarded
	case domain.SessionStateUploading:
		return ErrUploadInProgress
	case domain.SessionStateUploaded:
		return ErrAlreadyUploaded
	default:
		return ErrNoRecording
	}
}

// release frees the artifact of a session that just reached a terminal state.
func (c *RecordingController) release(s *recordingSession, state domain.SessionState, reason domain.SessionStateReason) {
	s.stateMu.Lock()
	artifact := s.artifact
	s.stateMu.Unlock()

	c.finalizer.Free(artifact)
	c.metrics.SessionEnded(state)
	c.events.SessionStateChanged(state, reason)
}

// Preview returns the held recording's preview.
func (c *RecordingController) Preview() (domain.Preview, error) {
	_, preview, err := c.heldArtifact()
	if err != nil {
		return domain.Preview{}, err
	}
	return *preview, nil
}

// SaveArtifact writes the held recording to w.
func (c *RecordingController) SaveArtifact(w io.Writer) (int64, error) {
	artifact, _, err := c.heldArtifact()
	if err != nil {
		return 0, err
	}
	return artifact.WriteTo(w)
}

// ExportArtifact writes the held recording to a file at path.
func (c *RecordingController) ExportArtifact(path string) (int64, error) {
	artifact, _, err := c.heldArtifact()
	if err != nil {
		return 0, err
	}
	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create export file: %w", err)
	}
	n, err := artifact.WriteTo(file)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return n, fmt.Errorf("failed to export recording: %w", err)
	}
	c.logger.Info("recording exported", "path", path, "size", n)
	return n, nil
}

func (c *RecordingController) heldArtifact() (*domain.Artifact, *domain.Preview, error) {
	s := c.session()
	if s == nil {
		return nil, nil, ErrNoRecording
	}
	artifact, preview := s.heldArtifact()
	if artifact == nil {
		if s.getState() == domain.SessionStateDiscarded {
			return nil, nil, ErrSessionDiscarded
		}
		return nil, nil, ErrNoRecording
	}
	return artifact, preview, nil
}

// ToggleWebcam turns the webcam bubble on or off. It works with or without an
// active session, and a failure never affects the recording.
func (c *RecordingController) ToggleWebcam(ctx context.Context) (domain.WebcamStatus, error) {
	status, err := c.acquirer.ToggleWebcam(ctx)
	if err != nil {
		c.events.SessionError(domain.ErrorCodeWebcam, err.Error())
	}
	return status, err
}

// Status returns the current backend status.
func (c *RecordingController) Status() domain.Status {
	status := domain.Status{
		State:   domain.SessionStateIdle,
		Reason:  domain.SessionReasonReady,
		Webcam:  c.acquirer.WebcamStatus(),
		Overlay: c.overlay.Current(),
	}
	s := c.session()
	if s == nil {
		return status
	}
	state, reason, preview, uploaded := s.snapshot()
	status.State = state
	status.Reason = reason
	status.Active = state != domain.SessionStateIdle && !state.Terminal()
	if state.HoldsArtifact() && preview != nil {
		p := *preview
		status.Preview = &p
	}
	if uploaded != nil {
		u := *uploaded
		status.Upload = &u
	}
	return status
}

// Shutdown finalizes a live session, drops any held recording and releases the
// webcam. An acquisition still in flight is cancelled and waited for, bounded by
// ctx. Start fails afterwards.
func (c *RecordingController) Shutdown(ctx context.Context) {
	c.mu.Lock()
	c.closed = true
	s := c.current
	c.mu.Unlock()

	if s != nil {
		s.cancelStart()
		select {
		case <-s.started:
		case <-ctx.Done():
			c.logger.Warn("recording start did not settle before shutdown", "error", ctx.Err())
		}
		if state := s.getState(); state == domain.SessionStateLive || state == domain.SessionStateFinalizing {
			if _, err := c.finalize(ctx, s, domain.SessionReasonTeardown); err != nil {
				c.logger.Warn("finalize on shutdown failed", "error", err)
			}
		}
		if _, ok := s.transition(domain.SessionStateDiscarded, domain.SessionReasonTeardown,
			domain.SessionStatePreviewing, domain.SessionStateUploadFailed); ok {
			c.release(s, domain.SessionStateDiscarded, domain.SessionReasonTeardown)
		}
	}
	c.acquirer.ReleaseWebcam()
}

func (c *RecordingController) session() *recordingSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func errorCodeFor(err error) domain.ErrorCode {
	var acqErr *domain.AcquisitionError
	if errors.As(err, &acqErr) {
		switch acqErr.Source {
		case domain.StreamKindWebcam:
			return domain.ErrorCodeWebcam
		case domain.StreamKindMicrophone:
			return domain.ErrorCodeMicrophone
		default:
			return domain.ErrorCodeScreenCapture
		}
	}
	return domain.ErrorCodeEncoding
}

type nopMetrics struct{}

func (nopMetrics) SessionStarted()                            {}
func (nopMetrics) SessionEnded(domain.SessionState)           {}
func (nopMetrics) FrameRendered()                             {}
func (nopMetrics) ChunkEncoded(int)                           {}
func (nopMetrics) StopTimedOut()                              {}
func (nopMetrics) UploadFinished(error, int64, time.Duration) {}
