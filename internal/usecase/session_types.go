package usecase

import (
	"image"
	"slices"
	"sync"

	"bubblecast/internal/domain"
	"bubblecast/internal/ports"
)

type recordingSession struct {
	screen   ports.ScreenGrant
	mic      ports.AudioStream
	encoder  ports.Encoder
	mimeType string
	surface  *image.RGBA
	chunks   *chunkBuffer

	stopRender func()
	renderDone chan struct{}
	pumpsDone  []chan struct{}

	// started closes once Start has either gone live or given up.
	startOnce   sync.Once
	started     chan struct{}
	cancelStart func()

	// finalizing closes when finalization starts; finalized when it is over.
	finalizeOnce sync.Once
	finalizing   chan struct{}
	finalized    chan struct{}
	finalizeErr  error

	stateMu  sync.Mutex
	state    domain.SessionState
	reason   domain.SessionStateReason
	artifact *domain.Artifact
	preview  *domain.Preview
	uploaded *domain.UploadResult
}

func newRecordingSession() *recordingSession {
	return &recordingSession{
		state:       domain.SessionStateAcquiring,
		reason:      domain.SessionReasonAcquiringStreams,
		started:     make(chan struct{}),
		cancelStart: func() {},
		finalizing:  make(chan struct{}),
		finalized:   make(chan struct{}),
		stopRender:  func() {},
	}
}

func (s *recordingSession) markStarted() {
	s.startOnce.Do(func() { close(s.started) })
}

func (s *recordingSession) setState(state domain.SessionState, reason domain.SessionStateReason) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.state = state
	s.reason = reason
}

func (s *recordingSession) getState() domain.SessionState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// transition moves to state only from one of the allowed states. It returns the
// state the session was in.
func (s *recordingSession) transition(state domain.SessionState, reason domain.SessionStateReason, from ...domain.SessionState) (domain.SessionState, bool) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	prev := s.state
	if !slices.Contains(from, prev) {
		return prev, false
	}
	s.state = state
	s.reason = reason
	return prev, true
}

func (s *recordingSession) snapshot() (domain.SessionState, domain.SessionStateReason, *domain.Preview, *domain.UploadResult) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state, s.reason, s.preview, s.uploaded
}

func (s *recordingSession) heldArtifact() (*domain.Artifact, *domain.Preview) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if !s.state.HoldsArtifact() {
		return nil, nil
	}
	return s.artifact, s.preview
}

// streams lists every capture stream the session owns.
func (s *recordingSession) streams() []ports.MediaStream {
	var out []ports.MediaStream
	if s.screen.Video != nil {
		out = append(out, s.screen.Video)
	}
	if s.screen.SystemAudio != nil {
		out = append(out, s.screen.SystemAudio)
	}
	if s.mic != nil {
		out = append(out, s.mic)
	}
	return out
}
