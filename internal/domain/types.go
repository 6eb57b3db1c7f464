package domain

import "time"

// SessionState models the recording lifecycle.
type SessionState string

const (
	SessionStateIdle         SessionState = "idle"
	SessionStateAcquiring    SessionState = "acquiring"
	SessionStateLive         SessionState = "live"
	SessionStateFinalizing   SessionState = "finalizing"
	SessionStatePreviewing   SessionState = "previewing"
	SessionStateDiscarded    SessionState = "discarded"
	SessionStateUploading    SessionState = "uploading"
	SessionStateUploaded     SessionState = "uploaded"
	SessionStateUploadFailed SessionState = "upload_failed"
)

// HoldsArtifact reports whether a session in this state still owns its recording.
func (s SessionState) HoldsArtifact() bool {
	switch s {
	case SessionStatePreviewing, SessionStateUploading, SessionStateUploadFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether the session is over and a new one may start.
func (s SessionState) Terminal() bool {
	return s == SessionStateDiscarded || s == SessionStateUploaded
}

// SessionStateReason provides a structured reason for state transitions.
type SessionStateReason string

const (
	SessionReasonReady              SessionStateReason = "ready"
	SessionReasonAcquiringStreams   SessionStateReason = "acquiring_streams"
	SessionReasonRecordingStarted   SessionStateReason = "recording_started"
	SessionReasonAcquisitionFailed  SessionStateReason = "acquisition_failed"
	SessionReasonEncodingFailed     SessionStateReason = "encoding_failed"
	SessionReasonStopRequested      SessionStateReason = "stop_requested"
	SessionReasonScreenShareEnded   SessionStateReason = "screen_share_ended"
	SessionReasonEncoderExited      SessionStateReason = "encoder_exited"
	SessionReasonMicrophoneEnded    SessionStateReason = "microphone_ended"
	SessionReasonRecordingReady     SessionStateReason = "recording_ready"
	SessionReasonRecordingDiscarded SessionStateReason = "recording_discarded"
	SessionReasonUploadStarted      SessionStateReason = "upload_started"
	SessionReasonUploadSucceeded    SessionStateReason = "upload_succeeded"
	SessionReasonUploadFailed       SessionStateReason = "upload_failed"
	SessionReasonTeardown           SessionStateReason = "teardown"
)

// ErrorCode identifies non-fatal and fatal backend errors.
type ErrorCode string

const (
	ErrorCodeStartup       ErrorCode = "startup"
	ErrorCodeScreenCapture ErrorCode = "screen_capture"
	ErrorCodeMicrophone    ErrorCode = "microphone"
	ErrorCodeWebcam        ErrorCode = "webcam"
	ErrorCodeEncoding      ErrorCode = "encoding"
	ErrorCodeStopTimeout   ErrorCode = "stop_timeout"
	ErrorCodeAudioStream   ErrorCode = "audio_stream"
	ErrorCodeUpload        ErrorCode = "upload"
	ErrorCodeExport        ErrorCode = "export"
)

// StreamKind names one of the hardware sources.
type StreamKind string

const (
	StreamKindScreen      StreamKind = "screen"
	StreamKindSystemAudio StreamKind = "system_audio"
	StreamKindWebcam      StreamKind = "webcam"
	StreamKindMicrophone  StreamKind = "microphone"
)

// EncodedChunk is one periodically flushed segment of encoder output.
type EncodedChunk struct {
	Seq  int
	Data []byte
	At   time.Time
}

// WebcamStatus reports whether the bubble source is on and producing frames.
type WebcamStatus struct {
	Enabled bool `json:"enabled"`
	Ready   bool `json:"ready"`
}

// Preview describes a finished recording held in memory.
type Preview struct {
	ArtifactID string    `json:"artifactId"`
	MediaType  string    `json:"mediaType"`
	Size       int64     `json:"size"`
	URL        string    `json:"url,omitempty"`
	Filename   string    `json:"filename"`
	CreatedAt  time.Time `json:"createdAt"`
}

// UploadResult is what the hosting boundary hands back for navigation.
type UploadResult struct {
	HostedID     string `json:"hostedId"`
	ShareSlug    string `json:"shareSlug,omitempty"`
	PlaybackPath string `json:"playbackPath"`
}

// Status summarizes the current runtime status.
type Status struct {
	State   SessionState       `json:"state"`
	Reason  SessionStateReason `json:"reason,omitempty"`
	Active  bool               `json:"active"`
	Message string             `json:"message,omitempty"`
	Webcam  WebcamStatus       `json:"webcam"`
	Overlay OverlayPosition    `json:"overlay"`
	Preview *Preview           `json:"preview,omitempty"`
	Upload  *UploadResult      `json:"upload,omitempty"`
}
