package domain

// Event names shared by the desktop runtime and the loopback websocket.
const (
	EventSession  = "bubblecast:session"
	EventError    = "bubblecast:error"
	EventWebcam   = "bubblecast:webcam"
	EventOverlay  = "bubblecast:overlay"
	EventProgress = "bubblecast:upload-progress"
)

// ReasonMessage is the status line shown for a transition.
func ReasonMessage(reason SessionStateReason) string {
	switch reason {
	case SessionReasonReady:
		return "Ready to record"
	case SessionReasonAcquiringStreams:
		return "Requesting screen and microphone..."
	case SessionReasonRecordingStarted:
		return "Recording started"
	case SessionReasonAcquisitionFailed:
		return "Could not access screen or microphone"
	case SessionReasonEncodingFailed:
		return "Recording could not start"
	case SessionReasonStopRequested:
		return "Recording stopped. Finalizing..."
	case SessionReasonScreenShareEnded:
		return "Screen sharing ended. Finalizing..."
	case SessionReasonEncoderExited:
		return "Encoder stopped unexpectedly. Finalizing..."
	case SessionReasonMicrophoneEnded:
		return "Microphone disconnected. Finalizing..."
	case SessionReasonRecordingReady:
		return "Recording ready to preview"
	case SessionReasonRecordingDiscarded:
		return "Recording discarded"
	case SessionReasonUploadStarted:
		return "Uploading..."
	case SessionReasonUploadSucceeded:
		return "Upload complete"
	case SessionReasonUploadFailed:
		return "Upload failed. You can retry."
	case SessionReasonTeardown:
		return "Recorder closed"
	default:
		return ""
	}
}

// ErrorMessage is the headline shown for an error code. Unknown codes fall back
// to the detail text.
func ErrorMessage(code ErrorCode, detail string) string {
	switch code {
	case ErrorCodeStartup:
		return "Startup failed"
	case ErrorCodeScreenCapture:
		return "Screen capture failed"
	case ErrorCodeMicrophone:
		return "Microphone unavailable"
	case ErrorCodeWebcam:
		return "Camera unavailable"
	case ErrorCodeEncoding:
		return "Recording is not supported on this system"
	case ErrorCodeStopTimeout:
		return "Recorder took too long to stop; the recording may be cut short"
	case ErrorCodeAudioStream:
		return "Audio streaming issue"
	case ErrorCodeUpload:
		return "Upload failed"
	case ErrorCodeExport:
		return "Could not save the recording"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}
