package domain

import (
	"errors"
	"fmt"
)

var (
	ErrPermissionDenied    = errors.New("permission denied")
	ErrDeviceUnavailable   = errors.New("no compatible device")
	ErrNoVideoTrack        = errors.New("no video track")
	ErrEncodingUnsupported = errors.New("no supported encoding")
	ErrStopTimeout         = errors.New("encoder did not stop within the grace window")
	ErrArtifactFreed       = errors.New("recording has been discarded")

	ErrUnauthenticated   = errors.New("not signed in")
	ErrNetworkFailure    = errors.New("network failure")
	ErrServerRejected    = errors.New("server rejected upload")
	ErrMissingIdentifier = errors.New("upload returned no video id")
)

// AcquisitionError reports which stream failed and why.
type AcquisitionError struct {
	Source StreamKind
	Kind   error
	Detail string
	Err    error
}

func (e *AcquisitionError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Source, e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is matches the failure category so errors.Is(err, ErrPermissionDenied) works.
func (e *AcquisitionError) Is(target error) bool {
	return target == e.Kind
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

// UploadError categorizes a failed upload. All categories are retryable.
type UploadError struct {
	Kind    error
	Status  int
	Message string
	Err     error
}

func (e *UploadError) Error() string {
	switch {
	case e.Status > 0 && e.Message != "":
		return fmt.Sprintf("%v (%d): %s", e.Kind, e.Status, e.Message)
	case e.Status > 0:
		return fmt.Sprintf("%v (%d)", e.Kind, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%v: %s", e.Kind, e.Message)
	default:
		return e.Kind.Error()
	}
}

func (e *UploadError) Is(target error) bool {
	return target == e.Kind
}

func (e *UploadError) Unwrap() error { return e.Err }
