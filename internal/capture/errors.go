package capture

import (
	"errors"
	"os"
	"os/exec"
	"strings"

	"bubblecast/internal/domain"
	"bubblecast/internal/ffmpeg"
)

var permissionMarkers = []string{
	"permission denied",
	"authorization required",
	"access denied",
	"not authorized",
	"operation not permitted",
}

// classify maps an ffmpeg start failure to an acquisition category.
func classify(kind domain.StreamKind, err error) error {
	detail := ""
	var startErr *ffmpeg.StartError
	if errors.As(err, &startErr) {
		detail = lastLine(startErr.Stderr)
	}

	category := domain.ErrDeviceUnavailable
	lower := strings.ToLower(detail)
	for _, marker := range permissionMarkers {
		if strings.Contains(lower, marker) {
			category = domain.ErrPermissionDenied
			break
		}
	}
	if errors.Is(err, os.ErrPermission) {
		category = domain.ErrPermissionDenied
	}
	if errors.Is(err, exec.ErrNotFound) {
		category = domain.ErrDeviceUnavailable
	}

	return &domain.AcquisitionError{Source: kind, Kind: category, Detail: detail, Err: err}
}

func lastLine(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
