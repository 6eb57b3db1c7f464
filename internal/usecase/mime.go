package usecase

import (
	"bubblecast/internal/domain"
	"bubblecast/internal/ports"
)

// PreferredMimeTypes is the container preference order, best first. The last entry
// is the generic fallback.
var PreferredMimeTypes = []string{
	"video/webm;codecs=vp9",
	"video/webm;codecs=vp8",
	"video/webm",
}

func selectMimeType(factory ports.EncoderFactory) (string, error) {
	for _, mimeType := range PreferredMimeTypes {
		if factory.IsTypeSupported(mimeType) {
			return mimeType, nil
		}
	}
	return "", domain.ErrEncodingUnsupported
}
