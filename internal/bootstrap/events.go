package bootstrap

import (
	"bubblecast/internal/domain"
	"bubblecast/internal/ports"
)

// fanout delivers every event to each sink in order.
type fanout []ports.EventSink

func (f fanout) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	for _, sink := range f {
		sink.SessionStateChanged(state, reason)
	}
}

func (f fanout) SessionError(code domain.ErrorCode, detail string) {
	for _, sink := range f {
		sink.SessionError(code, detail)
	}
}

func (f fanout) WebcamChanged(status domain.WebcamStatus) {
	for _, sink := range f {
		sink.WebcamChanged(status)
	}
}

func (f fanout) OverlayMoved(pos domain.OverlayPosition) {
	for _, sink := range f {
		sink.OverlayMoved(pos)
	}
}

func (f fanout) UploadProgress(sent int64, total int64) {
	for _, sink := range f {
		sink.UploadProgress(sent, total)
	}
}
