package usecase

import (
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"

	"bubblecast/internal/domain"
	"bubblecast/internal/ports"
)

// pumpAudioChunks copies PCM from a capture stream into an encoder audio input
// until either side ends.
func pumpAudioChunks(
	audio ports.AudioStream,
	sink io.Writer,
	chunkSize int,
	events ports.EventSink,
	done chan struct{},
) {
	defer close(done)

	if chunkSize < 256 {
		chunkSize = 4096
	}

	buf := make([]byte, chunkSize)
	for {
		n, err := audio.Read(buf)
		if n > 0 {
			if _, writeErr := sink.Write(buf[:n]); writeErr != nil {
				if !isStreamClosed(writeErr) {
					events.SessionError(domain.ErrorCodeAudioStream, fmt.Sprintf("failed to encode %s audio: %v", audio.Kind(), writeErr))
				}
				return
			}
		}
		if err != nil {
			if !isStreamClosed(err) {
				events.SessionError(domain.ErrorCodeAudioStream, fmt.Sprintf("%s capture error: %v", audio.Kind(), err))
			}
			return
		}
	}
}

// isStreamClosed matches the errors seen when a stream is released or the encoder
// stops while a copy is in flight.
func isStreamClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, syscall.EPIPE)
}
