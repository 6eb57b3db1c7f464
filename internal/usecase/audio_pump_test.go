package usecase

import (
	"errors"
	"io"
	"os"
	"testing"

	"bubblecast/internal/domain"
	"bubblecast/internal/ports"
)

func TestPumpAudioChunksReportsWriteError(t *testing.T) {
	t.Parallel()

	audio := &scriptedAudio{chunks: [][]byte{[]byte("abc")}}
	events := &fakeEventSink{}
	done := make(chan struct{})

	go pumpAudioChunks(audio, &failingWriter{err: errors.New("disk full")}, 256, events, done)
	<-done

	errs := events.snapshotErrors()
	if len(errs) == 0 || errs[0].code != domain.ErrorCodeAudioStream {
		t.Fatalf("expected audio stream error")
	}
}

func TestPumpAudioChunksReportsReadError(t *testing.T) {
	t.Parallel()

	audio := &scriptedAudio{err: errors.New("read failed")}
	events := &fakeEventSink{}
	done := make(chan struct{})

	go pumpAudioChunks(audio, &discardWriter{}, 256, events, done)
	<-done

	errs := events.snapshotErrors()
	if len(errs) == 0 || errs[0].code != domain.ErrorCodeAudioStream {
		t.Fatalf("expected audio stream error")
	}
}

func TestPumpAudioChunksStopsQuietlyOnClose(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		audio *scriptedAudio
		sink  io.Writer
	}{
		{"source ended", &scriptedAudio{chunks: [][]byte{[]byte("pcm")}}, &discardWriter{}},
		{"source released", &scriptedAudio{err: os.ErrClosed}, &discardWriter{}},
		{"encoder stopped", &scriptedAudio{chunks: [][]byte{[]byte("pcm")}}, &failingWriter{err: io.ErrClosedPipe}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			events := &fakeEventSink{}
			done := make(chan struct{})
			go pumpAudioChunks(tc.audio, tc.sink, 256, events, done)
			<-done
			if errs := events.snapshotErrors(); len(errs) != 0 {
				t.Fatalf("expected no error events, got %+v", errs)
			}
		})
	}
}

func TestPumpAudioChunksCopiesEverything(t *testing.T) {
	t.Parallel()

	audio := &scriptedAudio{chunks: [][]byte{[]byte("ab"), []byte("cd")}}
	sink := &discardWriter{}
	done := make(chan struct{})
	go pumpAudioChunks(audio, sink, 0, &fakeEventSink{}, done)
	<-done

	if sink.written() != 4 {
		t.Fatalf("expected 4 bytes copied, got %d", sink.written())
	}
}

// scriptedAudio returns its chunks and then err, or io.EOF.
type scriptedAudio struct {
	chunks [][]byte
	err    error
}

func (s *scriptedAudio) Read(p []byte) (int, error) {
	if len(s.chunks) == 0 {
		if s.err != nil {
			return 0, s.err
		}
		return 0, io.EOF
	}
	n := copy(p, s.chunks[0])
	s.chunks = s.chunks[1:]
	return n, nil
}

func (s *scriptedAudio) Kind() domain.StreamKind   { return domain.StreamKindMicrophone }
func (s *scriptedAudio) Ended() <-chan struct{}    { return nil }
func (s *scriptedAudio) Release() error            { return nil }
func (s *scriptedAudio) Format() ports.AudioFormat { return ports.AudioFormat{SampleRate: 44100, Channels: 1} }

type failingWriter struct {
	err error
}

func (w *failingWriter) Write(_ []byte) (int, error) { return 0, w.err }

var _ ports.AudioStream = (*scriptedAudio)(nil)
