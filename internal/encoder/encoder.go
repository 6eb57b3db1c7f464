package encoder

import (
	"bytes"
	"errors"
	"image"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"bubblecast/internal/ffmpeg"
	"bubblecast/internal/ports"
)

const defaultTimeslice = time.Second

// Encoder feeds one ffmpeg process. Frames go through a single-slot mailbox so the
// render loop never waits on the encoder; output is delivered in timeslice chunks.
type Encoder struct {
	proc      *ffmpeg.Process
	frameSize int
	onChunk   func([]byte)
	timeslice time.Duration

	frames  chan []byte
	dropped atomic.Uint64
	written atomic.Uint64

	audio []*os.File

	out *chunkBuffer

	flush    chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	stopErr  error
	done     chan struct{}
}

func newEncoder(proc *ffmpeg.Process, out *chunkBuffer, cfg ports.EncoderConfig, audio []*os.File) *Encoder {
	timeslice := cfg.Timeslice
	if timeslice <= 0 {
		timeslice = defaultTimeslice
	}
	onChunk := cfg.OnChunk
	if onChunk == nil {
		onChunk = func([]byte) {}
	}
	e := &Encoder{
		proc:      proc,
		out:       out,
		frameSize: cfg.Width * cfg.Height * 4,
		onChunk:   onChunk,
		timeslice: timeslice,
		frames:    make(chan []byte, 1),
		audio:     audio,
		flush:     make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}

	go e.writeLoop()
	go e.chunkLoop()
	return e
}

// WriteFrame copies frame into the mailbox, replacing any frame the writer has not
// picked up yet.
func (e *Encoder) WriteFrame(frame *image.RGBA) {
	if frame == nil || len(frame.Pix) != e.frameSize {
		return
	}
	select {
	case <-e.stopCh:
		return
	default:
	}

	buf := make([]byte, e.frameSize)
	copy(buf, frame.Pix)
	for {
		select {
		case e.frames <- buf:
			return
		default:
		}
		select {
		case <-e.frames:
			e.dropped.Add(1)
		default:
		}
	}
}

// AudioInput returns the writer for audio track i, or nil when there is none.
func (e *Encoder) AudioInput(i int) io.WriteCloser {
	if i < 0 || i >= len(e.audio) {
		return nil
	}
	return e.audio[i]
}

// RequestData delivers whatever output is buffered without waiting for the timeslice.
func (e *Encoder) RequestData() {
	select {
	case e.flush <- struct{}{}:
	default:
	}
}

// Stop closes stdin and every audio input. ffmpeg then finishes the container and
// Done closes once the last chunk was delivered.
func (e *Encoder) Stop() error {
	e.stopOnce.Do(func() {
		close(e.stopCh)
		for _, file := range e.audio {
			if err := file.Close(); err != nil && e.stopErr == nil && !errors.Is(err, os.ErrClosed) {
				e.stopErr = err
			}
		}
	})
	return e.stopErr
}

// Kill terminates ffmpeg without waiting for it to finalize.
func (e *Encoder) Kill() error {
	_ = e.Stop()
	return e.proc.Kill()
}

func (e *Encoder) Done() <-chan struct{} { return e.done }

// Dropped is the number of frames replaced before the writer consumed them.
func (e *Encoder) Dropped() uint64 { return e.dropped.Load() }

// Written is the number of frames handed to ffmpeg.
func (e *Encoder) Written() uint64 { return e.written.Load() }

func (e *Encoder) writeLoop() {
	defer func() { _ = e.proc.Stdin.Close() }()
	for {
		select {
		case buf := <-e.frames:
			if _, err := e.proc.Stdin.Write(buf); err != nil {
				return
			}
			e.written.Add(1)
		case <-e.stopCh:
			select {
			case buf := <-e.frames:
				if _, err := e.proc.Stdin.Write(buf); err == nil {
					e.written.Add(1)
				}
			default:
			}
			return
		case <-e.proc.Exited():
			return
		}
	}
}

func (e *Encoder) chunkLoop() {
	defer close(e.done)
	ticker := time.NewTicker(e.timeslice)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.deliver()
		case <-e.flush:
			e.deliver()
		case <-e.proc.Exited():
			e.deliver()
			for _, file := range e.audio {
				_ = file.Close()
			}
			return
		}
	}
}

func (e *Encoder) deliver() {
	if chunk := e.out.take(); len(chunk) > 0 {
		e.onChunk(chunk)
	}
}

// chunkBuffer collects ffmpeg's stdout between deliveries.
type chunkBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *chunkBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *chunkBuffer) take() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.buf.Len() == 0 {
		return nil
	}
	chunk := make([]byte, b.buf.Len())
	copy(chunk, b.buf.Bytes())
	b.buf.Reset()
	return chunk
}

var _ ports.Encoder = (*Encoder)(nil)
