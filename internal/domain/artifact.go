package domain

import (
	"bytes"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Artifact is the finished recording. The bytes never change after creation; Free
// drops them and every later read fails with ErrArtifactFreed.
type Artifact struct {
	ID        string
	MediaType string
	CreatedAt time.Time

	mu    sync.RWMutex
	data  []byte
	freed bool
}

// NewArtifact concatenates chunks in order into a single artifact.
func NewArtifact(chunks []EncodedChunk, mediaType string) *Artifact {
	total := 0
	for _, chunk := range chunks {
		total += len(chunk.Data)
	}
	data := make([]byte, 0, total)
	for _, chunk := range chunks {
		data = append(data, chunk.Data...)
	}
	return &Artifact{
		ID:        uuid.NewString(),
		MediaType: mediaType,
		CreatedAt: time.Now(),
		data:      data,
	}
}

func (a *Artifact) Size() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return int64(len(a.data))
}

// Bytes returns the recording. Callers must not modify the slice.
func (a *Artifact) Bytes() ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.freed {
		return nil, ErrArtifactFreed
	}
	return a.data, nil
}

// Reader returns a fresh reader over the recording.
func (a *Artifact) Reader() (io.ReadSeeker, error) {
	data, err := a.Bytes()
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(data), nil
}

func (a *Artifact) WriteTo(w io.Writer) (int64, error) {
	data, err := a.Bytes()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(data)
	return int64(n), err
}

func (a *Artifact) Freed() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.freed
}

// Free releases the recording bytes. Safe to call more than once.
func (a *Artifact) Free() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.data = nil
	a.freed = true
}
