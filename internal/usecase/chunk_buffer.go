package usecase

import (
	"sync"
	"time"

	"bubblecast/internal/domain"
)

// chunkBuffer is the append-only sequence of encoder output for one session.
// It is drained exactly once; chunks arriving afterwards are dropped.
type chunkBuffer struct {
	mu      sync.Mutex
	chunks  []domain.EncodedChunk
	size    int
	drained bool
	now     func() time.Time
}

func newChunkBuffer(now func() time.Time) *chunkBuffer {
	if now == nil {
		now = time.Now
	}
	return &chunkBuffer{now: now}
}

// Append records data and reports whether it was kept.
func (b *chunkBuffer) Append(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.drained {
		return false
	}
	b.chunks = append(b.chunks, domain.EncodedChunk{Seq: len(b.chunks), Data: data, At: b.now()})
	b.size += len(data)
	return true
}

func (b *chunkBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks)
}

func (b *chunkBuffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Drain hands over every chunk in arrival order. Later calls return nil.
func (b *chunkBuffer) Drain() []domain.EncodedChunk {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.drained {
		return nil
	}
	b.drained = true
	chunks := b.chunks
	b.chunks = nil
	b.size = 0
	return chunks
}
