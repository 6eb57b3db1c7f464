package usecase

import (
	"testing"
	"time"

	"bubblecast/internal/domain"
)

func TestArtifactFinalizerPublishesPreview(t *testing.T) {
	t.Parallel()

	publisher := newFakePublisher()
	at := time.UnixMilli(1_700_000_000_123)
	f := newArtifactFinalizer(publisher, func() time.Time { return at })

	artifact, preview := f.Finalize([]domain.EncodedChunk{
		{Seq: 0, Data: []byte("ab")},
		{Seq: 1, Data: []byte("cd")},
	}, "video/webm;codecs=vp8")

	if preview.Filename != "recording-1700000000123.webm" {
		t.Fatalf("unexpected filename: %s", preview.Filename)
	}
	if preview.Size != 4 || preview.MediaType != "video/webm;codecs=vp8" || preview.ArtifactID != artifact.ID {
		t.Fatalf("unexpected preview: %+v", preview)
	}
	if preview.URL == "" || publisher.published[artifact.ID] != artifact {
		t.Fatalf("expected artifact to be published")
	}

	f.Free(artifact)
	if !artifact.Freed() || len(publisher.revokedIDs()) != 1 {
		t.Fatalf("expected free to revoke and release the artifact")
	}
	f.Free(nil)
}

func TestChunkBufferDrainsOnce(t *testing.T) {
	t.Parallel()

	b := newChunkBuffer(nil)
	if b.Append(nil) {
		t.Fatalf("empty chunks are not recorded")
	}
	b.Append([]byte("one"))
	b.Append([]byte("two"))
	if b.Len() != 2 || b.Size() != 6 {
		t.Fatalf("unexpected buffer len=%d size=%d", b.Len(), b.Size())
	}

	chunks := b.Drain()
	if len(chunks) != 2 || chunks[0].Seq != 0 || chunks[1].Seq != 1 || string(chunks[1].Data) != "two" {
		t.Fatalf("unexpected drained chunks: %+v", chunks)
	}
	if b.Append([]byte("late")) {
		t.Fatalf("append after drain must be dropped")
	}
	if again := b.Drain(); again != nil {
		t.Fatalf("second drain must be empty")
	}
}

func TestSelectMimeTypeOrder(t *testing.T) {
	t.Parallel()

	f := newFakeEncoderFactory()
	if got, _ := selectMimeType(f); got != "video/webm;codecs=vp9" {
		t.Fatalf("expected vp9 first, got %s", got)
	}
	delete(f.supported, "video/webm;codecs=vp9")
	if got, _ := selectMimeType(f); got != "video/webm;codecs=vp8" {
		t.Fatalf("expected vp8 second, got %s", got)
	}
}
