package usecase

import (
	"fmt"
	"time"

	"bubblecast/internal/domain"
	"bubblecast/internal/ports"
)

type artifactFinalizer struct {
	publisher ports.ArtifactPublisher
	now       func() time.Time
}

func newArtifactFinalizer(publisher ports.ArtifactPublisher, now func() time.Time) artifactFinalizer {
	if now == nil {
		now = time.Now
	}
	return artifactFinalizer{publisher: publisher, now: now}
}

// Finalize concatenates the drained chunks into the artifact and publishes a local
// preview of it.
func (f artifactFinalizer) Finalize(chunks []domain.EncodedChunk, mimeType string) (*domain.Artifact, domain.Preview) {
	artifact := domain.NewArtifact(chunks, mimeType)
	created := f.now()
	artifact.CreatedAt = created

	preview := domain.Preview{
		ArtifactID: artifact.ID,
		MediaType:  artifact.MediaType,
		Size:       artifact.Size(),
		Filename:   recordingFilename(created),
		CreatedAt:  created,
	}
	if f.publisher != nil {
		preview.URL = f.publisher.Publish(artifact, preview.Filename)
	}
	return artifact, preview
}

// Free drops the recording and its preview URL.
func (f artifactFinalizer) Free(artifact *domain.Artifact) {
	if artifact == nil {
		return
	}
	if f.publisher != nil {
		f.publisher.Revoke(artifact.ID)
	}
	artifact.Free()
}

func recordingFilename(at time.Time) string {
	return fmt.Sprintf("recording-%d.webm", at.UnixMilli())
}
