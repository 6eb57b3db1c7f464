package localserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bubblecast/internal/domain"
	"bubblecast/internal/metrics"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testArtifact() *domain.Artifact {
	return domain.NewArtifact([]domain.EncodedChunk{{Data: []byte("0123456789")}}, "video/webm;codecs=vp9")
}

func TestPublishServesRecording(t *testing.T) {
	t.Parallel()

	s := New(Config{Addr: "127.0.0.1:3939"}, nil, nil, testLogger())
	artifact := testArtifact()
	previewURL := s.Publish(artifact, "recording-1.webm")
	assert.Equal(t, "http://127.0.0.1:3939/recordings/"+artifact.ID, previewURL)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/recordings/"+artifact.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0123456789", rec.Body.String())
	assert.Equal(t, "video/webm;codecs=vp9", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Disposition"), "inline"))

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/recordings/"+artifact.ID+"?download=1", nil))
	assert.Equal(t, `attachment; filename=recording-1.webm`, rec.Header().Get("Content-Disposition"))
}

func TestRecordingSupportsRangeRequests(t *testing.T) {
	t.Parallel()

	s := New(Config{}, nil, nil, testLogger())
	artifact := testArtifact()
	s.Publish(artifact, "recording.webm")

	req := httptest.NewRequest(http.MethodGet, "/recordings/"+artifact.ID, nil)
	req.Header.Set("Range", "bytes=2-5")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "2345", rec.Body.String())
}

func TestRevokedAndFreedRecordings(t *testing.T) {
	t.Parallel()

	s := New(Config{}, nil, nil, testLogger())

	revoked := testArtifact()
	s.Publish(revoked, "a.webm")
	s.Revoke(revoked.ID)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/recordings/"+revoked.ID, nil))
	assert.Equal(t, http.StatusGone, rec.Code)

	s.Revoke("never-published")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/recordings/never-published", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	freed := testArtifact()
	s.Publish(freed, "b.webm")
	freed.Free()
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/recordings/"+freed.ID, nil))
	assert.Equal(t, http.StatusGone, rec.Code)
}

func TestMetricsRoute(t *testing.T) {
	t.Parallel()

	met := metrics.New()
	met.FrameRendered()
	s := New(Config{}, nil, met, testLogger())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "bubblecast_frames_rendered_total 1")

	rec = httptest.NewRecorder()
	New(Config{}, nil, nil, testLogger()).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartRejectsNonLoopbackAddress(t *testing.T) {
	t.Parallel()

	s := New(Config{Addr: "0.0.0.0:0"}, nil, nil, testLogger())
	assert.Error(t, s.Start())
}

func TestStartServesOnEphemeralPort(t *testing.T) {
	t.Parallel()

	s := New(Config{Addr: "127.0.0.1:0"}, nil, nil, testLogger())
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	artifact := testArtifact()
	previewURL := s.Publish(artifact, "recording.webm")
	assert.NotContains(t, previewURL, ":0/")

	resp, err := http.Get(previewURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "0123456789", string(body))
}

func TestEventsWebsocketReplaysAndStreams(t *testing.T) {
	t.Parallel()

	hub := NewHub(testLogger())
	s := New(Config{}, hub, nil, testLogger())
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	hub.SessionStateChanged(domain.SessionStateLive, domain.SessionReasonRecordingStarted)
	hub.SessionError(domain.ErrorCodeWebcam, "lost")

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	first := readEvent(t, conn)
	assert.Equal(t, domain.EventSession, first.Name)
	assert.Equal(t, "live", first.Payload["state"])
	assert.Equal(t, "Recording started", first.Payload["message"])

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)
	hub.OverlayMoved(domain.OverlayPosition{X: 0.5, Y: 0.25})
	moved := readEvent(t, conn)
	assert.Equal(t, domain.EventOverlay, moved.Name)
	assert.Equal(t, 50.0, moved.Payload["x"])
	assert.Equal(t, 25.0, moved.Payload["y"])

	hub.UploadProgress(5, 10)
	progress := readEvent(t, conn)
	assert.Equal(t, domain.EventProgress, progress.Name)
	assert.Equal(t, 5.0, progress.Payload["sent"])
}

func TestHubCloseDisconnectsClients(t *testing.T) {
	t.Parallel()

	hub := NewHub(testLogger())
	ts := httptest.NewServer(hub)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	assert.Zero(t, hub.Clients())
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var event Event
	require.NoError(t, json.Unmarshal(msg, &event))
	return event
}

func TestLoopbackOrigin(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"":                       true,
		"wails://wails":          true,
		"http://localhost:5173":  true,
		"http://wails.localhost": true,
		"http://127.0.0.1:3939":  true,
		"https://example.com":    false,
		"http://192.168.1.20":    false,
	}
	for origin, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/events", nil)
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		assert.Equal(t, want, isLoopbackOrigin(req), origin)
	}
}
