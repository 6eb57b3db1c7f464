package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bubblecast/internal/domain"
)

// Metrics holds Prometheus collectors for the recorder. A nil *Metrics is a
// valid no-op recorder.
type Metrics struct {
	registry       *prometheus.Registry
	sessionsTotal  prometheus.Counter
	sessionsEnded  *prometheus.CounterVec
	activeSessions prometheus.Gauge
	framesTotal    prometheus.Counter
	chunksTotal    prometheus.Counter
	chunkBytes     prometheus.Counter
	stopTimeouts   prometheus.Counter
	uploadsTotal   *prometheus.CounterVec
	uploadBytes    prometheus.Counter
	uploadSeconds  prometheus.Histogram
	requestsTotal  *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bubblecast_sessions_started_total",
			Help: "Recording sessions that reached live",
		}),
		sessionsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bubblecast_sessions_ended_total",
			Help: "Session end transitions by resulting state",
		}, []string{"state"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bubblecast_active_sessions",
			Help: "1 while a session is recording",
		}),
		framesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bubblecast_frames_rendered_total",
			Help: "Composited frames handed to the encoder",
		}),
		chunksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bubblecast_chunks_encoded_total",
			Help: "Encoded chunks appended to a session",
		}),
		chunkBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bubblecast_chunk_bytes_total",
			Help: "Bytes of encoded output appended to sessions",
		}),
		stopTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bubblecast_stop_timeouts_total",
			Help: "Encoders killed after the stop timeout",
		}),
		uploadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bubblecast_uploads_total",
			Help: "Upload attempts by result",
		}, []string{"result"}),
		uploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bubblecast_upload_bytes_total",
			Help: "Bytes of successfully uploaded recordings",
		}),
		uploadSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bubblecast_upload_duration_seconds",
			Help:    "Time spent uploading a recording",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bubblecast_http_requests_total",
			Help: "Requests served by the loopback server by status class",
		}, []string{"class"}),
	}

	m.registry.MustRegister(
		m.sessionsTotal,
		m.sessionsEnded,
		m.activeSessions,
		m.framesTotal,
		m.chunksTotal,
		m.chunkBytes,
		m.stopTimeouts,
		m.uploadsTotal,
		m.uploadBytes,
		m.uploadSeconds,
		m.requestsTotal,
	)
	return m
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.sessionsTotal.Inc()
	m.activeSessions.Set(1)
}

// SessionEnded counts a session leaving the recording phase (previewing) or
// reaching a terminal state.
func (m *Metrics) SessionEnded(state domain.SessionState) {
	if m == nil {
		return
	}
	if state == domain.SessionStatePreviewing {
		m.activeSessions.Set(0)
	}
	m.sessionsEnded.WithLabelValues(string(state)).Inc()
}

func (m *Metrics) FrameRendered() {
	if m == nil {
		return
	}
	m.framesTotal.Inc()
}

func (m *Metrics) ChunkEncoded(size int) {
	if m == nil {
		return
	}
	m.chunksTotal.Inc()
	m.chunkBytes.Add(float64(size))
}

func (m *Metrics) StopTimedOut() {
	if m == nil {
		return
	}
	m.stopTimeouts.Inc()
}

func (m *Metrics) UploadFinished(err error, size int64, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.uploadSeconds.Observe(elapsed.Seconds())
	if err != nil {
		m.uploadsTotal.WithLabelValues("failed").Inc()
		return
	}
	m.uploadsTotal.WithLabelValues("ok").Inc()
	m.uploadBytes.Add(float64(size))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

