package localserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"bubblecast/internal/domain"
	"bubblecast/internal/logger"
	"bubblecast/internal/metrics"
)

// Config controls the loopback server.
type Config struct {
	// Addr must be a loopback host:port. Port 0 picks a free port.
	Addr            string
	ShutdownTimeout time.Duration
}

// Server serves finished recordings to the preview player, recorder metrics and
// the /events websocket on a loopback address. It implements
// ports.ArtifactPublisher.
type Server struct {
	cfg     Config
	hub     *Hub
	metrics *metrics.Metrics
	logger  *slog.Logger
	router  chi.Router

	mu        sync.RWMutex
	artifacts map[string]published
	baseURL   string
	srv       *http.Server
}

// published is a preview entry. A revoked entry keeps its id with a nil artifact
// so the URL answers 410 instead of 404.
type published struct {
	artifact *domain.Artifact
	filename string
}

func New(cfg Config, hub *Hub, met *metrics.Metrics, log *slog.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:3939"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	if hub == nil {
		hub = NewHub(log)
	}
	s := &Server{
		cfg:       cfg,
		hub:       hub,
		metrics:   met,
		logger:    log,
		artifacts: make(map[string]published),
		baseURL:   "http://" + cfg.Addr,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(logger.RequestLogger(s.logger))
	r.Use(metrics.RequestMiddleware(s.metrics))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	r.Method(http.MethodGet, "/events", s.hub)
	r.Get("/recordings/{id}", s.serveRecording)
	r.Head("/recordings/{id}", s.serveRecording)
	return r
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Hub() *Hub { return s.hub }

// BaseURL is the scheme and authority preview URLs are built on.
func (s *Server) BaseURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.baseURL
}

// Start listens on the configured loopback address and serves in the background.
func (s *Server) Start() error {
	host, _, err := net.SplitHostPort(s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("invalid server address %q: %w", s.cfg.Addr, err)
	}
	if ip := net.ParseIP(host); host != "localhost" && (ip == nil || !ip.IsLoopback()) {
		return fmt.Errorf("server address %q is not a loopback address", s.cfg.Addr)
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.mu.Lock()
	s.srv = srv
	s.baseURL = "http://" + ln.Addr().String()
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("loopback server error", "error", err)
		}
	}()
	s.logger.Info("loopback server started", "addr", ln.Addr().String())
	return nil
}

// Shutdown closes websocket clients and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()

	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("loopback server shutdown: %w", err)
	}
	s.logger.Info("loopback server stopped")
	return nil
}

// Publish registers the artifact and returns its preview URL.
func (s *Server) Publish(artifact *domain.Artifact, filename string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[artifact.ID] = published{artifact: artifact, filename: filename}
	return s.baseURL + "/recordings/" + url.PathEscape(artifact.ID)
}

// Revoke makes the preview URL answer 410 Gone.
func (s *Server) Revoke(artifactID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.artifacts[artifactID]; ok {
		s.artifacts[artifactID] = published{}
	}
}

func (s *Server) serveRecording(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.RLock()
	entry, ok := s.artifacts[id]
	s.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	if entry.artifact == nil {
		http.Error(w, "recording is no longer available", http.StatusGone)
		return
	}
	body, err := entry.artifact.Reader()
	if err != nil {
		s.logger.Debug("recording no longer available", "artifact_id", id, "error", err)
		http.Error(w, "recording is no longer available", http.StatusGone)
		return
	}

	w.Header().Set("Content-Type", entry.artifact.MediaType)
	w.Header().Set("Cache-Control", "no-store")
	disposition := "inline"
	if download := r.URL.Query().Get("download"); download == "1" || strings.EqualFold(download, "true") {
		disposition = "attachment"
	}
	w.Header().Set("Content-Disposition", mime.FormatMediaType(disposition, map[string]string{"filename": entry.filename}))
	http.ServeContent(w, r, entry.filename, entry.artifact.CreatedAt, body)
}
