// Package api exposes a read-only JSON status endpoint for external
// tooling (studio dashboards, monitoring) to poll camera, shot and job
// state without joining the message bus.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/moonshinevfx/4drec-go/pkg/logger"
)

// CameraStatus is the public view of one camera's last known state.
type CameraStatus struct {
	Serial     string    `json:"serial"`
	Hostname   string    `json:"hostname"`
	State      string    `json:"state"`
	LastSeen   time.Time `json:"last_seen"`
	LiveView   bool      `json:"live_view"`
	Recording  bool      `json:"recording"`
}

// ShotSummary is the public view of one recorded shot.
type ShotSummary struct {
	ID          string   `json:"id"`
	ProjectID   string   `json:"project_id"`
	FrameCount  int      `json:"frame_count"`
	MissingIDs  []int    `json:"missing_frames,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// JobSummary is the public view of one submitted farm job.
type JobSummary struct {
	ID       string `json:"id"`
	ShotID   string `json:"shot_id"`
	Stage    string `json:"stage"`
	Progress float64 `json:"progress"`
}

// StatusSource is implemented by the entity store and camera registry. It
// is defined here, at the consumer, so this package never depends on their
// concrete types.
type StatusSource interface {
	ListCameraStatuses(ctx context.Context) ([]CameraStatus, error)
	ListShots(ctx context.Context, projectID string) ([]ShotSummary, error)
	ListJobs(ctx context.Context, shotID string) ([]JobSummary, error)
}

// Server serves the read-only status API.
type Server struct {
	source     StatusSource
	log        *logger.Logger
	httpServer *http.Server
}

// NewServer builds a Server backed by source.
func NewServer(source StatusSource, log *logger.Logger) *Server {
	return &Server{source: source, log: log}
}

// Start begins serving on addr. It returns once the listener is up or an
// immediate startup error is observed.
func (s *Server) Start(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/cameras", s.handleCameras)
	mux.HandleFunc("/api/shots", s.handleShots)
	mux.HandleFunc("/api/jobs", s.handleJobs)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.withCORS(s.withLogging(mux)),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.log.Info("starting status API", "address", addr)

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("status API server error", "error", err)
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.log.Info("stopping status API")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleCameras(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	cameras, err := s.source.ListCameraStatuses(r.Context())
	if err != nil {
		s.log.Error("list camera statuses failed", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, cameras)
}

func (s *Server) handleShots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	shots, err := s.source.ListShots(r.Context(), r.URL.Query().Get("project_id"))
	if err != nil {
		s.log.Error("list shots failed", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, shots)
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	jobs, err := s.source.ListJobs(r.Context(), r.URL.Query().Get("shot_id"))
	if err != nil {
		s.log.Error("list jobs failed", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, jobs)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		s.log.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr,
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
