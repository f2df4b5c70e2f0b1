// Package status serves an optional debug HTTP admin surface
// (/healthz, /sessions) for operators. It is never used by the MCP tool
// path itself (SPEC_FULL §11: chi/cors wired here, not in the tool layer).
package status

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/mcpcpp/bridge/internal/wsmanager"
)

// Server is the optional debug HTTP admin surface.
type Server struct {
	router   chi.Router
	manager  *wsmanager.Manager
	version  string
	started  time.Time
}

// New builds a debug server backed by manager. version is surfaced on
// /healthz for operators diagnosing which build is running.
func New(manager *wsmanager.Manager, version string) *Server {
	s := &Server{manager: manager, version: version, started: time.Now()}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods:   []string{"GET"},
		AllowedHeaders:   []string{"Accept"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/sessions", s.handleSessions)

	s.router = r
}

// Handler returns the admin surface's http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

type healthzResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	UptimeSecs  int64  `json:"uptime_seconds"`
	LiveSessions int   `json:"live_sessions"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := healthzResponse{
		Status:       "ok",
		Version:      s.version,
		UptimeSecs:   int64(time.Since(s.started).Seconds()),
		LiveSessions: s.manager.Len(),
	}
	writeJSON(w, http.StatusOK, resp)
}

type sessionsResponse struct {
	Count int `json:"count"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	// The workspace session owner intentionally exposes only aggregate
	// counts here, not per-session internals (no caching/inspection
	// surface beyond diagnostics is in scope per spec.md §1 Non-goals).
	writeJSON(w, http.StatusOK, sessionsResponse{Count: s.manager.Len()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
