// Package server exposes the companion over an HTTP API: chat, user
// management, memory inspection and health.
package server

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/elderwise/companion/pkg/memory"
	"github.com/elderwise/companion/pkg/memory/scheduler"
	"github.com/elderwise/companion/pkg/memory/session"
	"github.com/elderwise/companion/pkg/memory/store"
	"github.com/elderwise/companion/pkg/models"
)

// Server is the companion HTTP API server.
type Server struct {
	controller *memory.Controller
	ai         *models.Client
	sched      *scheduler.Scheduler // nil when retention jobs run elsewhere
	store      store.Store
	cache      *session.Cache
	router     chi.Router
	version    string
	started    time.Time
	logger     *log.Logger
}

// New wires the handlers over the memory controller and AI chain.
func New(controller *memory.Controller, ai *models.Client, sched *scheduler.Scheduler, st store.Store, cache *session.Cache, version string) *Server {
	s := &Server{
		controller: controller,
		ai:         ai,
		sched:      sched,
		store:      st,
		cache:      cache,
		version:    version,
		started:    time.Now(),
		logger:     log.New(os.Stderr, "server: ", log.LstdFlags),
	}
	s.routes()
	return s
}

// WithLogger overrides the default logger.
func (s *Server) WithLogger(logger *log.Logger) *Server {
	if logger != nil {
		s.logger = logger
	}
	return s
}

func (s *Server) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Post("/ai/respond", s.handleRespond)

		r.Route("/users", func(r chi.Router) {
			r.Post("/create", s.handleCreateUser)
			r.Get("/{userID}", s.handleGetUser)
			r.Put("/{userID}", s.handleUpdateUser)
			r.Get("/{userID}/stats", s.handleUserStats)
		})

		r.Route("/memory", func(r chi.Router) {
			r.Post("/search", s.handleSearchMemories)
			r.Get("/{userID}/recent", s.handleRecentMemories)
			r.Get("/{userID}/session", s.handleSessionHistory)
			r.Delete("/{userID}/session", s.handleClearSession)
			r.Post("/archive", s.handleTriggerArchive)
		})
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   s.version,
		"uptime":    time.Since(s.started).Seconds(),
		"providers": len(s.ai.Providers()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
