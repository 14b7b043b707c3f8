package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/yangwenmai/copydeck/internal/cache"
	"github.com/yangwenmai/copydeck/internal/engine"
	"github.com/yangwenmai/copydeck/internal/guard"
	"github.com/yangwenmai/copydeck/internal/model"
	"github.com/yangwenmai/copydeck/internal/observability"
	"github.com/yangwenmai/copydeck/internal/progress"
	"github.com/yangwenmai/copydeck/internal/store"
)

// maxRequestBody is the maximum allowed request body size (1 MB).
const maxRequestBody int64 = 1 << 20

// Generator runs one generation request, reporting progress to l.
type Generator interface {
	Run(ctx context.Context, req model.GenerateRequest, l progress.Listener) (*engine.Outcome, error)
}

// Deps are the collaborators the server routes to. Jobs and Generator are
// required; a nil Cache or Metrics disables the matching endpoints.
type Deps struct {
	Jobs       store.JobRepository
	Generator  Generator
	Cache      *cache.Cache
	Guard      *guard.Guard
	Metrics    *observability.Metrics
	Logger     *slog.Logger
	CORSOrigin string
}

// Server holds the HTTP handlers and dependencies.
type Server struct {
	jobs    store.JobRepository
	gen     Generator
	cache   *cache.Cache
	guard   *guard.Guard
	metrics *observability.Metrics
	log     *slog.Logger
	origin  string
	mux     *http.ServeMux
}

// New creates a new API server.
func New(d Deps) *Server {
	srv := &Server{
		jobs:    d.Jobs,
		gen:     d.Generator,
		cache:   d.Cache,
		guard:   d.Guard,
		metrics: d.Metrics,
		log:     d.Logger,
		origin:  d.CORSOrigin,
		mux:     http.NewServeMux(),
	}
	if srv.guard == nil {
		srv.guard = guard.New(nil)
	}
	if srv.log == nil {
		srv.log = slog.Default()
	}
	if srv.origin == "" {
		srv.origin = "*"
	}
	srv.routes()
	return srv
}

// Handler returns the root http.Handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return corsMiddleware(s.origin, limitBody(jsonContent(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/generate", s.handleGenerate)
	s.mux.HandleFunc("POST /api/generate/stream", s.handleGenerateStream)
	s.mux.HandleFunc("GET /api/ws", s.handleWebSocket)

	s.mux.HandleFunc("POST /api/jobs", s.handleCreateJob)
	s.mux.HandleFunc("GET /api/jobs", s.handleListJobs)
	s.mux.HandleFunc("GET /api/jobs/{id}", s.handleGetJob)
	s.mux.HandleFunc("POST /api/jobs/{id}/retry", s.handleRetryJob)

	s.mux.HandleFunc("GET /api/cache/stats", s.handleCacheStats)
	s.mux.HandleFunc("POST /api/cache/prune", s.handleCachePrune)
	s.mux.HandleFunc("DELETE /api/cache/{fingerprint}", s.handleCacheInvalidate)

	s.mux.HandleFunc("POST /api/check", s.handleCheck)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

// corsMiddleware sets CORS headers for origin.
func corsMiddleware(origin string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// limitBody restricts the request body to maxRequestBody bytes.
func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
		next.ServeHTTP(w, r)
	})
}

// jsonContent defaults the response type; streaming and metrics handlers
// overwrite it.
func jsonContent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// ---------------------------------------------------------------------------
// Response helpers
// ---------------------------------------------------------------------------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
