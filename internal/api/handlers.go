package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/yangwenmai/copydeck/internal/cache"
	"github.com/yangwenmai/copydeck/internal/engine"
	"github.com/yangwenmai/copydeck/internal/guard"
	"github.com/yangwenmai/copydeck/internal/model"
	"github.com/yangwenmai/copydeck/internal/progress"
	"github.com/yangwenmai/copydeck/internal/store"
)

// decodeRequest reads a generation request and returns it normalized and
// validated. On failure it has already written the response.
func decodeRequest(w http.ResponseWriter, r *http.Request) (model.GenerateRequest, bool) {
	var req model.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return req, false
	}
	req = req.Normalize()
	if err := engine.ValidateRequest(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return req, false
	}
	return req, true
}

// runErrorStatus maps a failed run to an HTTP status.
func runErrorStatus(err error) int {
	switch {
	case errors.Is(err, engine.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrRunCancelled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// runErrorResponse carries the progress reached before a run failed.
type runErrorResponse struct {
	Error string          `json:"error"`
	State *progress.State `json:"state,omitempty"`
}

func writeRunError(w http.ResponseWriter, err error) {
	resp := runErrorResponse{Error: err.Error()}
	var runErr *engine.RunError
	if errors.As(err, &runErr) {
		resp.State = &runErr.State
	}
	writeJSON(w, runErrorStatus(err), resp)
}

// ---------------------------------------------------------------------------
// POST /api/generate
// ---------------------------------------------------------------------------

// handleGenerate runs the pipeline inline and returns the encoded Result.
// The body is written from the cached bytes so repeated requests are
// byte-identical.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}

	out, err := s.gen.Run(r.Context(), req, nil)
	if err != nil {
		s.log.Warn("generate failed", "product", req.ProductName, "error", err)
		writeRunError(w, err)
		return
	}

	if out.CacheHit {
		w.Header().Set("X-Cache", "hit")
		w.Header().Set("X-Cache-Tier", string(out.CacheTier))
	} else {
		w.Header().Set("X-Cache", "miss")
	}
	w.WriteHeader(http.StatusOK)
	w.Write(out.Raw)
}

// ---------------------------------------------------------------------------
// POST /api/jobs
// ---------------------------------------------------------------------------

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}

	job := model.NewJob(uuid.New().String(), cache.Fingerprint(req), req)
	if err := s.jobs.CreateJob(r.Context(), job); err != nil {
		s.log.Error("create job failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"id":          job.ID,
		"status":      job.Status,
		"fingerprint": job.Fingerprint,
	})
}

// ---------------------------------------------------------------------------
// GET /api/jobs
// ---------------------------------------------------------------------------

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	filter := model.JobFilter{Status: splitComma(r.URL.Query().Get("status"))}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}

	jobs, err := s.jobs.ListJobs(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []model.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

// ---------------------------------------------------------------------------
// GET /api/jobs/{id}
// ---------------------------------------------------------------------------

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	job, err := s.jobs.GetJob(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// ---------------------------------------------------------------------------
// POST /api/jobs/{id}/retry
// ---------------------------------------------------------------------------

func (s *Server) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	job, err := s.jobs.GetJob(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	if err := job.ValidateRetry(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	if err := s.jobs.RequeueJob(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to requeue job")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": model.JobQueued})
}

// ---------------------------------------------------------------------------
// Cache
// ---------------------------------------------------------------------------

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		writeError(w, http.StatusNotFound, "cache disabled")
		return
	}
	snap, err := s.cache.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read cache stats")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleCachePrune(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		writeError(w, http.StatusNotFound, "cache disabled")
		return
	}
	n, err := s.cache.Prune(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to prune cache")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"pruned": n})
}

// handleCacheInvalidate drops one fingerprint from both tiers. Removing an
// absent entry succeeds.
func (s *Server) handleCacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		writeError(w, http.StatusNotFound, "cache disabled")
		return
	}
	fp := r.PathValue("fingerprint")
	if !cache.ValidFingerprint(fp) {
		writeError(w, http.StatusBadRequest, "malformed fingerprint")
		return
	}
	if err := s.cache.Invalidate(r.Context(), fp); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to invalidate entry")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// POST /api/check
// ---------------------------------------------------------------------------

type checkRequest struct {
	Text  string `json:"text"`
	Level string `json:"level"`
}

type checkResponse struct {
	guard.FabricationCheck
	Sanitized     string               `json:"sanitized"`
	Changed       bool                 `json:"changed"`
	Modifications []guard.Modification `json:"modifications"`
	Level         guard.Level          `json:"level"`
	Passes        bool                 `json:"passes"`
	Superlatives  []string             `json:"superlatives"`
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	level := guard.ParseLevel(req.Level)
	sanitized, changed, mods := s.guard.Sanitize(req.Text)
	resp := checkResponse{
		FabricationCheck: s.guard.Check(req.Text),
		Sanitized:        sanitized,
		Changed:          changed,
		Modifications:    mods,
		Level:            level,
		Passes:           s.guard.PassesQualityGate(req.Text, level),
		Superlatives:     guard.Superlatives(req.Text),
	}
	writeJSON(w, http.StatusOK, resp)
}

// ---------------------------------------------------------------------------
// GET /healthz
// ---------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	counts, err := s.jobs.CountByStatus(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "jobs": counts})
}
