package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/yangwenmai/copydeck/internal/engine"
	"github.com/yangwenmai/copydeck/internal/model"
	"github.com/yangwenmai/copydeck/internal/observability"
	"github.com/yangwenmai/copydeck/internal/progress"
	"github.com/yangwenmai/copydeck/internal/store"
)

// Generator runs one generation request.
type Generator interface {
	Run(ctx context.Context, req model.GenerateRequest, l progress.Listener) (*engine.Outcome, error)
}

// JobStore provides the claim and completion operations the worker needs.
type JobStore interface {
	store.JobClaimer
	UpdateJobStatus(ctx context.Context, id, newStatus string, errorInfo *string) error
	SaveJobResult(ctx context.Context, id string, result *model.Result) error
}

// Worker polls for QUEUED jobs and runs them through the generator.
type Worker struct {
	jobs     JobStore
	gen      Generator
	interval time.Duration
	log      *slog.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

// Option configures a Worker.
type Option func(*Worker)

// WithLogger sets the worker's logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) { w.log = l }
}

// WithMetrics records finished jobs.
func WithMetrics(m *observability.Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// New creates a new Worker.
func New(jobs JobStore, gen Generator, interval time.Duration, opts ...Option) *Worker {
	w := &Worker{jobs: jobs, gen: gen, interval: interval, log: slog.Default(), now: time.Now}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Start resets jobs left PROCESSING by a previous process, then polls until
// ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	if n, err := w.jobs.ResetStaleProcessing(ctx); err != nil {
		w.log.Error("reset stale jobs", "error", err)
	} else if n > 0 {
		w.log.Info("requeued stale jobs", "count", n)
	}

	w.log.Info("worker started", "interval", w.interval.String())
	for {
		select {
		case <-ctx.Done():
			w.log.Info("worker stopped")
			return
		default:
		}

		processed, err := w.RunOnce(ctx)
		if err != nil {
			w.log.Error("worker claim error", "error", err)
		}
		if !processed {
			w.sleep(ctx)
		}
	}
}

// RunOnce claims and runs at most one job. It reports whether a job was
// claimed; the error is only set when claiming failed.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.jobs.ClaimNextQueued(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	log := w.log.With("job_id", job.ID)
	log.Info("processing job", "product", job.Request.ProductName, "attempt", job.Attempts)

	out, err := w.gen.Run(ctx, job.Request, nil)
	if err != nil {
		if ctx.Err() != nil {
			// Shutting down: the job stays PROCESSING and is requeued on the
			// next start.
			log.Info("job interrupted", "error", err)
			return true, nil
		}
		log.Error("generation failed", "error", err)
		errInfo := w.buildErrorInfo(err)
		if sErr := w.jobs.UpdateJobStatus(ctx, job.ID, model.JobFailed, &errInfo); sErr != nil {
			log.Error("failed to set FAILED status", "error", sErr)
		}
		w.metrics.ObserveJob(model.JobFailed)
		return true, nil
	}

	if err := w.jobs.SaveJobResult(ctx, job.ID, out.Result); err != nil {
		log.Error("failed to save result", "error", err)
		return true, nil
	}
	w.metrics.ObserveJob(model.JobReady)
	log.Info("job is now READY",
		"cache_hit", out.CacheHit,
		"degraded", len(out.Result.Degraded),
		"score", out.Result.Score.Total,
	)
	return true, nil
}

func (w *Worker) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(w.interval):
	}
}

func (w *Worker) buildErrorInfo(err error) string {
	stage := "unknown"
	var runErr *engine.RunError
	if errors.As(err, &runErr) && runErr.State.CurrentStage != "" {
		stage = string(runErr.State.CurrentStage)
	}
	if errors.Is(err, engine.ErrInvalidRequest) {
		stage = "validate"
	}
	info := model.ErrorInfo{
		FailedStage: stage,
		Message:     err.Error(),
		Retryable:   !errors.Is(err, engine.ErrInvalidRequest),
		FailedAt:    w.now().UTC().Format(time.RFC3339),
	}
	return info.ToJSON()
}
