package worker

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/yangwenmai/copydeck/internal/engine"
	"github.com/yangwenmai/copydeck/internal/model"
	"github.com/yangwenmai/copydeck/internal/observability"
	"github.com/yangwenmai/copydeck/internal/progress"
	"github.com/yangwenmai/copydeck/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "worker.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	s, err := store.New(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func enqueue(t *testing.T, s *store.Store, id string, req model.GenerateRequest) {
	t.Helper()
	if err := s.CreateJob(context.Background(), model.NewJob(id, "gen:v1:"+id, req)); err != nil {
		t.Fatalf("create job: %v", err)
	}
}

func newStubGenerator(t *testing.T) *engine.Orchestrator {
	t.Helper()
	o, err := engine.NewOrchestrator(engine.Options{
		Provider: engine.NewStubProvider(),
		Retry:    engine.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond},
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return o
}

type failingGenerator struct{ err error }

func (g failingGenerator) Run(context.Context, model.GenerateRequest, progress.Listener) (*engine.Outcome, error) {
	return nil, g.err
}

func TestRunOnce_Success(t *testing.T) {
	s := newTestStore(t)
	m := observability.NewMetrics()
	enqueue(t, s, "job-1", model.GenerateRequest{ProductName: "Kettle", Keywords: []string{"kettle"}})

	w := New(s, newStubGenerator(t), time.Millisecond, WithMetrics(m))
	processed, err := w.RunOnce(context.Background())
	if err != nil || !processed {
		t.Fatalf("RunOnce = %v, %v; want true, nil", processed, err)
	}

	job, err := s.GetJob(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != model.JobReady {
		t.Errorf("status = %s, want READY", job.Status)
	}
	if job.Result == nil || len(job.Result.Stages) != 7 {
		t.Fatalf("result not saved: %+v", job.Result)
	}
	if got := testutil.ToFloat64(m.Jobs.WithLabelValues(model.JobReady)); got != 1 {
		t.Errorf("jobs{READY} = %v, want 1", got)
	}
}

func TestRunOnce_Empty(t *testing.T) {
	w := New(newTestStore(t), newStubGenerator(t), time.Millisecond)
	processed, err := w.RunOnce(context.Background())
	if err != nil || processed {
		t.Errorf("RunOnce = %v, %v; want false, nil", processed, err)
	}
}

func TestRunOnce_InvalidRequestFailsJob(t *testing.T) {
	s := newTestStore(t)
	enqueue(t, s, "job-bad", model.GenerateRequest{ProductName: "", Keywords: []string{"x"}})

	w := New(s, newStubGenerator(t), time.Millisecond)
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	job, _ := s.GetJob(context.Background(), "job-bad")
	if job.Status != model.JobFailed {
		t.Fatalf("status = %s, want FAILED", job.Status)
	}
	info, err := job.Failure()
	if err != nil || info == nil {
		t.Fatalf("Failure() = %v, %v", info, err)
	}
	if info.FailedStage != "validate" || info.Retryable {
		t.Errorf("error info = %+v, want non-retryable validate failure", info)
	}
}

func TestRunOnce_RunErrorRecordsStage(t *testing.T) {
	s := newTestStore(t)
	enqueue(t, s, "job-2", model.GenerateRequest{ProductName: "Kettle", Keywords: []string{"k"}})

	runErr := &engine.RunError{
		Err:   errors.New("boom"),
		State: progress.State{CurrentStage: model.StageFAQ},
	}
	w := New(s, failingGenerator{err: runErr}, time.Millisecond)
	w.RunOnce(context.Background())

	job, _ := s.GetJob(context.Background(), "job-2")
	info, err := job.Failure()
	if err != nil || info == nil {
		t.Fatalf("Failure() = %v, %v", info, err)
	}
	if info.FailedStage != "faq" || !info.Retryable {
		t.Errorf("error info = %+v, want retryable faq failure", info)
	}
}

func TestStart_ResetsStaleAndDrainsQueue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	enqueue(t, s, "job-a", model.GenerateRequest{ProductName: "Kettle", Keywords: []string{"kettle"}})
	enqueue(t, s, "job-b", model.GenerateRequest{ProductName: "Toaster", Keywords: []string{"toaster"}})

	// Simulate a crash mid-run: job-a is left PROCESSING.
	if _, err := s.ClaimNextQueued(ctx); err != nil {
		t.Fatalf("claim: %v", err)
	}

	w := New(s, newStubGenerator(t), 5*time.Millisecond)
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		w.Start(runCtx)
		close(done)
	}()

	deadline := time.After(5 * time.Second)
	for {
		counts, err := s.CountByStatus(ctx)
		if err != nil {
			t.Fatalf("count: %v", err)
		}
		if counts[model.JobReady] == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("jobs not processed in time: %v", counts)
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-done

	job, _ := s.GetJob(ctx, "job-a")
	if job.Attempts != 2 {
		t.Errorf("job-a attempts = %d, want 2", job.Attempts)
	}
}
