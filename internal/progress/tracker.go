package progress

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/yangwenmai/copydeck/internal/model"
)

// Status is the tracker's position in its state machine.
type Status string

// Tracker states. Complete and Error are terminal.
const (
	StatusIdle     Status = "idle"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

// maxOpenPercent is the highest value reported before the run completes.
const maxOpenPercent = 99

// State is a snapshot of a run's progress.
type State struct {
	RunID        string                   `json:"run_id"`
	Status       Status                   `json:"status"`
	CurrentStage model.StageID            `json:"current_stage,omitempty"`
	Completed    []model.StageID          `json:"completed"`
	Percent      int                      `json:"percent"`
	Message      string                   `json:"message"`
	ElapsedMS    int64                    `json:"elapsed_ms"`
	RemainingMS  int64                    `json:"remaining_ms"`
	Errors       map[model.StageID]string `json:"errors"`
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// Tracker converts stage transitions into progress events for one run.
//
// The overall percentage is the sum of completed stage weights plus each
// in-flight stage's weight scaled by its own progress. It never decreases,
// stays at or below 99 while the run is open and is exactly 100 on the
// complete event.
type Tracker struct {
	mu sync.Mutex

	runID    string
	weights  map[model.StageID]int
	listener Listener
	now      func() time.Time

	started         time.Time
	status          Status
	current         model.StageID
	completed       []model.StageID
	completedSet    map[model.StageID]bool
	completedWeight int
	inflight        map[model.StageID]int
	percent         int
	message         string
	errors          map[model.StageID]string
}

// NewTracker creates a tracker for one run. weights maps each stage to its
// share of the run; stages missing from the map weigh nothing.
func NewTracker(runID string, weights map[model.StageID]int, l Listener, opts ...Option) *Tracker {
	if l == nil {
		l = Discard
	}
	t := &Tracker{
		runID:        runID,
		weights:      weights,
		listener:     l,
		now:          time.Now,
		status:       StatusIdle,
		completedSet: make(map[model.StageID]bool),
		inflight:     make(map[model.StageID]int),
		errors:       make(map[model.StageID]string),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.started = t.now()
	return t
}

// StartStage marks stage as running with zero intra-stage progress.
func (t *Tracker) StartStage(stage model.StageID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.terminal() || t.completedSet[stage] {
		return
	}
	t.status = StatusRunning
	t.current = stage
	t.inflight[stage] = 0
	t.emit(EventStageStart, stage, fmt.Sprintf("Generating %s", stage), nil)
}

// UpdateProgress records intra-stage progress (clamped to [0,100]). Updates
// for stages that are not running, including late updates after a stage
// completed, are ignored.
func (t *Tracker) UpdateProgress(stage model.StageID, percent int, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.terminal() || t.completedSet[stage] {
		return
	}
	prev, ok := t.inflight[stage]
	if !ok {
		return
	}
	percent = min(max(percent, 0), 100)
	if percent > prev {
		t.inflight[stage] = percent
	}
	if message == "" {
		message = fmt.Sprintf("Generating %s", stage)
	}
	t.emit(EventProgress, stage, message, nil)
}

// FailStage records that stage degraded. The run continues; the stage is
// still completed with its fallback payload through CompleteStage.
func (t *Tracker) FailStage(stage model.StageID, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.terminal() || err == nil {
		return
	}
	t.errors[stage] = err.Error()
	t.emit(EventProgress, stage, fmt.Sprintf("%s degraded: %v", stage, err), nil)
}

// CompleteStage marks stage done. Completing a stage twice is a no-op.
func (t *Tracker) CompleteStage(stage model.StageID, payload any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.terminal() || t.completedSet[stage] {
		return
	}
	t.status = StatusRunning
	delete(t.inflight, stage)
	t.completedSet[stage] = true
	t.completed = append(t.completed, stage)
	t.completedWeight += t.weights[stage]
	t.emit(EventStageComplete, stage, fmt.Sprintf("Finished %s", stage), payload)
}

// Error ends the run with an error event. The percentage is kept so the
// caller can see how far the run got.
func (t *Tracker) Error(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.terminal() {
		return
	}
	t.status = StatusError
	msg := "run failed"
	if err != nil {
		msg = err.Error()
	}
	t.emitAt(EventError, t.current, msg, nil, t.percent)
}

// Complete emits the result event followed by the complete event at 100.
func (t *Tracker) Complete(result any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.terminal() {
		return
	}
	t.emitAt(EventResult, "", "Result ready", result, t.percent)
	t.status = StatusComplete
	t.inflight = map[model.StageID]int{}
	t.percent = 100
	t.emitAt(EventComplete, "", "Complete", nil, 100)
}

// CacheHit completes the run with a single complete event carrying result.
func (t *Tracker) CacheHit(result any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.terminal() {
		return
	}
	t.status = StatusComplete
	t.percent = 100
	t.emitAt(EventComplete, "", "Complete (cached)", result, 100)
}

// Snapshot returns the current state.
func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := t.now().Sub(t.started)
	var remaining time.Duration
	if t.percent > 0 && t.percent < 100 {
		remaining = time.Duration(float64(elapsed) * float64(100-t.percent) / float64(t.percent))
	}
	errs := make(map[model.StageID]string, len(t.errors))
	for k, v := range t.errors {
		errs[k] = v
	}
	completed := make([]model.StageID, len(t.completed))
	copy(completed, t.completed)

	return State{
		RunID:        t.runID,
		Status:       t.status,
		CurrentStage: t.current,
		Completed:    completed,
		Percent:      t.percent,
		Message:      t.message,
		ElapsedMS:    elapsed.Milliseconds(),
		RemainingMS:  remaining.Milliseconds(),
		Errors:       errs,
	}
}

func (t *Tracker) terminal() bool {
	return t.status == StatusComplete || t.status == StatusError
}

// overall recomputes the open-run percentage without ever going backwards.
func (t *Tracker) overall() int {
	sum := float64(t.completedWeight)
	for stage, pct := range t.inflight {
		sum += float64(t.weights[stage]) * float64(pct) / 100
	}
	p := min(int(math.Floor(sum)), maxOpenPercent)
	return max(p, t.percent)
}

func (t *Tracker) emit(typ EventType, stage model.StageID, msg string, payload any) {
	t.emitAt(typ, stage, msg, payload, t.overall())
}

func (t *Tracker) emitAt(typ EventType, stage model.StageID, msg string, payload any, percent int) {
	t.percent = percent
	t.message = msg
	t.listener.OnEvent(Event{
		Type:      typ,
		RunID:     t.runID,
		Stage:     stage,
		Progress:  percent,
		Message:   msg,
		Payload:   payload,
		Timestamp: t.now(),
	})
}
