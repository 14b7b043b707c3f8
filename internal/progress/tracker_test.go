package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/yangwenmai/copydeck/internal/model"
)

var testWeights = map[model.StageID]int{
	model.StageUSPs:        15,
	model.StageKeywords:    10,
	model.StageDescription: 25,
	model.StageFAQ:         15,
	model.StageChapters:    10,
	model.StageHashtags:    5,
	model.StageGrounding:   20,
}

func fixedClock() func() time.Time {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	var n int
	return func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
}

func TestTracker_FullRunIsMonotonic(t *testing.T) {
	rec := &Recorder{}
	tr := NewTracker("run-1", testWeights, rec, WithClock(fixedClock()))

	order := []model.StageID{
		model.StageUSPs, model.StageKeywords, model.StageDescription,
		model.StageFAQ, model.StageChapters, model.StageHashtags, model.StageGrounding,
	}
	for _, s := range order {
		tr.StartStage(s)
		tr.UpdateProgress(s, 50, "")
		tr.CompleteStage(s, nil)
	}
	tr.Complete("result")

	events := rec.Events()
	last := -1
	for i, e := range events {
		if e.Progress < last {
			t.Fatalf("event %d (%s) progress %d < previous %d", i, e.Type, e.Progress, last)
		}
		if e.Type != EventComplete && e.Progress > 99 {
			t.Fatalf("event %d (%s) progress %d before complete", i, e.Type, e.Progress)
		}
		last = e.Progress
	}

	n := len(events)
	if events[n-2].Type != EventResult || events[n-2].Payload != "result" {
		t.Fatalf("second to last event = %+v, want result", events[n-2])
	}
	if events[n-1].Type != EventComplete || events[n-1].Progress != 100 {
		t.Fatalf("last event = %+v, want complete at 100", events[n-1])
	}
	if events[n-2].Progress != 99 {
		t.Errorf("result progress = %d, want 99", events[n-2].Progress)
	}
}

func TestTracker_WeightedPercent(t *testing.T) {
	rec := &Recorder{}
	tr := NewTracker("run-1", testWeights, rec)

	tr.StartStage(model.StageUSPs)
	tr.CompleteStage(model.StageUSPs, nil)
	tr.StartStage(model.StageDescription)
	tr.UpdateProgress(model.StageDescription, 40, "drafting")

	snap := tr.Snapshot()
	// 15 completed + 25*0.4 in flight
	if snap.Percent != 25 {
		t.Errorf("percent = %d, want 25", snap.Percent)
	}
	if snap.CurrentStage != model.StageDescription {
		t.Errorf("current = %q", snap.CurrentStage)
	}
	if snap.Message != "drafting" {
		t.Errorf("message = %q", snap.Message)
	}
	if len(snap.Completed) != 1 || snap.Completed[0] != model.StageUSPs {
		t.Errorf("completed = %v", snap.Completed)
	}
}

func TestTracker_ConcurrentStagesNeverRegress(t *testing.T) {
	rec := &Recorder{}
	tr := NewTracker("run-1", testWeights, rec)

	tr.StartStage(model.StageDescription)
	tr.StartStage(model.StageFAQ)
	tr.UpdateProgress(model.StageDescription, 80, "")
	tr.UpdateProgress(model.StageFAQ, 10, "")
	// a smaller value for a running stage must not pull the total down
	tr.UpdateProgress(model.StageDescription, 20, "")
	tr.CompleteStage(model.StageFAQ, nil)

	last := -1
	for _, e := range rec.Events() {
		if e.Progress < last {
			t.Fatalf("progress regressed: %d after %d", e.Progress, last)
		}
		last = e.Progress
	}
	if got := tr.Snapshot().Percent; got != 35 {
		t.Errorf("percent = %d, want 35", got)
	}
}

func TestTracker_LateUpdateIgnored(t *testing.T) {
	rec := &Recorder{}
	tr := NewTracker("run-1", testWeights, rec)

	tr.StartStage(model.StageUSPs)
	tr.CompleteStage(model.StageUSPs, nil)
	before := len(rec.Events())

	tr.UpdateProgress(model.StageUSPs, 90, "late")
	tr.CompleteStage(model.StageUSPs, nil)
	tr.StartStage(model.StageUSPs)

	if got := len(rec.Events()); got != before {
		t.Fatalf("events after completion = %d, want %d", got, before)
	}
	if got := tr.Snapshot().Percent; got != 15 {
		t.Errorf("percent = %d, want 15", got)
	}
}

func TestTracker_UpdateBeforeStartIgnored(t *testing.T) {
	rec := &Recorder{}
	tr := NewTracker("run-1", testWeights, rec)
	tr.UpdateProgress(model.StageFAQ, 50, "")
	if len(rec.Events()) != 0 {
		t.Fatalf("expected no events, got %d", len(rec.Events()))
	}
	if tr.Snapshot().Status != StatusIdle {
		t.Errorf("status = %q, want idle", tr.Snapshot().Status)
	}
}

func TestTracker_ErrorKeepsPercentAndIsTerminal(t *testing.T) {
	rec := &Recorder{}
	tr := NewTracker("run-1", testWeights, rec)

	tr.StartStage(model.StageUSPs)
	tr.CompleteStage(model.StageUSPs, nil)
	tr.StartStage(model.StageKeywords)
	tr.Error(errors.New("cancelled"))
	tr.Complete("ignored")
	tr.CompleteStage(model.StageKeywords, nil)

	events := rec.Events()
	last := events[len(events)-1]
	if last.Type != EventError {
		t.Fatalf("last event = %s, want error", last.Type)
	}
	if last.Progress != 15 {
		t.Errorf("error progress = %d, want 15", last.Progress)
	}
	if last.Message != "cancelled" {
		t.Errorf("message = %q", last.Message)
	}
	if tr.Snapshot().Status != StatusError {
		t.Errorf("status = %q", tr.Snapshot().Status)
	}
}

func TestTracker_FailStageRecordsError(t *testing.T) {
	tr := NewTracker("run-1", testWeights, nil)
	tr.StartStage(model.StageFAQ)
	tr.FailStage(model.StageFAQ, errors.New("provider timeout"))
	tr.CompleteStage(model.StageFAQ, nil)

	snap := tr.Snapshot()
	if snap.Errors[model.StageFAQ] != "provider timeout" {
		t.Errorf("errors = %v", snap.Errors)
	}
	if snap.Percent != 15 {
		t.Errorf("percent = %d, want 15", snap.Percent)
	}
}

func TestTracker_CacheHitSingleEvent(t *testing.T) {
	rec := &Recorder{}
	tr := NewTracker("run-1", testWeights, rec)
	tr.CacheHit("cached")

	events := rec.Events()
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if events[0].Type != EventComplete || events[0].Progress != 100 || events[0].Payload != "cached" {
		t.Errorf("event = %+v", events[0])
	}
	if !events[0].Terminal() {
		t.Error("complete should be terminal")
	}
}

func TestTracker_SnapshotTiming(t *testing.T) {
	tr := NewTracker("run-1", testWeights, nil, WithClock(fixedClock()))
	tr.StartStage(model.StageUSPs)
	tr.CompleteStage(model.StageUSPs, nil)
	tr.StartStage(model.StageKeywords)
	tr.CompleteStage(model.StageKeywords, nil)

	snap := tr.Snapshot()
	if snap.Percent != 25 {
		t.Fatalf("percent = %d, want 25", snap.Percent)
	}
	if snap.ElapsedMS <= 0 {
		t.Errorf("elapsed = %d", snap.ElapsedMS)
	}
	if snap.RemainingMS != snap.ElapsedMS*3 {
		t.Errorf("remaining = %d, want %d", snap.RemainingMS, snap.ElapsedMS*3)
	}
}

func TestChannelListener_DropsAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cl := NewChannelListener(ctx, 0)
	cancel()

	done := make(chan struct{})
	go func() {
		cl.OnEvent(Event{Type: EventProgress})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("OnEvent blocked after cancel")
	}
	cl.Close()
	cl.Close()
}

func TestChannelListener_DeliversInOrder(t *testing.T) {
	cl := NewChannelListener(context.Background(), 0)
	tr := NewTracker("run-1", testWeights, cl)

	var got []EventType
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for e := range cl.Events() {
			got = append(got, e.Type)
		}
	}()

	tr.StartStage(model.StageUSPs)
	tr.CompleteStage(model.StageUSPs, nil)
	tr.Complete(nil)
	cl.Close()
	wg.Wait()

	want := []EventType{EventStageStart, EventStageComplete, EventResult, EventComplete}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestMulti(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	l := Multi(a, nil, b)
	l.OnEvent(Event{Type: EventProgress})
	if len(a.Events()) != 1 || len(b.Events()) != 1 {
		t.Fatalf("a=%d b=%d", len(a.Events()), len(b.Events()))
	}
}
