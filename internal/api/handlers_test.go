package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yangwenmai/copydeck/internal/cache"
	"github.com/yangwenmai/copydeck/internal/engine"
	"github.com/yangwenmai/copydeck/internal/model"
	"github.com/yangwenmai/copydeck/internal/observability"
	"github.com/yangwenmai/copydeck/internal/progress"
	"github.com/yangwenmai/copydeck/internal/store"
)

const kettleBody = `{"product_name":"Steel Kettle","keywords":["electric kettle","fast boil"]}`

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := store.OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := store.New(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	c := cache.New(nil, cache.Options{})
	t.Cleanup(func() { c.Close() })

	o, err := engine.NewOrchestrator(engine.Options{
		Provider: engine.NewStubProvider(),
		Cache:    c,
		Retry:    engine.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond},
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}

	srv := New(Deps{
		Jobs:      s,
		Generator: o,
		Cache:     c,
		Metrics:   observability.NewMetrics(),
	})
	return srv, s
}

func doRequest(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var result map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode JSON: %v\nbody: %s", err, rr.Body.String())
	}
	return result
}

func TestGenerate(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	first := doRequest(t, h, "POST", "/api/generate", kettleBody)
	if first.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body: %s", first.Code, first.Body.String())
	}
	if got := first.Header().Get("X-Cache"); got != "miss" {
		t.Errorf("X-Cache = %q, want miss", got)
	}

	var res model.Result
	if err := json.Unmarshal(first.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if len(res.Stages) != 7 {
		t.Errorf("stages = %d, want 7", len(res.Stages))
	}

	second := doRequest(t, h, "POST", "/api/generate", `{"product_name":" steel kettle","keywords":["fast boil","Electric Kettle"]}`)
	if second.Header().Get("X-Cache") != "hit" {
		t.Errorf("second request X-Cache = %q, want hit", second.Header().Get("X-Cache"))
	}
	if second.Body.String() != first.Body.String() {
		t.Error("cache hit body differs from the original run")
	}
}

func TestGenerate_Invalid(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	tests := []struct {
		name string
		body string
	}{
		{"bad json", `{`},
		{"missing product", `{"keywords":["kettle"]}`},
		{"blank keywords", `{"product_name":"Kettle","keywords":["  "]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doRequest(t, h, "POST", "/api/generate", tt.body)
			if rr.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rr.Code)
			}
		})
	}
}

type failingGenerator struct{ err error }

func (g failingGenerator) Run(context.Context, model.GenerateRequest, progress.Listener) (*engine.Outcome, error) {
	return nil, g.err
}

func TestGenerate_RunErrors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{engine.ErrRunCancelled, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		srv, s := newTestServer(t)
		srv = New(Deps{Jobs: s, Generator: failingGenerator{tt.err}})
		rr := doRequest(t, srv.Handler(), "POST", "/api/generate", kettleBody)
		if rr.Code != tt.want {
			t.Errorf("%v: status = %d, want %d", tt.err, rr.Code, tt.want)
		}
	}
}

func TestGenerate_RunErrorCarriesState(t *testing.T) {
	_, s := newTestServer(t)
	runErr := &engine.RunError{
		Err: engine.ErrRunCancelled,
		State: progress.State{
			RunID:     "run-1",
			Status:    progress.StatusError,
			Completed: []model.StageID{model.StageUSPs},
			Percent:   20,
		},
	}
	srv := New(Deps{Jobs: s, Generator: failingGenerator{runErr}})

	rr := doRequest(t, srv.Handler(), "POST", "/api/generate", kettleBody)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
	body := decodeJSON(t, rr)
	if body["error"] == "" {
		t.Error("missing error message")
	}
	state, ok := body["state"].(map[string]any)
	if !ok {
		t.Fatalf("missing state in %v", body)
	}
	if state["run_id"] != "run-1" || state["percent"] != 20.0 {
		t.Errorf("state = %v", state)
	}

	// plain errors carry no state
	srv = New(Deps{Jobs: s, Generator: failingGenerator{errors.New("boom")}})
	rr = doRequest(t, srv.Handler(), "POST", "/api/generate", kettleBody)
	if _, ok := decodeJSON(t, rr)["state"]; ok {
		t.Error("unexpected state for a plain error")
	}
}

func TestGenerateStream(t *testing.T) {
	srv, _ := newTestServer(t)
	rr := doRequest(t, srv.Handler(), "POST", "/api/generate/stream", kettleBody)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	var types []string
	sc := bufio.NewScanner(strings.NewReader(rr.Body.String()))
	for sc.Scan() {
		if name, ok := strings.CutPrefix(sc.Text(), "event: "); ok {
			types = append(types, name)
		}
	}
	if len(types) == 0 {
		t.Fatal("no events streamed")
	}
	if types[0] != string(progress.EventStageStart) {
		t.Errorf("first event = %s, want stage_start", types[0])
	}
	if last := types[len(types)-1]; last != string(progress.EventComplete) {
		t.Errorf("last event = %s, want complete", last)
	}
}

func TestGenerateStream_RunErrorWithoutEvents(t *testing.T) {
	_, s := newTestServer(t)
	srv := New(Deps{Jobs: s, Generator: failingGenerator{errors.New("provider down")}})

	rr := doRequest(t, srv.Handler(), "POST", "/api/generate/stream", kettleBody)
	body := rr.Body.String()
	if !strings.Contains(body, "event: error") || !strings.Contains(body, "provider down") {
		t.Errorf("expected a synthetic error event, got:\n%s", body)
	}
}

func TestWebSocket(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))

	// An invalid request is answered without closing the connection.
	if err := conn.WriteJSON(map[string]any{"request": map[string]any{"product_name": "Kettle"}}); err != nil {
		t.Fatal(err)
	}
	var errMsg map[string]string
	if err := conn.ReadJSON(&errMsg); err != nil {
		t.Fatal(err)
	}
	if errMsg["type"] != "error" {
		t.Errorf("type = %q, want error", errMsg["type"])
	}

	var req model.GenerateRequest
	json.Unmarshal([]byte(kettleBody), &req)
	if err := conn.WriteJSON(wsMessage{Action: "generate", Request: req}); err != nil {
		t.Fatal(err)
	}
	last := -1
	for {
		var e progress.Event
		if err := conn.ReadJSON(&e); err != nil {
			t.Fatalf("read: %v", err)
		}
		if e.Progress < last {
			t.Errorf("progress went backwards: %d after %d", e.Progress, last)
		}
		last = e.Progress
		if e.Terminal() {
			if e.Type != progress.EventComplete {
				t.Errorf("terminal event = %s, want complete", e.Type)
			}
			break
		}
	}
}

func TestCreateAndGetJob(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rr := doRequest(t, h, "POST", "/api/jobs", kettleBody)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body: %s", rr.Code, rr.Body.String())
	}
	created := decodeJSON(t, rr)
	if created["status"] != model.JobQueued {
		t.Errorf("status = %v, want QUEUED", created["status"])
	}
	fp, _ := created["fingerprint"].(string)
	if !cache.ValidFingerprint(fp) {
		t.Errorf("fingerprint %q is not valid", fp)
	}

	id := created["id"].(string)
	rr = doRequest(t, h, "GET", "/api/jobs/"+id, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get status = %d", rr.Code)
	}
	var job model.Job
	json.Unmarshal(rr.Body.Bytes(), &job)
	if job.Request.ProductName != "Steel Kettle" || job.Request.Language != model.DefaultLanguage {
		t.Errorf("stored request = %+v", job.Request)
	}
}

func TestGetJob_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	rr := doRequest(t, srv.Handler(), "GET", "/api/jobs/nope", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestListJobs(t *testing.T) {
	srv, s := newTestServer(t)
	h := srv.Handler()
	ctx := context.Background()

	req := model.GenerateRequest{ProductName: "Kettle", Keywords: []string{"kettle"}}
	for _, id := range []string{"a", "b", "c"} {
		if err := s.CreateJob(ctx, model.NewJob(id, cache.Fingerprint(req), req)); err != nil {
			t.Fatal(err)
		}
	}
	msg := "boom"
	if err := s.UpdateJobStatus(ctx, "b", model.JobFailed, &msg); err != nil {
		t.Fatal(err)
	}

	rr := doRequest(t, h, "GET", "/api/jobs?status=FAILED", "")
	var jobs []model.Job
	json.Unmarshal(rr.Body.Bytes(), &jobs)
	if len(jobs) != 1 || jobs[0].ID != "b" {
		t.Errorf("FAILED jobs = %+v", jobs)
	}

	rr = doRequest(t, h, "GET", "/api/jobs?limit=2", "")
	jobs = nil
	json.Unmarshal(rr.Body.Bytes(), &jobs)
	if len(jobs) != 2 {
		t.Errorf("limited list = %d, want 2", len(jobs))
	}

	rr = doRequest(t, h, "GET", "/api/jobs?limit=lots", "")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", rr.Code)
	}

	rr = doRequest(t, h, "GET", "/api/jobs?status=READY", "")
	if strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Errorf("empty list body = %q, want []", rr.Body.String())
	}
}

func TestRetryJob(t *testing.T) {
	srv, s := newTestServer(t)
	h := srv.Handler()
	ctx := context.Background()

	req := model.GenerateRequest{ProductName: "Kettle", Keywords: []string{"kettle"}}
	if err := s.CreateJob(ctx, model.NewJob("job-1", cache.Fingerprint(req), req)); err != nil {
		t.Fatal(err)
	}

	rr := doRequest(t, h, "POST", "/api/jobs/job-1/retry", "")
	if rr.Code != http.StatusConflict {
		t.Errorf("retry of QUEUED job status = %d, want 409", rr.Code)
	}

	msg := "boom"
	s.UpdateJobStatus(ctx, "job-1", model.JobFailed, &msg)
	rr = doRequest(t, h, "POST", "/api/jobs/job-1/retry", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("retry status = %d, body: %s", rr.Code, rr.Body.String())
	}
	job, _ := s.GetJob(ctx, "job-1")
	if job.Status != model.JobQueued || job.ErrorInfo != nil {
		t.Errorf("job after retry = %s / %v", job.Status, job.ErrorInfo)
	}

	rr = doRequest(t, h, "POST", "/api/jobs/missing/retry", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("retry of missing job status = %d, want 404", rr.Code)
	}
}

func TestCacheEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	doRequest(t, h, "POST", "/api/generate", kettleBody)

	rr := doRequest(t, h, "GET", "/api/cache/stats", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("stats status = %d", rr.Code)
	}
	var snap cache.Snapshot
	json.Unmarshal(rr.Body.Bytes(), &snap)
	if snap.FastEntries != 1 {
		t.Errorf("fast entries = %d, want 1", snap.FastEntries)
	}

	rr = doRequest(t, h, "DELETE", "/api/cache/not-a-fingerprint", "")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad fingerprint status = %d, want 400", rr.Code)
	}

	var req model.GenerateRequest
	json.Unmarshal([]byte(kettleBody), &req)
	fp := cache.Fingerprint(req.Normalize())
	rr = doRequest(t, h, "DELETE", "/api/cache/"+fp, "")
	if rr.Code != http.StatusNoContent {
		t.Errorf("invalidate status = %d, want 204", rr.Code)
	}
	// Absent entries invalidate cleanly.
	rr = doRequest(t, h, "DELETE", "/api/cache/"+fp, "")
	if rr.Code != http.StatusNoContent {
		t.Errorf("second invalidate status = %d, want 204", rr.Code)
	}

	rr = doRequest(t, h, "POST", "/api/generate", kettleBody)
	if rr.Header().Get("X-Cache") != "miss" {
		t.Error("expected a miss after invalidation")
	}

	rr = doRequest(t, h, "POST", "/api/cache/prune", "")
	if rr.Code != http.StatusOK {
		t.Errorf("prune status = %d", rr.Code)
	}
}

func TestCheck(t *testing.T) {
	srv, _ := newTestServer(t)
	rr := doRequest(t, srv.Handler(), "POST", "/api/check",
		`{"text":"Studies show 47% faster boiling.","level":"standard"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp checkResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Flagged || len(resp.Findings) == 0 {
		t.Errorf("expected findings, got %+v", resp.FabricationCheck)
	}
	if !resp.Changed || strings.Contains(resp.Sanitized, "47%") {
		t.Errorf("sanitized = %q", resp.Sanitized)
	}
	if resp.Passes {
		t.Error("flagged text should not pass the gate")
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rr := doRequest(t, h, "GET", "/healthz", "")
	if rr.Code != http.StatusOK || decodeJSON(t, rr)["status"] != "ok" {
		t.Errorf("healthz = %d %s", rr.Code, rr.Body.String())
	}

	doRequest(t, h, "POST", "/api/generate", kettleBody)
	rr = doRequest(t, h, "GET", "/metrics", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "# TYPE") {
		t.Error("metrics body does not look like the exposition format")
	}
}

func TestCORSPreflight(t *testing.T) {
	_, s := newTestServer(t)
	srv := New(Deps{Jobs: s, Generator: failingGenerator{}, CORSOrigin: "https://app.example.com"})
	rr := doRequest(t, srv.Handler(), "OPTIONS", "/api/generate", "")
	if rr.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("allow origin = %q", got)
	}
}
