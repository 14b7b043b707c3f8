package model

import (
	"strings"
	"testing"
)

func TestNewJob(t *testing.T) {
	job := NewJob("job-1", "gen:v1:abc", GenerateRequest{ProductName: "Kettle", Keywords: []string{"tea"}})

	if job.ID != "job-1" {
		t.Errorf("ID = %q, want %q", job.ID, "job-1")
	}
	if job.Status != JobQueued {
		t.Errorf("Status = %q, want %q", job.Status, JobQueued)
	}
	if job.CreatedAt == "" {
		t.Error("CreatedAt should not be empty")
	}
	if job.CreatedAt != job.UpdatedAt {
		t.Error("CreatedAt and UpdatedAt should be equal for new jobs")
	}
	if job.Result != nil {
		t.Error("Result should be nil for new jobs")
	}
}

func TestValidateRetry(t *testing.T) {
	tests := []struct {
		status  string
		wantErr bool
	}{
		{JobFailed, false},
		{JobQueued, true},
		{JobProcessing, true},
		{JobReady, true},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			j := &Job{Status: tt.status}
			if err := j.ValidateRetry(); (err != nil) != tt.wantErr {
				t.Errorf("ValidateRetry() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGenerateRequest_Normalize(t *testing.T) {
	req := GenerateRequest{
		ProductName: "  Aero Kettle ",
		Keywords:    []string{" tea ", "", "Tea", "kettle", "  "},
		Language:    " DE ",
		Params:      map[string]string{" length ": " short "},
	}
	got := req.Normalize()

	if got.ProductName != "Aero Kettle" {
		t.Errorf("ProductName = %q", got.ProductName)
	}
	if strings.Join(got.Keywords, ",") != "tea,kettle" {
		t.Errorf("Keywords = %v, want [tea kettle]", got.Keywords)
	}
	if got.Language != "de" {
		t.Errorf("Language = %q, want %q", got.Language, "de")
	}
	if got.Params["length"] != "short" {
		t.Errorf("Params = %v", got.Params)
	}
	if len(req.Keywords) != 5 {
		t.Error("Normalize must not mutate the receiver's keyword slice")
	}
}

func TestGenerateRequest_NormalizeDefaultsLanguage(t *testing.T) {
	got := GenerateRequest{ProductName: "x", Keywords: []string{"y"}}.Normalize()
	if got.Language != DefaultLanguage {
		t.Errorf("Language = %q, want %q", got.Language, DefaultLanguage)
	}
}

func TestSortedKeywords(t *testing.T) {
	req := GenerateRequest{Keywords: []string{"Zeta", "alpha", "Mid"}}
	got := strings.Join(req.SortedKeywords(), ",")
	if got != "alpha,mid,zeta" {
		t.Errorf("SortedKeywords = %q", got)
	}
}

func TestStagePayload_RuneLength(t *testing.T) {
	p := StagePayload{
		Text:  "héllo",
		Items: []PayloadItem{{Title: "ab", Body: "cd"}},
	}
	if got := p.RuneLength(); got != 9 {
		t.Errorf("RuneLength = %d, want 9", got)
	}
	if got := strings.Join(p.ItemTitles(), ","); got != "ab" {
		t.Errorf("ItemTitles = %q", got)
	}
}

func TestErrorInfoToJSON(t *testing.T) {
	info := ErrorInfo{
		FailedStage: "description",
		Message:     "timeout",
		Retryable:   true,
		FailedAt:    "2026-01-01T00:00:00Z",
	}
	j := info.ToJSON()
	if !strings.Contains(j, `"failed_stage":"description"`) {
		t.Errorf("ToJSON missing failed_stage, got %s", j)
	}

	job := Job{ID: "j1", ErrorInfo: &j}
	got, err := job.Failure()
	if err != nil || got == nil || *got != info {
		t.Errorf("Failure() = %+v, %v", got, err)
	}

	if got, err := (&Job{}).Failure(); got != nil || err != nil {
		t.Errorf("Failure() on a healthy job = %+v, %v", got, err)
	}
	bad := "{"
	if _, err := (&Job{ID: "j2", ErrorInfo: &bad}).Failure(); err == nil {
		t.Error("expected a decode error")
	}
}

func TestResult_StageOnNil(t *testing.T) {
	var r *Result
	if got := r.Stage(StageFAQ); got.Stage != "" {
		t.Errorf("Stage on nil result = %+v", got)
	}
}
