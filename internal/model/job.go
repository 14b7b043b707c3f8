package model

import (
	"errors"
	"time"
)

// Job status constants
const (
	JobQueued     = "QUEUED"
	JobProcessing = "PROCESSING"
	JobReady      = "READY"
	JobFailed     = "FAILED"
)

// Job is a generation request queued for the background worker.
type Job struct {
	ID          string          `json:"id"`
	Fingerprint string          `json:"fingerprint"`
	Request     GenerateRequest `json:"request"`
	Status      string          `json:"status"`
	Result      *Result         `json:"result,omitempty"`
	ErrorInfo   *string         `json:"error_info,omitempty"`
	Attempts    int             `json:"attempts"`
	CreatedAt   string          `json:"created_at"`
	UpdatedAt   string          `json:"updated_at"`
}

// JobFilter holds query parameters for listing jobs.
type JobFilter struct {
	Status []string
	Limit  int
}

// NewJob creates a new Job with QUEUED status.
func NewJob(id, fingerprint string, req GenerateRequest) Job {
	now := time.Now().UTC().Format(time.RFC3339)
	return Job{
		ID:          id,
		Fingerprint: fingerprint,
		Request:     req,
		Status:      JobQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// ValidateRetry returns an error unless the job may be queued again.
func (j *Job) ValidateRetry() error {
	if j.Status != JobFailed {
		return errors.New("only FAILED jobs can be retried")
	}
	return nil
}
