package model

import (
	"encoding/json"
	"fmt"
)

// ErrorInfo describes why a job failed. It is stored as JSON in the job's
// error_info column.
type ErrorInfo struct {
	FailedStage string `json:"failed_stage"`
	Message     string `json:"message"`
	Retryable   bool   `json:"retryable"`
	FailedAt    string `json:"failed_at"`
}

// ToJSON encodes e for storage.
func (e ErrorInfo) ToJSON() string {
	b, _ := json.Marshal(e)
	return string(b)
}

// Failure decodes the job's stored ErrorInfo. It returns nil when the job
// has not failed.
func (j *Job) Failure() (*ErrorInfo, error) {
	if j.ErrorInfo == nil || *j.ErrorInfo == "" {
		return nil, nil
	}
	var info ErrorInfo
	if err := json.Unmarshal([]byte(*j.ErrorInfo), &info); err != nil {
		return nil, fmt.Errorf("decode error info of job %s: %w", j.ID, err)
	}
	return &info, nil
}
