package store

import (
	"context"

	"github.com/yangwenmai/copydeck/internal/model"
)

// JobReader provides read access to jobs.
type JobReader interface {
	GetJob(ctx context.Context, id string) (*model.Job, error)
	ListJobs(ctx context.Context, f model.JobFilter) ([]model.Job, error)
	CountByStatus(ctx context.Context) (map[string]int, error)
}

// JobWriter provides write access to jobs.
type JobWriter interface {
	CreateJob(ctx context.Context, job model.Job) error
	UpdateJobStatus(ctx context.Context, id, newStatus string, errorInfo *string) error
	SaveJobResult(ctx context.Context, id string, result *model.Result) error
	RequeueJob(ctx context.Context, id string) error
}

// JobClaimer provides atomic claim operations for background processing.
type JobClaimer interface {
	ClaimNextQueued(ctx context.Context) (*model.Job, error)
	ResetStaleProcessing(ctx context.Context) (int64, error)
}

// JobRepository combines the job operations used by the API layer.
type JobRepository interface {
	JobReader
	JobWriter
}
