package runqueue

import "context"

// Store persists job states so a restarted queue can resume pending work.
type Store interface {
	LoadJobs(ctx context.Context) ([]*RunJob, error)
	UpsertJob(ctx context.Context, job *RunJob) error
	DeleteJob(ctx context.Context, jobID string) error
}
