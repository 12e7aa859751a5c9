package runqueue

import "time"

type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// EnqueueRequest asks for a background run of a stored workspace.
// DedupeKey, when set, collapses repeated requests while an identical one
// is still pending or running.
type EnqueueRequest struct {
	WorkspaceID int64
	Kwargs      map[string]any
	DedupeKey   string
	RunID       string
}

// RunJob tracks one queued workspace run. RunID is the engine run
// identifier the job will execute under; it is allocated at enqueue time
// so callers can poll the audit trail immediately.
type RunJob struct {
	ID          string         `json:"id"`
	WorkspaceID int64          `json:"workspace_id"`
	RunID       string         `json:"run_id"`
	Kwargs      map[string]any `json:"kwargs,omitempty"`
	DedupeKey   string         `json:"dedupe_key,omitempty"`
	Status      Status         `json:"status"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}
