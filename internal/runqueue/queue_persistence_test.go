package runqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryStore is an in-memory Store for exercising hydration and
// persistence paths without a database.
type memoryStore struct {
	mu   sync.Mutex
	jobs map[string]*RunJob
}

func newMemoryStore() *memoryStore {
	return &memoryStore{jobs: make(map[string]*RunJob)}
}

func (s *memoryStore) LoadJobs(_ context.Context) ([]*RunJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ret := make([]*RunJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		ret = append(ret, cloneJob(job))
	}
	return ret, nil
}

func (s *memoryStore) UpsertJob(_ context.Context, job *RunJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *memoryStore) DeleteJob(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, jobID)
	return nil
}

func (s *memoryStore) get(id string) (*RunJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	return cloneJob(job), ok
}

func TestQueue_PersistsJobTransitions(t *testing.T) {
	store := newMemoryStore()
	q := NewQueue(1, store)
	q.Start(func(_ context.Context, _ *RunJob) error { return nil })
	defer q.Stop()

	job, created := q.Enqueue(EnqueueRequest{WorkspaceID: 3})
	require.True(t, created)

	require.Eventually(t, func() bool {
		stored, ok := store.get(job.ID)
		return ok && stored.Status == StatusSuccess
	}, time.Second, 10*time.Millisecond)
}

func TestQueue_HydratesPendingFromStore(t *testing.T) {
	store := newMemoryStore()
	require.NoError(t, store.UpsertJob(context.Background(), &RunJob{
		ID:          "job-restored",
		WorkspaceID: 9,
		RunID:       "run-old",
		Status:      StatusPending,
		CreatedAt:   time.Now().Add(-time.Minute),
		UpdatedAt:   time.Now().Add(-time.Minute),
	}))

	q := NewQueue(1, store)

	got, ok := q.Get("job-restored")
	require.True(t, ok)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, "run-old", got.RunID)

	executed := make(chan int64, 1)
	q.Start(func(_ context.Context, job *RunJob) error {
		executed <- job.WorkspaceID
		return nil
	})
	defer q.Stop()

	select {
	case wsID := <-executed:
		assert.Equal(t, int64(9), wsID)
	case <-time.After(time.Second):
		t.Fatal("restored job never executed")
	}
}

func TestQueue_RequeuesInterruptedRunningJob(t *testing.T) {
	store := newMemoryStore()
	require.NoError(t, store.UpsertJob(context.Background(), &RunJob{
		ID:          "job-interrupted",
		WorkspaceID: 5,
		RunID:       "run-dead",
		Status:      StatusRunning,
		CreatedAt:   time.Now().Add(-time.Minute),
		UpdatedAt:   time.Now().Add(-time.Minute),
	}))

	q := NewQueue(1, store)

	got, ok := q.Get("job-interrupted")
	require.True(t, ok)
	assert.Equal(t, StatusPending, got.Status)
	// the interrupted run id is unusable; a fresh one is issued
	assert.NotEqual(t, "run-dead", got.RunID)
	assert.NotEmpty(t, got.RunID)
}

func TestQueue_HydratedDedupeKeyStillBlocks(t *testing.T) {
	store := newMemoryStore()
	require.NoError(t, store.UpsertJob(context.Background(), &RunJob{
		ID:        "job-held",
		RunID:     "run-held",
		DedupeKey: "exclusive",
		Status:    StatusPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}))

	q := NewQueue(1, store)

	job, created := q.Enqueue(EnqueueRequest{DedupeKey: "exclusive"})
	require.False(t, created)
	assert.Equal(t, "job-held", job.ID)
}
