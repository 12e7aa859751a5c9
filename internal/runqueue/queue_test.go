package runqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_Enqueue_DeduplicatesSameKey(t *testing.T) {
	q := NewQueue(2, nil)

	jobA, createdA := q.Enqueue(EnqueueRequest{WorkspaceID: 1, DedupeKey: "ws1|daily"})
	jobB, createdB := q.Enqueue(EnqueueRequest{WorkspaceID: 1, DedupeKey: "ws1|daily"})

	require.True(t, createdA)
	require.False(t, createdB)
	require.NotNil(t, jobA)
	require.NotNil(t, jobB)
	assert.Equal(t, jobA.ID, jobB.ID)
	assert.Equal(t, jobA.RunID, jobB.RunID)
}

func TestQueue_Enqueue_AllocatesRunID(t *testing.T) {
	q := NewQueue(1, nil)

	job, created := q.Enqueue(EnqueueRequest{WorkspaceID: 1})
	require.True(t, created)
	assert.NotEmpty(t, job.RunID)

	fixed, created := q.Enqueue(EnqueueRequest{WorkspaceID: 1, RunID: "run-fixed"})
	require.True(t, created)
	assert.Equal(t, "run-fixed", fixed.RunID)

	got, ok := q.GetByRunID("run-fixed")
	require.True(t, ok)
	assert.Equal(t, fixed.ID, got.ID)
}

func TestQueue_WorkerExecutesJob(t *testing.T) {
	q := NewQueue(1, nil)

	var mu sync.Mutex
	var seen []int64
	q.Start(func(_ context.Context, job *RunJob) error {
		mu.Lock()
		seen = append(seen, job.WorkspaceID)
		mu.Unlock()
		return nil
	})
	defer q.Stop()

	job, created := q.Enqueue(EnqueueRequest{WorkspaceID: 42, Kwargs: map[string]any{"k": "v"}})
	require.True(t, created)

	require.Eventually(t, func() bool {
		got, ok := q.Get(job.ID)
		return ok && got.Status == StatusSuccess
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int64{42}, seen)
}

func TestQueue_FailedJobRecordsError(t *testing.T) {
	q := NewQueue(1, nil)
	q.Start(func(_ context.Context, _ *RunJob) error {
		return assert.AnError
	})
	defer q.Stop()

	job, created := q.Enqueue(EnqueueRequest{WorkspaceID: 1})
	require.True(t, created)

	require.Eventually(t, func() bool {
		got, ok := q.Get(job.ID)
		return ok && got.Status == StatusFailed
	}, time.Second, 10*time.Millisecond)

	got, ok := q.Get(job.ID)
	require.True(t, ok)
	assert.Contains(t, got.Error, assert.AnError.Error())
}

func TestQueue_DedupeReleasedAfterTerminal(t *testing.T) {
	q := NewQueue(1, nil)
	q.Start(func(_ context.Context, _ *RunJob) error { return nil })
	defer q.Stop()

	first, created := q.Enqueue(EnqueueRequest{WorkspaceID: 1, DedupeKey: "once"})
	require.True(t, created)

	require.Eventually(t, func() bool {
		got, ok := q.Get(first.ID)
		return ok && got.Status == StatusSuccess
	}, time.Second, 10*time.Millisecond)

	second, created := q.Enqueue(EnqueueRequest{WorkspaceID: 1, DedupeKey: "once"})
	require.True(t, created)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestQueue_EnqueuedBeforeStartRunsAfterStart(t *testing.T) {
	q := NewQueue(1, nil)

	job, created := q.Enqueue(EnqueueRequest{WorkspaceID: 7})
	require.True(t, created)

	q.Start(func(_ context.Context, _ *RunJob) error { return nil })
	defer q.Stop()

	require.Eventually(t, func() bool {
		got, ok := q.Get(job.ID)
		return ok && got.Status == StatusSuccess
	}, time.Second, 10*time.Millisecond)
}

func TestQueue_ListSortedByCreation(t *testing.T) {
	q := NewQueue(1, nil)

	a, _ := q.Enqueue(EnqueueRequest{WorkspaceID: 1})
	time.Sleep(2 * time.Millisecond)
	b, _ := q.Enqueue(EnqueueRequest{WorkspaceID: 2})

	list := q.List()
	require.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID)
	assert.Equal(t, b.ID, list[1].ID)
}

func TestQueue_SnapshotsAreCopies(t *testing.T) {
	q := NewQueue(1, nil)

	job, _ := q.Enqueue(EnqueueRequest{WorkspaceID: 1, Kwargs: map[string]any{"k": "v"}})
	job.Kwargs["k"] = "mutated"
	job.Status = StatusFailed

	got, ok := q.Get(job.ID)
	require.True(t, ok)
	assert.Equal(t, "v", got.Kwargs["k"])
	assert.Equal(t, StatusPending, got.Status)
}
