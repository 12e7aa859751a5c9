package engine

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/ashishlead/agent-runner/internal/llm"
)

type invokeFunc func(ctx context.Context, call llm.ToolCall) ToolCallRecord

// dispatcher runs a batch of tool calls and returns one record per call,
// or the first failure. Records carry the originating call id; callers
// must associate results through it, not through slice order.
type dispatcher interface {
	RunAll(ctx context.Context, calls []llm.ToolCall) ([]ToolCallRecord, error)
}

// sequentialDispatch invokes calls one at a time in the order the
// completion reply listed them, stopping at the first failure.
type sequentialDispatch struct {
	invoke invokeFunc
}

func (d sequentialDispatch) RunAll(ctx context.Context, calls []llm.ToolCall) ([]ToolCallRecord, error) {
	records := make([]ToolCallRecord, 0, len(calls))
	for _, call := range calls {
		record := d.invoke(ctx, call)
		if record.Err != nil {
			return nil, record.Err
		}
		records = append(records, record)
	}
	return records, nil
}

// parallelDispatch launches every call concurrently and joins on all of
// them. Each goroutine writes exactly one distinct slot, so the slice
// needs no lock. A failure does not cancel siblings; they run to
// completion and their results are discarded with the batch.
type parallelDispatch struct {
	invoke invokeFunc
}

func (d parallelDispatch) RunAll(ctx context.Context, calls []llm.ToolCall) ([]ToolCallRecord, error) {
	records := make([]ToolCallRecord, len(calls))

	var g errgroup.Group
	for i, call := range calls {
		g.Go(func() error {
			records[i] = d.invoke(ctx, call)
			return records[i].Err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return records, nil
}
