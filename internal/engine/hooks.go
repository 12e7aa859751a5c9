package engine

import (
	"context"
	"time"

	"github.com/ashishlead/agent-runner/internal/llm"
)

// RunInfo identifies a run to hook consumers.
type RunInfo struct {
	RunID     string
	Workspace string
	Version   string
}

// Hooks receives lifecycle notifications from the engine: start/end of a
// run, of each step, and of each tool call, plus the transcript of each
// completion exchange. An external persistence layer can record a full
// audit trail from these callbacks alone; the engine itself depends on no
// storage technology.
//
// Callbacks are invoked synchronously from the run's goroutine, except
// ToolCallStarted/ToolCallEnded which fire from the dispatching goroutine
// when a step runs its functions in parallel. Implementations must be safe
// for that.
type Hooks interface {
	RunStarted(ctx context.Context, info RunInfo, kwargs map[string]any)
	RunEnded(ctx context.Context, info RunInfo, status Status, results map[string]StepResult, runErr error, elapsed time.Duration)

	StepStarted(ctx context.Context, info RunInfo, stepID string)
	StepEnded(ctx context.Context, info RunInfo, stepID string, stepErr error, elapsed time.Duration)

	ChatCompleted(ctx context.Context, info RunInfo, stepID string, conversation []llm.Message, response string, tokens int)

	ToolCallStarted(ctx context.Context, info RunInfo, stepID string, callID, function, arguments string)
	ToolCallEnded(ctx context.Context, info RunInfo, stepID string, record ToolCallRecord)
}

// NopHooks is the default Hooks implementation; every callback is a no-op.
type NopHooks struct{}

func (NopHooks) RunStarted(context.Context, RunInfo, map[string]any) {}
func (NopHooks) RunEnded(context.Context, RunInfo, Status, map[string]StepResult, error, time.Duration) {
}
func (NopHooks) StepStarted(context.Context, RunInfo, string)                      {}
func (NopHooks) StepEnded(context.Context, RunInfo, string, error, time.Duration)  {}
func (NopHooks) ChatCompleted(context.Context, RunInfo, string, []llm.Message, string, int) {
}
func (NopHooks) ToolCallStarted(context.Context, RunInfo, string, string, string, string) {}
func (NopHooks) ToolCallEnded(context.Context, RunInfo, string, ToolCallRecord)           {}
