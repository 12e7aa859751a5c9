package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ashishlead/agent-runner/internal/functions"
	"github.com/ashishlead/agent-runner/internal/llm"
	"github.com/ashishlead/agent-runner/internal/workspace"
	"github.com/ashishlead/agent-runner/pkg/log"
)

// Status is the coarse lifecycle state of a run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusAborted   Status = "aborted"
)

// StepResult is the outcome of one executed step.
//
// Text is the model's final reply for the step. FunctionResults maps each
// invoked function name to its result. Messages is the conversation tail
// the step produced (assistant reply plus tool responses in request order);
// it is what gets threaded to the next step when the step passes its
// conversation on.
type StepResult struct {
	StepID          string            `json:"step_id"`
	Text            string            `json:"text,omitempty"`
	FunctionResults map[string]string `json:"function_results,omitempty"`
	Messages        []llm.Message     `json:"messages,omitempty"`
	Err             error             `json:"-"`
}

// ToolCallRecord captures one tool invocation during a step. It exists for
// the duration of the step: the executor folds it into the StepResult and
// the conversation, and hook consumers may persist it.
type ToolCallRecord struct {
	CallID    string
	Function  string
	Arguments string
	Result    string
	Err       error
	StartedAt time.Time
	EndedAt   time.Time
}

// CompletionClient is the black-box completion capability the engine
// consumes. Implementations decide their own timeout and retry policy;
// the engine imposes none.
type CompletionClient interface {
	Complete(ctx context.Context, model string, messages []llm.Message, tools []llm.ToolDefinition) (*llm.ChatResponse, error)
}

// Runner starts runs against loaded workspace definitions. It is the
// composition point binding a completion client, a function registry, and
// an optional hook consumer; one Runner serves any number of concurrent
// runs.
type Runner struct {
	client   CompletionClient
	registry *functions.Registry
	hooks    Hooks
}

type RunnerOption func(*Runner)

// WithHooks installs a lifecycle hook consumer.
func WithHooks(h Hooks) RunnerOption {
	return func(rn *Runner) {
		if h != nil {
			rn.hooks = h
		}
	}
}

func NewRunner(client CompletionClient, registry *functions.Registry, opts ...RunnerOption) *Runner {
	rn := &Runner{
		client:   client,
		registry: registry,
		hooks:    NopHooks{},
	}
	for _, opt := range opts {
		opt(rn)
	}
	return rn
}

type RunOption func(*Run)

// WithRunID overrides the generated run identifier, letting callers hand
// out the id before the run starts.
func WithRunID(id string) RunOption {
	return func(r *Run) {
		if id != "" {
			r.id = id
		}
	}
}

// NewRun allocates a fresh pending run against the definition. The run is
// owned exclusively by the caller; two runs against the same definition
// share no mutable state. Kwargs are rendered as the first user-visible
// input of the opening step.
func (rn *Runner) NewRun(def *workspace.Definition, kwargs map[string]any, opts ...RunOption) *Run {
	r := &Run{
		id:      uuid.NewString(),
		runner:  rn,
		def:     def,
		kwargs:  kwargs,
		status:  StatusPending,
		current: workspace.StepRef(def.Entry),
		results: make(map[string]StepResult),
	}
	for _, opt := range opts {
		opt(r)
	}

	if len(kwargs) > 0 {
		payload, err := json.Marshal(kwargs)
		if err == nil {
			r.history = append(r.history, llm.Message{
				Role:    "user",
				Content: "Input arguments: " + string(payload),
			})
		}
	}

	return r
}

// Run is one mutable execution instance of a workspace. It walks the step
// chain strictly sequentially until the terminal step or the first
// failure. Not safe for concurrent use; a Run belongs to the caller that
// created it.
type Run struct {
	id     string
	runner *Runner
	def    *workspace.Definition
	kwargs map[string]any

	status     Status
	current    workspace.NextStep
	history    []llm.Message
	results    map[string]StepResult
	failedStep string
	err        error
}

func (r *Run) ID() string { return r.id }

func (r *Run) Status() Status { return r.status }

// FailedStep returns the id of the step a run aborted in and the error,
// or ("", nil) when the run did not abort.
func (r *Run) FailedStep() (string, error) {
	return r.failedStep, r.err
}

// Results returns the per-step results accumulated so far. Steps completed
// before an abort remain visible for diagnostics.
func (r *Run) Results() map[string]StepResult {
	out := make(map[string]StepResult, len(r.results))
	for id, res := range r.results {
		out[id] = res
	}
	return out
}

// History returns the conversation tail threaded to the next step.
func (r *Run) History() []llm.Message {
	out := make([]llm.Message, len(r.history))
	copy(out, r.history)
	return out
}

func (r *Run) info() RunInfo {
	return RunInfo{RunID: r.id, Workspace: r.def.Name, Version: r.def.Version}
}

// Execute walks the step chain to completion or first failure. A run
// executes at most once; calling Execute on a finished run returns
// ErrRunFinished. On abort the returned map still carries the results of
// steps that completed before the failure, plus an error record for the
// failing step.
func (r *Run) Execute(ctx context.Context) (map[string]StepResult, error) {
	if r.status != StatusPending {
		return nil, ErrRunFinished
	}
	r.status = StatusRunning

	info := r.info()
	started := time.Now()
	hooks := r.runner.hooks
	hooks.RunStarted(ctx, info, r.kwargs)
	log.Info("Run %s started for workspace %s@%s", r.id, r.def.Name, r.def.Version)

	executor := NewStepExecutor(r.runner.client, r.runner.registry, hooks)

	for !r.current.IsTerminal() {
		stepID := r.current.ID()
		step, ok := r.def.Step(stepID)
		if !ok {
			// Unreachable for a validated definition.
			return r.abort(ctx, info, stepID, &CompletionError{Step: stepID, Err: errUnknownStep(stepID)}, started)
		}

		hooks.StepStarted(ctx, info, stepID)
		stepStarted := time.Now()

		result, err := executor.Execute(ctx, info, r.def, step, r.history)
		hooks.StepEnded(ctx, info, stepID, err, time.Since(stepStarted))

		if err != nil {
			return r.abort(ctx, info, stepID, err, started)
		}

		r.results[stepID] = *result
		if step.PassConversation {
			r.history = append(r.history, result.Messages...)
		} else {
			r.history = nil
		}
		r.current = step.Next
	}

	r.status = StatusCompleted
	hooks.RunEnded(ctx, info, StatusCompleted, r.Results(), nil, time.Since(started))
	log.Info("Run %s completed in %s", r.id, time.Since(started))
	return r.Results(), nil
}

func (r *Run) abort(ctx context.Context, info RunInfo, stepID string, err error, started time.Time) (map[string]StepResult, error) {
	r.status = StatusAborted
	r.failedStep = stepID
	r.err = err
	r.results[stepID] = StepResult{StepID: stepID, Err: err}

	r.runner.hooks.RunEnded(ctx, info, StatusAborted, r.Results(), err, time.Since(started))
	log.Error("Run %s aborted in step %q: %v", r.id, stepID, err)
	return r.Results(), err
}
