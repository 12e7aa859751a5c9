package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ashishlead/agent-runner/internal/functions"
	"github.com/ashishlead/agent-runner/internal/llm"
	"github.com/ashishlead/agent-runner/internal/workspace"
)

// StepExecutor executes a single step: it builds the model-facing context,
// calls the completion client, and dispatches any requested tool calls
// through the function registry per the step's parallel/sequential policy.
type StepExecutor struct {
	client   CompletionClient
	registry *functions.Registry
	hooks    Hooks
}

func NewStepExecutor(client CompletionClient, registry *functions.Registry, hooks Hooks) *StepExecutor {
	if hooks == nil {
		hooks = NopHooks{}
	}
	return &StepExecutor{
		client:   client,
		registry: registry,
		hooks:    hooks,
	}
}

// Execute runs one step against the inbound conversation. The caller has
// already decided whether the previous step's conversation threads in;
// inbound reflects that choice and is appended after the step's own seed
// chat.
//
// Any single tool-call failure fails the whole step. In-flight sibling
// calls of a parallel batch run to completion but their results are
// discarded.
func (e *StepExecutor) Execute(ctx context.Context, info RunInfo, def *workspace.Definition, step workspace.StepDefinition, inbound []llm.Message) (*StepResult, error) {
	messages := make([]llm.Message, 0, len(step.Chat)+len(inbound))
	messages = append(messages, step.Chat...)
	messages = append(messages, inbound...)

	tools := toolSchemas(def, step)

	resp, err := e.client.Complete(ctx, step.Model, messages, tools)
	if err != nil {
		return nil, &CompletionError{Step: step.ID, Err: err}
	}
	if len(resp.Choices) == 0 {
		return nil, &CompletionError{Step: step.ID, Err: errors.New("completion returned no choices")}
	}

	reply := resp.Choices[0].Message
	e.hooks.ChatCompleted(ctx, info, step.ID, messages, reply.Content, resp.Usage.TotalTokens)

	result := &StepResult{
		StepID:          step.ID,
		Text:            reply.Content,
		FunctionResults: make(map[string]string, len(reply.ToolCalls)),
	}
	result.Messages = append(result.Messages, llm.Message{
		Role:      "assistant",
		Content:   reply.Content,
		ToolCalls: reply.ToolCalls,
	})

	if len(reply.ToolCalls) == 0 {
		return result, nil
	}

	records, err := e.dispatcher(step.RunFunctionsInParallel, info, step.ID).RunAll(ctx, reply.ToolCalls)
	if err != nil {
		return nil, err
	}

	// Fold results back in the order the reply requested them, associated
	// by call id. Parallel completion reorders; array position does not.
	byID := make(map[string]ToolCallRecord, len(records))
	for _, record := range records {
		byID[record.CallID] = record
	}
	for _, call := range reply.ToolCalls {
		record, ok := byID[call.ID]
		if !ok {
			return nil, &CompletionError{Step: step.ID, Err: fmt.Errorf("no result for tool call %q", call.ID)}
		}
		result.Messages = append(result.Messages, llm.Message{
			Role:       "tool",
			ToolCallID: record.CallID,
			Name:       record.Function,
			Content:    record.Result,
		})
		result.FunctionResults[record.Function] = record.Result
	}

	return result, nil
}

// dispatcher selects the dispatch strategy for the step's policy so the
// execution algorithm above never branches on it.
func (e *StepExecutor) dispatcher(parallel bool, info RunInfo, stepID string) dispatcher {
	invoke := func(ctx context.Context, call llm.ToolCall) ToolCallRecord {
		return e.invoke(ctx, info, stepID, call)
	}
	if parallel {
		return parallelDispatch{invoke: invoke}
	}
	return sequentialDispatch{invoke: invoke}
}

// invoke resolves and runs one tool call. A lookup miss for a name the
// model requested is a hard failure, not a skip: either the workspace and
// registry disagree, or the model called a function the step never
// advertised.
func (e *StepExecutor) invoke(ctx context.Context, info RunInfo, stepID string, call llm.ToolCall) ToolCallRecord {
	record := ToolCallRecord{
		CallID:    call.ID,
		Function:  call.Function.Name,
		Arguments: call.Function.Arguments,
		StartedAt: time.Now(),
	}
	e.hooks.ToolCallStarted(ctx, info, stepID, call.ID, call.Function.Name, call.Function.Arguments)

	fn, ok := e.registry.Lookup(call.Function.Name)
	if !ok {
		record.Err = &FunctionNotFoundError{Function: call.Function.Name}
	} else {
		out, err := fn.Invoke(ctx, json.RawMessage(call.Function.Arguments))
		if err != nil {
			record.Err = &FunctionExecutionError{Function: call.Function.Name, Err: err}
		} else {
			record.Result = out
		}
	}

	record.EndedAt = time.Now()
	e.hooks.ToolCallEnded(ctx, info, stepID, record)
	return record
}

// toolSchemas builds the tool definitions advertised to the model for a
// step. Every referenced function resolved at load time.
func toolSchemas(def *workspace.Definition, step workspace.StepDefinition) []llm.ToolDefinition {
	if len(step.Functions) == 0 {
		return nil
	}
	tools := make([]llm.ToolDefinition, 0, len(step.Functions))
	for _, name := range step.Functions {
		fd, ok := def.Function(name)
		if !ok {
			continue
		}
		tools = append(tools, llm.ToolDefinition{
			Type: "function",
			Function: llm.Function{
				Name:        fd.Name,
				Description: fd.Description,
				Parameters:  functions.Schema(fd.Parameters),
			},
		})
	}
	return tools
}
