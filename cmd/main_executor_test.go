package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashishlead/agent-runner/internal/engine"
	"github.com/ashishlead/agent-runner/internal/functions"
	"github.com/ashishlead/agent-runner/internal/llm"
	"github.com/ashishlead/agent-runner/internal/persistence"
	"github.com/ashishlead/agent-runner/internal/runqueue"
	"github.com/ashishlead/agent-runner/internal/workspace"
)

const executorWorkspaceDoc = `{
	"mail-agent@1.0#details": {"steps": [{"id": "draft", "name": "Draft"}]},
	"mail-agent@1.0@step-draft#details": {
		"chat": [{"role": "user", "content": "draft the mail"}],
		"nextStep": "-"
	}
}`

type staticClient struct {
	reply string
}

func (c staticClient) Complete(context.Context, string, []llm.Message, []llm.ToolDefinition) (*llm.ChatResponse, error) {
	return &llm.ChatResponse{
		Choices: []llm.Choice{
			{Message: llm.Message{Role: "assistant", Content: c.reply}},
		},
	}, nil
}

func TestRunExecutor_DrivesStoredWorkspace(t *testing.T) {
	store, err := persistence.NewAuditStore(filepath.Join(t.TempDir(), "exec.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	loader := workspace.NewManager()
	def, err := loader.Load([]byte(executorWorkspaceDoc))
	require.NoError(t, err)
	stored, err := store.CreateWorkspace(context.Background(), def, []byte(executorWorkspaceDoc))
	require.NoError(t, err)

	runner := engine.NewRunner(staticClient{reply: "done"}, functions.NewRegistry(), engine.WithHooks(store))
	exec := runExecutor(loader, runner, store)

	job := &runqueue.RunJob{
		ID:          "job-1",
		WorkspaceID: stored.ID,
		RunID:       "run-exec-1",
		Kwargs:      map[string]any{"to": "ops"},
	}
	require.NoError(t, exec(context.Background(), job))

	record, err := store.GetRun(context.Background(), "run-exec-1")
	require.NoError(t, err)
	assert.Equal(t, string(engine.StatusCompleted), record.Status)
	assert.Contains(t, record.Results, "done")
}

func TestRunExecutor_UnknownWorkspaceFails(t *testing.T) {
	store, err := persistence.NewAuditStore(filepath.Join(t.TempDir(), "exec.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	runner := engine.NewRunner(staticClient{reply: "done"}, functions.NewRegistry(), engine.WithHooks(store))
	exec := runExecutor(workspace.NewManager(), runner, store)

	err = exec(context.Background(), &runqueue.RunJob{ID: "job-2", WorkspaceID: 404, RunID: "run-exec-2"})
	require.Error(t, err)
}
