package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/ashishlead/agent-runner/internal/engine"
	"github.com/ashishlead/agent-runner/internal/llm"
	"github.com/ashishlead/agent-runner/pkg/log"
)

// The methods below implement engine.Hooks. Callbacks never surface
// errors to the engine; a failed audit write is logged and the run
// carries on.

func (s *AuditStore) RunStarted(ctx context.Context, info engine.RunInfo, kwargs map[string]any) {
	var workspaceID sql.NullInt64
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id FROM workspaces WHERE name = ? AND version = ? ORDER BY id DESC LIMIT 1`,
		info.Workspace, info.Version,
	)
	if err := row.Scan(&workspaceID.Int64); err == nil {
		workspaceID.Valid = true
	}

	kwargsJSON := "{}"
	if len(kwargs) > 0 {
		if data, err := json.Marshal(kwargs); err == nil {
			kwargsJSON = string(data)
		}
	}

	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO runs (run_uid, workspace_id, started_at, status, input_kwargs) VALUES (?, ?, ?, ?, ?)`,
		info.RunID, workspaceID, time.Now().UTC(), string(engine.StatusRunning), kwargsJSON,
	)
	if err != nil {
		log.Error("audit: record run start %s: %v", info.RunID, err)
		return
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		log.Error("audit: run row id %s: %v", info.RunID, err)
		return
	}
	s.mu.Lock()
	s.runRows[info.RunID] = rowID
	s.mu.Unlock()
}

func (s *AuditStore) RunEnded(ctx context.Context, info engine.RunInfo, status engine.Status, results map[string]engine.StepResult, runErr error, elapsed time.Duration) {
	s.mu.Lock()
	rowID, ok := s.runRows[info.RunID]
	if ok {
		delete(s.runRows, info.RunID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	errText := ""
	if runErr != nil {
		errText = runErr.Error()
	}
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE runs SET status = ?, ended_at = ?, total_time_taken_ms = ?, results = ?, error = ? WHERE id = ?`,
		string(status), time.Now().UTC(), elapsed.Milliseconds(), marshalResults(results), errText, rowID,
	)
	if err != nil {
		log.Error("audit: record run end %s: %v", info.RunID, err)
	}
}

func (s *AuditStore) StepStarted(ctx context.Context, info engine.RunInfo, stepID string) {
	s.mu.Lock()
	runRowID, ok := s.runRows[info.RunID]
	s.mu.Unlock()
	if !ok {
		return
	}

	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO run_steps (run_id, step_name, started_at, status) VALUES (?, ?, ?, ?)`,
		runRowID, stepID, time.Now().UTC(), string(engine.StatusRunning),
	)
	if err != nil {
		log.Error("audit: record step start %s/%s: %v", info.RunID, stepID, err)
		return
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		log.Error("audit: step row id %s/%s: %v", info.RunID, stepID, err)
		return
	}
	s.mu.Lock()
	s.stepRows[stepKey(info.RunID, stepID)] = rowID
	s.mu.Unlock()
}

func (s *AuditStore) StepEnded(ctx context.Context, info engine.RunInfo, stepID string, stepErr error, elapsed time.Duration) {
	s.mu.Lock()
	rowID, ok := s.stepRows[stepKey(info.RunID, stepID)]
	if ok {
		delete(s.stepRows, stepKey(info.RunID, stepID))
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	status := string(engine.StatusCompleted)
	errText := ""
	if stepErr != nil {
		status = string(engine.StatusAborted)
		errText = stepErr.Error()
	}
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE run_steps SET status = ?, ended_at = ?, time_taken_ms = ?, error = ? WHERE id = ?`,
		status, time.Now().UTC(), elapsed.Milliseconds(), errText, rowID,
	)
	if err != nil {
		log.Error("audit: record step end %s/%s: %v", info.RunID, stepID, err)
	}
}

func (s *AuditStore) ChatCompleted(ctx context.Context, info engine.RunInfo, stepID string, conversation []llm.Message, response string, tokens int) {
	s.mu.Lock()
	stepRowID, hasStep := s.stepRows[stepKey(info.RunID, stepID)]
	runRowID, hasRun := s.runRows[info.RunID]
	s.mu.Unlock()
	if !hasStep {
		return
	}

	conversationJSON := "[]"
	if data, err := json.Marshal(conversation); err == nil {
		conversationJSON = string(data)
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO chat (run_step_id, conversation, response, status, tokens_consumed) VALUES (?, ?, ?, ?, ?)`,
		stepRowID, conversationJSON, response, string(engine.StatusCompleted), tokens,
	)
	if err != nil {
		log.Error("audit: record chat %s/%s: %v", info.RunID, stepID, err)
	}
	if hasRun && tokens > 0 {
		if _, err := s.db.ExecContext(
			ctx,
			`UPDATE runs SET total_tokens_consumed = total_tokens_consumed + ? WHERE id = ?`,
			tokens, runRowID,
		); err != nil {
			log.Error("audit: add token usage %s: %v", info.RunID, err)
		}
	}
}

func (s *AuditStore) ToolCallStarted(ctx context.Context, info engine.RunInfo, stepID string, callID, function, arguments string) {
	s.mu.Lock()
	stepRowID, ok := s.stepRows[stepKey(info.RunID, stepID)]
	s.mu.Unlock()
	if !ok {
		return
	}

	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO run_function_calls (run_step_id, call_id, function_name, args, started_at, status) VALUES (?, ?, ?, ?, ?, ?)`,
		stepRowID, callID, function, arguments, time.Now().UTC(), string(engine.StatusRunning),
	)
	if err != nil {
		log.Error("audit: record tool call start %s/%s/%s: %v", info.RunID, stepID, callID, err)
		return
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		log.Error("audit: tool call row id %s/%s/%s: %v", info.RunID, stepID, callID, err)
		return
	}
	s.mu.Lock()
	s.callRows[callKey(info.RunID, stepID, callID)] = rowID
	s.mu.Unlock()
}

func (s *AuditStore) ToolCallEnded(ctx context.Context, info engine.RunInfo, stepID string, record engine.ToolCallRecord) {
	s.mu.Lock()
	rowID, ok := s.callRows[callKey(info.RunID, stepID, record.CallID)]
	if ok {
		delete(s.callRows, callKey(info.RunID, stepID, record.CallID))
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	status := string(engine.StatusCompleted)
	result := record.Result
	if record.Err != nil {
		status = string(engine.StatusAborted)
		result = record.Err.Error()
	}
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE run_function_calls SET result = ?, status = ?, ended_at = ? WHERE id = ?`,
		result, status, record.EndedAt.UTC(), rowID,
	)
	if err != nil {
		log.Error("audit: record tool call end %s/%s/%s: %v", info.RunID, stepID, record.CallID, err)
	}
}

func stepKey(runID, stepID string) string {
	return runID + "\x00" + stepID
}

func callKey(runID, stepID, callID string) string {
	return runID + "\x00" + stepID + "\x00" + callID
}

type stepResultRow struct {
	Text            string            `json:"text,omitempty"`
	FunctionResults map[string]string `json:"function_results,omitempty"`
	Error           string            `json:"error,omitempty"`
}

func marshalResults(results map[string]engine.StepResult) string {
	out := make(map[string]stepResultRow, len(results))
	for stepID, result := range results {
		row := stepResultRow{Text: result.Text, FunctionResults: result.FunctionResults}
		if result.Err != nil {
			row.Error = result.Err.Error()
		}
		out[stepID] = row
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "{}"
	}
	return string(data)
}
