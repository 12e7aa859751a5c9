package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashishlead/agent-runner/internal/persistence"
	"github.com/ashishlead/agent-runner/internal/runqueue"
	"github.com/ashishlead/agent-runner/internal/workspace"
)

const apiWorkspaceDoc = `{
	"mail-agent@1.0#details": {"steps": [{"id": "draft", "name": "Draft"}]},
	"mail-agent@1.0@step-draft#details": {
		"chat": [{"role": "user", "content": "draft the mail"}],
		"nextStep": "-"
	}
}`

func newTestServer(t *testing.T) (*Server, *persistence.AuditStore, *runqueue.Queue) {
	t.Helper()
	store, err := persistence.NewAuditStore(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	queue := runqueue.NewQueue(1, nil)
	server := NewServer(workspace.NewManager(), store, queue, WithRunStore(store))
	return server, store, queue
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	parsed := map[string]any{}
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Body.String(), "{") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &parsed))
	}
	return rec, parsed
}

func TestServer_Health(t *testing.T) {
	server, _, _ := newTestServer(t)
	rec, body := doJSON(t, server.Handler(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["ok"])
}

func TestServer_CreateWorkspace(t *testing.T) {
	server, _, _ := newTestServer(t)

	rec, body := doJSON(t, server.Handler(), http.MethodPost, "/api/workspaces", apiWorkspaceDoc)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "mail-agent", body["name"])
	assert.Equal(t, "1.0", body["version"])
	assert.NotZero(t, body["id"])
}

func TestServer_CreateWorkspace_RejectsInvalidDefinition(t *testing.T) {
	server, _, _ := newTestServer(t)

	bad := `{
		"mail-agent@1.0#details": {"steps": [{"id": "draft", "name": "Draft"}]},
		"mail-agent@1.0@step-draft#details": {"nextStep": "ghost"}
	}`
	rec, body := doJSON(t, server.Handler(), http.MethodPost, "/api/workspaces", bad)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "nextStep references unknown step")
}

func TestServer_WorkspaceLifecycle(t *testing.T) {
	server, _, _ := newTestServer(t)
	handler := server.Handler()

	created, body := doJSON(t, handler, http.MethodPost, "/api/workspaces", apiWorkspaceDoc)
	require.Equal(t, http.StatusCreated, created.Code)
	id := int64(body["id"].(float64))

	rec, body := doJSON(t, handler, http.MethodGet, fmt.Sprintf("/api/workspaces/%d", id), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body, "workspace")
	assert.Contains(t, body, "definition")

	rec, _ = doJSON(t, handler, http.MethodGet, "/api/workspaces", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = doJSON(t, handler, http.MethodPut, fmt.Sprintf("/api/workspaces/%d", id), apiWorkspaceDoc)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = doJSON(t, handler, http.MethodDelete, fmt.Sprintf("/api/workspaces/%d", id), "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = doJSON(t, handler, http.MethodGet, fmt.Sprintf("/api/workspaces/%d", id), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_WorkspaceByID_BadID(t *testing.T) {
	server, _, _ := newTestServer(t)
	rec, _ := doJSON(t, server.Handler(), http.MethodGet, "/api/workspaces/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_TriggerRun(t *testing.T) {
	server, _, _ := newTestServer(t)
	handler := server.Handler()

	created, body := doJSON(t, handler, http.MethodPost, "/api/workspaces", apiWorkspaceDoc)
	require.Equal(t, http.StatusCreated, created.Code)
	id := int64(body["id"].(float64))

	rec, body := doJSON(t, handler, http.MethodPost, "/api/runs",
		fmt.Sprintf(`{"workspace_id": %d, "kwargs": {"to": "ops"}, "dedupe_key": "mail-once"}`, id))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, true, body["created"])

	job := body["job"].(map[string]any)
	runID := job["run_id"].(string)
	require.NotEmpty(t, runID)

	// same dedupe key while pending: the existing job is returned
	rec, body = doJSON(t, handler, http.MethodPost, "/api/runs",
		fmt.Sprintf(`{"workspace_id": %d, "dedupe_key": "mail-once"}`, id))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["created"])

	// the queued job is visible under its run id
	rec, body = doJSON(t, handler, http.MethodGet, "/api/runs/"+runID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body, "job")
}

func TestServer_TriggerRun_UnknownWorkspace(t *testing.T) {
	server, _, _ := newTestServer(t)
	rec, _ := doJSON(t, server.Handler(), http.MethodPost, "/api/runs", `{"workspace_id": 404}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_TriggerRun_MissingWorkspaceID(t *testing.T) {
	server, _, _ := newTestServer(t)
	rec, _ := doJSON(t, server.Handler(), http.MethodPost, "/api/runs", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_GetRun_NotFound(t *testing.T) {
	server, _, _ := newTestServer(t)
	rec, _ := doJSON(t, server.Handler(), http.MethodGet, "/api/runs/ghost", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ListRuns(t *testing.T) {
	server, _, _ := newTestServer(t)
	rec, _ := doJSON(t, server.Handler(), http.MethodGet, "/api/runs?limit=5", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_MethodNotAllowed(t *testing.T) {
	server, _, _ := newTestServer(t)
	handler := server.Handler()

	rec, _ := doJSON(t, handler, http.MethodDelete, "/api/runs", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec, _ = doJSON(t, handler, http.MethodPatch, "/api/workspaces", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
