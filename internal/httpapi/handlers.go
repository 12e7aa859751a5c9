package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ashishlead/agent-runner/internal/persistence"
	"github.com/ashishlead/agent-runner/internal/runqueue"
	"github.com/ashishlead/agent-runner/internal/workspace"
)

const maxWorkspaceBody = 1 << 20

func (s *Server) handleWorkspaces(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		workspaces, err := s.workspaces.ListWorkspaces(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, workspaces)
	case http.MethodPost:
		def, raw, ok := s.readDefinition(w, r)
		if !ok {
			return
		}
		stored, err := s.workspaces.CreateWorkspace(r.Context(), def, raw)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, stored)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleWorkspaceByID(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "/api/workspaces/")
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		stored, err := s.workspaces.GetWorkspace(r.Context(), id)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		// hand the raw document back as uploaded
		var doc json.RawMessage = stored.Raw
		writeJSON(w, http.StatusOK, map[string]any{
			"workspace":  stored,
			"definition": doc,
		})
	case http.MethodPut:
		def, raw, ok := s.readDefinition(w, r)
		if !ok {
			return
		}
		stored, err := s.workspaces.UpdateWorkspace(r.Context(), id, def, raw)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stored)
	case http.MethodDelete:
		if err := s.workspaces.DeleteWorkspace(r.Context(), id); err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"ok": true,
		})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type triggerRunRequest struct {
	WorkspaceID int64          `json:"workspace_id"`
	Kwargs      map[string]any `json:"kwargs"`
	DedupeKey   string         `json:"dedupe_key"`
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if s.runs == nil {
			writeError(w, http.StatusNotImplemented, "run store is not configured")
			return
		}
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			limit, _ = strconv.Atoi(raw)
		}
		runs, err := s.runs.ListRuns(r.Context(), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, runs)
	case http.MethodPost:
		var req triggerRunRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		if req.WorkspaceID <= 0 {
			writeError(w, http.StatusBadRequest, "workspace_id is required")
			return
		}
		if _, err := s.workspaces.GetWorkspace(r.Context(), req.WorkspaceID); err != nil {
			writeStoreError(w, err)
			return
		}

		job, created := s.queue.Enqueue(runqueue.EnqueueRequest{
			WorkspaceID: req.WorkspaceID,
			Kwargs:      req.Kwargs,
			DedupeKey:   req.DedupeKey,
		})
		code := http.StatusAccepted
		if !created {
			code = http.StatusOK
		}
		writeJSON(w, code, map[string]any{
			"created": created,
			"job":     job,
		})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleRunByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	runUID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/runs/"), "/")
	if runUID == "" {
		writeError(w, http.StatusBadRequest, "missing run id")
		return
	}

	var record *persistence.RunRecord
	if s.runs != nil {
		var err error
		record, err = s.runs.GetRun(r.Context(), runUID)
		if err != nil && !errors.Is(err, persistence.ErrNotFound) {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	job, queued := s.queue.GetByRunID(runUID)
	if record == nil && !queued {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	resp := map[string]any{}
	if record != nil {
		resp["run"] = record
	}
	if queued {
		resp["job"] = job
	}
	writeJSON(w, http.StatusOK, resp)
}

// readDefinition reads and validates a raw workspace document from the
// request body. It writes the error response itself when validation fails.
func (s *Server) readDefinition(w http.ResponseWriter, r *http.Request) (*workspace.Definition, []byte, bool) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxWorkspaceBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return nil, nil, false
	}
	def, err := s.loader.Load(raw)
	if err != nil {
		var verr *workspace.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return nil, nil, false
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, nil, false
	}
	return def, raw, true
}

func pathID(w http.ResponseWriter, r *http.Request, prefix string) (int64, bool) {
	raw := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "missing id")
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, persistence.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}
