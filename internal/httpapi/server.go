package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/ashishlead/agent-runner/internal/persistence"
	"github.com/ashishlead/agent-runner/internal/runqueue"
	"github.com/ashishlead/agent-runner/internal/workspace"
)

type workspaceStore interface {
	CreateWorkspace(ctx context.Context, def *workspace.Definition, raw []byte) (*persistence.StoredWorkspace, error)
	UpdateWorkspace(ctx context.Context, id int64, def *workspace.Definition, raw []byte) (*persistence.StoredWorkspace, error)
	DeleteWorkspace(ctx context.Context, id int64) error
	GetWorkspace(ctx context.Context, id int64) (*persistence.StoredWorkspace, error)
	ListWorkspaces(ctx context.Context) ([]*persistence.StoredWorkspace, error)
}

type runStore interface {
	GetRun(ctx context.Context, runUID string) (*persistence.RunRecord, error)
	ListRuns(ctx context.Context, limit int) ([]*persistence.RunRecord, error)
}

type Server struct {
	loader     *workspace.Manager
	workspaces workspaceStore
	runs       runStore
	queue      *runqueue.Queue

	mux    *http.ServeMux
	server *http.Server
}

type Option func(*Server)

func WithRunStore(store runStore) Option {
	return func(s *Server) {
		s.runs = store
	}
}

func NewServer(loader *workspace.Manager, workspaces workspaceStore, queue *runqueue.Queue, opts ...Option) *Server {
	s := &Server{
		loader:     loader,
		workspaces: workspaces,
		queue:      queue,
		mux:        http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/workspaces", s.handleWorkspaces)
	s.mux.HandleFunc("/api/workspaces/", s.handleWorkspaceByID)
	s.mux.HandleFunc("/api/runs", s.handleRuns)
	s.mux.HandleFunc("/api/runs/", s.handleRunByID)
	s.mux.HandleFunc("/health", s.handleHealth)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
	})
}
