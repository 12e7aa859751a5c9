package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/ashishlead/agent-runner/internal/config"
	"github.com/ashishlead/agent-runner/internal/engine"
	"github.com/ashishlead/agent-runner/internal/functions"
	"github.com/ashishlead/agent-runner/internal/httpapi"
	"github.com/ashishlead/agent-runner/internal/llm"
	"github.com/ashishlead/agent-runner/internal/persistence"
	"github.com/ashishlead/agent-runner/internal/runqueue"
	"github.com/ashishlead/agent-runner/internal/scheduler"
	"github.com/ashishlead/agent-runner/internal/workspace"
	"github.com/ashishlead/agent-runner/pkg/log"
)

const httpShutdownTimeout = 10 * time.Second

type schedulable interface {
	Schedule(ctx context.Context) error
}

type cronEngine interface {
	Start()
	Stop() context.Context
}

type httpServer interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.NewFromEnv()
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}
	log.InitLogger(log.ParseLevel(os.Getenv("LOG_LEVEL")))

	store, err := persistence.NewAuditStore(cfg.DB.Path)
	if err != nil {
		log.Fatal("Failed to open store: %v", err)
	}
	defer store.Close()

	client, err := llm.NewClient(&llm.Config{
		APIKey:      cfg.LLM.APIKey,
		APIURL:      cfg.LLM.APIURL,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
		SiteURL:     cfg.LLM.SiteURL,
		AppName:     cfg.LLM.AppName,
	})
	if err != nil {
		log.Fatal("Failed to create completion client: %v", err)
	}

	registry := functions.NewRegistry()
	if err := functions.RegisterBuiltins(registry); err != nil {
		log.Fatal("Failed to register builtin functions: %v", err)
	}

	loader := workspace.NewManager()
	runner := engine.NewRunner(client, registry, engine.WithHooks(store))

	queue := runqueue.NewQueue(cfg.Queue.Workers, store)
	queue.Start(runExecutor(loader, runner, store))
	defer queue.Stop()

	cronRunner := cron.New(cron.WithSeconds())
	sched := scheduler.New(cfg.Scheduler, cronRunner, queue)

	server := httpapi.NewServer(loader, store, queue, httpapi.WithRunStore(store))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runWithComponents(ctx, cfg, sched, cronRunner, server); err != nil {
		log.Fatal("Server exited: %v", err)
	}
}

// runExecutor builds the queue worker body: load the stored workspace,
// validate it, and drive a run under the job's pre-allocated run id.
func runExecutor(loader *workspace.Manager, runner *engine.Runner, store *persistence.AuditStore) runqueue.Executor {
	return func(ctx context.Context, job *runqueue.RunJob) error {
		stored, err := store.GetWorkspace(ctx, job.WorkspaceID)
		if err != nil {
			return fmt.Errorf("load workspace %d: %w", job.WorkspaceID, err)
		}
		def, err := loader.Load(stored.Raw)
		if err != nil {
			return fmt.Errorf("parse workspace %d: %w", job.WorkspaceID, err)
		}
		run := runner.NewRun(def, job.Kwargs, engine.WithRunID(job.RunID))
		if _, err := run.Execute(ctx); err != nil {
			return fmt.Errorf("run %s: %w", run.ID(), err)
		}
		return nil
	}
}

func runWithComponents(ctx context.Context, cfg *config.Config, sched schedulable, cronRunner cronEngine, server httpServer) error {
	if err := sched.Schedule(ctx); err != nil {
		return err
	}
	cronRunner.Start()
	defer func() {
		<-cronRunner.Stop().Done()
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe(cfg.HTTP.Addr)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
