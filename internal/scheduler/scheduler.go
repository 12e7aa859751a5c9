package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ashishlead/agent-runner/internal/config"
	"github.com/ashishlead/agent-runner/internal/runqueue"
	"github.com/ashishlead/agent-runner/pkg/icron"
	"github.com/ashishlead/agent-runner/pkg/log"
	"github.com/robfig/cron/v3"
)

// Scheduler enqueues a background run of one stored workspace on a cron
// cadence. Overlapping fires collapse into a single enqueue; the queue's
// dedupe key additionally prevents stacking runs while one is still
// pending or running.
type Scheduler struct {
	cfg    config.SchedulerConfig
	cron   *cron.Cron
	queue  *runqueue.Queue
	flight singleflight.Group
}

func New(cfg config.SchedulerConfig, c *cron.Cron, queue *runqueue.Queue) *Scheduler {
	return &Scheduler{
		cfg:   cfg,
		cron:  c,
		queue: queue,
	}
}

// Schedule registers the cron entry. It validates the expression first so
// a bad configuration fails at startup, not at first fire.
func (s *Scheduler) Schedule(ctx context.Context) error {
	if s.cfg.CronExpr == "" {
		log.Info("Scheduler disabled: no cron expression configured")
		return nil
	}
	info, err := icron.GetTriggerInfo(s.cfg.CronExpr, time.Now())
	if err != nil {
		return fmt.Errorf("cron expression %q: %w", s.cfg.CronExpr, err)
	}
	log.Info("Schedule workspace %d at %q, next fire %s (in %s)",
		s.cfg.WorkspaceID, s.cfg.CronExpr, info.Next.Format(time.RFC3339), info.TimeUntilNext)

	_, err = s.cron.AddFunc(s.cfg.CronExpr, func() {
		s.fire(ctx)
	})
	return err
}

// fire collapses overlapping cron fires for this workspace into one
// enqueue attempt.
func (s *Scheduler) fire(ctx context.Context) {
	_, _, _ = s.flight.Do(s.flightKey(), func() (any, error) {
		s.trigger(ctx)
		return nil, nil
	})
}

func (s *Scheduler) flightKey() string {
	return strconv.FormatInt(s.cfg.WorkspaceID, 10)
}

func (s *Scheduler) trigger(ctx context.Context) {
	job, created := s.queue.Enqueue(runqueue.EnqueueRequest{
		WorkspaceID: s.cfg.WorkspaceID,
		DedupeKey:   "scheduled|" + strconv.FormatInt(s.cfg.WorkspaceID, 10),
	})
	if created {
		log.Info("Scheduled run enqueued: job %s run %s", job.ID, job.RunID)
		return
	}
	log.Info("Scheduled run skipped: job %s still in progress", job.ID)
}
