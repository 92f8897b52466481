package reminders

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const retentionSchedule = "0 3 * * *"

// SchedulerConfig contains in-process schedule settings.
type SchedulerConfig struct {
	// Schedule is a cron expression for pipeline invocations. Empty disables
	// the in-process schedule; an external cron hitting the trigger endpoint
	// is then the only driver.
	Schedule string
	// Retention is how long sent reminders are kept before the daily cleanup
	// removes them. Zero disables cleanup.
	Retention time.Duration
}

// Scheduler optionally drives the pipeline and retention cleanup from an
// in-process cron. External triggers and the in-process schedule can coexist;
// conditional terminal-state writes make overlapping runs safe.
type Scheduler struct {
	config    SchedulerConfig
	processor *Processor
	repo      Repository
	flag      FlagResolver
	cron      *cron.Cron
}

// NewScheduler creates a scheduler.
func NewScheduler(config SchedulerConfig, processor *Processor, repo Repository, flag FlagResolver) *Scheduler {
	return &Scheduler{
		config:    config,
		processor: processor,
		repo:      repo,
		flag:      flag,
		cron:      cron.New(),
	}
}

// Start registers the configured jobs and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.config.Schedule != "" {
		if _, err := s.cron.AddFunc(s.config.Schedule, func() { s.runPipeline(ctx) }); err != nil {
			return fmt.Errorf("register pipeline schedule %q: %w", s.config.Schedule, err)
		}
		slog.Info("in-process reminder schedule registered", "schedule", s.config.Schedule)
	}

	if s.config.Retention > 0 {
		if _, err := s.cron.AddFunc(retentionSchedule, func() { s.runCleanup(ctx) }); err != nil {
			return fmt.Errorf("register retention schedule: %w", err)
		}
		slog.Info("reminder retention cleanup registered", "retention", s.config.Retention)
	}

	s.cron.Start()
	return nil
}

// Stop stops the cron loop and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	slog.Info("reminder scheduler stopped")
}

func (s *Scheduler) runPipeline(ctx context.Context) {
	if !s.flag() {
		slog.Debug("reminder processing disabled, skipping scheduled run")
		return
	}

	summary, err := s.processor.Run(ctx)
	if err != nil {
		slog.Error("scheduled reminder run failed", "error", err)
		return
	}

	if summary.Processed > 0 {
		slog.Info("scheduled reminder run finished",
			"processed", summary.Processed,
			"sent", summary.Sent,
			"failed", summary.Failed,
		)
	}
}

func (s *Scheduler) runCleanup(ctx context.Context) {
	deleted, err := s.repo.DeleteOldSentReminders(ctx, s.config.Retention)
	if err != nil {
		slog.Error("reminder retention cleanup failed", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("old sent reminders deleted", "count", deleted)
	}
}
