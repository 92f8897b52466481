package reminders

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/ivyrock/clinic-pulse/internal/domain"
	"github.com/ivyrock/clinic-pulse/internal/pkg/ctxlog"
)

// ProcessorConfig contains pipeline tuning knobs.
type ProcessorConfig struct {
	BatchSize           int
	DispatchConcurrency int
}

// DefaultProcessorConfig returns default pipeline configuration.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		BatchSize:           100,
		DispatchConcurrency: 4,
	}
}

// Summary aggregates one pipeline invocation.
type Summary struct {
	Processed int
	Sent      int
	Failed    int
}

// Processor runs the due-reminder pipeline: select eligible reminders,
// dispatch each one, and record terminal outcomes.
//
// Invocations are idempotent at the batch level: a reminder contributes to at
// most one invocation's Sent count because terminal-state writes are
// conditional on the row still being pending. Overlapping invocations are
// tolerated rather than locked out; in the worst case a record is delivered
// twice, never counted twice.
type Processor struct {
	config     ProcessorConfig
	repo       Repository
	dispatcher *Dispatcher
}

// NewProcessor creates a pipeline processor.
func NewProcessor(config ProcessorConfig, repo Repository, dispatcher *Dispatcher) *Processor {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultProcessorConfig().BatchSize
	}
	if config.DispatchConcurrency <= 0 {
		config.DispatchConcurrency = DefaultProcessorConfig().DispatchConcurrency
	}
	return &Processor{
		config:     config,
		repo:       repo,
		dispatcher: dispatcher,
	}
}

// Run processes one batch of due reminders and returns the aggregate summary.
// Per-reminder failures never abort the batch; only the initial selection
// query can fail the invocation as a whole.
func (p *Processor) Run(ctx context.Context) (Summary, error) {
	// Correlation ID ties together all log lines of one invocation,
	// including those from overlapping external and scheduled triggers.
	runID := uuid.New().String()
	log := ctxlog.FromContext(ctx).With("run_id", runID)
	ctx = ctxlog.WithLogger(ctx, log)
	now := time.Now()

	due, err := p.repo.FetchDueReminders(ctx, now, p.config.BatchSize)
	if err != nil {
		return Summary{}, fmt.Errorf("fetch due reminders: %w", err)
	}

	if len(due) == 0 {
		log.Debug("no due reminders")
		return Summary{}, nil
	}

	log.Info("processing due reminders", "count", len(due))
	recordBatchFetched(len(due))

	var sent, failed atomic.Int64
	sem := make(chan struct{}, p.config.DispatchConcurrency)
	var wg sync.WaitGroup

	for _, reminder := range due {
		wg.Add(1)
		sem <- struct{}{}
		go func(r *domain.Reminder) {
			defer wg.Done()
			defer func() { <-sem }()

			if p.processOne(ctx, r) {
				sent.Add(1)
			} else {
				failed.Add(1)
			}
		}(reminder)
	}
	wg.Wait()

	summary := Summary{
		Processed: len(due),
		Sent:      int(sent.Load()),
		Failed:    int(failed.Load()),
	}

	log.Info("reminder batch processed",
		"processed", summary.Processed,
		"sent", summary.Sent,
		"failed", summary.Failed,
		"duration_ms", time.Since(now).Milliseconds(),
	)

	return summary, nil
}

// processOne dispatches a single reminder and persists its terminal state.
// Returns true only when the reminder actually transitioned pending -> sent
// in the store, so a concurrent invocation that already claimed the row does
// not get counted again here.
func (p *Processor) processOne(ctx context.Context, reminder *domain.Reminder) bool {
	log := ctxlog.FromContext(ctx)

	result := p.dispatcher.Dispatch(ctx, reminder)

	switch result.Outcome {
	case OutcomeSent:
		transitioned, err := p.repo.MarkSent(ctx, reminder.ID)
		if err != nil {
			// The reminder stays pending and is re-selected next invocation.
			// That can duplicate a send; it never loses one.
			log.Error("failed to mark reminder sent", "reminder_id", reminder.ID, "error", err)
			recordReminderProcessed(string(reminder.Type), "persist_error")
			return false
		}
		if !transitioned {
			log.Debug("reminder already in terminal state", "reminder_id", reminder.ID)
			recordReminderProcessed(string(reminder.Type), "already_done")
			return false
		}
		recordReminderProcessed(string(reminder.Type), "sent")
		return true

	case OutcomeDeferred:
		// Subscription lookup failed before any delivery attempt. No terminal
		// write: the reminder stays pending and is re-selected next invocation.
		log.Warn("reminder deferred, subscriptions unresolved", "reminder_id", reminder.ID)
		recordReminderProcessed(string(reminder.Type), "resolve_error")
		return false

	default:
		transitioned, err := p.repo.MarkFailed(ctx, reminder.ID, result.Reason)
		if err != nil {
			log.Error("failed to mark reminder failed", "reminder_id", reminder.ID, "error", err)
			recordReminderProcessed(string(reminder.Type), "persist_error")
			return false
		}
		if transitioned {
			log.Warn("reminder delivery failed",
				"reminder_id", reminder.ID,
				"reason", result.Reason,
				"attempted", result.Attempted,
			)
		}
		recordReminderProcessed(string(reminder.Type), "failed")
		return false
	}
}
