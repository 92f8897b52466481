package reminders

import (
	"context"
	"errors"
	"time"

	"github.com/ivyrock/clinic-pulse/internal/domain"
	"github.com/ivyrock/clinic-pulse/internal/pkg/ctxlog"
)

const defaultSendTimeout = 10 * time.Second

// Sender delivers a push message to a single subscription.
// Implementations distinguish permanently invalid targets by returning an
// error wrapping ErrSubscriptionGone.
type Sender interface {
	Send(ctx context.Context, sub domain.PushSubscription, msg PushMessage) error
}

// Outcome is the terminal result of dispatching one reminder.
type Outcome string

const (
	OutcomeSent   Outcome = "sent"
	OutcomeFailed Outcome = "failed"
	// OutcomeDeferred means the dispatcher could not resolve the reminder's
	// subscriptions (store error). No delivery was attempted; the record must
	// stay pending so the next scan picks it up again.
	OutcomeDeferred Outcome = "deferred"
)

// DispatchResult describes how a single reminder's dispatch went.
type DispatchResult struct {
	Outcome   Outcome
	Reason    string // failure reason, empty when sent
	Attempted int    // subscriptions tried
	Delivered int    // subscriptions that accepted the payload
}

// Dispatcher resolves a reminder's subscriptions and pushes the payload to
// each of them. Failures are isolated per subscription: one broken endpoint
// never prevents attempts on the user's other devices.
type Dispatcher struct {
	repo        Repository
	sender      Sender
	sendTimeout time.Duration
}

// NewDispatcher creates a dispatcher. sendTimeout bounds each transport call
// so a hung push service cannot stall the batch; zero means the default.
func NewDispatcher(repo Repository, sender Sender, sendTimeout time.Duration) *Dispatcher {
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}
	return &Dispatcher{
		repo:        repo,
		sender:      sender,
		sendTimeout: sendTimeout,
	}
}

// Dispatch sends one reminder to all of its user's subscriptions.
// A reminder with no subscriptions fails terminally with no_subscription;
// this is a business state, not a transient error, and is never retried.
// One delivered subscription is enough for the reminder to count as sent.
func (d *Dispatcher) Dispatch(ctx context.Context, reminder *domain.Reminder) DispatchResult {
	log := ctxlog.FromContext(ctx)

	subs, err := d.repo.ListUserSubscriptions(ctx, reminder.UserID)
	if err != nil {
		log.Error("failed to list subscriptions",
			"reminder_id", reminder.ID,
			"user_id", reminder.UserID,
			"error", err,
		)
		return DispatchResult{Outcome: OutcomeDeferred}
	}

	if len(subs) == 0 {
		log.Debug("no subscriptions for user", "reminder_id", reminder.ID, "user_id", reminder.UserID)
		return DispatchResult{Outcome: OutcomeFailed, Reason: domain.FailureReasonNoSubscription}
	}

	msg := BuildMessage(reminder)
	delivered := 0

	for _, sub := range subs {
		start := time.Now()
		err := d.sendOne(ctx, sub, msg)
		duration := time.Since(start)

		if err == nil {
			delivered++
			recordPushSend("ok", duration)
			continue
		}

		if errors.Is(err, ErrSubscriptionGone) {
			recordPushSend("gone", duration)
			log.Info("removing expired push subscription",
				"subscription_id", sub.ID,
				"user_id", sub.UserID,
			)
			if delErr := d.repo.DeleteSubscription(ctx, sub.ID); delErr != nil {
				log.Error("failed to delete expired subscription",
					"subscription_id", sub.ID,
					"error", delErr,
				)
			}
			continue
		}

		recordPushSend("error", duration)
		log.Warn("push delivery failed",
			"reminder_id", reminder.ID,
			"subscription_id", sub.ID,
			"error", err,
		)
	}

	result := DispatchResult{Attempted: len(subs), Delivered: delivered}
	if delivered > 0 {
		result.Outcome = OutcomeSent
	} else {
		result.Outcome = OutcomeFailed
		result.Reason = domain.FailureReasonAllDeliveries
	}
	return result
}

// sendOne pushes to a single subscription under the per-call timeout.
func (d *Dispatcher) sendOne(ctx context.Context, sub domain.PushSubscription, msg PushMessage) error {
	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()
	return d.sender.Send(sendCtx, sub, msg)
}
