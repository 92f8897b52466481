// Package reminders implements the due-reminder processing pipeline and the
// push subscription lifecycle around it.
package reminders

import (
	"context"
	"time"

	"github.com/ivyrock/clinic-pulse/internal/domain"
)

// Repository defines data access for reminders and push subscriptions.
type Repository interface {
	// Reminder lifecycle
	CreateReminder(ctx context.Context, reminder *domain.Reminder) error
	ListUserReminders(ctx context.Context, userID string, limit int) ([]domain.Reminder, error)

	// FetchDueReminders returns pending reminders with scheduled_for <= now,
	// oldest first, capped at limit. Reminders beyond the cap stay pending
	// and drain on subsequent invocations.
	FetchDueReminders(ctx context.Context, now time.Time, limit int) ([]*domain.Reminder, error)

	// MarkSent and MarkFailed transition a reminder to a terminal state only
	// if it is still pending. They report whether the row actually
	// transitioned, so overlapping invocations never double count a record.
	MarkSent(ctx context.Context, id string) (bool, error)
	MarkFailed(ctx context.Context, id string, reason string) (bool, error)

	DeleteOldSentReminders(ctx context.Context, olderThan time.Duration) (int64, error)
	GetReminderStats(ctx context.Context) (*ReminderStats, error)

	// Push subscriptions
	CreateSubscription(ctx context.Context, sub *domain.PushSubscription) error
	GetSubscriptionByID(ctx context.Context, id string) (*domain.PushSubscription, error)
	ListUserSubscriptions(ctx context.Context, userID string) ([]domain.PushSubscription, error)
	DeleteSubscription(ctx context.Context, id string) error
}

// ReminderStats contains reminder counts by delivery state.
type ReminderStats struct {
	Pending int64
	Sent    int64
	Failed  int64
}
