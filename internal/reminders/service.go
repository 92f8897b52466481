package reminders

import (
	"context"
	"time"

	"github.com/ivyrock/clinic-pulse/internal/domain"
	"github.com/ivyrock/clinic-pulse/internal/pkg/ctxlog"
)

const listRemindersLimit = 50

// Service provides reminder scheduling and push subscription management.
// Reminder processing itself lives in Processor; the service only creates
// records and manages the subscriptions the dispatcher resolves.
type Service struct {
	repo Repository
}

// NewService creates a reminders service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// RegisterSubscription stores a push subscription for a user. Registration is
// idempotent per endpoint: re-registering an existing endpoint refreshes its
// keys and owner instead of creating a duplicate.
func (s *Service) RegisterSubscription(ctx context.Context, userID, endpoint, p256dh, auth, userAgent string) (*domain.PushSubscription, error) {
	sub := &domain.PushSubscription{
		UserID:    userID,
		Endpoint:  endpoint,
		P256dh:    p256dh,
		Auth:      auth,
		UserAgent: userAgent,
	}

	if err := s.repo.CreateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	ctxlog.FromContext(ctx).Info("push subscription registered",
		"subscription_id", sub.ID,
		"user_id", userID,
	)

	return sub, nil
}

// ListSubscriptions returns all push subscriptions for a user.
func (s *Service) ListSubscriptions(ctx context.Context, userID string) ([]domain.PushSubscription, error) {
	return s.repo.ListUserSubscriptions(ctx, userID)
}

// RemoveSubscription deletes a subscription owned by the user.
func (s *Service) RemoveSubscription(ctx context.Context, userID, subscriptionID string) error {
	sub, err := s.repo.GetSubscriptionByID(ctx, subscriptionID)
	if err != nil {
		return err
	}

	if sub.UserID != userID {
		return ErrSubscriptionNotOwned
	}

	return s.repo.DeleteSubscription(ctx, subscriptionID)
}

// ScheduleReminder creates a pending reminder for delivery at scheduledFor.
func (s *Service) ScheduleReminder(ctx context.Context, userID string, reminderType domain.ReminderType, title, message string, scheduledFor time.Time, data map[string]any) (*domain.Reminder, error) {
	reminder := &domain.Reminder{
		UserID:        userID,
		Type:          reminderType,
		Title:         title,
		Message:       message,
		ScheduledFor:  scheduledFor,
		Data:          data,
		DeliveryState: domain.DeliveryStatePending,
	}

	if err := s.repo.CreateReminder(ctx, reminder); err != nil {
		return nil, err
	}

	return reminder, nil
}

// ListReminders returns the user's most recent reminders.
func (s *Service) ListReminders(ctx context.Context, userID string) ([]domain.Reminder, error) {
	return s.repo.ListUserReminders(ctx, userID, listRemindersLimit)
}

// EnqueueTestNotification schedules an immediately-due test notification so
// a user can verify push delivery on their devices. It is picked up by the
// next pipeline invocation.
func (s *Service) EnqueueTestNotification(ctx context.Context, userID string) (*domain.Reminder, error) {
	now := time.Now()
	return s.ScheduleReminder(ctx, userID, domain.ReminderTypeTest,
		"Test notification",
		"Push notifications are working.",
		now,
		map[string]any{
			"test":      true,
			"timestamp": now.Unix(),
		},
	)
}
