package reminders

import (
	"context"
	"testing"
	"time"

	"github.com/ivyrock/clinic-pulse/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_RegisterSubscriptionIdempotent(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo)
	ctx := context.Background()

	first, err := service.RegisterSubscription(ctx, "user-1", "https://push.example.com/a", "pk1", "ak1", "firefox")
	require.NoError(t, err)

	// Same endpoint re-registered by the same browser with rotated keys
	second, err := service.RegisterSubscription(ctx, "user-1", "https://push.example.com/a", "pk2", "ak2", "firefox")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)

	subs, err := service.ListSubscriptions(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "pk2", subs[0].P256dh)
}

func TestService_RemoveSubscription(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo)
	ctx := context.Background()

	sub := repo.addSubscription("user-1", "https://push.example.com/a")

	t.Run("not owner", func(t *testing.T) {
		err := service.RemoveSubscription(ctx, "user-2", sub.ID)
		assert.ErrorIs(t, err, ErrSubscriptionNotOwned)
	})

	t.Run("not found", func(t *testing.T) {
		err := service.RemoveSubscription(ctx, "user-1", "missing")
		assert.ErrorIs(t, err, ErrSubscriptionNotFound)
	})

	t.Run("owner", func(t *testing.T) {
		err := service.RemoveSubscription(ctx, "user-1", sub.ID)
		require.NoError(t, err)

		subs, err := service.ListSubscriptions(ctx, "user-1")
		require.NoError(t, err)
		assert.Empty(t, subs)
	})
}

func TestService_ScheduleReminder(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo)

	scheduledFor := time.Now().Add(24 * time.Hour)
	reminder, err := service.ScheduleReminder(context.Background(), "user-1",
		domain.ReminderTypeAppointment, "Checkup", "Tomorrow at 9:00", scheduledFor,
		map[string]any{"url": "/appointments/42"})

	require.NoError(t, err)
	assert.NotEmpty(t, reminder.ID)
	assert.Equal(t, domain.DeliveryStatePending, reminder.DeliveryState)
	assert.Equal(t, scheduledFor, reminder.ScheduledFor)
}

func TestService_EnqueueTestNotification(t *testing.T) {
	repo := newMockRepository()
	repo.addSubscription("user-1", "https://push.example.com/a")
	service := NewService(repo)

	reminder, err := service.EnqueueTestNotification(context.Background(), "user-1")
	require.NoError(t, err)

	assert.Equal(t, domain.ReminderTypeTest, reminder.Type)
	assert.Equal(t, true, reminder.Data["test"])
	assert.False(t, reminder.ScheduledFor.After(time.Now()), "test notification must be due immediately")

	// The next pipeline run picks it up
	processor := newTestProcessor(repo, newMockSender(nil))
	summary, err := processor.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Sent)
}
