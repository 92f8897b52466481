package reminders

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ivyrock/clinic-pulse/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_NoSubscriptions(t *testing.T) {
	repo := newMockRepository()
	sender := newMockSender(nil)
	dispatcher := NewDispatcher(repo, sender, time.Second)

	reminder := repo.addReminder("user-1", domain.DeliveryStatePending, time.Now())

	result := dispatcher.Dispatch(context.Background(), reminder)

	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.Equal(t, domain.FailureReasonNoSubscription, result.Reason)
	assert.Zero(t, result.Attempted)
	assert.Empty(t, sender.sentEndpoints())
}

func TestDispatcher_AllSubscriptionsTried(t *testing.T) {
	repo := newMockRepository()
	repo.addSubscription("user-1", "https://push.example.com/a")
	repo.addSubscription("user-1", "https://push.example.com/b")
	repo.addSubscription("user-1", "https://push.example.com/c")

	sender := newMockSender(nil)
	dispatcher := NewDispatcher(repo, sender, time.Second)

	reminder := repo.addReminder("user-1", domain.DeliveryStatePending, time.Now())
	result := dispatcher.Dispatch(context.Background(), reminder)

	assert.Equal(t, OutcomeSent, result.Outcome)
	assert.Equal(t, 3, result.Attempted)
	assert.Equal(t, 3, result.Delivered)
	assert.Len(t, sender.sentEndpoints(), 3)
}

func TestDispatcher_PartialDeliveryCountsAsSent(t *testing.T) {
	repo := newMockRepository()
	repo.addSubscription("user-1", "https://push.example.com/good")
	repo.addSubscription("user-1", "https://push.example.com/bad")

	sender := newMockSender(func(sub domain.PushSubscription) error {
		if sub.Endpoint == "https://push.example.com/bad" {
			return errors.New("push service unavailable")
		}
		return nil
	})
	dispatcher := NewDispatcher(repo, sender, time.Second)

	reminder := repo.addReminder("user-1", domain.DeliveryStatePending, time.Now())
	result := dispatcher.Dispatch(context.Background(), reminder)

	assert.Equal(t, OutcomeSent, result.Outcome)
	assert.Equal(t, 2, result.Attempted)
	assert.Equal(t, 1, result.Delivered)
}

func TestDispatcher_AllDeliveriesFailed(t *testing.T) {
	repo := newMockRepository()
	repo.addSubscription("user-1", "https://push.example.com/a")
	repo.addSubscription("user-1", "https://push.example.com/b")

	sender := newMockSender(func(domain.PushSubscription) error {
		return errors.New("push service unavailable")
	})
	dispatcher := NewDispatcher(repo, sender, time.Second)

	reminder := repo.addReminder("user-1", domain.DeliveryStatePending, time.Now())
	result := dispatcher.Dispatch(context.Background(), reminder)

	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.Equal(t, domain.FailureReasonAllDeliveries, result.Reason)
	assert.Zero(t, result.Delivered)
}

func TestDispatcher_GoneSubscriptionIsDeleted(t *testing.T) {
	repo := newMockRepository()
	gone := repo.addSubscription("user-1", "https://push.example.com/expired")
	kept := repo.addSubscription("user-1", "https://push.example.com/active")

	sender := newMockSender(func(sub domain.PushSubscription) error {
		if sub.ID == gone.ID {
			return fmt.Errorf("push service returned 410: %w", ErrSubscriptionGone)
		}
		return nil
	})
	dispatcher := NewDispatcher(repo, sender, time.Second)

	reminder := repo.addReminder("user-1", domain.DeliveryStatePending, time.Now())
	result := dispatcher.Dispatch(context.Background(), reminder)

	assert.Equal(t, OutcomeSent, result.Outcome)
	assert.Equal(t, 1, result.Delivered)

	// Expired endpoint is removed, the active one survives
	_, err := repo.GetSubscriptionByID(context.Background(), gone.ID)
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)

	_, err = repo.GetSubscriptionByID(context.Background(), kept.ID)
	require.NoError(t, err)
}

func TestDispatcher_SubscriptionListErrorDefers(t *testing.T) {
	repo := newMockRepository()
	repo.listSubsErr = errors.New("db down")

	sender := newMockSender(nil)
	dispatcher := NewDispatcher(repo, sender, time.Second)

	reminder := repo.addReminder("user-1", domain.DeliveryStatePending, time.Now())
	result := dispatcher.Dispatch(context.Background(), reminder)

	// A store error is not a delivery failure: no terminal outcome, no reason,
	// and nothing was pushed.
	assert.Equal(t, OutcomeDeferred, result.Outcome)
	assert.Empty(t, result.Reason)
	assert.Zero(t, result.Attempted)
	assert.Empty(t, sender.sentEndpoints())
}
