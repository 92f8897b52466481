package reminders

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ivyrock/clinic-pulse/internal/domain"
)

// mockRepository is an in-memory Repository with per-method call counters and
// error injection for failure paths.
type mockRepository struct {
	mu            sync.Mutex
	reminders     map[string]*domain.Reminder
	subscriptions map[string]*domain.PushSubscription
	nextID        int

	fetchDueErr  error
	listSubsErr  error
	markSentErr  error
	markFailErr  error
	deleteSubErr error

	calls map[string]int
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		reminders:     make(map[string]*domain.Reminder),
		subscriptions: make(map[string]*domain.PushSubscription),
		calls:         make(map[string]int),
	}
}

func (m *mockRepository) callCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

func (m *mockRepository) totalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.calls {
		total += n
	}
	return total
}

func (m *mockRepository) record(method string) {
	m.calls[method]++
}

func (m *mockRepository) genID() string {
	m.nextID++
	return fmt.Sprintf("id-%d", m.nextID)
}

func (m *mockRepository) addReminder(userID string, state domain.DeliveryState, scheduledFor time.Time) *domain.Reminder {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := &domain.Reminder{
		ID:            m.genID(),
		UserID:        userID,
		Type:          domain.ReminderTypeAppointment,
		Title:         "Checkup tomorrow",
		Message:       "Your appointment is at 9:00",
		ScheduledFor:  scheduledFor,
		DeliveryState: state,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	m.reminders[r.ID] = r
	return r
}

func (m *mockRepository) addSubscription(userID, endpoint string) *domain.PushSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub := &domain.PushSubscription{
		ID:        m.genID(),
		UserID:    userID,
		Endpoint:  endpoint,
		P256dh:    "p256dh-key",
		Auth:      "auth-secret",
		CreatedAt: time.Now(),
	}
	m.subscriptions[sub.ID] = sub
	return sub
}

func (m *mockRepository) reminderState(id string) domain.DeliveryState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reminders[id].DeliveryState
}

func (m *mockRepository) CreateReminder(_ context.Context, reminder *domain.Reminder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("CreateReminder")
	reminder.ID = m.genID()
	reminder.DeliveryState = domain.DeliveryStatePending
	reminder.CreatedAt = time.Now()
	reminder.UpdatedAt = reminder.CreatedAt
	clone := *reminder
	m.reminders[reminder.ID] = &clone
	return nil
}

func (m *mockRepository) ListUserReminders(_ context.Context, userID string, limit int) ([]domain.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("ListUserReminders")
	list := make([]domain.Reminder, 0)
	for _, r := range m.reminders {
		if r.UserID == userID && len(list) < limit {
			list = append(list, *r)
		}
	}
	return list, nil
}

func (m *mockRepository) FetchDueReminders(_ context.Context, now time.Time, limit int) ([]*domain.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("FetchDueReminders")
	if m.fetchDueErr != nil {
		return nil, m.fetchDueErr
	}
	due := make([]*domain.Reminder, 0)
	for _, r := range m.reminders {
		if r.DeliveryState == domain.DeliveryStatePending && !r.ScheduledFor.After(now) && len(due) < limit {
			clone := *r
			due = append(due, &clone)
		}
	}
	return due, nil
}

func (m *mockRepository) MarkSent(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("MarkSent")
	if m.markSentErr != nil {
		return false, m.markSentErr
	}
	r, ok := m.reminders[id]
	if !ok || r.DeliveryState != domain.DeliveryStatePending {
		return false, nil
	}
	now := time.Now()
	r.DeliveryState = domain.DeliveryStateSent
	r.SentAt = &now
	return true, nil
}

func (m *mockRepository) MarkFailed(_ context.Context, id string, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("MarkFailed")
	if m.markFailErr != nil {
		return false, m.markFailErr
	}
	r, ok := m.reminders[id]
	if !ok || r.DeliveryState != domain.DeliveryStatePending {
		return false, nil
	}
	r.DeliveryState = domain.DeliveryStateFailed
	r.FailureReason = &reason
	return true, nil
}

func (m *mockRepository) DeleteOldSentReminders(_ context.Context, olderThan time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("DeleteOldSentReminders")
	var deleted int64
	cutoff := time.Now().Add(-olderThan)
	for id, r := range m.reminders {
		if r.DeliveryState == domain.DeliveryStateSent && r.SentAt != nil && r.SentAt.Before(cutoff) {
			delete(m.reminders, id)
			deleted++
		}
	}
	return deleted, nil
}

func (m *mockRepository) GetReminderStats(_ context.Context) (*ReminderStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("GetReminderStats")
	stats := &ReminderStats{}
	for _, r := range m.reminders {
		switch r.DeliveryState {
		case domain.DeliveryStatePending:
			stats.Pending++
		case domain.DeliveryStateSent:
			stats.Sent++
		case domain.DeliveryStateFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

func (m *mockRepository) CreateSubscription(_ context.Context, sub *domain.PushSubscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("CreateSubscription")
	for _, existing := range m.subscriptions {
		if existing.Endpoint == sub.Endpoint {
			existing.UserID = sub.UserID
			existing.P256dh = sub.P256dh
			existing.Auth = sub.Auth
			existing.UserAgent = sub.UserAgent
			sub.ID = existing.ID
			sub.CreatedAt = existing.CreatedAt
			return nil
		}
	}
	sub.ID = m.genID()
	sub.CreatedAt = time.Now()
	clone := *sub
	m.subscriptions[sub.ID] = &clone
	return nil
}

func (m *mockRepository) GetSubscriptionByID(_ context.Context, id string) (*domain.PushSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("GetSubscriptionByID")
	sub, ok := m.subscriptions[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	clone := *sub
	return &clone, nil
}

func (m *mockRepository) ListUserSubscriptions(_ context.Context, userID string) ([]domain.PushSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("ListUserSubscriptions")
	if m.listSubsErr != nil {
		return nil, m.listSubsErr
	}
	subs := make([]domain.PushSubscription, 0)
	for _, sub := range m.subscriptions {
		if sub.UserID == userID {
			subs = append(subs, *sub)
		}
	}
	return subs, nil
}

func (m *mockRepository) DeleteSubscription(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("DeleteSubscription")
	if m.deleteSubErr != nil {
		return m.deleteSubErr
	}
	if _, ok := m.subscriptions[id]; !ok {
		return ErrSubscriptionNotFound
	}
	delete(m.subscriptions, id)
	return nil
}

// mockSender routes sends through a per-endpoint function so tests can script
// success, failure and gone responses.
type mockSender struct {
	mu       sync.Mutex
	sendFunc func(sub domain.PushSubscription) error
	sent     []string // endpoints in send order
}

func newMockSender(sendFunc func(sub domain.PushSubscription) error) *mockSender {
	return &mockSender{sendFunc: sendFunc}
}

func (s *mockSender) Send(_ context.Context, sub domain.PushSubscription, _ PushMessage) error {
	s.mu.Lock()
	s.sent = append(s.sent, sub.Endpoint)
	s.mu.Unlock()
	if s.sendFunc != nil {
		return s.sendFunc(sub)
	}
	return nil
}

func (s *mockSender) sentEndpoints() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}
