// Package postgres provides the PostgreSQL implementation of the reminders
// repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ivyrock/clinic-pulse/internal/domain"
	"github.com/ivyrock/clinic-pulse/internal/reminders"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements reminders.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// CreateReminder inserts a new pending reminder.
func (r *Repository) CreateReminder(ctx context.Context, reminder *domain.Reminder) error {
	query := `
		INSERT INTO reminders (user_id, type, title, message, scheduled_for, data, delivery_state)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending')
		RETURNING id, delivery_state, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		reminder.UserID,
		reminder.Type,
		reminder.Title,
		reminder.Message,
		reminder.ScheduledFor,
		reminder.Data,
	).Scan(&reminder.ID, &reminder.DeliveryState, &reminder.CreatedAt, &reminder.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create reminder: %w", err)
	}
	return nil
}

// ListUserReminders returns a user's most recently created reminders.
func (r *Repository) ListUserReminders(ctx context.Context, userID string, limit int) ([]domain.Reminder, error) {
	query := `
		SELECT id, user_id, type, title, message, scheduled_for, data,
		       delivery_state, failure_reason, sent_at, created_at, updated_at
		FROM reminders
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list user reminders: %w", err)
	}
	defer rows.Close()

	list := make([]domain.Reminder, 0)
	for rows.Next() {
		reminder, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *reminder)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reminders: %w", err)
	}

	return list, nil
}

// FetchDueReminders returns pending reminders due at or before now, oldest
// scheduled first, capped at limit.
func (r *Repository) FetchDueReminders(ctx context.Context, now time.Time, limit int) ([]*domain.Reminder, error) {
	query := `
		SELECT id, user_id, type, title, message, scheduled_for, data,
		       delivery_state, failure_reason, sent_at, created_at, updated_at
		FROM reminders
		WHERE delivery_state = 'pending' AND scheduled_for <= $1
		ORDER BY scheduled_for ASC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch due reminders: %w", err)
	}
	defer rows.Close()

	due := make([]*domain.Reminder, 0)
	for rows.Next() {
		reminder, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		due = append(due, reminder)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due reminders: %w", err)
	}

	return due, nil
}

// MarkSent transitions a reminder to sent if it is still pending.
// Returns whether the row transitioned, so callers can distinguish a win
// from a concurrent invocation having already claimed the record.
func (r *Repository) MarkSent(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE reminders
		SET delivery_state = 'sent', sent_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND delivery_state = 'pending'
	`
	result, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("mark reminder sent: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// MarkFailed transitions a reminder to failed if it is still pending.
func (r *Repository) MarkFailed(ctx context.Context, id string, reason string) (bool, error) {
	query := `
		UPDATE reminders
		SET delivery_state = 'failed', failure_reason = $2, updated_at = NOW()
		WHERE id = $1 AND delivery_state = 'pending'
	`
	result, err := r.db.Exec(ctx, query, id, reason)
	if err != nil {
		return false, fmt.Errorf("mark reminder failed: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// DeleteOldSentReminders removes sent reminders older than the retention
// window and returns the count.
func (r *Repository) DeleteOldSentReminders(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `DELETE FROM reminders WHERE delivery_state = 'sent' AND sent_at < NOW() - $1::interval`
	result, err := r.db.Exec(ctx, query, olderThan)
	if err != nil {
		return 0, fmt.Errorf("delete old sent reminders: %w", err)
	}
	return result.RowsAffected(), nil
}

// GetReminderStats returns reminder counts by delivery state.
func (r *Repository) GetReminderStats(ctx context.Context) (*reminders.ReminderStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE delivery_state = 'pending'),
			COUNT(*) FILTER (WHERE delivery_state = 'sent'),
			COUNT(*) FILTER (WHERE delivery_state = 'failed')
		FROM reminders
	`
	var stats reminders.ReminderStats
	err := r.db.QueryRow(ctx, query).Scan(&stats.Pending, &stats.Sent, &stats.Failed)
	if err != nil {
		return nil, fmt.Errorf("get reminder stats: %w", err)
	}
	return &stats, nil
}

// CreateSubscription inserts a push subscription, refreshing keys and owner
// when the endpoint is already registered.
func (r *Repository) CreateSubscription(ctx context.Context, sub *domain.PushSubscription) error {
	query := `
		INSERT INTO push_subscriptions (user_id, endpoint, p256dh, auth, user_agent)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (endpoint) DO UPDATE
		SET user_id = EXCLUDED.user_id,
		    p256dh = EXCLUDED.p256dh,
		    auth = EXCLUDED.auth,
		    user_agent = EXCLUDED.user_agent
		RETURNING id, created_at
	`
	err := r.db.QueryRow(ctx, query,
		sub.UserID,
		sub.Endpoint,
		sub.P256dh,
		sub.Auth,
		sub.UserAgent,
	).Scan(&sub.ID, &sub.CreatedAt)
	if err != nil {
		return fmt.Errorf("create subscription: %w", err)
	}
	return nil
}

// GetSubscriptionByID retrieves a push subscription by ID.
func (r *Repository) GetSubscriptionByID(ctx context.Context, id string) (*domain.PushSubscription, error) {
	query := `
		SELECT id, user_id, endpoint, p256dh, auth, user_agent, created_at
		FROM push_subscriptions
		WHERE id = $1
	`
	var sub domain.PushSubscription
	err := r.db.QueryRow(ctx, query, id).Scan(
		&sub.ID,
		&sub.UserID,
		&sub.Endpoint,
		&sub.P256dh,
		&sub.Auth,
		&sub.UserAgent,
		&sub.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, reminders.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return &sub, nil
}

// ListUserSubscriptions returns all push subscriptions for a user.
func (r *Repository) ListUserSubscriptions(ctx context.Context, userID string) ([]domain.PushSubscription, error) {
	query := `
		SELECT id, user_id, endpoint, p256dh, auth, user_agent, created_at
		FROM push_subscriptions
		WHERE user_id = $1
		ORDER BY created_at ASC
	`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list user subscriptions: %w", err)
	}
	defer rows.Close()

	subs := make([]domain.PushSubscription, 0)
	for rows.Next() {
		var sub domain.PushSubscription
		err := rows.Scan(
			&sub.ID,
			&sub.UserID,
			&sub.Endpoint,
			&sub.P256dh,
			&sub.Auth,
			&sub.UserAgent,
			&sub.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriptions: %w", err)
	}

	return subs, nil
}

// DeleteSubscription deletes a push subscription.
func (r *Repository) DeleteSubscription(ctx context.Context, id string) error {
	result, err := r.db.Exec(ctx, `DELETE FROM push_subscriptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	if result.RowsAffected() == 0 {
		return reminders.ErrSubscriptionNotFound
	}
	return nil
}

func scanReminder(rows pgx.Rows) (*domain.Reminder, error) {
	var reminder domain.Reminder
	err := rows.Scan(
		&reminder.ID,
		&reminder.UserID,
		&reminder.Type,
		&reminder.Title,
		&reminder.Message,
		&reminder.ScheduledFor,
		&reminder.Data,
		&reminder.DeliveryState,
		&reminder.FailureReason,
		&reminder.SentAt,
		&reminder.CreatedAt,
		&reminder.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan reminder: %w", err)
	}
	return &reminder, nil
}
