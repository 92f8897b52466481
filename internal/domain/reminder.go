// Package domain contains core domain types shared across packages.
package domain

import "time"

// ReminderType categorizes a reminder and selects its payload template.
type ReminderType string

const (
	ReminderTypeAppointment ReminderType = "appointment_reminder"
	ReminderTypeTest        ReminderType = "test_notification"
)

// DeliveryState is the delivery lifecycle state of a reminder.
// A reminder starts as pending and moves to exactly one terminal state;
// the pipeline never moves a reminder back to pending.
type DeliveryState string

const (
	DeliveryStatePending DeliveryState = "pending"
	DeliveryStateSent    DeliveryState = "sent"
	DeliveryStateFailed  DeliveryState = "failed"
)

// Failure reasons recorded when a reminder reaches the failed state.
const (
	FailureReasonNoSubscription = "no_subscription"
	FailureReasonAllDeliveries  = "all_deliveries_failed"
)

// Reminder is a scheduled push notification for a single user.
//
// Data is a free-form payload forwarded to the client for deep linking.
// Conventional keys are "url", "test" and "timestamp"; nothing in the
// pipeline interprets them.
type Reminder struct {
	ID            string
	UserID        string
	Type          ReminderType
	Title         string
	Message       string
	ScheduledFor  time.Time
	Data          map[string]any
	DeliveryState DeliveryState
	FailureReason *string
	SentAt        *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
