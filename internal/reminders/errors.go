package reminders

import "errors"

// Repository errors.
var (
	ErrReminderNotFound     = errors.New("reminder not found")
	ErrSubscriptionNotFound = errors.New("push subscription not found")
)

// Service errors.
var (
	ErrSubscriptionNotOwned = errors.New("subscription does not belong to user")
)

// ErrSubscriptionGone is returned by a Sender when the push service reports
// the subscription as permanently invalid (endpoint expired or unsubscribed).
// The dispatcher removes such subscriptions so they are not attempted again.
var ErrSubscriptionGone = errors.New("push subscription no longer valid")
