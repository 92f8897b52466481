package domain

import "time"

// PushSubscription is a per-device Web Push delivery endpoint issued by the
// browser's notification permission grant. Endpoint, P256dh and Auth together
// form an opaque delivery capability; only the push transport interprets them.
type PushSubscription struct {
	ID        string
	UserID    string
	Endpoint  string
	P256dh    string
	Auth      string
	UserAgent string
	CreatedAt time.Time
}
