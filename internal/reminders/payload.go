package reminders

import (
	"encoding/json"
	"fmt"

	"github.com/ivyrock/clinic-pulse/internal/domain"
)

// PushMessage is the payload delivered to a push subscription. The client
// service worker renders it as a notification and uses Data for deep linking.
//
// Data keys are a convention, not a contract: clients currently expect "url"
// (navigation target), "test" (marks test notifications) and "timestamp".
type PushMessage struct {
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Type  string         `json:"type"`
	Data  map[string]any `json:"data,omitempty"`
}

// BuildMessage constructs the push payload for a reminder.
func BuildMessage(r *domain.Reminder) PushMessage {
	return PushMessage{
		Title: r.Title,
		Body:  r.Message,
		Type:  string(r.Type),
		Data:  r.Data,
	}
}

// Encode serializes the message for the wire.
func (m PushMessage) Encode() ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal push message: %w", err)
	}
	return b, nil
}
