// Package webpush delivers reminder payloads over the Web Push protocol
// with VAPID authentication.
package webpush

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/ivyrock/clinic-pulse/internal/domain"
	"github.com/ivyrock/clinic-pulse/internal/reminders"
	"golang.org/x/time/rate"
)

const (
	defaultTTL       = 86400
	defaultTimeout   = 10 * time.Second
	defaultRateLimit = 50
)

// Config holds Web Push sender configuration.
type Config struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	// Subscriber is the contact address push services may use to reach the
	// operator, per RFC 8292 (mailto: or https: URL).
	Subscriber string
	// TTL is how long (seconds) the push service queues an undelivered
	// message before dropping it.
	TTL int
	// Timeout bounds a single delivery request.
	Timeout time.Duration
	// RateLimit caps outgoing sends per second across the process.
	RateLimit float64
}

// Sender implements reminders.Sender over Web Push.
type Sender struct {
	config  Config
	client  *http.Client
	limiter *rate.Limiter
}

// NewSender creates a Web Push sender.
// Returns an error if the VAPID key pair or subscriber is missing.
func NewSender(config Config) (*Sender, error) {
	if config.VAPIDPublicKey == "" || config.VAPIDPrivateKey == "" {
		return nil, errors.New("webpush sender: VAPID key pair is required")
	}
	if config.Subscriber == "" {
		return nil, errors.New("webpush sender: subscriber contact is required")
	}
	if config.TTL <= 0 {
		config.TTL = defaultTTL
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	if config.RateLimit <= 0 {
		config.RateLimit = defaultRateLimit
	}

	slog.Info("webpush sender configured",
		"subscriber", config.Subscriber,
		"ttl", config.TTL,
		"rate_limit", config.RateLimit,
	)

	return &Sender{
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), int(config.RateLimit)),
	}, nil
}

// PublicKey returns the VAPID public key clients use to subscribe.
func (s *Sender) PublicKey() string {
	return s.config.VAPIDPublicKey
}

// Send encrypts and delivers one message to a subscription endpoint.
// A 404/410 from the push service means the subscription is gone for good
// and is reported as reminders.ErrSubscriptionGone.
func (s *Sender) Send(ctx context.Context, sub domain.PushSubscription, msg reminders.PushMessage) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	payload, err := msg.Encode()
	if err != nil {
		return err
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload,
		&webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys: webpush.Keys{
				P256dh: sub.P256dh,
				Auth:   sub.Auth,
			},
		},
		&webpush.Options{
			HTTPClient:      s.client,
			Subscriber:      s.config.Subscriber,
			TTL:             s.config.TTL,
			VAPIDPublicKey:  s.config.VAPIDPublicKey,
			VAPIDPrivateKey: s.config.VAPIDPrivateKey,
		},
	)
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	return s.handleStatus(resp.StatusCode)
}

func (s *Sender) handleStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil

	case status == http.StatusNotFound, status == http.StatusGone:
		return fmt.Errorf("push service returned %d: %w", status, reminders.ErrSubscriptionGone)

	case status == http.StatusRequestEntityTooLarge:
		return fmt.Errorf("push payload too large (status %d)", status)

	case status == http.StatusTooManyRequests:
		return fmt.Errorf("push service rate limited (status %d)", status)

	default:
		return fmt.Errorf("push service returned status %d", status)
	}
}
