package reminders

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/ivyrock/clinic-pulse/internal/domain"
	"github.com/ivyrock/clinic-pulse/internal/pkg/ctxlog"
	"github.com/ivyrock/clinic-pulse/internal/pkg/httputil"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrReminderNotFound, Status: http.StatusNotFound, Message: "reminder not found"},
	{Error: ErrSubscriptionNotFound, Status: http.StatusNotFound, Message: "push subscription not found"},
	{Error: ErrSubscriptionNotOwned, Status: http.StatusForbidden, Message: "subscription does not belong to user"},
}

// FlagResolver reports whether reminder processing is enabled. It is invoked
// on every trigger call so the flag can change at runtime without a restart.
type FlagResolver func() bool

// Handler handles HTTP requests for the reminders module.
type Handler struct {
	service        *Service
	processor      *Processor
	validator      *validator.Validate
	processingFlag FlagResolver
	cronSecret     string
	vapidPublicKey string
}

// NewHandler creates a reminders handler. cronSecret may be empty, in which
// case the trigger endpoint is unauthenticated (explicit operator choice).
func NewHandler(service *Service, processor *Processor, flag FlagResolver, cronSecret, vapidPublicKey string) *Handler {
	return &Handler{
		service:        service,
		processor:      processor,
		validator:      validator.New(),
		processingFlag: flag,
		cronSecret:     cronSecret,
		vapidPublicKey: vapidPublicKey,
	}
}

// RegisterRoutes registers routes that require authentication.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/push/subscriptions", func(r chi.Router) {
		r.Get("/", h.ListSubscriptions)
		r.Post("/", h.RegisterSubscription)
		r.Delete("/{id}", h.RemoveSubscription)
	})
	r.Post("/push/test", h.SendTestNotification)

	r.Route("/reminders", func(r chi.Router) {
		r.Get("/", h.ListReminders)
		r.Post("/", h.ScheduleReminder)
	})
}

// RegisterPublicRoutes registers routes that do not require a user token.
// The cron trigger has its own shared-secret gate.
func (h *Handler) RegisterPublicRoutes(r chi.Router) {
	r.Get("/push/vapid-public-key", h.VAPIDPublicKey)
	r.Get("/cron/process-reminders", h.ProcessReminders)
	r.Post("/cron/process-reminders", h.ProcessReminders)
}

// RegisterSubscriptionRequest is the body for registering a push subscription.
// It mirrors the PushSubscription JSON produced by the browser's
// PushManager.subscribe().
type RegisterSubscriptionRequest struct {
	Endpoint string `json:"endpoint" validate:"required,url"`
	Keys     struct {
		P256dh string `json:"p256dh" validate:"required"`
		Auth   string `json:"auth" validate:"required"`
	} `json:"keys"`
	UserAgent string `json:"user_agent"`
}

// ScheduleReminderRequest is the body for scheduling a reminder.
type ScheduleReminderRequest struct {
	Type         string         `json:"type" validate:"required,oneof=appointment_reminder test_notification"`
	Title        string         `json:"title" validate:"required,max=200"`
	Message      string         `json:"message" validate:"required,max=2000"`
	ScheduledFor time.Time      `json:"scheduled_for" validate:"required"`
	Data         map[string]any `json:"data"`
}

// subscriptionResponse is the API shape of a push subscription. Keys are
// never echoed back.
type subscriptionResponse struct {
	ID        string    `json:"id"`
	Endpoint  string    `json:"endpoint"`
	UserAgent string    `json:"user_agent,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// reminderResponse is the API shape of a reminder.
type reminderResponse struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	Title         string         `json:"title"`
	Message       string         `json:"message"`
	ScheduledFor  time.Time      `json:"scheduled_for"`
	Data          map[string]any `json:"data,omitempty"`
	DeliveryState string         `json:"delivery_state"`
	FailureReason *string        `json:"failure_reason,omitempty"`
	SentAt        *time.Time     `json:"sent_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// TriggerResponse is the trigger endpoint's success body.
type TriggerResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	SentCount int    `json:"sentCount"`
}

// TriggerErrorResponse is the trigger endpoint's failure body.
type TriggerErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// RegisterSubscription handles POST /push/subscriptions.
func (h *Handler) RegisterSubscription(w http.ResponseWriter, r *http.Request) {
	userID := httputil.GetUserID(r.Context())

	var req RegisterSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	sub, err := h.service.RegisterSubscription(r.Context(), userID, req.Endpoint, req.Keys.P256dh, req.Keys.Auth, req.UserAgent)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, toSubscriptionResponse(sub))
}

// ListSubscriptions handles GET /push/subscriptions.
func (h *Handler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	userID := httputil.GetUserID(r.Context())

	subs, err := h.service.ListSubscriptions(r.Context(), userID)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	out := make([]subscriptionResponse, 0, len(subs))
	for i := range subs {
		out = append(out, toSubscriptionResponse(&subs[i]))
	}

	httputil.Success(w, http.StatusOK, out)
}

// RemoveSubscription handles DELETE /push/subscriptions/{id}.
func (h *Handler) RemoveSubscription(w http.ResponseWriter, r *http.Request) {
	userID := httputil.GetUserID(r.Context())
	subscriptionID := chi.URLParam(r, "id")

	if err := h.service.RemoveSubscription(r.Context(), userID, subscriptionID); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// SendTestNotification handles POST /push/test.
func (h *Handler) SendTestNotification(w http.ResponseWriter, r *http.Request) {
	userID := httputil.GetUserID(r.Context())

	reminder, err := h.service.EnqueueTestNotification(r.Context(), userID)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusAccepted, toReminderResponse(reminder))
}

// ScheduleReminder handles POST /reminders.
func (h *Handler) ScheduleReminder(w http.ResponseWriter, r *http.Request) {
	userID := httputil.GetUserID(r.Context())

	var req ScheduleReminderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	reminder, err := h.service.ScheduleReminder(r.Context(), userID,
		domain.ReminderType(req.Type), req.Title, req.Message, req.ScheduledFor, req.Data)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, toReminderResponse(reminder))
}

// ListReminders handles GET /reminders.
func (h *Handler) ListReminders(w http.ResponseWriter, r *http.Request) {
	userID := httputil.GetUserID(r.Context())

	list, err := h.service.ListReminders(r.Context(), userID)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	out := make([]reminderResponse, 0, len(list))
	for i := range list {
		out = append(out, toReminderResponse(&list[i]))
	}

	httputil.Success(w, http.StatusOK, out)
}

// VAPIDPublicKey handles GET /push/vapid-public-key. Clients need the public
// key to call PushManager.subscribe().
func (h *Handler) VAPIDPublicKey(w http.ResponseWriter, r *http.Request) {
	httputil.Success(w, http.StatusOK, map[string]string{"public_key": h.vapidPublicKey})
}

// ProcessReminders handles GET|POST /cron/process-reminders.
//
// The response contract is fixed for external schedulers:
// {success, message, sentCount} on success, {error, details} with 401/500
// otherwise. The feature flag is checked before any store access; the
// shared-secret check rejects before any side effect.
func (h *Handler) ProcessReminders(w http.ResponseWriter, r *http.Request) {
	log := ctxlog.FromContext(r.Context())

	if !h.processingFlag() {
		httputil.JSON(w, http.StatusOK, TriggerResponse{
			Success:   true,
			Message:   "reminder processing is disabled",
			SentCount: 0,
		})
		return
	}

	if h.cronSecret != "" && !h.authorizeCron(r) {
		log.Warn("cron trigger rejected", "remote_addr", r.RemoteAddr)
		httputil.JSON(w, http.StatusUnauthorized, TriggerErrorResponse{
			Error:   "unauthorized",
			Details: "missing or invalid bearer token",
		})
		return
	}

	summary, err := h.processor.Run(r.Context())
	if err != nil {
		log.Error("reminder pipeline failed", "error", err)
		httputil.JSON(w, http.StatusInternalServerError, TriggerErrorResponse{
			Error:   "reminder processing failed",
			Details: err.Error(),
		})
		return
	}

	httputil.JSON(w, http.StatusOK, TriggerResponse{
		Success:   true,
		Message:   "reminders processed",
		SentCount: summary.Sent,
	})
}

// authorizeCron compares the bearer token against the configured secret in
// constant time.
func (h *Handler) authorizeCron(r *http.Request) bool {
	authHeader := r.Header.Get("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(parts[1]), []byte(h.cronSecret)) == 1
}

func toSubscriptionResponse(sub *domain.PushSubscription) subscriptionResponse {
	return subscriptionResponse{
		ID:        sub.ID,
		Endpoint:  sub.Endpoint,
		UserAgent: sub.UserAgent,
		CreatedAt: sub.CreatedAt,
	}
}

func toReminderResponse(r *domain.Reminder) reminderResponse {
	return reminderResponse{
		ID:            r.ID,
		Type:          string(r.Type),
		Title:         r.Title,
		Message:       r.Message,
		ScheduledFor:  r.ScheduledFor,
		Data:          r.Data,
		DeliveryState: string(r.DeliveryState),
		FailureReason: r.FailureReason,
		SentAt:        r.SentAt,
		CreatedAt:     r.CreatedAt,
	}
}
