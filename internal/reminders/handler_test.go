package reminders

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ivyrock/clinic-pulse/internal/domain"
	"github.com/ivyrock/clinic-pulse/internal/pkg/httputil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(repo *mockRepository, sender Sender, enabled bool, cronSecret string) *Handler {
	service := NewService(repo)
	processor := newTestProcessor(repo, sender)
	return NewHandler(service, processor, func() bool { return enabled }, cronSecret, "test-vapid-public")
}

func newTestRouter(h *Handler, userID string) http.Handler {
	r := chi.NewRouter()
	h.RegisterPublicRoutes(r)
	r.Group(func(r chi.Router) {
		if userID != "" {
			r.Use(func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
					ctx := context.WithValue(req.Context(), httputil.UserIDKey, userID)
					next.ServeHTTP(w, req.WithContext(ctx))
				})
			})
		}
		h.RegisterRoutes(r)
	})
	return r
}

func triggerRequest(router http.Handler, secret string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/cron/process-reminders", nil)
	if secret != "" {
		req.Header.Set("Authorization", "Bearer "+secret)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestProcessReminders_DisabledSkipsStore(t *testing.T) {
	repo := newMockRepository()
	handler := newTestHandler(repo, newMockSender(nil), false, "secret")
	router := newTestRouter(handler, "")

	// No auth header: the flag check must run before the secret check
	rec := triggerRequest(router, "")

	assert.Equal(t, http.StatusOK, rec.Code)

	var body TriggerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, 0, body.SentCount)
	assert.Contains(t, body.Message, "disabled")

	assert.Zero(t, repo.totalCalls(), "disabled flag must prevent any store access")
}

func TestProcessReminders_RejectsBadSecret(t *testing.T) {
	repo := newMockRepository()
	repo.addSubscription("user-1", "https://push.example.com/a")
	repo.addReminder("user-1", domain.DeliveryStatePending, time.Now().Add(-time.Minute))

	handler := newTestHandler(repo, newMockSender(nil), true, "correct-secret")
	router := newTestRouter(handler, "")

	for _, secret := range []string{"", "wrong-secret"} {
		rec := triggerRequest(router, secret)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		var body TriggerErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "unauthorized", body.Error)
	}

	assert.Zero(t, repo.callCount("MarkSent"), "rejected trigger must not mutate reminders")
	assert.Zero(t, repo.callCount("MarkFailed"))
}

func TestProcessReminders_NoSecretConfiguredIsOpen(t *testing.T) {
	repo := newMockRepository()
	handler := newTestHandler(repo, newMockSender(nil), true, "")
	router := newTestRouter(handler, "")

	rec := triggerRequest(router, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProcessReminders_ReportsSentCount(t *testing.T) {
	repo := newMockRepository()
	repo.addSubscription("user-1", "https://push.example.com/a")
	repo.addReminder("user-1", domain.DeliveryStatePending, time.Now().Add(-time.Minute))
	repo.addReminder("user-1", domain.DeliveryStatePending, time.Now().Add(-time.Minute))
	repo.addReminder("user-2", domain.DeliveryStatePending, time.Now().Add(-time.Minute)) // no devices

	handler := newTestHandler(repo, newMockSender(nil), true, "secret")
	router := newTestRouter(handler, "")

	rec := triggerRequest(router, "secret")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body TriggerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, 2, body.SentCount, "only delivered reminders count, not failed ones")
}

func TestProcessReminders_PipelineErrorReturns500(t *testing.T) {
	repo := newMockRepository()
	repo.fetchDueErr = errors.New("db down")

	handler := newTestHandler(repo, newMockSender(nil), true, "")
	router := newTestRouter(handler, "")

	rec := triggerRequest(router, "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var body TriggerErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "reminder processing failed", body.Error)
	assert.Contains(t, body.Details, "db down")
}

func TestVAPIDPublicKey(t *testing.T) {
	handler := newTestHandler(newMockRepository(), newMockSender(nil), true, "")
	router := newTestRouter(handler, "")

	req := httptest.NewRequest(http.MethodGet, "/push/vapid-public-key", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test-vapid-public")
}

func TestRegisterSubscription(t *testing.T) {
	repo := newMockRepository()
	handler := newTestHandler(repo, newMockSender(nil), true, "")
	router := newTestRouter(handler, "user-1")

	body := `{"endpoint":"https://push.example.com/reg","keys":{"p256dh":"pk","auth":"ak"}}`
	req := httptest.NewRequest(http.MethodPost, "/push/subscriptions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		Data subscriptionResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Data.ID)
	assert.Equal(t, "https://push.example.com/reg", resp.Data.Endpoint)
	// Keys must not be echoed back
	assert.NotContains(t, rec.Body.String(), `"p256dh"`)
}

func TestRegisterSubscription_Validation(t *testing.T) {
	handler := newTestHandler(newMockRepository(), newMockSender(nil), true, "")
	router := newTestRouter(handler, "user-1")

	tests := []struct {
		name string
		body string
	}{
		{"missing endpoint", `{"keys":{"p256dh":"pk","auth":"ak"}}`},
		{"missing keys", `{"endpoint":"https://push.example.com/a"}`},
		{"not json", `{{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/push/subscriptions", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestRemoveSubscription_OwnershipEnforced(t *testing.T) {
	repo := newMockRepository()
	sub := repo.addSubscription("other-user", "https://push.example.com/theirs")

	handler := newTestHandler(repo, newMockSender(nil), true, "")
	router := newTestRouter(handler, "user-1")

	req := httptest.NewRequest(http.MethodDelete, "/push/subscriptions/"+sub.ID, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)

	_, err := repo.GetSubscriptionByID(context.Background(), sub.ID)
	assert.NoError(t, err, "foreign subscription must not be deleted")
}

func TestScheduleReminder_InvalidType(t *testing.T) {
	handler := newTestHandler(newMockRepository(), newMockSender(nil), true, "")
	router := newTestRouter(handler, "user-1")

	body := `{"type":"medication","title":"t","message":"m","scheduled_for":"2026-09-01T10:00:00Z"}`
	req := httptest.NewRequest(http.MethodPost, "/reminders", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
