package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sengine/drip-engine/internal/domain"
	"github.com/sengine/drip-engine/internal/ports"
)

type mockWebhookRepo struct {
	mock.Mock
}

func (m *mockWebhookRepo) ActiveForEvent(ctx context.Context, userID uuid.UUID, eventType string) ([]domain.Webhook, error) {
	args := m.Called(ctx, userID, eventType)
	if v := args.Get(0); v != nil {
		return v.([]domain.Webhook), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockWebhookRepo) InsertDelivery(ctx context.Context, d domain.WebhookDelivery) error {
	return m.Called(ctx, d).Error(0)
}

func (m *mockWebhookRepo) UpdateDeliveryResult(ctx context.Context, eventID string, status domain.WebhookDeliveryStatus, responseStatus int, responseBody, errMsg string, durationMS int64) error {
	args := m.Called(ctx, eventID, status, responseStatus, responseBody, errMsg, durationMS)
	return args.Error(0)
}

func (m *mockWebhookRepo) RecordFailure(ctx context.Context, webhookID uuid.UUID) error {
	return m.Called(ctx, webhookID).Error(0)
}

func (m *mockWebhookRepo) RecordSuccess(ctx context.Context, webhookID uuid.UUID) error {
	return m.Called(ctx, webhookID).Error(0)
}

// singleJobConsumer hands one envelope to the handler on Consume, then
// returns nil once ctx is cancelled — enough to exercise Dispatcher.Run
// without a real broker.
type singleJobConsumer struct {
	env ports.Envelope
}

func (c *singleJobConsumer) Consume(ctx context.Context, queue string, prefetch int, handler func(ctx context.Context, env ports.Envelope) error) error {
	_ = handler(ctx, c.env)
	<-ctx.Done()
	return ctx.Err()
}

func (c *singleJobConsumer) Close() error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestDispatcher_Deliver_SignsAndRecordsSuccess(t *testing.T) {
	var receivedSig, receivedEvent, receivedDelivery string
	var receivedBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedSig = r.Header.Get("X-Webhook-Signature")
		receivedEvent = r.Header.Get("X-Webhook-Event")
		receivedDelivery = r.Header.Get("X-Webhook-Delivery")
		assert.Equal(t, "Sengine-Webhook/1.0", r.Header.Get("User-Agent"))
		receivedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	webhookID := uuid.New()
	job := dispatchJob{
		EventID:   "evt-1",
		WebhookID: webhookID.String(),
		URL:       srv.URL,
		Secret:    "s3cr3t",
		Event:     "message.delivered",
		Timestamp: time.Now().UTC(),
		Data:      json.RawMessage(`{"foo":"bar"}`),
	}
	body, err := json.Marshal(job)
	require.NoError(t, err)

	repo := new(mockWebhookRepo)
	repo.On("UpdateDeliveryResult", mock.Anything, "evt-1", domain.WebhookDeliverySuccess, http.StatusOK, mock.Anything, "", mock.AnythingOfType("int64")).Return(nil)
	repo.On("RecordSuccess", mock.Anything, webhookID).Return(nil)

	disp := NewDispatcher(repo, &singleJobConsumer{env: ports.Envelope{Body: body}}, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = disp.Run(ctx, 1)

	repo.AssertExpectations(t)
	assert.Equal(t, "message.delivered", receivedEvent)
	assert.Equal(t, "evt-1", receivedDelivery)

	expectedMAC := hmac.New(sha256.New, []byte("s3cr3t"))
	expectedMAC.Write(receivedBody)
	assert.Equal(t, "sha256="+hex.EncodeToString(expectedMAC.Sum(nil)), receivedSig)
}

func TestDispatcher_Deliver_NonTwoXXRecordsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	webhookID := uuid.New()
	job := dispatchJob{
		EventID:   "evt-2",
		WebhookID: webhookID.String(),
		URL:       srv.URL,
		Secret:    "s3cr3t",
		Event:     "message.failed",
		Timestamp: time.Now().UTC(),
		Data:      json.RawMessage(`{}`),
	}
	body, err := json.Marshal(job)
	require.NoError(t, err)

	repo := new(mockWebhookRepo)
	repo.On("UpdateDeliveryResult", mock.Anything, "evt-2", domain.WebhookDeliveryFailed, http.StatusInternalServerError, "boom", "", mock.AnythingOfType("int64")).Return(nil)
	repo.On("RecordFailure", mock.Anything, webhookID).Return(nil)

	disp := NewDispatcher(repo, &singleJobConsumer{env: ports.Envelope{Body: body}}, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = disp.Run(ctx, 1)

	repo.AssertExpectations(t)
}

func TestDispatcher_Run_MalformedPayloadIsDroppedNotRetried(t *testing.T) {
	repo := new(mockWebhookRepo)
	disp := NewDispatcher(repo, &singleJobConsumer{env: ports.Envelope{Body: []byte("not json")}}, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = disp.Run(ctx, 1)

	repo.AssertNotCalled(t, "UpdateDeliveryResult")
}
