package reconciler

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sengine/drip-engine/internal/domain"
	"github.com/sengine/drip-engine/internal/ports"
	"github.com/sengine/drip-engine/internal/webhook"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeMessages is a minimal in-memory ports.MessageRepository backing only
// the lookups and updates the reconciler exercises.
type fakeMessages struct {
	byProviderID map[string]*domain.Message
	byBRef       map[string]*domain.Message
	updated      []updateCall
}

type updateCall struct {
	id      uuid.UUID
	coarse  int
	textual string
}

func newFakeMessages() *fakeMessages {
	return &fakeMessages{byProviderID: map[string]*domain.Message{}, byBRef: map[string]*domain.Message{}}
}

func (f *fakeMessages) Insert(ctx context.Context, msg domain.Message) (uuid.UUID, error) { return msg.ID, nil }
func (f *fakeMessages) Get(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	return nil, domain.ErrMessageNotFound
}
func (f *fakeMessages) GetByProviderMessageID(ctx context.Context, providerMsgID string) (*domain.Message, error) {
	if m, ok := f.byProviderID[providerMsgID]; ok {
		return m, nil
	}
	return nil, domain.ErrMessageNotFound
}
func (f *fakeMessages) GetByBRef(ctx context.Context, bRef string) (*domain.Message, error) {
	if m, ok := f.byBRef[bRef]; ok {
		return m, nil
	}
	return nil, domain.ErrMessageNotFound
}
func (f *fakeMessages) UpdateDeliveryStatus(ctx context.Context, id uuid.UUID, coarse int, textual string) error {
	f.updated = append(f.updated, updateCall{id: id, coarse: coarse, textual: textual})
	return nil
}
func (f *fakeMessages) CountUnread(ctx context.Context, contactID uuid.UUID) (int, error) { return 0, nil }

// fakeScheduled satisfies ports.ScheduledMessageRepository, tracking the
// delivered-status propagation the reconciler is responsible for.
type fakeScheduled struct {
	byMessageID map[uuid.UUID]*domain.ScheduledMessage
	delivered   []int64
}

func newFakeScheduled() *fakeScheduled {
	return &fakeScheduled{byMessageID: map[uuid.UUID]*domain.ScheduledMessage{}}
}

func (f *fakeScheduled) Insert(ctx context.Context, m domain.ScheduledMessage) (int64, error) { return 0, nil }
func (f *fakeScheduled) ClaimDue(ctx context.Context, cutoff time.Time, limit int) ([]domain.ScheduledMessage, error) {
	return nil, nil
}
func (f *fakeScheduled) MarkQueued(ctx context.Context, ids []int64) error { return nil }
func (f *fakeScheduled) Get(ctx context.Context, id int64) (*domain.ScheduledMessage, error) {
	return nil, domain.ErrScheduledMessageNotFound
}
func (f *fakeScheduled) GetByMessageID(ctx context.Context, messageID uuid.UUID) (*domain.ScheduledMessage, error) {
	if m, ok := f.byMessageID[messageID]; ok {
		return m, nil
	}
	return nil, domain.ErrScheduledMessageNotFound
}
func (f *fakeScheduled) UpdateStatus(ctx context.Context, id int64, expected, next domain.ScheduledStatus) (bool, error) {
	return false, nil
}
func (f *fakeScheduled) MarkSent(ctx context.Context, id int64, messageID uuid.UUID, providerMsgID string) error {
	return nil
}
func (f *fakeScheduled) MarkFailed(ctx context.Context, id int64, errMsg string) error { return nil }
func (f *fakeScheduled) MarkDelivered(ctx context.Context, id int64) error {
	f.delivered = append(f.delivered, id)
	return nil
}

// fakeDripContacts satisfies ports.DripContactRepository.
type fakeDripContacts struct {
	delivered []uuid.UUID
	failed    map[uuid.UUID]string
}

func newFakeDripContacts() *fakeDripContacts {
	return &fakeDripContacts{failed: map[uuid.UUID]string{}}
}

func (f *fakeDripContacts) MarkSent(ctx context.Context, id uuid.UUID, messageID uuid.UUID, bRef string) error {
	return nil
}
func (f *fakeDripContacts) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	f.failed[id] = errMsg
	return nil
}
func (f *fakeDripContacts) MarkDelivered(ctx context.Context, id uuid.UUID) error {
	f.delivered = append(f.delivered, id)
	return nil
}

// fakeConsumer invokes the handler once with a fixed envelope.
type fakeConsumer struct {
	env ports.Envelope
}

func (c *fakeConsumer) Consume(ctx context.Context, queue string, prefetch int, handler func(ctx context.Context, env ports.Envelope) error) error {
	return handler(ctx, c.env)
}
func (c *fakeConsumer) Close() error { return nil }

// fakeWebhookRepo is a no-op ports.WebhookRepository, enough to build a
// real webhook.Producer; its ActiveForEvent returns no hooks so Fire is a
// cheap no-op (the webhook fan-out itself is covered in internal/webhook).
type fakeWebhookRepo struct{}

func (fakeWebhookRepo) ActiveForEvent(ctx context.Context, userID uuid.UUID, eventType string) ([]domain.Webhook, error) {
	return nil, nil
}
func (fakeWebhookRepo) InsertDelivery(ctx context.Context, d domain.WebhookDelivery) error { return nil }
func (fakeWebhookRepo) UpdateDeliveryResult(ctx context.Context, eventID string, status domain.WebhookDeliveryStatus, responseStatus int, responseBody, errMsg string, durationMS int64) error {
	return nil
}
func (fakeWebhookRepo) RecordFailure(ctx context.Context, webhookID uuid.UUID) error { return nil }
func (fakeWebhookRepo) RecordSuccess(ctx context.Context, webhookID uuid.UUID) error { return nil }

type fakePublisher struct{}

func (fakePublisher) Publish(ctx context.Context, exchange string, env ports.Envelope) error {
	return nil
}
func (fakePublisher) Close() error { return nil }

func newTestReconciler(messages *fakeMessages, env ports.Envelope) *Reconciler {
	return newTestReconcilerWithRepos(messages, newFakeScheduled(), newFakeDripContacts(), env)
}

func newTestReconcilerWithRepos(messages *fakeMessages, scheduled *fakeScheduled, dripContacts *fakeDripContacts, env ports.Envelope) *Reconciler {
	producer := webhook.NewProducer(fakeWebhookRepo{}, fakePublisher{}, testLogger())
	return New(messages, scheduled, dripContacts, &fakeConsumer{env: env}, producer, testLogger())
}

func envelopeFor(t *testing.T, sid, status, bRef string) ports.Envelope {
	t.Helper()
	payload := map[string]any{
		"data": map[string]string{"messageSid": sid, "status": status, "bRef": bRef},
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return ports.Envelope{Body: body}
}

func TestHandle_ResolvesByProviderMessageIDAndMapsStatus(t *testing.T) {
	messages := newFakeMessages()
	msgID := uuid.New()
	messages.byProviderID["SM123"] = &domain.Message{ID: msgID}

	env := envelopeFor(t, "SM123", "delivered", "")
	r := newTestReconciler(messages, env)
	require.NoError(t, r.handle(context.Background(), env))

	require.Len(t, messages.updated, 1)
	assert.Equal(t, msgID, messages.updated[0].id)
	assert.Equal(t, domain.DeliveryCoarseDelivered, messages.updated[0].coarse)
	assert.Equal(t, "delivered", messages.updated[0].textual)
}

func TestHandle_FallsBackToBRefWhenNoProviderMatch(t *testing.T) {
	messages := newFakeMessages()
	msgID := uuid.New()
	messages.byBRef["DM-123"] = &domain.Message{ID: msgID}

	r := newTestReconciler(messages, ports.Envelope{})
	env := envelopeFor(t, "", "failed", "DM-123")
	require.NoError(t, r.handle(context.Background(), env))

	require.Len(t, messages.updated, 1)
	assert.Equal(t, domain.DeliveryCoarseFailed, messages.updated[0].coarse)
	assert.Equal(t, "failed", messages.updated[0].textual)
}

func TestHandle_UnknownMessageIsNotFatal(t *testing.T) {
	messages := newFakeMessages()
	r := newTestReconciler(messages, ports.Envelope{})
	env := envelopeFor(t, "missing-sid", "delivered", "")

	err := r.handle(context.Background(), env)
	assert.NoError(t, err)
	assert.Empty(t, messages.updated)
}

func TestHandle_UnknownStatusPassesThroughVerbatim(t *testing.T) {
	messages := newFakeMessages()
	msgID := uuid.New()
	messages.byProviderID["SM999"] = &domain.Message{ID: msgID, Status: domain.DeliveryCoarseSending}

	r := newTestReconciler(messages, ports.Envelope{})
	env := envelopeFor(t, "SM999", "some-unmapped-status", "")
	require.NoError(t, r.handle(context.Background(), env))

	require.Len(t, messages.updated, 1)
	assert.Equal(t, domain.DeliveryCoarseSending, messages.updated[0].coarse)
	assert.Equal(t, "some-unmapped-status", messages.updated[0].textual)
}

func TestHandle_MalformedPayloadDoesNotError(t *testing.T) {
	messages := newFakeMessages()
	r := newTestReconciler(messages, ports.Envelope{})
	err := r.handle(context.Background(), ports.Envelope{Body: []byte("not json")})
	assert.NoError(t, err)
}

func TestHandle_DeliveredMarksScheduledAndDripContactDelivered(t *testing.T) {
	messages := newFakeMessages()
	msgID := uuid.New()
	messages.byProviderID["SM123"] = &domain.Message{ID: msgID}

	scheduled := newFakeScheduled()
	dripContactID := uuid.New()
	scheduled.byMessageID[msgID] = &domain.ScheduledMessage{ID: 7, DripContactID: dripContactID}
	dripContacts := newFakeDripContacts()

	env := envelopeFor(t, "SM123", "delivered", "")
	r := newTestReconcilerWithRepos(messages, scheduled, dripContacts, env)
	require.NoError(t, r.handle(context.Background(), env))

	assert.Equal(t, []int64{7}, scheduled.delivered)
	assert.Equal(t, []uuid.UUID{dripContactID}, dripContacts.delivered)
}

func TestHandle_FailedMarksDripContactFailedButNotScheduled(t *testing.T) {
	messages := newFakeMessages()
	msgID := uuid.New()
	messages.byProviderID["SM123"] = &domain.Message{ID: msgID}

	scheduled := newFakeScheduled()
	dripContactID := uuid.New()
	scheduled.byMessageID[msgID] = &domain.ScheduledMessage{ID: 7, DripContactID: dripContactID}
	dripContacts := newFakeDripContacts()

	env := envelopeFor(t, "SM123", "failed", "")
	r := newTestReconcilerWithRepos(messages, scheduled, dripContacts, env)
	require.NoError(t, r.handle(context.Background(), env))

	// Sent has no outgoing Failed edge (domain.ScheduledStatus.CanTransitionTo):
	// the send already happened and the credit was already spent, so only the
	// DripContact reflects the post-send carrier failure.
	assert.Empty(t, scheduled.delivered)
	assert.Contains(t, dripContacts.failed, dripContactID)
}

func TestHandle_CallbackForUntrackedMessageIsNotFatal(t *testing.T) {
	messages := newFakeMessages()
	msgID := uuid.New()
	messages.byProviderID["SM123"] = &domain.Message{ID: msgID}

	// scheduled has no row for msgID: a non-drip send.
	scheduled := newFakeScheduled()
	dripContacts := newFakeDripContacts()

	env := envelopeFor(t, "SM123", "delivered", "")
	r := newTestReconcilerWithRepos(messages, scheduled, dripContacts, env)
	require.NoError(t, r.handle(context.Background(), env))

	assert.Empty(t, scheduled.delivered)
	assert.Empty(t, dripContacts.delivered)
}
