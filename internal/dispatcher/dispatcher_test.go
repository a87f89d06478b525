package dispatcher

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

type fakeScheduled struct {
	rows   map[int64]*domain.ScheduledMessage
	sent   []int64
	failed map[int64]string
}

func newFakeScheduled() *fakeScheduled {
	return &fakeScheduled{rows: map[int64]*domain.ScheduledMessage{}, failed: map[int64]string{}}
}

func (f *fakeScheduled) Insert(ctx context.Context, m domain.ScheduledMessage) (int64, error) { return 0, nil }
func (f *fakeScheduled) ClaimDue(ctx context.Context, cutoff time.Time, limit int) ([]domain.ScheduledMessage, error) {
	return nil, nil
}
func (f *fakeScheduled) MarkQueued(ctx context.Context, ids []int64) error { return nil }
func (f *fakeScheduled) Get(ctx context.Context, id int64) (*domain.ScheduledMessage, error) {
	if row, ok := f.rows[id]; ok {
		return row, nil
	}
	return nil, domain.ErrScheduledMessageNotFound
}
func (f *fakeScheduled) GetByMessageID(ctx context.Context, messageID uuid.UUID) (*domain.ScheduledMessage, error) {
	return nil, domain.ErrScheduledMessageNotFound
}
func (f *fakeScheduled) UpdateStatus(ctx context.Context, id int64, expected, next domain.ScheduledStatus) (bool, error) {
	return true, nil
}
func (f *fakeScheduled) MarkSent(ctx context.Context, id int64, messageID uuid.UUID, providerMsgID string) error {
	f.sent = append(f.sent, id)
	return nil
}
func (f *fakeScheduled) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	f.failed[id] = errMsg
	return nil
}
func (f *fakeScheduled) MarkDelivered(ctx context.Context, id int64) error { return nil }

type fakeDripContacts struct {
	sent   map[uuid.UUID]string
	failed map[uuid.UUID]string
}

func newFakeDripContacts() *fakeDripContacts {
	return &fakeDripContacts{sent: map[uuid.UUID]string{}, failed: map[uuid.UUID]string{}}
}

func (f *fakeDripContacts) MarkSent(ctx context.Context, id uuid.UUID, messageID uuid.UUID, bRef string) error {
	f.sent[id] = bRef
	return nil
}
func (f *fakeDripContacts) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	f.failed[id] = errMsg
	return nil
}
func (f *fakeDripContacts) MarkDelivered(ctx context.Context, id uuid.UUID) error { return nil }

type fakeMessages struct {
	inserted []domain.Message
}

func (f *fakeMessages) Insert(ctx context.Context, msg domain.Message) (uuid.UUID, error) {
	f.inserted = append(f.inserted, msg)
	return msg.ID, nil
}
func (f *fakeMessages) Get(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	return nil, domain.ErrMessageNotFound
}
func (f *fakeMessages) GetByProviderMessageID(ctx context.Context, providerMsgID string) (*domain.Message, error) {
	return nil, domain.ErrMessageNotFound
}
func (f *fakeMessages) GetByBRef(ctx context.Context, bRef string) (*domain.Message, error) {
	return nil, domain.ErrMessageNotFound
}
func (f *fakeMessages) UpdateDeliveryStatus(ctx context.Context, id uuid.UUID, coarse int, textual string) error {
	return nil
}
func (f *fakeMessages) CountUnread(ctx context.Context, contactID uuid.UUID) (int, error) { return 0, nil }

type fakeContacts struct {
	contact *domain.Contact
	updated []string
}

func (f *fakeContacts) Get(ctx context.Context, id uuid.UUID) (*domain.Contact, error) {
	if f.contact == nil {
		return nil, domain.ErrContactNotFound
	}
	return f.contact, nil
}
func (f *fakeContacts) FindByFuzzyPhone(ctx context.Context, userID uuid.UUID, normalizedPhone string) (*domain.Contact, error) {
	return nil, domain.ErrContactNotFound
}
func (f *fakeContacts) FindOrCreateByPhone(ctx context.Context, userID, workspaceID uuid.UUID, phone string) (*domain.Contact, error) {
	return nil, nil
}
func (f *fakeContacts) SetOptedOut(ctx context.Context, id uuid.UUID, optedOut bool) error { return nil }
func (f *fakeContacts) UpdateLastMessage(ctx context.Context, id uuid.UUID, body string, openChat bool) error {
	f.updated = append(f.updated, body)
	return nil
}

type fakeUsers struct {
	user       *domain.User
	senderErr  error
	senderFrom string
}

func (f *fakeUsers) Get(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	if f.user == nil {
		return nil, domain.ErrUserNotFound
	}
	return f.user, nil
}
func (f *fakeUsers) ActiveSenderNumber(ctx context.Context, userID uuid.UUID) (string, error) {
	return f.senderFrom, f.senderErr
}

type fakeCredits struct {
	balance  int64
	debits   []int64
	refunds  []int64
	debitErr error
}

func (f *fakeCredits) Debit(ctx context.Context, userID uuid.UUID, amount int64, referenceType, referenceID string) error {
	if f.debitErr != nil {
		return f.debitErr
	}
	f.debits = append(f.debits, amount)
	return nil
}
func (f *fakeCredits) Refund(ctx context.Context, userID uuid.UUID, amount int64, referenceType, referenceID string) error {
	f.refunds = append(f.refunds, amount)
	return nil
}
func (f *fakeCredits) Balance(ctx context.Context, userID uuid.UUID) (int64, error) { return f.balance, nil }

type fakeGateway struct {
	result ports.SendResult
	err    error
}

func (f *fakeGateway) Send(ctx context.Context, req ports.SendRequest) (ports.SendResult, error) {
	return f.result, f.err
}

type noopLimiter struct{}

func (noopLimiter) Acquire(ctx context.Context) error { return nil }

type fakeConsumer struct{ env ports.Envelope }

func (c *fakeConsumer) Consume(ctx context.Context, queue string, prefetch int, handler func(ctx context.Context, env ports.Envelope) error) error {
	return handler(ctx, c.env)
}
func (c *fakeConsumer) Close() error { return nil }

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

type harness struct {
	scheduled    *fakeScheduled
	dripContacts *fakeDripContacts
	messages     *fakeMessages
	contacts     *fakeContacts
	users        *fakeUsers
	credits      *fakeCredits
	gateway      *fakeGateway
	dispatcher   *Dispatcher
}

func newHarness(contact *domain.Contact, user *domain.User, gw *fakeGateway) *harness {
	h := &harness{
		scheduled:    newFakeScheduled(),
		dripContacts: newFakeDripContacts(),
		messages:     &fakeMessages{},
		contacts:     &fakeContacts{contact: contact},
		users:        &fakeUsers{user: user, senderFrom: "+15550000000"},
		credits:      &fakeCredits{balance: 100},
		gateway:      gw,
	}
	producer := webhook.NewProducer(fakeWebhookRepo{}, fakePublisher{}, testLogger())
	h.dispatcher = New(h.scheduled, h.dripContacts, h.messages, h.contacts, h.users, h.credits, gw, noopLimiter{}, nil, producer, Config{StatusCallbackURL: "https://status.example.com"}, testLogger())
	return h
}

func validPayload() dripPayload {
	return dripPayload{
		ScheduledMessageID: 42,
		DripContactID:      uuid.New().String(),
		UserID:             uuid.New().String(),
		WorkspaceID:        uuid.New().String(),
		ContactID:          uuid.New().String(),
		DripID:             uuid.New().String(),
		CampaignID:         "spring-sale",
		ToNumber:           "+15551234567",
		Message:            "Hi [phone]",
	}
}

func (h *harness) handle(t *testing.T, payload dripPayload) {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, h.dispatcher.handle(context.Background(), ports.Envelope{Body: body}))
}

func TestHandle_LoadTestShortCircuitsBeforeAnyLookup(t *testing.T) {
	h := newHarness(nil, nil, &fakeGateway{})
	payload := validPayload()
	payload.IsLoadTest = true

	h.handle(t, payload)

	assert.Empty(t, h.scheduled.sent)
	assert.Empty(t, h.scheduled.failed)
	assert.Empty(t, h.credits.debits)
}

func TestHandle_ContactNotFoundFailsWithoutDebit(t *testing.T) {
	h := newHarness(nil, &domain.User{MessagingStatus: domain.MessagingStatusActive}, &fakeGateway{})
	payload := validPayload()

	h.handle(t, payload)

	assert.Contains(t, h.scheduled.failed, payload.ScheduledMessageID)
	assert.Empty(t, h.credits.debits)
	dripContactID, _ := uuid.Parse(payload.DripContactID)
	assert.Contains(t, h.dripContacts.failed, dripContactID)
}

func TestHandle_OptedOutContactFails(t *testing.T) {
	contact := &domain.Contact{OptedOut: true}
	h := newHarness(contact, &domain.User{MessagingStatus: domain.MessagingStatusActive}, &fakeGateway{})
	payload := validPayload()

	h.handle(t, payload)

	assert.Contains(t, h.scheduled.failed, payload.ScheduledMessageID)
}

func TestHandle_SuspendedUserFails(t *testing.T) {
	contact := &domain.Contact{}
	h := newHarness(contact, &domain.User{MessagingStatus: domain.MessagingStatusSuspended}, &fakeGateway{})
	payload := validPayload()

	h.handle(t, payload)

	assert.Contains(t, h.scheduled.failed, payload.ScheduledMessageID)
	assert.Empty(t, h.credits.debits)
}

func TestHandle_GatewayFailureRefundsCreditAndMarksFailed(t *testing.T) {
	contact := &domain.Contact{Phone: "+15551234567"}
	user := &domain.User{MessagingStatus: domain.MessagingStatusActive}
	gw := &fakeGateway{result: ports.SendResult{ErrorMessage: "carrier rejected"}}
	h := newHarness(contact, user, gw)
	payload := validPayload()

	h.handle(t, payload)

	require.Len(t, h.credits.debits, 1)
	require.Len(t, h.credits.refunds, 1)
	assert.Equal(t, h.credits.debits[0], h.credits.refunds[0])
	assert.Contains(t, h.scheduled.failed, payload.ScheduledMessageID)
	assert.Empty(t, h.scheduled.sent)
	dripContactID, _ := uuid.Parse(payload.DripContactID)
	assert.Contains(t, h.dripContacts.failed, dripContactID)
}

func TestHandle_SuccessDebitsOnceInsertsMessageAndMarksSent(t *testing.T) {
	contact := &domain.Contact{Phone: "+15551234567"}
	user := &domain.User{MessagingStatus: domain.MessagingStatusActive}
	gw := &fakeGateway{result: ports.SendResult{ProviderMessageID: "SM123"}}
	h := newHarness(contact, user, gw)
	payload := validPayload()

	h.handle(t, payload)

	require.Len(t, h.credits.debits, 1)
	assert.Empty(t, h.credits.refunds)
	require.Len(t, h.messages.inserted, 1)
	assert.Equal(t, "SM123", h.messages.inserted[0].ProviderMessageID)
	assert.Equal(t, "Hi +15551234567", h.messages.inserted[0].Body)
	assert.Contains(t, h.scheduled.sent, payload.ScheduledMessageID)
	assert.NotContains(t, h.scheduled.failed, payload.ScheduledMessageID)
	dripContactID, _ := uuid.Parse(payload.DripContactID)
	assert.Contains(t, h.dripContacts.sent, dripContactID)
}

func TestHandle_MissingFromNumberFallsBackToActiveSenderNumber(t *testing.T) {
	contact := &domain.Contact{Phone: "+15551234567"}
	user := &domain.User{MessagingStatus: domain.MessagingStatusActive}
	gw := &fakeGateway{result: ports.SendResult{ProviderMessageID: "SM123"}}
	h := newHarness(contact, user, gw)
	payload := validPayload()
	payload.FromNumber = ""

	h.handle(t, payload)

	require.Len(t, h.messages.inserted, 1)
	assert.Equal(t, "+15550000000", h.messages.inserted[0].FromNumber)
}
