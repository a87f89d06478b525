package scheduler

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sengine/drip-engine/internal/domain"
	"github.com/sengine/drip-engine/internal/ports"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeScheduled struct {
	mu        sync.Mutex
	rows      []domain.ScheduledMessage
	claimErr  error
	calls     int
	queuedIDs []int64
}

func (f *fakeScheduled) Insert(ctx context.Context, m domain.ScheduledMessage) (int64, error) { return 0, nil }

func (f *fakeScheduled) ClaimDue(ctx context.Context, cutoff time.Time, limit int) ([]domain.ScheduledMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	rows := f.rows
	f.rows = nil
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (f *fakeScheduled) MarkQueued(ctx context.Context, ids []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queuedIDs = append(f.queuedIDs, ids...)
	return nil
}

func (f *fakeScheduled) Get(ctx context.Context, id int64) (*domain.ScheduledMessage, error) {
	return nil, domain.ErrScheduledMessageNotFound
}
func (f *fakeScheduled) GetByMessageID(ctx context.Context, messageID uuid.UUID) (*domain.ScheduledMessage, error) {
	return nil, domain.ErrScheduledMessageNotFound
}
func (f *fakeScheduled) UpdateStatus(ctx context.Context, id int64, expected, next domain.ScheduledStatus) (bool, error) {
	return true, nil
}
func (f *fakeScheduled) MarkSent(ctx context.Context, id int64, messageID uuid.UUID, providerMsgID string) error {
	return nil
}
func (f *fakeScheduled) MarkFailed(ctx context.Context, id int64, errMsg string) error { return nil }
func (f *fakeScheduled) MarkDelivered(ctx context.Context, id int64) error             { return nil }

type fakePublisher struct {
	mu        sync.Mutex
	published []ports.Envelope
	publishErr error
}

func (f *fakePublisher) Publish(ctx context.Context, exchange string, env ports.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, env)
	return nil
}
func (f *fakePublisher) Close() error { return nil }

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func sampleRow(id int64) domain.ScheduledMessage {
	return domain.ScheduledMessage{
		ID:            id,
		UserID:        uuid.New(),
		WorkspaceID:   uuid.New(),
		ContactID:     uuid.New(),
		DripID:        uuid.New(),
		CampaignID:    uuid.New(),
		DripContactID: uuid.New(),
		ToNumber:      "+15551234567",
		Body:          "hello",
		ScheduledAt:   time.Now().UTC(),
	}
}

func TestRunCycle_NoDueRowsPublishesNothing(t *testing.T) {
	repo := &fakeScheduled{}
	pub := &fakePublisher{}
	s := New(repo, pub, Config{LeadWindow: time.Minute, BatchSize: 10}, testLogger())

	s.runCycle(context.Background())

	assert.Equal(t, 0, pub.count())
}

func TestRunCycle_PublishesOnePayloadPerClaimedRow(t *testing.T) {
	repo := &fakeScheduled{rows: []domain.ScheduledMessage{sampleRow(1), sampleRow(2)}}
	pub := &fakePublisher{}
	s := New(repo, pub, Config{LeadWindow: time.Minute, BatchSize: 10}, testLogger())

	s.runCycle(context.Background())

	require.Equal(t, 2, pub.count())
	for _, env := range pub.published {
		assert.Equal(t, "drip.send", env.RoutingKey)
		var payload dripPayload
		require.NoError(t, json.Unmarshal(env.Body, &payload))
		assert.Equal(t, "+15551234567", payload.ToNumber)
		assert.False(t, payload.QueuedAt.IsZero())
	}
	assert.ElementsMatch(t, []int64{1, 2}, repo.queuedIDs)
}

func TestRunCycle_ClaimErrorStopsWithoutPublishing(t *testing.T) {
	repo := &fakeScheduled{claimErr: assertError("boom")}
	pub := &fakePublisher{}
	s := New(repo, pub, Config{LeadWindow: time.Minute, BatchSize: 10}, testLogger())

	s.runCycle(context.Background())

	assert.Equal(t, 0, pub.count())
}

func TestRunCycle_PublishFailureLeavesRowsUnqueuedAndNextCycleProceeds(t *testing.T) {
	repo := &fakeScheduled{rows: []domain.ScheduledMessage{sampleRow(1), sampleRow(2), sampleRow(3)}}
	pub := &fakePublisher{}
	s := New(repo, pub, Config{LeadWindow: time.Minute, BatchSize: 10}, testLogger())

	// first call fails every publish to exercise the per-row error path
	pub.publishErr = assertError("unreachable broker")
	s.runCycle(context.Background())
	assert.Equal(t, 0, pub.count())
	// a publish failure must not mark the row Queued: it stays Pending for
	// the next cycle to retry.
	assert.Empty(t, repo.queuedIDs)

	pub.publishErr = nil
	repo.rows = []domain.ScheduledMessage{sampleRow(4)}
	s.runCycle(context.Background())
	assert.Equal(t, 1, pub.count())
	assert.Equal(t, []int64{4}, repo.queuedIDs)
}

func TestRun_SkipsTickWhenPreviousCycleStillRunning(t *testing.T) {
	repo := &fakeScheduled{}
	pub := &fakePublisher{}
	s := New(repo, pub, Config{Interval: time.Millisecond, LeadWindow: time.Minute, BatchSize: 10}, testLogger())

	s.running.Store(true)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_ = s.Run(ctx)

	assert.Equal(t, 0, repo.calls)
}

type assertError string

func (e assertError) Error() string { return string(e) }
