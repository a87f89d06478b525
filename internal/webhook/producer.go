// Package webhook implements subscription matching (the producer, C9) and
// signed delivery (the dispatcher, C10) for outbound event fan-out.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sengine/drip-engine/internal/domain"
	"github.com/sengine/drip-engine/internal/ports"
)

// Producer matches events against active subscriptions, records a
// pending delivery row per match, and publishes a dispatch job.
type Producer struct {
	webhooks  ports.WebhookRepository
	publisher ports.MessagePublisher
	log       *slog.Logger
}

func NewProducer(webhooks ports.WebhookRepository, publisher ports.MessagePublisher, log *slog.Logger) *Producer {
	return &Producer{webhooks: webhooks, publisher: publisher, log: log}
}

// dispatchJob is the broker payload published to inbox.webhook.
type dispatchJob struct {
	EventID   string          `json:"event_id"`
	WebhookID string          `json:"webhook_id"`
	URL       string          `json:"url"`
	Secret    string          `json:"secret"`
	Event     string          `json:"event"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Fire finds active webhooks subscribed to eventType under userID, inserts
// a pending delivery row for each, and publishes a dispatch job. Failures
// are logged, not returned, since fan-out is always non-blocking relative
// to the caller's primary operation.
func (p *Producer) Fire(ctx context.Context, userID, workspaceID uuid.UUID, eventType string, data any) {
	hooks, err := p.webhooks.ActiveForEvent(ctx, userID, eventType)
	if err != nil {
		p.log.Error("lookup active webhooks", "event", eventType, "err", err)
		return
	}
	if len(hooks) == 0 {
		return
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		p.log.Error("marshal webhook data", "event", eventType, "err", err)
		return
	}

	now := time.Now().UTC()
	for _, h := range hooks {
		eventID := uuid.New().String()

		delivery := domain.WebhookDelivery{
			ID:          uuid.New(),
			WebhookID:   h.ID,
			EventID:     eventID,
			EventType:   eventType,
			Payload:     string(dataJSON),
			Status:      domain.WebhookDeliveryPending,
			AttemptedAt: now,
		}
		if err := p.webhooks.InsertDelivery(ctx, delivery); err != nil {
			p.log.Error("insert webhook delivery", "webhook_id", h.ID, "err", err)
			continue
		}

		job := dispatchJob{
			EventID:   eventID,
			WebhookID: h.ID.String(),
			URL:       h.URL,
			Secret:    h.Secret,
			Event:     eventType,
			Timestamp: now,
			Data:      dataJSON,
		}
		body, err := json.Marshal(job)
		if err != nil {
			p.log.Error("marshal dispatch job", "webhook_id", h.ID, "err", err)
			continue
		}

		if err := p.publisher.Publish(ctx, "inbox", ports.Envelope{RoutingKey: "webhook", Body: body}); err != nil {
			p.log.Error("publish dispatch job", "webhook_id", h.ID, "err", err)
		}
	}
}

// decodeJob parses a dispatch job; the dispatcher's consumer handler uses it.
func decodeJob(body []byte) (dispatchJob, error) {
	var j dispatchJob
	if err := json.Unmarshal(body, &j); err != nil {
		return dispatchJob{}, fmt.Errorf("decode dispatch job: %w", err)
	}
	return j, nil
}
