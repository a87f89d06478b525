package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sengine/drip-engine/internal/domain"
	"github.com/sengine/drip-engine/internal/ports"
)

const (
	deliveryTimeout  = 10 * time.Second
	maxRedirects     = 3
	maxResponseChars = 5000
)

// outboundBody is the wire shape POSTed to the subscriber.
type outboundBody struct {
	EventID   string          `json:"event_id"`
	Event     string          `json:"event"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Dispatcher consumes dispatch jobs from inbox.webhook and delivers them
// with an HMAC-SHA256 signature, recording the outcome either way.
type Dispatcher struct {
	webhooks ports.WebhookRepository
	consumer ports.MessageConsumer
	http     *http.Client
	log      *slog.Logger
}

func NewDispatcher(webhooks ports.WebhookRepository, consumer ports.MessageConsumer, log *slog.Logger) *Dispatcher {
	client := &http.Client{
		Timeout: deliveryTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
	return &Dispatcher{webhooks: webhooks, consumer: consumer, http: client, log: log}
}

// Run consumes inbox.webhook, dispatching each job and always acking —
// operator-visible history lives in the deliveries table, and retries are
// user-driven, not broker-driven.
func (d *Dispatcher) Run(ctx context.Context, prefetch int) error {
	return d.consumer.Consume(ctx, "inbox.webhook", prefetch, func(ctx context.Context, env ports.Envelope) error {
		job, err := decodeJob(env.Body)
		if err != nil {
			d.log.Error("decode dispatch job", "err", err)
			return nil // malformed payload: don't retry, just drop
		}
		d.deliver(ctx, job)
		return nil
	})
}

func (d *Dispatcher) deliver(ctx context.Context, job dispatchJob) {
	body := outboundBody{EventID: job.EventID, Event: job.Event, Timestamp: job.Timestamp, Data: job.Data}
	payload, err := json.Marshal(body)
	if err != nil {
		d.log.Error("marshal outbound webhook body", "event_id", job.EventID, "err", err)
		return
	}

	signature := sign(job.Secret, payload)

	start := time.Now()
	status, respBody, deliverErr := d.post(ctx, job.URL, payload, job.Event, job.EventID, signature)
	durationMS := time.Since(start).Milliseconds()

	success := deliverErr == nil && status >= 200 && status < 300
	webhookID, err := uuid.Parse(job.WebhookID)
	if err != nil {
		d.log.Error("parse webhook id", "webhook_id", job.WebhookID, "err", err)
		return
	}

	var errMsg string
	if deliverErr != nil {
		errMsg = deliverErr.Error()
	}

	resultStatus := domain.WebhookDeliveryFailed
	if success {
		resultStatus = domain.WebhookDeliverySuccess
	}

	if err := d.webhooks.UpdateDeliveryResult(ctx, job.EventID, resultStatus, status, respBody, errMsg, durationMS); err != nil {
		d.log.Error("update webhook delivery result", "event_id", job.EventID, "err", err)
	}

	if success {
		if err := d.webhooks.RecordSuccess(ctx, webhookID); err != nil {
			d.log.Error("record webhook success", "webhook_id", webhookID, "err", err)
		}
	} else {
		if err := d.webhooks.RecordFailure(ctx, webhookID); err != nil {
			d.log.Error("record webhook failure", "webhook_id", webhookID, "err", err)
		}
	}
}

func (d *Dispatcher) post(ctx context.Context, url string, payload []byte, event, eventID, signature string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Sengine-Webhook/1.0")
	req.Header.Set("X-Webhook-Event", event)
	req.Header.Set("X-Webhook-Delivery", eventID)
	req.Header.Set("X-Webhook-Signature", "sha256="+signature)

	resp, err := d.http.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseChars))
	respBody := string(data)
	if len(respBody) > maxResponseChars {
		respBody = respBody[:maxResponseChars]
	}

	return resp.StatusCode, respBody, nil
}

func sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
