// Package scheduler implements the pre-queue worker that drains durable
// ScheduledMessage rows into the drip broker exchange shortly before they
// are due.
package scheduler

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sengine/drip-engine/internal/ports"
)

// dripPayload is the JSON body published to drip.messages (§6).
type dripPayload struct {
	ScheduledMessageID int64     `json:"scheduledMessageId"`
	DripContactID      string    `json:"dripContactId"`
	UserID             string    `json:"userId"`
	WorkspaceID        string    `json:"workspaceId"`
	ContactID          string    `json:"contactId"`
	DripID             string    `json:"dripId"`
	CampaignID         string    `json:"campaignId"`
	FromNumber         string    `json:"fromNumber"`
	ToNumber           string    `json:"toNumber"`
	Message            string    `json:"message"`
	MediaURL           string    `json:"mediaUrl,omitempty"`
	ScheduledAt        time.Time `json:"scheduledAt"`
	QueuedAt           time.Time `json:"queuedAt"`
}

// Config tunes the cycle interval, lead window, and batch size.
type Config struct {
	Interval   time.Duration
	LeadWindow time.Duration // DRIP_PRE_QUEUE_MINUTES
	BatchSize  int           // DRIP_PRE_QUEUE_BATCH
}

// Scheduler runs the fixed-interval pre-queue cycle. Exactly one instance
// may run fleet-wide: duplicating it causes double-queueing, and nothing
// here detects a second instance. Within one process the running flag
// keeps a new cycle from starting while the previous one is in flight.
type Scheduler struct {
	repo      ports.ScheduledMessageRepository
	publisher ports.MessagePublisher
	cfg       Config
	log       *slog.Logger

	running atomic.Bool
}

// New builds a Scheduler.
func New(repo ports.ScheduledMessageRepository, publisher ports.MessagePublisher, cfg Config, log *slog.Logger) *Scheduler {
	return &Scheduler{repo: repo, publisher: publisher, cfg: cfg, log: log}
}

// Run ticks every cfg.Interval until ctx is cancelled, skipping a tick if
// the previous cycle is still in flight.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !s.running.CompareAndSwap(false, true) {
				s.log.Warn("pre-queue cycle skipped: previous cycle still running")
				continue
			}
			s.runCycle(ctx)
			s.running.Store(false)
		}
	}
}

func (s *Scheduler) runCycle(ctx context.Context) {
	cutoff := time.Now().UTC().Add(s.cfg.LeadWindow)

	claimed, err := s.repo.ClaimDue(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		s.log.Error("claim due scheduled messages", "err", err)
		return
	}
	if len(claimed) == 0 {
		return
	}

	queuedAt := time.Now().UTC()
	published := make([]int64, 0, len(claimed))
	for _, m := range claimed {
		payload := dripPayload{
			ScheduledMessageID: m.ID,
			DripContactID:      m.DripContactID.String(),
			UserID:             m.UserID.String(),
			WorkspaceID:        m.WorkspaceID.String(),
			ContactID:          m.ContactID.String(),
			DripID:             m.DripID.String(),
			CampaignID:         m.CampaignID.String(),
			FromNumber:         m.FromNumber,
			ToNumber:           m.ToNumber,
			Message:            m.Body,
			MediaURL:           m.MediaURL,
			ScheduledAt:        m.ScheduledAt,
			QueuedAt:           queuedAt,
		}

		body, err := json.Marshal(payload)
		if err != nil {
			s.log.Error("marshal drip payload", "scheduled_id", m.ID, "err", err)
			continue
		}

		// A publish failure leaves this row out of the batch below, so it
		// stays Pending and the next cycle retries it (§4.5).
		if err := s.publisher.Publish(ctx, "drip", ports.Envelope{RoutingKey: "drip.send", Body: body}); err != nil {
			s.log.Error("publish drip message", "scheduled_id", m.ID, "err", err)
			continue
		}
		published = append(published, m.ID)
	}

	if err := s.repo.MarkQueued(ctx, published); err != nil {
		s.log.Error("mark queued", "err", err)
	}

	s.log.Info("pre-queue cycle complete", "claimed", len(claimed), "published", len(published))
}
