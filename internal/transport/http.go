// Package transport implements the enroll-api test harness: a minimal
// upstream-API stand-in that writes ScheduledMessage rows the pre-queue
// scheduler can pick up, simulating the real enrollment API this service
// sits downstream of.
package transport

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sengine/drip-engine/internal/domain"
	"github.com/sengine/drip-engine/internal/ports"
)

// Handler holds the HTTP handlers for the enrollment test harness.
type Handler struct {
	scheduled ports.ScheduledMessageRepository
	log       *slog.Logger
}

// NewHandler wires up a Handler.
func NewHandler(scheduled ports.ScheduledMessageRepository, log *slog.Logger) *Handler {
	return &Handler{scheduled: scheduled, log: log}
}

// Register mounts routes onto the given Fiber app.
func (h *Handler) Register(router fiber.Router) {
	router.Post("/scheduled-messages", h.CreateScheduledMessage)
	router.Get("/scheduled-messages/:id", h.GetScheduledMessage)
	router.Get("/health", h.Health)
}

type createScheduledMessageRequest struct {
	UserID        string    `json:"userId"`
	WorkspaceID   string    `json:"workspaceId"`
	ContactID     string    `json:"contactId"`
	DripID        string    `json:"dripId"`
	CampaignID    string    `json:"campaignId"`
	DripContactID string    `json:"dripContactId"`
	FromNumber    string    `json:"fromNumber"`
	ToNumber      string    `json:"toNumber"`
	Body          string    `json:"body"`
	MediaURL      string    `json:"mediaUrl"`
	ScheduledAt   time.Time `json:"scheduledAt"`
}

type createScheduledMessageResponse struct {
	ID int64 `json:"id"`
}

// CreateScheduledMessage inserts a durable pre-queue work item.
//
// POST /scheduled-messages
func (h *Handler) CreateScheduledMessage(c *fiber.Ctx) error {
	var req createScheduledMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	if req.ToNumber == "" || req.Body == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "toNumber and body are required"})
	}

	m := domain.ScheduledMessage{
		UserID:        orNewUUID(req.UserID),
		WorkspaceID:   orNewUUID(req.WorkspaceID),
		ContactID:     orNewUUID(req.ContactID),
		DripID:        orNewUUID(req.DripID),
		CampaignID:    orNewUUID(req.CampaignID),
		DripContactID: orNewUUID(req.DripContactID),
		FromNumber:    req.FromNumber,
		ToNumber:      req.ToNumber,
		Body:          req.Body,
		MediaURL:      req.MediaURL,
		ScheduledAt:   req.ScheduledAt,
	}
	if m.ScheduledAt.IsZero() {
		m.ScheduledAt = time.Now().UTC()
	}

	id, err := h.scheduled.Insert(c.Context(), m)
	if err != nil {
		h.log.Error("create scheduled message", "err", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}

	return c.Status(fiber.StatusCreated).JSON(createScheduledMessageResponse{ID: id})
}

// GetScheduledMessage returns the current state of a scheduled message.
//
// GET /scheduled-messages/:id
func (h *Handler) GetScheduledMessage(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "id must be an integer"})
	}

	msg, err := h.scheduled.Get(c.Context(), int64(id))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not found"})
	}

	return c.JSON(msg)
}

// Health reports process liveness.
func (h *Handler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func orNewUUID(s string) uuid.UUID {
	if s == "" {
		return uuid.New()
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.New()
	}
	return id
}
