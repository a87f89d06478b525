package mockhttp

import (
	"log/slog"
	"math/rand"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Server is a Fiber app standing in for the real gateway during local
// testing: it accepts /send, reports a simulated delivery status through
// the OnStatusCallback hook, and randomly injects a
// small failure rate so dispatcher error handling gets exercised without
// needing real carrier failures.
type Server struct {
	App            *fiber.App
	log            *slog.Logger
	failureRate    float64
	statusCallback func(providerMessageID, status string)
}

// NewServer builds the Fiber app and routes.
func NewServer(log *slog.Logger, failureRate float64) *Server {
	s := &Server{App: fiber.New(fiber.Config{DisableStartupMessage: true}), log: log, failureRate: failureRate}
	s.App.Post("/send", s.handleSend)
	return s
}

// OnStatusCallback registers a hook invoked after a simulated delivery
// status is produced, letting cmd/mock-gateway forward it to the
// reconciler's status queue without this package depending on the broker.
func (s *Server) OnStatusCallback(fn func(providerMessageID, status string)) {
	s.statusCallback = fn
}

func (s *Server) handleSend(c *fiber.Ctx) error {
	var payload sendPayload
	if err := c.BodyParser(&payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(sendResponse{Success: false, ErrorMessage: err.Error()})
	}

	if payload.To == "" {
		return c.JSON(sendResponse{Success: false, ErrorCode: "21211", ErrorMessage: "invalid to number"})
	}

	if rand.Float64() < s.failureRate {
		resp := sendResponse{Success: false, ErrorCode: "30003", ErrorMessage: "simulated unreachable handset"}
		s.log.Warn("mock gateway simulated failure", "to", payload.To)
		return c.JSON(resp)
	}

	providerMessageID := "SM" + uuid.New().String()
	resp := sendResponse{
		Success:           true,
		ProviderMessageID: providerMessageID,
		SegmentCount:      1 + len(payload.Body)/160,
	}
	if payload.MediaURL != "" {
		resp.MediaCount = 1
	}

	if s.statusCallback != nil {
		go s.statusCallback(providerMessageID, "delivered")
	}

	return c.JSON(resp)
}

// Listen starts the server on addr, blocking until it exits.
func (s *Server) Listen(addr string) error {
	return s.App.Listen(addr)
}
