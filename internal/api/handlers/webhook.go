package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/waconnect/waconnect-go/internal/webhookqueue"
	"go.uber.org/zap"
)

// WebhookHandler exposes admin operations over the durable delivery engine.
type WebhookHandler struct {
	engine *webhookqueue.Engine
	logger *zap.SugaredLogger
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(engine *webhookqueue.Engine, logger *zap.SugaredLogger) *WebhookHandler {
	return &WebhookHandler{engine: engine, logger: logger}
}

// Stats reports queue depths and whether the worker is running.
func (h *WebhookHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.engine.Stats(c.Context())
	if err != nil {
		return writeAppError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    stats,
	})
}

// RetryRequest is the body of the webhooks/retry endpoint.
type RetryRequest struct {
	Count int `json:"count"`
}

// Retry moves up to count failed jobs back onto the queue.
func (h *WebhookHandler) Retry(c *fiber.Ctx) error {
	var req RetryRequest
	if err := c.BodyParser(&req); err != nil || req.Count <= 0 {
		return writeError(c, fiber.StatusBadRequest, "count must be a positive integer")
	}

	moved, err := h.engine.RetryFailed(c.Context(), req.Count)
	if err != nil {
		return writeAppError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    fiber.Map{"moved": moved},
	})
}
