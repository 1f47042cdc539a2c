package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/waconnect/waconnect-go/internal/session"
	"go.uber.org/zap"
)

// MessageHandler handles outbound message requests.
type MessageHandler struct {
	registry *session.Registry
	logger   *zap.SugaredLogger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(registry *session.Registry, logger *zap.SugaredLogger) *MessageHandler {
	return &MessageHandler{registry: registry, logger: logger}
}

// SendTextRequest is the body of the send/text endpoint.
type SendTextRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

// SendText sends a text message through a session's transport.
func (h *MessageHandler) SendText(c *fiber.Ctx) error {
	id := c.Params("id")

	var req SendTextRequest
	if err := c.BodyParser(&req); err != nil || req.To == "" || req.Text == "" {
		return writeError(c, fiber.StatusBadRequest, "to and text are required")
	}

	messageID, err := h.registry.SendText(c.Context(), id, req.To, req.Text)
	if err != nil {
		return writeAppError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success": true,
		"data":    fiber.Map{"messageId": messageID},
	})
}
