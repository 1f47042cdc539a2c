package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/waconnect/waconnect-go/internal/session"
	"go.uber.org/zap"
)

// SessionHandler handles session lifecycle requests against the Session
// Supervisor's registry.
type SessionHandler struct {
	registry *session.Registry
	logger   *zap.SugaredLogger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(registry *session.Registry, logger *zap.SugaredLogger) *SessionHandler {
	return &SessionHandler{registry: registry, logger: logger}
}

// Init ensures a session exists and is connecting, creating it on first call.
func (h *SessionHandler) Init(c *fiber.Ctx) error {
	id := c.Params("id")

	sess, err := h.registry.Ensure(c.Context(), id)
	if err != nil {
		return writeAppError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success": true,
		"data":    fiber.Map{"status": sess.Summary().Status},
	})
}

// List returns a summary of every registered session.
func (h *SessionHandler) List(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"success": true,
		"data":    h.registry.List(),
	})
}

// Get returns a session's summary plus its computed actual status.
func (h *SessionHandler) Get(c *fiber.Ctx) error {
	id := c.Params("id")

	sess, ok := h.registry.Get(id)
	if !ok {
		return writeError(c, fiber.StatusNotFound, "session not found")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"summary":      sess.Summary(),
			"actualStatus": sess.ActualStatus(),
		},
	})
}

// GetQR returns the session's current pairing QR, 404 if none is pending.
func (h *SessionHandler) GetQR(c *fiber.Ctx) error {
	id := c.Params("id")

	sess, ok := h.registry.Get(id)
	if !ok {
		return writeError(c, fiber.StatusNotFound, "session not found")
	}

	qr, generatedAt := sess.QR()
	if qr == "" {
		return writeError(c, fiber.StatusNotFound, "QR code not available")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    fiber.Map{"qr": qr, "generatedAt": generatedAt},
	})
}

// Restart tears down and re-establishes the session's connection.
func (h *SessionHandler) Restart(c *fiber.Ctx) error {
	id := c.Params("id")

	if err := h.registry.Restart(c.Context(), id); err != nil {
		return writeAppError(c, err)
	}

	return c.JSON(fiber.Map{"success": true, "message": "session restarting"})
}

// Delete logs the session out and erases its persisted credentials.
func (h *SessionHandler) Delete(c *fiber.Ctx) error {
	id := c.Params("id")

	if err := h.registry.Logout(c.Context(), id); err != nil {
		return writeAppError(c, err)
	}

	return c.JSON(fiber.Map{"success": true, "message": "session logged out"})
}

// PairingCodeRequest is the body of the pairing-code endpoint.
type PairingCodeRequest struct {
	Phone string `json:"phone"`
}

// PairingCode requests an alternate (non-QR) pairing code for a phone number.
func (h *SessionHandler) PairingCode(c *fiber.Ctx) error {
	id := c.Params("id")

	var req PairingCodeRequest
	if err := c.BodyParser(&req); err != nil || req.Phone == "" {
		return writeError(c, fiber.StatusBadRequest, "phone is required")
	}
	phone := strings.TrimPrefix(req.Phone, "+")

	code, err := h.registry.RequestPairingCode(c.Context(), id, phone)
	if err != nil {
		return writeAppError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    fiber.Map{"code": code},
	})
}
