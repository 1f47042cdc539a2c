package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/waconnect/waconnect-go/internal/apperror"
)

// writeError writes a uniform {success, error} JSON body.
func writeError(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"error":   message,
	})
}

// writeAppError maps an apperror.Kind to its HTTP status per the gateway's
// error handling design and writes the uniform error body.
func writeAppError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError

	var kind apperror.Kind
	if e, ok := err.(*apperror.Error); ok {
		kind = e.Kind
	}

	switch kind {
	case apperror.KindSessionNotFound:
		status = fiber.StatusNotFound
	case apperror.KindValidation:
		status = fiber.StatusBadRequest
	case apperror.KindCredentialsInvalid:
		status = fiber.StatusConflict
	case apperror.KindAuth:
		status = fiber.StatusUnauthorized
	case apperror.KindConfig:
		status = fiber.StatusServiceUnavailable
	case apperror.KindTransport, apperror.KindStore, apperror.KindDelivery:
		status = fiber.StatusInternalServerError
	}

	return writeError(c, status, err.Error())
}
