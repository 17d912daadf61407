package transport

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/campaign-engine/internal/observability"
	"go.uber.org/zap"
)

const internalErrorMessage = "internal server error"

// ErrorHandler renders every error as {"error": message}. Messages of
// unexpected failures are replaced so storage and broker details never leak.
func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		message := internalErrorMessage

		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			code = fiberErr.Code
			if code < fiber.StatusInternalServerError {
				message = fiberErr.Message
			}
		}

		log := observability.WithContextLogger(logger, c.UserContext()).With(
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", code),
			zap.Error(err),
		)
		if code >= fiber.StatusInternalServerError {
			log.Error("request error")
		} else {
			log.Debug("request rejected")
		}

		return c.Status(code).JSON(fiber.Map{
			"error": message,
		})
	}
}
