package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/example/busticket/internal/services"
)

// ErrorHandler renders every error returned by a handler as {error, code}.
func ErrorHandler(log *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var authErr *services.AuthError
		if errors.As(err, &authErr) {
			body := fiber.Map{
				"error": authErr.Message,
				"code":  authErr.Code,
			}
			if authErr.AttemptsRemaining != nil {
				body["attemptsRemaining"] = *authErr.AttemptsRemaining
			}
			return c.Status(authErr.Status).JSON(body)
		}

		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) && fiberErr.Code < fiber.StatusInternalServerError {
			return c.Status(fiberErr.Code).JSON(fiber.Map{
				"error": fiberErr.Message,
				"code":  codeForStatus(fiberErr.Code),
			})
		}

		log.Error("request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err))

		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Internal server error",
			"code":  services.ServerErrorCode,
		})
	}
}

func codeForStatus(status int) string {
	switch status {
	case fiber.StatusNotFound:
		return "NOT_FOUND"
	case fiber.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case fiber.StatusUnauthorized:
		return "UNAUTHORIZED"
	case fiber.StatusTooManyRequests:
		return "RATE_LIMITED"
	default:
		return "BAD_REQUEST"
	}
}
