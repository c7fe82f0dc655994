package middleware

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/example/busticket/internal/models"
)

const userContextKey = "currentUser"

// Authenticator resolves an Authorization header value to a user.
type Authenticator interface {
	AuthenticateHeader(ctx context.Context, header string) (*models.User, error)
}

// AuthMiddleware validates the bearer token and loads the authenticated user into context.
func AuthMiddleware(auth Authenticator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user, err := auth.AuthenticateHeader(c.UserContext(), c.Get(fiber.HeaderAuthorization))
		if err != nil {
			return err
		}

		c.Locals(userContextKey, user)
		return c.Next()
	}
}

// GetCurrentUser extracts the authenticated user from context.
func GetCurrentUser(c *fiber.Ctx) (*models.User, bool) {
	user, ok := c.Locals(userContextKey).(*models.User)
	if !ok || user == nil {
		return nil, false
	}
	return user, true
}
