package auth

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// UserContextKey is the Fiber locals key holding the verified user id.
const UserContextKey = "userID"

// Credential extracts the bearer credential from a handshake or request:
// the "token" query parameter first, then an Authorization: Bearer header.
func Credential(c *fiber.Ctx) string {
	if token := c.Query("token"); token != "" {
		return token
	}
	header := c.Get(fiber.HeaderAuthorization)
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// Middleware rejects requests without a valid credential and stores the
// verified user id under UserContextKey.
func Middleware(v *Verifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, err := v.Verify(Credential(c))
		if err != nil {
			msg := "Invalid or expired token"
			if errors.Is(err, ErrMissingToken) {
				msg = "Token is required"
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "unauthorized",
				"message": msg,
			})
		}
		c.Locals(UserContextKey, userID)
		return c.Next()
	}
}

// UserID returns the id stored by Middleware.
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(UserContextKey).(string)
	return id
}
