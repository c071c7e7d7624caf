package middleware

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

// RequestTimeout bounds the context handed to stores and outbound calls.
func RequestTimeout(d time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), d)
		defer cancel()
		c.SetUserContext(ctx)
		return c.Next()
	}
}
