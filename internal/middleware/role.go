package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/kazilink/kazilink-api/internal/apperr"
	"github.com/kazilink/kazilink-api/internal/models"
)

func RequireRoles(allowed ...models.Role) fiber.Handler {
	allowedSet := map[models.Role]bool{}
	for _, r := range allowed {
		allowedSet[models.Role(strings.ToLower(string(r)))] = true
	}

	return func(c *fiber.Ctx) error {
		p, err := Principal(c)
		if err != nil {
			return err
		}
		if !allowedSet[p.Role] {
			return apperr.Forbidden("forbidden", "Insufficient role for this action")
		}
		return c.Next()
	}
}

func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := Principal(c)
		if err != nil {
			return err
		}
		if !p.IsAdmin() {
			return apperr.Forbidden("admin_required", "Access denied. Admin role required.")
		}
		return c.Next()
	}
}
