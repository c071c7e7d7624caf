package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/kazilink/kazilink-api/internal/apperr"
	"github.com/kazilink/kazilink-api/internal/session"
)

// PrincipalKey is the Locals key holding the session.Principal.
const PrincipalKey = "principal"

// Authenticate resolves the request's credential through the gateway and
// attaches the caller. Locals "userId" and "role" stay available for
// handlers that only need the raw values.
func Authenticate(gw *session.Gateway) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, carrier := session.Extract(c.Get(fiber.HeaderAuthorization), c.Cookies(session.CookieName), c.Get(fiber.HeaderCookie))
		p, err := gw.Resolve(c.UserContext(), token, carrier)
		if err != nil {
			return err
		}

		c.Locals(PrincipalKey, p)
		c.Locals("userId", p.ID.String())
		c.Locals("role", string(p.Role))
		return c.Next()
	}
}

// Principal returns the caller attached by Authenticate.
func Principal(c *fiber.Ctx) (session.Principal, error) {
	p, ok := c.Locals(PrincipalKey).(session.Principal)
	if !ok {
		return session.Principal{}, apperr.AuthRequired("Authentication required")
	}
	return p, nil
}
