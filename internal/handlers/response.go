package handlers

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/kazilink/kazilink-api/internal/apperr"
	"github.com/kazilink/kazilink-api/internal/logging"
	"github.com/kazilink/kazilink-api/internal/session"
)

// ErrorHandler renders every failure as
// {"success":false,"error":...,"code":...,"errors":...}.
func ErrorHandler(log *slog.Logger) fiber.ErrorHandler {
	if log == nil {
		log = logging.Discard()
	}
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{
				"success": false,
				"error":   fe.Message,
				"code":    fiberCode(fe.Code),
			})
		}

		e := apperr.As(err)
		if e.Kind == apperr.KindInternal || e.Kind == apperr.KindUpstream {
			log.Error("request failed",
				"action", "request_failed",
				"method", c.Method(),
				"path", c.Path(),
				"code", e.Code,
				logging.Err(err))
		}
		body := fiber.Map{
			"success": false,
			"error":   e.Message,
			"code":    e.Code,
		}
		if len(e.Fields) > 0 {
			body["errors"] = e.Fields
		}
		return c.Status(e.Status()).JSON(body)
	}
}

func fiberCode(status int) string {
	switch status {
	case fiber.StatusNotFound:
		return "not_found"
	case fiber.StatusUnauthorized:
		return "auth_required"
	case fiber.StatusForbidden:
		return "forbidden"
	case fiber.StatusBadRequest, fiber.StatusRequestEntityTooLarge, fiber.StatusMethodNotAllowed:
		return "validation_failed"
	default:
		return "internal"
	}
}

func ok(c *fiber.Ctx, status int, msg string, data any) error {
	body := fiber.Map{"success": true, "message": msg}
	if data != nil {
		body["data"] = data
	}
	return c.Status(status).JSON(body)
}

func invalidBody() error {
	return apperr.Validation("Invalid request body", apperr.FieldErrors{"body": {"must be a JSON object"}})
}

func parseID(c *fiber.Ctx, param, code, what string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(c.Params(param)))
	if err != nil {
		return uuid.Nil, apperr.NotFound(code, what+" not found")
	}
	return id, nil
}

// sessionCookie builds the backendToken cookie; maxAge < 0 expires it.
func sessionCookie(value string, maxAge int, production bool) *fiber.Cookie {
	sameSite := fiber.CookieSameSiteLaxMode
	if production {
		sameSite = fiber.CookieSameSiteStrictMode
	}
	return &fiber.Cookie{
		Name:     session.CookieName,
		Value:    value,
		Path:     "/",
		HTTPOnly: true,
		Secure:   production,
		SameSite: sameSite,
		MaxAge:   maxAge,
	}
}
