package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazilink/kazilink-api/internal/apperr"
	"github.com/kazilink/kazilink-api/internal/models"
	"github.com/kazilink/kazilink-api/internal/repository/memory"
	"github.com/kazilink/kazilink-api/internal/session"
)

func statusOf(c *fiber.Ctx, err error) error {
	return c.Status(apperr.As(err).Status()).SendString(apperr.As(err).Code)
}

func TestAuthenticateAndRoles(t *testing.T) {
	store := memory.NewStore()
	gw := session.NewGateway(session.NewLocalSession("k", 60), store)
	youth := &models.User{Name: "Y", Email: "y@example.com", Role: models.RoleYouth}
	require.NoError(t, store.CreateUser(context.Background(), youth))
	token, err := gw.Issue(youth)
	require.NoError(t, err)

	app := fiber.New(fiber.Config{ErrorHandler: statusOf})
	app.Get("/youth", Authenticate(gw), RequireRoles(models.RoleYouth), func(c *fiber.Ctx) error {
		p, err := Principal(c)
		if err != nil {
			return err
		}
		assert.Equal(t, c.Locals("userId"), p.ID.String())
		return c.SendString(string(p.Role))
	})
	app.Get("/client", Authenticate(gw), RequireRoles(models.RoleClient), func(c *fiber.Ctx) error { return nil })
	app.Get("/admin", Authenticate(gw), RequireAdmin(), func(c *fiber.Ctx) error { return nil })

	tests := []struct {
		path   string
		token  string
		status int
	}{
		{"/youth", token, http.StatusOK},
		{"/youth", "", http.StatusUnauthorized},
		{"/client", token, http.StatusForbidden},
		{"/admin", token, http.StatusForbidden},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, tt.path, nil)
		if tt.token != "" {
			req.Header.Set("Authorization", "Bearer "+tt.token)
		}
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		assert.Equal(t, tt.status, resp.StatusCode, tt.path)
	}
}

func TestRequestTimeoutSetsDeadline(t *testing.T) {
	app := fiber.New()
	app.Get("/", RequestTimeout(time.Second), func(c *fiber.Ctx) error {
		deadline, ok := c.UserContext().Deadline()
		assert.True(t, ok)
		assert.WithinDuration(t, time.Now().Add(time.Second), deadline, time.Second)
		return c.SendStatus(http.StatusNoContent)
	})
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}
