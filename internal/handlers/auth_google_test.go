package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/kazilink/kazilink-api/internal/models"
	"github.com/kazilink/kazilink-api/internal/repository"
	"github.com/kazilink/kazilink-api/internal/repository/memory"
	"github.com/kazilink/kazilink-api/internal/session"
)

func newGoogleApp(t *testing.T, store *memory.Store, info googleUserInfo) *fiber.App {
	t.Helper()
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok","token_type":"Bearer","expires_in":3600}`))
	}))
	t.Cleanup(tokenSrv.Close)

	h := &GoogleOAuthHandler{
		Users:           store,
		Gateway:         session.NewGateway(session.NewLocalSession(testSecret, 60), store),
		Expires:         60,
		FrontendBaseURL: "http://localhost:3000",
		Endpoint: oauth2.Endpoint{
			AuthURL:   tokenSrv.URL + "/auth",
			TokenURL:  tokenSrv.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
		UserInfo: func(context.Context, *oauth2.Config, *oauth2.Token) (googleUserInfo, error) {
			return info, nil
		},
	}
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(nil)})
	app.Get("/api/auth/google/callback", h.GoogleCallback)
	return app
}

func googleCallback(t *testing.T, app *fiber.App) (location string, signedIn bool) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/auth/google/callback?code=c&state=s", nil)
	req.Header.Set("Cookie", "oauth_state=s; oauth_next=/dashboard")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusTemporaryRedirect, resp.StatusCode)
	for _, ck := range resp.Cookies() {
		if ck.Name == session.CookieName && ck.Value != "" {
			signedIn = true
		}
	}
	return resp.Header.Get("Location"), signedIn
}

func TestGoogleCallbackRefusesUnverifiedEmail(t *testing.T) {
	store := memory.NewStore()
	existing := &models.User{Name: "Owner", Email: "owner@example.com", Role: models.RoleClient, IsEmailVerified: true}
	require.NoError(t, store.CreateUser(context.Background(), existing))

	t.Run("existing account", func(t *testing.T) {
		app := newGoogleApp(t, store, googleUserInfo{Email: "Owner@example.com", VerifiedEmail: false, Name: "Mallory"})
		loc, gotSession := googleCallback(t, app)
		assert.True(t, strings.HasPrefix(loc, "http://localhost:3000/login?err="), loc)
		assert.False(t, gotSession)

		u, err := store.GetUserByEmail(context.Background(), "owner@example.com")
		require.NoError(t, err)
		assert.Equal(t, "Owner", u.Name)
	})

	t.Run("new account", func(t *testing.T) {
		app := newGoogleApp(t, store, googleUserInfo{Email: "nobody@example.com", VerifiedEmail: false})
		_, gotSession := googleCallback(t, app)
		assert.False(t, gotSession)

		_, err := store.GetUserByEmail(context.Background(), "nobody@example.com")
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})
}

func TestGoogleCallbackSignsInVerifiedEmail(t *testing.T) {
	store := memory.NewStore()
	existing := &models.User{Name: "Owner", Email: "owner@example.com", Role: models.RoleClient, IsEmailVerified: true}
	require.NoError(t, store.CreateUser(context.Background(), existing))

	app := newGoogleApp(t, store, googleUserInfo{Email: "owner@example.com", VerifiedEmail: true, Name: "Owner"})
	loc, gotSession := googleCallback(t, app)
	assert.Equal(t, "http://localhost:3000/dashboard", loc)
	assert.True(t, gotSession)

	total, _, err := store.CountUsers(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
}
