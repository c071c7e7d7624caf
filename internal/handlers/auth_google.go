package handlers

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/kazilink/kazilink-api/internal/logging"
	"github.com/kazilink/kazilink-api/internal/models"
	"github.com/kazilink/kazilink-api/internal/repository"
	"github.com/kazilink/kazilink-api/internal/session"
	"github.com/kazilink/kazilink-api/internal/utils"
)

const googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

type GoogleOAuthHandler struct {
	Users           repository.UserStore
	Gateway         *session.Gateway
	Expires         int
	Production      bool
	GoogleClientID  string
	GoogleSecret    string
	GoogleRedirect  string
	FrontendBaseURL string
	Log             *slog.Logger

	// Endpoint overrides Google's OAuth endpoints when its TokenURL is set.
	Endpoint oauth2.Endpoint
	// UserInfo fetches the profile for an exchanged token; nil uses Google.
	UserInfo func(ctx context.Context, cfg *oauth2.Config, tok *oauth2.Token) (googleUserInfo, error)
}

func (h *GoogleOAuthHandler) oauthCfg() *oauth2.Config {
	ep := h.Endpoint
	if ep.TokenURL == "" {
		ep = google.Endpoint
	}
	return &oauth2.Config{
		ClientID:     h.GoogleClientID,
		ClientSecret: h.GoogleSecret,
		RedirectURL:  h.GoogleRedirect,
		Endpoint:     ep,
		Scopes:       []string{"openid", "email", "profile"},
	}
}

func randomState(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

func (h *GoogleOAuthHandler) tempCookie(name, value string, maxAge int) *fiber.Cookie {
	return &fiber.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HTTPOnly: true,
		Secure:   h.Production,
		SameSite: fiber.CookieSameSiteLaxMode,
		MaxAge:   maxAge,
	}
}

// redirectError sends the browser back to the login page with a message.
func (h *GoogleOAuthHandler) redirectError(c *fiber.Ctx, msg string) error {
	return c.Redirect(h.FrontendBaseURL+"/login?err="+url.QueryEscape(msg), http.StatusTemporaryRedirect)
}

func (h *GoogleOAuthHandler) GoogleStart(c *fiber.Ctx) error {
	next := c.Query("next", "/")
	st := randomState(32)

	c.Cookie(h.tempCookie("oauth_state", st, 10*60))
	c.Cookie(h.tempCookie("oauth_next", next, 10*60))

	return c.Redirect(h.oauthCfg().AuthCodeURL(st, oauth2.AccessTypeOffline), http.StatusTemporaryRedirect)
}

type googleUserInfo struct {
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

func fetchGoogleUser(ctx context.Context, cfg *oauth2.Config, tok *oauth2.Token) (googleUserInfo, error) {
	var gu googleUserInfo
	resp, err := cfg.Client(ctx, tok).Get(googleUserInfoURL)
	if err != nil {
		return gu, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return gu, errors.New("userinfo: " + resp.Status)
	}
	err = json.NewDecoder(resp.Body).Decode(&gu)
	return gu, err
}

func (h *GoogleOAuthHandler) GoogleCallback(c *fiber.Ctx) error {
	log := h.Log
	if log == nil {
		log = logging.Discard()
	}
	code := c.Query("code")
	state := c.Query("state")
	if code == "" || state == "" {
		return h.redirectError(c, "Missing code or state")
	}

	if st := c.Cookies("oauth_state"); st == "" || st != state {
		log.Warn("oauth state mismatch", "action", "google_state_mismatch")
		return h.redirectError(c, "Invalid sign-in state")
	}
	next := c.Cookies("oauth_next")
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") {
		next = "/"
	}

	ctx := c.UserContext()
	cfg := h.oauthCfg()
	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		log.Warn("oauth exchange failed", "action", "google_exchange_failed", logging.Err(err))
		return h.redirectError(c, "Google sign-in failed")
	}

	fetch := h.UserInfo
	if fetch == nil {
		fetch = fetchGoogleUser
	}
	gu, err := fetch(ctx, cfg, tok)
	if err != nil {
		log.Warn("google userinfo failed", "action", "google_userinfo_failed", logging.Err(err))
		return h.redirectError(c, "Google sign-in failed")
	}

	email := models.NormalizeEmail(gu.Email)
	if email == "" {
		return h.redirectError(c, "Email not provided by Google")
	}
	// An unverified address must not sign into or create the account that owns it.
	if !gu.VerifiedEmail {
		log.Warn("google email not verified", "action", "google_email_unverified", "email", email)
		return h.redirectError(c, "Google email is not verified")
	}
	name := strings.TrimSpace(gu.Name)
	if name == "" {
		name = email
	}

	// The password is random and never used for password login.
	hashed, err := utils.HashPassword(randomState(24))
	if err != nil {
		return h.redirectError(c, "Google sign-in failed")
	}
	u, created, err := h.Users.EnsureUserByEmail(ctx, &models.User{
		Name:            name,
		Email:           email,
		PasswordHash:    hashed,
		Role:            models.RoleClient,
		ProfilePicture:  gu.Picture,
		IsEmailVerified: true,
	})
	if err != nil {
		log.Error("google user upsert failed", "action", "google_upsert_failed", logging.Err(err))
		return h.redirectError(c, "Google sign-in failed")
	}
	if created {
		log.Info("user created from google", "action", "user_registered", "user_id", u.ID.String(), "via", "google")
	}
	if !u.IsActive {
		return h.redirectError(c, "Account is deactivated")
	}

	token, err := h.Gateway.Issue(u)
	if err != nil {
		log.Error("google session issue failed", "action", "google_session_failed", logging.Err(err))
		return h.redirectError(c, "Google sign-in failed")
	}
	c.Cookie(sessionCookie(token, h.Expires*60, h.Production))
	c.Cookie(h.tempCookie("oauth_state", "", -1))
	c.Cookie(h.tempCookie("oauth_next", "", -1))

	return c.Redirect(h.FrontendBaseURL+next, http.StatusTemporaryRedirect)
}
