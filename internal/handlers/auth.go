package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/kazilink/kazilink-api/internal/apperr"
	"github.com/kazilink/kazilink-api/internal/logging"
	"github.com/kazilink/kazilink-api/internal/middleware"
	"github.com/kazilink/kazilink-api/internal/models"
	"github.com/kazilink/kazilink-api/internal/repository"
	"github.com/kazilink/kazilink-api/internal/services/identity"
	"github.com/kazilink/kazilink-api/internal/session"
	"github.com/kazilink/kazilink-api/internal/utils"
)

const minPasswordLen = 6

// IdentityProvider is the subset of the provider API the auth routes use.
type IdentityProvider interface {
	SignUp(ctx context.Context, email, password string, meta map[string]any) (*identity.ProviderUser, error)
	VerifyOTP(ctx context.Context, typ identity.OTPType, email, token string) (*identity.ProviderUser, error)
	ResendSignup(ctx context.Context, email string) error
	Recover(ctx context.Context, email, redirectTo string) error
	UpdatePassword(ctx context.Context, providerUserID, password string) error
}

type AuthHandler struct {
	Users   repository.UserStore
	Gateway *session.Gateway
	// Provider verifies identity-provider access tokens for createProfile.
	// Nil when the provider's signing secret is not configured.
	Provider        session.Strategy
	IDP             IdentityProvider
	Expires         int
	Production      bool
	FrontendBaseURL string
	Log             *slog.Logger
}

func (h *AuthHandler) logger() *slog.Logger {
	if h.Log == nil {
		return logging.Discard()
	}
	return h.Log
}

// idpError maps a provider failure: refusals are the caller's problem,
// everything else is upstream.
func idpError(err error) error {
	if errors.Is(err, identity.ErrNotConfigured) {
		return apperr.Upstream("Identity provider not configured", err)
	}
	if e, ok := identity.Rejected(err); ok {
		return apperr.Validation(e.Message, nil)
	}
	return apperr.Upstream("Identity provider unavailable", err)
}

func (h *AuthHandler) setSession(c *fiber.Ctx, u *models.User) (string, error) {
	token, err := h.Gateway.Issue(u)
	if err != nil {
		return "", err
	}
	c.Cookie(sessionCookie(token, h.Expires*60, h.Production))
	return token, nil
}

type RegisterReq struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Phone    string `json:"phone"`
	Location string `json:"location"`
	Role     string `json:"role"` // client / youth; admin is never accepted here
}

func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req RegisterReq
	if err := c.BodyParser(&req); err != nil {
		return invalidBody()
	}

	name := strings.TrimSpace(req.Name)
	email := models.NormalizeEmail(req.Email)
	phone := strings.TrimSpace(req.Phone)
	password := strings.TrimSpace(req.Password)
	role := models.ParseRole(req.Role)

	errs := apperr.FieldErrors{}
	if name == "" {
		errs.Add("name", "Name is required")
	}
	if email == "" {
		errs.Add("email", "Email is required")
	} else if !strings.Contains(email, "@") {
		errs.Add("email", "Invalid email format")
	}
	if password == "" {
		errs.Add("password", "Password is required")
	} else if len(password) < minPasswordLen {
		errs.Add("password", "Password must be at least 6 characters")
	}
	if phone != "" && len(phone) < 8 {
		errs.Add("phone", "Invalid phone number")
	}
	if len(errs) > 0 {
		return apperr.Validation("Validation error", errs)
	}

	ctx := c.UserContext()
	if _, err := h.Users.GetUserByEmail(ctx, email); err == nil {
		return apperr.Validation("Validation error", apperr.FieldErrors{"email": {"Email is already registered"}})
	} else if !errors.Is(err, repository.ErrNotFound) {
		return apperr.Internal("Registration failed", err)
	}

	u := &models.User{
		Name:     name,
		Email:    email,
		Role:     role,
		Phone:    phone,
		Location: strings.TrimSpace(req.Location),
	}

	pu, err := h.IDP.SignUp(ctx, email, password, map[string]any{"name": name, "role": string(role)})
	switch {
	case errors.Is(err, identity.ErrNotConfigured):
		// local-only deployment: nobody can deliver a verification mail
		u.IsEmailVerified = true
		h.logger().Warn("identity provider not configured, registering verified local account",
			"action", "register_local_only", "email", email)
	case err != nil:
		return idpError(err)
	case pu.ID != "":
		pid := pu.ID
		u.ProviderID = &pid
	}

	if u.PasswordHash, err = utils.HashPassword(password); err != nil {
		return apperr.Internal("Failed to process password", err)
	}
	if err := h.Users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return apperr.Validation("Validation error", apperr.FieldErrors{"email": {"Email is already registered"}})
		}
		return apperr.Internal("Registration failed", err)
	}

	h.logger().Info("user registered", "action", "user_registered", "user_id", u.ID.String(), "role", string(u.Role))
	msg := "User registered successfully. Please check your email for verification."
	if u.IsEmailVerified {
		msg = "User registered successfully."
	}
	return ok(c, fiber.StatusCreated, msg, fiber.Map{"user": u.View()})
}

// Verify confirms the signup token from the verification mail.
func (h *AuthHandler) Verify(c *fiber.Ctx) error {
	token := strings.TrimSpace(c.Query("token"))
	email := models.NormalizeEmail(c.Query("email"))
	if token == "" {
		return apperr.Validation("Verification token required", apperr.FieldErrors{"token": {"required"}})
	}

	ctx := c.UserContext()
	pu, err := h.IDP.VerifyOTP(ctx, identity.OTPSignup, email, token)
	if err != nil {
		return idpError(err)
	}

	u, err := h.Users.GetUserByProviderID(ctx, pu.ID)
	if errors.Is(err, repository.ErrNotFound) {
		u, err = h.Users.GetUserByEmail(ctx, models.NormalizeEmail(pu.Email))
		if err == nil && u.ProviderID == nil && pu.ID != "" {
			err = h.Users.LinkProvider(ctx, u.ID, pu.ID)
		}
	}
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound("user_not_found", "User not found")
	}
	if err != nil {
		return apperr.Internal("Verification failed", err)
	}

	if err := h.Users.SetEmailVerified(ctx, u.ID); err != nil {
		return apperr.Internal("Verification failed", err)
	}
	h.logger().Info("email verified", "action", "email_verified", "user_id", u.ID.String())
	return ok(c, fiber.StatusOK, "Email verified successfully. You can now log in.", nil)
}

type LoginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req LoginReq
	if err := c.BodyParser(&req); err != nil {
		return invalidBody()
	}

	email := models.NormalizeEmail(req.Email)
	password := strings.TrimSpace(req.Password)

	errs := apperr.FieldErrors{}
	if email == "" {
		errs.Add("email", "Email is required")
	}
	if password == "" {
		errs.Add("password", "Password is required")
	}
	if len(errs) > 0 {
		return apperr.Validation("Validation error", errs)
	}

	badCredentials := apperr.New(apperr.KindAuthRequired, "invalid_credential", "Invalid credentials")
	u, err := h.Users.GetUserByEmail(c.UserContext(), email)
	if errors.Is(err, repository.ErrNotFound) {
		return badCredentials
	}
	if err != nil {
		return apperr.Internal("Login failed", err)
	}
	if !utils.CheckPassword(u.PasswordHash, password) {
		h.logger().Info("login rejected", "action", "login_failed", "user_id", u.ID.String())
		return badCredentials
	}
	if !u.IsActive {
		return apperr.Forbidden("account_inactive", "Account is deactivated")
	}
	if !u.IsEmailVerified {
		return apperr.Forbidden("email_not_verified", "Please verify your email before logging in")
	}

	token, err := h.setSession(c, u)
	if errors.Is(err, session.ErrUnsupported) {
		return apperr.Forbidden("session_unsupported", "Sign in through the identity provider")
	}
	if err != nil {
		return apperr.Internal("Failed to create session", err)
	}

	h.logger().Info("user logged in", "action", "user_login", "user_id", u.ID.String())
	return ok(c, fiber.StatusOK, "Login successful", fiber.Map{
		"token": token,
		"user":  u.View(),
	})
}

func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	c.Cookie(sessionCookie("", -1, h.Production))
	return ok(c, fiber.StatusOK, "Logged out successfully", nil)
}

type CreateProfileReq struct {
	Name     string          `json:"name"`
	Role     string          `json:"role"`
	Location string          `json:"location"`
	Phone    string          `json:"phone"`
	Skills   json.RawMessage `json:"skills"`
}

// CreateProfile turns a provider access token into a local profile. Calling
// it again for the same provider account returns the same profile.
func (h *AuthHandler) CreateProfile(c *fiber.Ctx) error {
	if h.Provider == nil {
		return apperr.Upstream("Identity provider not configured", identity.ErrNotConfigured)
	}
	token, carrier := session.Extract(c.Get(fiber.HeaderAuthorization), "", "")
	if carrier != session.CarrierBearer {
		return apperr.AuthRequired("Provider access token required")
	}

	a, err := h.Provider.Verify(token)
	if err != nil {
		h.logger().Warn("provider token rejected", "action", "create_profile_rejected", logging.Err(err))
		return apperr.InvalidCredential(err)
	}

	var req CreateProfileReq
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return invalidBody()
		}
	}
	if name := strings.TrimSpace(req.Name); name != "" && a.Name == "" {
		a.Name = name
	}
	if req.Role != "" && a.Role == "" {
		a.Role = req.Role
	}

	ctx := c.UserContext()
	u, err := h.Gateway.Provision(ctx, a)
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.Validation("Provider token carries no email", apperr.FieldErrors{"email": {"required"}})
	}
	if errors.Is(err, repository.ErrDuplicate) {
		return apperr.Conflict("email_taken", "Email is linked to another account")
	}
	if err != nil {
		return apperr.Internal("Failed to create profile", err)
	}

	patch := models.ProfilePatch{}
	if v := strings.TrimSpace(req.Location); v != "" {
		patch.Location = &v
	}
	if v := strings.TrimSpace(req.Phone); v != "" {
		patch.Phone = &v
	}
	if skills, perr := parseSkills(req.Skills); perr != nil {
		return perr
	} else if skills != nil && len(*skills) > 0 {
		patch.Skills = skills
	}
	if !patch.Empty() {
		if u, err = h.Users.UpdateProfile(ctx, u.ID, patch); err != nil {
			return apperr.Internal("Failed to create profile", err)
		}
	}

	if _, err := h.setSession(c, u); err != nil && !errors.Is(err, session.ErrUnsupported) {
		return apperr.Internal("Failed to create session", err)
	}
	return ok(c, fiber.StatusOK, "Profile ready", fiber.Map{"user": u.View()})
}

func (h *AuthHandler) Me(c *fiber.Ctx) error {
	p, err := middleware.Principal(c)
	if err != nil {
		return err
	}
	u, err := h.Users.GetUser(c.UserContext(), p.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound("user_not_found", "User not found")
	}
	if err != nil {
		return apperr.Internal("Failed to fetch user profile", err)
	}
	return ok(c, fiber.StatusOK, "OK", u.View())
}

type UpdateMeReq struct {
	Name           *string         `json:"name"`
	Location       *string         `json:"location"`
	Skills         json.RawMessage `json:"skills"`
	Phone          *string         `json:"phone"`
	Bio            *string         `json:"bio"`
	ProfilePicture *string         `json:"profilePicture"`
}

// parseSkills accepts ["a","b"] or "a, b". Absent or null means unchanged.
func parseSkills(raw json.RawMessage) (*[]string, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return nil, nil
	}
	var list []string
	if strings.HasPrefix(s, `"`) {
		var csv string
		if err := json.Unmarshal(raw, &csv); err != nil {
			return nil, apperr.Validation("Validation error", apperr.FieldErrors{"skills": {"must be a list or a comma separated string"}})
		}
		list = strings.Split(csv, ",")
	} else if err := json.Unmarshal(raw, &list); err != nil {
		return nil, apperr.Validation("Validation error", apperr.FieldErrors{"skills": {"must be a list or a comma separated string"}})
	}
	cleaned := models.CleanList(list)
	return &cleaned, nil
}

func (h *AuthHandler) UpdateMe(c *fiber.Ctx) error {
	p, err := middleware.Principal(c)
	if err != nil {
		return err
	}
	var req UpdateMeReq
	if err := c.BodyParser(&req); err != nil {
		return invalidBody()
	}

	errs := apperr.FieldErrors{}
	patch := models.ProfilePatch{
		Location:       trimmed(req.Location),
		Phone:          trimmed(req.Phone),
		Bio:            trimmed(req.Bio),
		ProfilePicture: trimmed(req.ProfilePicture),
	}
	if n := trimmed(req.Name); n != nil {
		if *n == "" {
			errs.Add("name", "Name cannot be empty")
		}
		patch.Name = n
	}
	if patch.Bio != nil && len([]rune(*patch.Bio)) > models.MaxBioLength {
		errs.Add("bio", "Bio must be at most 500 characters")
	}
	skills, err := parseSkills(req.Skills)
	if err != nil {
		return err
	}
	patch.Skills = skills
	if len(errs) > 0 {
		return apperr.Validation("Validation error", errs)
	}
	if patch.Empty() {
		return apperr.Validation("Validation error", apperr.FieldErrors{"body": {"No updatable fields supplied"}})
	}

	u, err := h.Users.UpdateProfile(c.UserContext(), p.ID, patch)
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound("user_not_found", "User not found")
	}
	if err != nil {
		return apperr.Internal("Failed to update profile", err)
	}
	return ok(c, fiber.StatusOK, "Profile updated", u.View())
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

type emailReq struct {
	Email string `json:"email"`
}

func (h *AuthHandler) userByEmail(c *fiber.Ctx) (*models.User, error) {
	var req emailReq
	if err := c.BodyParser(&req); err != nil {
		return nil, invalidBody()
	}
	email := models.NormalizeEmail(req.Email)
	if email == "" {
		return nil, apperr.Validation("Validation error", apperr.FieldErrors{"email": {"Email is required"}})
	}
	u, err := h.Users.GetUserByEmail(c.UserContext(), email)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("user_not_found", "User not found")
	}
	if err != nil {
		return nil, apperr.Internal("Failed to look up user", err)
	}
	return u, nil
}

func (h *AuthHandler) ResendVerification(c *fiber.Ctx) error {
	u, err := h.userByEmail(c)
	if err != nil {
		return err
	}
	if u.IsEmailVerified {
		return apperr.Conflict("already_verified", "Email already verified")
	}
	if err := h.IDP.ResendSignup(c.UserContext(), u.Email); err != nil {
		return idpError(err)
	}
	return ok(c, fiber.StatusOK, "Verification email sent successfully", nil)
}

func (h *AuthHandler) ForgotPassword(c *fiber.Ctx) error {
	u, err := h.userByEmail(c)
	if err != nil {
		return err
	}
	if err := h.IDP.Recover(c.UserContext(), u.Email, h.FrontendBaseURL+"/reset-password"); err != nil {
		return idpError(err)
	}
	return ok(c, fiber.StatusOK, "Password reset email sent successfully", nil)
}

type ResetPasswordReq struct {
	Email       string `json:"email"`
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

func (h *AuthHandler) ResetPassword(c *fiber.Ctx) error {
	var req ResetPasswordReq
	if err := c.BodyParser(&req); err != nil {
		return invalidBody()
	}
	email := models.NormalizeEmail(req.Email)
	token := strings.TrimSpace(req.Token)

	errs := apperr.FieldErrors{}
	if email == "" {
		errs.Add("email", "Email is required")
	}
	if token == "" {
		errs.Add("token", "Token is required")
	}
	if len(req.NewPassword) < minPasswordLen {
		errs.Add("newPassword", "Password must be at least 6 characters")
	}
	if len(errs) > 0 {
		return apperr.Validation("Validation error", errs)
	}

	ctx := c.UserContext()
	u, err := h.Users.GetUserByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound("user_not_found", "User not found")
	}
	if err != nil {
		return apperr.Internal("Failed to reset password", err)
	}
	if _, err := h.IDP.VerifyOTP(ctx, identity.OTPRecovery, email, token); err != nil {
		return idpError(err)
	}

	hash, err := utils.HashPassword(req.NewPassword)
	if err != nil {
		return apperr.Internal("Failed to process password", err)
	}
	if err := h.Users.SetPasswordHash(ctx, u.ID, hash); err != nil {
		return apperr.Internal("Failed to reset password", err)
	}

	if u.ProviderID != nil {
		if err := h.IDP.UpdatePassword(ctx, *u.ProviderID, req.NewPassword); err != nil {
			h.logger().Warn("provider password update failed", "action", "provider_password_sync_failed",
				"user_id", u.ID.String(), logging.Err(err))
		}
	}
	h.logger().Info("password reset", "action", "password_reset", "user_id", u.ID.String())
	return ok(c, fiber.StatusOK, "Password reset successfully", nil)
}

// PublicUser is the profile card other users may see.
func (h *AuthHandler) PublicUser(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return apperr.NotFound("user_not_found", "User not found")
	}
	u, err := h.Users.GetUser(c.UserContext(), id)
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound("user_not_found", "User not found")
	}
	if err != nil {
		return apperr.Internal("Failed to fetch user", err)
	}
	v := u.View()
	return ok(c, fiber.StatusOK, "OK", fiber.Map{
		"id":             v.ID,
		"name":           v.Name,
		"email":          v.Email,
		"profilePicture": v.ProfilePicture,
		"skills":         v.Skills,
		"location":       v.Location,
		"phone":          v.Phone,
		"rating":         v.Rating,
		"completedTasks": v.CompletedTasks,
	})
}
