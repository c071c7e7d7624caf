package session

import (
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kazilink/kazilink-api/internal/models"
	"github.com/kazilink/kazilink-api/internal/utils"
)

var (
	ErrExpired     = errors.New("token expired")
	ErrMalformed   = errors.New("token malformed")
	ErrSignature   = errors.New("token signature invalid")
	ErrClaims      = errors.New("token claims invalid")
	ErrUnsupported = errors.New("operation not supported by session strategy")
)

// Assertion is what a verified credential says about its bearer.
type Assertion struct {
	// Subject is the internal user id for local sessions and the
	// provider's user id for federated sessions.
	Subject string
	Email   string
	Name    string
	Role    string
}

// Strategy is one way of issuing and verifying session credentials. The
// gateway depends on exactly one.
type Strategy interface {
	Name() string
	// Federated reports whether Subject is a provider id.
	Federated() bool
	Issue(u *models.User) (string, error)
	Verify(token string) (Assertion, error)
}

// classify folds jwt parse errors into the strategy sentinels.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrSignature
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformed
	default:
		return ErrClaims
	}
}

// LocalSession issues and verifies HS256 tokens signed with our own secret.
type LocalSession struct {
	secret     string
	expiresMin int
}

func NewLocalSession(secret string, expiresMin int) *LocalSession {
	return &LocalSession{secret: secret, expiresMin: expiresMin}
}

func (s *LocalSession) Name() string    { return "local" }
func (s *LocalSession) Federated() bool { return false }

func (s *LocalSession) Issue(u *models.User) (string, error) {
	return utils.SignJWT(s.secret, u.ID.String(), string(u.Role), s.expiresMin)
}

func (s *LocalSession) Verify(token string) (Assertion, error) {
	var c utils.Claims
	if err := utils.ParseHS256(s.secret, token, &c); err != nil {
		return Assertion{}, classify(err)
	}
	sub := strings.TrimSpace(c.UserID)
	if sub == "" {
		sub = c.Subject
	}
	if sub == "" {
		return Assertion{}, ErrClaims
	}
	return Assertion{Subject: sub, Role: strings.ToLower(c.Role)}, nil
}

// ProviderClaims is the access-token shape issued by the identity provider.
type ProviderClaims struct {
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
	jwt.RegisteredClaims
}

// FederatedSession verifies access tokens minted by the identity provider
// with its shared JWT secret. It cannot mint tokens itself.
type FederatedSession struct {
	secret string
}

func NewFederatedSession(secret string) *FederatedSession {
	return &FederatedSession{secret: secret}
}

func (s *FederatedSession) Name() string    { return "federated" }
func (s *FederatedSession) Federated() bool { return true }

func (s *FederatedSession) Issue(*models.User) (string, error) {
	return "", ErrUnsupported
}

func (s *FederatedSession) Verify(token string) (Assertion, error) {
	if s.secret == "" {
		return Assertion{}, ErrSignature
	}
	var c ProviderClaims
	if err := utils.ParseHS256(s.secret, token, &c); err != nil {
		return Assertion{}, classify(err)
	}
	if c.Subject == "" {
		return Assertion{}, ErrClaims
	}
	a := Assertion{Subject: c.Subject, Email: models.NormalizeEmail(c.Email)}
	if name, ok := c.UserMetadata["name"].(string); ok {
		a.Name = strings.TrimSpace(name)
	}
	if role, ok := c.UserMetadata["role"].(string); ok {
		a.Role = strings.ToLower(strings.TrimSpace(role))
	}
	return a, nil
}
