package session

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kazilink/kazilink-api/internal/apperr"
	"github.com/kazilink/kazilink-api/internal/logging"
	"github.com/kazilink/kazilink-api/internal/models"
	"github.com/kazilink/kazilink-api/internal/repository"
)

// Principal is the identity attached to an authenticated request. It never
// carries credential material.
type Principal struct {
	ID              uuid.UUID
	Name            string
	Email           string
	Role            models.Role
	IsEmailVerified bool
}

func (p Principal) IsAdmin() bool { return p.Role == models.RoleAdmin }

func PrincipalOf(u *models.User) Principal {
	return Principal{
		ID:              u.ID,
		Name:            u.Name,
		Email:           u.Email,
		Role:            u.Role,
		IsEmailVerified: u.IsEmailVerified,
	}
}

// Gateway turns a raw credential into a Principal backed by a user record.
type Gateway struct {
	strategy      Strategy
	users         repository.UserStore
	autoProvision bool
	log           *slog.Logger
}

type Option func(*Gateway)

// WithAutoProvision lets a federated gateway create the user record on the
// first valid provider token. The insert is keyed on the provider id.
func WithAutoProvision(on bool) Option {
	return func(g *Gateway) { g.autoProvision = on }
}

func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.log = l }
}

func NewGateway(strategy Strategy, users repository.UserStore, opts ...Option) *Gateway {
	g := &Gateway{strategy: strategy, users: users, log: logging.Discard()}
	for _, o := range opts {
		o(g)
	}
	return g
}

func (g *Gateway) Strategy() Strategy { return g.strategy }

// Issue mints a session credential for u with the configured strategy.
func (g *Gateway) Issue(u *models.User) (string, error) {
	return g.strategy.Issue(u)
}

func (g *Gateway) Resolve(ctx context.Context, token string, carrier Carrier) (Principal, error) {
	if token == "" {
		return Principal{}, apperr.AuthRequired("Authorization header or cookie missing or invalid")
	}

	a, err := g.strategy.Verify(token)
	if err != nil {
		g.log.Warn("credential rejected",
			"action", verifyAction(err),
			"strategy", g.strategy.Name(),
			"carrier", string(carrier),
			logging.Err(err))
		return Principal{}, apperr.InvalidCredential(err)
	}

	u, err := g.lookup(ctx, a)
	if errors.Is(err, repository.ErrNotFound) {
		g.log.Warn("credential subject has no user record",
			"action", "user_not_found", "strategy", g.strategy.Name(), "subject", a.Subject)
		return Principal{}, apperr.NotFound("user_not_found", "User not found")
	}
	if err != nil {
		return Principal{}, apperr.Internal("Failed to resolve session", err)
	}

	if !u.IsActive {
		g.log.Info("inactive account rejected", "action", "account_inactive", "user_id", u.ID.String())
		return Principal{}, apperr.Forbidden("account_inactive", "Account is deactivated")
	}
	return PrincipalOf(u), nil
}

func (g *Gateway) lookup(ctx context.Context, a Assertion) (*models.User, error) {
	if !g.strategy.Federated() {
		id, err := uuid.Parse(a.Subject)
		if err != nil {
			return nil, repository.ErrNotFound
		}
		return g.users.GetUser(ctx, id)
	}

	u, err := g.users.GetUserByProviderID(ctx, a.Subject)
	if !errors.Is(err, repository.ErrNotFound) || !g.autoProvision {
		return u, err
	}
	return g.Provision(ctx, a)
}

// Provision creates (or returns) the user for a verified provider assertion.
// Concurrent calls for the same subject yield one record.
func (g *Gateway) Provision(ctx context.Context, a Assertion) (*models.User, error) {
	if a.Email == "" {
		return nil, repository.ErrNotFound
	}
	pid := a.Subject
	name := a.Name
	if name == "" {
		name = a.Email
	}
	u, created, err := g.users.EnsureUserByProvider(ctx, &models.User{
		ProviderID:      &pid,
		Name:            name,
		Email:           a.Email,
		Role:            models.ParseRole(a.Role),
		IsEmailVerified: true,
	})
	if errors.Is(err, repository.ErrDuplicate) {
		return g.linkByEmail(ctx, a)
	}
	if err != nil {
		return nil, err
	}
	if created {
		g.log.Info("user provisioned from provider token", "action", "user_provisioned", "user_id", u.ID.String())
	}
	return u, nil
}

// linkByEmail attaches the provider id to a local account registered with
// the same email before the provider account existed.
func (g *Gateway) linkByEmail(ctx context.Context, a Assertion) (*models.User, error) {
	u, err := g.users.GetUserByEmail(ctx, a.Email)
	if err != nil {
		return nil, err
	}
	if u.ProviderID != nil && *u.ProviderID != a.Subject {
		return nil, repository.ErrDuplicate
	}
	if u.ProviderID == nil {
		if err := g.users.LinkProvider(ctx, u.ID, a.Subject); err != nil {
			return nil, err
		}
		pid := a.Subject
		u.ProviderID = &pid
		g.log.Info("provider id linked to existing account", "action", "provider_linked", "user_id", u.ID.String())
	}
	return u, nil
}

func verifyAction(err error) string {
	switch {
	case errors.Is(err, ErrExpired):
		return "token_expired"
	case errors.Is(err, ErrSignature):
		return "token_signature_invalid"
	case errors.Is(err, ErrMalformed):
		return "token_malformed"
	default:
		return "token_claims_invalid"
	}
}
