package gormstore

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kazilink/kazilink-api/internal/models"
	"github.com/kazilink/kazilink-api/internal/repository"
)

type UserStore struct {
	db *gorm.DB
}

func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

var _ repository.UserStore = (*UserStore)(nil)

func prepareUser(u *models.User) {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	u.Email = models.NormalizeEmail(u.Email)
	u.IsActive = true
}

func (s *UserStore) CreateUser(ctx context.Context, u *models.User) error {
	prepareUser(u)
	return translate(s.db.WithContext(ctx).Create(u).Error)
}

func (s *UserStore) first(ctx context.Context, query string, arg any) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).Where(query, arg).First(&u).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (s *UserStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.first(ctx, "id = ?", id)
}

func (s *UserStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.first(ctx, "email = ?", models.NormalizeEmail(email))
}

func (s *UserStore) GetUserByProviderID(ctx context.Context, providerID string) (*models.User, error) {
	return s.first(ctx, "provider_id = ?", providerID)
}

func (s *UserStore) GetUsers(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.User, error) {
	out := make(map[uuid.UUID]*models.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var users []models.User
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, err
	}
	for i := range users {
		out[users[i].ID] = &users[i]
	}
	return out, nil
}

func (s *UserStore) ListUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := s.db.WithContext(ctx).Order("created_at DESC").Find(&users).Error
	return users, err
}

func (s *UserStore) ensure(ctx context.Context, u *models.User, column, lookup string, arg any) (*models.User, bool, error) {
	prepareUser(u)
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: column}}, DoNothing: true}).
		Create(u)
	if res.Error != nil {
		return nil, false, translate(res.Error)
	}
	stored, err := s.first(ctx, lookup, arg)
	if err != nil {
		return nil, false, err
	}
	return stored, res.RowsAffected == 1, nil
}

func (s *UserStore) EnsureUserByProvider(ctx context.Context, u *models.User) (*models.User, bool, error) {
	if u.ProviderID == nil || *u.ProviderID == "" {
		return nil, false, repository.ErrPrecondition
	}
	return s.ensure(ctx, u, "provider_id", "provider_id = ?", *u.ProviderID)
}

func (s *UserStore) EnsureUserByEmail(ctx context.Context, u *models.User) (*models.User, bool, error) {
	email := models.NormalizeEmail(u.Email)
	return s.ensure(ctx, u, "email", "email = ?", email)
}

func (s *UserStore) UpdateProfile(ctx context.Context, id uuid.UUID, patch models.ProfilePatch) (*models.User, error) {
	if !patch.Empty() {
		res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(patch.Columns())
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			return nil, repository.ErrNotFound
		}
	}
	return s.GetUser(ctx, id)
}

func (s *UserStore) update(ctx context.Context, id uuid.UUID, column string, value any) error {
	res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Update(column, value)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *UserStore) SetEmailVerified(ctx context.Context, id uuid.UUID) error {
	return s.update(ctx, id, "is_email_verified", true)
}

func (s *UserStore) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	return s.update(ctx, id, "is_active", active)
}

func (s *UserStore) SetPasswordHash(ctx context.Context, id uuid.UUID, hash string) error {
	return s.update(ctx, id, "password_hash", hash)
}

func (s *UserStore) LinkProvider(ctx context.Context, id uuid.UUID, providerID string) error {
	return s.update(ctx, id, "provider_id", providerID)
}

func (s *UserStore) CountUsers(ctx context.Context) (int64, int64, error) {
	var total, active int64
	q := s.db.WithContext(ctx).Model(&models.User{})
	if err := q.Count(&total).Error; err != nil {
		return 0, 0, err
	}
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("is_active = ?", true).Count(&active).Error; err != nil {
		return 0, 0, err
	}
	return total, active, nil
}
