package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type Role string

const (
	RoleClient Role = "client"
	RoleYouth  Role = "youth"
	RoleAdmin  Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleClient || r == RoleYouth || r == RoleAdmin
}

// ParseRole normalizes user input; empty or unknown values fall back to client.
// Admin is never accepted from public input.
func ParseRole(s string) Role {
	if Role(strings.ToLower(strings.TrimSpace(s))) == RoleYouth {
		return RoleYouth
	}
	return RoleClient
}

const MaxBioLength = 500

type User struct {
	ID         uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ProviderID *string   `gorm:"type:varchar(64);uniqueIndex" json:"providerId,omitempty"`

	Name         string `gorm:"not null" json:"name"`
	Email        string `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string `json:"-"`
	Role         Role   `gorm:"type:varchar(20);not null;index" json:"role"`

	Location       string         `json:"location"`
	Skills         pq.StringArray `gorm:"type:text[]" json:"skills"`
	Phone          string         `gorm:"type:varchar(30)" json:"phone"`
	ProfilePicture string         `json:"profilePicture"`
	Bio            string         `gorm:"type:varchar(500)" json:"bio"`

	IsEmailVerified bool    `gorm:"default:false" json:"isEmailVerified"`
	Rating          float64 `gorm:"default:0" json:"rating"`
	CompletedTasks  int     `gorm:"default:0" json:"completedTasks"`
	IsActive        bool    `gorm:"default:true" json:"isActive"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NormalizeEmail is applied before every insert and lookup so the unique
// index behaves case-insensitively.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// UserView is the safe projection returned to callers.
type UserView struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	Email           string    `json:"email"`
	Role            Role      `json:"role"`
	Location        string    `json:"location"`
	Skills          []string  `json:"skills"`
	Phone           string    `json:"phone"`
	ProfilePicture  string    `json:"profilePicture"`
	Bio             string    `json:"bio"`
	IsEmailVerified bool      `json:"isEmailVerified"`
	Rating          float64   `json:"rating"`
	CompletedTasks  int       `json:"completedTasks"`
	IsActive        bool      `json:"isActive"`
	CreatedAt       time.Time `json:"createdAt"`
}

func (u *User) View() UserView {
	skills := []string(u.Skills)
	if skills == nil {
		skills = []string{}
	}
	return UserView{
		ID:              u.ID,
		Name:            u.Name,
		Email:           u.Email,
		Role:            u.Role,
		Location:        u.Location,
		Skills:          skills,
		Phone:           u.Phone,
		ProfilePicture:  u.ProfilePicture,
		Bio:             u.Bio,
		IsEmailVerified: u.IsEmailVerified,
		Rating:          u.Rating,
		CompletedTasks:  u.CompletedTasks,
		IsActive:        u.IsActive,
		CreatedAt:       u.CreatedAt,
	}
}

// UserBrief is embedded in task listings.
type UserBrief struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	Location       string    `json:"location,omitempty"`
	Rating         float64   `json:"rating"`
	ProfilePicture string    `json:"profilePicture,omitempty"`
}

func (u *User) Brief() *UserBrief {
	if u == nil {
		return nil
	}
	return &UserBrief{
		ID:             u.ID,
		Name:           u.Name,
		Email:          u.Email,
		Location:       u.Location,
		Rating:         u.Rating,
		ProfilePicture: u.ProfilePicture,
	}
}

// Clone returns a deep copy; the in-memory store hands out copies only.
func (u User) Clone() User {
	if u.ProviderID != nil {
		p := *u.ProviderID
		u.ProviderID = &p
	}
	if u.Skills != nil {
		u.Skills = append(pq.StringArray(nil), u.Skills...)
	}
	return u
}

// CleanList trims entries and drops empty ones.
func CleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ProfilePatch holds the self-service profile fields. Nil means unchanged.
type ProfilePatch struct {
	Name           *string
	Location       *string
	Skills         *[]string
	Phone          *string
	Bio            *string
	ProfilePicture *string
}

func (p ProfilePatch) Empty() bool {
	return p.Name == nil && p.Location == nil && p.Skills == nil && p.Phone == nil && p.Bio == nil && p.ProfilePicture == nil
}

func (p ProfilePatch) Columns() map[string]any {
	cols := map[string]any{}
	if p.Name != nil {
		cols["name"] = *p.Name
	}
	if p.Location != nil {
		cols["location"] = *p.Location
	}
	if p.Skills != nil {
		cols["skills"] = pq.StringArray(*p.Skills)
	}
	if p.Phone != nil {
		cols["phone"] = *p.Phone
	}
	if p.Bio != nil {
		cols["bio"] = *p.Bio
	}
	if p.ProfilePicture != nil {
		cols["profile_picture"] = *p.ProfilePicture
	}
	return cols
}

func (p ProfilePatch) Apply(u *User) {
	if p.Name != nil {
		u.Name = *p.Name
	}
	if p.Location != nil {
		u.Location = *p.Location
	}
	if p.Skills != nil {
		u.Skills = append(pq.StringArray(nil), (*p.Skills)...)
	}
	if p.Phone != nil {
		u.Phone = *p.Phone
	}
	if p.Bio != nil {
		u.Bio = *p.Bio
	}
	if p.ProfilePicture != nil {
		u.ProfilePicture = *p.ProfilePicture
	}
}
