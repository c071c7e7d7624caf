// Package repository declares the storage ports used by the session gateway,
// the task lifecycle manager and chat sync. Implementations never leak driver
// errors for the cases below; they return these sentinels instead.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/kazilink/kazilink-api/internal/models"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
	// ErrPrecondition means a conditional write matched no row: the record is
	// missing or its current state does not satisfy the guard.
	ErrPrecondition = errors.New("precondition not met")
)

type UserStore interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByProviderID(ctx context.Context, providerID string) (*models.User, error)
	GetUsers(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)

	// EnsureUserByProvider inserts u unless a row with the same provider id
	// exists, then returns the stored row. created reports whether this call
	// inserted it. Safe under concurrent duplicate calls.
	EnsureUserByProvider(ctx context.Context, u *models.User) (stored *models.User, created bool, err error)
	// EnsureUserByEmail is the same, keyed on the normalized email.
	EnsureUserByEmail(ctx context.Context, u *models.User) (stored *models.User, created bool, err error)

	UpdateProfile(ctx context.Context, id uuid.UUID, patch models.ProfilePatch) (*models.User, error)
	SetEmailVerified(ctx context.Context, id uuid.UUID) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	SetPasswordHash(ctx context.Context, id uuid.UUID, hash string) error
	LinkProvider(ctx context.Context, id uuid.UUID, providerID string) error
	CountUsers(ctx context.Context) (total, active int64, err error)
}

// AssignGuard narrows a conditional assignment. The task must always be open.
type AssignGuard struct {
	// ClientID, when set, requires the task to be owned by this user.
	ClientID *uuid.UUID
	// RequireApplicant requires the worker to be in the applicant list.
	RequireApplicant bool
}

type TaskCounts struct {
	Total, Open, Assigned, Completed int64
}

// TaskStore expresses every lifecycle transition as one conditional write.
// A guard that does not hold yields ErrPrecondition and leaves the row as is.
type TaskStore interface {
	CreateTask(ctx context.Context, t *models.Task) error
	GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error)
	ListTasks(ctx context.Context, f models.TaskFilter) ([]models.Task, error)

	// AddApplicant appends worker when the task is open and worker has not applied.
	AddApplicant(ctx context.Context, id, worker uuid.UUID) (*models.Task, error)
	// Assign moves an open task to assigned and clears its applicants.
	Assign(ctx context.Context, id, worker uuid.UUID, g AssignGuard) (*models.Task, error)
	// CompleteByWorker completes an assigned task whose assignee is worker and
	// increments the worker's completed-task counter in the same transaction.
	CompleteByWorker(ctx context.Context, id, worker uuid.UUID, at time.Time) (*models.Task, error)
	// CompleteByClient completes an assigned task owned by client.
	CompleteByClient(ctx context.Context, id, client uuid.UUID, at time.Time) (*models.Task, error)
	// UpdateOpen applies patch to an open task owned by client.
	UpdateOpen(ctx context.Context, id, client uuid.UUID, patch models.TaskPatch) (*models.Task, error)
	// DeleteOpen removes an open task owned by client.
	DeleteOpen(ctx context.Context, id, client uuid.UUID) error
	// Delete removes a task in any state.
	Delete(ctx context.Context, id uuid.UUID) error

	CountTasks(ctx context.Context) (TaskCounts, error)
}

type ChatStore interface {
	// InsertMessage stores m unless its ExternalID is already present.
	InsertMessage(ctx context.Context, m *models.ChatMessage) (created bool, err error)
	ListByTask(ctx context.Context, taskID string) ([]models.ChatMessage, error)
}
