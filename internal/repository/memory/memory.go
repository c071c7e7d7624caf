// Package memory implements the repository ports in process. Each
// conditional write checks its guard and mutates under one lock, matching the
// single-statement semantics of gormstore.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/kazilink/kazilink-api/internal/models"
	"github.com/kazilink/kazilink-api/internal/repository"
)

// Store holds users, tasks and chat messages behind one mutex so the
// worker-completion path can update a task and a user atomically.
type Store struct {
	mu       sync.RWMutex
	users    map[uuid.UUID]models.User
	tasks    map[uuid.UUID]models.Task
	messages map[string]models.ChatMessage
	now      func() time.Time
}

func NewStore() *Store {
	return &Store{
		users:    make(map[uuid.UUID]models.User),
		tasks:    make(map[uuid.UUID]models.Task),
		messages: make(map[string]models.ChatMessage),
		now:      time.Now,
	}
}

var (
	_ repository.UserStore = (*Store)(nil)
	_ repository.TaskStore = (*Store)(nil)
	_ repository.ChatStore = (*Store)(nil)
)

func alive(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// users

func (s *Store) emailTaken(email string, except uuid.UUID) bool {
	for id, u := range s.users {
		if id != except && u.Email == email {
			return true
		}
	}
	return false
}

func (s *Store) providerTaken(pid string, except uuid.UUID) bool {
	for id, u := range s.users {
		if id != except && u.ProviderID != nil && *u.ProviderID == pid {
			return true
		}
	}
	return false
}

func (s *Store) insertUserLocked(u *models.User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	u.Email = models.NormalizeEmail(u.Email)
	u.IsActive = true
	if s.emailTaken(u.Email, u.ID) {
		return repository.ErrDuplicate
	}
	if u.ProviderID != nil && s.providerTaken(*u.ProviderID, u.ID) {
		return repository.ErrDuplicate
	}
	now := s.now()
	u.CreatedAt, u.UpdatedAt = now, now
	s.users[u.ID] = u.Clone()
	return nil
}

func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	if err := alive(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertUserLocked(u)
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	if err := alive(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := u.Clone()
	return &c, nil
}

func (s *Store) findUser(match func(models.User) bool) (*models.User, error) {
	for _, u := range s.users {
		if match(u) {
			c := u.Clone()
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	if err := alive(ctx); err != nil {
		return nil, err
	}
	email = models.NormalizeEmail(email)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findUser(func(u models.User) bool { return u.Email == email })
}

func (s *Store) GetUserByProviderID(ctx context.Context, providerID string) (*models.User, error) {
	if err := alive(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findUser(func(u models.User) bool { return u.ProviderID != nil && *u.ProviderID == providerID })
}

func (s *Store) GetUsers(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.User, error) {
	if err := alive(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[uuid.UUID]*models.User, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			c := u.Clone()
			out[id] = &c
		}
	}
	return out, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	if err := alive(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ensureUser(ctx context.Context, u *models.User, match func(models.User) bool) (*models.User, bool, error) {
	if err := alive(ctx); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, err := s.findUser(match); err == nil {
		return existing, false, nil
	}
	if err := s.insertUserLocked(u); err != nil {
		return nil, false, err
	}
	c := s.users[u.ID].Clone()
	return &c, true, nil
}

func (s *Store) EnsureUserByProvider(ctx context.Context, u *models.User) (*models.User, bool, error) {
	if u.ProviderID == nil || *u.ProviderID == "" {
		return nil, false, repository.ErrPrecondition
	}
	pid := *u.ProviderID
	return s.ensureUser(ctx, u, func(x models.User) bool { return x.ProviderID != nil && *x.ProviderID == pid })
}

func (s *Store) EnsureUserByEmail(ctx context.Context, u *models.User) (*models.User, bool, error) {
	email := models.NormalizeEmail(u.Email)
	return s.ensureUser(ctx, u, func(x models.User) bool { return x.Email == email })
}

func (s *Store) mutateUser(ctx context.Context, id uuid.UUID, fn func(*models.User) error) (*models.User, error) {
	if err := alive(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if err := fn(&u); err != nil {
		return nil, err
	}
	u.UpdatedAt = s.now()
	s.users[id] = u
	c := u.Clone()
	return &c, nil
}

func (s *Store) UpdateProfile(ctx context.Context, id uuid.UUID, patch models.ProfilePatch) (*models.User, error) {
	return s.mutateUser(ctx, id, func(u *models.User) error {
		patch.Apply(u)
		return nil
	})
}

func (s *Store) SetEmailVerified(ctx context.Context, id uuid.UUID) error {
	_, err := s.mutateUser(ctx, id, func(u *models.User) error {
		u.IsEmailVerified = true
		return nil
	})
	return err
}

func (s *Store) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	_, err := s.mutateUser(ctx, id, func(u *models.User) error {
		u.IsActive = active
		return nil
	})
	return err
}

func (s *Store) SetPasswordHash(ctx context.Context, id uuid.UUID, hash string) error {
	_, err := s.mutateUser(ctx, id, func(u *models.User) error {
		u.PasswordHash = hash
		return nil
	})
	return err
}

func (s *Store) LinkProvider(ctx context.Context, id uuid.UUID, providerID string) error {
	_, err := s.mutateUser(ctx, id, func(u *models.User) error {
		if s.providerTaken(providerID, id) {
			return repository.ErrDuplicate
		}
		u.ProviderID = &providerID
		return nil
	})
	return err
}

func (s *Store) CountUsers(ctx context.Context) (int64, int64, error) {
	if err := alive(ctx); err != nil {
		return 0, 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total, active int64
	for _, u := range s.users {
		total++
		if u.IsActive {
			active++
		}
	}
	return total, active, nil
}

// tasks

func (s *Store) CreateTask(ctx context.Context, t *models.Task) error {
	if err := alive(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if _, dup := s.tasks[t.ID]; dup {
		return repository.ErrDuplicate
	}
	if t.Applicants == nil {
		t.Applicants = pq.StringArray{}
	}
	t.Status = models.TaskOpen
	t.AssignedTo = nil
	now := s.now()
	t.CreatedAt, t.UpdatedAt = now, now
	s.tasks[t.ID] = t.Clone()
	return nil
}

func (s *Store) GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	if err := alive(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := t.Clone()
	return &c, nil
}

func (s *Store) ListTasks(ctx context.Context, f models.TaskFilter) ([]models.Task, error) {
	if err := alive(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Task
	for _, t := range s.tasks {
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.ClientID != nil && t.ClientID != *f.ClientID {
			continue
		}
		if f.AssignedTo != nil && (t.AssignedTo == nil || *t.AssignedTo != *f.AssignedTo) {
			continue
		}
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// guarded applies mutate to the task only when guard holds, under the write lock.
func (s *Store) guarded(ctx context.Context, id uuid.UUID, guard func(*models.Task) bool, mutate func(*models.Task)) (*models.Task, error) {
	if err := alive(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.guardedLocked(id, guard, mutate)
}

func (s *Store) guardedLocked(id uuid.UUID, guard func(*models.Task) bool, mutate func(*models.Task)) (*models.Task, error) {
	t, ok := s.tasks[id]
	if !ok || !guard(&t) {
		return nil, repository.ErrPrecondition
	}
	t = t.Clone()
	mutate(&t)
	t.UpdatedAt = s.now()
	s.tasks[id] = t
	c := t.Clone()
	return &c, nil
}

func (s *Store) AddApplicant(ctx context.Context, id, worker uuid.UUID) (*models.Task, error) {
	return s.guarded(ctx, id,
		func(t *models.Task) bool { return t.Status == models.TaskOpen && !t.HasApplicant(worker) },
		func(t *models.Task) { t.Applicants = append(t.Applicants, worker.String()) })
}

func (s *Store) Assign(ctx context.Context, id, worker uuid.UUID, g repository.AssignGuard) (*models.Task, error) {
	return s.guarded(ctx, id,
		func(t *models.Task) bool {
			if t.Status != models.TaskOpen {
				return false
			}
			if g.ClientID != nil && t.ClientID != *g.ClientID {
				return false
			}
			return !g.RequireApplicant || t.HasApplicant(worker)
		},
		func(t *models.Task) {
			w := worker
			t.Status = models.TaskAssigned
			t.AssignedTo = &w
			t.Applicants = pq.StringArray{}
		})
}

func complete(at time.Time) func(*models.Task) {
	return func(t *models.Task) {
		ts := at
		t.Status = models.TaskCompleted
		t.CompletedAt = &ts
	}
}

func (s *Store) CompleteByWorker(ctx context.Context, id, worker uuid.UUID, at time.Time) (*models.Task, error) {
	if err := alive(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.guardedLocked(id,
		func(t *models.Task) bool {
			return t.Status == models.TaskAssigned && t.AssignedTo != nil && *t.AssignedTo == worker
		},
		complete(at))
	if err != nil {
		return nil, err
	}
	if u, ok := s.users[worker]; ok {
		u.CompletedTasks++
		s.users[worker] = u
	}
	return t, nil
}

func (s *Store) CompleteByClient(ctx context.Context, id, client uuid.UUID, at time.Time) (*models.Task, error) {
	return s.guarded(ctx, id,
		func(t *models.Task) bool { return t.Status == models.TaskAssigned && t.ClientID == client },
		complete(at))
}

func (s *Store) UpdateOpen(ctx context.Context, id, client uuid.UUID, patch models.TaskPatch) (*models.Task, error) {
	return s.guarded(ctx, id,
		func(t *models.Task) bool { return t.Status == models.TaskOpen && t.ClientID == client },
		patch.Apply)
}

func (s *Store) DeleteOpen(ctx context.Context, id, client uuid.UUID) error {
	if err := alive(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || t.Status != models.TaskOpen || t.ClientID != client {
		return repository.ErrPrecondition
	}
	delete(s.tasks, id)
	return nil
}

func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	if err := alive(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.tasks, id)
	return nil
}

func (s *Store) CountTasks(ctx context.Context) (repository.TaskCounts, error) {
	if err := alive(ctx); err != nil {
		return repository.TaskCounts{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var c repository.TaskCounts
	for _, t := range s.tasks {
		c.Total++
		switch t.Status {
		case models.TaskOpen:
			c.Open++
		case models.TaskAssigned:
			c.Assigned++
		case models.TaskCompleted:
			c.Completed++
		}
	}
	return c, nil
}

// chat

func (s *Store) InsertMessage(ctx context.Context, m *models.ChatMessage) (bool, error) {
	if err := alive(ctx); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[m.ExternalID]; ok {
		return false, nil
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	s.messages[m.ExternalID] = *m
	return true, nil
}

func (s *Store) ListByTask(ctx context.Context, taskID string) ([]models.ChatMessage, error) {
	if err := alive(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ChatMessage
	for _, m := range s.messages {
		if m.TaskID == taskID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// SetClock replaces the time source used for CreatedAt/UpdatedAt.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}
