package gormstore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kazilink/kazilink-api/internal/models"
	"github.com/kazilink/kazilink-api/internal/repository"
)

type TaskStore struct {
	db *gorm.DB
}

func NewTaskStore(db *gorm.DB) *TaskStore {
	return &TaskStore{db: db}
}

var _ repository.TaskStore = (*TaskStore)(nil)

func (s *TaskStore) CreateTask(ctx context.Context, t *models.Task) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Applicants == nil {
		t.Applicants = pq.StringArray{}
	}
	t.Status = models.TaskOpen
	t.AssignedTo = nil
	return translate(s.db.WithContext(ctx).Create(t).Error)
}

func (s *TaskStore) GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	var t models.Task
	if err := s.db.WithContext(ctx).First(&t, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &t, nil
}

func (s *TaskStore) ListTasks(ctx context.Context, f models.TaskFilter) ([]models.Task, error) {
	q := s.db.WithContext(ctx).Model(&models.Task{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.ClientID != nil {
		q = q.Where("client_id = ?", *f.ClientID)
	}
	if f.AssignedTo != nil {
		q = q.Where("assigned_to = ?", *f.AssignedTo)
	}
	var tasks []models.Task
	err := q.Order("created_at DESC").Find(&tasks).Error
	return tasks, err
}

// guarded runs UPDATE tasks SET cols WHERE id = ? AND <conds> RETURNING *.
func guarded(tx *gorm.DB, id uuid.UUID, cols map[string]any, conds func(*gorm.DB) *gorm.DB) (*models.Task, error) {
	var t models.Task
	cols["updated_at"] = time.Now()
	q := tx.Model(&t).Clauses(clause.Returning{}).Where("id = ?", id)
	res := conds(q).Updates(cols)
	if res.Error != nil {
		return nil, translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, repository.ErrPrecondition
	}
	return &t, nil
}

func (s *TaskStore) AddApplicant(ctx context.Context, id, worker uuid.UUID) (*models.Task, error) {
	w := worker.String()
	return guarded(s.db.WithContext(ctx), id,
		map[string]any{"applicants": gorm.Expr("array_append(applicants, ?)", w)},
		func(q *gorm.DB) *gorm.DB {
			return q.Where("status = ?", models.TaskOpen).Where("NOT (? = ANY(applicants))", w)
		})
}

func (s *TaskStore) Assign(ctx context.Context, id, worker uuid.UUID, g repository.AssignGuard) (*models.Task, error) {
	return guarded(s.db.WithContext(ctx), id,
		map[string]any{
			"status":      models.TaskAssigned,
			"assigned_to": worker,
			"applicants":  pq.StringArray{},
		},
		func(q *gorm.DB) *gorm.DB {
			q = q.Where("status = ?", models.TaskOpen)
			if g.ClientID != nil {
				q = q.Where("client_id = ?", *g.ClientID)
			}
			if g.RequireApplicant {
				q = q.Where("? = ANY(applicants)", worker.String())
			}
			return q
		})
}

func (s *TaskStore) CompleteByWorker(ctx context.Context, id, worker uuid.UUID, at time.Time) (*models.Task, error) {
	var done *models.Task
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := guarded(tx, id,
			map[string]any{"status": models.TaskCompleted, "completed_at": at},
			func(q *gorm.DB) *gorm.DB {
				return q.Where("status = ? AND assigned_to = ?", models.TaskAssigned, worker)
			})
		if err != nil {
			return err
		}
		res := tx.Model(&models.User{}).
			Where("id = ?", worker).
			Update("completed_tasks", gorm.Expr("completed_tasks + 1"))
		if res.Error != nil {
			return res.Error
		}
		done = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return done, nil
}

func (s *TaskStore) CompleteByClient(ctx context.Context, id, client uuid.UUID, at time.Time) (*models.Task, error) {
	return guarded(s.db.WithContext(ctx), id,
		map[string]any{"status": models.TaskCompleted, "completed_at": at},
		func(q *gorm.DB) *gorm.DB {
			return q.Where("status = ? AND client_id = ?", models.TaskAssigned, client)
		})
}

func (s *TaskStore) UpdateOpen(ctx context.Context, id, client uuid.UUID, patch models.TaskPatch) (*models.Task, error) {
	return guarded(s.db.WithContext(ctx), id, patch.Columns(),
		func(q *gorm.DB) *gorm.DB {
			return q.Where("status = ? AND client_id = ?", models.TaskOpen, client)
		})
}

func (s *TaskStore) DeleteOpen(ctx context.Context, id, client uuid.UUID) error {
	res := s.db.WithContext(ctx).
		Where("id = ? AND client_id = ? AND status = ?", id, client, models.TaskOpen).
		Delete(&models.Task{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repository.ErrPrecondition
	}
	return nil
}

func (s *TaskStore) Delete(ctx context.Context, id uuid.UUID) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Task{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *TaskStore) CountTasks(ctx context.Context) (repository.TaskCounts, error) {
	var rows []struct {
		Status models.TaskStatus
		N      int64
	}
	err := s.db.WithContext(ctx).Model(&models.Task{}).
		Select("status, count(*) AS n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return repository.TaskCounts{}, err
	}
	var c repository.TaskCounts
	for _, r := range rows {
		c.Total += r.N
		switch r.Status {
		case models.TaskOpen:
			c.Open = r.N
		case models.TaskAssigned:
			c.Assigned = r.N
		case models.TaskCompleted:
			c.Completed = r.N
		}
	}
	return c, nil
}
