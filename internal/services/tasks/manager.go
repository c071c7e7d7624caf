// Package tasks is the task lifecycle manager: it owns the open -> assigned ->
// completed state machine, applicant bookkeeping, and who may move a task
// along it. Every transition is one guarded store write; when the guard
// fails the task is re-read only to explain the failure.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kazilink/kazilink-api/internal/apperr"
	"github.com/kazilink/kazilink-api/internal/logging"
	"github.com/kazilink/kazilink-api/internal/models"
	"github.com/kazilink/kazilink-api/internal/realtime"
	"github.com/kazilink/kazilink-api/internal/repository"
	"github.com/kazilink/kazilink-api/internal/session"
)

const (
	maxTitleLen       = 200
	maxDescriptionLen = 5000
	maxSkills         = 20
)

type Manager struct {
	tasks  repository.TaskStore
	users  repository.UserStore
	notify realtime.Notifier
	log    *slog.Logger
	now    func() time.Time
}

func NewManager(tasks repository.TaskStore, users repository.UserStore, notify realtime.Notifier, log *slog.Logger) *Manager {
	if notify == nil {
		notify = realtime.Discard{}
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Manager{tasks: tasks, users: users, notify: notify, log: log, now: time.Now}
}

var (
	errTaskNotFound = apperr.NotFound("task_not_found", "Task not found")
	errUserNotFound = apperr.NotFound("user_not_found", "User not found")
	errTaskNotOpen  = apperr.Conflict("task_not_open", "Task is no longer available")
	errNotAssigned  = apperr.Conflict("task_not_assigned", "Task must be assigned before it can be marked complete")
)

type CreateInput struct {
	Title       string
	Description string
	Price       *float64
	Location    string
	Skills      []string
}

func (in *CreateInput) validate() apperr.FieldErrors {
	errs := apperr.FieldErrors{}
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.Location = strings.TrimSpace(in.Location)
	in.Skills = models.CleanList(in.Skills)

	checkText(errs, "title", in.Title, maxTitleLen)
	checkText(errs, "description", in.Description, maxDescriptionLen)
	checkText(errs, "location", in.Location, maxTitleLen)
	if in.Price == nil {
		errs.Add("price", "Price is required")
	} else {
		checkPrice(errs, *in.Price)
	}
	if len(in.Skills) > maxSkills {
		errs.Add("skills", fmt.Sprintf("At most %d skills", maxSkills))
	}
	return errs
}

func checkText(errs apperr.FieldErrors, field, v string, max int) {
	if v == "" {
		errs.Add(field, strings.ToUpper(field[:1])+field[1:]+" is required")
	} else if len(v) > max {
		errs.Add(field, fmt.Sprintf("At most %d characters", max))
	}
}

func checkPrice(errs apperr.FieldErrors, p float64) {
	if math.IsNaN(p) || math.IsInf(p, 0) || p < 0 {
		errs.Add("price", "Price must be a non-negative number")
	}
}

func (m *Manager) Create(ctx context.Context, actor session.Principal, in CreateInput) (*models.Task, error) {
	if actor.Role != models.RoleClient {
		return nil, apperr.Forbidden("forbidden", "Only clients can post tasks")
	}
	if errs := in.validate(); len(errs) > 0 {
		return nil, apperr.Validation("Validation error", errs)
	}

	t := &models.Task{
		Title:       in.Title,
		Description: in.Description,
		Price:       *in.Price,
		Location:    in.Location,
		Skills:      in.Skills,
		ClientID:    actor.ID,
	}
	if err := m.tasks.CreateTask(ctx, t); err != nil {
		return nil, apperr.Internal("Failed to create task", err)
	}

	m.log.Info("task created", "action", "task_created", "task_id", t.ID.String(), "client_id", actor.ID.String())
	m.notify.Notify(realtime.NewEvent(realtime.TaskCreated, t.ID, nil, map[string]any{
		"message":  actor.Name + " created a new task",
		"title":    t.Title,
		"clientId": actor.ID.String(),
	}))
	return t, nil
}

// Apply adds a youth worker to an open task's applicants. Applying twice is
// a Conflict (already_applied), never a second entry.
func (m *Manager) Apply(ctx context.Context, actor session.Principal, taskID uuid.UUID) (*models.Task, error) {
	if actor.Role != models.RoleYouth {
		return nil, apperr.Forbidden("forbidden", "Only youth can apply for tasks")
	}

	t, err := m.tasks.AddApplicant(ctx, taskID, actor.ID)
	if errors.Is(err, repository.ErrPrecondition) {
		return nil, m.explain(ctx, taskID, func(t *models.Task) error {
			if t.Status != models.TaskOpen {
				return errTaskNotOpen
			}
			return apperr.Conflict("already_applied", "You have already applied for this task")
		})
	}
	if err != nil {
		return nil, apperr.Internal("Failed to apply for task", err)
	}

	m.log.Info("task applied", "action", "task_applied", "task_id", taskID.String(), "user_id", actor.ID.String())
	client := t.ClientID
	m.notify.Notify(realtime.NewEvent(realtime.TaskApplied, t.ID, &client, map[string]any{
		"message":   actor.Name + " applied for your task",
		"taskTitle": t.Title,
	}))
	return t, nil
}

// AcceptApplicant assigns an existing applicant and clears the list.
func (m *Manager) AcceptApplicant(ctx context.Context, actor session.Principal, taskID, applicantID uuid.UUID) (*models.Task, error) {
	owner := actor.ID
	t, err := m.tasks.Assign(ctx, taskID, applicantID, repository.AssignGuard{ClientID: &owner, RequireApplicant: true})
	if errors.Is(err, repository.ErrPrecondition) {
		return nil, m.explain(ctx, taskID, func(t *models.Task) error {
			if t.ClientID != actor.ID {
				return apperr.Forbidden("forbidden", "Not authorized to accept applicants for this task")
			}
			if t.Status != models.TaskOpen {
				return errTaskNotOpen
			}
			return apperr.Conflict("not_an_applicant", "Applicant not found for this task")
		})
	}
	if err != nil {
		return nil, apperr.Internal("Failed to accept applicant", err)
	}

	m.assigned(t, actor)
	return t, nil
}

// Assign hands an open task directly to a youth user. The task's client or
// an admin may do this; the target need not have applied.
func (m *Manager) Assign(ctx context.Context, actor session.Principal, taskID, userID uuid.UUID) (*models.Task, error) {
	current, err := m.tasks.GetTask(ctx, taskID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, errTaskNotFound
	}
	if err != nil {
		return nil, apperr.Internal("Failed to assign task", err)
	}
	if !actor.IsAdmin() && current.ClientID != actor.ID {
		return nil, apperr.Forbidden("forbidden", "Not authorized to assign this task")
	}

	target, err := m.users.GetUser(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, errUserNotFound
	}
	if err != nil {
		return nil, apperr.Internal("Failed to assign task", err)
	}
	if target.Role != models.RoleYouth || !target.IsActive {
		return nil, apperr.Validation("Only active youth users can be assigned", apperr.FieldErrors{"userId": {"must be an active youth user"}})
	}

	guard := repository.AssignGuard{}
	if !actor.IsAdmin() {
		owner := actor.ID
		guard.ClientID = &owner
	}
	t, err := m.tasks.Assign(ctx, taskID, userID, guard)
	if errors.Is(err, repository.ErrPrecondition) {
		return nil, m.explain(ctx, taskID, func(*models.Task) error { return errTaskNotOpen })
	}
	if err != nil {
		return nil, apperr.Internal("Failed to assign task", err)
	}

	m.assigned(t, actor)
	return t, nil
}

func (m *Manager) assigned(t *models.Task, actor session.Principal) {
	m.log.Info("task assigned", "action", "task_assigned", "task_id", t.ID.String(), "assigned_to", t.AssignedTo.String(), "by", actor.ID.String())
	m.notify.Notify(realtime.NewEvent(realtime.TaskAssigned, t.ID, t.AssignedTo, map[string]any{
		"message":    "You were assigned to task: " + t.Title,
		"clientName": actor.Name,
	}))
}

// Complete is called by the assigned worker. The worker's completed-task
// counter moves with the status change, so it counts each task once.
func (m *Manager) Complete(ctx context.Context, actor session.Principal, taskID uuid.UUID) (*models.Task, error) {
	t, err := m.tasks.CompleteByWorker(ctx, taskID, actor.ID, m.now().UTC())
	if errors.Is(err, repository.ErrPrecondition) {
		return nil, m.explain(ctx, taskID, func(t *models.Task) error {
			if t.AssignedTo == nil {
				return errNotAssigned
			}
			if *t.AssignedTo != actor.ID {
				return apperr.Forbidden("forbidden", "Not authorized to complete this task")
			}
			return errNotAssigned
		})
	}
	if err != nil {
		return nil, apperr.Internal("Failed to complete task", err)
	}

	m.log.Info("task completed by worker", "action", "task_completed", "task_id", taskID.String(), "by", actor.ID.String())
	client := t.ClientID
	m.notify.Notify(realtime.NewEvent(realtime.TaskCompleted, t.ID, &client, map[string]any{
		"message":     fmt.Sprintf("Task %s was marked as completed by %s", t.Title, actor.Name),
		"completedBy": actor.ID.String(),
	}))
	return t, nil
}

func (m *Manager) CompleteByClient(ctx context.Context, actor session.Principal, taskID uuid.UUID) (*models.Task, error) {
	t, err := m.tasks.CompleteByClient(ctx, taskID, actor.ID, m.now().UTC())
	if errors.Is(err, repository.ErrPrecondition) {
		return nil, m.explain(ctx, taskID, func(t *models.Task) error {
			if t.ClientID != actor.ID {
				return apperr.Forbidden("forbidden", "Not authorized to complete this task")
			}
			return errNotAssigned
		})
	}
	if err != nil {
		return nil, apperr.Internal("Failed to complete task", err)
	}

	m.log.Info("task completed by client", "action", "task_completed", "task_id", taskID.String(), "by", actor.ID.String())
	m.notify.Notify(realtime.NewEvent(realtime.TaskCompleted, t.ID, t.AssignedTo, map[string]any{
		"message":     fmt.Sprintf("Task %s was marked as completed by the client", t.Title),
		"completedBy": actor.ID.String(),
	}))
	return t, nil
}

// Update changes the editable fields of an open task owned by actor.
func (m *Manager) Update(ctx context.Context, actor session.Principal, taskID uuid.UUID, patch models.TaskPatch) (*models.Task, error) {
	if errs := validatePatch(&patch); len(errs) > 0 {
		return nil, apperr.Validation("Validation error", errs)
	}

	t, err := m.tasks.UpdateOpen(ctx, taskID, actor.ID, patch)
	if errors.Is(err, repository.ErrPrecondition) {
		return nil, m.explain(ctx, taskID, func(t *models.Task) error {
			if t.ClientID != actor.ID {
				return apperr.Forbidden("forbidden", "Not authorized to update this task")
			}
			return apperr.Conflict("task_not_open", "Cannot update a task that is already assigned or completed")
		})
	}
	if err != nil {
		return nil, apperr.Internal("Failed to update task", err)
	}
	return t, nil
}

func validatePatch(p *models.TaskPatch) apperr.FieldErrors {
	errs := apperr.FieldErrors{}
	if p.Empty() {
		errs.Add("body", "No updatable fields supplied")
		return errs
	}
	trim := func(field string, v *string, max int) {
		if v == nil {
			return
		}
		*v = strings.TrimSpace(*v)
		checkText(errs, field, *v, max)
	}
	trim("title", p.Title, maxTitleLen)
	trim("description", p.Description, maxDescriptionLen)
	trim("location", p.Location, maxTitleLen)
	if p.Price != nil {
		checkPrice(errs, *p.Price)
	}
	if p.Skills != nil {
		cleaned := models.CleanList(*p.Skills)
		p.Skills = &cleaned
		if len(cleaned) > maxSkills {
			errs.Add("skills", fmt.Sprintf("At most %d skills", maxSkills))
		}
	}
	return errs
}

// Delete removes a task. Clients may delete their own open tasks; admins may
// delete any task.
func (m *Manager) Delete(ctx context.Context, actor session.Principal, taskID uuid.UUID) error {
	if actor.IsAdmin() {
		return m.AdminDelete(ctx, actor, taskID)
	}
	err := m.tasks.DeleteOpen(ctx, taskID, actor.ID)
	if errors.Is(err, repository.ErrPrecondition) {
		return m.explain(ctx, taskID, func(t *models.Task) error {
			if t.ClientID != actor.ID {
				return apperr.Forbidden("forbidden", "Not authorized to delete this task")
			}
			return apperr.Conflict("task_not_open", "Cannot delete a task that is already assigned or completed")
		})
	}
	if err != nil {
		return apperr.Internal("Failed to delete task", err)
	}
	m.log.Info("task deleted", "action", "task_deleted", "task_id", taskID.String(), "by", actor.ID.String())
	return nil
}

func (m *Manager) AdminDelete(ctx context.Context, actor session.Principal, taskID uuid.UUID) error {
	if !actor.IsAdmin() {
		return apperr.Forbidden("admin_required", "Access denied. Admin role required.")
	}
	err := m.tasks.Delete(ctx, taskID)
	if errors.Is(err, repository.ErrNotFound) {
		return errTaskNotFound
	}
	if err != nil {
		return apperr.Internal("Failed to delete task", err)
	}
	m.log.Info("task deleted by admin", "action", "task_admin_deleted", "task_id", taskID.String(), "by", actor.ID.String())
	return nil
}

// explain re-reads the task after a failed guard and maps it to the error
// the caller should see. A vanished task is always NotFound.
func (m *Manager) explain(ctx context.Context, taskID uuid.UUID, why func(*models.Task) error) error {
	t, err := m.tasks.GetTask(ctx, taskID)
	if errors.Is(err, repository.ErrNotFound) {
		return errTaskNotFound
	}
	if err != nil {
		return apperr.Internal("Failed to load task", err)
	}
	return why(t)
}

func (m *Manager) Get(ctx context.Context, taskID uuid.UUID) (models.TaskView, error) {
	t, err := m.tasks.GetTask(ctx, taskID)
	if errors.Is(err, repository.ErrNotFound) {
		return models.TaskView{}, errTaskNotFound
	}
	if err != nil {
		return models.TaskView{}, apperr.Internal("Failed to fetch task", err)
	}
	views, err := m.views(ctx, []models.Task{*t}, true)
	if err != nil {
		return models.TaskView{}, err
	}
	return views[0], nil
}

// View resolves participants for a single task already in hand.
func (m *Manager) View(ctx context.Context, t *models.Task) (models.TaskView, error) {
	views, err := m.views(ctx, []models.Task{*t}, true)
	if err != nil {
		return models.TaskView{}, err
	}
	return views[0], nil
}

func (m *Manager) List(ctx context.Context, f models.TaskFilter, withApplicants bool) ([]models.TaskView, error) {
	tasks, err := m.tasks.ListTasks(ctx, f)
	if err != nil {
		return nil, apperr.Internal("Failed to fetch tasks", err)
	}
	return m.views(ctx, tasks, withApplicants)
}

func (m *Manager) views(ctx context.Context, tasks []models.Task, withApplicants bool) ([]models.TaskView, error) {
	users, err := m.users.GetUsers(ctx, models.ParticipantIDs(tasks, withApplicants))
	if err != nil {
		return nil, apperr.Internal("Failed to resolve task participants", err)
	}
	out := make([]models.TaskView, 0, len(tasks))
	for i := range tasks {
		out = append(out, models.NewTaskView(&tasks[i], users, withApplicants))
	}
	return out, nil
}

// Stats summarizes the platform for the admin dashboard.
func (m *Manager) Stats(ctx context.Context) (models.Stats, error) {
	total, active, err := m.users.CountUsers(ctx)
	if err != nil {
		return models.Stats{}, apperr.Internal("Failed to fetch statistics", err)
	}
	c, err := m.tasks.CountTasks(ctx)
	if err != nil {
		return models.Stats{}, apperr.Internal("Failed to fetch statistics", err)
	}
	s := models.Stats{
		TotalUsers:     total,
		ActiveUsers:    active,
		TotalTasks:     c.Total,
		OpenTasks:      c.Open,
		AssignedTasks:  c.Assigned,
		CompletedTasks: c.Completed,
	}
	if c.Total > 0 {
		s.CompletionRate = math.Round(float64(c.Completed)/float64(c.Total)*1000) / 10
	}
	return s, nil
}
