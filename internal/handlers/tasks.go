package handlers

import (
	"encoding/json"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/kazilink/kazilink-api/internal/apperr"
	"github.com/kazilink/kazilink-api/internal/middleware"
	"github.com/kazilink/kazilink-api/internal/models"
	"github.com/kazilink/kazilink-api/internal/services/tasks"
	"github.com/kazilink/kazilink-api/internal/session"
)

type TaskHandler struct {
	Tasks *tasks.Manager
}

func NewTaskHandler(m *tasks.Manager) *TaskHandler {
	return &TaskHandler{Tasks: m}
}

type TaskReq struct {
	Title       *string         `json:"title"`
	Description *string         `json:"description"`
	Price       *float64        `json:"price"`
	Location    *string         `json:"location"`
	Skills      json.RawMessage `json:"skills"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// respond renders a task with its participants resolved.
func (h *TaskHandler) respond(c *fiber.Ctx, status int, msg string, t *models.Task) error {
	v, err := h.Tasks.View(c.UserContext(), t)
	if err != nil {
		return err
	}
	return ok(c, status, msg, v)
}

func (h *TaskHandler) Create(c *fiber.Ctx) error {
	p, err := middleware.Principal(c)
	if err != nil {
		return err
	}
	var req TaskReq
	if err := c.BodyParser(&req); err != nil {
		return invalidBody()
	}
	skills, err := parseSkills(req.Skills)
	if err != nil {
		return err
	}
	in := tasks.CreateInput{
		Title:       deref(req.Title),
		Description: deref(req.Description),
		Price:       req.Price,
		Location:    deref(req.Location),
	}
	if skills != nil {
		in.Skills = *skills
	}

	t, err := h.Tasks.Create(c.UserContext(), p, in)
	if err != nil {
		return err
	}
	return h.respond(c, fiber.StatusCreated, "Task created", t)
}

func (h *TaskHandler) List(c *fiber.Ctx) error {
	f := models.TaskFilter{}
	errs := apperr.FieldErrors{}

	switch s := models.TaskStatus(strings.ToLower(strings.TrimSpace(c.Query("status")))); s {
	case "":
	case models.TaskOpen, models.TaskAssigned, models.TaskCompleted:
		f.Status = s
	default:
		errs.Add("status", "must be open, assigned or completed")
	}
	for _, q := range []struct {
		key string
		dst **uuid.UUID
	}{{"clientId", &f.ClientID}, {"assignedTo", &f.AssignedTo}} {
		raw := strings.TrimSpace(c.Query(q.key))
		if raw == "" {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			errs.Add(q.key, "must be a user id")
			continue
		}
		*q.dst = &id
	}
	if len(errs) > 0 {
		return apperr.Validation("Invalid filter", errs)
	}

	views, err := h.Tasks.List(c.UserContext(), f, false)
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, "OK", views)
}

func (h *TaskHandler) Get(c *fiber.Ctx) error {
	id, err := parseID(c, "id", "task_not_found", "Task")
	if err != nil {
		return err
	}
	v, err := h.Tasks.Get(c.UserContext(), id)
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, "OK", v)
}

// taskAction resolves the caller and the :id task before running fn.
func taskAction(c *fiber.Ctx, fn func(p session.Principal, id uuid.UUID) error) error {
	p, err := middleware.Principal(c)
	if err != nil {
		return err
	}
	id, err := parseID(c, "id", "task_not_found", "Task")
	if err != nil {
		return err
	}
	return fn(p, id)
}

func (h *TaskHandler) Update(c *fiber.Ctx) error {
	return taskAction(c, func(p session.Principal, id uuid.UUID) error {
		var req TaskReq
		if err := c.BodyParser(&req); err != nil {
			return invalidBody()
		}
		skills, err := parseSkills(req.Skills)
		if err != nil {
			return err
		}
		patch := models.TaskPatch{
			Title:       req.Title,
			Description: req.Description,
			Price:       req.Price,
			Location:    req.Location,
			Skills:      skills,
		}
		t, err := h.Tasks.Update(c.UserContext(), p, id, patch)
		if err != nil {
			return err
		}
		return h.respond(c, fiber.StatusOK, "Task updated", t)
	})
}

// Apply is PATCH /:id/accept: a youth worker accepts to do the task.
func (h *TaskHandler) Apply(c *fiber.Ctx) error {
	return taskAction(c, func(p session.Principal, id uuid.UUID) error {
		t, err := h.Tasks.Apply(c.UserContext(), p, id)
		if err != nil {
			return err
		}
		return h.respond(c, fiber.StatusOK, "Successfully applied for task", t)
	})
}

type acceptApplicantReq struct {
	ApplicantID string `json:"applicantId"`
}

func (h *TaskHandler) AcceptApplicant(c *fiber.Ctx) error {
	return taskAction(c, func(p session.Principal, id uuid.UUID) error {
		var req acceptApplicantReq
		if err := c.BodyParser(&req); err != nil {
			return invalidBody()
		}
		if strings.TrimSpace(req.ApplicantID) == "" {
			return apperr.Validation("Applicant ID required", apperr.FieldErrors{"applicantId": {"required"}})
		}
		applicant, err := uuid.Parse(strings.TrimSpace(req.ApplicantID))
		if err != nil {
			return apperr.Conflict("not_an_applicant", "Applicant not found for this task")
		}
		t, err := h.Tasks.AcceptApplicant(c.UserContext(), p, id, applicant)
		if err != nil {
			return err
		}
		return h.respond(c, fiber.StatusOK, "Applicant accepted successfully", t)
	})
}

func (h *TaskHandler) Assign(c *fiber.Ctx) error {
	return taskAction(c, func(p session.Principal, id uuid.UUID) error {
		userID, err := parseID(c, "userId", "user_not_found", "User")
		if err != nil {
			return err
		}
		t, err := h.Tasks.Assign(c.UserContext(), p, id, userID)
		if err != nil {
			return err
		}
		return h.respond(c, fiber.StatusOK, "Task assigned successfully", t)
	})
}

func (h *TaskHandler) Complete(c *fiber.Ctx) error {
	return taskAction(c, func(p session.Principal, id uuid.UUID) error {
		t, err := h.Tasks.Complete(c.UserContext(), p, id)
		if err != nil {
			return err
		}
		return h.respond(c, fiber.StatusOK, "Task marked as completed", t)
	})
}

func (h *TaskHandler) CompleteByClient(c *fiber.Ctx) error {
	return taskAction(c, func(p session.Principal, id uuid.UUID) error {
		t, err := h.Tasks.CompleteByClient(c.UserContext(), p, id)
		if err != nil {
			return err
		}
		return h.respond(c, fiber.StatusOK, "Task marked as completed", t)
	})
}

func (h *TaskHandler) Delete(c *fiber.Ctx) error {
	return taskAction(c, func(p session.Principal, id uuid.UUID) error {
		if err := h.Tasks.Delete(c.UserContext(), p, id); err != nil {
			return err
		}
		return ok(c, fiber.StatusOK, "Task deleted successfully", nil)
	})
}
