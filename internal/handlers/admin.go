package handlers

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/kazilink/kazilink-api/internal/apperr"
	"github.com/kazilink/kazilink-api/internal/middleware"
	"github.com/kazilink/kazilink-api/internal/models"
	"github.com/kazilink/kazilink-api/internal/repository"
	"github.com/kazilink/kazilink-api/internal/services/tasks"
)

// AdminHandler serves /api/admin/*. Routes are mounted behind RequireAdmin.
type AdminHandler struct {
	Users repository.UserStore
	Tasks *tasks.Manager
	Log   *slog.Logger
}

func (h *AdminHandler) ListUsers(c *fiber.Ctx) error {
	users, err := h.Users.ListUsers(c.UserContext())
	if err != nil {
		return apperr.Internal("Failed to fetch users", err)
	}
	out := make([]models.UserView, 0, len(users))
	for i := range users {
		out = append(out, users[i].View())
	}
	return ok(c, fiber.StatusOK, "OK", out)
}

func (h *AdminHandler) ListTasks(c *fiber.Ctx) error {
	views, err := h.Tasks.List(c.UserContext(), models.TaskFilter{}, true)
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, "OK", views)
}

// userAction runs a state change on the :id user and echoes the result.
func (h *AdminHandler) userAction(c *fiber.Ctx, action, msg string, fn func(id uuid.UUID) error) error {
	id, err := parseID(c, "id", "user_not_found", "User")
	if err != nil {
		return err
	}
	err = fn(id)
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound("user_not_found", "User not found")
	}
	if err != nil {
		return apperr.Internal("Failed to update user", err)
	}
	u, err := h.Users.GetUser(c.UserContext(), id)
	if err != nil {
		return apperr.Internal("Failed to fetch user", err)
	}

	if h.Log != nil {
		actor, _ := middleware.Principal(c)
		h.Log.Info("admin updated user", "action", action, "user_id", id.String(), "by", actor.ID.String())
	}
	return ok(c, fiber.StatusOK, msg, u.View())
}

func (h *AdminHandler) VerifyUser(c *fiber.Ctx) error {
	return h.userAction(c, "admin_user_verified", "User verified successfully", func(id uuid.UUID) error {
		return h.Users.SetEmailVerified(c.UserContext(), id)
	})
}

func (h *AdminHandler) DeactivateUser(c *fiber.Ctx) error {
	return h.userAction(c, "admin_user_deactivated", "User deactivated successfully", func(id uuid.UUID) error {
		return h.Users.SetActive(c.UserContext(), id, false)
	})
}

func (h *AdminHandler) ActivateUser(c *fiber.Ctx) error {
	return h.userAction(c, "admin_user_activated", "User activated successfully", func(id uuid.UUID) error {
		return h.Users.SetActive(c.UserContext(), id, true)
	})
}

func (h *AdminHandler) DeleteTask(c *fiber.Ctx) error {
	p, err := middleware.Principal(c)
	if err != nil {
		return err
	}
	id, err := parseID(c, "id", "task_not_found", "Task")
	if err != nil {
		return err
	}
	if err := h.Tasks.AdminDelete(c.UserContext(), p, id); err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, "Task deleted successfully", nil)
}

func (h *AdminHandler) Stats(c *fiber.Ctx) error {
	s, err := h.Tasks.Stats(c.UserContext())
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, "OK", s)
}
