package handlers

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"

	"github.com/kazilink/kazilink-api/internal/apperr"
	"github.com/kazilink/kazilink-api/internal/middleware"
	"github.com/kazilink/kazilink-api/internal/services/chatsync"
)

const webhookSecretHeader = "X-Webhook-Secret"

type ChatSyncHandler struct {
	Sync *chatsync.Service
	// Secret, when set, must match the X-Webhook-Secret header.
	Secret string
}

func (h *ChatSyncHandler) Webhook(c *fiber.Ctx) error {
	if h.Secret != "" {
		got := c.Get(webhookSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.Secret)) != 1 {
			return apperr.AuthRequired("Invalid webhook secret")
		}
	}

	msg, created, err := h.Sync.Ingest(c.UserContext(), c.Body())
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, "Chat message synced", fiber.Map{
		"id":      msg.ExternalID,
		"taskId":  msg.TaskID,
		"created": created,
	})
}

func (h *ChatSyncHandler) Messages(c *fiber.Ctx) error {
	p, err := middleware.Principal(c)
	if err != nil {
		return err
	}
	msgs, err := h.Sync.History(c.UserContext(), p, c.Params("taskId"))
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, "OK", msgs)
}
