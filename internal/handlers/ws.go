package handlers

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"github.com/kazilink/kazilink-api/internal/logging"
	"github.com/kazilink/kazilink-api/internal/middleware"
	"github.com/kazilink/kazilink-api/internal/realtime"
	"github.com/kazilink/kazilink-api/internal/session"
)

// NotificationSocket streams notification events to the authenticated user.
type NotificationSocket struct {
	Hub     *realtime.Hub
	Gateway *session.Gateway
	Log     *slog.Logger
}

// Upgrade authenticates the handshake. Browsers cannot set headers on a
// websocket, so a ?token= query parameter is accepted as a bearer token.
func (h *NotificationSocket) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	auth := c.Get(fiber.HeaderAuthorization)
	if auth == "" && c.Query("token") != "" {
		c.Request().Header.Set(fiber.HeaderAuthorization, "Bearer "+c.Query("token"))
	}
	return middleware.Authenticate(h.Gateway)(c)
}

func (h *NotificationSocket) Handle(c *websocket.Conn) {
	log := h.Log
	if log == nil {
		log = logging.Discard()
	}
	p, ok := c.Locals(middleware.PrincipalKey).(session.Principal)
	if !ok {
		_ = c.Close()
		return
	}

	client := &realtime.Client{
		ID:     uuid.New().String(),
		UserID: p.ID,
		Conn:   realtime.NewWebSocketConn(c),
		Send:   make(chan []byte, 256),
	}
	if !h.Hub.RegisterClient(client) {
		_ = c.Close()
		return
	}
	log.Info("notification socket connected", "action", "ws_connected", "user_id", p.ID.String())
	defer func() {
		h.Hub.UnregisterClient(client)
		log.Info("notification socket closed", "action", "ws_disconnected", "user_id", p.ID.String())
	}()

	go func() {
		if err := client.Conn.WritePump(client.Send); err != nil {
			log.Debug("websocket write failed", "action", "ws_write_failed", logging.Err(err))
			_ = c.Close()
		}
	}()

	// Reads only keep the connection alive; clients may send {"type":"pong"}.
	for {
		var payload map[string]any
		if err := c.ReadJSON(&payload); err != nil {
			return
		}
	}
}
