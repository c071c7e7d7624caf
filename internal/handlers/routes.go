package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/kazilink/kazilink-api/internal/middleware"
	"github.com/kazilink/kazilink-api/internal/models"
	"github.com/kazilink/kazilink-api/internal/session"
)

type Routes struct {
	Gateway *session.Gateway
	Auth    *AuthHandler
	Google  *GoogleOAuthHandler
	Tasks   *TaskHandler
	Admin   *AdminHandler
	Chat    *ChatSyncHandler
	Socket  *NotificationSocket
}

func (r Routes) Mount(app *fiber.App) {
	authn := middleware.Authenticate(r.Gateway)

	app.Get("/health", func(c *fiber.Ctx) error {
		return ok(c, fiber.StatusOK, "OK", fiber.Map{"status": "ok"})
	})

	api := app.Group("/api")

	auth := api.Group("/auth")
	auth.Post("/register", r.Auth.Register)
	auth.Post("/login", r.Auth.Login)
	auth.Post("/logout", r.Auth.Logout)
	auth.Get("/verify", r.Auth.Verify)
	auth.Post("/createProfile", r.Auth.CreateProfile)
	auth.Post("/resend-verification", r.Auth.ResendVerification)
	auth.Post("/forgot-password", r.Auth.ForgotPassword)
	auth.Post("/reset-password", r.Auth.ResetPassword)
	auth.Get("/user/:id", r.Auth.PublicUser)
	auth.Get("/me", authn, r.Auth.Me)
	auth.Put("/me", authn, r.Auth.UpdateMe)
	if r.Google != nil {
		auth.Get("/google/start", r.Google.GoogleStart)
		auth.Get("/google/callback", r.Google.GoogleCallback)
	}

	tasks := api.Group("/tasks")
	tasks.Get("/", r.Tasks.List)
	tasks.Get("/:id", r.Tasks.Get)
	tasks.Post("/", authn, middleware.RequireRoles(models.RoleClient), r.Tasks.Create)
	tasks.Patch("/:id", authn, r.Tasks.Update)
	tasks.Patch("/:id/accept", authn, middleware.RequireRoles(models.RoleYouth), r.Tasks.Apply)
	tasks.Patch("/:id/accept-applicant", authn, r.Tasks.AcceptApplicant)
	tasks.Patch("/:id/assign/:userId", authn, r.Tasks.Assign)
	tasks.Patch("/:id/complete", authn, r.Tasks.Complete)
	tasks.Patch("/:id/complete-client", authn, r.Tasks.CompleteByClient)
	tasks.Delete("/:id", authn, r.Tasks.Delete)

	admin := api.Group("/admin", authn, middleware.RequireAdmin())
	admin.Get("/users", r.Admin.ListUsers)
	admin.Get("/tasks", r.Admin.ListTasks)
	admin.Patch("/users/:id/verify", r.Admin.VerifyUser)
	admin.Patch("/users/:id/deactivate", r.Admin.DeactivateUser)
	admin.Patch("/users/:id/activate", r.Admin.ActivateUser)
	admin.Delete("/tasks/:id", r.Admin.DeleteTask)
	admin.Get("/stats", r.Admin.Stats)

	chat := api.Group("/chatsync")
	chat.Post("/webhook", r.Chat.Webhook)
	chat.Get("/tasks/:taskId/messages", authn, r.Chat.Messages)

	if r.Socket != nil {
		app.Get("/ws/notifications", r.Socket.Upgrade, websocket.New(r.Socket.Handle))
	}
}
