package handlers

import (
	"errors"
	"log/slog"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"social-inbox/middleware"
	"social-inbox/services"
)

// Handler carries the services the agent-facing API uses
type Handler struct {
	Convs    services.ConversationStore
	Locks    *services.LockService
	Ledger   *services.Ledger
	Receipts *services.ReceiptTracker
	Replies  *services.ReplyService
	Pipeline *services.Pipeline
	Fanout   *services.Fanout
	Agents   *services.AgentDirectory
	Tokens   *services.TokenIssuer
	Sockets  *services.WebSocketManager
	Pages    middleware.PageLookup
}

// RegisterRoutes mounts the auth, inbox and websocket routes
func RegisterRoutes(app *fiber.App, h *Handler) {
	requireAuth := middleware.RequireAuth(h.Tokens)

	auth := app.Group("/auth")
	auth.Post("/login", h.Login)
	auth.Post("/logout", h.Logout)
	auth.Get("/me", requireAuth, h.GetCurrentAgent)

	api := app.Group("/api", requireAuth)
	api.Get("/conversations", h.ListConversations)

	conv := api.Group("/conversations/:id", middleware.ValidateConversation(h.Pages))
	conv.Get("/messages", h.ListMessages)
	conv.Post("/messages", h.SendText)
	conv.Post("/media", h.SendMedia)
	conv.Post("/forward", h.Forward)
	conv.Post("/read", h.MarkRead)
	conv.Post("/unread", h.MarkUnread)
	conv.Post("/claim", h.Claim)
	conv.Patch("/", h.PatchConversation)
	conv.Get("/receipts", h.GetReceipts)
	conv.Post("/simulate", middleware.RequireAdmin, h.SimulateCustomer)

	if h.Sockets != nil {
		api.Get("/ws", WebSocketUpgrade, websocket.New(h.HandleWebSocket))
	}
}

// errorResponse maps service errors onto HTTP statuses
func errorResponse(c *fiber.Ctx, err error) error {
	var ve *services.ValidationError
	switch {
	case errors.As(err, &ve):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": ve.Error(),
			"field": ve.Field,
		})
	case errors.Is(err, services.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": err.Error(),
		})
	case errors.Is(err, services.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "not found",
		})
	case errors.Is(err, services.ErrUpstream):
		slog.Error("Upstream platform failure", "path", c.Path(), "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to deliver to the messaging platform",
		})
	}

	slog.Error("Request failed", "path", c.Path(), "error", err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "internal server error",
	})
}
