package handlers

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"social-inbox/middleware"
	"social-inbox/models"
	"social-inbox/services"
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	Agent     models.Agent `json:"agent"`
}

func (h *Handler) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Username == "" || req.Password == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Username and password are required",
		})
	}

	agent, err := h.Agents.Authenticate(req.Username, req.Password)
	if err != nil {
		slog.Info("Invalid login attempt", "username", req.Username)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid credentials",
		})
	}

	token, expires, err := h.Tokens.Issue(*agent)
	if err != nil {
		slog.Error("Failed to issue token", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create session",
		})
	}

	c.Cookie(&fiber.Cookie{
		Name:     services.SessionCookieName,
		Value:    token,
		Expires:  expires,
		HTTPOnly: true,
		SameSite: "Lax",
	})

	slog.Info("Agent logged in", "agentID", agent.ID, "role", agent.Role)
	return c.JSON(LoginResponse{Token: token, ExpiresAt: expires, Agent: *agent})
}

func (h *Handler) Logout(c *fiber.Ctx) error {
	c.ClearCookie(services.SessionCookieName)
	return c.JSON(fiber.Map{"message": "Logged out"})
}

func (h *Handler) GetCurrentAgent(c *fiber.Ctx) error {
	actor, _ := middleware.ActorFrom(c)
	if agent, ok := h.Agents.Get(actor.ID); ok {
		return c.JSON(fiber.Map{"agent": agent})
	}
	// Token still valid for an agent removed from the seed file
	return c.JSON(fiber.Map{"agent": models.Agent{ID: actor.ID, DisplayName: actor.Name, Role: actor.Role}})
}
