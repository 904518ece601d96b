package middleware

import (
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"

	"social-inbox/models"
	"social-inbox/services"
)

// ActorLocal is the locals key holding the authenticated models.Actor
const ActorLocal = "actor"

// TokenVerifier turns a bearer token into an actor
type TokenVerifier interface {
	Verify(token string) (models.Actor, error)
}

// RequireAuth accepts a bearer token, the session cookie or, for websocket
// upgrades, the token query parameter
func RequireAuth(verifier TokenVerifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := ""
		if header := c.Get(fiber.HeaderAuthorization); header != "" {
			token, _ = strings.CutPrefix(header, "Bearer ")
		}
		if token == "" {
			token = c.Cookies(services.SessionCookieName)
		}
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Authentication required",
			})
		}

		actor, err := verifier.Verify(token)
		if err != nil {
			slog.Info("Rejected token", "error", err)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired session",
			})
		}

		// Set actor in locals for downstream handlers
		c.Locals(ActorLocal, actor)
		return c.Next()
	}
}

// RequireAdmin must run after RequireAuth
func RequireAdmin(c *fiber.Ctx) error {
	actor, ok := ActorFrom(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}
	if !actor.IsAdmin() {
		slog.Info("Access denied", "agentID", actor.ID, "role", actor.Role)
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "Insufficient permissions",
		})
	}
	return c.Next()
}

// ActorFrom returns the authenticated actor
func ActorFrom(c *fiber.Ctx) (models.Actor, bool) {
	actor, ok := c.Locals(ActorLocal).(models.Actor)
	return actor, ok
}
