package middleware

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"social-inbox/models"
)

const conversationLocal = "conversation_id"

// PageLookup reports whether a page is connected
type PageLookup interface {
	Page(pageID string) (models.Page, bool)
}

// ValidateConversation checks the :id parameter is a conversation key of a
// connected page. pages may be nil to skip the page check.
func ValidateConversation(pages PageLookup) fiber.Handler {
	return func(c *fiber.Ctx) error {
		conversationID := c.Params("id")
		pageID, _, ok := models.SplitConversationID(conversationID)
		if !ok {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "conversation_id: must be <page_id>_<customer_id>",
			})
		}

		if pages != nil {
			if _, known := pages.Page(pageID); !known {
				slog.Warn("Conversation on unknown page",
					"conversationID", conversationID,
					"pageID", pageID,
				)
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
					"error": "page not found",
				})
			}
		}

		// Store validated id in locals for use in handlers
		c.Locals(conversationLocal, conversationID)
		return c.Next()
	}
}

// ConversationID returns the id validated by ValidateConversation
func ConversationID(c *fiber.Ctx) string {
	id, _ := c.Locals(conversationLocal).(string)
	return id
}
