package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"social-inbox/middleware"
	"social-inbox/models"
	"social-inbox/services"
)

// patchSchema accepts exactly one of the two update variants
const patchSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"owner_id": {"type": ["string", "null"], "minLength": 1},
		"status": {"enum": ["confirmed", "hold", "cancel", "delivered"]}
	},
	"additionalProperties": false,
	"oneOf": [
		{"required": ["owner_id"], "not": {"required": ["status"]}},
		{"required": ["status"], "not": {"required": ["owner_id"]}}
	]
}`

var conversationPatchSchema = mustCompileSchema("conversation_patch.json", patchSchema)

func mustCompileSchema(name, source string) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(source))
	if err != nil {
		panic(err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		panic(err)
	}
	return c.MustCompile(name)
}

// ConversationPatch is the decoded PATCH body. Exactly one variant is set.
type ConversationPatch struct {
	Assign *OwnerUpdate
	Status *models.DeliveryStatus
}

// OwnerUpdate sets (OwnerID) or clears (nil) the owner
type OwnerUpdate struct {
	OwnerID *string
}

// ParseConversationPatch validates body against the schema and decodes it
func ParseConversationPatch(body []byte) (*ConversationPatch, error) {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return nil, services.NewValidationError("body", "must be a JSON object")
	}
	if err := conversationPatchSchema.Validate(inst); err != nil {
		return nil, services.NewValidationError("body", "must contain exactly one of owner_id (string or null) or status (confirmed, hold, cancel, delivered)")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, services.NewValidationError("body", "must be a JSON object")
	}

	patch := &ConversationPatch{}
	if raw, ok := fields["owner_id"]; ok {
		var owner *string
		if err := json.Unmarshal(raw, &owner); err != nil {
			return nil, services.NewValidationError("owner_id", "must be a string or null")
		}
		patch.Assign = &OwnerUpdate{OwnerID: owner}
		return patch, nil
	}

	var status models.DeliveryStatus
	if err := json.Unmarshal(fields["status"], &status); err != nil {
		return nil, services.NewValidationError("status", "must be a string")
	}
	patch.Status = &status
	return patch, nil
}

// loadVisible returns the conversation (nil when it has no row yet) or an
// error when a seller asks for a conversation owned by someone else
func (h *Handler) loadVisible(c *fiber.Ctx, actor models.Actor, conversationID string) (*models.Conversation, error) {
	conv, err := h.Convs.GetConversation(c.Context(), conversationID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !actor.IsAdmin() && conv.OwnerID != nil && !conv.IsOwnedBy(actor.ID) {
		return nil, services.ErrForbidden
	}
	return conv, nil
}

func (h *Handler) broadcastMeta(c *fiber.Ctx, conv *models.Conversation) {
	receipts, err := h.Receipts.GetReceipts(c.Context(), conv.ID)
	if err != nil {
		h.Fanout.Broadcast(services.EventConversationMeta, conv, services.MetaEvent(conv, nil))
		return
	}
	h.Fanout.Broadcast(services.EventConversationMeta, conv, services.MetaEvent(conv, &receipts))
}

// ListConversations returns the role scoped inbox
func (h *Handler) ListConversations(c *fiber.Ctx) error {
	actor, _ := middleware.ActorFrom(c)

	summaries, err := h.Ledger.LatestSummaryPerConversation(c.Context(), services.SummaryFilter{
		Role:    actor.Role,
		AgentID: actor.ID,
		PageID:  c.Query("page_id"),
		Limit:   c.QueryInt("limit", services.DefaultMessageLimit),
	})
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{
		"conversations": summaries,
		"count":         len(summaries),
	})
}

// ListMessages returns the history of one conversation
func (h *Handler) ListMessages(c *fiber.Ctx) error {
	actor, _ := middleware.ActorFrom(c)
	conversationID := middleware.ConversationID(c)

	conv, err := h.loadVisible(c, actor, conversationID)
	if err != nil {
		return errorResponse(c, err)
	}

	messages, err := h.Ledger.ListByConversation(c.Context(), conversationID, c.QueryInt("limit", services.DefaultMessageLimit))
	if err != nil {
		return errorResponse(c, err)
	}

	unread, err := h.Ledger.UnreadCount(c.Context(), conversationID, actor.Role)
	if err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(fiber.Map{
		"conversation": conv,
		"messages":     messages,
		"unread":       unread,
	})
}

// MarkRead clears the caller role's unread count
func (h *Handler) MarkRead(c *fiber.Ctx) error {
	return h.markRead(c, true)
}

// MarkUnread flags the latest customer message as unread again
func (h *Handler) MarkUnread(c *fiber.Ctx) error {
	return h.markRead(c, false)
}

func (h *Handler) markRead(c *fiber.Ctx, read bool) error {
	actor, _ := middleware.ActorFrom(c)
	conversationID := middleware.ConversationID(c)

	if _, err := h.loadVisible(c, actor, conversationID); err != nil {
		return errorResponse(c, err)
	}

	var err error
	if read {
		err = h.Ledger.MarkRead(c.Context(), conversationID, actor.Role)
	} else {
		err = h.Ledger.MarkUnread(c.Context(), conversationID, actor.Role)
	}
	if err != nil {
		return errorResponse(c, err)
	}

	unread, err := h.Ledger.UnreadCount(c.Context(), conversationID, actor.Role)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{
		"conversation_id": conversationID,
		"unread":          unread,
	})
}

// Claim makes the caller the first responder
func (h *Handler) Claim(c *fiber.Ctx) error {
	actor, _ := middleware.ActorFrom(c)
	conversationID := middleware.ConversationID(c)

	result, err := h.Locks.Claim(c.Context(), conversationID, actor.ID)
	if err != nil {
		return errorResponse(c, err)
	}

	if conv, err := h.Convs.GetConversation(c.Context(), conversationID); err == nil {
		h.broadcastMeta(c, conv)
	}
	return c.JSON(result)
}

// PatchConversation assigns the owner (admins) or sets the delivery status
func (h *Handler) PatchConversation(c *fiber.Ctx) error {
	actor, _ := middleware.ActorFrom(c)
	conversationID := middleware.ConversationID(c)

	patch, err := ParseConversationPatch(c.Body())
	if err != nil {
		return errorResponse(c, err)
	}

	var conv *models.Conversation
	switch {
	case patch.Assign != nil:
		conv, err = h.Locks.Assign(c.Context(), conversationID, patch.Assign.OwnerID, actor)
	case patch.Status != nil:
		conv, err = h.Locks.SetStatus(c.Context(), conversationID, *patch.Status, actor)
	}
	if err != nil {
		return errorResponse(c, err)
	}

	h.broadcastMeta(c, conv)
	return c.JSON(fiber.Map{"conversation": conv})
}

// GetReceipts returns the customer delivered/read watermarks
func (h *Handler) GetReceipts(c *fiber.Ctx) error {
	actor, _ := middleware.ActorFrom(c)
	conversationID := middleware.ConversationID(c)

	if _, err := h.loadVisible(c, actor, conversationID); err != nil {
		return errorResponse(c, err)
	}

	receipts, err := h.Receipts.GetReceipts(c.Context(), conversationID)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(receipts)
}
