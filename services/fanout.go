package services

import (
	"log/slog"
	"sync"

	"social-inbox/models"
)

// Real-time event names
const (
	EventNewMessage       = "new_message"
	EventConversationMeta = "conversation_meta"
)

// Rooms observers subscribe to
const (
	RoomAdmin      = "admin"
	RoomUnassigned = "unassigned"
)

// SellerRoom is the private room of one seller
func SellerRoom(agentID string) string {
	return "seller:" + agentID
}

// Publisher is a real-time transport
type Publisher interface {
	Publish(room, event string, payload any) error
}

// RoomsFor returns the rooms that must see an event about conv: always the
// admin room, plus the owner's room or the unassigned pool
func RoomsFor(conv *models.Conversation) []string {
	if conv != nil && conv.OwnerID != nil && *conv.OwnerID != "" {
		return []string{RoomAdmin, SellerRoom(*conv.OwnerID)}
	}
	return []string{RoomAdmin, RoomUnassigned}
}

// RoomsForAgent returns the rooms an agent's connection joins
func RoomsForAgent(actor models.Actor) []string {
	if actor.IsAdmin() {
		return []string{RoomAdmin}
	}
	return []string{SellerRoom(actor.ID), RoomUnassigned}
}

// NewMessageEvent is the payload of new_message
type NewMessageEvent struct {
	ConversationID string          `json:"conversation_id"`
	Message        *models.Message `json:"message"`
}

// ConversationMetaEvent is the payload of conversation_meta
type ConversationMetaEvent struct {
	ConversationID string                `json:"conversation_id"`
	OwnerID        *string               `json:"owner_id"`
	Status         models.DeliveryStatus `json:"status"`
	Receipts       *models.Receipts      `json:"receipts,omitempty"`
}

// MetaEvent builds the conversation_meta payload for conv
func MetaEvent(conv *models.Conversation, receipts *models.Receipts) ConversationMetaEvent {
	return ConversationMetaEvent{
		ConversationID: conv.ID,
		OwnerID:        conv.OwnerID,
		Status:         conv.Status,
		Receipts:       receipts,
	}
}

// Fanout routes events to every attached transport. Broadcasting never fails
// the caller: with no transport it does nothing and publish errors are logged.
type Fanout struct {
	mu         sync.RWMutex
	publishers []Publisher
	logger     *slog.Logger
}

// NewFanout creates a fan-out with no transports
func NewFanout() *Fanout {
	return &Fanout{
		logger: slog.Default().With("component", "fanout"),
	}
}

// Attach adds a transport
func (f *Fanout) Attach(p Publisher) {
	if p == nil {
		return
	}
	f.mu.Lock()
	f.publishers = append(f.publishers, p)
	f.mu.Unlock()
}

// Broadcast publishes event about conv to the rooms returned by RoomsFor
func (f *Fanout) Broadcast(event string, conv *models.Conversation, payload any) {
	if f == nil {
		return
	}
	f.mu.RLock()
	publishers := f.publishers
	f.mu.RUnlock()

	if len(publishers) == 0 {
		return
	}

	for _, room := range RoomsFor(conv) {
		for _, p := range publishers {
			if err := p.Publish(room, event, payload); err != nil {
				f.logger.Warn("Failed to publish event",
					"room", room,
					"event", event,
					"error", err,
				)
			}
		}
	}
}
