package models

import (
	"time"
)

// SenderType tells whether a message came from the customer or from the page side
type SenderType string

const (
	SenderCustomer SenderType = "customer"
	SenderBot      SenderType = "bot"
)

// SenderRole is the finer grained origin of a message
type SenderRole string

const (
	SenderRoleCustomer SenderRole = "customer"
	SenderRoleAdmin    SenderRole = "admin"
	SenderRoleSeller   SenderRole = "seller"
	SenderRoleAI       SenderRole = "ai"
)

// MessageType describes how Body should be read
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageMedia MessageType = "media" // Body holds newline separated URLs
)

// Message is an immutable ledger entry
type Message struct {
	ID             int64      `bson:"_id" json:"id"`
	ConversationID string     `bson:"conversation_id" json:"conversation_id"`
	PageID         string     `bson:"page_id" json:"page_id"`
	CustomerID     string     `bson:"customer_id" json:"customer_id"`
	Platform       Platform   `bson:"platform" json:"platform"`
	SenderType     SenderType `bson:"sender_type" json:"sender_type"`
	SenderRole     SenderRole `bson:"sender_role" json:"sender_role"`
	SenderID       string     `bson:"sender_id,omitempty" json:"sender_id,omitempty"`
	SenderName     string     `bson:"sender_name" json:"sender_name"`

	// Customer identity at the time of writing; repaired by backfill
	CustomerName string `bson:"customer_name,omitempty" json:"customer_name,omitempty"`
	CustomerPic  string `bson:"customer_pic,omitempty" json:"customer_pic,omitempty"`

	Type              MessageType `bson:"type" json:"type"`
	Body              string      `bson:"body" json:"body"`
	ReplyToID         *int64      `bson:"reply_to_id,omitempty" json:"reply_to_id,omitempty"`
	PlatformMessageID string      `bson:"platform_message_id,omitempty" json:"platform_message_id,omitempty"`
	CreatedAt         time.Time   `bson:"created_at" json:"created_at"`
}

// IsFromCustomer reports whether the customer wrote this message
func (m *Message) IsFromCustomer() bool {
	return m.SenderType == SenderCustomer
}
