package models

import (
	"strings"
	"time"
)

// Platform identifies the messaging network a conversation lives on
type Platform string

const (
	PlatformFacebook  Platform = "facebook"
	PlatformInstagram Platform = "instagram"
)

// DeliveryStatus is the order/delivery state a seller tracks on a conversation
type DeliveryStatus string

const (
	StatusNone      DeliveryStatus = ""
	StatusConfirmed DeliveryStatus = "confirmed"
	StatusHold      DeliveryStatus = "hold"
	StatusCancel    DeliveryStatus = "cancel"
	StatusDelivered DeliveryStatus = "delivered"
)

// IsValid reports whether s is one of the settable delivery states
func (s DeliveryStatus) IsValid() bool {
	switch s {
	case StatusConfirmed, StatusHold, StatusCancel, StatusDelivered:
		return true
	}
	return false
}

// Conversation is the thread between one customer and one page.
// The ID is always PageID + "_" + CustomerID.
type Conversation struct {
	ID         string   `bson:"_id" json:"id"`
	PageID     string   `bson:"page_id" json:"page_id"`
	CustomerID string   `bson:"customer_id" json:"customer_id"`
	Platform   Platform `bson:"platform" json:"platform"`

	// Ownership (first responder lock)
	OwnerID  *string    `bson:"owner_id" json:"owner_id"`
	LockedAt *time.Time `bson:"locked_at,omitempty" json:"locked_at,omitempty"`

	Status DeliveryStatus `bson:"status" json:"status"`

	// Per-role read watermarks used for unread counts
	AdminLastReadAt  *time.Time `bson:"admin_last_read_at,omitempty" json:"admin_last_read_at,omitempty"`
	SellerLastReadAt *time.Time `bson:"seller_last_read_at,omitempty" json:"seller_last_read_at,omitempty"`

	// Customer side receipts reported by the platform
	CustomerDeliveredAt *time.Time `bson:"customer_delivered_at,omitempty" json:"customer_delivered_at,omitempty"`
	CustomerReadAt      *time.Time `bson:"customer_read_at,omitempty" json:"customer_read_at,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// ConversationID builds the composite conversation key
func ConversationID(pageID, customerID string) string {
	return pageID + "_" + customerID
}

// SplitConversationID is the inverse of ConversationID. Page ids never contain
// an underscore, so the first one separates the two halves.
func SplitConversationID(id string) (pageID, customerID string, ok bool) {
	pageID, customerID, ok = strings.Cut(id, "_")
	if !ok || pageID == "" || customerID == "" {
		return "", "", false
	}
	return pageID, customerID, true
}

// IsOwnedBy reports whether agentID is the current owner
func (c *Conversation) IsOwnedBy(agentID string) bool {
	return c != nil && c.OwnerID != nil && *c.OwnerID == agentID
}

// LastReadAt returns the read watermark for the given agent role
func (c *Conversation) LastReadAt(role AgentRole) *time.Time {
	if c == nil {
		return nil
	}
	if role == RoleAdmin {
		return c.AdminLastReadAt
	}
	return c.SellerLastReadAt
}

// ReceiptKind selects which customer watermark a receipt advances
type ReceiptKind string

const (
	ReceiptDelivered ReceiptKind = "delivered"
	ReceiptRead      ReceiptKind = "read"
)

// Receipts is the pair of customer watermarks for a conversation
type Receipts struct {
	DeliveredAt *time.Time `json:"delivered_at"`
	ReadAt      *time.Time `json:"read_at"`
}

// ConversationSummary is one row of the inbox list
type ConversationSummary struct {
	ConversationID string         `json:"conversation_id"`
	PageID         string         `json:"page_id"`
	CustomerID     string         `json:"customer_id"`
	Platform       Platform       `json:"platform"`
	OwnerID        *string        `json:"owner_id"`
	Status         DeliveryStatus `json:"status"`
	LastMessage    Message        `json:"last_message"`
	Unread         int            `json:"unread"`
}
