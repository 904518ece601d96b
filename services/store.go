package services

import (
	"context"
	"time"

	"social-inbox/models"
)

// ConversationStore persists conversation rows. Ownership races are settled
// by the backend: CreateConversationIfAbsent relies on the uniqueness of the
// conversation id and ClaimIfUnowned only writes while the owner is null.
type ConversationStore interface {
	// CreateConversationIfAbsent inserts conv unless a row with the same id
	// exists. It reports whether this call created the row.
	CreateConversationIfAbsent(ctx context.Context, conv *models.Conversation) (bool, error)
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	// ClaimIfUnowned sets the owner only when no owner is recorded
	ClaimIfUnowned(ctx context.Context, id, agentID string, at time.Time) (bool, error)
	// SetOwner unconditionally sets or clears (nil) the owner
	SetOwner(ctx context.Context, id string, agentID *string, at time.Time) error
	SetStatus(ctx context.Context, id string, status models.DeliveryStatus, at time.Time) error
	SetLastRead(ctx context.Context, id string, role models.AgentRole, at *time.Time) error
}

// ReceiptStore advances customer watermarks
type ReceiptStore interface {
	// HasReceiptColumns reports whether the backend can hold receipt watermarks
	HasReceiptColumns(ctx context.Context) (bool, error)
	// AdvanceReceipt writes at only if it is newer than the stored value
	AdvanceReceipt(ctx context.Context, id string, kind models.ReceiptKind, at time.Time) error
}

// SummaryFilter scopes the inbox list
type SummaryFilter struct {
	Role    models.AgentRole
	AgentID string // sellers see their own and unassigned conversations
	PageID  string
	Limit   int
}

// MessageStore is the append-only ledger backend
type MessageStore interface {
	// AppendMessage inserts msg and fills in its monotonic ID
	AppendMessage(ctx context.Context, msg *models.Message) error
	GetMessage(ctx context.Context, id int64) (*models.Message, error)
	FindMessageByPlatformID(ctx context.Context, platformMessageID string) (*models.Message, error)
	// ListMessages returns the newest limit messages in ascending order
	ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
	ConversationSummaries(ctx context.Context, filter SummaryFilter) ([]models.ConversationSummary, error)
	CountCustomerMessagesAfter(ctx context.Context, conversationID string, after time.Time) (int, error)
	LatestCustomerMessageAt(ctx context.Context, conversationID string) (*time.Time, error)
	// BackfillCustomerIdentity rewrites name and pic on the conversation's rows
	BackfillCustomerIdentity(ctx context.Context, conversationID, name, pic string) (int64, error)
}

// ProfileStore caches resolved customer identities
type ProfileStore interface {
	GetProfile(ctx context.Context, pageID, customerID string) (*models.CustomerProfile, error)
	SaveProfile(ctx context.Context, profile *models.CustomerProfile) error
}

// PageStore holds page credentials maintained by configuration management
type PageStore interface {
	ListPages(ctx context.Context) ([]models.Page, error)
	UpsertPage(ctx context.Context, page *models.Page) error
}

// Store is everything the relay persists
type Store interface {
	ConversationStore
	ReceiptStore
	MessageStore
	ProfileStore
	PageStore
	Close(ctx context.Context) error
}

// millis converts a timestamp to the integer form stored by the SQL backend
func millis(t time.Time) int64 {
	return t.UnixMilli()
}

// fromMillis is the inverse of millis
func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
