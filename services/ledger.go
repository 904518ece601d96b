package services

import (
	"context"
	"fmt"
	"time"

	"social-inbox/models"
)

// Message list limits
const (
	DefaultMessageLimit = 50
	MaxMessageLimit     = 500
)

// Ledger is the append-only message history plus per-role read tracking
type Ledger struct {
	messages MessageStore
	convs    ConversationStore
	now      func() time.Time
}

// NewLedger creates a ledger over store
func NewLedger(store interface {
	MessageStore
	ConversationStore
}) *Ledger {
	return &Ledger{
		messages: store,
		convs:    store,
		now:      time.Now,
	}
}

// ClampLimit applies the default and maximum page size
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultMessageLimit
	}
	if limit > MaxMessageLimit {
		return MaxMessageLimit
	}
	return limit
}

// Append stores msg. CreatedAt is the ingestion wall clock unless already set;
// the store assigns the increasing ID that breaks timestamp ties.
func (l *Ledger) Append(ctx context.Context, msg *models.Message) error {
	if msg.ConversationID == "" {
		return NewValidationError("conversation_id", "is required")
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = l.now().UTC()
	}
	// Stores keep milliseconds
	msg.CreatedAt = msg.CreatedAt.UTC().Truncate(time.Millisecond)
	if err := l.messages.AppendMessage(ctx, msg); err != nil {
		return fmt.Errorf("appending message: %w", err)
	}
	return nil
}

// Get returns one message by id
func (l *Ledger) Get(ctx context.Context, id int64) (*models.Message, error) {
	return l.messages.GetMessage(ctx, id)
}

// FindByPlatformID resolves a platform mid to a ledger entry
func (l *Ledger) FindByPlatformID(ctx context.Context, mid string) (*models.Message, error) {
	if mid == "" {
		return nil, ErrNotFound
	}
	return l.messages.FindMessageByPlatformID(ctx, mid)
}

// ListByConversation returns the most recent messages in ascending order
func (l *Ledger) ListByConversation(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	return l.messages.ListMessages(ctx, conversationID, ClampLimit(limit))
}

// LatestSummaryPerConversation lists the inbox for filter.Role
func (l *Ledger) LatestSummaryPerConversation(ctx context.Context, filter SummaryFilter) ([]models.ConversationSummary, error) {
	filter.Limit = ClampLimit(filter.Limit)
	if filter.Role == "" {
		filter.Role = models.RoleSeller
	}
	return l.messages.ConversationSummaries(ctx, filter)
}

// UnreadCount counts customer messages newer than the role's last read
// watermark. Without a conversation row every customer message is unread.
func (l *Ledger) UnreadCount(ctx context.Context, conversationID string, role models.AgentRole) (int, error) {
	var after time.Time
	conv, err := l.convs.GetConversation(ctx, conversationID)
	switch {
	case err == nil:
		if lastRead := conv.LastReadAt(role); lastRead != nil {
			after = *lastRead
		}
	case isNotFound(err):
	default:
		return 0, err
	}
	return l.messages.CountCustomerMessagesAfter(ctx, conversationID, after)
}

// MarkRead moves the role's watermark to the latest customer message (or now)
func (l *Ledger) MarkRead(ctx context.Context, conversationID string, role models.AgentRole) error {
	if err := l.ensureConversation(ctx, conversationID); err != nil {
		return err
	}
	at := l.now().UTC()
	latest, err := l.messages.LatestCustomerMessageAt(ctx, conversationID)
	if err != nil {
		return err
	}
	if latest != nil && latest.After(at) {
		at = *latest
	}
	return l.convs.SetLastRead(ctx, conversationID, role, &at)
}

// MarkUnread moves the watermark just before the latest customer message so
// that exactly that message counts as unread. Without customer messages the
// watermark is cleared.
func (l *Ledger) MarkUnread(ctx context.Context, conversationID string, role models.AgentRole) error {
	if err := l.ensureConversation(ctx, conversationID); err != nil {
		return err
	}
	latest, err := l.messages.LatestCustomerMessageAt(ctx, conversationID)
	if err != nil {
		return err
	}
	if latest == nil {
		return l.convs.SetLastRead(ctx, conversationID, role, nil)
	}
	at := latest.Add(-time.Millisecond)
	return l.convs.SetLastRead(ctx, conversationID, role, &at)
}

// BackfillIdentity repairs customer name and pic on existing rows
func (l *Ledger) BackfillIdentity(ctx context.Context, conversationID, name, pic string) (int64, error) {
	return l.messages.BackfillCustomerIdentity(ctx, conversationID, name, pic)
}

func (l *Ledger) ensureConversation(ctx context.Context, conversationID string) error {
	_, _, err := GetOrCreateConversation(ctx, l.convs, conversationID, "", nil, l.now().UTC())
	return err
}
