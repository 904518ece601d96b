package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"social-inbox/models"
)

// ClaimResult is the outcome of a successful claim
type ClaimResult struct {
	OwnerID string `json:"owner_id"`
	Created bool   `json:"created"`
}

// LockService implements first responder ownership of conversations.
// Races are settled by the store, there is no in-process locking here.
type LockService struct {
	store  ConversationStore
	now    func() time.Time
	logger *slog.Logger
}

// NewLockService creates a lock service over store
func NewLockService(store ConversationStore) *LockService {
	return &LockService{
		store:  store,
		now:    time.Now,
		logger: slog.Default().With("component", "locks"),
	}
}

// GetOrCreate materializes the conversation row through GetOrCreateConversation
func (l *LockService) GetOrCreate(ctx context.Context, conversationID string, platform models.Platform, owner *string) (*models.Conversation, bool, error) {
	return GetOrCreateConversation(ctx, l.store, conversationID, platform, owner, l.now().UTC())
}

// GetOrCreateConversation is the single entry point that creates conversation
// rows. owner is only applied when the row is created by this call.
func GetOrCreateConversation(ctx context.Context, store ConversationStore, conversationID string, platform models.Platform, owner *string, now time.Time) (*models.Conversation, bool, error) {
	pageID, customerID, ok := models.SplitConversationID(conversationID)
	if !ok {
		return nil, false, NewValidationError("conversation_id", "must be <page_id>_<customer_id>")
	}

	conv := &models.Conversation{
		ID:         conversationID,
		PageID:     pageID,
		CustomerID: customerID,
		Platform:   platform,
		OwnerID:    owner,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if owner != nil {
		conv.LockedAt = &now
	}

	created, err := store.CreateConversationIfAbsent(ctx, conv)
	if err != nil {
		return nil, false, fmt.Errorf("creating conversation: %w", err)
	}

	current, err := store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, false, fmt.Errorf("reading conversation: %w", err)
	}
	return current, created, nil
}

// Claim makes agentID the owner unless someone else already owns the
// conversation. Claiming a conversation you already own succeeds.
func (l *LockService) Claim(ctx context.Context, conversationID, agentID string) (*ClaimResult, error) {
	if agentID == "" {
		return nil, NewValidationError("agent_id", "is required")
	}

	conv, created, err := l.GetOrCreate(ctx, conversationID, "", &agentID)
	if err != nil {
		return nil, err
	}

	if conv.OwnerID == nil {
		// Row existed without an owner: one conditional update, then re-read
		conv, err = l.claimUnowned(ctx, conversationID, agentID)
		if err != nil {
			return nil, err
		}
	}

	if !conv.IsOwnedBy(agentID) {
		l.logger.Info("Claim lost",
			"conversationID", conversationID,
			"agentID", agentID,
			"ownerID", *conv.OwnerID,
		)
		return nil, forbidden("conversation is owned by another agent")
	}

	if created {
		l.logger.Info("Conversation claimed",
			"conversationID", conversationID,
			"agentID", agentID,
		)
	}
	return &ClaimResult{OwnerID: agentID, Created: created}, nil
}

// Enforce is called before an agent replies. It passes when the caller owns
// the conversation or wins the claim of an unowned one.
func (l *LockService) Enforce(ctx context.Context, conversationID, agentID string) error {
	conv, err := l.store.GetConversation(ctx, conversationID)
	switch {
	case err == nil:
	case isNotFound(err):
		conv, _, err = l.GetOrCreate(ctx, conversationID, "", nil)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("reading conversation: %w", err)
	}

	if conv.OwnerID != nil {
		if conv.IsOwnedBy(agentID) {
			return nil
		}
		return forbidden("conversation is owned by another agent")
	}

	conv, err = l.claimUnowned(ctx, conversationID, agentID)
	if err != nil {
		return err
	}
	if !conv.IsOwnedBy(agentID) {
		l.logger.Info("Enforce lost race",
			"conversationID", conversationID,
			"agentID", agentID,
		)
		return forbidden("conversation is owned by another agent")
	}
	return nil
}

// claimUnowned runs the conditional update once and returns the row as it is
// afterwards, whoever won
func (l *LockService) claimUnowned(ctx context.Context, conversationID, agentID string) (*models.Conversation, error) {
	if _, err := l.store.ClaimIfUnowned(ctx, conversationID, agentID, l.now().UTC()); err != nil {
		return nil, fmt.Errorf("claiming conversation: %w", err)
	}
	conv, err := l.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("re-reading conversation: %w", err)
	}
	if conv.OwnerID == nil {
		// Cleared by an admin between our update and read
		return nil, forbidden("conversation ownership changed concurrently")
	}
	return conv, nil
}

// Assign sets or clears (nil) the owner. Only admins may do this and it
// overrides any existing owner.
func (l *LockService) Assign(ctx context.Context, conversationID string, agentID *string, actor models.Actor) (*models.Conversation, error) {
	if !actor.IsAdmin() {
		return nil, forbidden("only admins can assign conversations")
	}
	if agentID != nil && *agentID == "" {
		return nil, NewValidationError("owner_id", "must be a non-empty string or null")
	}

	if _, _, err := l.GetOrCreate(ctx, conversationID, "", nil); err != nil {
		return nil, err
	}
	if err := l.store.SetOwner(ctx, conversationID, agentID, l.now().UTC()); err != nil {
		return nil, fmt.Errorf("assigning conversation: %w", err)
	}

	owner := "<none>"
	if agentID != nil {
		owner = *agentID
	}
	l.logger.Info("Conversation assigned",
		"conversationID", conversationID,
		"ownerID", owner,
		"by", actor.ID,
	)
	return l.store.GetConversation(ctx, conversationID)
}

// SetStatus records the delivery status. Sellers must hold (or win) the lock,
// admins may always set it.
func (l *LockService) SetStatus(ctx context.Context, conversationID string, status models.DeliveryStatus, actor models.Actor) (*models.Conversation, error) {
	if !status.IsValid() {
		return nil, NewValidationError("status", "must be one of confirmed, hold, cancel, delivered")
	}

	if actor.IsAdmin() {
		if _, _, err := l.GetOrCreate(ctx, conversationID, "", nil); err != nil {
			return nil, err
		}
	} else if err := l.Enforce(ctx, conversationID, actor.ID); err != nil {
		return nil, err
	}

	if err := l.store.SetStatus(ctx, conversationID, status, l.now().UTC()); err != nil {
		return nil, fmt.Errorf("setting status: %w", err)
	}
	return l.store.GetConversation(ctx, conversationID)
}
