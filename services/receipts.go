package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"social-inbox/models"
)

// ReceiptTracker keeps the customer delivered/read watermarks. Older
// deployments may lack the receipt columns, in which case it does nothing.
type ReceiptTracker struct {
	store       ReceiptStore
	convs       ConversationStore
	logger      *slog.Logger
	mu          sync.Mutex
	detected    bool
	hasReceipts bool
}

// NewReceiptTracker creates a tracker over store
func NewReceiptTracker(store interface {
	ReceiptStore
	ConversationStore
}) *ReceiptTracker {
	return &ReceiptTracker{
		store:  store,
		convs:  store,
		logger: slog.Default().With("component", "receipts"),
	}
}

// enabled detects column presence once. A failed detection is not cached so
// a later call may try again.
func (r *ReceiptTracker) enabled(ctx context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.detected {
		return r.hasReceipts
	}
	has, err := r.store.HasReceiptColumns(ctx)
	if err != nil {
		r.logger.Warn("Failed to detect receipt columns", "error", err)
		return false
	}
	r.detected = true
	r.hasReceipts = has
	if !has {
		r.logger.Info("Receipt columns not present, receipts disabled")
	}
	return has
}

// RecordReceipt advances the watermark for kind if ts is newer than the
// stored value. Applying the same or an older timestamp is a no-op.
func (r *ReceiptTracker) RecordReceipt(ctx context.Context, conversationID string, kind models.ReceiptKind, ts time.Time) error {
	if kind != models.ReceiptDelivered && kind != models.ReceiptRead {
		return NewValidationError("kind", "must be delivered or read")
	}
	if ts.IsZero() || !r.enabled(ctx) {
		return nil
	}
	return r.store.AdvanceReceipt(ctx, conversationID, kind, ts.UTC())
}

// GetReceipts returns the current watermarks; unknown conversations and
// legacy schemas yield zero receipts
func (r *ReceiptTracker) GetReceipts(ctx context.Context, conversationID string) (models.Receipts, error) {
	if !r.enabled(ctx) {
		return models.Receipts{}, nil
	}
	conv, err := r.convs.GetConversation(ctx, conversationID)
	if isNotFound(err) {
		return models.Receipts{}, nil
	}
	if err != nil {
		return models.Receipts{}, err
	}
	return models.Receipts{
		DeliveredAt: conv.CustomerDeliveredAt,
		ReadAt:      conv.CustomerReadAt,
	}, nil
}
