package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"social-inbox/models"
)

// EventKind is the kind of a normalized platform event
type EventKind string

const (
	EventKindMessage  EventKind = "message"
	EventKindDelivery EventKind = "delivery"
	EventKindRead     EventKind = "read"
)

// InboundAttachment is one attachment of an inbound message
type InboundAttachment struct {
	Type string
	URL  string
}

// InboundEvent is a platform webhook event in canonical form. For echoes
// CustomerID is the recipient of the page's message.
type InboundEvent struct {
	Kind        EventKind
	Platform    models.Platform
	PageID      string
	CustomerID  string
	MessageID   string // mid of the message, or of the last read message
	Text        string
	Attachments []InboundAttachment
	ReplyToMID  string
	IsEcho      bool
	Timestamp   time.Time // message time, or receipt watermark
}

// ConversationID returns PageID + "_" + CustomerID
func (e *InboundEvent) ConversationID() string {
	return models.ConversationID(e.PageID, e.CustomerID)
}

// DedupeKey is mid:<mid> when the platform gave a message id, otherwise a
// fingerprint of the content
func (e *InboundEvent) DedupeKey() string {
	if e.MessageID != "" {
		return MIDKey(e.MessageID)
	}

	urls := make([]string, 0, len(e.Attachments))
	for _, a := range e.Attachments {
		urls = append(urls, a.URL)
	}
	sort.Strings(urls)

	sum := sha256.Sum256([]byte(strings.Join([]string{
		string(e.Platform), e.PageID, e.CustomerID, e.Text, strings.Join(urls, ","),
	}, "|")))
	return "fp:" + hex.EncodeToString(sum[:])
}

// MIDKey is the dedupe key of a platform message id
func MIDKey(mid string) string {
	return "mid:" + mid
}

// PageDirectory names pages
type PageDirectory interface {
	PageName(pageID string) string
}

// PipelineConfig wires the ingestion pipeline
type PipelineConfig struct {
	Dedupe   Deduper
	Ledger   *Ledger
	Convs    ConversationStore
	Receipts *ReceiptTracker
	Identity *IdentityResolver
	Media    *MediaStore // nil keeps remote URLs
	Fanout   *Fanout
	Pages    PageDirectory
}

// Pipeline turns inbound platform events into ledger entries, receipt
// updates and real-time events
type Pipeline struct {
	PipelineConfig
	now    func() time.Time
	logger *slog.Logger
}

// NewPipeline creates a pipeline
func NewPipeline(cfg PipelineConfig) *Pipeline {
	return &Pipeline{
		PipelineConfig: cfg,
		now:            time.Now,
		logger:         slog.Default().With("component", "ingest"),
	}
}

// Process handles one event. Duplicates are dropped silently.
func (p *Pipeline) Process(ctx context.Context, ev InboundEvent) error {
	if ev.PageID == "" || ev.CustomerID == "" {
		return NewValidationError("event", "missing page or customer id")
	}
	if ev.Platform == "" {
		ev.Platform = models.PlatformFacebook
	}

	switch ev.Kind {
	case EventKindDelivery, EventKindRead:
		return p.processReceipt(ctx, ev)
	case EventKindMessage:
		_, err := p.processMessage(ctx, ev, true)
		return err
	}
	return NewValidationError("kind", fmt.Sprintf("unsupported event kind %q", ev.Kind))
}

// ProcessAll handles a batch, logging failures and continuing
func (p *Pipeline) ProcessAll(ctx context.Context, events []InboundEvent) {
	for _, ev := range events {
		if err := p.Process(ctx, ev); err != nil {
			p.logger.Error("Failed to process webhook event",
				"kind", ev.Kind,
				"conversationID", ev.ConversationID(),
				"messageID", ev.MessageID,
				"error", err,
			)
		}
	}
}

// SimulateCustomer records a message as if the customer had sent it. It
// never calls the platform: identity comes from the profile cache only.
func (p *Pipeline) SimulateCustomer(ctx context.Context, conversationID, text string) (*models.Message, error) {
	pageID, customerID, ok := models.SplitConversationID(conversationID)
	if !ok {
		return nil, NewValidationError("conversation_id", "must be <page_id>_<customer_id>")
	}
	if strings.TrimSpace(text) == "" {
		return nil, NewValidationError("text", "is required")
	}

	platform := models.PlatformFacebook
	if conv, err := p.Convs.GetConversation(ctx, conversationID); err == nil && conv.Platform != "" {
		platform = conv.Platform
	}

	msgs, err := p.processMessage(ctx, InboundEvent{
		Kind:       EventKindMessage,
		Platform:   platform,
		PageID:     pageID,
		CustomerID: customerID,
		MessageID:  "sim." + uuid.NewString(),
		Text:       text,
		Timestamp:  p.now().UTC(),
	}, false)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, errors.New("simulated message was not recorded")
	}
	return msgs[0], nil
}

func (p *Pipeline) processMessage(ctx context.Context, ev InboundEvent, remoteLookups bool) ([]*models.Message, error) {
	if p.Dedupe != nil && p.Dedupe.CheckAndMark(ev.DedupeKey()) {
		p.logger.Debug("Duplicate event skipped",
			"conversationID", ev.ConversationID(),
			"messageID", ev.MessageID,
		)
		return nil, nil
	}

	conversationID := ev.ConversationID()
	conv, _, err := GetOrCreateConversation(ctx, p.Convs, conversationID, ev.Platform, nil, p.now().UTC())
	if err != nil {
		return nil, err
	}

	base := models.Message{
		ConversationID:    conversationID,
		PageID:            ev.PageID,
		CustomerID:        ev.CustomerID,
		Platform:          ev.Platform,
		PlatformMessageID: ev.MessageID,
	}

	if ev.IsEcho {
		base.SenderType = models.SenderBot
		base.SenderRole = models.SenderRoleAdmin
		base.SenderID = ev.PageID
		base.SenderName = ev.PageID
		if p.Pages != nil {
			base.SenderName = p.Pages.PageName(ev.PageID)
		}
	} else {
		profile := p.resolveIdentity(ctx, ev, remoteLookups)
		base.SenderType = models.SenderCustomer
		base.SenderRole = models.SenderRoleCustomer
		base.SenderID = ev.CustomerID
		base.SenderName = profile.Name
		base.CustomerName = profile.Name
		base.CustomerPic = profile.Pic
	}

	if ev.ReplyToMID != "" {
		if target, err := p.Ledger.FindByPlatformID(ctx, ev.ReplyToMID); err == nil {
			base.ReplyToID = &target.ID
		}
	}

	var msgs []*models.Message
	if ev.Text != "" {
		msg := base
		msg.Type = models.MessageText
		msg.Body = ev.Text
		msgs = append(msgs, &msg)
	}
	if len(ev.Attachments) > 0 {
		urls := make([]string, 0, len(ev.Attachments))
		for _, a := range ev.Attachments {
			if a.URL == "" {
				continue
			}
			if p.Media != nil {
				urls = append(urls, p.Media.PersistRemote(ctx, a.URL))
			} else {
				urls = append(urls, a.URL)
			}
		}
		if len(urls) > 0 {
			msg := base
			msg.Type = models.MessageMedia
			msg.Body = strings.Join(urls, "\n")
			if len(msgs) > 0 {
				// Only the first row carries the platform id
				msg.PlatformMessageID = ""
			}
			msgs = append(msgs, &msg)
		}
	}
	if len(msgs) == 0 {
		p.logger.Debug("Event without content skipped", "conversationID", conversationID)
		return nil, nil
	}

	for _, msg := range msgs {
		if err := p.Ledger.Append(ctx, msg); err != nil {
			return nil, err
		}
	}

	if !ev.IsEcho && p.Receipts != nil {
		readAt := ev.Timestamp
		if readAt.IsZero() {
			readAt = msgs[len(msgs)-1].CreatedAt
		}
		if err := p.Receipts.RecordReceipt(ctx, conversationID, models.ReceiptRead, readAt); err != nil {
			p.logger.Warn("Failed to record implicit read", "conversationID", conversationID, "error", err)
		}
	}

	for _, msg := range msgs {
		p.Fanout.Broadcast(EventNewMessage, conv, NewMessageEvent{ConversationID: conversationID, Message: msg})
	}

	p.logger.Info("Message ingested",
		"conversationID", conversationID,
		"messageID", ev.MessageID,
		"echo", ev.IsEcho,
		"rows", len(msgs),
	)
	return msgs, nil
}

func (p *Pipeline) resolveIdentity(ctx context.Context, ev InboundEvent, remoteLookups bool) models.CustomerProfile {
	if p.Identity == nil {
		return models.CustomerProfile{Name: models.PlaceholderName, Source: models.ProfilePlaceholder}
	}
	if !remoteLookups {
		return p.Identity.Cached(ctx, ev.PageID, ev.CustomerID)
	}
	return p.Identity.Resolve(ctx, ev.PageID, ev.CustomerID, ev.Platform)
}

func (p *Pipeline) processReceipt(ctx context.Context, ev InboundEvent) error {
	kind := models.ReceiptDelivered
	if ev.Kind == EventKindRead {
		kind = models.ReceiptRead
	}

	watermark := ev.Timestamp
	if ev.MessageID != "" {
		// Instagram reads name the last read message instead of a watermark
		if msg, err := p.Ledger.FindByPlatformID(ctx, ev.MessageID); err == nil {
			watermark = msg.CreatedAt
		}
	}
	if watermark.IsZero() {
		return nil
	}

	conversationID := ev.ConversationID()
	if err := p.Receipts.RecordReceipt(ctx, conversationID, kind, watermark); err != nil {
		return fmt.Errorf("recording %s receipt: %w", kind, err)
	}

	conv, err := p.Convs.GetConversation(ctx, conversationID)
	if isNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	receipts, err := p.Receipts.GetReceipts(ctx, conversationID)
	if err != nil {
		return err
	}
	p.Fanout.Broadcast(EventConversationMeta, conv, MetaEvent(conv, &receipts))
	return nil
}
