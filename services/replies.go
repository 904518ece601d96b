package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"social-inbox/models"
)

// OutboundFile is one file of a media reply
type OutboundFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ReplyConfig wires the reply service
type ReplyConfig struct {
	Locks  *LockService
	Ledger *Ledger
	Convs  ConversationStore
	Sender MessageSender
	Media  *MediaStore
	Dedupe Deduper
	Fanout *Fanout
}

// ReplyService sends agent replies: lock check, platform send, ledger append,
// then fan-out
type ReplyService struct {
	ReplyConfig
	now    func() time.Time
	logger *slog.Logger
}

// NewReplyService creates a reply service
func NewReplyService(cfg ReplyConfig) *ReplyService {
	return &ReplyService{
		ReplyConfig: cfg,
		now:         time.Now,
		logger:      slog.Default().With("component", "replies"),
	}
}

// authorize lets admins through and makes sellers hold the lock
func (s *ReplyService) authorize(ctx context.Context, conversationID string, actor models.Actor) (*models.Conversation, error) {
	if !actor.IsAdmin() {
		if err := s.Locks.Enforce(ctx, conversationID, actor.ID); err != nil {
			return nil, err
		}
	}
	conv, _, err := s.Locks.GetOrCreate(ctx, conversationID, "", nil)
	return conv, err
}

// canRead applies the listing rules to a message source: sellers may not
// read conversations owned by another agent
func (s *ReplyService) canRead(ctx context.Context, conversationID string, actor models.Actor) error {
	if actor.IsAdmin() {
		return nil
	}
	conv, err := s.Convs.GetConversation(ctx, conversationID)
	if isNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading source conversation: %w", err)
	}
	if conv.OwnerID != nil && !conv.IsOwnedBy(actor.ID) {
		s.logger.Info("Forward from foreign conversation refused",
			"conversationID", conversationID,
			"agentID", actor.ID,
		)
		return forbidden("source message belongs to another agent's conversation")
	}
	return nil
}

func upstream(err error) error {
	if errors.Is(err, ErrUpstream) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUpstream, err)
}

// markSent records the platform id so the echo webhook is not stored twice
func (s *ReplyService) markSent(mid string) {
	if mid != "" && s.Dedupe != nil {
		s.Dedupe.CheckAndMark(MIDKey(mid))
	}
}

func (s *ReplyService) record(ctx context.Context, conv *models.Conversation, actor models.Actor, msg *models.Message) error {
	msg.ConversationID = conv.ID
	msg.PageID = conv.PageID
	msg.CustomerID = conv.CustomerID
	msg.Platform = conv.Platform
	msg.SenderType = models.SenderBot
	msg.SenderRole = actor.SenderRole()
	msg.SenderID = actor.ID
	msg.SenderName = actor.Name
	msg.CreatedAt = s.now().UTC()

	if err := s.Ledger.Append(ctx, msg); err != nil {
		return err
	}

	// Ownership may have changed through Enforce
	if current, err := s.Convs.GetConversation(ctx, conv.ID); err == nil {
		conv = current
	}
	s.Fanout.Broadcast(EventNewMessage, conv, NewMessageEvent{ConversationID: conv.ID, Message: msg})
	return nil
}

// SendText sends a text reply, optionally quoting another message of the
// same conversation
func (s *ReplyService) SendText(ctx context.Context, conversationID, text string, replyToID *int64, actor models.Actor) (*models.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, NewValidationError("text", "is required")
	}

	conv, err := s.authorize(ctx, conversationID, actor)
	if err != nil {
		return nil, err
	}

	replyToMID := ""
	if replyToID != nil {
		target, err := s.Ledger.Get(ctx, *replyToID)
		if err != nil || target.ConversationID != conversationID {
			return nil, NewValidationError("reply_to_id", "must reference a message of this conversation")
		}
		replyToMID = target.PlatformMessageID
	}

	result, err := s.Sender.SendText(ctx, conv.PageID, conv.CustomerID, text, replyToMID)
	if err != nil {
		s.logger.Error("Failed to send text reply",
			"conversationID", conversationID,
			"agentID", actor.ID,
			"error", err,
		)
		return nil, upstream(err)
	}
	s.markSent(result.MessageID)

	msg := &models.Message{
		Type:              models.MessageText,
		Body:              text,
		ReplyToID:         replyToID,
		PlatformMessageID: result.MessageID,
	}
	if err := s.record(ctx, conv, actor, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// SendMedia stores the files, sends each one and records a single ledger
// entry listing every file. Sends are not rolled back: a partial failure is
// logged and still recorded, only a total failure returns ErrUpstream.
func (s *ReplyService) SendMedia(ctx context.Context, conversationID string, files []OutboundFile, actor models.Actor) (*models.Message, error) {
	if len(files) == 0 {
		return nil, NewValidationError("files", "at least one file is required")
	}

	conv, err := s.authorize(ctx, conversationID, actor)
	if err != nil {
		return nil, err
	}

	urls := make([]string, 0, len(files))
	sent := 0
	lastMID := ""
	for _, f := range files {
		link, err := s.Media.SaveUpload(f.Filename, f.ContentType, f.Data)
		if err != nil {
			return nil, fmt.Errorf("storing upload: %w", err)
		}
		urls = append(urls, link)

		mid, err := s.sendFile(ctx, conv, f.Filename, f.ContentType, f.Data)
		if err != nil {
			s.logger.Error("Failed to send media file",
				"conversationID", conversationID,
				"file", f.Filename,
				"error", err,
			)
			continue
		}
		sent++
		lastMID = mid
	}

	if sent == 0 {
		return nil, fmt.Errorf("%w: no file could be sent", ErrUpstream)
	}

	msg := &models.Message{
		Type:              models.MessageMedia,
		Body:              strings.Join(urls, "\n"),
		PlatformMessageID: lastMID,
	}
	if err := s.record(ctx, conv, actor, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// sendFile uploads data and sends it by attachment id
func (s *ReplyService) sendFile(ctx context.Context, conv *models.Conversation, filename, contentType string, data []byte) (string, error) {
	kind := AttachmentKind(contentType)
	attachmentID, err := s.Sender.UploadAttachment(ctx, conv.PageID, kind, filename, data)
	if err != nil {
		return "", err
	}
	result, err := s.Sender.SendAttachmentByID(ctx, conv.PageID, conv.CustomerID, kind, attachmentID)
	if err != nil {
		return "", err
	}
	s.markSent(result.MessageID)
	return result.MessageID, nil
}

// Forward sends the content of an existing message to another conversation
func (s *ReplyService) Forward(ctx context.Context, targetConversationID string, messageID int64, actor models.Actor) (*models.Message, error) {
	source, err := s.Ledger.Get(ctx, messageID)
	if isNotFound(err) {
		return nil, NewValidationError("message_id", "message not found")
	}
	if err != nil {
		return nil, err
	}
	if err := s.canRead(ctx, source.ConversationID, actor); err != nil {
		return nil, err
	}

	if source.Type != models.MessageMedia {
		return s.SendText(ctx, targetConversationID, source.Body, nil, actor)
	}

	conv, err := s.authorize(ctx, targetConversationID, actor)
	if err != nil {
		return nil, err
	}

	links := strings.Split(source.Body, "\n")
	sent := 0
	lastMID := ""
	for _, link := range links {
		mid, err := s.forwardLink(ctx, conv, link)
		if err != nil {
			s.logger.Error("Failed to forward media",
				"conversationID", targetConversationID,
				"url", link,
				"error", err,
			)
			continue
		}
		sent++
		lastMID = mid
	}
	if sent == 0 {
		return nil, fmt.Errorf("%w: no file could be forwarded", ErrUpstream)
	}

	msg := &models.Message{
		Type:              models.MessageMedia,
		Body:              source.Body,
		PlatformMessageID: lastMID,
	}
	if err := s.record(ctx, conv, actor, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// forwardLink re-uploads owned files and lets the platform fetch the rest
func (s *ReplyService) forwardLink(ctx context.Context, conv *models.Conversation, link string) (string, error) {
	if s.Media != nil {
		if data, name, ok := s.Media.ReadOwned(link); ok {
			return s.sendFile(ctx, conv, name, ContentTypeFor(name), data)
		}
	}
	kind := AttachmentKind(ContentTypeFor(path.Base(link)))
	result, err := s.Sender.SendAttachmentURL(ctx, conv.PageID, conv.CustomerID, kind, link)
	if err != nil {
		return "", err
	}
	s.markSent(result.MessageID)
	return result.MessageID, nil
}
