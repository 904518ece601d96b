package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// DefaultGraphAPI is the Graph API base used when none is configured
const DefaultGraphAPI = "https://graph.facebook.com/v19.0"

// SendResult is the Graph API answer to a send call
type SendResult struct {
	RecipientID string `json:"recipient_id"`
	MessageID   string `json:"message_id"`
}

// MessageSender delivers agent replies to the platform
type MessageSender interface {
	SendText(ctx context.Context, pageID, recipientID, text, replyToMID string) (*SendResult, error)
	SendAttachmentByID(ctx context.Context, pageID, recipientID, kind, attachmentID string) (*SendResult, error)
	SendAttachmentURL(ctx context.Context, pageID, recipientID, kind, url string) (*SendResult, error)
	UploadAttachment(ctx context.Context, pageID, kind, filename string, data []byte) (string, error)
}

// GraphClient talks to the Messenger Platform on behalf of pages
type GraphClient struct {
	baseURL string
	client  *http.Client
	tokens  TokenSource
	limiter *RateLimiter
}

// NewGraphClient creates a client. limiter may be nil.
func NewGraphClient(baseURL string, tokens TokenSource, limiter *RateLimiter) *GraphClient {
	if baseURL == "" {
		baseURL = DefaultGraphAPI
	}
	return &GraphClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
		tokens:  tokens,
		limiter: limiter,
	}
}

// AttachmentKind maps a MIME type onto the platform attachment type
func AttachmentKind(contentType string) string {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return "image"
	case strings.HasPrefix(contentType, "video/"):
		return "video"
	case strings.HasPrefix(contentType, "audio/"):
		return "audio"
	}
	return "file"
}

type graphRecipient struct {
	ID string `json:"id"`
}

type graphReplyTo struct {
	MID string `json:"mid"`
}

type graphAttachment struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type graphMessage struct {
	Text       string           `json:"text,omitempty"`
	Attachment *graphAttachment `json:"attachment,omitempty"`
	ReplyTo    *graphReplyTo    `json:"reply_to,omitempty"`
}

type graphSendRequest struct {
	Recipient     graphRecipient `json:"recipient"`
	MessagingType string         `json:"messaging_type"`
	Message       graphMessage   `json:"message"`
}

// SendText sends a text message, optionally as a reply to replyToMID
func (g *GraphClient) SendText(ctx context.Context, pageID, recipientID, text, replyToMID string) (*SendResult, error) {
	msg := graphMessage{Text: text}
	if replyToMID != "" {
		msg.ReplyTo = &graphReplyTo{MID: replyToMID}
	}
	return g.send(ctx, pageID, recipientID, msg)
}

// SendAttachmentByID sends a previously uploaded attachment
func (g *GraphClient) SendAttachmentByID(ctx context.Context, pageID, recipientID, kind, attachmentID string) (*SendResult, error) {
	return g.send(ctx, pageID, recipientID, graphMessage{
		Attachment: &graphAttachment{
			Type:    kind,
			Payload: map[string]any{"attachment_id": attachmentID},
		},
	})
}

// SendAttachmentURL sends an attachment the platform fetches from url
func (g *GraphClient) SendAttachmentURL(ctx context.Context, pageID, recipientID, kind, url string) (*SendResult, error) {
	return g.send(ctx, pageID, recipientID, graphMessage{
		Attachment: &graphAttachment{
			Type:    kind,
			Payload: map[string]any{"url": url, "is_reusable": true},
		},
	})
}

func (g *GraphClient) send(ctx context.Context, pageID, recipientID string, msg graphMessage) (*SendResult, error) {
	payload := graphSendRequest{
		Recipient:     graphRecipient{ID: recipientID},
		MessagingType: "RESPONSE",
		Message:       msg,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	var result SendResult
	url := fmt.Sprintf("%s/%s/messages", g.baseURL, pageID)
	if err := g.do(ctx, pageID, http.MethodPost, url, "application/json", bytes.NewReader(jsonData), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// UploadAttachment uploads data and returns the reusable attachment id
func (g *GraphClient) UploadAttachment(ctx context.Context, pageID, kind, filename string, data []byte) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	message, err := json.Marshal(map[string]any{
		"attachment": map[string]any{
			"type":    kind,
			"payload": map[string]any{"is_reusable": true},
		},
	})
	if err != nil {
		return "", err
	}
	if err := writer.WriteField("message", string(message)); err != nil {
		return "", err
	}
	part, err := writer.CreateFormFile("filedata", filename)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	var result struct {
		AttachmentID string `json:"attachment_id"`
	}
	url := fmt.Sprintf("%s/%s/message_attachments", g.baseURL, pageID)
	if err := g.do(ctx, pageID, http.MethodPost, url, writer.FormDataContentType(), &buf, &result); err != nil {
		return "", err
	}
	if result.AttachmentID == "" {
		return "", fmt.Errorf("%w: upload returned no attachment id", ErrUpstream)
	}
	return result.AttachmentID, nil
}

// do performs an authenticated Graph call and decodes the JSON answer into out
func (g *GraphClient) do(ctx context.Context, pageID, method, url, contentType string, body io.Reader, out any) error {
	token, err := g.tokens.Token(pageID)
	if err != nil {
		return err
	}
	if method == http.MethodPost {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading response: %v", ErrUpstream, err)
	}

	if resp.StatusCode != http.StatusOK {
		slog.Error("Graph API error",
			"status", resp.StatusCode,
			"body", string(respBody),
			"pageID", pageID)
		return fmt.Errorf("%w: graph api returned %s", ErrUpstream, resp.Status)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: decoding response: %v", ErrUpstream, err)
	}
	return nil
}
