package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"social-inbox/services"
)

// EventProcessor consumes normalized events
type EventProcessor interface {
	ProcessAll(ctx context.Context, events []services.InboundEvent)
}

// Handler serves the platform webhook endpoints
type Handler struct {
	processor   EventProcessor
	verifyToken string
	appSecret   string
	timeout     time.Duration
}

// NewHandler creates a webhook handler. An empty appSecret disables the
// signature check.
func NewHandler(processor EventProcessor, verifyToken, appSecret string) *Handler {
	return &Handler{
		processor:   processor,
		verifyToken: verifyToken,
		appSecret:   appSecret,
		timeout:     2 * time.Minute,
	}
}

// RegisterRoutes mounts GET and POST /webhook
func RegisterRoutes(app *fiber.App, h *Handler) {
	webhook := app.Group("/webhook")

	// Webhook verification endpoint
	webhook.Get("/", h.verifyWebhook)

	// Webhook event handler
	webhook.Post("/", h.handleWebhookEvent)
}

// verifyWebhook handles the subscription handshake
func (h *Handler) verifyWebhook(c *fiber.Ctx) error {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode == "subscribe" && token != "" && token == h.verifyToken {
		slog.Info("Webhook verified successfully")
		return c.SendString(challenge)
	}

	slog.Warn("Webhook verification failed", "mode", mode)
	return c.SendStatus(fiber.StatusForbidden)
}

// handleWebhookEvent always acknowledges so the platform never retries;
// failures are only logged
func (h *Handler) handleWebhookEvent(c *fiber.Ctx) error {
	// The request body buffer is reused after the handler returns
	body := append([]byte(nil), c.Body()...)

	if h.appSecret != "" && !validSignature(h.appSecret, c.Get("X-Hub-Signature-256"), body) {
		slog.Warn("Webhook signature mismatch, event dropped")
		return c.SendString("EVENT_RECEIVED")
	}

	events, err := ParseEvents(body)
	if err != nil {
		slog.Error("Failed to parse webhook body", "error", err)
		return c.SendString("EVENT_RECEIVED")
	}

	if len(events) > 0 {
		// Process webhook asynchronously
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
			defer cancel()
			h.processor.ProcessAll(ctx, events)
		}()
	}

	// Return immediately to the platform
	return c.SendString("EVENT_RECEIVED")
}

// validSignature checks X-Hub-Signature-256: sha256=<hex hmac of body>
func validSignature(secret, header string, body []byte) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	expected, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}
