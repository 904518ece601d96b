package handlers

import (
	"io"
	"log/slog"
	"mime/multipart"

	"github.com/gofiber/fiber/v2"

	"social-inbox/middleware"
	"social-inbox/services"
)

// SendTextRequest is the body of a text reply
type SendTextRequest struct {
	Text      string `json:"text"`
	ReplyToID *int64 `json:"reply_to_id,omitempty"`
}

// ForwardRequest names the message to copy into the target conversation
type ForwardRequest struct {
	MessageID int64 `json:"message_id"`
}

// SimulateRequest is a customer message typed by an admin for testing
type SimulateRequest struct {
	Text string `json:"text"`
}

// SendText sends an agent text reply to the customer
func (h *Handler) SendText(c *fiber.Ctx) error {
	actor, _ := middleware.ActorFrom(c)

	var req SendTextRequest
	if err := c.BodyParser(&req); err != nil {
		return errorResponse(c, services.NewValidationError("body", "must be a JSON object"))
	}

	msg, err := h.Replies.SendText(c.Context(), middleware.ConversationID(c), req.Text, req.ReplyToID, actor)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": msg})
}

// SendMedia sends the uploaded "files" parts as attachments
func (h *Handler) SendMedia(c *fiber.Ctx) error {
	actor, _ := middleware.ActorFrom(c)

	form, err := c.MultipartForm()
	if err != nil {
		return errorResponse(c, services.NewValidationError("files", "must be a multipart upload"))
	}

	headers := form.File["files"]
	if len(headers) == 0 {
		return errorResponse(c, services.NewValidationError("files", "at least one file is required"))
	}

	files := make([]services.OutboundFile, 0, len(headers))
	for _, fh := range headers {
		file, err := readUpload(fh)
		if err != nil {
			slog.Warn("Failed to read upload", "filename", fh.Filename, "error", err)
			return errorResponse(c, services.NewValidationError("files", "could not read "+fh.Filename))
		}
		files = append(files, file)
	}

	msg, err := h.Replies.SendMedia(c.Context(), middleware.ConversationID(c), files, actor)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": msg})
}

func readUpload(fh *multipart.FileHeader) (services.OutboundFile, error) {
	f, err := fh.Open()
	if err != nil {
		return services.OutboundFile{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return services.OutboundFile{}, err
	}

	contentType := fh.Header.Get(fiber.HeaderContentType)
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = services.ContentTypeFor(fh.Filename)
	}
	return services.OutboundFile{
		Filename:    fh.Filename,
		ContentType: contentType,
		Data:        data,
	}, nil
}

// Forward copies an existing message into this conversation
func (h *Handler) Forward(c *fiber.Ctx) error {
	actor, _ := middleware.ActorFrom(c)

	var req ForwardRequest
	if err := c.BodyParser(&req); err != nil || req.MessageID <= 0 {
		return errorResponse(c, services.NewValidationError("message_id", "is required"))
	}

	msg, err := h.Replies.Forward(c.Context(), middleware.ConversationID(c), req.MessageID, actor)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": msg})
}

// SimulateCustomer injects a customer message without touching the platform
func (h *Handler) SimulateCustomer(c *fiber.Ctx) error {
	var req SimulateRequest
	if err := c.BodyParser(&req); err != nil {
		return errorResponse(c, services.NewValidationError("body", "must be a JSON object"))
	}

	msg, err := h.Pipeline.SimulateCustomer(c.Context(), middleware.ConversationID(c), req.Text)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": msg})
}
