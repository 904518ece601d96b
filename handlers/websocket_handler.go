package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"social-inbox/middleware"
	"social-inbox/models"
	"social-inbox/services"
)

// WebSocketMessage represents an incoming WebSocket message
type WebSocketMessage struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
	Text           string `json:"text,omitempty"`
	ReplyToID      *int64 `json:"reply_to_id,omitempty"`
}

// WebSocketUpgrade upgrades HTTP connection to WebSocket
func WebSocketUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		c.Locals("allowed", true)
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// HandleWebSocket joins the agent to its rooms and pumps events until the
// socket closes
func (h *Handler) HandleWebSocket(c *websocket.Conn) {
	actor, ok := c.Locals(middleware.ActorLocal).(models.Actor)
	if !ok || actor.ID == "" {
		slog.Error("WebSocket connection without actor")
		c.Close()
		return
	}

	conn := &services.WebSocketConnection{
		ID:        uuid.New().String(),
		Conn:      c,
		AgentID:   actor.ID,
		AgentName: actor.Name,
		Rooms:     services.RoomsForAgent(actor),
		Send:      make(chan []byte, 256),
	}

	h.Sockets.RegisterConnection(conn)
	defer h.Sockets.UnregisterConnection(conn)

	welcome := map[string]any{
		"type":     "connected",
		"agent_id": actor.ID,
		"rooms":    conn.Rooms,
	}
	if data, err := json.Marshal(welcome); err == nil {
		c.WriteMessage(websocket.TextMessage, data)
	}

	go handleWebSocketSend(conn)

	h.handleWebSocketReceive(conn, actor)
}

func handleWebSocketSend(conn *services.WebSocketConnection) {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		conn.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				conn.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				slog.Error("Failed to write WebSocket message", "error", err)
				return
			}

		case <-ticker.C:
			conn.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Handler) handleWebSocketReceive(conn *services.WebSocketConnection, actor models.Actor) {
	conn.Conn.SetReadLimit(512 * 1024)
	conn.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.Conn.SetPongHandler(func(string) error {
		conn.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, raw, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("WebSocket read error", "error", err)
			}
			return
		}
		conn.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		var msg WebSocketMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			slog.Warn("Failed to parse WebSocket message", "agentID", actor.ID, "error", err)
			continue
		}

		switch msg.Type {
		case "ping":
			sendWebSocketJSON(conn, map[string]string{"type": "pong"})

		case "send_message":
			h.handleSocketReply(conn, actor, msg)

		default:
			slog.Warn("Unknown WebSocket message type",
				"type", msg.Type,
				"agentID", actor.ID)
		}
	}
}

// handleSocketReply sends an agent text reply typed into the live inbox
func (h *Handler) handleSocketReply(conn *services.WebSocketConnection, actor models.Actor, msg WebSocketMessage) {
	if _, _, ok := models.SplitConversationID(msg.ConversationID); !ok || msg.Text == "" {
		sendWebSocketError(conn, "conversation_id and text are required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sent, err := h.Replies.SendText(ctx, msg.ConversationID, msg.Text, msg.ReplyToID, actor)
	if err != nil {
		slog.Warn("WebSocket reply failed",
			"conversationID", msg.ConversationID,
			"agentID", actor.ID,
			"error", err)
		sendWebSocketError(conn, err.Error())
		return
	}

	sendWebSocketJSON(conn, map[string]any{
		"type":    "message_sent",
		"message": sent,
	})
}

func sendWebSocketError(conn *services.WebSocketConnection, errorMessage string) {
	sendWebSocketJSON(conn, map[string]string{
		"type":  "error",
		"error": errorMessage,
	})
}

func sendWebSocketJSON(conn *services.WebSocketConnection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case conn.Send <- data:
	default:
		slog.Warn("WebSocket connection buffer full", "agentID", conn.AgentID)
	}
}
