package services

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
)

// WebSocket errors
var (
	ErrConnectionNotFound   = errors.New("connection not found")
	ErrConnectionBufferFull = errors.New("connection buffer full")
	ErrBroadcastQueueFull   = errors.New("broadcast queue full")
)

// WebSocketManager manages agent WebSocket connections grouped by room
type WebSocketManager struct {
	// Map of room to map of connection ID to connection
	rooms     map[string]map[string]*WebSocketConnection
	mu        sync.RWMutex
	broadcast chan BroadcastMessage
	done      chan struct{}
	closeOnce sync.Once
}

// WebSocketConnection represents a single WebSocket connection
type WebSocketConnection struct {
	ID        string
	Conn      *websocket.Conn
	AgentID   string
	AgentName string
	Rooms     []string
	Send      chan []byte
}

// BroadcastMessage represents a message to broadcast
type BroadcastMessage struct {
	Room string
	Type string
	Data any
}

// MessagePayload represents the structure of WebSocket messages
type MessagePayload struct {
	Type      string `json:"type"`
	Room      string `json:"room"`
	Data      any    `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

// NewWebSocketManager creates a manager and starts its broadcast loop
func NewWebSocketManager(queueSize int) *WebSocketManager {
	if queueSize <= 0 {
		queueSize = 256
	}
	m := &WebSocketManager{
		rooms:     make(map[string]map[string]*WebSocketConnection),
		broadcast: make(chan BroadcastMessage, queueSize),
		done:      make(chan struct{}),
	}
	go m.handleBroadcast()
	return m
}

// Close stops the broadcast loop
func (m *WebSocketManager) Close() {
	m.closeOnce.Do(func() { close(m.done) })
}

// RegisterConnection joins conn to each of its rooms
func (m *WebSocketManager) RegisterConnection(conn *WebSocketConnection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, room := range conn.Rooms {
		if m.rooms[room] == nil {
			m.rooms[room] = make(map[string]*WebSocketConnection)
		}
		m.rooms[room][conn.ID] = conn
	}

	slog.Info("WebSocket connection registered",
		"connectionID", conn.ID,
		"agentID", conn.AgentID,
		"rooms", conn.Rooms)
}

// UnregisterConnection removes a WebSocket connection from all its rooms
func (m *WebSocketManager) UnregisterConnection(conn *WebSocketConnection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := false
	for _, room := range conn.Rooms {
		roomConns, exists := m.rooms[room]
		if !exists {
			continue
		}
		if _, exists := roomConns[conn.ID]; exists {
			delete(roomConns, conn.ID)
			removed = true
		}
		// Clean up empty room map
		if len(roomConns) == 0 {
			delete(m.rooms, room)
		}
	}

	if removed {
		close(conn.Send)
		slog.Info("WebSocket connection unregistered",
			"connectionID", conn.ID,
			"agentID", conn.AgentID)
	}
}

// Publish queues an event for a room without blocking the caller
func (m *WebSocketManager) Publish(room, event string, payload any) error {
	select {
	case m.broadcast <- BroadcastMessage{Room: room, Type: event, Data: payload}:
		return nil
	default:
		return ErrBroadcastQueueFull
	}
}

// handleBroadcast processes broadcast messages
func (m *WebSocketManager) handleBroadcast() {
	for {
		select {
		case <-m.done:
			return
		case message := <-m.broadcast:
			m.deliver(message)
		}
	}
}

func (m *WebSocketManager) deliver(message BroadcastMessage) {
	payload := MessagePayload{
		Type:      message.Type,
		Room:      message.Room,
		Data:      message.Data,
		Timestamp: time.Now().UnixMilli(),
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Failed to marshal WebSocket message", "error", err)
		return
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, conn := range m.rooms[message.Room] {
		select {
		case conn.Send <- jsonData:
			// Message sent successfully
		default:
			// Connection buffer full, skip
			slog.Warn("WebSocket connection buffer full",
				"room", message.Room,
				"agentID", conn.AgentID)
		}
	}
}

// SendToConnection sends a message to a specific connection in room
func (m *WebSocketManager) SendToConnection(room, connectionID string, data []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if roomConns, exists := m.rooms[room]; exists {
		if conn, exists := roomConns[connectionID]; exists {
			select {
			case conn.Send <- data:
				return nil
			default:
				return ErrConnectionBufferFull
			}
		}
	}
	return ErrConnectionNotFound
}

// GetConnectionCount returns the number of active connections in a room
func (m *WebSocketManager) GetConnectionCount(room string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms[room])
}
