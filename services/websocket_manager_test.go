package services

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"social-inbox/models"
)

var conversationOwnedByA = models.Conversation{ID: "100_abc", PageID: "100", CustomerID: "abc", OwnerID: strPtr("A")}

func receive(t *testing.T, ch <-chan []byte) MessagePayload {
	t.Helper()
	select {
	case data := <-ch:
		var p MessagePayload
		require.NoError(t, json.Unmarshal(data, &p))
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered")
	}
	return MessagePayload{}
}

func TestWebSocketManager_RoomDelivery(t *testing.T) {
	m := NewWebSocketManager(16)
	defer m.Close()

	adminConn := &WebSocketConnection{ID: "c1", AgentID: "root", Rooms: RoomsForAgent(admin), Send: make(chan []byte, 4)}
	sellerConn := &WebSocketConnection{ID: "c2", AgentID: "A", Rooms: RoomsForAgent(sellerA), Send: make(chan []byte, 4)}
	otherConn := &WebSocketConnection{ID: "c3", AgentID: "B", Rooms: RoomsForAgent(sellerB), Send: make(chan []byte, 4)}
	m.RegisterConnection(adminConn)
	m.RegisterConnection(sellerConn)
	m.RegisterConnection(otherConn)

	assert.Equal(t, 1, m.GetConnectionCount(RoomAdmin))
	assert.Equal(t, 2, m.GetConnectionCount(RoomUnassigned))

	fanout := NewFanout()
	fanout.Attach(m)

	owned := MetaEvent(&conversationOwnedByA, nil)
	fanout.Broadcast(EventConversationMeta, &conversationOwnedByA, owned)

	got := receive(t, adminConn.Send)
	assert.Equal(t, EventConversationMeta, got.Type)
	assert.Equal(t, RoomAdmin, got.Room)

	got = receive(t, sellerConn.Send)
	assert.Equal(t, "seller:A", got.Room)

	// Seller B sees nothing about A's conversation
	select {
	case <-otherConn.Send:
		t.Fatal("event leaked to another seller")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWebSocketManager_Unregister(t *testing.T) {
	m := NewWebSocketManager(4)
	defer m.Close()

	conn := &WebSocketConnection{ID: "c1", AgentID: "A", Rooms: RoomsForAgent(sellerA), Send: make(chan []byte, 1)}
	m.RegisterConnection(conn)
	m.UnregisterConnection(conn)

	assert.Equal(t, 0, m.GetConnectionCount(RoomUnassigned))
	_, open := <-conn.Send
	assert.False(t, open)

	// Unregistering twice does not close the channel again
	assert.NotPanics(t, func() { m.UnregisterConnection(conn) })
	assert.ErrorIs(t, m.SendToConnection(RoomUnassigned, "c1", []byte("x")), ErrConnectionNotFound)
}

func TestWebSocketManager_SendToConnection(t *testing.T) {
	m := NewWebSocketManager(4)
	defer m.Close()

	conn := &WebSocketConnection{ID: "c1", AgentID: "A", Rooms: []string{RoomAdmin}, Send: make(chan []byte, 1)}
	m.RegisterConnection(conn)

	require.NoError(t, m.SendToConnection(RoomAdmin, "c1", []byte("one")))
	assert.ErrorIs(t, m.SendToConnection(RoomAdmin, "c1", []byte("two")), ErrConnectionBufferFull)
}
