package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"social-inbox/models"
)

func createTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "inbox.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

func strPtr(s string) *string { return &s }

func customerMessage(conversationID, body string, at time.Time) *models.Message {
	pageID, customerID, _ := models.SplitConversationID(conversationID)
	return &models.Message{
		ConversationID: conversationID,
		PageID:         pageID,
		CustomerID:     customerID,
		Platform:       models.PlatformFacebook,
		SenderType:     models.SenderCustomer,
		SenderRole:     models.SenderRoleCustomer,
		SenderID:       customerID,
		SenderName:     "Nino",
		Type:           models.MessageText,
		Body:           body,
		CreatedAt:      at,
	}
}

func agentMessage(conversationID, body string, at time.Time) *models.Message {
	msg := customerMessage(conversationID, body, at)
	msg.SenderType = models.SenderBot
	msg.SenderRole = models.SenderRoleSeller
	msg.SenderID = "seller-1"
	msg.SenderName = "Seller"
	return msg
}

// recordingPublisher captures fan-out calls
type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

type publishedEvent struct {
	Room    string
	Event   string
	Payload any
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{}
}

func (p *recordingPublisher) Publish(room, event string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{Room: room, Event: event, Payload: payload})
	return nil
}

func (p *recordingPublisher) rooms(event string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var rooms []string
	for _, e := range p.events {
		if e.Event == event {
			rooms = append(rooms, e.Room)
		}
	}
	return rooms
}
