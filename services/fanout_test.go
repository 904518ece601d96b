package services

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"social-inbox/models"
)

func TestRoomsFor(t *testing.T) {
	assert.Equal(t, []string{RoomAdmin, RoomUnassigned}, RoomsFor(&models.Conversation{ID: "100_abc"}))
	assert.Equal(t, []string{RoomAdmin, "seller:A"}, RoomsFor(&models.Conversation{ID: "100_abc", OwnerID: strPtr("A")}))
	assert.Equal(t, []string{RoomAdmin, RoomUnassigned}, RoomsFor(nil))
}

func TestRoomsForAgent(t *testing.T) {
	assert.Equal(t, []string{RoomAdmin}, RoomsForAgent(admin))
	assert.Equal(t, []string{"seller:A", RoomUnassigned}, RoomsForAgent(sellerA))
}

type failingPublisher struct{}

func (failingPublisher) Publish(room, event string, payload any) error {
	return errors.New("broker down")
}

func TestFanout_RoutesToEveryTransport(t *testing.T) {
	f := NewFanout()
	first, second := newRecordingPublisher(), newRecordingPublisher()
	f.Attach(failingPublisher{})
	f.Attach(first)
	f.Attach(second)

	conv := &models.Conversation{ID: "100_abc", OwnerID: strPtr("A")}
	f.Broadcast(EventConversationMeta, conv, MetaEvent(conv, nil))

	assert.Equal(t, []string{RoomAdmin, "seller:A"}, first.rooms(EventConversationMeta))
	assert.Equal(t, []string{RoomAdmin, "seller:A"}, second.rooms(EventConversationMeta))
}

func TestFanout_NilAndEmpty(t *testing.T) {
	var f *Fanout
	assert.NotPanics(t, func() { f.Broadcast(EventNewMessage, nil, nil) })
	assert.NotPanics(t, func() { NewFanout().Broadcast(EventNewMessage, nil, nil) })
}
