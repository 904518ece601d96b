package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"social-inbox/models"
)

type staticPages map[string]string

func (p staticPages) PageName(pageID string) string {
	if name, ok := p[pageID]; ok {
		return name
	}
	return pageID
}

type pipelineFixture struct {
	store     *SQLStore
	ledger    *Ledger
	receipts  *ReceiptTracker
	publisher *recordingPublisher
	pipeline  *Pipeline
}

func newPipelineFixture(t *testing.T, lookup ProfileLookup) *pipelineFixture {
	t.Helper()
	store := createTestStore(t)
	ledger := NewLedger(store)
	receipts := NewReceiptTracker(store)
	publisher := newRecordingPublisher()
	fanout := NewFanout()
	fanout.Attach(publisher)

	return &pipelineFixture{
		store:     store,
		ledger:    ledger,
		receipts:  receipts,
		publisher: publisher,
		pipeline: NewPipeline(PipelineConfig{
			Dedupe:   NewDedupeCache(time.Minute, 100, 200),
			Ledger:   ledger,
			Convs:    store,
			Receipts: receipts,
			Identity: NewIdentityResolver(store, lookup, ledger),
			Fanout:   fanout,
			Pages:    staticPages{"100": "Tbilisi Shoes"},
		}),
	}
}

func TestPipeline_DuplicateMidStoredOnce(t *testing.T) {
	ctx := context.Background()
	fx := newPipelineFixture(t, &fakeLookup{profile: &ProfileInfo{Name: "Nino"}})

	ev := InboundEvent{
		Kind:       EventKindMessage,
		PageID:     "100",
		CustomerID: "abc",
		MessageID:  "mid.999",
		Text:       "is this available?",
		Timestamp:  time.Now().UTC(),
	}
	fx.pipeline.ProcessAll(ctx, []InboundEvent{ev, ev})
	require.NoError(t, fx.pipeline.Process(ctx, ev))

	msgs, err := fx.ledger.ListByConversation(ctx, "100_abc", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "mid.999", msgs[0].PlatformMessageID)
	assert.Equal(t, "Nino", msgs[0].CustomerName)
	assert.Equal(t, models.PlatformFacebook, msgs[0].Platform)

	assert.Equal(t, []string{RoomAdmin, RoomUnassigned}, fx.publisher.rooms(EventNewMessage))
}

func TestPipeline_FingerprintDedupeWithoutMid(t *testing.T) {
	ctx := context.Background()
	fx := newPipelineFixture(t, nil)

	ev := InboundEvent{Kind: EventKindMessage, PageID: "100", CustomerID: "abc", Text: "hello"}
	require.NoError(t, fx.pipeline.Process(ctx, ev))
	require.NoError(t, fx.pipeline.Process(ctx, ev))

	msgs, err := fx.ledger.ListByConversation(ctx, "100_abc", 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestPipeline_ImplicitReadReceipt(t *testing.T) {
	ctx := context.Background()
	fx := newPipelineFixture(t, nil)

	t1 := time.Now().UTC().Add(-time.Minute).Truncate(time.Millisecond)
	require.NoError(t, fx.pipeline.Process(ctx, InboundEvent{
		Kind:       EventKindMessage,
		PageID:     "100",
		CustomerID: "abc",
		MessageID:  "mid.1",
		Text:       "hi",
		Timestamp:  t1,
	}))

	receipts, err := fx.receipts.GetReceipts(ctx, "100_abc")
	require.NoError(t, err)
	require.NotNil(t, receipts.ReadAt)
	assert.WithinDuration(t, t1, *receipts.ReadAt, time.Millisecond)
}

func TestPipeline_EchoIsPageMessage(t *testing.T) {
	ctx := context.Background()
	lookup := &fakeLookup{profile: &ProfileInfo{Name: "Nino"}}
	fx := newPipelineFixture(t, lookup)

	require.NoError(t, fx.pipeline.Process(ctx, InboundEvent{
		Kind:       EventKindMessage,
		PageID:     "100",
		CustomerID: "abc",
		MessageID:  "mid.echo",
		Text:       "sent from the page inbox",
		IsEcho:     true,
		Timestamp:  time.Now().UTC(),
	}))

	msgs, err := fx.ledger.ListByConversation(ctx, "100_abc", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.SenderBot, msgs[0].SenderType)
	assert.Equal(t, models.SenderRoleAdmin, msgs[0].SenderRole)
	assert.Equal(t, "Tbilisi Shoes", msgs[0].SenderName)
	assert.Equal(t, 0, lookup.callCount(), "echoes never resolve customer identity")

	receipts, err := fx.receipts.GetReceipts(ctx, "100_abc")
	require.NoError(t, err)
	assert.Nil(t, receipts.ReadAt, "echoes are not customer reads")
}

func TestPipeline_TextWithAttachments(t *testing.T) {
	ctx := context.Background()
	fx := newPipelineFixture(t, nil)

	require.NoError(t, fx.pipeline.Process(ctx, InboundEvent{
		Kind:       EventKindMessage,
		PageID:     "100",
		CustomerID: "abc",
		MessageID:  "mid.media",
		Text:       "look at these",
		Attachments: []InboundAttachment{
			{Type: "image", URL: "https://cdn.example/1.jpg"},
			{Type: "image", URL: "https://cdn.example/2.jpg"},
		},
	}))

	msgs, err := fx.ledger.ListByConversation(ctx, "100_abc", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.MessageText, msgs[0].Type)
	assert.Equal(t, "mid.media", msgs[0].PlatformMessageID)
	assert.Equal(t, models.MessageMedia, msgs[1].Type)
	assert.Empty(t, msgs[1].PlatformMessageID)
	assert.Equal(t, []string{"https://cdn.example/1.jpg", "https://cdn.example/2.jpg"}, strings.Split(msgs[1].Body, "\n"))
}

func TestPipeline_ReplyToResolved(t *testing.T) {
	ctx := context.Background()
	fx := newPipelineFixture(t, nil)

	require.NoError(t, fx.pipeline.Process(ctx, InboundEvent{Kind: EventKindMessage, PageID: "100", CustomerID: "abc", MessageID: "mid.a", Text: "first"}))
	require.NoError(t, fx.pipeline.Process(ctx, InboundEvent{Kind: EventKindMessage, PageID: "100", CustomerID: "abc", MessageID: "mid.b", Text: "second", ReplyToMID: "mid.a"}))
	require.NoError(t, fx.pipeline.Process(ctx, InboundEvent{Kind: EventKindMessage, PageID: "100", CustomerID: "abc", MessageID: "mid.c", Text: "third", ReplyToMID: "mid.unknown"}))

	first, err := fx.ledger.FindByPlatformID(ctx, "mid.a")
	require.NoError(t, err)
	second, err := fx.ledger.FindByPlatformID(ctx, "mid.b")
	require.NoError(t, err)
	third, err := fx.ledger.FindByPlatformID(ctx, "mid.c")
	require.NoError(t, err)

	require.NotNil(t, second.ReplyToID)
	assert.Equal(t, first.ID, *second.ReplyToID)
	assert.Nil(t, third.ReplyToID)
}

func TestPipeline_ReceiptsAndMeta(t *testing.T) {
	ctx := context.Background()
	fx := newPipelineFixture(t, nil)

	_, err := NewLockService(fx.store).Claim(ctx, "100_abc", "A")
	require.NoError(t, err)

	watermark := time.Now().UTC().Add(-time.Second).Truncate(time.Millisecond)
	require.NoError(t, fx.pipeline.Process(ctx, InboundEvent{
		Kind:       EventKindDelivery,
		PageID:     "100",
		CustomerID: "abc",
		Timestamp:  watermark,
	}))

	receipts, err := fx.receipts.GetReceipts(ctx, "100_abc")
	require.NoError(t, err)
	require.NotNil(t, receipts.DeliveredAt)
	assert.True(t, receipts.DeliveredAt.Equal(watermark))

	assert.Equal(t, []string{RoomAdmin, "seller:A"}, fx.publisher.rooms(EventConversationMeta))
}

func TestPipeline_InstagramReadByMid(t *testing.T) {
	ctx := context.Background()
	fx := newPipelineFixture(t, nil)

	msg := agentMessage("100_abc", "our reply", time.Now().UTC().Add(-time.Minute).Truncate(time.Millisecond))
	msg.PlatformMessageID = "mid.reply"
	require.NoError(t, fx.ledger.Append(ctx, msg))
	_, _, err := GetOrCreateConversation(ctx, fx.store, "100_abc", models.PlatformInstagram, nil, time.Now())
	require.NoError(t, err)

	require.NoError(t, fx.pipeline.Process(ctx, InboundEvent{
		Kind:       EventKindRead,
		Platform:   models.PlatformInstagram,
		PageID:     "100",
		CustomerID: "abc",
		MessageID:  "mid.reply",
	}))

	receipts, err := fx.receipts.GetReceipts(ctx, "100_abc")
	require.NoError(t, err)
	require.NotNil(t, receipts.ReadAt)
	assert.True(t, receipts.ReadAt.Equal(msg.CreatedAt))
}

func TestPipeline_RejectsIncompleteEvents(t *testing.T) {
	fx := newPipelineFixture(t, nil)

	err := fx.pipeline.Process(context.Background(), InboundEvent{Kind: EventKindMessage, PageID: "100"})
	assert.True(t, IsValidation(err))

	err = fx.pipeline.Process(context.Background(), InboundEvent{Kind: "reaction", PageID: "100", CustomerID: "abc"})
	assert.True(t, IsValidation(err))
}

func TestPipeline_SimulateCustomer(t *testing.T) {
	ctx := context.Background()
	lookup := &fakeLookup{profile: &ProfileInfo{Name: "Nino"}}
	fx := newPipelineFixture(t, lookup)

	msg, err := fx.pipeline.SimulateCustomer(ctx, "100_abc", "test order please")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(msg.PlatformMessageID, "sim."))
	assert.Equal(t, models.SenderCustomer, msg.SenderType)
	assert.Equal(t, models.PlaceholderName, msg.SenderName)
	assert.Equal(t, 0, lookup.callCount())

	_, err = fx.pipeline.SimulateCustomer(ctx, "100_abc", "   ")
	assert.True(t, IsValidation(err))
	_, err = fx.pipeline.SimulateCustomer(ctx, "bad", "hi")
	assert.True(t, IsValidation(err))
}

func TestInboundEvent_DedupeKey(t *testing.T) {
	withMid := InboundEvent{PageID: "100", CustomerID: "abc", MessageID: "m1"}
	assert.Equal(t, "mid:m1", withMid.DedupeKey())

	a := InboundEvent{PageID: "100", CustomerID: "abc", Attachments: []InboundAttachment{{URL: "u2"}, {URL: "u1"}}}
	b := InboundEvent{PageID: "100", CustomerID: "abc", Attachments: []InboundAttachment{{URL: "u1"}, {URL: "u2"}}}
	assert.Equal(t, a.DedupeKey(), b.DedupeKey(), "attachment order does not matter")
	assert.True(t, strings.HasPrefix(a.DedupeKey(), "fp:"))

	c := InboundEvent{PageID: "100", CustomerID: "abc", Text: "different"}
	assert.NotEqual(t, a.DedupeKey(), c.DedupeKey())
}
