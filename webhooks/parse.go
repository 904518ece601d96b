package webhooks

import (
	"encoding/json"
	"fmt"
	"time"

	"social-inbox/models"
	"social-inbox/services"
)

// ParseEvents normalizes a webhook body into canonical events. Entries it
// does not understand are skipped.
func ParseEvents(body []byte) ([]services.InboundEvent, error) {
	var payload WebhookEvent
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parsing webhook body: %w", err)
	}

	var platform models.Platform
	switch payload.Object {
	case "page":
		platform = models.PlatformFacebook
	case "instagram":
		platform = models.PlatformInstagram
	default:
		return nil, fmt.Errorf("unsupported webhook object %q", payload.Object)
	}

	var events []services.InboundEvent
	for _, entry := range payload.Entry {
		for _, m := range entry.Messaging {
			events = append(events, normalize(platform, entry.ID, m)...)
		}

		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			if len(change.Value.Messages) > 0 {
				for _, m := range change.Value.Messages {
					events = append(events, normalize(platform, entry.ID, m)...)
				}
				continue
			}
			events = append(events, normalize(platform, entry.ID, change.Value.Messaging)...)
		}
	}
	return events, nil
}

// normalize converts one messaging object. The customer is the sender,
// except for echoes where it is the recipient.
func normalize(platform models.Platform, entryID string, m Messaging) []services.InboundEvent {
	pageID, customerID := m.Recipient.ID, m.Sender.ID
	if m.Message != nil && m.Message.IsEcho {
		pageID, customerID = m.Sender.ID, m.Recipient.ID
	}
	if entryID != "" {
		pageID = entryID
	}
	if pageID == "" || customerID == "" {
		return nil
	}

	base := services.InboundEvent{
		Platform:   platform,
		PageID:     pageID,
		CustomerID: customerID,
		Timestamp:  toTime(int64(m.Timestamp)),
	}

	var events []services.InboundEvent
	if m.Message != nil {
		ev := base
		ev.Kind = services.EventKindMessage
		ev.MessageID = m.Message.MID
		ev.Text = m.Message.Text
		ev.IsEcho = m.Message.IsEcho
		if m.Message.ReplyTo != nil {
			ev.ReplyToMID = m.Message.ReplyTo.MID
		}
		for _, a := range m.Message.Attachments {
			if a.Payload.URL == "" {
				continue
			}
			ev.Attachments = append(ev.Attachments, services.InboundAttachment{Type: a.Type, URL: a.Payload.URL})
		}
		events = append(events, ev)
	}

	if m.Delivery != nil && m.Delivery.Watermark > 0 {
		ev := base
		ev.Kind = services.EventKindDelivery
		ev.Timestamp = toTime(int64(m.Delivery.Watermark))
		events = append(events, ev)
	}

	if m.Read != nil && (m.Read.Watermark > 0 || m.Read.MID != "") {
		ev := base
		ev.Kind = services.EventKindRead
		ev.MessageID = m.Read.MID
		if m.Read.Watermark > 0 {
			ev.Timestamp = toTime(int64(m.Read.Watermark))
		}
		events = append(events, ev)
	}
	return events
}

// toTime converts platform timestamps; Instagram change values sometimes use
// seconds instead of milliseconds
func toTime(ts int64) time.Time {
	if ts <= 0 {
		return time.Time{}
	}
	if ts < 1e12 {
		return time.Unix(ts, 0).UTC()
	}
	return time.UnixMilli(ts).UTC()
}
