package webhooks

import (
	"encoding/json"
	"strconv"
	"strings"
)

// WebhookEvent represents the main webhook payload from Facebook or Instagram
type WebhookEvent struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry represents a page (or Instagram account) entry in the webhook
type Entry struct {
	ID        string      `json:"id"`
	Time      FlexInt     `json:"time"`
	Messaging []Messaging `json:"messaging,omitempty"`
	Changes   []Change    `json:"changes,omitempty"`
}

// Messaging represents a messaging event
type Messaging struct {
	Sender    User      `json:"sender"`
	Recipient User      `json:"recipient"`
	Timestamp FlexInt   `json:"timestamp"`
	Message   *Message  `json:"message,omitempty"`
	Delivery  *Delivery `json:"delivery,omitempty"`
	Read      *Read     `json:"read,omitempty"`
}

// User represents a platform user or page
type User struct {
	ID string `json:"id"`
}

// Message represents a message
type Message struct {
	MID         string       `json:"mid"`
	Text        string       `json:"text"`
	IsEcho      bool         `json:"is_echo,omitempty"`
	ReplyTo     *ReplyTo     `json:"reply_to,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// ReplyTo references the message being answered
type ReplyTo struct {
	MID string `json:"mid"`
}

// Attachment represents a message attachment
type Attachment struct {
	Type    string  `json:"type"`
	Payload Payload `json:"payload"`
}

// Payload represents attachment payload
type Payload struct {
	URL string `json:"url"`
}

// Delivery is a delivery receipt
type Delivery struct {
	MIDs      []string `json:"mids,omitempty"`
	Watermark FlexInt  `json:"watermark"`
}

// Read is a read receipt. Instagram sends the last read mid instead of a
// watermark.
type Read struct {
	Watermark FlexInt `json:"watermark,omitempty"`
	MID       string  `json:"mid,omitempty"`
}

// Change represents a changes[] event
type Change struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

// ChangeValue of a "messages" change is either a single messaging object or
// carries messages[]
type ChangeValue struct {
	Messaging
	Messages []Messaging `json:"messages,omitempty"`
}

// FlexInt accepts JSON numbers and numeric strings
type FlexInt int64

// UnmarshalJSON implements json.Unmarshaler
func (f *FlexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		var fl float64
		if ferr := json.Unmarshal([]byte(s), &fl); ferr != nil {
			return err
		}
		n = int64(fl)
	}
	*f = FlexInt(n)
	return nil
}
