// Package activity defines the provider-agnostic conversational record that
// flows between the WhatsApp adapter and the bot pipeline.
package activity

import (
	"time"
)

// ChannelWhatsApp is the channel id stamped on every activity produced by the
// WhatsApp adapter.
const ChannelWhatsApp = "whatsapp"

// Kind tags the type of an activity.
type Kind string

const (
	KindUnknown          Kind = ""
	KindMessage          Kind = "message"
	KindMessageSent      Kind = "messageSent"
	KindMessageDelivered Kind = "messageDelivered"
	KindMessageRead      Kind = "messageRead"
	KindMessageQueued    Kind = "messageQueued"
	KindMessageFailed    Kind = "messageFailed"
	KindDelay            Kind = "delay"
	KindEvent            Kind = "event"
	KindTyping           Kind = "typing"
)

// String returns the wire value of the kind, or "unknown" for the zero value.
func (k Kind) String() string {
	if k == KindUnknown {
		return "unknown"
	}
	return string(k)
}

// IsDeliveryReceipt reports whether the kind describes the lifecycle of a
// previously sent message rather than new user input.
func (k Kind) IsDeliveryReceipt() bool {
	switch k {
	case KindMessageSent, KindMessageDelivered, KindMessageRead, KindMessageQueued, KindMessageFailed:
		return true
	default:
		return false
	}
}

// ChannelAccount identifies a participant.
type ChannelAccount struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// ConversationAccount identifies a conversation. For WhatsApp the id is the
// address of the user the bot is talking to.
type ConversationAccount struct {
	ID      string `json:"id"`
	IsGroup bool   `json:"isGroup,omitempty"`
	Name    string `json:"name,omitempty"`
}

// Activity is the unit exchanged with the pipeline.
type Activity struct {
	Type         Kind                `json:"type"`
	ID           string              `json:"id,omitempty"`
	Timestamp    time.Time           `json:"timestamp,omitempty"`
	ChannelID    string              `json:"channelId,omitempty"`
	ServiceURL   string              `json:"serviceUrl,omitempty"`
	Conversation ConversationAccount `json:"conversation"`
	From         ChannelAccount      `json:"from"`
	Recipient    ChannelAccount      `json:"recipient"`
	Text         string              `json:"text,omitempty"`
	Attachments  []Attachment        `json:"attachments"`
	ChannelData  map[string]any      `json:"channelData,omitempty"`
	Label        string              `json:"label,omitempty"`
	ReplyToID    string              `json:"replyToId,omitempty"`
	Name         string              `json:"name,omitempty"`
	Value        any                 `json:"value,omitempty"`

	// RawPayload keeps the decoded provider payload for diagnostics. It is
	// never serialized.
	RawPayload map[string][]string `json:"-"`
}

// ResourceResponse acknowledges one outbound activity.
type ResourceResponse struct {
	ID string `json:"id"`
}

// NewMessage builds an outbound message activity addressed to conversationID.
func NewMessage(conversationID, text string) *Activity {
	return &Activity{
		Type:         KindMessage,
		ChannelID:    ChannelWhatsApp,
		Conversation: ConversationAccount{ID: conversationID},
		Recipient:    ChannelAccount{ID: conversationID},
		Text:         text,
		Attachments:  []Attachment{},
	}
}

// NewDelay builds a delay pseudo-activity pausing for d.
func NewDelay(d time.Duration) *Activity {
	return &Activity{Type: KindDelay, Value: d.Milliseconds()}
}

// Clone returns a copy of a that can be mutated without touching the
// original. Attachment content and channel data values are shared.
func (a *Activity) Clone() *Activity {
	if a == nil {
		return nil
	}
	c := *a
	if a.Attachments != nil {
		c.Attachments = append([]Attachment(nil), a.Attachments...)
	}
	if a.ChannelData != nil {
		c.ChannelData = make(map[string]any, len(a.ChannelData))
		for k, v := range a.ChannelData {
			c.ChannelData[k] = v
		}
	}
	return &c
}
