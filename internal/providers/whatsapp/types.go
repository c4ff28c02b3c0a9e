package whatsapp

import (
	"context"
	"errors"
	"strings"
	"time"
)

// AddressPrefix is the channel scheme Twilio requires on WhatsApp addresses.
const AddressPrefix = "whatsapp:"

// ErrEmptyMessage is returned by Validate when a message has neither a body
// nor a media URL.
var ErrEmptyMessage = errors.New("message requires a body or a media url")

// OutboundMessage is the flat submission record Twilio's Messages resource
// accepts.
type OutboundMessage struct {
	From             string
	To               string
	Body             string
	MediaURL         string
	PersistentAction []string
	StatusCallback   string
}

// Validate enforces that the message carries something to deliver.
func (m *OutboundMessage) Validate() error {
	if m == nil || (strings.TrimSpace(m.Body) == "" && strings.TrimSpace(m.MediaURL) == "") {
		return ErrEmptyMessage
	}
	return nil
}

// RawResponse captures the low-level provider response for a WhatsApp send.
type RawResponse struct {
	ID        string
	Code      int
	Status    string
	Body      string
	Timestamp time.Time
}

// Provider dispatches outbound messages. Implementations are stateless per
// call and safe for concurrent use.
type Provider interface {
	Send(ctx context.Context, msg *OutboundMessage) (*RawResponse, error)
}

// FormatAddress adds the whatsapp: scheme to number when missing.
func FormatAddress(number string) string {
	trimmed := strings.TrimSpace(number)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(trimmed), AddressPrefix) {
		return AddressPrefix + strings.TrimSpace(trimmed[len(AddressPrefix):])
	}
	return AddressPrefix + trimmed
}

// StripAddress removes the whatsapp: scheme.
func StripAddress(address string) string {
	trimmed := strings.TrimSpace(address)
	if strings.HasPrefix(strings.ToLower(trimmed), AddressPrefix) {
		return strings.TrimSpace(trimmed[len(AddressPrefix):])
	}
	return trimmed
}
