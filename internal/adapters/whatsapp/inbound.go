package whatsapp

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	common "github.com/example/whatsapp-channel-adapter/internal/adapters/common"
	"github.com/example/whatsapp-channel-adapter/internal/activity"
	"github.com/example/whatsapp-channel-adapter/internal/webhook"
)

// Twilio webhook field names.
const (
	fieldMessageSID          = "MessageSid"
	fieldFrom                = "From"
	fieldTo                  = "To"
	fieldBody                = "Body"
	fieldProfileName         = "ProfileName"
	fieldMessagingServiceSID = "MessagingServiceSid"
	fieldServiceURL          = "serviceUrl"
	fieldSmsStatus           = "SmsStatus"
	fieldMessageStatus       = "MessageStatus"
	fieldEventType           = "EventType"
	fieldNumMedia            = "NumMedia"
	fieldMediaContentType    = "MediaContentType"
	fieldMediaURL            = "MediaUrl"
	fieldLatitude            = "Latitude"
	fieldLongitude           = "Longitude"
	fieldAddress             = "Address"
)

// MaxMedia is the most media items Twilio attaches to one message.
const MaxMedia = 10

// ClassifierPolicy decides how overlapping classifier rules combine.
type ClassifierPolicy int

const (
	// LastMatchWins evaluates every rule in order; a later matching rule
	// overrides an earlier one.
	LastMatchWins ClassifierPolicy = iota
	// FirstMatchWins stops at the first rule that matches.
	FirstMatchWins
)

// classifierRule maps the values of one payload field to activity kinds.
// Aliases are consulted, in order, when field is absent.
type classifierRule struct {
	field   string
	aliases []string
	table   map[string]activity.Kind
}

func (r classifierRule) value(p webhook.Payload) (string, string, bool) {
	for _, name := range append([]string{r.field}, r.aliases...) {
		if v := strings.TrimSpace(p.Get(name)); v != "" {
			return name, v, true
		}
	}
	return "", "", false
}

// defaultRules classifies by SmsStatus first and EventType second, so with
// LastMatchWins an EventType of read beats a SmsStatus of sent.
var defaultRules = []classifierRule{
	{
		field:   fieldSmsStatus,
		aliases: []string{fieldMessageStatus},
		table: map[string]activity.Kind{
			"sent":        activity.KindMessageSent,
			"received":    activity.KindMessage,
			"delivered":   activity.KindMessageDelivered,
			"read":        activity.KindMessageRead,
			"queued":      activity.KindMessageQueued,
			"failed":      activity.KindMessageFailed,
			"undelivered": activity.KindMessageFailed,
		},
	},
	{
		field: fieldEventType,
		table: map[string]activity.Kind{
			"delivered": activity.KindMessageDelivered,
			"read":      activity.KindMessageRead,
			"received":  activity.KindMessage,
		},
	},
}

// Canonicalizer converts between Twilio payloads and activities.
type Canonicalizer struct {
	phoneNumber string
	logger      zerolog.Logger
	now         func() time.Time
	rules       []classifierRule
	policy      ClassifierPolicy
}

// NewCanonicalizer builds a Canonicalizer sending from settings.PhoneNumber.
// A nil now uses time.Now.
func NewCanonicalizer(settings Settings, logger zerolog.Logger, now func() time.Time) *Canonicalizer {
	if now == nil {
		now = time.Now
	}
	return &Canonicalizer{
		phoneNumber: settings.PhoneNumber,
		logger:      logger,
		now:         now,
		rules:       defaultRules,
		policy:      LastMatchWins,
	}
}

// Canonicalize turns a decoded webhook payload into an activity. The payload
// must already be authenticated.
func (c *Canonicalizer) Canonicalize(p webhook.Payload) (*activity.Activity, error) {
	from := p.Get(fieldFrom)
	a := &activity.Activity{
		Type:         c.classify(p),
		ID:           p.Get(fieldMessageSID),
		Timestamp:    c.now().UTC(),
		ChannelID:    activity.ChannelWhatsApp,
		ServiceURL:   p.Get(fieldServiceURL),
		Conversation: activity.ConversationAccount{ID: from},
		From:         activity.ChannelAccount{ID: from, Name: p.Get(fieldProfileName)},
		Recipient:    activity.ChannelAccount{ID: p.Get(fieldTo)},
		Text:         p.Get(fieldBody),
		Attachments:  []activity.Attachment{},
		ChannelData:  p.ToMap(),
		Label:        p.Get(fieldMessagingServiceSID),
		RawPayload:   p.Clone(),
	}

	if a.Type != activity.KindMessage {
		return a, nil
	}

	media, err := c.media(p)
	if err != nil {
		return nil, err
	}
	a.Attachments = append(a.Attachments, media...)

	geo, ok, err := location(p)
	if err != nil {
		return nil, err
	}
	if ok {
		a.Attachments = append(a.Attachments, geo)
	}
	return a, nil
}

func (c *Canonicalizer) classify(p webhook.Payload) activity.Kind {
	kind := activity.KindUnknown
	for _, rule := range c.rules {
		field, raw, ok := rule.value(p)
		if !ok {
			continue
		}
		matched, known := rule.table[strings.ToLower(raw)]
		if !known {
			c.logger.Warn().
				Str("field", field).
				Str("value", raw).
				Str("message_sid", p.Get(fieldMessageSID)).
				Msg("unrecognized twilio status")
			continue
		}
		kind = matched
		if c.policy == FirstMatchWins {
			break
		}
	}
	return kind
}

func (c *Canonicalizer) media(p webhook.Payload) ([]activity.Attachment, error) {
	raw := strings.TrimSpace(p.Get(fieldNumMedia))
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, &common.CanonicalizationError{Field: fieldNumMedia, Value: raw, Err: err}
	}
	if n < 0 {
		return nil, &common.CanonicalizationError{Field: fieldNumMedia, Value: raw, Err: fmt.Errorf("must not be negative")}
	}
	if n > MaxMedia {
		return nil, &common.CanonicalizationError{Field: fieldNumMedia, Value: raw, Err: fmt.Errorf("must not exceed %d", MaxMedia)}
	}

	out := make([]activity.Attachment, 0, n)
	for i := 0; i < n; i++ {
		contentType := strings.TrimSpace(p.Get(fieldMediaContentType + strconv.Itoa(i)))
		mediaURL := p.Get(fieldMediaURL + strconv.Itoa(i))
		if contentType == "" {
			c.logger.Warn().
				Int("index", i).
				Str("media_url", mediaURL).
				Str("message_sid", p.Get(fieldMessageSID)).
				Msg("skipping media without content type")
			continue
		}
		out = append(out, activity.Attachment{ContentType: contentType, ContentURL: mediaURL})
	}
	return out, nil
}

func location(p webhook.Payload) (activity.Attachment, bool, error) {
	if !p.Has(fieldLatitude) || !p.Has(fieldLongitude) {
		return activity.Attachment{}, false, nil
	}
	lat, err := parseCoordinate(p, fieldLatitude)
	if err != nil {
		return activity.Attachment{}, false, err
	}
	lon, err := parseCoordinate(p, fieldLongitude)
	if err != nil {
		return activity.Attachment{}, false, err
	}
	name := p.Get(fieldAddress)
	return activity.Attachment{
		ContentType: activity.ContentTypeJSON,
		Content: activity.GeoCoordinates{
			Type:      activity.GeoCoordinatesType,
			Latitude:  lat,
			Longitude: lon,
			Name:      name,
		},
		Name: name,
	}, true, nil
}

func parseCoordinate(p webhook.Payload, field string) (float64, error) {
	raw := strings.TrimSpace(p.Get(field))
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, &common.CanonicalizationError{Field: field, Value: raw, Err: err}
	}
	return v, nil
}
