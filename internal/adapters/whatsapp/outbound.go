package whatsapp

import (
	"fmt"
	"strconv"
	"strings"

	common "github.com/example/whatsapp-channel-adapter/internal/adapters/common"
	"github.com/example/whatsapp-channel-adapter/internal/activity"
	waprovider "github.com/example/whatsapp-channel-adapter/internal/providers/whatsapp"
)

// Channel data keys honoured on outbound activities.
const (
	channelDataPersistentAction = "persistentAction"
	channelDataStatusCallback   = "statusCallback"
)

// ToProviderMessage converts an outbound activity into a Twilio message. Only
// the first attachment is considered; WhatsApp accepts one media item per
// message. a is not modified.
func (c *Canonicalizer) ToProviderMessage(a *activity.Activity) (*waprovider.OutboundMessage, error) {
	if a == nil {
		return nil, &common.InvalidActivityError{Reason: "activity is nil"}
	}

	msg := &waprovider.OutboundMessage{
		From: c.phoneNumber,
		To:   a.Conversation.ID,
		Body: ConvertMarkup(a.Text),
	}
	msg.PersistentAction = persistentActions(a.ChannelData[channelDataPersistentAction])
	if cb, ok := a.ChannelData[channelDataStatusCallback].(string); ok {
		msg.StatusCallback = strings.TrimSpace(cb)
	}

	if len(a.Attachments) > 0 {
		c.applyAttachment(msg, a.ID, a.Attachments[0])
	}

	if err := msg.Validate(); err != nil {
		return nil, &common.InvalidActivityError{
			ActivityID: a.ID,
			Reason:     "an activity text or attachment with contentUrl must be specified",
		}
	}
	return msg, nil
}

func (c *Canonicalizer) applyAttachment(msg *waprovider.OutboundMessage, activityID string, att activity.Attachment) {
	switch att.Kind() {
	case activity.AttachmentSigninCard:
		card, ok := activity.AsSigninCard(att.Content)
		if !ok {
			c.logger.Warn().Str("activity_id", activityID).Msg("ignoring malformed signin card")
			return
		}
		msg.Body = signinBody(card)
	case activity.AttachmentJSON:
		geo, ok := activity.AsGeoCoordinates(att.Content)
		if !ok {
			c.logger.Warn().Str("activity_id", activityID).Msg("ignoring json attachment that is not a location")
			return
		}
		msg.PersistentAction = append(msg.PersistentAction, geoAction(geo))
	case activity.AttachmentMedia:
		if strings.TrimSpace(att.ContentURL) == "" {
			c.logger.Warn().
				Str("activity_id", activityID).
				Str("content_type", att.ContentType).
				Msg("attachment ignored: attachments without contentUrl are not supported")
			return
		}
		msg.MediaURL = att.ContentURL
	default:
		c.logger.Warn().Str("activity_id", activityID).Msg("ignoring attachment without content type")
	}
}

func signinBody(card activity.SigninCard) string {
	if len(card.Buttons) == 0 {
		return card.Text
	}
	button := card.Buttons[0]
	var b strings.Builder
	b.WriteString(card.Text)
	b.WriteString("\n\n")
	if button.Title != "" {
		b.WriteString("*" + button.Title + "*\n")
	}
	b.WriteString(button.ValueString())
	return b.String()
}

func geoAction(geo activity.GeoCoordinates) string {
	action := fmt.Sprintf("geo:%s,%s",
		strconv.FormatFloat(geo.Latitude, 'f', -1, 64),
		strconv.FormatFloat(geo.Longitude, 'f', -1, 64))
	if geo.Name != "" {
		action += "|" + geo.Name
	}
	return action
}

func persistentActions(v any) []string {
	switch actions := v.(type) {
	case nil:
		return nil
	case string:
		if strings.TrimSpace(actions) == "" {
			return nil
		}
		return []string{actions}
	case []string:
		return append([]string(nil), actions...)
	case []any:
		out := make([]string, 0, len(actions))
		for _, item := range actions {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
