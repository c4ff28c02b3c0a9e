package activity

import (
	"encoding/json"
	"mime"
	"strconv"
	"strings"
)

// Content types with a dedicated meaning for the adapter.
const (
	ContentTypeSigninCard = "application/vnd.microsoft.card.signin"
	ContentTypeJSON       = "application/json"
	GeoCoordinatesType    = "GeoCoordinates"
)

// Attachment carries either a link to media or inline structured content.
type Attachment struct {
	ContentType string `json:"contentType"`
	ContentURL  string `json:"contentUrl,omitempty"`
	Content     any    `json:"content,omitempty"`
	Name        string `json:"name,omitempty"`
}

// AttachmentKind tags how an attachment is interpreted by the adapter.
type AttachmentKind int

const (
	AttachmentUnknown AttachmentKind = iota
	AttachmentSigninCard
	AttachmentJSON
	AttachmentMedia
)

func (k AttachmentKind) String() string {
	switch k {
	case AttachmentSigninCard:
		return "signin_card"
	case AttachmentJSON:
		return "json"
	case AttachmentMedia:
		return "media"
	default:
		return "unknown"
	}
}

// Kind classifies the attachment by media type; content type parameters are
// ignored. Anything that is neither a sign-in card nor JSON is treated as
// media.
func (a Attachment) Kind() AttachmentKind {
	ct := strings.ToLower(strings.TrimSpace(a.ContentType))
	if mediaType, _, err := mime.ParseMediaType(ct); err == nil {
		ct = mediaType
	}
	switch {
	case ct == "":
		return AttachmentUnknown
	case ct == ContentTypeSigninCard:
		return AttachmentSigninCard
	case ct == ContentTypeJSON:
		return AttachmentJSON
	default:
		return AttachmentMedia
	}
}

// GeoCoordinates is the structured content of a location attachment.
type GeoCoordinates struct {
	Type      string   `json:"type"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Elevation *float64 `json:"elevation,omitempty"`
	Name      string   `json:"name,omitempty"`
}

// CardAction is a clickable action on a card.
type CardAction struct {
	Type  string `json:"type,omitempty"`
	Title string `json:"title,omitempty"`
	Value any    `json:"value,omitempty"`
}

// ValueString renders the action value as text.
func (c CardAction) ValueString() string {
	switch v := c.Value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}

// SigninCard prompts the user to sign in.
type SigninCard struct {
	Text    string       `json:"text,omitempty"`
	Buttons []CardAction `json:"buttons,omitempty"`
}

// AsGeoCoordinates extracts geo content from an attachment payload. Content
// decoded from JSON arrives as map[string]any and is converted.
func AsGeoCoordinates(content any) (GeoCoordinates, bool) {
	switch v := content.(type) {
	case GeoCoordinates:
		return v, v.Type == GeoCoordinatesType
	case *GeoCoordinates:
		if v == nil {
			return GeoCoordinates{}, false
		}
		return *v, v.Type == GeoCoordinatesType
	case map[string]any:
		var geo GeoCoordinates
		if !remarshal(v, &geo) {
			return GeoCoordinates{}, false
		}
		return geo, geo.Type == GeoCoordinatesType
	default:
		return GeoCoordinates{}, false
	}
}

// AsSigninCard extracts a sign-in card from an attachment payload.
func AsSigninCard(content any) (SigninCard, bool) {
	switch v := content.(type) {
	case SigninCard:
		return v, true
	case *SigninCard:
		if v == nil {
			return SigninCard{}, false
		}
		return *v, true
	case map[string]any:
		var card SigninCard
		if !remarshal(v, &card) {
			return SigninCard{}, false
		}
		return card, true
	default:
		return SigninCard{}, false
	}
}

func remarshal(in any, out any) bool {
	raw, err := json.Marshal(in)
	if err != nil {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}
