package whatsapp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	common "github.com/example/whatsapp-channel-adapter/internal/adapters/common"
	"github.com/example/whatsapp-channel-adapter/internal/activity"
)

func TestConvertMarkup(t *testing.T) {
	cases := map[string]string{
		"<b>hi</b>":                          "*hi*",
		"<strong>hi</strong>":                "*hi*",
		"<i>hi</i>":                          "_hi_",
		"<em>hi</em>":                        "_hi_",
		"<s>hi</s>":                          "~hi~",
		"<del>hi</del> <strike>yo</strike>":  "~hi~ ~yo~",
		"<code>x := 1</code>":                "```x := 1```",
		"<B>loud</B>":                        "*loud*",
		"<b>multi\nline</b>":                 "*multi\nline*",
		"<b>a</b> and <b>b</b>":              "*a* and *b*",
		"<b><i>both</i></b>":                 "*_both_*",
		"plain text, no tags":                "plain text, no tags",
		"unclosed <b>bold":                   "unclosed <b>bold",
	}
	for in, want := range cases {
		assert.Equal(t, want, ConvertMarkup(in), in)
	}
}

func TestConvertMarkupIsIdempotentWithoutTags(t *testing.T) {
	for _, text := range []string{"", "hello", "*already bold*", "a < b > c", "_x_ ~y~"} {
		once := ConvertMarkup(text)
		assert.Equal(t, text, once)
		assert.Equal(t, once, ConvertMarkup(once))
	}
}

func outbound(text string) *activity.Activity {
	a := activity.NewMessage("whatsapp:+14155550100", text)
	a.ID = "act-1"
	return a
}

func TestToProviderMessageText(t *testing.T) {
	a := outbound("<b>hi</b> there")

	msg, err := testCanonicalizer().ToProviderMessage(a)
	require.NoError(t, err)
	assert.Equal(t, "whatsapp:+14155238886", msg.From)
	assert.Equal(t, "whatsapp:+14155550100", msg.To)
	assert.Equal(t, "*hi* there", msg.Body)
	assert.Empty(t, msg.MediaURL)
	assert.Empty(t, msg.PersistentAction)
	assert.Equal(t, "<b>hi</b> there", a.Text, "input is not mutated")
}

func TestToProviderMessageRejectsEmptyActivity(t *testing.T) {
	c := testCanonicalizer()

	_, err := c.ToProviderMessage(outbound(""))
	var invalid *common.InvalidActivityError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "act-1", invalid.ActivityID)
	assert.ErrorIs(t, err, common.ErrInvalidActivity)

	_, err = c.ToProviderMessage(nil)
	assert.ErrorIs(t, err, common.ErrInvalidActivity)
}

func TestToProviderMessagePersistentActionChannelData(t *testing.T) {
	c := testCanonicalizer()

	a := outbound("hi")
	a.ChannelData = map[string]any{"persistentAction": "mailto:a@example.com"}
	msg, err := c.ToProviderMessage(a)
	require.NoError(t, err)
	assert.Equal(t, []string{"mailto:a@example.com"}, msg.PersistentAction)

	a.ChannelData = map[string]any{"persistentAction": []any{"geo:1,2", 7, "tel:+1"}}
	msg, err = c.ToProviderMessage(a)
	require.NoError(t, err)
	assert.Equal(t, []string{"geo:1,2", "tel:+1"}, msg.PersistentAction)

	a.ChannelData = map[string]any{"persistentAction": []string{"a", "b"}, "statusCallback": "https://cb.example.com"}
	msg, err = c.ToProviderMessage(a)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, msg.PersistentAction)
	assert.Equal(t, "https://cb.example.com", msg.StatusCallback)
}

func TestToProviderMessageGeoAttachment(t *testing.T) {
	a := outbound("meet here")
	a.Attachments = []activity.Attachment{{
		ContentType: activity.ContentTypeJSON,
		Content: activity.GeoCoordinates{
			Type:      activity.GeoCoordinatesType,
			Latitude:  1.5,
			Longitude: 2.5,
			Name:      "X",
		},
	}}

	msg, err := testCanonicalizer().ToProviderMessage(a)
	require.NoError(t, err)
	assert.Equal(t, []string{"geo:1.5,2.5|X"}, msg.PersistentAction)
	assert.Equal(t, "meet here", msg.Body)
}

func TestToProviderMessageGeoWithContentTypeParameters(t *testing.T) {
	a := outbound("pin")
	a.Attachments = []activity.Attachment{{
		ContentType: "application/json; charset=utf-8",
		Content:     activity.GeoCoordinates{Type: activity.GeoCoordinatesType, Latitude: 3, Longitude: 4},
	}}

	msg, err := testCanonicalizer().ToProviderMessage(a)
	require.NoError(t, err)
	assert.Equal(t, []string{"geo:3,4"}, msg.PersistentAction)
	assert.Empty(t, msg.MediaURL)
}

func TestToProviderMessageGeoFromDecodedJSON(t *testing.T) {
	a := outbound("here")
	a.ChannelData = map[string]any{"persistentAction": "tel:+1"}
	a.Attachments = []activity.Attachment{{
		ContentType: "application/json",
		Content: map[string]any{
			"type":      "GeoCoordinates",
			"latitude":  -33.8,
			"longitude": 151,
		},
	}}

	msg, err := testCanonicalizer().ToProviderMessage(a)
	require.NoError(t, err)
	assert.Equal(t, []string{"tel:+1", "geo:-33.8,151"}, msg.PersistentAction)
}

func TestToProviderMessageIgnoresOtherJSON(t *testing.T) {
	a := outbound("data")
	a.Attachments = []activity.Attachment{{ContentType: "application/json", Content: map[string]any{"type": "Place"}}}

	msg, err := testCanonicalizer().ToProviderMessage(a)
	require.NoError(t, err)
	assert.Equal(t, "data", msg.Body)
	assert.Empty(t, msg.PersistentAction)
}

func TestToProviderMessageSigninCard(t *testing.T) {
	cases := []struct {
		name string
		card activity.SigninCard
		want string
	}{
		{
			name: "title and value",
			card: activity.SigninCard{Text: "Please sign in", Buttons: []activity.CardAction{{Type: "signin", Title: "Sign in", Value: "https://login.example.com"}}},
			want: "Please sign in\n\n*Sign in*\nhttps://login.example.com",
		},
		{
			name: "no title",
			card: activity.SigninCard{Text: "Please sign in", Buttons: []activity.CardAction{{Value: "https://login.example.com"}}},
			want: "Please sign in\n\nhttps://login.example.com",
		},
		{
			name: "no buttons",
			card: activity.SigninCard{Text: "Please sign in"},
			want: "Please sign in",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := outbound("ignored")
			a.Attachments = []activity.Attachment{{ContentType: activity.ContentTypeSigninCard, Content: tc.card}}
			msg, err := testCanonicalizer().ToProviderMessage(a)
			require.NoError(t, err)
			assert.Equal(t, tc.want, msg.Body)
		})
	}
}

func TestToProviderMessageMedia(t *testing.T) {
	c := testCanonicalizer()

	a := outbound("")
	a.Attachments = []activity.Attachment{
		{ContentType: "image/png", ContentURL: "https://media.example.com/a.png"},
		{ContentType: "image/png", ContentURL: "https://media.example.com/b.png"},
	}
	msg, err := c.ToProviderMessage(a)
	require.NoError(t, err)
	assert.Equal(t, "https://media.example.com/a.png", msg.MediaURL, "only the first attachment is used")

	a.Attachments = []activity.Attachment{{ContentType: "image/png"}}
	_, err = c.ToProviderMessage(a)
	assert.ErrorIs(t, err, common.ErrInvalidActivity, "media without url is dropped, leaving nothing to send")

	a.Text = "caption"
	msg, err = c.ToProviderMessage(a)
	require.NoError(t, err)
	assert.Equal(t, "caption", msg.Body)
	assert.Empty(t, msg.MediaURL)
}
