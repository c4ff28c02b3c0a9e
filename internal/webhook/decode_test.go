package webhook

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	common "github.com/example/whatsapp-channel-adapter/internal/adapters/common"
)

func TestDecodeForm(t *testing.T) {
	payload, err := Decode([]byte("Body=hi+there&From=whatsapp%3A%2B1555&MediaUrl0=a&MediaUrl0=b"), "application/x-www-form-urlencoded; charset=utf-8")
	require.NoError(t, err)

	assert.Equal(t, "hi there", payload.Get("Body"))
	assert.Equal(t, "whatsapp:+1555", payload.Get("From"))
	assert.Equal(t, []string{"a", "b"}, payload.Values("MediaUrl0"))
	assert.Equal(t, []string{"Body", "From", "MediaUrl0"}, payload.Keys())
}

func TestDecodeJSON(t *testing.T) {
	payload, err := Decode(`{"Body":"hi","NumMedia":2,"Latitude":37.78,"Flag":true,"Tags":["a","b"],"Nested":{"k":"v"},"Skip":null}`, "application/json")
	require.NoError(t, err)

	assert.Equal(t, "hi", payload.Get("Body"))
	assert.Equal(t, "2", payload.Get("NumMedia"))
	assert.Equal(t, "37.78", payload.Get("Latitude"))
	assert.Equal(t, "true", payload.Get("Flag"))
	assert.Equal(t, []string{"a", "b"}, payload.Values("Tags"))
	assert.JSONEq(t, `{"k":"v"}`, payload.Get("Nested"))
	assert.False(t, payload.Has("Skip"))
}

func TestDecodeMalformed(t *testing.T) {
	cases := map[string]struct {
		body        any
		contentType string
	}{
		"broken json":   {[]byte(`{"Body":`), "application/json"},
		"json array":    {[]byte(`["a"]`), "application/json"},
		"json null":     {[]byte(`null`), "application/json"},
		"broken form":   {[]byte("Body=%zz"), "application/x-www-form-urlencoded"},
		"empty body":    {[]byte("   "), "application/x-www-form-urlencoded"},
		"empty object":  {[]byte(`{}`), "application/json"},
		"only nulls":    {[]byte(`{"Body":null}`), "application/json"},
		"empty form":    {[]byte("&"), "application/x-www-form-urlencoded"},
		"empty values":  {url.Values{}, ""},
		"nil body":      {nil, "application/json"},
		"unsupported":   {42, "application/json"},
		"missing ctype": {[]byte("Body=hi"), ""},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(tc.body, tc.contentType)
			require.Error(t, err)
			assert.ErrorIs(t, err, common.ErrDecode)
		})
	}
}

func TestDecodeAlreadyDecodedIsNoOp(t *testing.T) {
	original := Payload{"Body": {"hi"}}
	decoded, err := Decode(original, "application/x-www-form-urlencoded")
	require.NoError(t, err)
	assert.Equal(t, original, decoded)

	again, err := Decode(decoded, "application/json")
	require.NoError(t, err)
	assert.Equal(t, original, again)

	fromValues, err := Decode(url.Values{"Body": {"hi"}}, "")
	require.NoError(t, err)
	assert.Equal(t, original, fromValues)

	fromStrings, err := Decode(map[string]string{"Body": "hi"}, "")
	require.NoError(t, err)
	assert.Equal(t, original, fromStrings)

	fromObject, err := Decode(map[string]any{"Body": "hi", "NumMedia": 1.0}, "")
	require.NoError(t, err)
	assert.Equal(t, "1", fromObject.Get("NumMedia"))
}

func TestDecodeRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/whatsapp", strings.NewReader("Body=hello"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	payload, raw, err := DecodeRequest(req, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", payload.Get("Body"))
	assert.Equal(t, "Body=hello", string(raw))
}

func TestDecodeRequestReusesParsedForm(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/whatsapp", strings.NewReader("Body=hello"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	require.NoError(t, req.ParseForm())

	payload, raw, err := DecodeRequest(req, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", payload.Get("Body"))
	assert.Nil(t, raw)
}

func TestDecodeRequestRejectsEmptyPayload(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/whatsapp?bodySHA256=x", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")

	_, raw, err := DecodeRequest(req, 0)
	assert.ErrorIs(t, err, common.ErrDecode)
	assert.Equal(t, "{}", string(raw))
}

func TestDecodeRequestTooLarge(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/whatsapp", strings.NewReader("Body="+strings.Repeat("x", 64)))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	_, _, err := DecodeRequest(req, 16)
	assert.ErrorIs(t, err, common.ErrDecode)
}

func TestPayloadToMap(t *testing.T) {
	m := Payload{"A": {"1"}, "B": {"x", "y"}, "C": {}}.ToMap()
	assert.Equal(t, "1", m["A"])
	assert.Equal(t, []string{"x", "y"}, m["B"])
	assert.Equal(t, "", m["C"])
}
