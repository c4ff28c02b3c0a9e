package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/whatsapp-channel-adapter/internal/twilio"
)

func TestSignCommandForm(t *testing.T) {
	cmd := signCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{
		"--url", "https://mycompany.com/myapp.php?foo=1&bar=2",
		"--token", "12345",
		"CallSid=CA1234567890ABCDE",
		"Caller=+14158675309",
		"Digits=1234",
		"From=+14158675309",
		"To=+18005551212",
	})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "X-Twilio-Signature: RSOYDt4T1cUTdK1PDd93/VVr8B8=\n", out.String())
}

func TestSignCommandJSONBody(t *testing.T) {
	path := filepath.Join(t.TempDir(), "body.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"property": "value", "boolean": true}`), 0o600))

	cmd := signCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--url", "https://mycompany.com/myapp.php?foo=1&bar=2", "--token", "12345", "--json-body", path})
	require.NoError(t, cmd.Execute())

	signedURL := "https://mycompany.com/myapp.php?foo=1&bar=2&bodySHA256=0a1ff7634d9ab3b95db5c9a2dfe9416e41502b283a80c7cf19632632f96e6620"
	assert.Contains(t, out.String(), "url: "+signedURL)
	assert.Contains(t, out.String(), "X-Twilio-Signature: a9nBmqA0ju/hNViExpshrM61xv4=")
	assert.True(t, twilio.ValidateBody("12345", "a9nBmqA0ju/hNViExpshrM61xv4=", signedURL, []byte(`{"property": "value", "boolean": true}`)))
}

func TestSignCommandRejectsBadParams(t *testing.T) {
	cmd := signCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--url", "https://x.example.com", "--token", "t", "novalue"})
	assert.Error(t, cmd.Execute())
}
