package whatsapp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSettingsNormalizes(t *testing.T) {
	s, err := NewSettings(" AC123 ", " token ", "+14155550100", " https://bot.example.com/api/whatsapp ")
	require.NoError(t, err)
	assert.Equal(t, Settings{
		AccountSID:  "AC123",
		AuthToken:   "token",
		PhoneNumber: "whatsapp:+14155550100",
		EndpointURL: "https://bot.example.com/api/whatsapp",
	}, s)

	again, err := s.Normalize()
	require.NoError(t, err)
	assert.Equal(t, s, again, "normalizing twice changes nothing")
}

func TestNewSettingsReportsEveryProblem(t *testing.T) {
	_, err := NewSettings("", " ", "whatsapp:", "ftp://example.com")
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "account sid")
	assert.Contains(t, msg, "auth token")
	assert.Contains(t, msg, "phone number")
	assert.Contains(t, msg, "endpoint url")
}
