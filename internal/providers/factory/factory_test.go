package factory

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/whatsapp-channel-adapter/internal/config"
	waprovider "github.com/example/whatsapp-channel-adapter/internal/providers/whatsapp"
)

func TestWhatsAppBackends(t *testing.T) {
	cfg := config.ProviderConfig{
		WhatsAppProvider: " Twilio ",
		Twilio: config.TwilioConfig{
			AccountSID: "AC1",
			AuthToken:  "token",
		},
		RatePerSecond: 5,
		RateBurst:     2,
	}

	p, err := WhatsApp(cfg, 10*time.Second, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &waprovider.TwilioProvider{}, p)

	cfg.WhatsAppProvider = "mock"
	p, err = WhatsApp(cfg, 0, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &waprovider.MockProvider{}, p)
}

func TestWhatsAppErrors(t *testing.T) {
	_, err := WhatsApp(config.ProviderConfig{WhatsAppProvider: "carrier-pigeon"}, 0, zerolog.Nop())
	assert.ErrorContains(t, err, "unsupported whatsapp provider backend")

	_, err = WhatsApp(config.ProviderConfig{}, 0, zerolog.Nop())
	assert.ErrorContains(t, err, "account SID is required", "twilio is the default backend")
}
