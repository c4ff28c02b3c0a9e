package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("TWILIO_ACCOUNT_SID", "AC123")
	t.Setenv("TWILIO_AUTH_TOKEN", "token")
	t.Setenv("TWILIO_PHONE_NUMBER", "+10000000000")
	t.Setenv("TWILIO_ENDPOINT_URL", "https://bot.example.com/api/whatsapp")
}

func chdirTemp(t *testing.T) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.App.Env)
	assert.Equal(t, 3978, cfg.App.Port)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, "/api/whatsapp", cfg.Server.WebhookPath)
	assert.Equal(t, 64, cfg.Server.MaxInflightTurns)
	assert.Equal(t, int64(1<<20), cfg.Server.MaxBodyBytes)
	assert.Equal(t, "twilio", cfg.Providers.WhatsAppProvider)
	assert.Equal(t, "AC123", cfg.Providers.Twilio.AccountSID)
	assert.Equal(t, "https://bot.example.com/api/whatsapp", cfg.Providers.Twilio.EndpointURL)
	assert.False(t, cfg.Kafka.Enabled())
	assert.Equal(t, "whatsapp.activities.inbound", cfg.Kafka.InboundTopic)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Equal(t, 86400, cfg.Redis.DedupeTTLSecond)
	assert.Equal(t, 30, cfg.Timeouts.ProviderTimeoutSeconds)
}

func TestLoadOverrides(t *testing.T) {
	chdirTemp(t)
	setRequiredEnv(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("APP_PORT", "9000")
	t.Setenv("KAFKA_BROKERS", "broker-a:9092, broker-b:9093,")
	t.Setenv("PROVIDER_RATE_LIMIT_PER_SECOND", "2.5")
	t.Setenv("WHATSAPP_PROVIDER", "mock")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.App.Env)
	assert.Equal(t, 9000, cfg.App.Port)
	assert.Equal(t, []string{"broker-a:9092", "broker-b:9093"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Kafka.Enabled())
	assert.Equal(t, 2.5, cfg.Providers.RatePerSecond)
	assert.Equal(t, "mock", cfg.Providers.WhatsAppProvider)
}

func TestLoadMissingRequired(t *testing.T) {
	chdirTemp(t)
	for _, key := range []string{"TWILIO_ACCOUNT_SID", "TWILIO_AUTH_TOKEN", "TWILIO_PHONE_NUMBER", "TWILIO_ENDPOINT_URL"} {
		t.Setenv(key, "")
	}

	_, err := Load()
	require.Error(t, err)
	for _, key := range []string{"TWILIO_ACCOUNT_SID", "TWILIO_AUTH_TOKEN", "TWILIO_PHONE_NUMBER", "TWILIO_ENDPOINT_URL"} {
		assert.Contains(t, err.Error(), key+" is required")
	}
}

func TestLoadInvalidNumbers(t *testing.T) {
	chdirTemp(t)
	setRequiredEnv(t)
	t.Setenv("APP_PORT", "eighty")
	t.Setenv("PROVIDER_RATE_LIMIT_PER_SECOND", "fast")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "APP_PORT must be a valid integer")
	assert.Contains(t, err.Error(), "PROVIDER_RATE_LIMIT_PER_SECOND must be a valid number")
}
