package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config captures all runtime configuration for the WhatsApp gateway.
type Config struct {
	App       AppConfig
	Server    ServerConfig
	Providers ProviderConfig
	Kafka     KafkaConfig
	Redis     RedisConfig
	Timeouts  TimeoutConfig
}

// AppConfig contains generic application level settings.
type AppConfig struct {
	Env      string
	Port     int
	LogLevel string
}

// ServerConfig controls the inbound webhook server.
type ServerConfig struct {
	WebhookPath      string
	MaxInflightTurns int
	MaxBodyBytes     int64
}

// TwilioConfig stores Twilio credentials and the externally visible webhook
// URL used when validating request signatures.
type TwilioConfig struct {
	AccountSID        string
	AuthToken         string
	PhoneNumber       string
	EndpointURL       string
	APIBaseURL        string
	StatusCallbackURL string
}

// ProviderConfig wraps configuration for the outbound provider.
type ProviderConfig struct {
	WhatsAppProvider string
	Twilio           TwilioConfig
	RatePerSecond    float64
	RateBurst        int
}

// KafkaConfig configures the optional activity bridge. When Brokers is empty
// the bridge is disabled.
type KafkaConfig struct {
	Brokers       []string
	InboundTopic  string
	OutboundTopic string
	ConsumerGroup string
}

// Enabled reports whether the bridge has brokers configured.
func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

// RedisConfig configures redelivery suppression. When Addr is empty an
// in-memory store is used.
type RedisConfig struct {
	Addr            string
	Password        string
	DB              int
	DedupeTTLSecond int
}

// TimeoutConfig contains timeout thresholds for outbound providers.
type TimeoutConfig struct {
	ProviderTimeoutSeconds int
}

// Load reads environment variables (and a .env file when present), applies
// defaults, validates required values and returns a populated Config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	ldr := &envLoader{}

	cfg := &Config{}
	cfg.App.Env = ldr.getString("APP_ENV", "development", false)
	cfg.App.Port = ldr.getInt("APP_PORT", 3978, false)
	cfg.App.LogLevel = ldr.getString("LOG_LEVEL", "info", false)

	cfg.Server.WebhookPath = ldr.getString("WEBHOOK_PATH", "/api/whatsapp", false)
	cfg.Server.MaxInflightTurns = ldr.getInt("MAX_INFLIGHT_TURNS", 64, false)
	cfg.Server.MaxBodyBytes = int64(ldr.getInt("MAX_BODY_BYTES", 1<<20, false))

	cfg.Providers.WhatsAppProvider = ldr.getString("WHATSAPP_PROVIDER", "twilio", false)
	cfg.Providers.Twilio.AccountSID = ldr.getString("TWILIO_ACCOUNT_SID", "", true)
	cfg.Providers.Twilio.AuthToken = ldr.getString("TWILIO_AUTH_TOKEN", "", true)
	cfg.Providers.Twilio.PhoneNumber = ldr.getString("TWILIO_PHONE_NUMBER", "", true)
	cfg.Providers.Twilio.EndpointURL = ldr.getString("TWILIO_ENDPOINT_URL", "", true)
	cfg.Providers.Twilio.APIBaseURL = ldr.getString("TWILIO_API_BASE_URL", "", false)
	cfg.Providers.Twilio.StatusCallbackURL = ldr.getString("TWILIO_STATUS_CALLBACK_URL", "", false)
	cfg.Providers.RatePerSecond = ldr.getFloat("PROVIDER_RATE_LIMIT_PER_SECOND", 0, false)
	cfg.Providers.RateBurst = ldr.getInt("PROVIDER_RATE_BURST", 1, false)

	cfg.Kafka.Brokers = ldr.getStringSlice("KAFKA_BROKERS", false)
	cfg.Kafka.InboundTopic = ldr.getString("KAFKA_INBOUND_TOPIC", "whatsapp.activities.inbound", false)
	cfg.Kafka.OutboundTopic = ldr.getString("KAFKA_OUTBOUND_TOPIC", "whatsapp.activities.outbound", false)
	cfg.Kafka.ConsumerGroup = ldr.getString("KAFKA_CONSUMER_GROUP", "whatsapp-gateway", false)

	cfg.Redis.Addr = ldr.getString("REDIS_ADDR", "", false)
	cfg.Redis.Password = ldr.getString("REDIS_PASSWORD", "", false)
	cfg.Redis.DB = ldr.getInt("REDIS_DB", 0, false)
	cfg.Redis.DedupeTTLSecond = ldr.getInt("DEDUPE_TTL_SECONDS", 86400, false)

	cfg.Timeouts.ProviderTimeoutSeconds = ldr.getInt("PROVIDER_TIMEOUT_SECONDS", 30, false)

	if err := ldr.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

type envLoader struct {
	errs []string
}

func (l *envLoader) validate() error {
	if len(l.errs) == 0 {
		return nil
	}
	return fmt.Errorf("config validation failed: %s", strings.Join(l.errs, "; "))
}

// lookup returns the trimmed value of key and whether it was set to something
// non-empty, recording an error when a required key is missing.
func (l *envLoader) lookup(key string, required bool) (string, bool) {
	val, ok := os.LookupEnv(key)
	val = strings.TrimSpace(val)
	if !ok || val == "" {
		if required {
			l.addError(fmt.Sprintf("%s is required", key))
		}
		return "", false
	}
	return val, true
}

func (l *envLoader) getString(key, def string, required bool) string {
	if val, ok := l.lookup(key, required); ok {
		return val
	}
	return def
}

func (l *envLoader) getInt(key string, def int, required bool) int {
	val, ok := l.lookup(key, required)
	if !ok {
		return def
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		l.addError(fmt.Sprintf("%s must be a valid integer", key))
		return def
	}
	return i
}

func (l *envLoader) getFloat(key string, def float64, required bool) float64 {
	val, ok := l.lookup(key, required)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		l.addError(fmt.Sprintf("%s must be a valid number", key))
		return def
	}
	return f
}

func (l *envLoader) getStringSlice(key string, required bool) []string {
	raw := l.getString(key, "", required)
	if raw == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if required && len(out) == 0 {
		l.addError(fmt.Sprintf("%s must contain at least one entry", key))
	}
	return out
}

func (l *envLoader) addError(err string) {
	l.errs = append(l.errs, err)
}
