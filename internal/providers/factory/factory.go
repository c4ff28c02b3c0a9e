package factory

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/whatsapp-channel-adapter/internal/config"
	waprovider "github.com/example/whatsapp-channel-adapter/internal/providers/whatsapp"
)

// WhatsApp constructs the configured WhatsApp transport. Supports Twilio and
// mock backends. A positive timeout bounds each Twilio HTTP call.
func WhatsApp(cfg config.ProviderConfig, timeout time.Duration, logger zerolog.Logger) (waprovider.Provider, error) {
	backend := normalize(cfg.WhatsAppProvider, "twilio")
	switch backend {
	case "twilio":
		var opts []waprovider.TwilioOption
		if timeout > 0 {
			opts = append(opts, waprovider.WithTwilioHTTPClient(&http.Client{Timeout: timeout}))
		}
		if cfg.RatePerSecond > 0 {
			opts = append(opts, waprovider.WithTwilioRateLimit(cfg.RatePerSecond, cfg.RateBurst))
		}
		provider, err := waprovider.NewTwilioProvider(cfg.Twilio, logger, opts...)
		if err != nil {
			return nil, fmt.Errorf("factory: twilio whatsapp provider init: %w", err)
		}
		logger.Info().
			Str("backend", "twilio").
			Float64("rate_per_second", cfg.RatePerSecond).
			Dur("timeout", timeout).
			Msg("whatsapp provider initialised")
		return provider, nil
	case "mock":
		provider := waprovider.NewMockProvider(logger)
		logger.Info().
			Str("backend", "mock").
			Msg("whatsapp provider initialised")
		return provider, nil
	default:
		return nil, fmt.Errorf("factory: unsupported whatsapp provider backend %q", cfg.WhatsAppProvider)
	}
}

func normalize(value, def string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return def
	}
	return value
}
