package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/example/whatsapp-channel-adapter/internal/config"
	"github.com/example/whatsapp-channel-adapter/internal/logger"
)

func main() {
	root := &cobra.Command{
		Use:           "whatsapp-gateway",
		Short:         "Twilio WhatsApp channel gateway",
		Long:          "Receives Twilio WhatsApp webhooks, turns them into activities for a bot and sends the bot's replies back through Twilio.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(serveCmd())
	root.AddCommand(sendCmd())
	root.AddCommand(signCmd())

	if err := root.Execute(); err != nil {
		fail("command", err)
	}
}

// bootstrap loads configuration and builds the service logger.
func bootstrap(service string) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Logger{}, err
	}
	base, err := logger.New(cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		return nil, zerolog.Logger{}, err
	}
	return cfg, base.With().Str("service", service).Logger(), nil
}

func fail(stage string, err error) {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	logger.Error().Err(err).Str("stage", stage).Msg("whatsapp gateway failed")
	os.Exit(1)
}
