package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/example/whatsapp-channel-adapter/internal/activity"
	waadapter "github.com/example/whatsapp-channel-adapter/internal/adapters/whatsapp"
	"github.com/example/whatsapp-channel-adapter/internal/config"
	"github.com/example/whatsapp-channel-adapter/internal/dedupe"
	"github.com/example/whatsapp-channel-adapter/internal/kafka/consumer"
	"github.com/example/whatsapp-channel-adapter/internal/kafka/producer"
	kafkapublisher "github.com/example/whatsapp-channel-adapter/internal/kafka/publisher"
	"github.com/example/whatsapp-channel-adapter/internal/logger"
	"github.com/example/whatsapp-channel-adapter/internal/metrics"
	"github.com/example/whatsapp-channel-adapter/internal/providers/factory"
	"github.com/example/whatsapp-channel-adapter/internal/server"
	"github.com/example/whatsapp-channel-adapter/internal/turn"
)

func serveCmd() *cobra.Command {
	var echo bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server",
		Long:  "Serves the Twilio webhook. With KAFKA_BROKERS set, inbound activities are published to Kafka and outbound activities are consumed from it.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, log, err := bootstrap("whatsapp-gateway")
			if err != nil {
				return err
			}
			return serve(ctx, cfg, log, echo)
		},
	}
	cmd.Flags().BoolVar(&echo, "echo", false, "reply to every inbound message with its own text when Kafka is disabled")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, log zerolog.Logger, echo bool) error {
	recorder := metrics.New()

	adapter, err := buildAdapter(ctx, cfg, log, waadapter.WithMetrics(recorder))
	if err != nil {
		return err
	}

	var opts []server.Option
	opts = append(opts, server.WithMetrics(recorder))

	logic := logActivity(log)
	if echo {
		logic = echoActivity
	}

	var tasks []func(context.Context) error
	if cfg.Kafka.Enabled() {
		prod, err := producer.New(cfg.Kafka.Brokers, logger.Component(log, "kafka-producer"))
		if err != nil {
			return fmt.Errorf("kafka producer: %w", err)
		}
		defer func() {
			if err := prod.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close kafka producer")
			}
		}()

		pub := kafkapublisher.NewActivityPublisher(prod, cfg.Kafka.InboundTopic, logger.Component(log, "activity-publisher"))
		logic = pub.Handle

		cons, err := consumer.New(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, logger.Component(log, "kafka-consumer"))
		if err != nil {
			return fmt.Errorf("kafka consumer: %w", err)
		}
		defer func() {
			if err := cons.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close kafka consumer")
			}
		}()

		handler := consumer.OutboundHandler(adapter, logger.Component(log, "outbound"))
		tasks = append(tasks, func(ctx context.Context) error {
			return cons.Consume(ctx, []string{cfg.Kafka.OutboundTopic}, handler)
		})

		opts = append(opts,
			server.WithReadinessCheck("kafka-producer", prod.IsReady),
			server.WithReadinessCheck("kafka-consumer", cons.IsReady))
		log.Info().
			Str("inbound_topic", cfg.Kafka.InboundTopic).
			Str("outbound_topic", cfg.Kafka.OutboundTopic).
			Msg("kafka activity bridge enabled")
	}

	srv, err := server.New(server.Config{
		Addr:        ":" + strconv.Itoa(cfg.App.Port),
		WebhookPath: cfg.Server.WebhookPath,
		MaxInflight: cfg.Server.MaxInflightTurns,
	}, adapter, logic, logger.Component(log, "http"), opts...)
	if err != nil {
		return err
	}

	tasks = append(tasks, srv.Run)

	err = runUntilDone(ctx, tasks...)
	log.Info().Msg("whatsapp gateway stopped")
	return err
}

// runUntilDone runs tasks until ctx is cancelled or one of them fails, then
// waits for every task to return. Cancellation is not an error.
func runUntilDone(ctx context.Context, tasks ...func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, task := range tasks {
		g.Go(func() error {
			if err := task(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// buildAdapter wires the transport, redelivery store and adapter from cfg.
func buildAdapter(ctx context.Context, cfg *config.Config, log zerolog.Logger, opts ...waadapter.Option) (*waadapter.Adapter, error) {
	twilioCfg := cfg.Providers.Twilio
	settings, err := waadapter.NewSettings(twilioCfg.AccountSID, twilioCfg.AuthToken, twilioCfg.PhoneNumber, twilioCfg.EndpointURL)
	if err != nil {
		return nil, err
	}

	timeout := time.Duration(cfg.Timeouts.ProviderTimeoutSeconds) * time.Second
	provider, err := factory.WhatsApp(cfg.Providers, timeout, logger.Component(log, "whatsapp-provider"))
	if err != nil {
		return nil, err
	}

	store, err := dedupeStore(ctx, cfg.Redis, log)
	if err != nil {
		return nil, err
	}

	opts = append(opts,
		waadapter.WithDeduplicator(store),
		waadapter.WithMaxBodyBytes(cfg.Server.MaxBodyBytes))
	return waadapter.NewAdapter(settings, provider, logger.Component(log, "whatsapp-adapter"), opts...)
}

func dedupeStore(ctx context.Context, cfg config.RedisConfig, log zerolog.Logger) (dedupe.Store, error) {
	ttl := time.Duration(cfg.DedupeTTLSecond) * time.Second
	if cfg.Addr == "" {
		return dedupe.NewMemoryStore(ttl), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	log.Info().Str("addr", cfg.Addr).Dur("ttl", ttl).Msg("redis redelivery store enabled")
	return dedupe.NewRedisStore(client, "", ttl)
}

func logActivity(log zerolog.Logger) turn.Handler {
	return func(_ context.Context, tc *turn.Context) error {
		a := tc.Activity()
		log.Info().
			Str("activity_type", a.Type.String()).
			Str("from", a.From.ID).
			Str("message_sid", a.ID).
			Int("attachments", len(a.Attachments)).
			Msg("activity received")
		return nil
	}
}

func echoActivity(ctx context.Context, tc *turn.Context) error {
	a := tc.Activity()
	if a.Type != activity.KindMessage || a.Text == "" {
		return nil
	}
	_, err := tc.SendActivity(ctx, a.Text)
	return err
}
