package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/rs/zerolog"

	"github.com/example/whatsapp-channel-adapter/internal/activity"
	"github.com/example/whatsapp-channel-adapter/internal/kafka/producer"
	"github.com/example/whatsapp-channel-adapter/internal/turn"
)

var errProducerNotInitialised = errors.New("kafka publisher: producer not initialised")

// Record headers set on published activities.
const (
	HeaderContentType  = "content-type"
	HeaderActivityType = "activity-type"
	HeaderChannel      = "channel"
)

// Producer is the acknowledged publish the publisher needs.
type Producer interface {
	Publish(ctx context.Context, msg producer.Message) (producer.Ack, error)
}

// ErrProducerNotInitialised exposes the sentinel error for callers and tests.
func ErrProducerNotInitialised() error {
	return errProducerNotInitialised
}

// ActivityPublisher writes canonical inbound activities to a Kafka topic so
// downstream bots can consume them.
type ActivityPublisher struct {
	producer Producer
	topic    string
	logger   zerolog.Logger
}

// NewActivityPublisher constructs an ActivityPublisher. It returns nil when
// prod is nil.
func NewActivityPublisher(prod Producer, topic string, logger zerolog.Logger) *ActivityPublisher {
	if prod == nil {
		return nil
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &ActivityPublisher{
		producer: prod,
		topic:    topic,
		logger:   logger,
	}
}

// Publish writes a and waits for the broker. Records are keyed by conversation so a
// conversation stays on one partition.
func (p *ActivityPublisher) Publish(ctx context.Context, a *activity.Activity) error {
	if p == nil || p.producer == nil {
		return errProducerNotInitialised
	}
	if a == nil {
		return errors.New("kafka publisher: activity is nil")
	}

	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("kafka publisher: marshal activity: %w", err)
	}

	headers := map[string][]byte{
		HeaderContentType:  []byte("application/json"),
		HeaderActivityType: []byte(a.Type.String()),
		HeaderChannel:      []byte(a.ChannelID),
	}

	ack, err := p.producer.Publish(ctx, producer.Message{
		Topic:   p.topic,
		Key:     []byte(a.Conversation.ID),
		Headers: headers,
		Value:   payload,
	})
	if err != nil {
		return fmt.Errorf("kafka publisher: publish activity: %w", err)
	}
	p.logger.Debug().
		Str("topic", p.topic).
		Int32("partition", ack.Partition).
		Int64("offset", ack.Offset).
		Str("activity_id", a.ID).
		Str("activity_type", a.Type.String()).
		Msg("activity published")
	return nil
}

// Handle is a turn.Handler publishing the turn's activity. A publish failure
// fails the turn so the webhook is answered with 500 and Twilio retries it.
func (p *ActivityPublisher) Handle(ctx context.Context, tc *turn.Context) error {
	return p.Publish(ctx, tc.Activity())
}
