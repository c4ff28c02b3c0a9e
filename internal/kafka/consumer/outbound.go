package consumer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/rs/zerolog"

	"github.com/example/whatsapp-channel-adapter/internal/activity"
	"github.com/example/whatsapp-channel-adapter/internal/turn"
)

// ActivitySender delivers outbound activities. The WhatsApp adapter
// implements it.
type ActivitySender interface {
	SendActivities(ctx context.Context, tc *turn.Context, activities []*activity.Activity) ([]activity.ResourceResponse, error)
}

// DecodeActivities parses a record value holding one activity object or an
// array of activities.
func DecodeActivities(value []byte) ([]*activity.Activity, error) {
	trimmed := bytes.TrimSpace(value)
	if len(trimmed) == 0 {
		return nil, errors.New("kafka consumer: empty activity record")
	}
	if trimmed[0] == '[' {
		var batch []*activity.Activity
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			return nil, fmt.Errorf("kafka consumer: decode activity batch: %w", err)
		}
		return batch, nil
	}
	var single activity.Activity
	if err := json.Unmarshal(trimmed, &single); err != nil {
		return nil, fmt.Errorf("kafka consumer: decode activity: %w", err)
	}
	return []*activity.Activity{&single}, nil
}

// OutboundHandler returns a Handler that sends the activities carried by each
// record, in order.
func OutboundHandler(sender ActivitySender, logger zerolog.Logger) Handler {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return func(ctx context.Context, record *Record) error {
		if sender == nil {
			return errors.New("kafka consumer: activity sender is required")
		}
		activities, err := DecodeActivities(record.Value)
		if err != nil {
			return err
		}
		for _, a := range activities {
			if a != nil && a.ChannelID == "" {
				a.ChannelID = activity.ChannelWhatsApp
			}
		}

		responses, err := sender.SendActivities(ctx, nil, activities)
		logger.Info().
			Str("topic", record.Topic).
			Int64("offset", record.Offset).
			Int("activities", len(activities)).
			Int("acknowledged", len(responses)).
			Err(err).
			Msg("outbound activities processed")
		if err != nil {
			return fmt.Errorf("kafka consumer: send activities: %w", err)
		}
		return nil
	}
}
