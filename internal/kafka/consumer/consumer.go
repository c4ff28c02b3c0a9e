package consumer

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
)

const (
	defaultSessionTimeout   = 30 * time.Second
	defaultHeartbeat        = 3 * time.Second
	defaultRebalanceTimeout = 30 * time.Second
	defaultRejoinBackoff    = time.Second
	defaultHandlerTimeout   = 2 * time.Minute
)

// Handler is invoked for every outbound record.
type Handler func(ctx context.Context, record *Record) error

// Option customises the consumer during construction.
type Option func(*Consumer)

// WithConfig supplies a Sarama config. It is copied, and offset auto-commit
// is always disabled on the copy.
func WithConfig(cfg *sarama.Config) Option {
	return func(c *Consumer) {
		if cfg != nil {
			c.config = cfg
		}
	}
}

// WithHandlerTimeout bounds one record's handler. Delay activities can
// otherwise hold a partition indefinitely.
func WithHandlerTimeout(d time.Duration) Option {
	return func(c *Consumer) {
		if d > 0 {
			c.handlerTimeout = d
		}
	}
}

// WithRejoinBackoff sets the wait before rejoining the group after a
// consume error.
func WithRejoinBackoff(d time.Duration) Option {
	return func(c *Consumer) {
		if d > 0 {
			c.rejoinBackoff = d
		}
	}
}

// Consumer reads outbound activity records from a consumer group. Each
// record is acknowledged and its offset committed as soon as its handler
// returns, whatever the outcome, so a record is dispatched at most once.
type Consumer struct {
	logger         zerolog.Logger
	config         *sarama.Config
	groupID        string
	handlerTimeout time.Duration
	rejoinBackoff  time.Duration

	group      sarama.ConsumerGroup
	errorsDone chan struct{}
	ready      atomic.Bool

	mu      sync.RWMutex
	handler Handler
	cancel  context.CancelFunc
	running sync.WaitGroup
}

// Record is one Kafka message handed to a Handler.
type Record struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp time.Time
	Headers   map[string][]byte

	session sarama.ConsumerGroupSession
	message *sarama.ConsumerMessage
	acked   atomic.Bool
}

// New joins groupID on brokers. Nothing is consumed until Consume is called.
func New(brokers []string, groupID string, logger zerolog.Logger, opts ...Option) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka consumer: at least one broker is required")
	}
	if groupID == "" {
		return nil, errors.New("kafka consumer: group id is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	c := &Consumer{
		logger:         logger.With().Str("group_id", groupID).Logger(),
		config:         defaultConfig(),
		groupID:        groupID,
		handlerTimeout: defaultHandlerTimeout,
		rejoinBackoff:  defaultRejoinBackoff,
		errorsDone:     make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	cfg := *c.config
	cfg.Consumer.Offsets.AutoCommit.Enable = false
	cfg.Consumer.Return.Errors = true
	c.config = &cfg

	group, err := sarama.NewConsumerGroup(brokers, groupID, c.config)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: create consumer group: %w", err)
	}
	c.group = group
	go c.drainErrors()
	return c, nil
}

// Consume subscribes to topics and blocks until ctx is cancelled or the
// group is closed. Consume errors are logged and the group is rejoined.
func (c *Consumer) Consume(ctx context.Context, topics []string, handler Handler) error {
	if len(topics) == 0 {
		return errors.New("kafka consumer: at least one topic is required")
	}
	if handler == nil {
		return errors.New("kafka consumer: handler is required")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.mu.Lock()
	c.handler = handler
	c.cancel = cancel
	c.mu.Unlock()

	c.running.Add(1)
	defer c.running.Done()

	for ctx.Err() == nil {
		err := c.group.Consume(ctx, topics, &groupHandler{consumer: c})
		switch {
		case err == nil:
		case errors.Is(err, sarama.ErrClosedConsumerGroup):
			return nil
		default:
			c.logger.Error().Err(err).Strs("topics", topics).Msg("kafka consumer: consume error, rejoining")
			timer := time.NewTimer(c.rejoinBackoff)
			select {
			case <-ctx.Done():
				timer.Stop()
			case <-timer.C:
			}
		}
	}
	return ctx.Err()
}

// IsReady reports whether the consumer currently holds a group session.
func (c *Consumer) IsReady() bool {
	return c.ready.Load()
}

// Close stops Consume and leaves the group.
func (c *Consumer) Close() error {
	c.mu.RLock()
	cancel := c.cancel
	c.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
	err := c.group.Close()
	c.running.Wait()
	<-c.errorsDone
	return err
}

// ack marks the record and flushes its offset. Later calls are no-ops.
func (c *Consumer) ack(record *Record) error {
	if record == nil || record.session == nil || record.message == nil {
		return errors.New("kafka consumer: record has no session")
	}
	if !record.acked.CompareAndSwap(false, true) {
		return nil
	}
	record.session.MarkMessage(record.message, "")
	record.session.Commit()
	return nil
}

func (c *Consumer) currentHandler() Handler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handler
}

func (c *Consumer) handle(session sarama.ConsumerGroupSession, msg *sarama.ConsumerMessage) {
	record := newRecord(session, msg)
	log := c.logger.With().
		Str("topic", msg.Topic).
		Int32("partition", msg.Partition).
		Int64("offset", msg.Offset).
		Logger()

	if handler := c.currentHandler(); handler != nil {
		if err := c.run(session.Context(), handler, record); err != nil {
			log.Error().Err(err).Msg("kafka consumer: record dropped after handler error")
		}
	} else {
		log.Error().Msg("kafka consumer: record received without handler")
	}

	if err := c.ack(record); err != nil {
		log.Error().Err(err).Msg("kafka consumer: commit failed")
	}
}

func (c *Consumer) run(ctx context.Context, handler Handler, record *Record) error {
	if c.handlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.handlerTimeout)
		defer cancel()
	}
	return handler(ctx, record)
}

func (c *Consumer) drainErrors() {
	defer close(c.errorsDone)
	for err := range c.group.Errors() {
		if err != nil {
			c.logger.Error().Err(err).Msg("kafka consumer error")
		}
	}
}

type groupHandler struct {
	consumer *Consumer
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error {
	h.consumer.ready.Store(true)
	h.consumer.logger.Info().Msg("kafka consumer joined group")
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	h.consumer.ready.Store(false)
	h.consumer.logger.Info().Msg("kafka consumer left group")
	return nil
}

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		h.consumer.handle(session, msg)
	}
	return nil
}

func newRecord(session sarama.ConsumerGroupSession, msg *sarama.ConsumerMessage) *Record {
	record := &Record{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       cloneBytes(msg.Key),
		Value:     cloneBytes(msg.Value),
		Timestamp: msg.Timestamp,
		session:   session,
		message:   msg,
	}
	if len(msg.Headers) > 0 {
		record.Headers = make(map[string][]byte, len(msg.Headers))
		for _, h := range msg.Headers {
			if h != nil && len(h.Key) > 0 {
				record.Headers[string(h.Key)] = cloneBytes(h.Value)
			}
		}
	}
	return record
}

func defaultConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.ClientID = "whatsapp-gateway-consumer"
	cfg.Consumer.Group.Session.Timeout = defaultSessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = defaultHeartbeat
	cfg.Consumer.Group.Rebalance.Timeout = defaultRebalanceTimeout
	cfg.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRange
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	return cfg
}

func cloneBytes(src []byte) []byte {
	if len(src) == 0 {
		return nil
	}
	dst := make([]byte, len(src))
	copy(dst, src)
	return dst
}
