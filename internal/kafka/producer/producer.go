package producer

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
	defaultMetadataRefreshInterval = 30 * time.Second
	clientID                       = "whatsapp-gateway-producer"
)

// Message is one record to publish.
type Message struct {
	Topic   string
	Key     []byte
	Headers map[string][]byte
	Value   []byte
}

// Ack is the broker's acknowledgement of a published Message.
type Ack struct {
	Partition int32
	Offset    int64
}

// Option customises the producer during construction.
type Option func(*Producer)

// WithConfig supplies a Sarama config. It is copied so the caller keeps
// ownership.
func WithConfig(cfg *sarama.Config) Option {
	return func(p *Producer) {
		if cfg != nil {
			p.config = cfg
		}
	}
}

// WithMetadataRefreshInterval sets how often cluster metadata is refreshed
// to keep readiness current.
func WithMetadataRefreshInterval(interval time.Duration) Option {
	return func(p *Producer) {
		if interval > 0 {
			p.refreshInterval = interval
		}
	}
}

// Producer publishes inbound activities with broker acknowledgement.
// Readiness follows metadata refreshes and send outcomes.
type Producer struct {
	logger          zerolog.Logger
	config          *sarama.Config
	refreshInterval time.Duration

	client sarama.Client
	sp     sarama.SyncProducer
	ready  atomic.Bool

	stop      context.CancelFunc
	watcher   sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// New connects to brokers and starts the metadata watcher.
func New(brokers []string, logger zerolog.Logger, opts ...Option) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka producer: at least one broker is required")
	}

	p := newProducer(logger)
	p.config = defaultConfig()
	p.refreshInterval = defaultMetadataRefreshInterval
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}

	cfg := *p.config
	cfg.Producer.Return.Successes = true
	cfg.Metadata.RefreshFrequency = p.refreshInterval
	p.config = &cfg

	client, err := sarama.NewClient(brokers, p.config)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: create client: %w", err)
	}
	sp, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("kafka producer: create sync producer: %w", err)
	}
	p.client = client
	p.sp = sp

	p.refresh()
	ctx, stop := context.WithCancel(context.Background())
	p.stop = stop
	p.watcher.Add(1)
	go p.watchMetadata(ctx)
	return p, nil
}

// NewFromSyncProducer wraps sp without a metadata watcher; readiness follows
// send outcomes only.
func NewFromSyncProducer(sp sarama.SyncProducer, logger zerolog.Logger) (*Producer, error) {
	if sp == nil {
		return nil, errors.New("kafka producer: sync producer is required")
	}
	p := newProducer(logger)
	p.sp = sp
	p.ready.Store(true)
	return p, nil
}

func newProducer(logger zerolog.Logger) *Producer {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &Producer{logger: logger}
}

// Publish sends msg and waits for the broker. A cancelled ctx is checked
// before sending; an in-flight send cannot be aborted.
func (p *Producer) Publish(ctx context.Context, msg Message) (Ack, error) {
	if msg.Topic == "" {
		return Ack{}, errors.New("kafka producer: topic is required")
	}
	if err := ctx.Err(); err != nil {
		return Ack{}, fmt.Errorf("kafka producer: %w", err)
	}

	record := &sarama.ProducerMessage{
		Topic:   msg.Topic,
		Value:   sarama.ByteEncoder(msg.Value),
		Headers: recordHeaders(msg.Headers),
	}
	if len(msg.Key) > 0 {
		record.Key = sarama.ByteEncoder(msg.Key)
	}

	partition, offset, err := p.sp.SendMessage(record)
	if err != nil {
		p.ready.Store(false)
		return Ack{}, fmt.Errorf("kafka producer: send: %w", err)
	}
	p.ready.Store(true)
	p.logger.Debug().
		Str("topic", msg.Topic).
		Int32("partition", partition).
		Int64("offset", offset).
		Msg("kafka producer published")
	return Ack{Partition: partition, Offset: offset}, nil
}

// IsReady reports whether the cluster was reachable on the last refresh or
// send.
func (p *Producer) IsReady() bool {
	return p.ready.Load()
}

// Close stops the watcher and releases the producer. Repeated calls return
// the first result.
func (p *Producer) Close() error {
	p.closeOnce.Do(func() {
		if p.stop != nil {
			p.stop()
		}
		p.watcher.Wait()

		var errs []error
		if err := p.sp.Close(); err != nil {
			errs = append(errs, err)
		}
		if p.client != nil && !p.client.Closed() {
			if err := p.client.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		p.closeErr = errors.Join(errs...)
	})
	return p.closeErr
}

func (p *Producer) refresh() {
	if err := p.client.RefreshMetadata(); err != nil {
		p.logger.Error().Err(err).Msg("kafka producer metadata refresh failed")
		p.ready.Store(false)
		return
	}
	p.ready.Store(true)
}

func (p *Producer) watchMetadata(ctx context.Context) {
	defer p.watcher.Done()

	ticker := time.NewTicker(p.refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.refresh()
		}
	}
}

func recordHeaders(headers map[string][]byte) []sarama.RecordHeader {
	if len(headers) == 0 {
		return nil
	}
	out := make([]sarama.RecordHeader, 0, len(headers))
	for k, v := range headers {
		out = append(out, sarama.RecordHeader{Key: []byte(k), Value: append([]byte(nil), v...)})
	}
	return out
}

func defaultConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.ClientID = clientID
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 6
	cfg.Producer.Retry.Backoff = 250 * time.Millisecond
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = true
	cfg.Producer.Idempotent = true
	// Records are keyed by conversation id; hashing keeps a conversation on
	// one partition.
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	cfg.Net.MaxOpenRequests = 1
	cfg.Metadata.Full = true
	return cfg
}
