package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"sync"
	"time"

	"github.com/rs/zerolog"

	common "github.com/example/whatsapp-channel-adapter/internal/adapters/common"
)

// Scenario enumerates supported behaviours for the mock WhatsApp provider.
type Scenario string

const (
	ScenarioSuccess   Scenario = "success"
	ScenarioTransient Scenario = "transient"
	ScenarioPermanent Scenario = "permanent"
	ScenarioTimeout   Scenario = "timeout"
)

// Option customises the mock provider at construction time.
type Option func(*MockProvider)

// WithScenario overrides the default scenario.
func WithScenario(s Scenario) Option {
	return func(p *MockProvider) {
		p.scenario = s
	}
}

// WithLatency sets the artificial latency inserted before responding.
func WithLatency(d time.Duration) Option {
	return func(p *MockProvider) {
		if d < 0 {
			d = 0
		}
		p.latency = d
	}
}

// WithClock swaps out the clock for deterministic timestamps in tests.
func WithClock(now func() time.Time) Option {
	return func(p *MockProvider) {
		if now != nil {
			p.now = now
		}
	}
}

// MockProvider is an in-memory provider used by the mock backend and tests.
// It records every message it accepts.
type MockProvider struct {
	logger   zerolog.Logger
	scenario Scenario
	latency  time.Duration
	now      func() time.Time

	mu   sync.Mutex
	rnd  *rand.Rand
	sent []OutboundMessage
}

// NewMockProvider constructs a new mock WhatsApp provider.
func NewMockProvider(logger zerolog.Logger, opts ...Option) *MockProvider {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	p := &MockProvider{
		logger:   logger,
		scenario: ScenarioSuccess,
		now:      time.Now,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Send simulates sending msg according to the configured scenario.
func (p *MockProvider) Send(ctx context.Context, msg *OutboundMessage) (*RawResponse, error) {
	if err := msg.Validate(); err != nil {
		return nil, common.WrapPermanent(fmt.Errorf("whatsapp mock: %w", err))
	}
	if msg.To == "" {
		return nil, common.WrapPermanent(errors.New("whatsapp mock: recipient is required"))
	}

	if p.latency > 0 {
		timer := time.NewTimer(p.latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp := &RawResponse{
		ID:        p.generateID(),
		Code:      201,
		Status:    "queued",
		Body:      "mock: message accepted",
		Timestamp: p.now(),
	}

	switch p.scenario {
	case ScenarioSuccess, "":
		p.mu.Lock()
		p.sent = append(p.sent, cloneMessage(msg))
		p.mu.Unlock()
		p.logger.Debug().Str("to", msg.To).Str("provider_id", resp.ID).Msg("whatsapp mock accepted message")
		return resp, nil
	case ScenarioTransient:
		resp.Code = 429
		resp.Status = "transient_failure"
		resp.Body = "mock: transient failure"
		return resp, common.WrapTransient(errors.New("whatsapp mock: rate limited"))
	case ScenarioPermanent:
		resp.Code = 400
		resp.Status = "permanent_failure"
		resp.Body = "mock: permanent failure"
		return resp, common.WrapPermanent(errors.New("whatsapp mock: invalid recipient"))
	case ScenarioTimeout:
		<-ctx.Done()
		return resp, ctx.Err()
	default:
		resp.Status = "unknown"
		return resp, fmt.Errorf("whatsapp mock: unknown scenario %q", p.scenario)
	}
}

// Sent returns copies of the messages accepted so far.
func (p *MockProvider) Sent() []OutboundMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]OutboundMessage, len(p.sent))
	copy(out, p.sent)
	return out
}

func (p *MockProvider) generateID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fmt.Sprintf("SM%032x", p.rnd.Uint64())
}

func cloneMessage(msg *OutboundMessage) OutboundMessage {
	c := *msg
	c.PersistentAction = append([]string(nil), msg.PersistentAction...)
	return c
}
