package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	common "github.com/example/whatsapp-channel-adapter/internal/adapters/common"
	"github.com/example/whatsapp-channel-adapter/internal/activity"
	"github.com/example/whatsapp-channel-adapter/internal/dedupe"
	"github.com/example/whatsapp-channel-adapter/internal/metrics"
	waprovider "github.com/example/whatsapp-channel-adapter/internal/providers/whatsapp"
	"github.com/example/whatsapp-channel-adapter/internal/turn"
	"github.com/example/whatsapp-channel-adapter/internal/twilio"
	"github.com/example/whatsapp-channel-adapter/internal/webhook"
)

// DefaultDelay is used for delay activities without a usable value.
const DefaultDelay = time.Second

// ContinueConversationEvent names the event activity ContinueConversation
// runs through the pipeline.
const ContinueConversationEvent = "continueConversation"

// RequestIDHeader is honoured when the caller already assigned an id.
const RequestIDHeader = "X-Request-Id"

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Option customises adapter behaviour.
type Option func(*Adapter)

// WithClock overrides the clock used for activity timestamps and send
// latency.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) {
		if now != nil {
			a.now = now
		}
	}
}

// WithDeduplicator enables redelivery suppression backed by store.
func WithDeduplicator(store dedupe.Store) Option {
	return func(a *Adapter) {
		a.dedupe = store
	}
}

// WithMetrics records turn and send metrics on r.
func WithMetrics(r *metrics.Recorder) Option {
	return func(a *Adapter) {
		a.metrics = r
	}
}

// WithMiddleware appends middleware run before the bot logic on every turn.
func WithMiddleware(mws ...turn.Middleware) Option {
	return func(a *Adapter) {
		a.middleware.Use(mws...)
	}
}

// WithSleep replaces the wait used by delay activities.
func WithSleep(sleep SleepFunc) Option {
	return func(a *Adapter) {
		if sleep != nil {
			a.sleep = sleep
		}
	}
}

// WithMaxBodyBytes caps the webhook body size.
func WithMaxBodyBytes(n int64) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.maxBodyBytes = n
		}
	}
}

// Adapter connects Twilio WhatsApp webhooks to a bot pipeline and sends the
// pipeline's replies back through a provider. It keeps no per-request state
// and is safe for concurrent use.
type Adapter struct {
	settings      Settings
	transport     waprovider.Provider
	logger        zerolog.Logger
	canonicalizer *Canonicalizer
	middleware    *turn.Set
	dedupe        dedupe.Store
	metrics       *metrics.Recorder
	sleep         SleepFunc
	now           func() time.Time
	maxBodyBytes  int64
}

// NewAdapter constructs a WhatsApp adapter. Settings are validated here so a
// misconfigured adapter never serves a request.
func NewAdapter(settings Settings, transport waprovider.Provider, logger zerolog.Logger, opts ...Option) (*Adapter, error) {
	normalized, err := settings.Normalize()
	if err != nil {
		return nil, err
	}
	if transport == nil {
		return nil, errors.New("whatsapp adapter: transport dependency is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	a := &Adapter{
		settings:     normalized,
		transport:    transport,
		logger:       logger,
		middleware:   turn.NewSet(),
		sleep:        sleepContext,
		now:          time.Now,
		maxBodyBytes: webhook.DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	a.canonicalizer = NewCanonicalizer(a.settings, logger, a.now)
	return a, nil
}

// Settings returns the normalized settings.
func (a *Adapter) Settings() Settings { return a.settings }

// Canonicalizer exposes the payload converter.
func (a *Adapter) Canonicalizer() *Canonicalizer { return a.canonicalizer }

// ProcessActivity authenticates a webhook, canonicalizes it and runs the
// middleware and logic. The status and body the pipeline left on the turn are
// written to w. Rejections are written before returning the error.
func (a *Adapter) ProcessActivity(w http.ResponseWriter, r *http.Request, logic turn.Handler) error {
	requestID := strings.TrimSpace(r.Header.Get(RequestIDHeader))
	if requestID == "" {
		requestID = uuid.NewString()
	}
	log := a.logger.With().Str("request_id", requestID).Logger()

	a.metrics.TurnStarted()
	defer a.metrics.TurnFinished()

	signature := r.Header.Get(twilio.SignatureHeader)
	if signature == "" {
		return a.reject(w, log, common.ErrMissingSignature)
	}

	payload, raw, err := webhook.DecodeRequest(r, a.maxBodyBytes)
	if err != nil {
		return a.reject(w, log, err)
	}

	if !a.verify(r, signature, payload, raw) {
		return a.reject(w, log, common.ErrInvalidSignature)
	}

	act, err := a.canonicalizer.Canonicalize(payload)
	if err != nil {
		return a.reject(w, log, err)
	}
	a.metrics.Activity(act.Type.String())
	log = log.With().
		Str("message_sid", act.ID).
		Str("activity_type", act.Type.String()).
		Logger()

	key := a.deliveryKey(act, payload)
	if a.duplicate(r.Context(), log, key) {
		a.write(w, log, http.StatusOK, nil)
		return nil
	}

	ctx := log.WithContext(r.Context())
	tc := turn.NewContext(a, act)
	logicErr := a.middleware.Run(ctx, tc, logic)

	status := tc.Status()
	if logicErr != nil && status == http.StatusOK {
		status = http.StatusInternalServerError
	}
	a.write(w, log, status, tc.Body())

	if logicErr != nil {
		a.forget(r.Context(), log, key)
		log.Error().Err(logicErr).Int("status", status).Msg("whatsapp adapter turn failed")
		return fmt.Errorf("whatsapp adapter: turn logic: %w", logicErr)
	}
	log.Debug().Int("status", status).Bool("responded", tc.Responded()).Msg("whatsapp adapter turn completed")
	return nil
}

// SendActivities delivers activities in order and returns one response per
// activity handled. On failure the responses gathered so far are returned
// with the error.
func (a *Adapter) SendActivities(ctx context.Context, _ *turn.Context, activities []*activity.Activity) ([]activity.ResourceResponse, error) {
	responses := make([]activity.ResourceResponse, 0, len(activities))
	for i, act := range activities {
		if act == nil {
			a.logger.Warn().Int("index", i).Msg("whatsapp adapter skipping nil activity")
			responses = append(responses, activity.ResourceResponse{})
			continue
		}

		switch act.Type {
		case activity.KindDelay:
			if err := a.sleep(ctx, delayDuration(act.Value)); err != nil {
				return responses, fmt.Errorf("whatsapp adapter: delay: %w", err)
			}
			responses = append(responses, activity.ResourceResponse{})
		case activity.KindMessage:
			id, err := a.sendMessage(ctx, i, act)
			if err != nil {
				return responses, err
			}
			responses = append(responses, activity.ResourceResponse{ID: id})
		default:
			a.logger.Warn().
				Int("index", i).
				Str("activity_type", act.Type.String()).
				Msg("whatsapp adapter does not support this activity type")
			responses = append(responses, activity.ResourceResponse{})
		}
	}
	return responses, nil
}

func (a *Adapter) sendMessage(ctx context.Context, index int, act *activity.Activity) (string, error) {
	if strings.TrimSpace(act.Conversation.ID) == "" {
		return "", &common.InvalidActivityError{ActivityID: act.ID, Reason: "conversation id is required"}
	}
	msg, err := a.canonicalizer.ToProviderMessage(act)
	if err != nil {
		return "", err
	}

	start := a.now()
	raw, err := a.transport.Send(ctx, msg)
	elapsed := a.now().Sub(start)
	if err != nil {
		a.metrics.Send(sendOutcome(err), elapsed)
		a.logger.Warn().
			Err(err).
			Int("index", index).
			Str("to", msg.To).
			Msg("whatsapp adapter send failed")
		return "", &common.TransportError{Index: index, Err: err}
	}
	a.metrics.Send("ok", elapsed)

	id := ""
	if raw != nil {
		id = raw.ID
	}
	if id == "" {
		id = uuid.NewString()
	}
	a.logger.Debug().Str("provider_id", id).Str("to", msg.To).Msg("whatsapp adapter send succeeded")
	return id, nil
}

// UpdateActivity is not supported by the Twilio WhatsApp API.
func (a *Adapter) UpdateActivity(context.Context, *turn.Context, *activity.Activity) error {
	return fmt.Errorf("whatsapp adapter: update activity: %w", common.ErrUnsupportedOperation)
}

// DeleteActivity is not supported by the Twilio WhatsApp API.
func (a *Adapter) DeleteActivity(context.Context, *turn.Context, activity.ConversationReference) error {
	return fmt.Errorf("whatsapp adapter: delete activity: %w", common.ErrUnsupportedOperation)
}

// ContinueConversation runs the pipeline for a proactive turn addressed by
// ref. The turn carries an event activity named continueConversation.
func (a *Adapter) ContinueConversation(ctx context.Context, ref activity.ConversationReference, logic turn.Handler) error {
	event := activity.ApplyConversationReference(&activity.Activity{
		Type:      activity.KindEvent,
		Name:      ContinueConversationEvent,
		Timestamp: a.now().UTC(),
	}, ref, true)
	tc := turn.NewContext(a, event)
	return a.middleware.Run(ctx, tc, logic)
}

func (a *Adapter) verify(r *http.Request, signature string, payload webhook.Payload, raw []byte) bool {
	fullURL := a.signingURL(r)
	if raw != nil && !webhook.IsForm(r.Header.Get("Content-Type")) && twilio.HasBodyHash(fullURL) {
		return twilio.ValidateBody(a.settings.AuthToken, signature, fullURL, raw)
	}
	return twilio.Validate(a.settings.AuthToken, signature, fullURL, payload)
}

// signingURL is the public URL Twilio signed: the configured endpoint, since
// proxies rewrite the host, followed by the request query parameters the
// endpoint does not already carry.
func (a *Adapter) signingURL(r *http.Request) string {
	endpoint := a.settings.EndpointURL
	if r.URL == nil || r.URL.RawQuery == "" {
		return endpoint
	}
	base, own, hasQuery := strings.Cut(endpoint, "?")
	if !hasQuery || own == "" {
		return base + "?" + r.URL.RawQuery
	}
	present := make(map[string]bool)
	for _, pair := range strings.Split(own, "&") {
		present[pair] = true
	}
	merged := own
	for _, pair := range strings.Split(r.URL.RawQuery, "&") {
		if pair != "" && !present[pair] {
			merged += "&" + pair
			present[pair] = true
		}
	}
	return base + "?" + merged
}

func (a *Adapter) deliveryKey(act *activity.Activity, p webhook.Payload) string {
	status := p.Get(fieldSmsStatus)
	if status == "" {
		status = p.Get(fieldMessageStatus)
	}
	return dedupe.Key(act.ID, status, p.Get(fieldEventType))
}

func (a *Adapter) duplicate(ctx context.Context, log zerolog.Logger, key string) bool {
	if a.dedupe == nil {
		return false
	}
	seen, err := a.dedupe.MarkSeen(ctx, key)
	if err != nil {
		log.Warn().Err(err).Msg("whatsapp adapter dedupe lookup failed, processing delivery")
		return false
	}
	if seen {
		a.metrics.Duplicate()
		log.Info().Msg("whatsapp adapter skipping redelivered webhook")
	}
	return seen
}

// forget releases the delivery key of a failed turn so Twilio's retry runs.
func (a *Adapter) forget(ctx context.Context, log zerolog.Logger, key string) {
	if a.dedupe == nil {
		return
	}
	if err := a.dedupe.Forget(ctx, key); err != nil {
		log.Warn().Err(err).Msg("whatsapp adapter could not release delivery key")
	}
}

func (a *Adapter) reject(w http.ResponseWriter, log zerolog.Logger, err error) error {
	status := common.HTTPStatus(err)
	log.Warn().Err(err).Int("status", status).Msg("whatsapp adapter rejected webhook")
	a.write(w, log, status, nil)
	return err
}

func (a *Adapter) write(w http.ResponseWriter, log zerolog.Logger, status int, body any) {
	if status < 100 || status > 999 {
		log.Error().Int("status", status).Msg("whatsapp adapter replacing invalid response status")
		status = http.StatusInternalServerError
	}
	a.metrics.Turn(status)

	var payload []byte
	switch v := body.(type) {
	case nil:
	case string:
		payload = []byte(v)
	case []byte:
		payload = v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			log.Error().Err(err).Msg("whatsapp adapter could not encode response body")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		payload = encoded
	}

	w.WriteHeader(status)
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			log.Warn().Err(err).Msg("whatsapp adapter could not write response body")
		}
	}
}

func sendOutcome(err error) string {
	switch {
	case errors.Is(err, common.ErrPermanent):
		return "permanent"
	case errors.Is(err, common.ErrTransient):
		return "transient"
	default:
		return "error"
	}
}

// delayDuration reads a delay activity value in milliseconds.
func delayDuration(v any) time.Duration {
	var ms float64
	switch val := v.(type) {
	case time.Duration:
		return clampDelay(val)
	case int:
		ms = float64(val)
	case int64:
		ms = float64(val)
	case float64:
		ms = val
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return DefaultDelay
		}
		ms = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return DefaultDelay
		}
		ms = f
	default:
		return DefaultDelay
	}
	return clampDelay(time.Duration(ms * float64(time.Millisecond)))
}

func clampDelay(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
