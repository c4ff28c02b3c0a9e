package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	common "github.com/example/whatsapp-channel-adapter/internal/adapters/common"
	"github.com/example/whatsapp-channel-adapter/internal/config"
)

const (
	defaultTwilioBaseURL = "https://api.twilio.com/2010-04-01"
	defaultBodyLimit     = 16 * 1024
	defaultHTTPTimeout   = 30 * time.Second
)

// HTTPClient abstracts the http.Client Do method for easier testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// TwilioOption customises the behaviour of the WhatsApp Twilio provider.
type TwilioOption func(*TwilioProvider)

// WithTwilioHTTPClient overrides the HTTP client used to talk to Twilio.
func WithTwilioHTTPClient(client HTTPClient) TwilioOption {
	return func(p *TwilioProvider) {
		if client != nil {
			p.httpClient = client
		}
	}
}

// WithTwilioBaseURL sets the base Twilio API URL. Useful for tests.
func WithTwilioBaseURL(baseURL string) TwilioOption {
	return func(p *TwilioProvider) {
		if strings.TrimSpace(baseURL) != "" {
			p.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
		}
	}
}

// WithTwilioClock overrides the clock used for timestamps.
func WithTwilioClock(now func() time.Time) TwilioOption {
	return func(p *TwilioProvider) {
		if now != nil {
			p.now = now
		}
	}
}

// WithTwilioBodyLimit adjusts how many bytes are retained from the HTTP response body.
func WithTwilioBodyLimit(limit int64) TwilioOption {
	return func(p *TwilioProvider) {
		if limit > 0 {
			p.maxBodyBytes = limit
		}
	}
}

// WithTwilioRateLimit throttles dispatches to at most perSecond messages with
// the given burst. A non-positive rate disables throttling.
func WithTwilioRateLimit(perSecond float64, burst int) TwilioOption {
	return func(p *TwilioProvider) {
		if perSecond <= 0 {
			p.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// TwilioProvider dispatches WhatsApp messages through Twilio's Messages
// resource.
type TwilioProvider struct {
	logger         zerolog.Logger
	accountSID     string
	authToken      string
	statusCallback string
	httpClient     HTTPClient
	baseURL        string
	limiter        *rate.Limiter
	now            func() time.Time
	maxBodyBytes   int64
}

// NewTwilioProvider constructs a Twilio-backed WhatsApp provider.
func NewTwilioProvider(cfg config.TwilioConfig, logger zerolog.Logger, opts ...TwilioOption) (*TwilioProvider, error) {
	if strings.TrimSpace(cfg.AccountSID) == "" {
		return nil, errors.New("twilio whatsapp provider: account SID is required")
	}
	if strings.TrimSpace(cfg.AuthToken) == "" {
		return nil, errors.New("twilio whatsapp provider: auth token is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	provider := &TwilioProvider{
		logger:         logger,
		accountSID:     strings.TrimSpace(cfg.AccountSID),
		authToken:      strings.TrimSpace(cfg.AuthToken),
		statusCallback: strings.TrimSpace(cfg.StatusCallbackURL),
		baseURL:        defaultTwilioBaseURL,
		httpClient:     &http.Client{Timeout: defaultHTTPTimeout},
		now:            time.Now,
		maxBodyBytes:   defaultBodyLimit,
	}
	if cfg.APIBaseURL != "" {
		provider.baseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	}

	for _, opt := range opts {
		if opt != nil {
			opt(provider)
		}
	}

	return provider, nil
}

// Send delivers msg via Twilio. Failures are classified with
// common.WrapPermanent or common.WrapTransient.
func (p *TwilioProvider) Send(ctx context.Context, msg *OutboundMessage) (*RawResponse, error) {
	if err := msg.Validate(); err != nil {
		return nil, common.WrapPermanent(fmt.Errorf("twilio whatsapp provider: %w", err))
	}
	if strings.TrimSpace(msg.To) == "" {
		return nil, common.WrapPermanent(errors.New("twilio whatsapp provider: recipient is required"))
	}
	if strings.TrimSpace(msg.From) == "" {
		return nil, common.WrapPermanent(errors.New("twilio whatsapp provider: from address is required"))
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("twilio whatsapp provider: rate limit wait: %w", err)
		}
	}

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", p.baseURL, url.PathEscape(p.accountSID))
	form := p.encode(msg)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("twilio whatsapp provider: new request: %w", err)
	}
	req.SetBasicAuth(p.accountSID, p.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, common.WrapTransient(fmt.Errorf("twilio whatsapp provider: http do: %w", err))
	}
	defer resp.Body.Close()

	body, err := p.readBody(resp.Body)
	if err != nil {
		return nil, common.WrapTransient(err)
	}

	parsed := parseTwilioBody(body)
	raw := &RawResponse{
		ID:        parsed.SID,
		Code:      resp.StatusCode,
		Status:    parsed.Status,
		Body:      body,
		Timestamp: p.now(),
	}
	if raw.Status == "" {
		raw.Status = http.StatusText(resp.StatusCode)
	}

	p.logger.Debug().
		Str("to", msg.To).
		Int("http_status", resp.StatusCode).
		Str("provider_id", raw.ID).
		Str("provider_status", raw.Status).
		Msg("twilio whatsapp provider response")

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return raw, nil
	}

	message := parsed.Message
	if message == "" {
		message = strings.TrimSpace(body)
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	var sendErr error
	if parsed.ErrorCode > 0 {
		sendErr = fmt.Errorf("twilio whatsapp provider: error %d: %s", parsed.ErrorCode, message)
	} else {
		sendErr = fmt.Errorf("twilio whatsapp provider: http %d: %s", resp.StatusCode, message)
	}
	return raw, classify(resp.StatusCode, parsed.ErrorCode, sendErr)
}

func (p *TwilioProvider) encode(msg *OutboundMessage) url.Values {
	params := url.Values{}
	params.Set("From", FormatAddress(msg.From))
	params.Set("To", FormatAddress(msg.To))
	if strings.TrimSpace(msg.Body) != "" {
		params.Set("Body", msg.Body)
	}
	if strings.TrimSpace(msg.MediaURL) != "" {
		params.Set("MediaUrl", msg.MediaURL)
	}
	for _, action := range msg.PersistentAction {
		if strings.TrimSpace(action) != "" {
			params.Add("PersistentAction", action)
		}
	}
	callback := msg.StatusCallback
	if callback == "" {
		callback = p.statusCallback
	}
	if callback != "" {
		params.Set("StatusCallback", callback)
	}
	return params
}

func (p *TwilioProvider) readBody(rc io.ReadCloser) (string, error) {
	if rc == nil {
		return "", nil
	}

	limit := p.maxBodyBytes
	if limit <= 0 {
		limit = defaultBodyLimit
	}

	data, err := io.ReadAll(io.LimitReader(rc, limit))
	if err != nil {
		return "", fmt.Errorf("twilio whatsapp provider: read body: %w", err)
	}
	return string(data), nil
}

// classify maps Twilio's response to the transient/permanent taxonomy.
// 21xxx codes are request problems (bad number, opted out), 63xxx and
// 30001/30003 are channel or carrier hiccups worth retrying.
func classify(status, code int, err error) error {
	switch code {
	case 21610, 21612, 21614, 21211:
		return common.WrapPermanent(err)
	case 63018, 63016, 63015, 63002, 30001, 30003:
		return common.WrapTransient(err)
	}
	switch {
	case status == http.StatusTooManyRequests, status >= 500:
		return common.WrapTransient(err)
	case status >= 400:
		return common.WrapPermanent(err)
	default:
		return common.WrapTransient(err)
	}
}

type twilioBody struct {
	SID       string `json:"sid"`
	Status    string `json:"status"`
	ErrorCode int    `json:"code"`
	Message   string `json:"message"`
}

func parseTwilioBody(body string) twilioBody {
	if strings.TrimSpace(body) == "" {
		return twilioBody{}
	}

	var parsed twilioBody
	if err := json.Unmarshal([]byte(body), &parsed); err == nil {
		return parsed
	}

	var generic map[string]any
	if err := json.Unmarshal([]byte(body), &generic); err != nil {
		return twilioBody{}
	}

	result := twilioBody{}
	if v, ok := generic["sid"].(string); ok {
		result.SID = v
	}
	if v, ok := generic["status"].(string); ok {
		result.Status = v
	}
	switch v := generic["code"].(type) {
	case float64:
		result.ErrorCode = int(v)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			result.ErrorCode = n
		}
	}
	if v, ok := generic["message"].(string); ok {
		result.Message = v
	}
	return result
}
