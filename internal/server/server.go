// Package server exposes the WhatsApp webhook over HTTP together with the
// operational endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	common "github.com/example/whatsapp-channel-adapter/internal/adapters/common"
	"github.com/example/whatsapp-channel-adapter/internal/metrics"
	"github.com/example/whatsapp-channel-adapter/internal/turn"
)

const (
	defaultMaxInflight     = 64
	defaultShutdownTimeout = 10 * time.Second
	readHeaderTimeout      = 5 * time.Second
)

// Processor handles one webhook request. The WhatsApp adapter implements it.
type Processor interface {
	ProcessActivity(w http.ResponseWriter, r *http.Request, logic turn.Handler) error
}

// Config controls the listener.
type Config struct {
	Addr        string
	WebhookPath string
	MaxInflight int
}

// Option customises the server.
type Option func(*Server)

// WithMetrics serves r on /metrics.
func WithMetrics(r *metrics.Recorder) Option {
	return func(s *Server) {
		s.metrics = r
	}
}

// WithReadinessCheck adds a named check consulted by /readyz.
func WithReadinessCheck(name string, check func() bool) Option {
	return func(s *Server) {
		if check != nil {
			s.checks[name] = check
		}
	}
}

// Server routes webhooks to the processor, bounding concurrent turns.
type Server struct {
	cfg       Config
	processor Processor
	logic     turn.Handler
	logger    zerolog.Logger
	metrics   *metrics.Recorder
	inflight  *semaphore.Weighted
	checks    map[string]func() bool
}

// New builds a Server. logic runs for every authenticated webhook.
func New(cfg Config, processor Processor, logic turn.Handler, logger zerolog.Logger, opts ...Option) (*Server, error) {
	if processor == nil {
		return nil, errors.New("server: processor is required")
	}
	if cfg.WebhookPath == "" || cfg.WebhookPath[0] != '/' {
		return nil, fmt.Errorf("server: webhook path %q must start with /", cfg.WebhookPath)
	}
	if cfg.MaxInflight <= 0 {
		cfg.MaxInflight = defaultMaxInflight
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	s := &Server{
		cfg:       cfg,
		processor: processor,
		logic:     logic,
		logger:    logger,
		inflight:  semaphore.NewWeighted(int64(cfg.MaxInflight)),
		checks:    map[string]func() bool{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Handler returns the routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+s.cfg.WebhookPath, s.handleWebhook)
	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /readyz", s.handleReady)
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.cfg.Addr).Str("webhook_path", s.cfg.WebhookPath).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server: listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	s.logger.Info().Msg("http server stopped")
	return nil
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if !s.inflight.TryAcquire(1) {
		s.logger.Warn().Int("max_inflight", s.cfg.MaxInflight).Msg("rejecting webhook, too many turns in flight")
		s.metrics.Turn(http.StatusServiceUnavailable)
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	defer s.inflight.Release(1)

	if err := s.processor.ProcessActivity(w, r, s.logic); err != nil {
		status := common.HTTPStatus(err)
		evt := s.logger.Warn()
		if status >= http.StatusInternalServerError {
			evt = s.logger.Error()
		}
		evt.Err(err).Int("status", status).Str("remote_addr", r.RemoteAddr).Msg("webhook turn failed")
	}
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	for name, check := range s.checks {
		if !check() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(name + " not ready"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
