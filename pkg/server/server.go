package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recollect/pkg/model"
	"github.com/m-mizutani/recollect/pkg/scheduler"
	"github.com/m-mizutani/recollect/pkg/usecase/ingest"
	"github.com/m-mizutani/recollect/pkg/utils/logging"
)

const (
	maxWebhookBody         = 4 << 20
	DefaultShutdownTimeout = 10 * time.Second
)

// Ingestor acknowledges webhook events
type Ingestor interface {
	Handle(ctx context.Context, body []byte) (*ingest.Result, error)
}

// StatsProvider summarizes the memory of one conversation
type StatsProvider interface {
	Stats(ctx context.Context, id model.ConversationID) *model.Stats
}

// SchedulerMonitor exposes scheduler counters for the health endpoint
type SchedulerMonitor interface {
	Stats() scheduler.Stats
}

// Server is the HTTP surface: webhook intake, health and statistics
type Server struct {
	engine *gin.Engine

	ingestor  Ingestor
	stats     StatsProvider
	monitor   SchedulerMonitor
	services  map[string]string
	readLimit int64

	shutdownTimeout time.Duration
}

// Option is a functional option for Server
type Option func(*Server)

// WithStats enables GET /stats/:phone
func WithStats(p StatsProvider) Option {
	return func(s *Server) {
		s.stats = p
	}
}

// WithSchedulerMonitor adds scheduler counters to GET /health
func WithSchedulerMonitor(m SchedulerMonitor) Option {
	return func(s *Server) {
		s.monitor = m
	}
}

// WithServices sets the backend endpoints reported by GET /health
func WithServices(services map[string]string) Option {
	return func(s *Server) {
		s.services = services
	}
}

// WithShutdownTimeout bounds how long in-flight requests may take once the
// server is stopping
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.shutdownTimeout = d
	}
}

// New builds the router
func New(ingestor Ingestor, opts ...Option) *Server {
	s := &Server{
		ingestor:  ingestor,
		services:  map[string]string{},
		readLimit: maxWebhookBody,

		shutdownTimeout: DefaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.shutdownTimeout <= 0 {
		s.shutdownTimeout = DefaultShutdownTimeout
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(requestLogger(), recovery())

	engine.POST("/webhook", s.handleWebhook)
	engine.GET("/health", s.handleHealth)
	if s.stats != nil {
		engine.GET("/stats/:phone", s.handleStats)
	}

	s.engine = engine
	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is canceled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	logger := logging.From(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return logging.Detach(ctx)
		},
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return goerr.Wrap(err, "http server failed", goerr.V("addr", addr))

	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(logging.Detach(ctx), s.shutdownTimeout)
		defer cancel()

		logger.Info("shutting down http server", "timeout", s.shutdownTimeout)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return goerr.Wrap(err, "failed to shutdown http server")
		}
		return nil
	}
}
