package api

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/0xmhha/event-collector/internal/constants"
	apimiddleware "github.com/0xmhha/event-collector/pkg/api/middleware"
	"github.com/0xmhha/event-collector/pkg/api/websocket"
	"github.com/0xmhha/event-collector/pkg/eventbus"
	"github.com/0xmhha/event-collector/pkg/ingest"
	"github.com/0xmhha/event-collector/pkg/storage"
	"github.com/0xmhha/event-collector/pkg/types"
)

// Service is the collector boundary served over HTTP
type Service interface {
	StartSubscription(ctx context.Context, subscriptionID uint64) error
	StopSubscription(subscriptionID uint64) bool
	ListEvents(ctx context.Context, q storage.EventQuery) ([]*types.CollectedEvent, error)
	GetStats(ctx context.Context) (*types.Stats, error)
	Running() []ingest.RunnerInfo

	websocket.FeedSource
}

// Server represents the API server
type Server struct {
	config   *Config
	logger   *zap.Logger
	service  Service
	eventBus *eventbus.EventBus
	gatherer prometheus.Gatherer

	router   *chi.Mux
	server   *http.Server
	wsServer *websocket.Server
	limiter  *apimiddleware.RateLimiter
}

// Option configures optional server dependencies
type Option func(*Server)

// WithEventBus adds bus statistics to the health endpoint
func WithEventBus(bus *eventbus.EventBus) Option {
	return func(s *Server) { s.eventBus = bus }
}

// WithGatherer sets the registry served at /metrics (default: prometheus.DefaultGatherer)
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// NewServer creates a new API server
func NewServer(config *Config, logger *zap.Logger, service Service, opts ...Option) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		config:   config,
		logger:   logger.Named("api"),
		service:  service,
		gatherer: prometheus.DefaultGatherer,
		router:   chi.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:           config.Address(),
		Handler:        s.router,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}

	return s, nil
}

// setupMiddleware configures the middleware stack
func (s *Server) setupMiddleware() {
	// Recovery middleware (must be first)
	s.router.Use(apimiddleware.Recovery(s.logger))
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(apimiddleware.Logger(s.logger))

	if s.config.EnableCORS {
		s.router.Use(apimiddleware.CORS(s.config.AllowedOrigins))
	}
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	if s.config.EnableWebSocket {
		s.wsServer = websocket.NewServer(s.service, s.logger)
		s.router.Get(s.config.WebSocketPath, s.wsServer.ServeHTTP)
		s.logger.Info("live feed enabled", zap.String("path", s.config.WebSocketPath))
	}

	s.router.Get("/health", s.handleHealth)
	s.router.Handle(constants.DefaultMetricsPath, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	s.router.Route("/api/events", func(r chi.Router) {
		if s.config.EnableRateLimit {
			s.limiter = apimiddleware.NewRateLimiter(s.config.RateLimitPerSecond, s.config.RateLimitBurst, s.logger)
			r.Use(apimiddleware.RateLimit(s.limiter))
			s.logger.Info("rate limiting enabled",
				zap.Float64("rate_per_second", s.config.RateLimitPerSecond),
				zap.Int("burst", s.config.RateLimitBurst))
		}

		r.Get("/", s.handleListEvents)
		r.Get("/stats", s.handleStats)
		r.Get("/subscriptions/running", s.handleRunning)
		r.Post("/subscriptions/{subscriptionId}/start", s.handleStart)
		r.Post("/subscriptions/{subscriptionId}/stop", s.handleStop)
	})
}

// Start listens on the configured address and serves until Stop
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Address())
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Stop
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("starting API server",
		zap.String("address", ln.Addr().String()),
		zap.Bool("websocket", s.config.EnableWebSocket))

	if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop gracefully stops the API server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping API server")

	if s.wsServer != nil {
		s.wsServer.Stop()
	}
	if s.limiter != nil {
		s.limiter.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("API server stopped gracefully")
	return nil
}

// Router returns the underlying chi router
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Feed returns the live feed server, nil when disabled
func (s *Server) Feed() *websocket.Server {
	return s.wsServer
}
