// Package server binds the request pipeline and routes of the contact API.
package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/contact-gateway/internal/config"
	"github.com/tjfontaine/contact-gateway/internal/connection"
	"github.com/tjfontaine/contact-gateway/internal/pipeline"
)

// Stage order. Gaps leave room for stages added later.
const (
	orderSecurityHeaders = 10
	orderCORS            = 20
	orderRateLimit       = 30
	orderBody            = 40
	orderLogging         = 50
)

// ConnectionStatus reports the store connection state for health checks.
type ConnectionStatus interface {
	State() connection.State
}

// Options configures a Server.
type Options struct {
	Config *config.Config
	Logger *slog.Logger

	// Status feeds db_status in the health check.
	Status ConnectionStatus

	// Contact handles everything under ContactPath.
	Contact http.Handler

	// ErrorHandler is the error stage; built from Config when nil.
	ErrorHandler ErrorHandler

	// Observer additionally receives every stage decision.
	Observer pipeline.Observer

	// Clock replaces time.Now for rate limiting and health timestamps.
	Clock func() time.Time
}

// Server is the bound pipeline and router. Build it once per process.
type Server struct {
	Router *chi.Mux

	cfg      *config.Config
	logger   *slog.Logger
	status   ConnectionStatus
	contact  http.Handler
	onError  ErrorHandler
	observer pipeline.Observer
	now      func() time.Time

	limiter  *RateLimiter
	executor *pipeline.Executor
}

// New builds the router and composes the pipeline in front of it.
func New(opts Options) (*Server, error) {
	if opts.Config == nil {
		return nil, errors.New("server: config is required")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	s := &Server{
		cfg:      opts.Config,
		logger:   opts.Logger,
		status:   opts.Status,
		contact:  opts.Contact,
		onError:  opts.ErrorHandler,
		observer: opts.Observer,
		now:      opts.Clock,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.onError == nil {
		s.onError = NewErrorHandler(s.cfg.IsDevelopment(), s.logger)
	}

	s.limiter = NewRateLimiter(s.cfg.RateLimit.Max, s.cfg.RateLimit.Window, s.now)
	s.limiter.logger = s.logger

	s.executor = pipeline.NewExecutor(pipeline.ExecutorConfig{
		Stages: []pipeline.StageConfig{
			{Name: "security_headers", Order: orderSecurityHeaders, Stage: securityStage{}},
			{Name: "cors", Order: orderCORS, Stage: newCORSStage(s.cfg.CORS.AllowedOrigins, s.cfg.CORS.Credentials)},
			{Name: "rate_limit", Order: orderRateLimit, Stage: s.limiter},
			{Name: "body", Order: orderBody, Stage: &bodyStage{limit: s.cfg.Server.BodyLimit}},
			{Name: "logging", Order: orderLogging, Stage: &loggingStage{logger: s.logger, now: s.now}},
		},
		Observer: s.observe,
		OnError: func(w http.ResponseWriter, r *http.Request, err error) {
			s.onError(w, r, err)
		},
	})

	r := chi.NewRouter()

	// Apply middleware in order
	r.Use(RequestIDMiddleware)
	r.Use(metricsMiddleware)
	r.Use(requestContextMiddleware(s.cfg.Server.TrustProxy))
	r.Use(LoggingMiddleware(s.logger))
	r.Use(TimeoutMiddleware(s.cfg.Server.RequestTimeout))
	r.Use(Recoverer(s.onError))

	if s.cfg.Tracing.Enabled {
		r.Use(func(next http.Handler) http.Handler {
			return otelhttp.NewHandler(next, s.cfg.Tracing.ServiceName)
		})
	}

	r.Use(s.executor.Then)

	s.routes(r)
	s.Router = r

	return s, nil
}

func (s *Server) observe(r *http.Request, stage string, d pipeline.Decision) {
	if rc := FromContext(r.Context()); rc != nil {
		rc.record(stage, d)
	}
	if s.observer != nil {
		s.observer(r, stage, d)
	}
}

// ServeHTTP dispatches through the bound middleware, pipeline and routes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

// ErrorHandler returns the error stage shared by routes and stages.
func (s *Server) ErrorHandler() ErrorHandler {
	return s.onError
}

// Stages returns the pipeline stage names in execution order.
func (s *Server) Stages() []string {
	return s.executor.Names()
}

// RateLimiter exposes the rate-limit stage.
func (s *Server) RateLimiter() *RateLimiter {
	return s.limiter
}
