// Package runtime provides the Gateway: the process-wide binding of
// configuration, store connection and request pipeline, and its lifecycle.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/tjfontaine/contact-gateway/internal/config"
	"github.com/tjfontaine/contact-gateway/internal/connection"
	"github.com/tjfontaine/contact-gateway/internal/contact"
	"github.com/tjfontaine/contact-gateway/internal/pipeline"
	"github.com/tjfontaine/contact-gateway/internal/server"
	"github.com/tjfontaine/contact-gateway/internal/storage"
	"github.com/tjfontaine/contact-gateway/internal/telemetry"
)

// Gateway owns everything shared between invocations. Build it once per
// process; Invoke is safe for concurrent use.
type Gateway struct {
	cfg      *config.Config
	logger   *slog.Logger
	dial     connection.Dialer
	now      func() time.Time
	observer pipeline.Observer

	cache   *connection.Cache
	server  *server.Server
	handler http.Handler
	onError server.ErrorHandler

	tracerShutdown telemetry.ShutdownFunc
	shutdownOnce   sync.Once
}

// New binds cfg into a Gateway. The store is not contacted until the first
// invocation or an explicit Connect.
func New(cfg *config.Config, opts ...Option) (*Gateway, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}

	g := &Gateway{
		cfg:            cfg,
		logger:         slog.Default(),
		now:            time.Now,
		tracerShutdown: telemetry.Noop,
	}

	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if g.dial == nil {
		dial, err := DialerFor(cfg.Store)
		if err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}
		g.dial = dial
	}

	if cfg.Tracing.Enabled {
		shutdown, err := telemetry.InitTracer(cfg.Tracing.ServiceName, nil, g.logger)
		if err != nil {
			return nil, fmt.Errorf("init tracer: %w", err)
		}
		g.tracerShutdown = shutdown
	}

	g.cache = connection.New(g.dial,
		connection.WithLogger(g.logger),
		connection.WithTimeout(cfg.Store.ConnectTimeout),
	)

	g.onError = server.NewErrorHandler(cfg.IsDevelopment(), g.logger)

	contactHandler := contact.New(g.Store,
		contact.WithErrorHandler(g.onError),
		contact.WithLogger(g.logger),
	)

	srv, err := server.New(server.Options{
		Config:       cfg,
		Logger:       g.logger,
		Status:       g.cache,
		Contact:      contactHandler,
		ErrorHandler: g.onError,
		Observer:     g.observer,
		Clock:        g.now,
	})
	if err != nil {
		return nil, err
	}
	g.server = srv
	g.handler = srv

	g.logger.Info("gateway initialized",
		slog.String("env", cfg.App.Env),
		slog.Any("allowed_origins", cfg.CORS.AllowedOrigins),
		slog.Int("rate_limit_max", cfg.RateLimit.Max),
		slog.Duration("rate_limit_window", cfg.RateLimit.Window),
		slog.Any("stages", srv.Stages()),
	)

	return g, nil
}

// Connect establishes the store connection now instead of on first use.
func (g *Gateway) Connect(ctx context.Context) error {
	_, err := g.cache.EnsureReady(ctx)
	return err
}

// Store returns the connected contact store, connecting if needed.
func (g *Gateway) Store(ctx context.Context) (storage.ContactStore, error) {
	conn, err := g.cache.EnsureReady(ctx)
	if err != nil {
		return nil, err
	}
	store, ok := conn.(storage.ContactStore)
	if !ok {
		return nil, fmt.Errorf("connection %T is not a contact store", conn)
	}
	return store, nil
}

// Handler returns the bound pipeline without the connection gate.
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

// Cache exposes the store connection cache.
func (g *Gateway) Cache() *connection.Cache {
	return g.cache
}

// Config returns the configuration the Gateway was built with.
func (g *Gateway) Config() *config.Config {
	return g.cfg
}

// Shutdown closes the store connection and flushes traces. Later calls are
// no-ops.
func (g *Gateway) Shutdown(ctx context.Context) error {
	var errs []error
	g.shutdownOnce.Do(func() {
		g.logger.Info("shutting down gateway")

		if err := g.cache.Close(ctx); err != nil {
			g.logger.Error("failed to close store", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		if err := g.tracerShutdown(ctx); err != nil {
			g.logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
			errs = append(errs, err)
		}

		g.logger.Info("gateway shutdown complete")
	})
	return errors.Join(errs...)
}

// NewLogger returns the JSON logger used in every deployment mode.
func NewLogger(level string, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: parseLevel(level),
	}))
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return slog.LevelInfo
	}
	return l
}

var defaultGateway = sync.OnceValues(func() (*Gateway, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := NewLogger(cfg.Log.Level, os.Stdout)
	slog.SetDefault(logger)
	return New(cfg, WithLogger(logger))
})

// Default returns the process-wide Gateway built from the environment. It is
// built on first use and shared by every later invocation.
func Default() (*Gateway, error) {
	return defaultGateway()
}

// Serve is the serverless entry point: every invocation of the hosting
// runtime goes through the process-wide Gateway.
func Serve(w http.ResponseWriter, r *http.Request) {
	g, err := Default()
	if err != nil {
		slog.Error("gateway unavailable", slog.String("error", err.Error()))
		writeInitError(w, err, false)
		return
	}
	g.Invoke(w, r)
}
