package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/tjfontaine/contact-gateway/internal/config"
	"github.com/tjfontaine/contact-gateway/internal/connection"
	"github.com/tjfontaine/contact-gateway/internal/pipeline"
	"github.com/tjfontaine/contact-gateway/internal/storage/memory"
	"github.com/tjfontaine/contact-gateway/internal/storage/mongo"
	"github.com/tjfontaine/contact-gateway/internal/storage/sqlite"
)

// Option is a functional option for configuring a Gateway.
type Option func(*Gateway) error

// WithLogger sets the logger used by every component.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) error {
		if logger == nil {
			return errors.New("logger must not be nil")
		}
		g.logger = logger
		return nil
	}
}

// WithDialer replaces the store dialer derived from the config.
func WithDialer(dial connection.Dialer) Option {
	return func(g *Gateway) error {
		g.dial = dial
		return nil
	}
}

// WithMongo stores contacts in MongoDB.
func WithMongo(uri, database string) Option {
	return func(g *Gateway) error {
		g.dial = mongoDialer(uri, database)
		return nil
	}
}

// WithSQLite stores contacts in a SQLite database file (local development).
func WithSQLite(path string) Option {
	return func(g *Gateway) error {
		g.dial = sqliteDialer(path)
		return nil
	}
}

// WithMemory keeps contacts in process memory (tests and demos).
func WithMemory() Option {
	return func(g *Gateway) error {
		g.dial = memoryDialer()
		return nil
	}
}

// WithClock replaces time.Now for rate limiting and health timestamps.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) error {
		g.now = now
		return nil
	}
}

// WithObserver receives every pipeline stage decision.
func WithObserver(o pipeline.Observer) Option {
	return func(g *Gateway) error {
		g.observer = o
		return nil
	}
}

// ErrNoStoreURI is returned by the dialer when no store is configured.
var ErrNoStoreURI = errors.New("MONGODB_URI is not set")

// DialerFor picks the store implementation from the URI scheme:
// mongodb:// and mongodb+srv:// for MongoDB, sqlite:// for a SQLite file and
// memory:// for the in-process store. An empty URI yields a dialer that
// always fails, so invocations report an initialization error.
func DialerFor(store config.StoreConfig) (connection.Dialer, error) {
	uri := strings.TrimSpace(store.URI)
	if uri == "" {
		return func(context.Context) (connection.Conn, error) {
			return nil, ErrNoStoreURI
		}, nil
	}

	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return nil, fmt.Errorf("store uri %q has no scheme", redact(uri))
	}

	switch strings.ToLower(scheme) {
	case "mongodb", "mongodb+srv":
		return mongoDialer(uri, store.Database), nil
	case "sqlite":
		if rest == "" {
			return nil, errors.New("sqlite store uri needs a path")
		}
		return sqliteDialer(rest), nil
	case "memory":
		return memoryDialer(), nil
	default:
		return nil, fmt.Errorf("unsupported store scheme %q", scheme)
	}
}

func mongoDialer(uri, database string) connection.Dialer {
	return func(ctx context.Context) (connection.Conn, error) {
		store, err := mongo.New(ctx, uri, database)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
}

func sqliteDialer(path string) connection.Dialer {
	return func(ctx context.Context) (connection.Conn, error) {
		store, err := sqlite.New(ctx, path)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
}

func memoryDialer() connection.Dialer {
	return func(context.Context) (connection.Conn, error) {
		return memory.New(), nil
	}
}

// redact drops credentials from a URI before it is logged or returned.
func redact(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.User == nil {
		return uri
	}
	u.User = url.User("xxxxx")
	return u.String()
}
