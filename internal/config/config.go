// Package config resolves the process configuration from the environment and
// an optional YAML file. The result is immutable after Load returns.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	App       AppConfig       `koanf:"app"`
	Server    ServerConfig    `koanf:"server"`
	Store     StoreConfig     `koanf:"store"`
	CORS      CORSConfig      `koanf:"cors"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Log       LogConfig       `koanf:"log"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Tracing   TracingConfig   `koanf:"tracing"`
}

type AppConfig struct {
	Name string `koanf:"name"`
	Env  string `koanf:"env"` // development or production
	// NodeEnv is accepted for deployments that still set NODE_ENV.
	NodeEnv string `koanf:"node_env"`
}

type ServerConfig struct {
	Port           int           `koanf:"port"`
	TrustProxy     int           `koanf:"trust_proxy"` // trusted X-Forwarded-For hops
	BodyLimit      int64         `koanf:"body_limit"`  // bytes
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

type StoreConfig struct {
	URI            string        `koanf:"uri"` // mongodb://, mongodb+srv://, sqlite://, memory://
	Database       string        `koanf:"database"`
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
}

type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
	Credentials    bool     `koanf:"credentials"`
}

type RateLimitConfig struct {
	Window time.Duration `koanf:"window"`
	Max    int           `koanf:"max"`
}

type LogConfig struct {
	Level string `koanf:"level"`
}

type MetricsConfig struct {
	Enabled bool `koanf:"enabled"`
}

type TracingConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

// envKeys maps recognised environment variables to config keys.
var envKeys = map[string]string{
	"MONGODB_URI":           "store.uri",
	"MONGODB_DATABASE":      "store.database",
	"STORE_CONNECT_TIMEOUT": "store.connect_timeout",
	"ALLOWED_ORIGINS":       "cors.allowed_origins",
	"CORS_CREDENTIALS":      "cors.credentials",
	"APP_ENV":               "app.env",
	"NODE_ENV":              "app.node_env",
	"PORT":                  "server.port",
	"TRUST_PROXY":           "server.trust_proxy",
	"BODY_LIMIT":            "server.body_limit",
	"REQUEST_TIMEOUT":       "server.request_timeout",
	"RATE_LIMIT_WINDOW":     "rate_limit.window",
	"RATE_LIMIT_MAX":        "rate_limit.max",
	"LOG_LEVEL":             "log.level",
	"METRICS_ENABLED":       "metrics.enabled",
	"TRACING_ENABLED":       "tracing.enabled",
}

var defaults = map[string]any{
	"app.name":               "contact-gateway",
	"server.port":            5000,
	"server.trust_proxy":     1,
	"server.body_limit":      int64(10 << 20),
	"server.request_timeout": "30s",
	"store.database":         "portfolio",
	"store.connect_timeout":  "10s",
	"cors.credentials":       true,
	"rate_limit.window":      "15m",
	"rate_limit.max":         100,
	"log.level":              "info",
	"tracing.service_name":   "contact-gateway",
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads config.yaml (or the file named by CONFIG_FILE) if present, then
// overlays the environment.
func Load() (*Config, error) {
	path := os.Getenv("CONFIG_FILE")
	required := path != ""
	if path == "" {
		path = "config.yaml"
	}
	return load(path, required)
}

// LoadFile is Load with an explicit config file that must exist.
func LoadFile(path string) (*Config, error) {
	return load(path, true)
}

func load(path string, required bool) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			// File not found is OK unless it was asked for explicitly
			if required || !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
			}
		}
	}

	// Environment overrides the file
	if err := k.Load(env.Provider("", ".", func(s string) string {
		return envKeys[s]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	cfg, err := finish(k)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	cfg, err := finish(koanf.New("."))
	if err != nil {
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	return cfg
}

// finish applies defaults, decodes k and normalizes derived fields.
func finish(k *koanf.Koanf) (*Config, error) {
	for key, val := range defaults {
		if !k.Exists(key) {
			if err := k.Set(key, val); err != nil {
				return nil, err
			}
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.Store.URI = substituteEnvVars(cfg.Store.URI)
	cfg.CORS.AllowedOrigins = normalizeOrigins(cfg.CORS.AllowedOrigins)
	cfg.App.Env = resolveEnv(cfg.App.Env, cfg.App.NodeEnv)
	return &cfg, nil
}

// normalizeOrigins splits comma-separated entries, trims them and falls back
// to the wildcard when nothing is configured.
func normalizeOrigins(in []string) []string {
	var out []string
	for _, entry := range in {
		for _, o := range strings.Split(entry, ",") {
			if o = strings.TrimSpace(o); o != "" {
				out = append(out, o)
			}
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

func resolveEnv(appEnv, nodeEnv string) string {
	v := strings.ToLower(strings.TrimSpace(appEnv))
	if v == "" {
		v = strings.ToLower(strings.TrimSpace(nodeEnv))
	}
	if v == "" {
		return EnvProduction
	}
	return v
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks values that would make the pipeline misbehave.
func (c *Config) Validate() error {
	var errs []error
	if c.RateLimit.Max <= 0 {
		errs = append(errs, fmt.Errorf("rate_limit.max must be positive, got %d", c.RateLimit.Max))
	}
	if c.RateLimit.Window <= 0 {
		errs = append(errs, fmt.Errorf("rate_limit.window must be positive, got %s", c.RateLimit.Window))
	}
	if c.Server.BodyLimit <= 0 {
		errs = append(errs, fmt.Errorf("server.body_limit must be positive, got %d", c.Server.BodyLimit))
	}
	if c.Server.TrustProxy < 0 {
		errs = append(errs, fmt.Errorf("server.trust_proxy must not be negative, got %d", c.Server.TrustProxy))
	}
	if c.Store.ConnectTimeout <= 0 {
		errs = append(errs, fmt.Errorf("store.connect_timeout must be positive, got %s", c.Store.ConnectTimeout))
	}
	return errors.Join(errs...)
}

// ValidateForServer adds the checks the long-running server needs before it
// connects eagerly.
func (c *Config) ValidateForServer() error {
	if strings.TrimSpace(c.Store.URI) == "" {
		return errors.New("MONGODB_URI is not set")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	return nil
}

// IsDevelopment reports whether error bodies may carry internal details.
func (c *Config) IsDevelopment() bool {
	return c.App.Env == EnvDevelopment
}
