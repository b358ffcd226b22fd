package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Backend identifiers accepted by CHECKOUT_CART_BACKEND and CHECKOUT_SESSION_BACKEND.
const (
	CartBackendMemory    = "memory"
	CartBackendPostgres  = "postgres"
	SessionBackendMemory = "memory"
	SessionBackendRedis  = "redis"
)

const (
	defaultEnvFile = ".env"

	defaultPort         = "8080"
	defaultReadTimeout  = 15 * time.Second
	defaultWriteTimeout = 15 * time.Second
	defaultIdleTimeout  = 60 * time.Second

	defaultUpstreamTimeout = 10 * time.Second
	defaultBreakerFailures = 5
	defaultBreakerCooldown = 30 * time.Second
	defaultCheckoutIdleTTL = 30 * time.Minute
	defaultSubmitTimeout   = 20 * time.Second
	defaultSweepInterval   = time.Minute
	defaultLocale          = "es"
	defaultSessionTTL      = 30 * time.Minute
	defaultRedisAddr       = "localhost:6379"
	defaultJWTLeeway       = 30 * time.Second

	defaultIdempotencyHeader   = "Idempotency-Key"
	defaultIdempotencyTTL      = 24 * time.Hour
	defaultIdempotencyInterval = 10 * time.Minute
)

// Config captures all runtime configuration for the checkout service.
type Config struct {
	Server      ServerConfig
	OrderAPI    OrderAPIConfig
	ProfileAPI  ProfileAPIConfig
	Cart        CartConfig
	Session     SessionConfig
	Checkout    CheckoutConfig
	Auth        AuthConfig
	Idempotency IdempotencyConfig
}

// ServerConfig describes HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// OrderAPIConfig points at the upstream order service. An empty BaseURL selects the in-process fake.
type OrderAPIConfig struct {
	BaseURL         string
	Timeout         time.Duration
	BreakerFailures int
	BreakerCooldown time.Duration
}

// ProfileAPIConfig points at the customer profile service. An empty BaseURL disables profile lookups.
type ProfileAPIConfig struct {
	BaseURL string
	Timeout time.Duration
}

// CartConfig selects the cart backend.
type CartConfig struct {
	Backend     string
	DatabaseURL string
	// SeedPath points at a YAML file of carts loaded into the memory backend.
	SeedPath string
}

// SessionConfig selects where the chosen shipping option is parked for the confirmation view.
type SessionConfig struct {
	Backend       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
}

// CheckoutConfig tunes the wizard registry.
type CheckoutConfig struct {
	IdleTTL       time.Duration
	SubmitTimeout time.Duration
	SweepInterval time.Duration
	Locale        string
	CatalogPath   string
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	JWTSecret string
	Issuer    string
	Audience  string
	Leeway    time.Duration
}

// IdempotencyConfig controls idempotency key handling for POST /confirm.
type IdempotencyConfig struct {
	Header          string
	TTL             time.Duration
	CleanupInterval time.Duration
}

// ValidationError reports configuration fields that are missing or invalid.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields %v", e.fields)
}

// Fields returns the offending field names.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.LookupEnv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// Load resolves configuration. Precedence from lowest to highest is defaults, the .env
// file, the process environment, then WithEnvMap values.
func Load(_ context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnv, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}
	e := env{explicit: options.envMap, dotEnv: dotEnv, system: options.useSystemEnv}

	cfg := Config{
		Server: ServerConfig{
			Port:         e.str("CHECKOUT_SERVER_PORT", defaultPort),
			ReadTimeout:  e.duration("CHECKOUT_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: e.duration("CHECKOUT_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  e.duration("CHECKOUT_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		OrderAPI: OrderAPIConfig{
			BaseURL:         strings.TrimRight(e.str("CHECKOUT_ORDER_API_URL", ""), "/"),
			Timeout:         e.duration("CHECKOUT_ORDER_API_TIMEOUT", defaultUpstreamTimeout),
			BreakerFailures: e.int("CHECKOUT_ORDER_API_BREAKER_FAILURES", defaultBreakerFailures),
			BreakerCooldown: e.duration("CHECKOUT_ORDER_API_BREAKER_COOLDOWN", defaultBreakerCooldown),
		},
		ProfileAPI: ProfileAPIConfig{
			BaseURL: strings.TrimRight(e.str("CHECKOUT_PROFILE_API_URL", ""), "/"),
			Timeout: e.duration("CHECKOUT_PROFILE_API_TIMEOUT", defaultUpstreamTimeout),
		},
		Cart: CartConfig{
			Backend:     strings.ToLower(e.str("CHECKOUT_CART_BACKEND", CartBackendMemory)),
			DatabaseURL: e.str("CHECKOUT_DATABASE_URL", ""),
			SeedPath:    e.str("CHECKOUT_CART_SEED", ""),
		},
		Session: SessionConfig{
			Backend:       strings.ToLower(e.str("CHECKOUT_SESSION_BACKEND", SessionBackendMemory)),
			RedisAddr:     e.str("CHECKOUT_REDIS_ADDR", defaultRedisAddr),
			RedisPassword: e.str("CHECKOUT_REDIS_PASSWORD", ""),
			RedisDB:       e.int("CHECKOUT_REDIS_DB", 0),
			TTL:           e.duration("CHECKOUT_SESSION_TTL", defaultSessionTTL),
		},
		Checkout: CheckoutConfig{
			IdleTTL:       e.duration("CHECKOUT_IDLE_TTL", defaultCheckoutIdleTTL),
			SubmitTimeout: e.duration("CHECKOUT_SUBMIT_TIMEOUT", defaultSubmitTimeout),
			SweepInterval: e.duration("CHECKOUT_SWEEP_INTERVAL", defaultSweepInterval),
			Locale:        e.str("CHECKOUT_LOCALE", defaultLocale),
			CatalogPath:   e.str("CHECKOUT_SHIPPING_CATALOG", ""),
		},
		Auth: AuthConfig{
			JWTSecret: e.str("CHECKOUT_JWT_SECRET", ""),
			Issuer:    e.str("CHECKOUT_JWT_ISSUER", ""),
			Audience:  e.str("CHECKOUT_JWT_AUDIENCE", ""),
			Leeway:    e.duration("CHECKOUT_JWT_LEEWAY", defaultJWTLeeway),
		},
		Idempotency: IdempotencyConfig{
			Header:          e.str("CHECKOUT_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:             e.duration("CHECKOUT_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval: e.duration("CHECKOUT_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
		},
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// problems collects the names of invalid fields.
type problems []string

func (p *problems) require(ok bool, field string) {
	if !ok {
		*p = append(*p, field)
	}
}

func validate(cfg Config) error {
	var p problems
	blank := func(s string) bool { return strings.TrimSpace(s) == "" }

	p.require(!blank(cfg.Server.Port), "Server.Port")
	p.require(cfg.OrderAPI.Timeout > 0, "OrderAPI.Timeout")
	p.require(cfg.OrderAPI.BreakerFailures > 0, "OrderAPI.BreakerFailures")
	p.require(cfg.OrderAPI.BreakerCooldown > 0, "OrderAPI.BreakerCooldown")
	p.require(cfg.ProfileAPI.Timeout > 0, "ProfileAPI.Timeout")

	switch cfg.Cart.Backend {
	case CartBackendMemory:
	case CartBackendPostgres:
		p.require(!blank(cfg.Cart.DatabaseURL), "Cart.DatabaseURL")
	default:
		p.require(false, "Cart.Backend")
	}
	switch cfg.Session.Backend {
	case SessionBackendMemory:
	case SessionBackendRedis:
		p.require(!blank(cfg.Session.RedisAddr), "Session.RedisAddr")
	default:
		p.require(false, "Session.Backend")
	}
	p.require(cfg.Session.TTL > 0, "Session.TTL")

	p.require(cfg.Checkout.IdleTTL > 0, "Checkout.IdleTTL")
	p.require(cfg.Checkout.SubmitTimeout > 0, "Checkout.SubmitTimeout")
	p.require(cfg.Checkout.SweepInterval > 0, "Checkout.SweepInterval")
	p.require(!blank(cfg.Auth.JWTSecret), "Auth.JWTSecret")
	p.require(!blank(cfg.Idempotency.Header), "Idempotency.Header")
	p.require(cfg.Idempotency.TTL > 0, "Idempotency.TTL")
	p.require(cfg.Idempotency.CleanupInterval > 0, "Idempotency.CleanupInterval")

	if len(p) > 0 {
		return &ValidationError{fields: p}
	}
	return nil
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	values, err := godotenv.Read(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	return values, nil
}

// env layers the configuration sources. Blank and unparsable values fall back to the default.
type env struct {
	explicit map[string]string
	dotEnv   map[string]string
	system   bool
}

func (e env) raw(key string) string {
	if v, ok := e.explicit[key]; ok {
		return strings.TrimSpace(v)
	}
	if e.system {
		if v, ok := os.LookupEnv(key); ok {
			return strings.TrimSpace(v)
		}
	}
	return strings.TrimSpace(e.dotEnv[key])
}

func (e env) str(key, fallback string) string {
	if v := e.raw(key); v != "" {
		return v
	}
	return fallback
}

func (e env) duration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(e.raw(key)); err == nil {
		return d
	}
	return fallback
}

func (e env) int(key string, fallback int) int {
	if n, err := strconv.Atoi(e.raw(key)); err == nil {
		return n
	}
	return fallback
}
