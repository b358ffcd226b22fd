package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kbook/checkout/internal/platform/httpx"
)

// RouteRegistrar mounts a group of endpoints.
type RouteRegistrar func(r chi.Router)

// Option adjusts NewRouter.
type Option func(*routerConfig)

type routerConfig struct {
	basePath  string
	global    []func(http.Handler) http.Handler
	customer  []func(http.Handler) http.Handler
	health    *HealthHandlers
	checkouts RouteRegistrar
}

const (
	defaultAPIPrefix = "/api/v1"
	defaultTimeout   = 60 * time.Second
)

// NewRouter serves probes at the root and checkout endpoints under the API prefix.
// Customer middlewares apply only to the prefixed group.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		basePath: defaultAPIPrefix,
		global:   []func(http.Handler) http.Handler{middleware.RequestID, middleware.RealIP, middleware.Timeout(defaultTimeout)},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	use(r, cfg.global)
	r.NotFound(routeNotFound)
	r.MethodNotAllowed(methodNotAllowed)
	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(cfg.basePath, func(api chi.Router) {
		api.Group(func(g chi.Router) {
			use(g, cfg.customer)
			if cfg.checkouts == nil {
				g.HandleFunc("/checkouts", checkoutsNotConfigured)
				g.HandleFunc("/checkouts/*", checkoutsNotConfigured)
				return
			}
			cfg.checkouts(g)
		})
	})
	return r
}

func use(r chi.Router, mws []func(http.Handler) http.Handler) {
	for _, mw := range mws {
		if mw != nil {
			r.Use(mw)
		}
	}
}

func routeNotFound(w http.ResponseWriter, r *http.Request) {
	httpx.WriteError(r.Context(), w, httpx.NewError("route_not_found", fmt.Sprintf("no route for %s", r.URL.Path), http.StatusNotFound))
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	msg := fmt.Sprintf("method %s not allowed on %s", r.Method, r.URL.Path)
	httpx.WriteError(r.Context(), w, httpx.NewError("method_not_allowed", msg, http.StatusMethodNotAllowed))
}

func checkoutsNotConfigured(w http.ResponseWriter, r *http.Request) {
	httpx.WriteError(r.Context(), w, httpx.NewError("not_implemented", "checkout endpoints are not configured", http.StatusNotImplemented))
}

// WithBasePath overrides the API prefix.
func WithBasePath(path string) Option {
	return func(cfg *routerConfig) {
		if path != "" {
			cfg.basePath = path
		}
	}
}

// WithMiddlewares appends middleware run for every request.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.global = append(cfg.global, mw...)
	}
}

// WithHealthHandlers replaces the probe handlers.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithCheckoutRoutes mounts the checkout endpoints.
func WithCheckoutRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.checkouts = reg
	}
}

// WithCustomerMiddlewares guards the API group, usually auth then customer log fields.
func WithCustomerMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.customer = append(cfg.customer, mw...)
	}
}
