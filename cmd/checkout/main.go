package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kbook/checkout/internal/cart"
	"github.com/kbook/checkout/internal/checkout"
	"github.com/kbook/checkout/internal/confirmation"
	"github.com/kbook/checkout/internal/handlers"
	"github.com/kbook/checkout/internal/orderapi"
	"github.com/kbook/checkout/internal/platform/auth"
	"github.com/kbook/checkout/internal/platform/config"
	"github.com/kbook/checkout/internal/platform/idempotency"
	"github.com/kbook/checkout/internal/platform/observability"
	"github.com/kbook/checkout/internal/pricing"
	"github.com/kbook/checkout/internal/profileapi"
	"github.com/kbook/checkout/internal/session"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("checkout")
	ctx = observability.WithLogger(ctx, logger)

	cfg, err := config.Load(ctx)
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			logger.Fatal("invalid configuration", zap.Strings("fields", invalid.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	healthOpts := []handlers.HealthOption{
		handlers.WithHealthBuildInfo(buildInfoFromEnv(startedAt)),
	}

	var (
		db    *sql.DB
		carts cart.Store
	)
	switch cfg.Cart.Backend {
	case config.CartBackendPostgres:
		db, err = cart.Open(ctx, cfg.Cart.DatabaseURL)
		if err != nil {
			logger.Fatal("failed to connect to cart database", zap.Error(err))
		}
		defer func() {
			if err := db.Close(); err != nil {
				logger.Warn("cart database close error", zap.Error(err))
			}
		}()
		store := cart.NewPostgresStore(db)
		if err := store.EnsureSchema(ctx); err != nil {
			logger.Fatal("failed to prepare cart schema", zap.Error(err))
		}
		carts = store
		healthOpts = append(healthOpts, handlers.WithHealthCheck("postgres", db.PingContext))
	default:
		mem := cart.NewMemoryStore()
		if path := strings.TrimSpace(cfg.Cart.SeedPath); path != "" {
			seeded, err := seedCarts(ctx, mem, path)
			if err != nil {
				logger.Fatal("failed to seed cart store", zap.String("path", path), zap.Error(err))
			}
			logger.Info("seeded in-memory cart store", zap.String("path", path), zap.Int("carts", seeded))
		} else {
			logger.Warn("in-memory cart store is empty and only suits tests; set CHECKOUT_CART_SEED or use the postgres backend")
		}
		carts = mem
	}

	var (
		redisClient  *redis.Client
		options      session.OptionStore
		memOptions   *session.MemoryStore
		idemStore    idempotency.Store
		memIdemStore *idempotency.MemoryStore
	)
	switch cfg.Session.Backend {
	case config.SessionBackendRedis:
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Session.RedisAddr,
			Password: cfg.Session.RedisPassword,
			DB:       cfg.Session.RedisDB,
		})
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close error", zap.Error(err))
			}
		}()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to reach redis", zap.String("addr", cfg.Session.RedisAddr), zap.Error(err))
		}
		options = session.NewRedisStore(redisClient, cfg.Session.TTL)
		idemStore = idempotency.NewRedisStore(redisClient)
		healthOpts = append(healthOpts, handlers.WithHealthCheck("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}))
	default:
		memOptions = session.NewMemoryStore(cfg.Session.TTL)
		memIdemStore = idempotency.NewMemoryStore()
		options = memOptions
		idemStore = memIdemStore
	}

	catalog, err := loadCatalog(cfg.Checkout.CatalogPath)
	if err != nil {
		logger.Fatal("failed to load shipping catalog", zap.String("path", cfg.Checkout.CatalogPath), zap.Error(err))
	}

	orders := orderapi.NewClient(cfg.OrderAPI.BaseURL,
		orderapi.WithTimeout(cfg.OrderAPI.Timeout),
		orderapi.WithBreaker(uint32(cfg.OrderAPI.BreakerFailures), cfg.OrderAPI.BreakerCooldown),
		orderapi.WithLogger(observability.Events(logger.Named("orderapi"))),
	)
	if cfg.OrderAPI.BaseURL == "" {
		logger.Warn("order api url not set; serving orders from the in-process fake")
	}

	deps := checkout.ServiceDeps{
		Orders:        orders,
		Carts:         carts,
		Options:       options,
		Catalog:       catalog,
		Logger:        observability.Events(logger),
		IdleTTL:       cfg.Checkout.IdleTTL,
		SubmitTimeout: cfg.Checkout.SubmitTimeout,
	}
	if cfg.ProfileAPI.BaseURL != "" {
		deps.Profiles = profileapi.NewClient(cfg.ProfileAPI.BaseURL, cfg.ProfileAPI.Timeout)
	} else {
		logger.Warn("profile api url not set; every checkout starts without a stored profile")
	}
	checkoutService, err := checkout.NewService(deps)
	if err != nil {
		logger.Fatal("failed to initialise checkout service", zap.Error(err))
	}

	renderer, err := confirmation.NewRenderer(catalog, confirmation.WithLocale(cfg.Checkout.Locale))
	if err != nil {
		logger.Fatal("failed to initialise confirmation renderer", zap.Error(err))
	}

	verifier, err := auth.NewHS256Verifier(cfg.Auth.JWTSecret,
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithAudience(cfg.Auth.Audience),
		auth.WithLeeway(cfg.Auth.Leeway),
	)
	if err != nil {
		logger.Fatal("failed to initialise token verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(verifier)

	idemLogger := observability.Events(logger.Named("idempotency"))
	checkoutHandlers := handlers.NewCheckoutHandlers(checkoutService, renderer,
		handlers.WithOptionTaker(options),
		handlers.WithCheckoutLogger(observability.Events(logger)),
		handlers.WithConfirmMiddlewares(idempotency.Middleware(idemStore,
			idempotency.WithHeader(cfg.Idempotency.Header),
			idempotency.WithTTL(cfg.Idempotency.TTL),
			idempotency.WithLogger(idemLogger),
		)),
	)

	backgroundCtx, backgroundCancel := context.WithCancel(observability.WithLogger(context.Background(), logger))
	var backgroundWG sync.WaitGroup
	runEvery := func(name string, interval time.Duration, fn func(context.Context)) {
		if interval <= 0 {
			return
		}
		backgroundWG.Add(1)
		go func() {
			defer backgroundWG.Done()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					fn(backgroundCtx)
				case <-backgroundCtx.Done():
					logger.Debug("background loop stopped", zap.String("loop", name))
					return
				}
			}
		}()
	}

	runEvery("checkout-sweeper", cfg.Checkout.SweepInterval, func(ctx context.Context) {
		checkoutService.Sweep(ctx)
	})
	if memOptions != nil {
		runEvery("session-cleanup", cfg.Checkout.SweepInterval, func(ctx context.Context) {
			if removed := memOptions.Cleanup(ctx); removed > 0 {
				logger.Debug("session cleanup removed entries", zap.Int("count", removed))
			}
		})
	}
	if memIdemStore != nil {
		backgroundWG.Add(1)
		go func() {
			defer backgroundWG.Done()
			idempotency.Cleanup(backgroundCtx, memIdemStore, cfg.Idempotency.CleanupInterval, idemLogger)
		}()
	}

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware(),
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
		observability.RecoveryMiddleware(logger.Named("http")),
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(healthOpts...)),
		handlers.WithCustomerMiddlewares(
			authenticator.RequireAuth(),
			observability.CustomerLoggerMiddleware(),
		),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
	)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("checkout api listening",
			zap.String("cart_backend", cfg.Cart.Backend),
			zap.String("session_backend", cfg.Session.Backend),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	backgroundCancel()
	backgroundWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func loadCatalog(path string) (*pricing.Catalog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return pricing.DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return pricing.LoadCatalog(data)
}

func seedCarts(ctx context.Context, store *cart.MemoryStore, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	carts, err := cart.LoadSeed(data)
	if err != nil {
		return 0, err
	}
	return store.Seed(ctx, carts)
}

func buildInfoFromEnv(started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(os.Getenv("CHECKOUT_BUILD_VERSION"))
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(os.Getenv("CHECKOUT_BUILD_COMMIT_SHA"))
	if commit == "" {
		commit = "unknown"
	}
	return handlers.BuildInfo{Version: version, CommitSHA: commit, StartedAt: started}
}
