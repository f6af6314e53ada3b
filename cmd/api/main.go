// AngelaMos | 2026
// main.go

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"github.com/carterperez-dev/templates/credit-ledger/internal/admin"
	"github.com/carterperez-dev/templates/credit-ledger/internal/auth"
	"github.com/carterperez-dev/templates/credit-ledger/internal/config"
	"github.com/carterperez-dev/templates/credit-ledger/internal/core"
	"github.com/carterperez-dev/templates/credit-ledger/internal/health"
	"github.com/carterperez-dev/templates/credit-ledger/internal/ledger"
	"github.com/carterperez-dev/templates/credit-ledger/internal/middleware"
	"github.com/carterperez-dev/templates/credit-ledger/internal/profile"
	"github.com/carterperez-dev/templates/credit-ledger/internal/realtime"
	"github.com/carterperez-dev/templates/credit-ledger/internal/server"
	"github.com/carterperez-dev/templates/credit-ledger/internal/user"
)

const (
	drainDelay          = 5 * time.Second
	sessionPurgeEvery   = time.Hour
	brokerRestartBackoff = 2 * time.Second
)

func main() {
	//nolint:errcheck // .env is optional
	_ = godotenv.Load()

	configPath := flag.String("config", "config.yaml", "path to config file")
	generateKeys := flag.Bool("generate-keys", false, "write a new ES256 key pair to the configured paths and exit")
	flag.Parse()

	if err := run(*configPath, *generateKeys); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

//nolint:funlen // bootstrap code is inherently verbose
func run(configPath string, generateKeys bool) error {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Log)
	slog.SetDefault(logger)

	if generateKeys {
		if err := auth.GenerateKeyPair(cfg.JWT.PrivateKeyPath, cfg.JWT.PublicKeyPath); err != nil {
			return fmt.Errorf("generate keys: %w", err)
		}
		logger.Info("key pair written",
			"private", cfg.JWT.PrivateKeyPath,
			"public", cfg.JWT.PublicKeyPath,
		)
		return nil
	}

	logger.Info("starting application",
		"name", cfg.App.Name,
		"version", cfg.App.Version,
		"environment", cfg.App.Environment,
	)
	if cfg.IsDevelopment() && cfg.Auth.ExposeConfirmationToken {
		logger.Warn("confirmation and reset tokens are returned in API responses")
	}

	telemetry, err := core.NewTelemetry(ctx, cfg.Otel, cfg.App)
	switch {
	case err != nil:
		logger.Warn("failed to initialize telemetry", "error", err)
	case telemetry != nil:
		logger.Info("OpenTelemetry tracer initialized",
			"endpoint", cfg.Otel.Endpoint,
		)
	}

	core.InitMetrics()

	db, err := core.NewDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	logger.Info("database connected",
		"max_open_conns", cfg.Database.MaxOpenConns,
		"max_idle_conns", cfg.Database.MaxIdleConns,
	)

	redis, err := core.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	logger.Info("redis connected",
		"pool_size", cfg.Redis.PoolSize,
	)

	jwtManager, err := auth.NewJWTManager(cfg.JWT)
	if err != nil {
		return err
	}
	logger.Info("JWT manager initialized",
		"algorithm", "ES256",
		"key_id", jwtManager.GetKeyID(),
	)

	hub := realtime.NewHub(cfg.Realtime.SubscriberBuf)
	broker := realtime.NewBroker(redis.Client, hub, logger)

	profileSvc := profile.NewService(profile.NewRepository(db.DB), broker, logger)
	profileHandler := profile.NewHandler(profileSvc)

	ledgerSvc := ledger.NewService(
		ledger.NewRepository(db.DB),
		ledger.NewRedisUsage(redis.Client, cfg.Credits.UsageRetention),
		broker,
		cfg.Credits,
		logger,
	)
	ledgerHandler := ledger.NewHandler(ledgerSvc)

	userSvc := user.NewService(user.NewRepository(db.DB), profileSvc)

	authSvc := auth.NewService(
		auth.NewRepository(db.DB),
		jwtManager,
		userSvc,
		redis.Client,
		broker,
		cfg.Auth,
		logger,
	)
	authSvc.OnSignUp(func(ctx context.Context, u *auth.UserInfo) error {
		_, err := profileSvc.Provision(ctx, u.ID, u.Email, u.Metadata)
		return err
	})
	authSvc.OnSignUp(func(ctx context.Context, u *auth.UserInfo) error {
		return ledgerSvc.Provision(ctx, u.ID)
	})
	authHandler := auth.NewHandler(authSvc)
	userHandler := user.NewHandler(userSvc, authSvc)

	realtimeHandler := realtime.NewHandler(realtime.HandlerConfig{
		Hub:            hub,
		Verifier:       authSvc,
		Admins:         profileSvc,
		AllowedOrigins: cfg.Realtime.AllowedOrigins,
		PingInterval:   cfg.Realtime.PingInterval,
		WriteTimeout:   cfg.Realtime.WriteTimeout,
		Logger:         logger,
	})

	healthHandler := health.NewHandler(db, redis)

	adminHandler := admin.NewHandler(admin.HandlerConfig{
		DBStats:    db.Stats,
		RedisStats: redis.PoolStats,
		DBPing:     db.Ping,
		RedisPing:  redis.Ping,
		Ledger:     ledgerSvc,
		Members:    profileSvc,
		Realtime:   hub,
	})

	srv := server.New(server.Config{
		ServerConfig:  cfg.Server,
		HealthHandler: healthHandler,
		Logger:        logger,
	})

	router := srv.Router()

	router.Use(middleware.RequestID)
	router.Use(middleware.Tracing)
	router.Use(middleware.Logger(logger))
	router.Use(
		middleware.NewRateLimiter(redis.Client, middleware.RateLimitConfig{
			Name:   "global",
			Logger: logger,
			Limit: middleware.PerMinute(
				cfg.RateLimit.Requests,
				cfg.RateLimit.Burst,
			),
			FailOpen: true,
		}).Handler,
	)
	router.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	router.Use(middleware.CORS(cfg.CORS))

	healthHandler.RegisterRoutes(router)

	router.Get("/.well-known/jwks.json", jwtManager.GetJWKSHandler())
	router.Handle("/metrics", core.MetricsHandler())

	authenticator := middleware.Authenticator(authSvc)
	adminOnly := middleware.RequireAdmin(profileSvc)

	signupLimiter := middleware.NewRateLimiter(redis.Client, middleware.RateLimitConfig{
		Name:   "signup",
		Logger: logger,
		Limit: middleware.PerHour(
			cfg.Auth.SignupsPerHour,
			cfg.Auth.SignupsPerHour,
		),
		KeyFunc:  middleware.KeyWithPrefix("signup"),
		FailOpen: true,
	}).Handler

	rpcLimiter := middleware.NewRateLimiter(redis.Client, middleware.RateLimitConfig{
		Name:   "rpc",
		Logger: logger,
		Limit: middleware.PerMinute(
			cfg.RateLimit.Requests,
			cfg.RateLimit.Burst,
		),
		KeyFunc:  middleware.KeyByUserAndEndpoint,
		FailOpen: true,
	}).Handler

	router.Route("/v1", func(r chi.Router) {
		authHandler.RegisterRoutes(r, authenticator, signupLimiter)

		profileHandler.RegisterRoutes(r, authenticator)
		profileHandler.RegisterAdminRoutes(r, authenticator, adminOnly)

		ledgerHandler.RegisterRoutes(r, authenticator, rpcLimiter)
		ledgerHandler.RegisterAdminRoutes(r, authenticator, adminOnly)

		userHandler.RegisterRoutes(r, authenticator)
		userHandler.RegisterAdminRoutes(r, authenticator, adminOnly)

		adminHandler.RegisterRoutes(r, authenticator, adminOnly)

		realtimeHandler.RegisterRoutes(r)
	})

	backgroundCtx, cancelBackground := context.WithCancel(context.Background())
	defer cancelBackground()
	srv.OnShutdown(cancelBackground)

	go runBroker(backgroundCtx, broker, healthHandler, logger)
	go purgeSessions(backgroundCtx, authSvc, logger)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		cfg.Server.ShutdownTimeout+drainDelay+5*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx, drainDelay); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		logger.Error("telemetry shutdown error", "error", err)
	}

	if err := redis.Close(); err != nil {
		logger.Error("redis close error", "error", err)
	}

	if err := db.Close(); err != nil {
		logger.Error("database close error", "error", err)
	}

	logger.Info("application stopped")
	return nil
}

// runBroker keeps the Redis to websocket relay alive until ctx ends. The
// instance reports not ready while the relay is down.
func runBroker(
	ctx context.Context,
	broker *realtime.Broker,
	healthHandler *health.Handler,
	logger *slog.Logger,
) {
	for {
		healthHandler.SetReady(true)
		if err := broker.Run(ctx); err != nil {
			healthHandler.SetReady(false)
			logger.Error("realtime broker stopped", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(brokerRestartBackoff):
		}
	}
}

func purgeSessions(ctx context.Context, authSvc *auth.Service, logger *slog.Logger) {
	ticker := time.NewTicker(sessionPurgeEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := authSvc.PurgeExpiredSessions(ctx)
			if err != nil {
				logger.Warn("purge expired sessions", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("expired sessions purged", "count", n)
			}
		}
	}
}

func setupLogger(cfg config.LogConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
