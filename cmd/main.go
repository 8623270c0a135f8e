/**
 * @description
 * This is the main entry point for the settlement-service.
 * It initializes the configuration, database pool, optional Redis rate limiting, the
 * RabbitMQ event producer, the payment provider clients, the application services and
 * the HTTP server, then runs the link expiry scheduler until a shutdown signal arrives.
 *
 * @dependencies
 * - internal/api, internal/app, internal/config, internal/store: The service layers.
 * - pkg/rabbitmq, pkg/mollieclient, pkg/linkpayclient: Outbound integrations.
 * - github.com/jackc/pgx/v5/pgxpool: PostgreSQL connection pooling.
 * - github.com/redis/go-redis/v9: Rate limit counters.
 * - go.uber.org/zap: Structured logging.
 */
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/busquote/settlement-service/internal/api"
	"github.com/busquote/settlement-service/internal/app"
	"github.com/busquote/settlement-service/internal/config"
	"github.com/busquote/settlement-service/internal/documents"
	"github.com/busquote/settlement-service/internal/pricing"
	"github.com/busquote/settlement-service/internal/store"
	"github.com/busquote/settlement-service/pkg/linkpayclient"
	"github.com/busquote/settlement-service/pkg/mollieclient"
	"github.com/busquote/settlement-service/pkg/rabbitmq"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(".")
	if err != nil {
		panic("cannot load config: " + err.Error())
	}

	logger := newLogger(cfg.LogLevel)
	defer logger.Sync()
	for _, warning := range cfg.Warnings {
		logger.Warn(warning, zap.String("component", "config"))
	}

	// Establish database connection pool.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("unable to parse database config", zap.Error(err))
	}
	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		logger.Fatal("unable to connect to database", zap.Error(err))
	}
	defer dbpool.Close()
	logger.Info("database connection established", zap.String("component", "db"))

	// Event producer. Contract and payment commits never depend on the broker.
	var producer rabbitmq.Publisher
	eventProducer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, logger)
	if err != nil {
		logger.Warn("rabbitmq unavailable; booking events will be dropped", zap.String("component", "rabbitmq"), zap.Error(err))
		producer = &rabbitmq.EventProducerFallback{Logger: logger}
	} else {
		producer = eventProducer
	}
	defer producer.Close()
	dispatcher := app.NewDispatcher(producer, cfg.BookingEventsExchange, logger)

	// Optional Redis rate limiter for payment link creation.
	var limiter app.RateLimiter
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Warn("invalid redis url; link rate limiting disabled", zap.String("component", "redis"), zap.Error(err))
		} else {
			redisClient := redis.NewClient(redisOpts)
			pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			pingErr := redisClient.Ping(pingCtx).Err()
			cancel()
			if pingErr != nil {
				logger.Warn("redis ping failed; link rate limiting disabled", zap.String("component", "redis"), zap.Error(pingErr))
				_ = redisClient.Close()
			} else {
				defer redisClient.Close()
				limiter = app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
				logger.Info("redis rate limiter enabled", zap.String("component", "redis"), zap.String("prefix", cfg.RedisRateLimitPrefix))
			}
		}
	} else {
		logger.Info("redis not configured; link rate limiting disabled", zap.String("component", "redis"))
	}

	// Payment providers.
	mollieClient := mollieclient.NewClient(cfg.MollieAPIBaseURL, cfg.MollieAPIKey, cfg.ProviderTimeout())
	linkPayClient := linkpayclient.NewClient(cfg.LinkPayAPIBaseURL, cfg.LinkPayAPIKey, cfg.ProviderTimeout())

	var checkout app.CheckoutProvider
	switch cfg.PaymentProvider {
	case config.ProviderMollie:
		checkout = app.NewMollieCheckout(mollieClient)
	default:
		checkout = app.NewLinkPayCheckout(linkPayClient)
	}
	if cfg.LinkPayWebhookSecret == "" {
		logger.Warn("LINKPAY_WEBHOOK_SECRET not set; linkpay webhooks are accepted unsigned", zap.String("component", "webhooks"))
	}
	if cfg.ClientJWTSecret == "" {
		logger.Warn("CLIENT_JWT_SECRET not set; client sessions are not enforced", zap.String("component", "api"))
	}

	// Application services.
	repo := store.NewPostgresRepository(dbpool)

	contracts := app.NewContractService(repo, dispatcher, app.ContractServiceConfig{
		Policy: pricing.Policy{
			DepositPercent:           cfg.DepositPercent,
			FullPaymentThresholdDays: cfg.FullPaymentThresholdDays,
		},
		Location:      cfg.Location(),
		Currency:      cfg.Currency,
		PublicBaseURL: cfg.PublicBaseURL,
	}, logger)

	links := app.NewPaymentLinkService(repo, checkout, limiter, app.PaymentLinkServiceConfig{
		Currency:          cfg.Currency,
		MaxAmountMinor:    cfg.PaymentLinkMaxAmountMinor(),
		LinkTTL:           cfg.PaymentLinkTTL(),
		PublicBaseURL:     cfg.PublicBaseURL,
		APIBaseURL:        cfg.APIBaseURL,
		RateLimitPerMin:   cfg.LinkCreateRatePerMin,
		RateLimitDisabled: limiter == nil,
	}, logger)

	reconciler := app.NewReconciler(repo, dispatcher, cfg.Currency, logger)
	adapters := []app.ProviderAdapter{
		app.NewLinkPayAdapter(cfg.LinkPayWebhookSecret, logger),
		app.NewMollieAdapter(mollieClient),
	}

	jobs := app.NewJobs(repo, logger)
	scheduler := app.NewScheduler(jobs, logger, cfg.LinkExpirySchedule)
	if err := scheduler.Start(); err != nil {
		logger.Fatal("failed to start scheduler", zap.Error(err))
	}

	handlers := api.NewHandlers(api.HandlersDeps{
		Contracts:  contracts,
		Links:      links,
		Reconciler: reconciler,
		Adapters:   adapters,
		Expirer:    jobs,
		Company:    documents.Company{Name: cfg.CompanyName, Address: cfg.CompanyAddress},
		Logger:     logger,
	})
	router := api.NewRouter(handlers, api.RouterConfig{
		ClientJWTSecret: cfg.ClientJWTSecret,
		InternalAPIKey:  cfg.InternalAPIKey,
		AllowedOrigins:  cfg.AllowedOrigins(),
	})

	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	go func() {
		logger.Info("settlement-service listening", zap.String("addr", server.Addr), zap.String("provider", cfg.PaymentProvider))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down settlement-service")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	<-scheduler.Stop().Done()
	dispatcher.Wait()
	logger.Info("settlement-service stopped")
}

func newLogger(level string) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if strings.EqualFold(strings.TrimSpace(level), "debug") {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
