package main

import (
	"context"
	"expvar"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"qms/walkin-queue/internal/admin"
	"qms/walkin-queue/internal/auth"
	"qms/walkin-queue/internal/config"
	"qms/walkin-queue/internal/httpapi"
	"qms/walkin-queue/internal/hub"
	"qms/walkin-queue/internal/logging"
	"qms/walkin-queue/internal/queue"
	"qms/walkin-queue/internal/report"
	"qms/walkin-queue/internal/store/postgres"
	"qms/walkin-queue/internal/telemetry"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New("info", "queue-service")
		bootLogger.Fatal().Err(err).Msg("load config")
	}
	logger := logging.New(cfg.LogLevel, "queue-service")

	shutdownTelemetry := telemetry.Setup("queue-service", logger)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	location, err := cfg.Location()
	if err != nil {
		logger.Fatal().Err(err).Msg("timezone")
	}

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("db connect")
	}
	defer pool.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := postgres.NewStore(pool)
	events := hub.New(logger)
	var publisher queue.Publisher = events
	if cfg.RedisURL != "" {
		options, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis url")
		}
		client := redis.NewClient(options)
		defer client.Close()
		relay := hub.NewRedisRelay(client, cfg.RedisChannel, events, logger)
		publisher = relay
		go relay.Supervise(ctx)
		logger.Info().Str("channel", cfg.RedisChannel).Msg("redis relay enabled")
	}

	authService := auth.NewService(store, auth.Options{SessionTTL: cfg.SessionTTL})
	queueService := queue.NewService(store, publisher, logger, queue.Options{
		RegisterMaxAttempts: cfg.RegisterMaxAttempts,
		HistorySize:         cfg.HistorySize,
	})
	handler := httpapi.NewHandler(
		queueService,
		authService,
		admin.NewService(store, authService),
		report.NewReporter(store, location),
		httpapi.Options{Logger: logger},
	)
	realtime := httpapi.NewRealtime(events, authService, cfg.RealtimeBuffer, logger)
	limiter := httpapi.NewRateLimiter(rateLimitConfig(cfg))

	mux := http.NewServeMux()
	mux.Handle("/metrics", expvar.Handler())
	mux.Handle(httpapi.RealtimePrefix+"/", realtime.Handler())
	mux.Handle("/", handler.Routes())

	otelHandler := otelhttp.NewHandler(httpapi.LoggingMiddleware(logger, limiter.Middleware(mux)), "queue-service")
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelHandler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", server.Addr).Msg("queue-service listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
}

func rateLimitConfig(cfg config.Config) httpapi.RateLimitConfig {
	return httpapi.RateLimitConfig{
		IPPerMinute:      cfg.RateLimitPerMinute,
		IPBurst:          cfg.RateLimitBurst,
		SessionPerMinute: cfg.StaffRateLimitPerMinute,
		SessionBurst:     cfg.StaffRateLimitBurst,
	}
}
