package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"vetclinica/internal/config"
	"vetclinica/internal/outbox"
	"vetclinica/internal/service/scheduling"
	"vetclinica/internal/store/postgres"
	httptransport "vetclinica/internal/transport/http"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})).With(
		slog.String("service", "vetclinica-server"),
	)
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)})).With(
		slog.String("service", "vetclinica-server"),
	)
	slog.SetDefault(log)

	log.Info("starting", slog.String("http_addr", cfg.HTTPAddr), slog.String("log_level", cfg.LogLevel))

	loc, err := time.LoadLocation(cfg.ClinicTimezone)
	if err != nil {
		log.Error("invalid clinic timezone", slog.Any("err", err), slog.String("timezone", cfg.ClinicTimezone))
		os.Exit(1)
	}

	log.Info("connecting to database", databaseLogArgs(cfg.DatabaseURL)...)
	openCtx, openCancel := context.WithTimeout(context.Background(), 10*time.Second)
	db, err := postgres.Open(openCtx, cfg.DatabaseURL, postgres.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
	})
	openCancel()
	if err != nil {
		args := append([]any{slog.Any("err", err)}, databaseLogArgs(cfg.DatabaseURL)...)
		log.Error("database connection failed", args...)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Warn("database close failed", slog.Any("err", err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	outboxRepo := outbox.NewRepository()
	publisher := outbox.NewPublisher(db, outboxRepo, log.With(slog.String("component", "outbox")), outbox.PublisherConfig{
		Brokers:   cfg.KafkaBrokers,
		PollEvery: cfg.OutboxPollEvery,
		BatchSize: cfg.OutboxBatchSize,
	})
	go publisher.Run(ctx)

	repo := postgres.NewCitaRepo(db, outboxRepo)
	svc := scheduling.NewService(repo, loc)

	server := httptransport.NewServer(svc, log.With(slog.String("component", "http")), loc, func(ctx context.Context) error {
		return db.PingContext(ctx)
	})

	middlewares := []httptransport.Middleware{
		httptransport.WithRequestID,
		httptransport.WithAccessLog(log.With(slog.String("component", "access"))),
		httptransport.WithBodyLimit(1 << 20),
		httptransport.WithTimeout(cfg.RequestTimeout),
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = rdb.Close() }()
		limiter := httptransport.NewRedisRateLimiter(rdb, cfg.RateLimitPerMin, time.Minute, "vetclinica:rl")
		middlewares = append(middlewares, limiter.Middleware(log.With(slog.String("component", "ratelimit")), cfg.RateLimitFailOpen))
		log.Info("redis rate limiter enabled", slog.String("redis_addr", cfg.RedisAddr), slog.Int("per_minute", cfg.RateLimitPerMin))
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httptransport.Chain(server.Routes(), middlewares...),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	log.Info("http server started", slog.String("http_addr", cfg.HTTPAddr))

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
		shutdown(log, httpServer, cfg.ShutdownTimeout)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server stopped with error", slog.Any("err", err))
			os.Exit(1)
		}
	}
}

func shutdown(log *slog.Logger, s *http.Server, timeout time.Duration) {
	log.Info("shutting down http server", slog.Duration("timeout", timeout))

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.Shutdown(ctx); err != nil {
		log.Warn("http graceful shutdown failed; forcing close", slog.Any("err", err))
		_ = s.Close()
		return
	}
	log.Info("http server stopped")
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func databaseLogArgs(databaseURL string) []any {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return []any{slog.String("db_url", "invalid")}
	}
	name := strings.TrimPrefix(u.Path, "/")
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "default"
	}
	if host == "" {
		host = "unknown"
	}
	if name == "" {
		name = "unknown"
	}
	return []any{
		slog.String("db_host", host),
		slog.String("db_port", port),
		slog.String("db_name", name),
	}
}
