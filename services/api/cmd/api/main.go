package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/antonio12761/roxy-bar-sub005/services/api/internal/app"
	"github.com/antonio12761/roxy-bar-sub005/services/api/internal/clock"
	"github.com/antonio12761/roxy-bar-sub005/services/api/internal/config"
	"github.com/antonio12761/roxy-bar-sub005/services/api/internal/events"
	"github.com/antonio12761/roxy-bar-sub005/services/api/internal/logging"
	"github.com/antonio12761/roxy-bar-sub005/services/api/internal/storage/postgres"
	transporthttp "github.com/antonio12761/roxy-bar-sub005/services/api/internal/transport/http"
	"github.com/antonio12761/roxy-bar-sub005/services/api/migrations"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	startupTimeout    = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 5 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.EnvFile != "" {
		logger.Info("loaded env file", zap.String("path", cfg.EnvFile))
	}
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("api stopped with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	startupCtx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	pool, err := pgxpool.New(startupCtx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to db: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(startupCtx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}
	if _, err := migrations.Apply(startupCtx, pool, logger); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	publisher, closePublishers, err := buildPublisher(startupCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer closePublishers()

	breaker := postgres.NewBreaker(postgres.DefaultBreakerConfig(), logger)
	ledger := postgres.NewLedgerRepository(pool, breaker)
	tables := postgres.NewTableRepository(pool)

	allocator := app.NewAllocationService(ledger, tables, publisher, clock.NewSystem(),
		app.WithLogger(logger.Named("allocation")),
		app.WithAllocationTimeout(cfg.AllocationTimeout),
		app.WithDefaultTenant(cfg.TenantID),
	)

	handler := transporthttp.NewRouter(transporthttp.Services{
		Orders:   app.NewOrderService(ledger),
		Payments: allocator,
		Credits:  app.NewCreditService(ledger),
		Tables:   app.NewTableService(tables),
		Store:    breaker,
	}, transporthttp.RouterConfig{
		AllowedOrigins: cfg.CORSOrigins,
		JWTSecret:      cfg.JWTSecret,
		Logger:         logger.Named("http"),
	})
	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET not set, operators are identified by the X-Operator-ID header")
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	logger.Info("api listening", zap.String("addr", server.Addr))

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- server.ListenAndServe()
	}()

	stopCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var serveErr error
	select {
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("server: %w", err)
		}
	case <-stopCtx.Done():
		logger.Info("shutdown signal received, stopping server")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
	return serveErr
}

// buildPublisher assembles the event sinks that are configured. The log sink
// is always present.
func buildPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (app.EventPublisher, func(), error) {
	sinks := []app.EventPublisher{events.NewLogPublisher(logger.Named("events"))}
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			closeAll()
			return nil, nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
		}
		closers = append(closers, func() { _ = client.Close() })
		sinks = append(sinks, events.NewRedisPublisher(client, "", logger.Named("redis")))
		logger.Info("real-time fan-out enabled", zap.String("redis_addr", cfg.RedisAddr))
	} else {
		logger.Warn("REDIS_ADDR not set, real-time fan-out disabled")
	}

	if cfg.AMQPURL != "" {
		conn, err := amqp.Dial(cfg.AMQPURL)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("amqp dial: %w", err)
		}
		ch, err := conn.Channel()
		if err != nil {
			_ = conn.Close()
			closeAll()
			return nil, nil, fmt.Errorf("amqp channel: %w", err)
		}
		if err := events.DeclareReceiptQueue(ch, cfg.ReceiptQueue); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, func() {
			_ = ch.Close()
			_ = conn.Close()
		})
		sinks = append(sinks, events.NewReceiptQueue(ch, cfg.ReceiptQueue, logger.Named("receipts")))
		logger.Info("receipt queue enabled", zap.String("queue", cfg.ReceiptQueue))
	} else {
		logger.Warn("AMQP_URL not set, receipt queue disabled")
	}

	return events.NewFanout(sinks...), closeAll, nil
}
