package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/kestrelwatch/kestrel/internal/conditions"
	"github.com/kestrelwatch/kestrel/internal/config"
	"github.com/kestrelwatch/kestrel/internal/consumer"
	"github.com/kestrelwatch/kestrel/internal/engine"
	"github.com/kestrelwatch/kestrel/internal/handlers"
	"github.com/kestrelwatch/kestrel/internal/logging"
	"github.com/kestrelwatch/kestrel/internal/models"
	"github.com/kestrelwatch/kestrel/internal/repository"
	"github.com/kestrelwatch/kestrel/internal/server"
	"github.com/kestrelwatch/kestrel/internal/service"
	"github.com/kestrelwatch/kestrel/internal/statestore"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := logging.New(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)
	logging.SetDefault(logger)

	connString := cfg.Database.Postgres.ConnString()

	// Run database migrations
	logger.Info("running database migrations")
	m, err := migrate.New("file://migrations", connString)
	if err != nil {
		logger.Error("failed to initialize migrations", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Error("failed to run migrations", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("database migrations completed")

	// Initialize repository
	repo, err := repository.NewPostgresRepository(context.Background(), connString)
	if err != nil {
		logger.Error("failed to connect to PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer repo.Close()

	// Initialize ephemeral state store
	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.Error("invalid redis url", slog.String("error", err.Error()))
		os.Exit(1)
	}
	redisOpts.MaxRetries = cfg.Redis.MaxRetries
	redisOpts.PoolSize = cfg.Redis.PoolSize
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()
	cache := statestore.New(redisClient)

	// Initialize the evaluation engine
	groups := conditions.NewGroupCache(repo)
	registry := engine.NewRegistry[consumer.TelemetryPayload](logger)
	registry.Register("telemetry", func(ctx context.Context, d *models.Detector) (engine.Handler[consumer.TelemetryPayload], error) {
		return engine.NewStatefulHandler(ctx, d, consumer.TelemetryMapper{}, repo, cache, groups)
	})
	processor := engine.NewProcessor(func(d *models.Detector) engine.Handler[consumer.TelemetryPayload] {
		return registry.Resolve(context.Background(), d)
	}, logger)

	// Connect packet intake
	conn, err := nats.Connect(cfg.NATS.URL, nats.Name("kestreld"))
	if err != nil {
		logger.Error("failed to connect to NATS", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer conn.Drain()

	packets := consumer.New(conn, cfg.NATS, repo, processor)
	if err := packets.Start(); err != nil {
		logger.Error("failed to start packet consumer", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer packets.Stop()

	// Admin API plus health and metrics endpoints
	svc := service.NewService(repo, groups, registry)
	router := server.NewRouter(handlers.NewHandler(svc))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("detector service listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("stopped")
}
