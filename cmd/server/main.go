package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"eventrides/internal/app"
	"eventrides/internal/auth"
	"eventrides/internal/config"
	"eventrides/internal/feed"
	"eventrides/internal/handler"
	"eventrides/internal/logging"
	internalRedis "eventrides/internal/redis"
	"eventrides/internal/service"
	"eventrides/internal/session"
	"eventrides/internal/store"
	"eventrides/internal/store/memory"
	"eventrides/internal/store/postgres"
)

func main() {
	configPath := pflag.String("config", "", "path to a YAML config file")
	port := pflag.String("port", "", "HTTP port, overrides the config")
	logLevel := pflag.String("log-level", "", "debug, info, warn or error; overrides the config")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	logger := logging.NewLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// New Relic first so the database and Redis clients are instrumented.
	var nrApp *newrelic.Application
	if cfg.NewRelic.Enabled && cfg.NewRelic.LicenseKey != "" {
		var err error
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelic.AppName),
			newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			logger.Warn("failed to initialize New Relic", "error", err)
			nrApp = nil
		} else {
			logger.Info("New Relic enabled", "app", cfg.NewRelic.AppName)
			defer nrApp.Shutdown(5 * time.Second)
		}
	}

	st, closeStore, err := openStore(ctx, cfg, nrApp, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	redisClient, err := app.NewRedisClient(ctx, cfg.Redis, nrApp)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
		logger.Info("connected to redis", "addr", cfg.Redis.Addr)
	} else {
		logger.Info("redis disabled: push topics, pickup index and idempotency keys are off")
	}

	server, shutdown := wireServer(st, redisClient, nrApp, cfg, logger)
	defer shutdown()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "port", cfg.Server.Port, "store", cfg.Store.Backend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	}
	logger.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server exited")
	return nil
}

// openStore returns the configured document store and its cleanup.
func openStore(ctx context.Context, cfg *config.Config, nrApp *newrelic.Application, logger *slog.Logger) (store.Store, func(), error) {
	if cfg.Store.Backend == config.BackendMemory {
		logger.Warn("using in-memory store, data is lost on exit")
		return memory.New(), func() {}, nil
	}

	db, err := app.NewDatabase(ctx, cfg.Database, nrApp)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	st, err := postgres.New(db, cfg.Database.DSN(), logger)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	if cfg.Store.Migrate {
		if err := st.Migrate(ctx); err != nil {
			st.Close()
			db.Close()
			return nil, nil, err
		}
	}
	logger.Info("connected to postgres", "host", cfg.Database.Host, "db", cfg.Database.DBName)
	return st, func() {
		if err := st.Close(); err != nil {
			logger.Warn("close store", "error", err)
		}
		db.Close()
	}, nil
}

// wireServer wires all dependencies and returns the HTTP server with the
// cleanup that closes live sessions and entity mirrors.
func wireServer(st store.Store, redisClient *redis.Client, nrApp *newrelic.Application, cfg *config.Config, logger *slog.Logger) (*http.Server, func()) {
	var (
		topics    session.TopicRegistrar
		publisher service.Publisher
		pickups   internalRedis.PickupIndexInterface
	)
	if redisClient != nil {
		topicStore := internalRedis.NewTopicStore(redisClient)
		topics = topicStore
		publisher = topicStore
		pickups = internalRedis.NewPickupIndex(redisClient)
	}

	verifier := auth.NewVerifier(cfg.Auth.Secret, cfg.Auth.TokenTTL)
	authSource := auth.NewSource(verifier)

	registry := session.NewRegistry(st, topics, logger)
	registry.Attach(authSource)

	events := service.NewEventDirectory(st, logger)
	notificationService := service.NewNotificationService(publisher, logger)
	rideService := service.NewRideService(st, events, pickups, notificationService, logger)
	driveService := service.NewDriveService(st, events, pickups, notificationService, logger)

	router := app.NewRouter(app.RouterDeps{
		Verifier:       verifier,
		SessionHandler: handler.NewSessionHandler(authSource, registry),
		EventHandler:   handler.NewEventHandler(events, driveService),
		RideHandler:    handler.NewRideHandler(rideService, registry),
		DriveHandler:   handler.NewDriveHandler(driveService, rideService, registry),
		FeedHandler:    feed.NewHandler(registry, logger),
		RedisClient:    redisClient,
		NewRelicApp:    nrApp,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return server, func() {
		registry.Close()
		events.Close()
	}
}
