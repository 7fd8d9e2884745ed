package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"slotter/internal/api"
	"slotter/internal/config"
	"slotter/internal/database"
	"slotter/internal/domain"
	"slotter/internal/events"
	"slotter/internal/logging"
	"slotter/internal/metrics"
	"slotter/internal/notify"
	"slotter/internal/repository"
	"slotter/internal/service"
	"slotter/internal/worker"

	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cache, cacheClose := initBlockCache(ctx, cfg, &logger)
	if cacheClose != nil {
		defer (func() { _ = cacheClose() })()
	}

	providers := service.NewProviderDirectory(cfg.Providers)
	bus := events.NewEventBus()

	sm := service.NewStateMachine(db, bus, &logger)
	coord := service.NewCoordinator(db, sm, bus, cfg.Scheduling.AssumedDuration(), &logger)
	sm.SetConflictResolver(coord)
	blocks := service.NewBlockLedger(db, cache, bus, &logger)
	validator := service.NewValidator(db, providers, cfg.Scheduling, &logger)
	booking := service.NewBookingService(db, validator, blocks, bus, &logger)

	startNotifications(ctx, cfg, providers, bus, &logger)
	startSweepers(ctx, db, sm, blocks, cfg, &logger)

	srv := api.NewServer(cfg.API, booking, sm, coord, cache, cfg.Monitoring.PrometheusEnabled, &logger)
	return serveUntilSignalled(ctx, srv, cfg, &logger)
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "server-main").Logger()

	return cfg, logger, closer, nil
}

// initBlockCache prefers redis with an in-memory fallback; when redis is
// disabled or unreachable the service runs on the in-memory cache alone.
func initBlockCache(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (domain.BlockCache, func() error) {
	memory := repository.NewMemoryBlockCache()
	if !cfg.Redis.Enabled || cfg.Redis.Address == "" {
		return memory, nil
	}

	client := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, client); err != nil {
		logger.Warn().Err(err).Msg("redis unreachable, using in-memory block cache")
		_ = repository.Close(client)
		return memory, nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	cache := repository.NewFailoverBlockCache(repository.NewRedisBlockCache(client), memory, logger)
	return cache, func() error { return repository.Close(client) }
}

func startNotifications(ctx context.Context, cfg *config.Config, providers domain.ProviderDirectory, bus *events.EventBus, logger *zerolog.Logger) {
	if !cfg.Notifications.Enabled {
		return
	}

	var sender notify.Sender
	if cfg.Notifications.TelegramToken != "" {
		tg, err := notify.NewTelegramSender(cfg.Notifications.TelegramToken)
		if err != nil {
			logger.Warn().Err(err).Msg("telegram init failed, logging notifications instead")
			sender = notify.NewLogSender(logger)
		} else {
			logger.Info().Msg("telegram connected")
			sender = tg
		}
	} else {
		sender = notify.NewLogSender(logger)
	}

	retry := worker.RetryPolicy{
		MaxRetries:    3,
		InitialDelay:  time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2,
	}
	dispatcher := notify.NewDispatcher(sender, providers, cfg.Notifications.QueueSize, retry, logger)
	notify.RegisterSubscribers(bus, dispatcher)
	go dispatcher.Run(ctx)
}

func startSweepers(ctx context.Context, db *database.DB, sm *service.StateMachine, blocks *service.BlockLedger, cfg *config.Config, logger *zerolog.Logger) {
	autoCancel := worker.NewAutoCancelSweeper(db, sm, blocks, cfg.Escalation, logger)
	go autoCancel.Run(ctx)

	unblock := worker.NewUnblockSweeper(db, blocks, cfg.Escalation, logger)
	go unblock.Run(ctx)
}

func serveUntilSignalled(ctx context.Context, srv *api.Server, cfg *config.Config, logger *zerolog.Logger) error {
	if !cfg.API.Enabled {
		logger.Warn().Msg("API is disabled in config; running sweepers only")
		<-ctx.Done()
		return nil
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()
	logger.Info().Int("port", cfg.API.Port).Msg("server started")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown")
		return err
	}

	logger.Info().Msg("server stopped")
	return nil
}
