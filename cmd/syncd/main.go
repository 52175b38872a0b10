package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"chatsync/internal/api"
	"chatsync/internal/config"
	"chatsync/internal/database"
	"chatsync/internal/events"
	"chatsync/internal/export"
	"chatsync/internal/health"
	"chatsync/internal/logging"
	"chatsync/internal/metrics"
	"chatsync/internal/models"
	"chatsync/internal/notify"
	"chatsync/internal/realtime"
	"chatsync/internal/reconciler"
	"chatsync/internal/remote"
	"chatsync/internal/repository"
	"chatsync/internal/service"
	"chatsync/internal/worker"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, loadErr := loadConfigAndLogger()
	if loadErr != nil {
		return loadErr
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}

	if err := prepareDirectories(cfg, &logger); err != nil {
		return err
	}

	metrics.Register()

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Error().Err(err).Msg("Ошибка инициализации базы данных")
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	remoteClient := remote.NewClient(
		cfg.Remote.BaseURL,
		cfg.Remote.APIKey,
		cfg.Remote.BearerToken,
		time.Duration(cfg.Remote.TimeoutSec)*time.Second,
	)
	remoteClient.SetProbeTimeout(time.Duration(cfg.Remote.ProbeTimeout) * time.Second)

	redisClient, snapshotRepo := initSnapshotRepository(ctx, cfg, &logger)
	defer func() { _ = repository.Close(redisClient) }()

	probeInterval := time.Duration(cfg.Remote.ProbeEvery) * time.Second
	monitor := health.NewMonitor(remoteClient, probeInterval, &logger)
	go monitor.Start(ctx)

	retryPolicy := worker.RetryPolicy{
		MaxRetries:     cfg.Sync.MaxRetries,
		InitialDelay:   time.Duration(cfg.Sync.InitialDelayMs) * time.Millisecond,
		MaxDelay:       time.Duration(cfg.Sync.MaxDelayMs) * time.Millisecond,
		BackoffFactor:  2,
		JitterFraction: cfg.Sync.JitterFraction,
	}
	syncWorker := worker.NewSyncWorker(db, remoteClient, monitor, redisClient, retryPolicy, &logger)
	syncWorker.SetPolling(time.Duration(cfg.Sync.PollIntervalMs)*time.Millisecond, cfg.Sync.BatchSize)

	eventBus := events.NewEventBus()
	subscribeConnectionEvents(monitor, eventBus, &logger)

	notifier, err := notify.NewTelegramNotifier(cfg.Telegram, &logger)
	if err != nil {
		logger.Warn().Err(err).Msg("Telegram notifier disabled")
	} else if notifier != nil {
		syncWorker.SetNotifier(notifier)
	}
	syncWorker.SetBus(eventBus)
	go syncWorker.Start(ctx)

	if cfg.Realtime.Enabled {
		rt := realtime.NewClient(cfg.Realtime.URL, cfg.Remote.APIKey, cfg.Remote.BearerToken, eventBus, &logger)
		rt.SetBackoff(
			time.Duration(cfg.Realtime.ReconnectBase)*time.Second,
			time.Duration(cfg.Realtime.ReconnectMax)*time.Second,
		)
		for _, room := range cfg.Realtime.Rooms {
			rt.JoinRoom(room)
		}
		go func() {
			if err := rt.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Msg("realtime client stopped")
			}
		}()
	}

	rec := reconciler.New(remoteClient, snapshotRepo, reconciler.Config{
		PollInterval:      time.Duration(cfg.Reconciler.PollIntervalSec) * time.Second,
		Debounce:          time.Duration(cfg.Reconciler.DebounceMs) * time.Millisecond,
		NotFoundThreshold: cfg.Reconciler.NotFoundThreshold,
		RetryDelay:        time.Duration(cfg.Reconciler.RetryDelayMs) * time.Millisecond,
		MaxRetries:        cfg.Reconciler.MaxRetries,
	}, &logger)
	rec.BindBus(eventBus)
	defer rec.Close()

	sectorService := service.NewSectorService(db, syncWorker, remoteClient, worker.NewExecutor(), &logger)

	if cfg.API.Enabled {
		exporter := export.NewExporter(cfg.Exports.Path, &logger)
		apiServer := api.NewHTTPServer(cfg.API, db, monitor, sectorService, exporter, &logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error().Err(err).Msg("API server error")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = apiServer.Shutdown(shutdownCtx)
		}()
	}

	logger.Info().Str("version", cfg.App.Version).Msg("syncd запущен")
	<-ctx.Done()
	logger.Info().Msg("Shutdown complete.")
	return nil
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}
	logger := logging.Component(baseLogger, "syncd-main")

	return cfg, logger, closer, nil
}

func prepareDirectories(cfg *config.Config, logger *zerolog.Logger) error {
	if cfg == nil {
		return os.ErrInvalid
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		logger.Error().Err(err).Msg("Ошибка создания директории для базы данных")
		return err
	}
	if err := os.MkdirAll(cfg.Exports.Path, 0o755); err != nil {
		logger.Error().Err(err).Msg("Ошибка создания директории для экспорта")
		return err
	}
	return nil
}

func initSnapshotRepository(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*redis.Client, repository.SnapshotRepository) {
	var redisClient *redis.Client
	if cfg.Redis.Address != "" {
		redisClient = repository.NewRedisClient(cfg.Redis)
		if errPing := repository.Ping(ctx, redisClient); errPing != nil {
			logger.Warn().Err(errPing).Msg("Redis unavailable")
		}
	}

	ttl := time.Duration(models.DefaultRedisTTL) * time.Second
	primary := repository.NewRedisSnapshotRepository(redisClient, ttl)
	fallback := repository.NewMemorySnapshotRepository(ttl)
	return redisClient, repository.NewFailoverSnapshotRepository(primary, fallback, logger)
}

// subscribeConnectionEvents mirrors probe results onto the event bus so
// interested components see connection.changed without holding a
// reference to the monitor.
func subscribeConnectionEvents(monitor *health.Monitor, bus *events.EventBus, logger *zerolog.Logger) {
	monitor.Subscribe(func(state models.ConnectionState) {
		if err := bus.PublishJSON(events.EventConnectionChanged, state); err != nil {
			logger.Error().Err(err).Msg("event bus: publish connection state")
		}
	})
}
