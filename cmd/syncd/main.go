package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tillsync/internal/api"
	"tillsync/internal/config"
	"tillsync/internal/connectivity"
	"tillsync/internal/events"
	"tillsync/internal/export"
	"tillsync/internal/logging"
	"tillsync/internal/metrics"
	"tillsync/internal/models"
	"tillsync/internal/remote"
	"tillsync/internal/repository"
	"tillsync/internal/scheduler"
	"tillsync/internal/service"
	"tillsync/internal/status"
	"tillsync/internal/store"
	"tillsync/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
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
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}

	st, err := store.NewStore(cfg.Database.Path, &logger)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	terminalID, err := st.EnsureTerminalID(ctx, cfg.Terminal.ID)
	if err != nil {
		return err
	}
	logger.Info().Str("terminal_id", terminalID).Msg("terminal identity resolved")

	// Записи, оставшиеся в uploading после прошлого запуска
	if _, err := st.RecoverInFlight(ctx); err != nil {
		return err
	}

	redisClient := initRedis(cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	eventBus := events.NewEventBus()

	client := remote.NewClient(cfg.Remote, terminalID, &logger)
	monitor := connectivity.NewMonitor(client, eventBus, cfg.Connectivity, &logger)
	go monitor.Start(ctx)

	syncWorker := worker.NewSyncWorker(st, client, monitor, redisClient, eventBus, cfg.Sync, &logger)
	sched := scheduler.NewScheduler(syncWorker, eventBus, cfg.SyncInterval(), &logger)
	go sched.Start(ctx)

	snapshots := buildSnapshotRepository(redisClient, &logger)
	aggregator := status.NewAggregator(st, monitor, syncWorker, snapshots, terminalID, eventBus, &logger)

	saleService := service.NewSaleService(st, eventBus, sched, cfg.Terminal.Currency, &logger)
	exporter := export.NewExporter(st, cfg.Exports, &logger)

	if cfg.Backup.Enabled {
		backupService := store.NewBackupService(cfg.Database.Path, cfg.Backup, &logger)
		go backupService.Start(ctx)
	}

	startMetrics(ctx, cfg, &logger)

	var apiServer *api.HTTPServer
	if cfg.API.Enabled {
		apiServer = api.NewHTTPServer(cfg.API, saleService, aggregator, sched, exporter, &logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error().Err(err).Msg("API server error")
			}
		}()
	}

	logger.Info().Str("store", cfg.Terminal.StoreID).Msg("sync engine started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if apiServer != nil {
		_ = apiServer.Shutdown(shutdownCtx)
	}

	logger.Info().Msg("sync engine stopped")
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
	logger := baseLogger.With().Str("component", "syncd").Logger()

	return cfg, logger, closer, nil
}

func initRedis(cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		logger.Info().Msg("redis is not configured, using in-memory snapshots only")
		return nil
	}

	client := repository.NewRedisClient(cfg.Redis)

	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := repository.Ping(pingCtx, client); err != nil {
		// Не фатально: failover-репозиторий переживет недоступный redis
		logger.Warn().Err(err).Msg("redis ping failed, continuing with failover")
	}

	return client
}

func buildSnapshotRepository(redisClient *redis.Client, logger *zerolog.Logger) *repository.FailoverSnapshotRepository {
	snapshotTTL := models.DefaultSnapshotTTL * time.Second
	memory := repository.NewMemorySnapshotRepository(snapshotTTL)
	if redisClient == nil {
		return repository.NewFailoverSnapshotRepository(memory, memory, logger)
	}

	primary := repository.NewRedisSnapshotRepository(redisClient, snapshotTTL)
	return repository.NewFailoverSnapshotRepository(primary, memory, logger)
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
