package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/creativable/mailsync/internal/api"
	"github.com/creativable/mailsync/internal/cli"
	"github.com/creativable/mailsync/internal/config"
	"github.com/creativable/mailsync/internal/database"
	"github.com/creativable/mailsync/internal/mq"
	"github.com/creativable/mailsync/internal/services"
	"go.uber.org/zap"
)

const redisKeyPrefix = "mailsync:"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	// Ensure data directory exists
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		log.Fatal("failed to create data directory", zap.String("dir", cfg.DataDir), zap.Error(err))
	}

	db, err := database.Open(database.Options{
		Driver:   cfg.DatabaseDriver,
		Path:     cfg.DatabasePath,
		DSN:      cfg.DatabaseDSN,
		LogLevel: cfg.LogLevel,
	}, log)
	if err != nil {
		log.Fatal("failed to initialize database", zap.Error(err))
	}

	coord := api.LocalCoordination()
	if cfg.RedisAddr != "" {
		rdb := services.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer rdb.Close()
		coord = api.Coordination{
			Gate:  services.NewRedisGate(rdb, redisKeyPrefix),
			Latch: services.NewRedisLatch(rdb, redisKeyPrefix, 0),
		}
		log.Info("using redis coordination", zap.String("addr", cfg.RedisAddr))
	}

	svc := api.NewServices(db, cfg, coord, log)

	// Check if running CLI command
	if len(os.Args) > 1 {
		if err := cli.Execute(cfg, svc); err != nil {
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.AMQPURL != "" {
		closeMQ, err := startFolderEvents(ctx, cfg.AMQPURL, svc, log)
		if err != nil {
			log.Fatal("failed to connect to message broker", zap.Error(err))
		}
		defer closeMQ()
	}

	router, authManager, err := api.SetupRouter(cfg, svc, log)
	if err != nil {
		log.Fatal("failed to setup router", zap.Error(err))
	}

	svc.Scheduler.Start()
	defer svc.Scheduler.Stop()

	srv := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server stopped", zap.Error(err))
		}
	}()

	log.Info("mailsync server started",
		zap.String("port", cfg.APIPort),
		zap.String("data_dir", cfg.DataDir),
		zap.String("database", cfg.DatabaseDriver),
	)
	log.Info("API key", zap.String("key", authManager.APIKeyManager.GetCurrentKey()))

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("graceful shutdown failed", zap.Error(err))
	}
}

func newLogger(level string) (*zap.Logger, error) {
	if strings.EqualFold(level, "DEBUG") {
		return zap.NewDevelopment()
	}
	zc := zap.NewProductionConfig()
	if lvl, err := zap.ParseAtomicLevel(strings.ToLower(level)); err == nil {
		zc.Level = lvl
	}
	return zc.Build()
}

// startFolderEvents publishes folder changes to the broker and consumes them,
// so any instance refreshes the catalog
func startFolderEvents(ctx context.Context, url string, svc *api.Services, log *zap.Logger) (func(), error) {
	producer, err := mq.NewProducer(url)
	if err != nil {
		return nil, err
	}
	consumer, err := mq.NewConsumer(url, services.RoutingKeyFoldersChanged, log.Named("mq"))
	if err != nil {
		producer.Close()
		return nil, err
	}

	svc.Folders.SetNotifier(services.NewQueueCatalogNotifier(producer))
	consumer.SetHandler(services.CatalogRefreshHandler(svc.Catalog))
	go func() {
		if err := consumer.StartConsuming(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("folder event consumer stopped", zap.Error(err))
		}
	}()

	return func() {
		consumer.Close()
		producer.Close()
	}, nil
}
