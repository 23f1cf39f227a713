// Package main wires together the autorunner service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/autorunner/internal/alerts"
	"github.com/JakeFAU/autorunner/internal/api"
	"github.com/JakeFAU/autorunner/internal/automation"
	"github.com/JakeFAU/autorunner/internal/clock/system"
	"github.com/JakeFAU/autorunner/internal/config"
	"github.com/JakeFAU/autorunner/internal/dispatcher"
	"github.com/JakeFAU/autorunner/internal/driver/chromedriver"
	"github.com/JakeFAU/autorunner/internal/driver/httpdriver"
	"github.com/JakeFAU/autorunner/internal/id/uuid"
	"github.com/JakeFAU/autorunner/internal/logging"
	"github.com/JakeFAU/autorunner/internal/metrics"
	"github.com/JakeFAU/autorunner/internal/monitor"
	logNotifier "github.com/JakeFAU/autorunner/internal/notify/log"
	pubsubNotifier "github.com/JakeFAU/autorunner/internal/notify/pubsub"
	"github.com/JakeFAU/autorunner/internal/orchestrator"
	queueMemory "github.com/JakeFAU/autorunner/internal/queue/memory"
	queuePubsub "github.com/JakeFAU/autorunner/internal/queue/pubsub"
	gcsShots "github.com/JakeFAU/autorunner/internal/shots/gcs"
	localShots "github.com/JakeFAU/autorunner/internal/shots/local"
	memoryShots "github.com/JakeFAU/autorunner/internal/shots/memory"
	"github.com/JakeFAU/autorunner/internal/stats"
	storeMemory "github.com/JakeFAU/autorunner/internal/store/memory"
	storePostgres "github.com/JakeFAU/autorunner/internal/store/postgres"
	"github.com/JakeFAU/autorunner/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	idGen := uuid.New()

	taskStore, cleanupStore, err := buildStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("store init failed", zap.Error(err))
	}
	defer cleanupStore()

	shots, cleanupShots, err := buildShots(ctx, cfg)
	if err != nil {
		logger.Fatal("screenshot store init failed", zap.Error(err))
	}
	defer cleanupShots()

	notifier, cleanupNotifier, err := buildNotifier(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("notifier init failed", zap.Error(err))
	}
	defer cleanupNotifier()

	var sampler stats.Sampler
	if processSampler, err := stats.NewProcessSampler(); err != nil {
		logger.Warn("resource sampler init failed, resource peaks disabled", zap.Error(err))
	} else {
		sampler = processSampler
	}

	mon := monitor.NewTable(clock)
	engine := alerts.NewEngine(taskStore, notifier, clock, logger.Named("alerts"), alerts.DefaultRules(clock)...)
	drivers := buildDriverFactory(cfg, logger)

	taskQueue, closeQueue, err := buildQueue(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("queue init failed", zap.Error(err))
	}

	orch := orchestrator.New(
		taskStore,
		drivers,
		taskQueue,
		shots,
		mon,
		engine,
		sampler,
		clock,
		idGen,
		orchestrator.Config{
			Detector:          cfg.Detector,
			ShotPrefix:        cfg.Screenshots.Prefix,
			DefaultNavTimeout: cfg.Driver.NavigationTimeout,
		},
		logger.Named("orchestrator"),
	)

	workerCfg := worker.Config{
		MaxAttempts:  cfg.Workers.MaxAttempts,
		RetryBackoff: cfg.Workers.RetryBackoff,
	}
	var workers []*worker.Worker
	for i := 0; i < cfg.Workers.Count; i++ {
		workers = append(workers, worker.New(
			taskQueue,
			orch,
			workerCfg,
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	dispatch := dispatcher.New(taskQueue, workers)

	apiServer := api.NewServer(taskStore, orch, mon, idGen, clock, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("dispatcher started", zap.Int("workers", cfg.Workers.Count))
		dispatch.Run(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	closeQueue()
	logger.Info("shutdown complete")
}

func buildQueue(ctx context.Context, cfg config.Config, logger *zap.Logger) (automation.Queue, func(), error) {
	switch cfg.Queue.Backend {
	case "pubsub":
		client, err := pubsub.NewClient(ctx, cfg.Queue.PubSubProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("pubsub client: %w", err)
		}
		q, err := queuePubsub.New(ctx, client, cfg.Queue.PubSubTopic, cfg.Queue.PubSubSubscription, cfg.Workers.QueueDepth, logger.Named("queue"))
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		cleanup := func() {
			q.Close()
			_ = client.Close()
		}
		logger.Info("using pubsub task queue", zap.String("topic", cfg.Queue.PubSubTopic))
		return q, cleanup, nil
	default:
		q := queueMemory.NewQueue(cfg.Workers.QueueDepth)
		return q, q.Close, nil
	}
}

func buildStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (automation.TaskStore, func(), error) {
	switch cfg.Database.Driver {
	case "postgres":
		pgStore, err := storePostgres.New(ctx, storePostgres.Config{
			DSN:             cfg.Database.DSN,
			MaxConns:        cfg.Database.MaxConns,
			MinConns:        cfg.Database.MinConns,
			MaxConnLifetime: cfg.Database.MaxConnLifetime,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("postgres store: %w", err)
		}
		logger.Info("using postgres task store")
		return pgStore, pgStore.Close, nil
	default:
		logger.Info("using in-memory task store")
		return storeMemory.New(), func() {}, nil
	}
}

func buildShots(ctx context.Context, cfg config.Config) (automation.BlobStore, func(), error) {
	switch cfg.Screenshots.Backend {
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("gcs client: %w", err)
		}
		store, err := gcsShots.New(client, gcsShots.Config{Bucket: cfg.Screenshots.GCSBucket})
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = client.Close() }, nil
	case "local":
		store, err := localShots.New(localShots.Config{BaseDir: cfg.Screenshots.BaseDir})
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	default:
		return memoryShots.NewBlobStore(), func() {}, nil
	}
}

func buildNotifier(ctx context.Context, cfg config.Config, logger *zap.Logger) (automation.Notifier, func(), error) {
	switch cfg.Alerts.Notifier {
	case "pubsub":
		client, err := pubsub.NewClient(ctx, cfg.Alerts.PubSubProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("pubsub client: %w", err)
		}
		topic := client.Topic(cfg.Alerts.PubSubTopic)
		cleanup := func() {
			topic.Stop()
			_ = client.Close()
		}
		return pubsubNotifier.New(topic), cleanup, nil
	default:
		return logNotifier.New(logger.Named("alerts")), func() {}, nil
	}
}

func buildDriverFactory(cfg config.Config, logger *zap.Logger) automation.DriverFactory {
	switch cfg.Driver.Mode {
	case "http":
		return httpdriver.NewFactory(httpdriver.Config{
			UserAgent: cfg.Driver.UserAgent,
			Timeout:   cfg.Driver.NavigationTimeout,
		}, logger.Named("httpdriver"))
	default:
		return chromedriver.NewFactory(chromedriver.Config{
			UserAgent:         cfg.Driver.UserAgent,
			WindowSize:        cfg.Driver.WindowSize,
			NavigationTimeout: cfg.Driver.NavigationTimeout,
		}, logger.Named("chromedriver"))
	}
}
