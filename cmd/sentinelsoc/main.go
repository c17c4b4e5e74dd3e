// Package main is the SentinelSOC entry point: it wires the collection
// scheduler, the message bus, the analysis stage, alert fan-out, and the
// operational HTTP API into one process.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lvonguyen/sentinelsoc/internal/analysis"
	"github.com/lvonguyen/sentinelsoc/internal/api"
	"github.com/lvonguyen/sentinelsoc/internal/bus"
	"github.com/lvonguyen/sentinelsoc/internal/config"
	"github.com/lvonguyen/sentinelsoc/internal/connector"
	"github.com/lvonguyen/sentinelsoc/internal/notify"
	"github.com/lvonguyen/sentinelsoc/internal/observability"
	"github.com/lvonguyen/sentinelsoc/internal/scheduler"
)

// Version information (injected at build time via ldflags)
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("SentinelSOC %s (commit: %s, built: %s)\n", Version, GitCommit, BuildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting SentinelSOC",
		zap.String("version", Version),
		zap.String("config", *configPath))

	metrics := observability.NewMetrics()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: os.Getenv(cfg.Redis.PasswordEnv),
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})

	// Publish and consume never share a bus instance: one per loop, all
	// over the same pooled client.
	publisherBus := bus.New(redisClient, logger, bus.Options{Consumer: "collector", Sink: metrics})
	stageBus := bus.New(redisClient, logger, bus.Options{Consumer: "stage", Sink: metrics})
	consumerBus := bus.New(redisClient, logger, bus.Options{Consumer: "analysis", Sink: metrics})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := publisherBus.Ping(ctx); err != nil {
		logger.Fatal("message bus unreachable", zap.Error(err))
	}

	connectors := buildConnectors(cfg, logger)
	if len(connectors) == 0 {
		logger.Warn("no connectors enabled, collection is idle")
	}

	sched := scheduler.New(cfg.Collector, connectors, publisherBus, logger, scheduler.Options{Sink: metrics})

	notifier := notify.New(buildChannels(cfg.Notifications, logger), logger, notify.Options{Sink: metrics})
	enricher := analysis.NewHTTPEnricher(cfg.Analysis, logger)
	stage := analysis.New(enricher, stageBus, notifier, logger, analysis.Options{Sink: metrics})

	server := api.New(cfg.Server, Version, stage, sched, consumerBus, redisClient, logger)

	go sched.Run(ctx)

	go func() {
		if err := consumerBus.Consume(ctx, bus.QueueLogs, stage.HandleEvent); err != nil {
			logger.Error("consume loop exited", zap.Error(err))
			cancel()
		}
	}()

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("api server error", zap.Error(err))
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case <-ctx.Done():
	}
	cancel()

	if err := server.Shutdown(context.Background()); err != nil {
		logger.Error("api shutdown error", zap.Error(err))
	}
	if err := consumerBus.Close(); err != nil {
		logger.Error("bus close error", zap.Error(err))
	}

	logger.Info("stopped")
}

// buildConnectors instantiates every enabled connector from the registry.
// Unknown names are logged and skipped rather than aborting startup.
func buildConnectors(cfg *config.Config, logger *zap.Logger) []connector.Connector {
	registry := connector.Registry()
	var connectors []connector.Connector
	for _, name := range cfg.Collector.Enabled {
		factory, ok := registry[name]
		if !ok {
			logger.Warn("unknown connector in config, skipping", zap.String("connector", name))
			continue
		}
		connectors = append(connectors, factory(cfg.Sources, cfg.Collector.BatchSize, logger))
		logger.Info("connector enabled", zap.String("connector", name))
	}
	return connectors
}

// buildChannels instantiates the configured notification channels, in order.
func buildChannels(cfg config.NotificationsConfig, logger *zap.Logger) []notify.Channel {
	var channels []notify.Channel
	for _, name := range cfg.Channels {
		switch name {
		case "slack":
			channels = append(channels, notify.NewSlack(cfg.Slack))
		case "email":
			channels = append(channels, notify.NewEmail(cfg.Email))
		default:
			logger.Warn("unknown notification channel in config, skipping", zap.String("channel", name))
		}
	}
	return channels
}
