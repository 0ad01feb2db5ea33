package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/mmm8091/zimmerwald/internal/config"
	"github.com/mmm8091/zimmerwald/internal/fetcher"
	"github.com/mmm8091/zimmerwald/internal/llm"
	"github.com/mmm8091/zimmerwald/internal/publisher"
	"github.com/mmm8091/zimmerwald/internal/scheduler"
	"github.com/mmm8091/zimmerwald/internal/service"
	"github.com/mmm8091/zimmerwald/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	runOnce := flag.Bool("once", false, "run one ingestion cycle and exit")
	flag.Parse()

	logger := setupLogger("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = setupLogger(cfg.LogLevel)

	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("connected to database")

	var pub service.Publisher
	if cfg.RabbitMQ.Enabled {
		rabbitMQ, err := publisher.NewRabbitMQ(publisher.Config{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
			QueueName:  cfg.RabbitMQ.QueueName,
		}, logger)
		if err != nil {
			logger.Error("failed to connect to rabbitmq", "error", err)
			os.Exit(1)
		}
		defer rabbitMQ.Close()
		pub = rabbitMQ
	}

	sourceStore := postgres.NewSourceStore(db)
	articleStore := postgres.NewArticleStore(db)
	digestStore := postgres.NewDigestStore(db)

	feeds := fetcher.New(cfg.Fetch, logger)
	scorer := llm.NewClient(cfg.LLM, logger)

	pipeline := service.NewPipelineService(
		sourceStore,
		articleStore,
		feeds,
		scorer,
		pub,
		logger,
		cfg.Scheduler,
		cfg.Fetch.GatewayBase,
	)
	digests := service.NewDigestService(articleStore, digestStore, scorer, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	if *runOnce {
		if _, err := pipeline.Run(ctx); err != nil {
			logger.Error("ingestion cycle failed", "error", err)
			os.Exit(1)
		}
		return
	}

	sched := scheduler.New(pipeline, digests, cfg.Scheduler, logger)
	if err := sched.Start(ctx); err != nil && err != context.Canceled {
		logger.Error("scheduler error", "error", err)
		os.Exit(1)
	}
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
