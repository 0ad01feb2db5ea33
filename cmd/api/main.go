package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/mmm8091/zimmerwald/internal/api"
	"github.com/mmm8091/zimmerwald/internal/config"
	"github.com/mmm8091/zimmerwald/internal/fetcher"
	"github.com/mmm8091/zimmerwald/internal/llm"
	"github.com/mmm8091/zimmerwald/internal/service"
	"github.com/mmm8091/zimmerwald/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
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

	sourceStore := postgres.NewSourceStore(db)
	articleStore := postgres.NewArticleStore(db)
	digestStore := postgres.NewDigestStore(db)
	feedbackStore := postgres.NewFeedbackStore(db)

	// The admin trigger runs the same pipeline the scheduler drives.
	pipeline := service.NewPipelineService(
		sourceStore,
		articleStore,
		fetcher.New(cfg.Fetch, logger),
		llm.NewClient(cfg.LLM, logger),
		nil,
		logger,
		cfg.Scheduler,
		cfg.Fetch.GatewayBase,
	)

	handler := api.NewHandler(articleStore, sourceStore, digestStore, feedbackStore, pipeline)
	router := api.NewRouter(handler, cfg.API, logger)

	srv := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	logger.Info("starting api server", "addr", cfg.API.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
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
