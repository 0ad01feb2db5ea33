package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mmm8091/zimmerwald/internal/config"
	"github.com/mmm8091/zimmerwald/internal/domain"
)

// Pipeline runs one full ingestion cycle.
type Pipeline interface {
	Run(ctx context.Context) (*domain.RunStats, error)
}

// DigestGenerator builds the daily digest.
type DigestGenerator interface {
	Generate(ctx context.Context) (*domain.DailyDigest, error)
}

// Scheduler drives the ingestion and digest jobs on their cron
// expressions. An ingestion cycle also runs once at startup so a fresh
// deployment has data immediately.
type Scheduler struct {
	pipeline Pipeline
	digests  DigestGenerator
	cfg      config.SchedulerConfig
	logger   *slog.Logger
}

func New(pipeline Pipeline, digests DigestGenerator, cfg config.SchedulerConfig, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		pipeline: pipeline,
		digests:  digests,
		cfg:      cfg,
		logger:   logger.With("component", "scheduler"),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	cronParser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(cronParser), cron.WithChain(cron.Recover(cron.DefaultLogger)))

	if _, err := c.AddFunc(s.cfg.Cron, func() { s.runPipeline(ctx) }); err != nil {
		return err
	}
	if _, err := c.AddFunc(s.cfg.DigestCron, func() { s.runDigest(ctx) }); err != nil {
		return err
	}

	s.logger.Info("scheduler started",
		"pipeline_cron", s.cfg.Cron,
		"digest_cron", s.cfg.DigestCron,
	)

	s.runPipeline(ctx)

	c.Start()
	<-ctx.Done()

	stop := c.Stop()
	select {
	case <-stop.Done():
	case <-time.After(30 * time.Second):
		s.logger.Warn("jobs still running at shutdown deadline")
	}

	s.logger.Info("scheduler stopped")
	return ctx.Err()
}

func (s *Scheduler) runPipeline(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, 30*time.Minute)
	defer cancel()

	if _, err := s.pipeline.Run(runCtx); err != nil {
		s.logger.Error("ingestion cycle failed", "error", err)
	}
}

func (s *Scheduler) runDigest(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	if _, err := s.digests.Generate(runCtx); err != nil {
		s.logger.Error("digest generation failed", "error", err)
	}
}
