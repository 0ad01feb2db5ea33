package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mmm8091/zimmerwald/internal/config"
	"github.com/mmm8091/zimmerwald/internal/domain"
	"github.com/mmm8091/zimmerwald/internal/fetcher"
	"github.com/mmm8091/zimmerwald/internal/sanitize"
)

// PipelineService runs one ingestion cycle: fetch every enabled source,
// sanitize and score new items, and persist the survivors.
type PipelineService struct {
	sources     SourceStore
	articles    ArticleStore
	fetcher     Fetcher
	scorer      Scorer
	publisher   Publisher
	logger      *slog.Logger
	cfg         config.SchedulerConfig
	gatewayBase string
}

func NewPipelineService(
	sources SourceStore,
	articles ArticleStore,
	fetch Fetcher,
	scorer Scorer,
	publisher Publisher,
	logger *slog.Logger,
	cfg config.SchedulerConfig,
	gatewayBase string,
) *PipelineService {
	return &PipelineService{
		sources:     sources,
		articles:    articles,
		fetcher:     fetch,
		scorer:      scorer,
		publisher:   publisher,
		logger:      logger.With("component", "pipeline"),
		cfg:         cfg,
		gatewayBase: gatewayBase,
	}
}

// runCounters are shared across source workers within one cycle.
type runCounters struct {
	fetched atomic.Int64
	saved   atomic.Int64
	skipped atomic.Int64
	failed  atomic.Int64
}

func (s *PipelineService) Run(ctx context.Context) (*domain.RunStats, error) {
	start := time.Now()

	sources, err := s.sources.ListEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	if len(sources) == 0 {
		s.logger.Info("no enabled sources, nothing to do")
		return &domain.RunStats{Duration: time.Since(start)}, nil
	}

	tagContext := s.loadTagContext(ctx)

	s.logger.Info("starting ingestion cycle",
		"sources", len(sources),
		"max_total", s.cfg.MaxTotalArticles,
		"tag_context", len(tagContext),
	)

	counters := &runCounters{}
	byPlatform := make(map[domain.Platform][]domain.Source)
	for _, src := range sources {
		byPlatform[src.Platform] = append(byPlatform[src.Platform], src)
	}

	processed := 0
	for _, platform := range domain.Platforms {
		group := byPlatform[platform]
		if len(group) > s.cfg.MaxSourcesPerPlatform {
			s.logger.Warn("platform over source budget, truncating",
				"platform", platform,
				"sources", len(group),
				"budget", s.cfg.MaxSourcesPerPlatform,
			)
			// The tail still gets a health write so no enabled source
			// goes stale for a cycle.
			for _, src := range group[s.cfg.MaxSourcesPerPlatform:] {
				s.writeHealth(ctx, src.Slug, "skipped: platform source budget exhausted", true)
			}
			group = group[:s.cfg.MaxSourcesPerPlatform]
		}
		for _, src := range group {
			s.processSource(ctx, src, tagContext, counters)
			processed++
		}
	}

	stats := &domain.RunStats{
		Sources:  processed,
		Fetched:  int(counters.fetched.Load()),
		Saved:    int(counters.saved.Load()),
		Skipped:  int(counters.skipped.Load()),
		Failed:   int(counters.failed.Load()),
		Duration: time.Since(start),
	}

	s.logger.Info("ingestion cycle completed",
		"sources", stats.Sources,
		"fetched", stats.Fetched,
		"saved", stats.Saved,
		"skipped", stats.Skipped,
		"failed", stats.Failed,
		"duration", stats.Duration,
	)

	return stats, nil
}

// loadTagContext pulls the recent tag pool fed back into scoring prompts.
// Tag stats are advisory; a failure here never blocks ingestion.
func (s *PipelineService) loadTagContext(ctx context.Context) []domain.TagPair {
	freq, err := s.articles.TopTags(ctx, s.cfg.TagWindowDays, s.cfg.TagLimit)
	if err != nil {
		s.logger.Warn("tag context unavailable", "error", err)
		return nil
	}
	pairs := make([]domain.TagPair, 0, len(freq))
	for _, f := range freq {
		pairs = append(pairs, domain.TagPair{En: f.En, Zh: f.Zh})
	}
	return pairs
}

func (s *PipelineService) processSource(ctx context.Context, src domain.Source, tagContext []domain.TagPair, counters *runCounters) {
	log := s.logger.With("source", src.Slug, "platform", src.Platform)

	// The health row is written even when we never fetch, so every source
	// shows a fresh timestamp after each cycle.
	if counters.saved.Load() >= int64(s.cfg.MaxTotalArticles) {
		log.Info("article budget exhausted, skipping source")
		s.writeHealth(ctx, src.Slug, "skipped: article budget exhausted", true)
		return
	}
	if src.IsTemplated && s.gatewayBase == "" {
		log.Warn("templated source without gateway base")
		s.writeHealth(ctx, src.Slug, "skipped: gateway base not configured", true)
		return
	}

	items, err := s.fetcher.Fetch(ctx, src)
	if err != nil {
		log.Error("fetch failed", "error", err)
		s.writeHealth(ctx, src.Slug, fetchStatus(err), false)
		return
	}
	if len(items) == 0 {
		log.Info("feed is empty")
		s.writeHealth(ctx, src.Slug, "empty", true)
		return
	}
	if len(items) > s.cfg.MaxItemsPerSource {
		items = items[:s.cfg.MaxItemsPerSource]
	}
	counters.fetched.Add(int64(len(items)))

	var newCount, skipCount, failCount atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.ScoreConcurrency)
	for _, item := range items {
		g.Go(func() error {
			outcome := s.processItem(gctx, src, item, tagContext, counters, log)
			switch outcome {
			case itemSaved:
				newCount.Add(1)
			case itemSkipped:
				skipCount.Add(1)
			case itemFailed:
				failCount.Add(1)
			}
			// Pace the scoring endpoint.
			if s.cfg.ScoreDelay > 0 {
				select {
				case <-gctx.Done():
				case <-time.After(s.cfg.ScoreDelay):
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	status := fmt.Sprintf("ok: %d new, %d skipped, %d failed of %d items",
		newCount.Load(), skipCount.Load(), failCount.Load(), len(items))
	s.writeHealth(ctx, src.Slug, status, true)

	log.Info("source processed",
		"items", len(items),
		"new", newCount.Load(),
		"skipped", skipCount.Load(),
		"failed", failCount.Load(),
	)
}

type itemOutcome int

const (
	itemSaved itemOutcome = iota
	itemSkipped
	itemFailed
)

func (s *PipelineService) processItem(ctx context.Context, src domain.Source, item domain.FetchedItem, tagContext []domain.TagPair, counters *runCounters, log *slog.Logger) itemOutcome {
	if counters.saved.Load() >= int64(s.cfg.MaxTotalArticles) {
		counters.skipped.Add(1)
		return itemSkipped
	}

	exists, err := s.articles.Exists(ctx, item.Link)
	if err != nil {
		log.Error("dedup check failed", "url", item.Link, "error", err)
		counters.failed.Add(1)
		return itemFailed
	}
	if exists {
		counters.skipped.Add(1)
		return itemSkipped
	}

	body := sanitize.Clean(item.Body, src.Platform)
	verdict, err := s.scorer.Score(ctx, domain.ScoreRequest{
		Title:      item.Title,
		Body:       body,
		TagContext: tagContext,
		Date:       time.Now().UTC(),
	})
	if err != nil {
		log.Warn("scoring failed, item dropped", "url", item.Link, "error", err)
		counters.failed.Add(1)
		return itemFailed
	}

	article := &domain.Article{
		URL:         item.Link,
		SourceSlug:  src.Slug,
		Platform:    src.Platform,
		TitleEn:     verdict.TitleEn,
		TitleZh:     verdict.TitleZh,
		SummaryEn:   verdict.SummaryEn,
		SummaryZh:   verdict.SummaryZh,
		Category:    verdict.Category,
		Tags:        verdict.Tags,
		Score:       verdict.Score,
		Reasoning:   verdict.Reasoning,
		PublishedAt: item.PublishedAt,
	}

	inserted, err := s.articles.Insert(ctx, article)
	if err != nil {
		log.Error("insert failed", "url", item.Link, "error", err)
		counters.failed.Add(1)
		return itemFailed
	}
	if !inserted {
		// Another worker beat us to the url.
		counters.skipped.Add(1)
		return itemSkipped
	}

	counters.saved.Add(1)
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, article); err != nil {
			log.Warn("publish failed", "url", item.Link, "error", err)
		}
	}
	return itemSaved
}

func (s *PipelineService) writeHealth(ctx context.Context, slug, status string, success bool) {
	if err := s.sources.UpdateHealth(ctx, slug, status, success); err != nil {
		s.logger.Error("health update failed", "source", slug, "error", err)
	}
}

func fetchStatus(err error) string {
	switch {
	case errors.Is(err, fetcher.ErrTimeout):
		return "error: timeout"
	case errors.Is(err, fetcher.ErrForbidden):
		return "error: gateway denied access"
	case errors.Is(err, fetcher.ErrBadShape):
		return "error: unrecognized feed format"
	default:
		return "error: " + err.Error()
	}
}
