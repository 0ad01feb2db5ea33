package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"github.com/mmm8091/zimmerwald/internal/config"
	"github.com/mmm8091/zimmerwald/internal/domain"
	"github.com/mmm8091/zimmerwald/internal/fetcher"
	"github.com/mmm8091/zimmerwald/internal/service/mocks"
)

type PipelineServiceTestSuite struct {
	suite.Suite
	ctrl *gomock.Controller

	sources  *mocks.MockSourceStore
	articles *mocks.MockArticleStore
	fetch    *mocks.MockFetcher
	scorer   *mocks.MockScorer

	cfg    config.SchedulerConfig
	logger *slog.Logger
}

func (s *PipelineServiceTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())

	s.sources = mocks.NewMockSourceStore(s.ctrl)
	s.articles = mocks.NewMockArticleStore(s.ctrl)
	s.fetch = mocks.NewMockFetcher(s.ctrl)
	s.scorer = mocks.NewMockScorer(s.ctrl)

	// Serial scoring with no pacing keeps runs deterministic.
	s.cfg = config.SchedulerConfig{
		MaxSourcesPerPlatform: 13,
		MaxItemsPerSource:     30,
		MaxTotalArticles:      300,
		ScoreConcurrency:      1,
		TagWindowDays:         7,
		TagLimit:              30,
	}

	s.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func (s *PipelineServiceTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestPipelineServiceTestSuite(t *testing.T) {
	suite.Run(t, new(PipelineServiceTestSuite))
}

func (s *PipelineServiceTestSuite) newService(gatewayBase string) *PipelineService {
	return NewPipelineService(s.sources, s.articles, s.fetch, s.scorer, nil, s.logger, s.cfg, gatewayBase)
}

func newsSource(slug string) domain.Source {
	return domain.Source{
		Slug:     slug,
		Name:     slug,
		URL:      "https://example.org/" + slug + ".xml",
		Platform: domain.PlatformNews,
		Enabled:  true,
	}
}

func feedItems(urls ...string) []domain.FetchedItem {
	items := make([]domain.FetchedItem, 0, len(urls))
	for _, u := range urls {
		items = append(items, domain.FetchedItem{Title: "Item " + u, Link: u, Body: "<p>Body</p>"})
	}
	return items
}

func verdict(score int) *domain.Verdict {
	return &domain.Verdict{
		TitleEn:   "Title",
		TitleZh:   "标题",
		SummaryEn: "Summary",
		SummaryZh: "摘要",
		Category:  domain.CategoryPolitics,
		Score:     score,
		Tags:      []domain.TagPair{{En: "strike", Zh: "罢工"}},
	}
}

func (s *PipelineServiceTestSuite) expectTagContext() {
	s.articles.EXPECT().TopTags(gomock.Any(), 7, 30).Return(nil, nil)
}

func (s *PipelineServiceTestSuite) TestRun_SavesNewArticle() {
	ctx := context.Background()
	src := newsSource("wire")

	s.sources.EXPECT().ListEnabled(ctx).Return([]domain.Source{src}, nil)
	s.expectTagContext()
	s.fetch.EXPECT().Fetch(gomock.Any(), src).Return(feedItems("https://example.org/a"), nil)
	s.articles.EXPECT().Exists(gomock.Any(), "https://example.org/a").Return(false, nil)
	s.scorer.EXPECT().Score(gomock.Any(), gomock.Any()).Return(verdict(75), nil)
	s.articles.EXPECT().Insert(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, a *domain.Article) (bool, error) {
			s.Equal("https://example.org/a", a.URL)
			s.Equal("wire", a.SourceSlug)
			s.Equal(75, a.Score)
			s.Equal(domain.CategoryPolitics, a.Category)
			return true, nil
		})
	s.sources.EXPECT().UpdateHealth(gomock.Any(), "wire", "ok: 1 new, 0 skipped, 0 failed of 1 items", true).Return(nil)

	stats, err := s.newService("").Run(ctx)
	s.NoError(err)
	s.Equal(1, stats.Sources)
	s.Equal(1, stats.Fetched)
	s.Equal(1, stats.Saved)
	s.Equal(0, stats.Failed)
}

func (s *PipelineServiceTestSuite) TestRun_NoEnabledSources() {
	ctx := context.Background()
	s.sources.EXPECT().ListEnabled(ctx).Return(nil, nil)

	stats, err := s.newService("").Run(ctx)
	s.NoError(err)
	s.Equal(0, stats.Sources)
	s.Equal(0, stats.Saved)
}

func (s *PipelineServiceTestSuite) TestRun_EmptyFeedIsNotAnError() {
	ctx := context.Background()
	src := newsSource("quiet")

	s.sources.EXPECT().ListEnabled(ctx).Return([]domain.Source{src}, nil)
	s.expectTagContext()
	s.fetch.EXPECT().Fetch(gomock.Any(), src).Return(nil, nil)
	s.sources.EXPECT().UpdateHealth(gomock.Any(), "quiet", "empty", true).Return(nil)

	stats, err := s.newService("").Run(ctx)
	s.NoError(err)
	s.Equal(0, stats.Fetched)
}

func (s *PipelineServiceTestSuite) TestRun_FetchFailureRecordsHealth() {
	ctx := context.Background()
	src := newsSource("down")

	s.sources.EXPECT().ListEnabled(ctx).Return([]domain.Source{src}, nil)
	s.expectTagContext()
	s.fetch.EXPECT().Fetch(gomock.Any(), src).Return(nil, fetcher.ErrTimeout)
	s.sources.EXPECT().UpdateHealth(gomock.Any(), "down", "error: timeout", false).Return(nil)

	stats, err := s.newService("").Run(ctx)
	s.NoError(err, "one bad source never aborts the cycle")
	s.Equal(1, stats.Sources)
	s.Equal(0, stats.Saved)
}

func (s *PipelineServiceTestSuite) TestRun_KnownURLSkipsScoring() {
	ctx := context.Background()
	src := newsSource("wire")

	s.sources.EXPECT().ListEnabled(ctx).Return([]domain.Source{src}, nil)
	s.expectTagContext()
	s.fetch.EXPECT().Fetch(gomock.Any(), src).Return(feedItems("https://example.org/seen"), nil)
	s.articles.EXPECT().Exists(gomock.Any(), "https://example.org/seen").Return(true, nil)
	s.sources.EXPECT().UpdateHealth(gomock.Any(), "wire", "ok: 0 new, 1 skipped, 0 failed of 1 items", true).Return(nil)

	stats, err := s.newService("").Run(ctx)
	s.NoError(err)
	s.Equal(1, stats.Skipped)
	s.Equal(0, stats.Saved)
}

func (s *PipelineServiceTestSuite) TestRun_DuplicateInsertIsBenign() {
	ctx := context.Background()
	src := newsSource("wire")

	s.sources.EXPECT().ListEnabled(ctx).Return([]domain.Source{src}, nil)
	s.expectTagContext()
	s.fetch.EXPECT().Fetch(gomock.Any(), src).Return(feedItems("https://example.org/race"), nil)
	s.articles.EXPECT().Exists(gomock.Any(), "https://example.org/race").Return(false, nil)
	s.scorer.EXPECT().Score(gomock.Any(), gomock.Any()).Return(verdict(50), nil)
	s.articles.EXPECT().Insert(gomock.Any(), gomock.Any()).Return(false, nil)
	s.sources.EXPECT().UpdateHealth(gomock.Any(), "wire", "ok: 0 new, 1 skipped, 0 failed of 1 items", true).Return(nil)

	stats, err := s.newService("").Run(ctx)
	s.NoError(err)
	s.Equal(1, stats.Skipped)
	s.Equal(0, stats.Saved)
}

func (s *PipelineServiceTestSuite) TestRun_ScoringFailureDropsItem() {
	ctx := context.Background()
	src := newsSource("wire")

	s.sources.EXPECT().ListEnabled(ctx).Return([]domain.Source{src}, nil)
	s.expectTagContext()
	s.fetch.EXPECT().Fetch(gomock.Any(), src).Return(feedItems("https://example.org/hard"), nil)
	s.articles.EXPECT().Exists(gomock.Any(), "https://example.org/hard").Return(false, nil)
	s.scorer.EXPECT().Score(gomock.Any(), gomock.Any()).Return(nil, errors.New("no JSON in response"))
	s.sources.EXPECT().UpdateHealth(gomock.Any(), "wire", "ok: 0 new, 0 skipped, 1 failed of 1 items", true).Return(nil)

	stats, err := s.newService("").Run(ctx)
	s.NoError(err)
	s.Equal(1, stats.Failed)
	s.Equal(0, stats.Saved)
}

func (s *PipelineServiceTestSuite) TestRun_GlobalBudgetStopsSaving() {
	ctx := context.Background()
	s.cfg.MaxTotalArticles = 3
	first := newsSource("alpha")
	second := newsSource("beta")

	s.sources.EXPECT().ListEnabled(ctx).Return([]domain.Source{first, second}, nil)
	s.expectTagContext()

	s.fetch.EXPECT().Fetch(gomock.Any(), first).Return(feedItems(
		"https://example.org/1", "https://example.org/2", "https://example.org/3",
		"https://example.org/4", "https://example.org/5",
	), nil)
	s.articles.EXPECT().Exists(gomock.Any(), gomock.Any()).Return(false, nil).Times(3)
	s.scorer.EXPECT().Score(gomock.Any(), gomock.Any()).Return(verdict(60), nil).Times(3)
	s.articles.EXPECT().Insert(gomock.Any(), gomock.Any()).Return(true, nil).Times(3)
	s.sources.EXPECT().UpdateHealth(gomock.Any(), "alpha", "ok: 3 new, 2 skipped, 0 failed of 5 items", true).Return(nil)

	// The second source is never fetched, but its health row still moves.
	s.sources.EXPECT().UpdateHealth(gomock.Any(), "beta", "skipped: article budget exhausted", true).Return(nil)

	stats, err := s.newService("").Run(ctx)
	s.NoError(err)
	s.Equal(3, stats.Saved)
	s.Equal(2, stats.Sources)
}

func (s *PipelineServiceTestSuite) TestRun_PlatformBudgetStillWritesHealth() {
	ctx := context.Background()
	s.cfg.MaxSourcesPerPlatform = 1
	first := newsSource("alpha")
	second := newsSource("beta")

	s.sources.EXPECT().ListEnabled(ctx).Return([]domain.Source{first, second}, nil)
	s.expectTagContext()

	s.fetch.EXPECT().Fetch(gomock.Any(), first).Return(feedItems("https://example.org/a"), nil)
	s.articles.EXPECT().Exists(gomock.Any(), gomock.Any()).Return(false, nil)
	s.scorer.EXPECT().Score(gomock.Any(), gomock.Any()).Return(verdict(60), nil)
	s.articles.EXPECT().Insert(gomock.Any(), gomock.Any()).Return(true, nil)
	s.sources.EXPECT().UpdateHealth(gomock.Any(), "alpha", gomock.Any(), true).Return(nil)

	// The truncated tail is never fetched, but its health row still moves.
	s.sources.EXPECT().UpdateHealth(gomock.Any(), "beta", "skipped: platform source budget exhausted", true).Return(nil)

	stats, err := s.newService("").Run(ctx)
	s.NoError(err)
	s.Equal(1, stats.Sources, "only the in-budget source counts as processed")
	s.Equal(1, stats.Saved)
}

func (s *PipelineServiceTestSuite) TestRun_TemplatedSourceWithoutGateway() {
	ctx := context.Background()
	src := domain.Source{
		Slug:        "twitter_wftu",
		URL:         "/twitter/user/WFTUCentral",
		Platform:    domain.PlatformTwitter,
		IsTemplated: true,
		Enabled:     true,
	}

	s.sources.EXPECT().ListEnabled(ctx).Return([]domain.Source{src}, nil)
	s.expectTagContext()
	s.sources.EXPECT().UpdateHealth(gomock.Any(), "twitter_wftu", "skipped: gateway base not configured", true).Return(nil)

	stats, err := s.newService("").Run(ctx)
	s.NoError(err)
	s.Equal(0, stats.Fetched)
}

func (s *PipelineServiceTestSuite) TestRun_ItemBudgetTruncatesFeed() {
	ctx := context.Background()
	s.cfg.MaxItemsPerSource = 2
	src := newsSource("flood")

	s.sources.EXPECT().ListEnabled(ctx).Return([]domain.Source{src}, nil)
	s.expectTagContext()
	s.fetch.EXPECT().Fetch(gomock.Any(), src).Return(feedItems(
		"https://example.org/1", "https://example.org/2", "https://example.org/3",
	), nil)
	s.articles.EXPECT().Exists(gomock.Any(), gomock.Any()).Return(false, nil).Times(2)
	s.scorer.EXPECT().Score(gomock.Any(), gomock.Any()).Return(verdict(60), nil).Times(2)
	s.articles.EXPECT().Insert(gomock.Any(), gomock.Any()).Return(true, nil).Times(2)
	s.sources.EXPECT().UpdateHealth(gomock.Any(), "flood", "ok: 2 new, 0 skipped, 0 failed of 2 items", true).Return(nil)

	stats, err := s.newService("").Run(ctx)
	s.NoError(err)
	s.Equal(2, stats.Fetched)
	s.Equal(2, stats.Saved)
}

func (s *PipelineServiceTestSuite) TestRun_PublisherReceivesSavedArticles() {
	ctx := context.Background()
	src := newsSource("wire")
	publisher := mocks.NewMockPublisher(s.ctrl)

	s.sources.EXPECT().ListEnabled(ctx).Return([]domain.Source{src}, nil)
	s.expectTagContext()
	s.fetch.EXPECT().Fetch(gomock.Any(), src).Return(feedItems("https://example.org/a"), nil)
	s.articles.EXPECT().Exists(gomock.Any(), gomock.Any()).Return(false, nil)
	s.scorer.EXPECT().Score(gomock.Any(), gomock.Any()).Return(verdict(75), nil)
	s.articles.EXPECT().Insert(gomock.Any(), gomock.Any()).Return(true, nil)
	publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil)
	s.sources.EXPECT().UpdateHealth(gomock.Any(), "wire", gomock.Any(), true).Return(nil)

	svc := NewPipelineService(s.sources, s.articles, s.fetch, s.scorer, publisher, s.logger, s.cfg, "")
	stats, err := svc.Run(ctx)
	s.NoError(err)
	s.Equal(1, stats.Saved)
}
