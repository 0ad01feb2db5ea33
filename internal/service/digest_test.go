package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"github.com/mmm8091/zimmerwald/internal/domain"
	"github.com/mmm8091/zimmerwald/internal/service/mocks"
)

type DigestServiceTestSuite struct {
	suite.Suite
	ctrl *gomock.Controller

	articles *mocks.MockArticleStore
	digests  *mocks.MockDigestStore
	narrator *mocks.MockNarrator

	service *DigestService
}

func (s *DigestServiceTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())

	s.articles = mocks.NewMockArticleStore(s.ctrl)
	s.digests = mocks.NewMockDigestStore(s.ctrl)
	s.narrator = mocks.NewMockNarrator(s.ctrl)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	s.service = NewDigestService(s.articles, s.digests, s.narrator, logger)
	s.service.now = func() time.Time {
		return time.Date(2025, 1, 6, 0, 10, 0, 0, time.UTC)
	}
}

func (s *DigestServiceTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestDigestServiceTestSuite(t *testing.T) {
	suite.Run(t, new(DigestServiceTestSuite))
}

func digestArticle(id int64, score int, tags ...domain.TagPair) domain.Article {
	return domain.Article{
		ID:        id,
		URL:       "https://example.org/" + string(rune('a'+id)),
		TitleEn:   "Title",
		TitleZh:   "标题",
		SummaryEn: "Summary",
		SummaryZh: "摘要",
		Category:  domain.CategoryPolitics,
		Score:     score,
		Tags:      tags,
	}
}

func (s *DigestServiceTestSuite) TestGenerate_SkipsWhenWindowEmpty() {
	ctx := context.Background()
	s.articles.EXPECT().ListSince(ctx, gomock.Any()).Return(nil, nil)

	digest, err := s.service.Generate(ctx)
	s.NoError(err)
	s.Nil(digest, "an empty day leaves the previous digest in place")
}

func (s *DigestServiceTestSuite) TestGenerate_StoresBilingualNarrative() {
	ctx := context.Background()
	recent := []domain.Article{
		digestArticle(1, 92, domain.TagPair{En: "Palestine", Zh: "巴勒斯坦"}),
		digestArticle(2, 85),
		digestArticle(3, 40),
	}

	s.articles.EXPECT().ListSince(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, cutoff time.Time) ([]domain.Article, error) {
			s.Equal(time.Date(2025, 1, 5, 0, 10, 0, 0, time.UTC), cutoff)
			return recent, nil
		})
	s.narrator.EXPECT().Narrate(gomock.Any(), gomock.Any(), gomock.Any()).Return("English narrative.", nil)
	s.narrator.EXPECT().Narrate(gomock.Any(), gomock.Any(), gomock.Any()).Return("中文简报。", nil)
	s.digests.EXPECT().Upsert(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, d *domain.DailyDigest) error {
			s.Equal("2025-01-06", d.Date)
			s.Equal("English narrative.", d.ContentEn)
			s.Equal("中文简报。", d.ContentZh)
			s.Equal(domain.IDList{1, 2}, d.KeyArticleIDs)
			return nil
		})

	digest, err := s.service.Generate(ctx)
	s.NoError(err)
	s.Require().NotNil(digest)
	s.Equal("2025-01-06", digest.Date)
}

func (s *DigestServiceTestSuite) TestGenerate_AlertLevelFirstMatchWins() {
	ctx := context.Background()
	// Top score 96 and 2/4 high-value: both the level-1 and level-2 rules
	// match, the more severe one applies.
	recent := []domain.Article{
		digestArticle(1, 96),
		digestArticle(2, 88),
		digestArticle(3, 30),
		digestArticle(4, 20),
	}

	s.articles.EXPECT().ListSince(ctx, gomock.Any()).Return(recent, nil)
	s.narrator.EXPECT().Narrate(gomock.Any(), gomock.Any(), gomock.Any()).Return("ok", nil).Times(2)
	s.digests.EXPECT().Upsert(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, d *domain.DailyDigest) error {
			s.Equal(1, d.AlertLevel)
			return nil
		})

	_, err := s.service.Generate(ctx)
	s.NoError(err)
}

func (s *DigestServiceTestSuite) TestGenerate_QuietDayDefaultsToLowestAlert() {
	ctx := context.Background()
	recent := []domain.Article{
		digestArticle(1, 40),
		digestArticle(2, 25),
	}

	s.articles.EXPECT().ListSince(ctx, gomock.Any()).Return(recent, nil)
	s.narrator.EXPECT().Narrate(gomock.Any(), gomock.Any(), gomock.Any()).Return("ok", nil).Times(2)
	s.digests.EXPECT().Upsert(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, d *domain.DailyDigest) error {
			s.Equal(5, d.AlertLevel)
			s.Empty(d.KeyArticleIDs)
			return nil
		})

	_, err := s.service.Generate(ctx)
	s.NoError(err)
}

func (s *DigestServiceTestSuite) TestGenerate_FallbackWhenNarratorFails() {
	ctx := context.Background()
	recent := []domain.Article{
		digestArticle(1, 90, domain.TagPair{En: "Ukraine", Zh: "乌克兰"}),
	}

	s.articles.EXPECT().ListSince(ctx, gomock.Any()).Return(recent, nil)
	s.narrator.EXPECT().Narrate(gomock.Any(), gomock.Any(), gomock.Any()).
		Return("", errors.New("model unavailable")).Times(2)
	s.digests.EXPECT().Upsert(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, d *domain.DailyDigest) error {
			s.Contains(d.ContentEn, "Analyzed 1 articles")
			s.Contains(d.ContentEn, "Ukraine")
			s.Contains(d.ContentZh, "乌克兰")
			s.NotEmpty(d.ContentZh)
			return nil
		})

	digest, err := s.service.Generate(ctx)
	s.NoError(err, "a dead model still yields a statistical digest")
	s.NotNil(digest)
}

func (s *DigestServiceTestSuite) TestGenerate_UpsertErrorPropagates() {
	ctx := context.Background()
	s.articles.EXPECT().ListSince(ctx, gomock.Any()).Return([]domain.Article{digestArticle(1, 50)}, nil)
	s.narrator.EXPECT().Narrate(gomock.Any(), gomock.Any(), gomock.Any()).Return("ok", nil).Times(2)
	s.digests.EXPECT().Upsert(ctx, gomock.Any()).Return(errors.New("db down"))

	_, err := s.service.Generate(ctx)
	s.Error(err)
}
