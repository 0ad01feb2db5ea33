package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"time"

	"github.com/mmm8091/zimmerwald/internal/domain"
)

type SourceStore interface {
	ListEnabled(ctx context.Context) ([]domain.Source, error)
	UpdateHealth(ctx context.Context, slug, status string, success bool) error
}

type ArticleStore interface {
	Exists(ctx context.Context, url string) (bool, error)
	Insert(ctx context.Context, article *domain.Article) (bool, error)
	TopTags(ctx context.Context, windowDays, limit int) ([]domain.TagFrequency, error)
	ListSince(ctx context.Context, cutoff time.Time) ([]domain.Article, error)
}

type DigestStore interface {
	Upsert(ctx context.Context, digest *domain.DailyDigest) error
}

type Fetcher interface {
	Fetch(ctx context.Context, src domain.Source) ([]domain.FetchedItem, error)
}

type Scorer interface {
	Score(ctx context.Context, req domain.ScoreRequest) (*domain.Verdict, error)
}

type Narrator interface {
	Narrate(ctx context.Context, system, user string) (string, error)
}

type Publisher interface {
	Publish(ctx context.Context, article *domain.Article) error
	Close() error
}
