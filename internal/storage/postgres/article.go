package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/mmm8091/zimmerwald/internal/domain"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type ArticleStore struct {
	db *sqlx.DB
}

func NewArticleStore(db *sqlx.DB) *ArticleStore {
	return &ArticleStore{db: db}
}

// Insert persists one scored article. It returns false without error when
// the url is already present; concurrent workers race to the same url and
// the unique index arbitrates.
func (s *ArticleStore) Insert(ctx context.Context, article *domain.Article) (bool, error) {
	query := `
		INSERT INTO articles (
			url, source_slug, platform, title_en, title_zh,
			summary_en, summary_zh, category, tags, score,
			ai_reasoning, published_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
		ON CONFLICT (url) DO NOTHING
		RETURNING id`

	err := s.db.QueryRowContext(ctx, query,
		article.URL,
		article.SourceSlug,
		article.Platform,
		article.TitleEn,
		article.TitleZh,
		article.SummaryEn,
		article.SummaryZh,
		article.Category,
		article.Tags,
		article.Score,
		article.Reasoning,
		article.PublishedAt,
	).Scan(&article.ID)

	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert article: %w", err)
	}
	return true, nil
}

// Exists checks the url before the expensive scoring call.
func (s *ArticleStore) Exists(ctx context.Context, url string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS (SELECT 1 FROM articles WHERE url = $1)", url)
	if err != nil {
		return false, fmt.Errorf("check article url: %w", err)
	}
	return exists, nil
}

// ExistsID reports whether an article id refers to a real row.
func (s *ArticleStore) ExistsID(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS (SELECT 1 FROM articles WHERE id = $1)", id)
	if err != nil {
		return false, fmt.Errorf("check article id: %w", err)
	}
	return exists, nil
}

// List returns articles matching the filter, most relevant first: score
// descending, then recency.
func (s *ArticleStore) List(ctx context.Context, filter domain.ArticleFilter) ([]domain.Article, error) {
	builder := psql.Select(
		"a.id", "a.url", "a.source_slug", "COALESCE(s.name, a.source_slug) AS source_name",
		"a.platform", "a.title_en", "a.title_zh", "a.summary_en", "a.summary_zh",
		"a.category", "a.tags", "a.score", "a.ai_reasoning", "a.published_at", "a.created_at",
	).
		From("articles a").
		LeftJoin("sources s ON s.slug = a.source_slug").
		OrderBy("a.score DESC", "a.published_at DESC NULLS LAST", "a.created_at DESC")

	if filter.MinScore > 0 {
		builder = builder.Where(sq.GtOrEq{"a.score": filter.MinScore})
	}
	if filter.MaxScore > 0 {
		builder = builder.Where(sq.LtOrEq{"a.score": filter.MaxScore})
	}
	builder = applyScope(builder, filter)

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	builder = builder.Limit(uint64(limit))
	if filter.Offset > 0 {
		builder = builder.Offset(uint64(filter.Offset))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build article query: %w", err)
	}

	articles := []domain.Article{}
	if err := s.db.SelectContext(ctx, &articles, query, args...); err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	return articles, nil
}

// applyScope adds the non-score filter predicates. List and ScoreHistogram
// share it so the histogram always describes the same population as the
// list view. Callers must alias articles as "a" and join sources as "s".
func applyScope(builder sq.SelectBuilder, filter domain.ArticleFilter) sq.SelectBuilder {
	if filter.Category != "" {
		builder = builder.Where(sq.Eq{"a.category": filter.Category})
	}
	if filter.Platform != "" {
		builder = builder.Where(sq.Eq{"a.platform": filter.Platform})
	}
	if filter.Days > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -filter.Days)
		builder = builder.Where(sq.GtOrEq{"a.created_at": cutoff})
	}

	// Each selected tag must be carried by the article, in either
	// language. jsonb containment matches whole pairs, so a tag like
	// "art" never matches "party".
	for _, tag := range filter.Tags {
		alternatives := sq.Or{}
		if tag.En != "" {
			alternatives = append(alternatives,
				sq.Expr("a.tags @> ?::jsonb", tagDocument("en", tag.En)))
		}
		if tag.Zh != "" {
			alternatives = append(alternatives,
				sq.Expr("a.tags @> ?::jsonb", tagDocument("zh", tag.Zh)))
		}
		if len(alternatives) > 0 {
			builder = builder.Where(alternatives)
		}
	}

	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := "%" + search + "%"
		builder = builder.Where(sq.Or{
			sq.ILike{"a.title_en": pattern},
			sq.ILike{"a.title_zh": pattern},
			sq.ILike{"a.summary_en": pattern},
			sq.ILike{"a.summary_zh": pattern},
			sq.Expr("a.tags::text ILIKE ?", pattern),
			sq.ILike{"s.name": pattern},
		})
	}

	return builder
}

// tagDocument builds a single-element jsonb array pinning one language's
// label. Containment then matches any stored pair carrying that label,
// regardless of its translation.
func tagDocument(lang, label string) string {
	b, _ := json.Marshal([]map[string]string{{lang: label}})
	return string(b)
}

// ScoreHistogram returns eleven buckets, 0 through 100 in steps of ten.
// Empty buckets are zero-filled; a perfect 100 stands alone. Score bounds
// on the filter are ignored; every other constraint, tags and search
// included, applies exactly as in List.
func (s *ArticleStore) ScoreHistogram(ctx context.Context, filter domain.ArticleFilter) ([]domain.HistogramBucket, error) {
	builder := psql.Select("LEAST(a.score / 10, 10) * 10 AS bucket", "COUNT(*) AS count").
		From("articles a").
		LeftJoin("sources s ON s.slug = a.source_slug").
		GroupBy("bucket")

	builder = applyScope(builder, filter)

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build histogram query: %w", err)
	}

	rows := []domain.HistogramBucket{}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("score histogram: %w", err)
	}

	counts := make(map[int]int, len(rows))
	for _, r := range rows {
		counts[r.Bucket] = r.Count
	}

	buckets := make([]domain.HistogramBucket, 0, 11)
	for b := 0; b <= 100; b += 10 {
		buckets = append(buckets, domain.HistogramBucket{Bucket: b, Count: counts[b]})
	}
	return buckets, nil
}

// TopTags returns the most frequent tag pairs over a trailing window.
// Frequency is counted per pair; ties keep first-seen order.
func (s *ArticleStore) TopTags(ctx context.Context, windowDays, limit int) ([]domain.TagFrequency, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -windowDays)

	var lists []domain.TagList
	query := `SELECT tags FROM articles WHERE created_at >= $1 ORDER BY created_at DESC`
	if err := s.db.SelectContext(ctx, &lists, query, cutoff); err != nil {
		return nil, fmt.Errorf("load tags: %w", err)
	}

	counts := make(map[domain.TagPair]int)
	order := make([]domain.TagPair, 0)
	for _, list := range lists {
		for _, tag := range list {
			if _, seen := counts[tag]; !seen {
				order = append(order, tag)
			}
			counts[tag]++
		}
	}

	freq := make([]domain.TagFrequency, 0, len(order))
	for _, tag := range order {
		freq = append(freq, domain.TagFrequency{En: tag.En, Zh: tag.Zh, Count: counts[tag]})
	}
	// Stable sort keeps first-seen order among equal counts.
	sort.SliceStable(freq, func(i, j int) bool { return freq[i].Count > freq[j].Count })

	if limit > 0 && len(freq) > limit {
		freq = freq[:limit]
	}
	return freq, nil
}

// ListSince returns articles created at or after the cutoff, highest score
// first. The digest generator reads its day through this.
func (s *ArticleStore) ListSince(ctx context.Context, cutoff time.Time) ([]domain.Article, error) {
	query := `
		SELECT a.id, a.url, a.source_slug, COALESCE(s.name, a.source_slug) AS source_name,
		       a.platform, a.title_en, a.title_zh, a.summary_en, a.summary_zh,
		       a.category, a.tags, a.score, a.ai_reasoning, a.published_at, a.created_at
		FROM articles a
		LEFT JOIN sources s ON s.slug = a.source_slug
		WHERE a.created_at >= $1
		ORDER BY a.score DESC, a.created_at DESC`

	articles := []domain.Article{}
	if err := s.db.SelectContext(ctx, &articles, query, cutoff); err != nil {
		return nil, fmt.Errorf("list articles since %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return articles, nil
}
