package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/mmm8091/zimmerwald/internal/domain"
)

type DigestStore struct {
	db *sqlx.DB
}

func NewDigestStore(db *sqlx.DB) *DigestStore {
	return &DigestStore{db: db}
}

// Upsert writes the digest for its date, replacing any earlier run for the
// same day.
func (s *DigestStore) Upsert(ctx context.Context, digest *domain.DailyDigest) error {
	query := `
		INSERT INTO daily_digests (date, content_en, content_zh, key_article_ids, alert_level)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (date) DO UPDATE SET
			content_en = EXCLUDED.content_en,
			content_zh = EXCLUDED.content_zh,
			key_article_ids = EXCLUDED.key_article_ids,
			alert_level = EXCLUDED.alert_level
		RETURNING id, created_at`

	err := s.db.QueryRowContext(ctx, query,
		digest.Date,
		digest.ContentEn,
		digest.ContentZh,
		digest.KeyArticleIDs,
		digest.AlertLevel,
	).Scan(&digest.ID, &digest.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert digest for %s: %w", digest.Date, err)
	}
	return nil
}

// Latest returns the newest digest, or nil when none exists yet.
func (s *DigestStore) Latest(ctx context.Context) (*domain.DailyDigest, error) {
	var digest domain.DailyDigest
	query := `
		SELECT id, date, content_en, content_zh, key_article_ids, alert_level, created_at
		FROM daily_digests
		ORDER BY date DESC
		LIMIT 1`

	err := s.db.GetContext(ctx, &digest, query)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest digest: %w", err)
	}
	return &digest, nil
}
