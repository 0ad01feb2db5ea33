package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

type FeedbackStore struct {
	db *sqlx.DB
}

func NewFeedbackStore(db *sqlx.DB) *FeedbackStore {
	return &FeedbackStore{db: db}
}

// Upsert records one reader's vote on an article. A repeat vote from the
// same fingerprint replaces the earlier one instead of stacking.
func (s *FeedbackStore) Upsert(ctx context.Context, articleID int64, userHash, rating string) error {
	query := `
		INSERT INTO feedback (article_id, user_hash, rating)
		VALUES ($1, $2, $3)
		ON CONFLICT (article_id, user_hash) DO UPDATE SET
			rating = EXCLUDED.rating,
			created_at = now()`

	if _, err := s.db.ExecContext(ctx, query, articleID, userHash, rating); err != nil {
		return fmt.Errorf("upsert feedback: %w", err)
	}
	return nil
}
