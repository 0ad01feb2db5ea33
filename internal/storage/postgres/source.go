package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/mmm8091/zimmerwald/internal/domain"
)

type SourceStore struct {
	db *sqlx.DB
}

func NewSourceStore(db *sqlx.DB) *SourceStore {
	return &SourceStore{db: db}
}

const sourceColumns = `slug, name, url, platform, is_templated, enabled,
	last_fetched_at, COALESCE(last_status, '') AS last_status, error_count, created_at`

// ListEnabled returns the active catalog in stable slug order.
func (s *SourceStore) ListEnabled(ctx context.Context) ([]domain.Source, error) {
	sources := []domain.Source{}
	query := "SELECT " + sourceColumns + " FROM sources WHERE enabled ORDER BY slug"
	if err := s.db.SelectContext(ctx, &sources, query); err != nil {
		return nil, fmt.Errorf("list enabled sources: %w", err)
	}
	return sources, nil
}

// List returns the catalog, optionally including disabled rows.
func (s *SourceStore) List(ctx context.Context, includeDisabled bool) ([]domain.Source, error) {
	if !includeDisabled {
		return s.ListEnabled(ctx)
	}
	sources := []domain.Source{}
	query := "SELECT " + sourceColumns + " FROM sources ORDER BY slug"
	if err := s.db.SelectContext(ctx, &sources, query); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	return sources, nil
}

// UpdateHealth records the outcome of one fetch attempt. Success resets
// the consecutive error count; failure increments it. The timestamp is
// always advanced so stalled sources are visible.
func (s *SourceStore) UpdateHealth(ctx context.Context, slug, status string, success bool) error {
	query := `
		UPDATE sources SET
			last_fetched_at = $1,
			last_status = $2,
			error_count = CASE WHEN $3 THEN 0 ELSE error_count + 1 END
		WHERE slug = $4`

	res, err := s.db.ExecContext(ctx, query, time.Now().UTC(), status, success, slug)
	if err != nil {
		return fmt.Errorf("update source health: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update source health: unknown source %s", slug)
	}
	return nil
}

// Stats aggregates registry counts for the dashboard.
func (s *SourceStore) Stats(ctx context.Context) (*domain.SourceStats, error) {
	rows := []struct {
		Platform domain.Platform `db:"platform"`
		Enabled  bool            `db:"enabled"`
		Count    int             `db:"count"`
	}{}
	query := `SELECT platform, enabled, COUNT(*) AS count FROM sources GROUP BY platform, enabled`
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("source stats: %w", err)
	}

	stats := &domain.SourceStats{ByPlatform: make(map[domain.Platform]int)}
	for _, r := range rows {
		stats.Total += r.Count
		if r.Enabled {
			stats.Enabled += r.Count
			stats.ByPlatform[r.Platform] += r.Count
		} else {
			stats.Disabled += r.Count
		}
	}
	return stats, nil
}
