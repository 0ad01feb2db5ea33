package domain

import (
	"fmt"
	"strings"
	"time"
)

// Source is a catalog entry in the feed registry. Health fields are
// mutated after every fetch attempt; rows are never deleted, only disabled.
type Source struct {
	Slug          string     `db:"slug" json:"slug"`
	Name          string     `db:"name" json:"name"`
	URL           string     `db:"url" json:"url"`
	Platform      Platform   `db:"platform" json:"platform"`
	IsTemplated   bool       `db:"is_templated" json:"is_templated"`
	Enabled       bool       `db:"enabled" json:"enabled"`
	LastFetchedAt *time.Time `db:"last_fetched_at" json:"last_fetched_at"`
	LastStatus    string     `db:"last_status" json:"last_status"`
	ErrorCount    int        `db:"error_count" json:"error_count"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

// ResolveURL returns the concrete fetch URL. Templated sources store only a
// path fragment and need the gateway base prepended.
func (s Source) ResolveURL(gatewayBase string) (string, error) {
	if !s.IsTemplated {
		return s.URL, nil
	}
	if gatewayBase == "" {
		return "", fmt.Errorf("source %s needs a gateway base URL", s.Slug)
	}
	return strings.TrimSuffix(gatewayBase, "/") + "/" + strings.TrimPrefix(s.URL, "/"), nil
}

// SourceStats summarizes the registry for the dashboard.
type SourceStats struct {
	Total      int              `json:"total"`
	Enabled    int              `json:"enabled"`
	Disabled   int              `json:"disabled"`
	ByPlatform map[Platform]int `json:"byPlatform"`
}
