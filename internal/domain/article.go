package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Platform is the origin category of a source. It drives both fetch
// headers and sanitization rules.
type Platform string

const (
	PlatformNews     Platform = "News"
	PlatformTwitter  Platform = "Twitter"
	PlatformTelegram Platform = "Telegram"
)

// Platforms lists all platforms in processing order.
var Platforms = []Platform{PlatformNews, PlatformTwitter, PlatformTelegram}

func (p Platform) Valid() bool {
	switch p {
	case PlatformNews, PlatformTwitter, PlatformTelegram:
		return true
	}
	return false
}

// Social reports whether the platform needs the heavier gateway-oriented
// sanitization rules.
func (p Platform) Social() bool {
	return p == PlatformTwitter || p == PlatformTelegram
}

type Category string

const (
	CategoryLabor    Category = "Labor"
	CategoryPolitics Category = "Politics"
	CategoryConflict Category = "Conflict"
	CategoryTheory   Category = "Theory"
)

// CategoryFallback is used when the scorer returns a category outside the
// fixed set.
const CategoryFallback = CategoryPolitics

func (c Category) Valid() bool {
	switch c {
	case CategoryLabor, CategoryPolitics, CategoryConflict, CategoryTheory:
		return true
	}
	return false
}

// TagPair is a bilingual tag. Duplicate pairs across articles are expected;
// they are the basis of tag-frequency stats.
type TagPair struct {
	En string `json:"en"`
	Zh string `json:"zh"`
}

// TagList stores tag pairs as a jsonb column.
type TagList []TagPair

func (t TagList) Value() (driver.Value, error) {
	if t == nil {
		return "[]", nil
	}
	b, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshal tags: %w", err)
	}
	return string(b), nil
}

func (t *TagList) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*t = nil
		return nil
	case []byte:
		return json.Unmarshal(v, t)
	case string:
		return json.Unmarshal([]byte(v), t)
	}
	return fmt.Errorf("scan tags: unsupported type %T", src)
}

// FetchedItem is the ephemeral output of the feed fetcher. It is never
// persisted as-is.
type FetchedItem struct {
	Title       string
	Link        string
	Body        string
	PublishedAt *time.Time
}

// Verdict is the normalized output of the scoring client.
type Verdict struct {
	TitleEn   string
	TitleZh   string
	SummaryEn string
	SummaryZh string
	Category  Category
	Score     int
	Reasoning string
	Tags      []TagPair
}

// Article is the persisted unit: one scored, bilingual, tagged record per
// unique url. Rows are append-only.
type Article struct {
	ID          int64      `db:"id" json:"id"`
	URL         string     `db:"url" json:"url"`
	SourceSlug  string     `db:"source_slug" json:"source_id"`
	SourceName  string     `db:"source_name" json:"source_name"`
	Platform    Platform   `db:"platform" json:"platform"`
	TitleEn     string     `db:"title_en" json:"title_en"`
	TitleZh     string     `db:"title_zh" json:"title_zh"`
	SummaryEn   string     `db:"summary_en" json:"summary_en"`
	SummaryZh   string     `db:"summary_zh" json:"summary_zh"`
	Category    Category   `db:"category" json:"category"`
	Tags        TagList    `db:"tags" json:"tags"`
	Score       int        `db:"score" json:"score"`
	Reasoning   string     `db:"ai_reasoning" json:"ai_reasoning"`
	PublishedAt *time.Time `db:"published_at" json:"published_at"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

// TagFrequency is derived on demand from article tags over a trailing
// window; it is never stored.
type TagFrequency struct {
	En    string `json:"en"`
	Zh    string `json:"zh"`
	Count int    `json:"count"`
}
