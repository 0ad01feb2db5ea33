package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// DailyDigest is a once-per-day narrative summary with a derived alert
// level. One row per calendar date; regeneration replaces it in place.
type DailyDigest struct {
	ID            int64     `db:"id" json:"id"`
	Date          string    `db:"date" json:"date"`
	ContentEn     string    `db:"content_en" json:"content_en"`
	ContentZh     string    `db:"content_zh" json:"content_zh"`
	KeyArticleIDs IDList    `db:"key_article_ids" json:"key_article_ids"`
	AlertLevel    int       `db:"alert_level" json:"alert_level"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// IDList stores article id references as a jsonb column.
type IDList []int64

func (l IDList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("marshal id list: %w", err)
	}
	return string(b), nil
}

func (l *IDList) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	}
	return fmt.Errorf("scan id list: unsupported type %T", src)
}
