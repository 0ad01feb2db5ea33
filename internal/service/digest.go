package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/mmm8091/zimmerwald/internal/domain"
)

const (
	digestWindow     = 24 * time.Hour
	highValueScore   = 80
	digestMinScore   = 60
	digestTopCount   = 10
	keyArticleCount  = 10
	topKeywordsCount = 5
)

// alertThreshold maps score distribution onto a severity level. Rules are
// ordered most severe first; the first match wins.
type alertThreshold struct {
	Level    int
	Code     string
	LabelEn  string
	LabelZh  string
	MinTop   int
	MinRatio float64
}

var alertThresholds = []alertThreshold{
	{Level: 1, Code: "STORM", LabelEn: "Storm", LabelZh: "风暴", MinTop: 95, MinRatio: 0.30},
	{Level: 2, Code: "SURGE", LabelEn: "Surge", LabelZh: "激增", MinTop: 90, MinRatio: 0.20},
	{Level: 3, Code: "SWELL", LabelEn: "Swell", LabelZh: "涌动", MinTop: 85, MinRatio: 0.10},
	{Level: 4, Code: "RIPPLE", LabelEn: "Ripple", LabelZh: "涟漪", MinTop: 80, MinRatio: 0.05},
}

var defaultAlert = alertThreshold{Level: 5, Code: "FOG", LabelEn: "Fog", LabelZh: "迷雾"}

// geoKeywords marks a tag as geographic for the keyword summary.
var geoKeywords = []string{
	"USA", "China", "Palestine", "Israel", "Russia", "Ukraine",
	"France", "Germany", "UK", "India",
	"美国", "中国", "巴勒斯坦", "以色列", "俄罗斯", "乌克兰",
	"法国", "德国", "英国", "印度",
}

// DigestService condenses the trailing day of articles into one bilingual
// narrative with a derived alert level.
type DigestService struct {
	articles ArticleStore
	digests  DigestStore
	narrator Narrator
	logger   *slog.Logger
	now      func() time.Time
}

func NewDigestService(articles ArticleStore, digests DigestStore, narrator Narrator, logger *slog.Logger) *DigestService {
	return &DigestService{
		articles: articles,
		digests:  digests,
		narrator: narrator,
		logger:   logger.With("component", "digest"),
		now:      time.Now,
	}
}

// Generate builds and stores the digest for the current date. A day with
// no articles produces no digest; yesterday's stays the latest.
func (s *DigestService) Generate(ctx context.Context) (*domain.DailyDigest, error) {
	now := s.now().UTC()
	date := now.Format("2006-01-02")

	recent, err := s.articles.ListSince(ctx, now.Add(-digestWindow))
	if err != nil {
		return nil, fmt.Errorf("load recent articles: %w", err)
	}
	if len(recent) == 0 {
		s.logger.Info("no articles in window, skipping digest", "date", date)
		return nil, nil
	}

	total := len(recent)
	maxScore := 0
	highValue := make([]domain.Article, 0)
	for _, a := range recent {
		if a.Score > maxScore {
			maxScore = a.Score
		}
		if a.Score >= highValueScore {
			highValue = append(highValue, a)
		}
	}
	ratio := float64(len(highValue)) / float64(total)

	alert := defaultAlert
	for _, t := range alertThresholds {
		if maxScore >= t.MinTop && ratio >= t.MinRatio {
			alert = t
			break
		}
	}

	keywords := geoKeywordFrequency(recent)

	top := make([]domain.Article, 0, digestTopCount)
	for _, a := range recent {
		if a.Score >= digestMinScore {
			top = append(top, a)
			if len(top) == digestTopCount {
				break
			}
		}
	}

	s.logger.Info("generating digest",
		"date", date,
		"articles", total,
		"high_value", len(highValue),
		"alert_level", alert.Level,
	)

	contentEn := s.narrate(ctx, date, "en", top, total, len(highValue), keywords, alert)
	contentZh := s.narrate(ctx, date, "zh", top, total, len(highValue), keywords, alert)

	keyIDs := make(domain.IDList, 0, keyArticleCount)
	for _, a := range highValue {
		keyIDs = append(keyIDs, a.ID)
		if len(keyIDs) == keyArticleCount {
			break
		}
	}

	digest := &domain.DailyDigest{
		Date:          date,
		ContentEn:     contentEn,
		ContentZh:     contentZh,
		KeyArticleIDs: keyIDs,
		AlertLevel:    alert.Level,
	}
	if err := s.digests.Upsert(ctx, digest); err != nil {
		return nil, err
	}

	s.logger.Info("digest stored", "date", date, "alert_level", alert.Level)
	return digest, nil
}

// narrate asks the model for one language's narrative and degrades to a
// statistical summary when the model is unavailable.
func (s *DigestService) narrate(ctx context.Context, date, lang string, top []domain.Article, total, highValue int, keywords []domain.TagFrequency, alert alertThreshold) string {
	content, err := s.narrator.Narrate(ctx, digestSystemPrompt(lang), digestUserPrompt(date, lang, top, total, highValue, keywords, alert))
	if err == nil && strings.TrimSpace(content) != "" {
		return content
	}
	if err != nil {
		s.logger.Warn("narrative generation failed, using statistical fallback",
			"date", date, "lang", lang, "error", err)
	}
	return fallbackNarrative(date, lang, total, highValue, keywords, alert)
}

func geoKeywordFrequency(articles []domain.Article) []domain.TagFrequency {
	counts := make(map[string]*domain.TagFrequency)
	order := make([]string, 0)
	for _, a := range articles {
		for _, tag := range a.Tags {
			if !isGeoTag(tag) {
				continue
			}
			key := tag.En
			if key == "" {
				key = tag.Zh
			}
			if f, seen := counts[key]; seen {
				f.Count++
				continue
			}
			counts[key] = &domain.TagFrequency{En: tag.En, Zh: tag.Zh, Count: 1}
			order = append(order, key)
		}
	}

	freq := make([]domain.TagFrequency, 0, len(order))
	for _, key := range order {
		freq = append(freq, *counts[key])
	}
	sort.SliceStable(freq, func(i, j int) bool { return freq[i].Count > freq[j].Count })
	if len(freq) > topKeywordsCount {
		freq = freq[:topKeywordsCount]
	}
	return freq
}

func isGeoTag(tag domain.TagPair) bool {
	for _, kw := range geoKeywords {
		if strings.Contains(tag.En, kw) || strings.Contains(tag.Zh, kw) {
			return true
		}
	}
	return false
}

func digestSystemPrompt(lang string) string {
	if lang == "zh" {
		return "你是一名国际政治经济分析员。根据给出的文章列表撰写当日简报：" +
			"概述主要动向，点明值得关注的事件，保持克制的分析语气。输出 Markdown。"
	}
	return "You are an analyst of international political economy. " +
		"Write the daily briefing from the article list provided: summarize the main " +
		"currents, flag what deserves attention, keep a measured analytical tone. Output Markdown."
}

func digestUserPrompt(date, lang string, top []domain.Article, total, highValue int, keywords []domain.TagFrequency, alert alertThreshold) string {
	var b strings.Builder
	if lang == "zh" {
		fmt.Fprintf(&b, "日期：%s\n过去 24 小时共分析 %d 篇文章，其中高价值（≥%d 分）%d 篇。\n", date, total, highValueScore, highValue)
		fmt.Fprintf(&b, "战略警戒等级：%d（%s，%s）\n", alert.Level, alert.Code, alert.LabelZh)
		fmt.Fprintf(&b, "关键词：%s\n\n重点文章：\n", joinKeywords(keywords, "zh"))
		for _, a := range top {
			title := a.TitleZh
			if title == "" {
				title = a.TitleEn
			}
			fmt.Fprintf(&b, "- [%d分] %s — %s\n", a.Score, title, a.SummaryZh)
		}
		return b.String()
	}

	fmt.Fprintf(&b, "Date: %s\nAnalyzed %d articles in the past 24 hours, %d high-value (score >= %d).\n", date, total, highValue, highValueScore)
	fmt.Fprintf(&b, "Strategic alert level: %d (%s, %s)\n", alert.Level, alert.Code, alert.LabelEn)
	fmt.Fprintf(&b, "Keywords: %s\n\nTop articles:\n", joinKeywords(keywords, "en"))
	for _, a := range top {
		title := a.TitleEn
		if title == "" {
			title = a.TitleZh
		}
		fmt.Fprintf(&b, "- [%d] %s — %s\n", a.Score, title, a.SummaryEn)
	}
	return b.String()
}

func fallbackNarrative(date, lang string, total, highValue int, keywords []domain.TagFrequency, alert alertThreshold) string {
	if lang == "zh" {
		return fmt.Sprintf(
			"## %s 每日简报\n\n过去 24 小时共分析了 %d 篇文章，其中高价值情报（≥%d分）%d 篇。\n\n关键词：%s\n\n战略警戒等级：%s（%s）",
			date, total, highValueScore, highValue, joinKeywords(keywords, "zh"), alert.Code, alert.LabelZh,
		)
	}
	return fmt.Sprintf(
		"## Daily Briefing %s\n\nAnalyzed %d articles in the past 24 hours, including %d high-value intelligence (>=%d).\n\nKeywords: %s\n\nStrategic Alert Level: %s (%s)",
		date, total, highValue, highValueScore, joinKeywords(keywords, "en"), alert.Code, alert.LabelEn,
	)
}

func joinKeywords(keywords []domain.TagFrequency, lang string) string {
	parts := make([]string, 0, len(keywords))
	for _, k := range keywords {
		label := k.En
		alt := k.Zh
		if lang == "zh" {
			label, alt = k.Zh, k.En
		}
		if label == "" {
			label = alt
		}
		if label != "" {
			parts = append(parts, label)
		}
	}
	sep := ", "
	if lang == "zh" {
		sep = "、"
	}
	return strings.Join(parts, sep)
}
