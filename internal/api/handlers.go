package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mmm8091/zimmerwald/internal/domain"
)

const (
	defaultListLimit = 30
	maxListLimit     = 100
)

type ArticleReader interface {
	List(ctx context.Context, filter domain.ArticleFilter) ([]domain.Article, error)
	ScoreHistogram(ctx context.Context, filter domain.ArticleFilter) ([]domain.HistogramBucket, error)
	ExistsID(ctx context.Context, id int64) (bool, error)
}

type SourceReader interface {
	List(ctx context.Context, includeDisabled bool) ([]domain.Source, error)
	Stats(ctx context.Context) (*domain.SourceStats, error)
}

type DigestReader interface {
	Latest(ctx context.Context) (*domain.DailyDigest, error)
}

type FeedbackWriter interface {
	Upsert(ctx context.Context, articleID int64, userHash, rating string) error
}

type PipelineRunner interface {
	Run(ctx context.Context) (*domain.RunStats, error)
}

type Handler struct {
	articles ArticleReader
	sources  SourceReader
	digests  DigestReader
	feedback FeedbackWriter
	pipeline PipelineRunner
}

func NewHandler(articles ArticleReader, sources SourceReader, digests DigestReader, feedback FeedbackWriter, pipeline PipelineRunner) *Handler {
	return &Handler{
		articles: articles,
		sources:  sources,
		digests:  digests,
		feedback: feedback,
		pipeline: pipeline,
	}
}

// ListNews handles GET /api/news.
func (h *Handler) ListNews(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	articles, err := h.articles.List(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"news": articles, "count": len(articles)})
}

// ScoreHistogram handles GET /api/stats/histogram.
func (h *Handler) ScoreHistogram(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	buckets, err := h.articles.ScoreHistogram(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"histogram": buckets})
}

// SourceStats handles GET /api/sources/stats.
func (h *Handler) SourceStats(c *gin.Context) {
	includeDisabled := c.Query("include_disabled") == "true"

	sources, err := h.sources.List(c.Request.Context(), includeDisabled)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	stats, err := h.sources.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sources": sources, "stats": stats})
}

// LatestDigest handles GET /api/daily-briefings/latest. No digest yet is
// an expected state, not a server error.
func (h *Handler) LatestDigest(c *gin.Context) {
	digest, err := h.digests.Latest(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	if digest == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no briefing available yet"})
		return
	}
	c.JSON(http.StatusOK, digest)
}

type feedbackRequest struct {
	ArticleID int64  `json:"article_id" binding:"required"`
	Rating    string `json:"rating" binding:"required"`
}

var validRatings = map[string]bool{"up": true, "down": true, "accurate": true}

// SubmitFeedback handles POST /api/feedback. The voter is identified by a
// hash of IP and user agent; the raw values are never stored.
func (h *Handler) SubmitFeedback(c *gin.Context) {
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !validRatings[req.Rating] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "rating must be up, down or accurate"})
		return
	}

	exists, err := h.articles.ExistsID(c.Request.Context(), req.ArticleID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "article not found"})
		return
	}

	hash := fingerprint(c.ClientIP(), c.Request.UserAgent())
	if err := h.feedback.Upsert(c.Request.Context(), req.ArticleID, hash, req.Rating); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "write failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "recorded"})
}

// TriggerRun handles POST /api/admin/run: one synchronous ingestion cycle.
func (h *Handler) TriggerRun(c *gin.Context) {
	stats, err := h.pipeline.Run(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sources": stats.Sources,
		"fetched": stats.Fetched,
		"saved":   stats.Saved,
		"skipped": stats.Skipped,
		"failed":  stats.Failed,
	})
}

func fingerprint(ip, userAgent string) string {
	sum := sha256.Sum256([]byte(ip + userAgent))
	return hex.EncodeToString(sum[:])
}

func parseFilter(c *gin.Context) (domain.ArticleFilter, error) {
	var filter domain.ArticleFilter
	var err error

	if filter.MinScore, err = intQuery(c, "min_score", 0); err != nil {
		return filter, err
	}
	if filter.MaxScore, err = intQuery(c, "max_score", 0); err != nil {
		return filter, err
	}
	if filter.Days, err = intQuery(c, "days", 0); err != nil {
		return filter, err
	}
	if filter.Offset, err = intQuery(c, "offset", 0); err != nil {
		return filter, err
	}
	if filter.Limit, err = intQuery(c, "limit", defaultListLimit); err != nil {
		return filter, err
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}

	filter.Category = domain.Category(c.Query("category"))
	filter.Platform = domain.Platform(c.Query("platform"))
	filter.Search = c.Query("search")
	filter.Tags = parseTags(c.Query("tags"))
	return filter, nil
}

// parseTags reads comma-separated "en|zh" pairs; a bare value is treated
// as an English label.
func parseTags(raw string) []domain.TagPair {
	if raw == "" {
		return nil
	}
	var tags []domain.TagPair
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		en, zh, _ := strings.Cut(part, "|")
		tags = append(tags, domain.TagPair{En: strings.TrimSpace(en), Zh: strings.TrimSpace(zh)})
	}
	return tags
}

func intQuery(c *gin.Context, name string, fallback int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, &queryError{name}
	}
	return v, nil
}

type queryError struct {
	param string
}

func (e *queryError) Error() string {
	return e.param + " must be a non-negative integer"
}
