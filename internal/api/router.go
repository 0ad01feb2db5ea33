// Package api serves the read side: article queries, stats, the latest
// digest, and reader feedback.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/mmm8091/zimmerwald/internal/config"
)

func NewRouter(h *Handler, cfg config.APIConfig, logger *slog.Logger) *gin.Engine {
	router := gin.New()

	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	router.Use(ginLogger(logger))
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.GET("/news", h.ListNews)
	api.GET("/stats/histogram", h.ScoreHistogram)
	api.GET("/sources/stats", h.SourceStats)
	api.GET("/daily-briefings/latest", h.LatestDigest)
	api.POST("/feedback", h.SubmitFeedback)

	admin := api.Group("/admin", adminAuth(cfg.AdminToken))
	admin.POST("/run", h.TriggerRun)

	return router
}

// adminAuth gates operator endpoints on a shared bearer token. With no
// token configured the endpoints stay closed.
func adminAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" || c.GetHeader("Authorization") != "Bearer "+token {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

func ginLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		logger.Info("http request",
			"method", method,
			"path", path,
			"status", c.Writer.Status(),
			"client_ip", c.ClientIP(),
			"duration", time.Since(start),
		)
	}
}
