package handlers

import (
	"context"
	"net/http"
	"time"

	"railway-accident-analytics/accident"
	"railway-accident-analytics/insights"
	"railway-accident-analytics/models"
	"railway-accident-analytics/services"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const (
	insightsCachePrefix = "insights:"
	insightsCacheKey    = insightsCachePrefix + "report"
	insightsTTL         = 10 * time.Minute
)

type InsightsHandler struct {
	db    *gorm.DB
	cache *services.CacheService
}

func NewInsightsHandler(db *gorm.DB, cache *services.CacheService) *InsightsHandler {
	return &InsightsHandler{db: db, cache: cache}
}

// Get computes the exploratory report over every stored accident. Uploads
// invalidate the cached copy.
func (h *InsightsHandler) Get(c *gin.Context) {
	var cached insights.Report
	if err := h.cache.Get(c.Request.Context(), insightsCacheKey, &cached); err == nil {
		c.JSON(http.StatusOK, cached)
		return
	}

	var rows []models.Accident
	if err := h.db.WithContext(c.Request.Context()).Order("id").Find(&rows).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database query failed"})
		return
	}
	records := make([]accident.Record, len(rows))
	for i, row := range rows {
		records[i] = row.Record()
	}

	report := insights.Compute(records)
	go h.cache.Set(context.Background(), insightsCacheKey, report, insightsTTL)

	c.JSON(http.StatusOK, report)
}
