package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"railway-accident-analytics/models"
	"railway-accident-analytics/services"
	"railway-accident-analytics/severity"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const dispatchesCachePrefix = "dispatches:"

type DispatchHandler struct {
	db    *gorm.DB
	cache *services.CacheService
}

func NewDispatchHandler(db *gorm.DB, cache *services.CacheService) *DispatchHandler {
	return &DispatchHandler{db: db, cache: cache}
}

// List returns dispatch recommendations newest first. min_tier keeps only
// dispatches at or above a tier; alerted filters on whether a Telegram alert
// went out.
func (h *DispatchHandler) List(c *gin.Context) {
	p := ParsePagination(c)

	minRank := -1
	if raw := c.Query("min_tier"); raw != "" {
		tier, err := severity.ParseTier(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		minRank = int(tier)
	}
	var alerted *bool
	if raw := c.Query("alerted"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alerted parameter, must be a boolean"})
			return
		}
		alerted = &v
	}

	cacheKey := fmt.Sprintf("%s%d:%v:%s", dispatchesCachePrefix, minRank, c.Query("alerted"), p.CacheKey())
	var cached CursorResponse
	if err := h.cache.Get(c.Request.Context(), cacheKey, &cached); err == nil && cached.Data != nil {
		c.JSON(http.StatusOK, cached)
		return
	}

	query := h.db.WithContext(c.Request.Context()).Model(&models.Dispatch{}).
		Order("id DESC").
		Limit(p.Limit + 1)
	if p.Before > 0 {
		query = query.Where("id < ?", p.Before)
	}
	if minRank >= 0 {
		query = query.Where("tier_rank >= ?", minRank)
	}
	if alerted != nil {
		query = query.Where("alerted = ?", *alerted)
	}

	var rows []models.Dispatch
	if err := query.Find(&rows).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database query failed"})
		return
	}

	resp := page(rows, p, func(d models.Dispatch) int64 { return d.ID })
	go h.cache.Set(context.Background(), cacheKey, resp, 30*time.Second)

	c.JSON(http.StatusOK, resp)
}
