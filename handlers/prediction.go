package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"railway-accident-analytics/accident"
	"railway-accident-analytics/models"
	"railway-accident-analytics/pipeline"
	"railway-accident-analytics/services"
	"railway-accident-analytics/severity"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const predictionsCachePrefix = "predictions:"

type PredictionHandler struct {
	db     *gorm.DB
	models *services.ModelService
	cache  *services.CacheService
	log    logrus.FieldLogger
}

func NewPredictionHandler(db *gorm.DB, modelService *services.ModelService, cache *services.CacheService, logger logrus.FieldLogger) *PredictionHandler {
	return &PredictionHandler{db: db, models: modelService, cache: cache, log: logger}
}

type PredictRequest struct {
	AccidentType    string   `json:"accident_type" binding:"required"`
	Deaths          *int     `json:"deaths" binding:"required"`
	Injuries        *int     `json:"injuries" binding:"required"`
	RescueTimeHours *float64 `json:"rescue_time_hours" binding:"required"`
	AccidentID      *int64   `json:"accident_id"`
}

func (r PredictRequest) Record() accident.Record {
	return accident.Record{
		AccidentType:    r.AccidentType,
		Deaths:          r.Deaths,
		Injuries:        r.Injuries,
		RescueTimeHours: r.RescueTimeHours,
	}
}

type PredictResponse struct {
	pipeline.Result
	PredictionID int64 `json:"prediction_id"`
}

// Predict scores one accident with the serving pipeline and stores the result.
func (h *PredictionHandler) Predict(c *gin.Context) {
	var req PredictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec := req.Record()
	res, err := h.models.Predict(rec)
	if err != nil {
		respondError(c, err)
		return
	}

	ctx := c.Request.Context()
	row := models.NewPrediction(rec, res, req.AccidentID)
	if err := h.db.WithContext(ctx).Create(&row).Error; err != nil {
		h.log.WithError(err).Error("prediction insert failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store prediction"})
		return
	}

	if err := h.cache.Publish(ctx, services.ChannelPredictions, row); err != nil {
		h.log.WithError(err).Warn("prediction publish failed")
	}
	h.cache.PublishEvent(ctx, services.EventPrediction, row)
	if err := h.cache.DeletePrefix(ctx, predictionsCachePrefix); err != nil {
		h.log.WithError(err).Warn("predictions cache invalidation failed")
	}

	c.JSON(http.StatusOK, PredictResponse{Result: res, PredictionID: row.ID})
}

// List returns prediction history newest first, optionally for one tier.
func (h *PredictionHandler) List(c *gin.Context) {
	p := ParsePagination(c)

	tierName := ""
	if raw := c.Query("tier"); raw != "" {
		tier, err := severity.ParseTier(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		tierName = tier.String()
	}

	cacheKey := fmt.Sprintf("%s%s:%s", predictionsCachePrefix, tierName, p.CacheKey())
	var cached CursorResponse
	if err := h.cache.Get(c.Request.Context(), cacheKey, &cached); err == nil && cached.Data != nil {
		c.JSON(http.StatusOK, cached)
		return
	}

	query := h.db.WithContext(c.Request.Context()).Model(&models.Prediction{}).
		Order("id DESC").
		Limit(p.Limit + 1)
	if p.Before > 0 {
		query = query.Where("id < ?", p.Before)
	}
	if tierName != "" {
		query = query.Where("tier = ?", tierName)
	}

	var rows []models.Prediction
	if err := query.Find(&rows).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database query failed"})
		return
	}

	resp := page(rows, p, func(r models.Prediction) int64 { return r.ID })
	go h.cache.Set(context.Background(), cacheKey, resp, 30*time.Second)

	c.JSON(http.StatusOK, resp)
}
