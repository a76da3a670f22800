package handlers

import (
	"bytes"
	"errors"
	"net/http"
	"time"

	"railway-accident-analytics/accident"
	"railway-accident-analytics/models"
	"railway-accident-analytics/services"
	"railway-accident-analytics/severity"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const runsLimit = 20

type ModelHandler struct {
	db        *gorm.DB
	models    *services.ModelService
	maxUpload int64
	log       logrus.FieldLogger
}

func NewModelHandler(db *gorm.DB, modelService *services.ModelService, maxUploadMB int, logger logrus.FieldLogger) *ModelHandler {
	return &ModelHandler{db: db, models: modelService, maxUpload: int64(maxUploadMB) << 20, log: logger}
}

type TrainResponse struct {
	RunID     uuid.UUID        `json:"run_id"`
	TrainedAt time.Time        `json:"trained_at"`
	Source    string           `json:"source"`
	Records   int              `json:"records"`
	Metrics   severity.Metrics `json:"metrics"`
}

// Train fits a new pipeline from an uploaded CSV when one is attached,
// otherwise from every stored accident.
func (h *ModelHandler) Train(c *gin.Context) {
	ctx := c.Request.Context()

	var (
		records []accident.Record
		source  string
	)
	data, name, ok, err := readUpload(c, h.maxUpload)
	switch {
	case errors.Is(err, errUploadTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case ok:
		if records, err = accident.ReadCSV(bytes.NewReader(data)); err != nil {
			respondError(c, err)
			return
		}
		source = "upload:" + name
	default:
		var rows []models.Accident
		if err := h.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database query failed"})
			return
		}
		records = make([]accident.Record, len(rows))
		for i, row := range rows {
			records[i] = row.Record()
		}
		source = "database"
	}

	p, err := h.models.Train(ctx, records, source)
	if err != nil {
		respondError(c, err)
		return
	}

	run := models.NewTrainingRun(p, source)
	if err := h.db.WithContext(ctx).Create(&run).Error; err != nil {
		h.log.WithError(err).WithField("run_id", run.ID).Error("training run insert failed")
	}

	c.JSON(http.StatusOK, TrainResponse{
		RunID:     p.ID(),
		TrainedAt: p.TrainedAt(),
		Source:    source,
		Records:   len(records),
		Metrics:   p.Metrics(),
	})
}

// Status describes the serving pipeline.
func (h *ModelHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.models.Status())
}

// Runs lists recent training runs.
func (h *ModelHandler) Runs(c *gin.Context) {
	var runs []models.TrainingRun
	err := h.db.WithContext(c.Request.Context()).
		Order("trained_at DESC").
		Limit(runsLimit).
		Find(&runs).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database query failed"})
		return
	}
	if runs == nil {
		runs = []models.TrainingRun{}
	}
	c.JSON(http.StatusOK, gin.H{"data": runs})
}
