package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"

	"railway-accident-analytics/accident"
	"railway-accident-analytics/models"
	"railway-accident-analytics/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	uploadField     = "file"
	insertBatchSize = 500
)

// EventAccidentsUploaded is published on the live channel after an upload.
const EventAccidentsUploaded = "accidents_uploaded"

var errUploadTooLarge = errors.New("uploaded file is too large")

type AccidentHandler struct {
	db        *gorm.DB
	cache     *services.CacheService
	archive   *services.ArchiveService
	maxUpload int64
	log       logrus.FieldLogger
}

func NewAccidentHandler(db *gorm.DB, cache *services.CacheService, archive *services.ArchiveService, maxUploadMB int, logger logrus.FieldLogger) *AccidentHandler {
	return &AccidentHandler{
		db:        db,
		cache:     cache,
		archive:   archive,
		maxUpload: int64(maxUploadMB) << 20,
		log:       logger,
	}
}

type UploadResponse struct {
	Inserted int                       `json:"inserted"`
	Archive  *services.ArchivedDataset `json:"archive,omitempty"`
}

// readUpload returns the bytes of the multipart file field. ok is false when
// the request carries no such field.
func readUpload(c *gin.Context, maxBytes int64) (data []byte, name string, ok bool, err error) {
	fh, err := c.FormFile(uploadField)
	if err != nil {
		return nil, "", false, nil
	}
	if maxBytes > 0 && fh.Size > maxBytes {
		return nil, fh.Filename, true, errUploadTooLarge
	}
	f, err := fh.Open()
	if err != nil {
		return nil, fh.Filename, true, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()
	data, err = io.ReadAll(f)
	if err != nil {
		return nil, fh.Filename, true, fmt.Errorf("read upload: %w", err)
	}
	return data, fh.Filename, true, nil
}

// Upload parses a CSV dataset, stores its rows and archives the raw file.
func (h *AccidentHandler) Upload(c *gin.Context) {
	ctx := c.Request.Context()
	data, name, ok, err := readUpload(c, h.maxUpload)
	switch {
	case !ok:
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field \"file\" is required"})
		return
	case errors.Is(err, errUploadTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	records, err := accident.ReadCSV(bytes.NewReader(data))
	if err != nil {
		respondError(c, err)
		return
	}
	if len(records) == 0 {
		respondError(c, fmt.Errorf("no rows in %s: %w", name, accident.ErrInsufficientData))
		return
	}

	rows := make([]models.Accident, len(records))
	for i, r := range records {
		rows[i] = models.NewAccident(r, "upload")
	}
	if err := h.db.WithContext(ctx).CreateInBatches(&rows, insertBatchSize).Error; err != nil {
		h.log.WithError(err).Error("accident insert failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store accidents"})
		return
	}

	resp := UploadResponse{Inserted: len(rows)}
	archived, err := h.archive.Store(ctx, bytes.NewReader(data), int64(len(data)), name)
	if err != nil {
		h.log.WithError(err).WithField("filename", name).Warn("dataset archive failed")
	}
	resp.Archive = archived

	if err := h.cache.DeletePrefix(ctx, insightsCachePrefix); err != nil {
		h.log.WithError(err).Warn("insights cache invalidation failed")
	}
	h.cache.PublishEvent(ctx, EventAccidentsUploaded, gin.H{"count": len(rows), "filename": name})

	h.log.WithFields(logrus.Fields{"rows": len(rows), "filename": name}).Info("dataset uploaded")
	c.JSON(http.StatusCreated, resp)
}

// List returns stored accidents newest first, optionally filtered by type.
func (h *AccidentHandler) List(c *gin.Context) {
	p := ParsePagination(c)

	query := h.db.WithContext(c.Request.Context()).Model(&models.Accident{}).
		Order("id DESC").
		Limit(p.Limit + 1)
	if p.Before > 0 {
		query = query.Where("id < ?", p.Before)
	}
	if t := c.Query("accident_type"); t != "" {
		query = query.Where("LOWER(accident_type) = LOWER(?)", t)
	}

	var rows []models.Accident
	if err := query.Find(&rows).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database query failed"})
		return
	}

	c.JSON(http.StatusOK, page(rows, p, func(a models.Accident) int64 { return a.ID }))
}
