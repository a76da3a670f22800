package handlers

import (
	"errors"
	"net/http"

	"railway-accident-analytics/accident"
	"railway-accident-analytics/pipeline"
	"railway-accident-analytics/services"

	"github.com/gin-gonic/gin"
)

// respondError maps domain errors to status codes. Anything unrecognized is a
// storage or internal failure and gets a generic message.
func respondError(c *gin.Context, err error) {
	_ = c.Error(err)
	switch {
	case accident.IsMalformed(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, accident.ErrInsufficientData):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, accident.ErrNotTrained):
		c.JSON(http.StatusConflict, gin.H{"error": "model not trained yet, run a training first"})
	case errors.Is(err, services.ErrTrainingInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, pipeline.ErrMismatchedPipeline):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stored pipeline is inconsistent"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
