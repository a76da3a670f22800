package handlers

import (
	"context"
	"errors"
	"net/http"

	"railway-accident-analytics/services"

	"github.com/gin-gonic/gin"
)

// Asker answers free-text questions.
type Asker interface {
	Ask(ctx context.Context, query string) (string, error)
}

type AssistantHandler struct {
	assistant Asker
}

func NewAssistantHandler(assistant Asker) *AssistantHandler {
	return &AssistantHandler{assistant: assistant}
}

type AskRequest struct {
	Query string `json:"query" binding:"required"`
}

// Ask forwards the query. Upstream failures come back as 502 with the error
// text in "message" so clients can show it inline.
func (h *AssistantHandler) Ask(c *gin.Context) {
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	answer, err := h.assistant.Ask(c.Request.Context(), req.Query)
	switch {
	case errors.Is(err, services.ErrAssistantUnavailable):
		_ = c.Error(err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "assistant unavailable", "message": err.Error()})
	case err != nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"answer": answer})
	}
}
