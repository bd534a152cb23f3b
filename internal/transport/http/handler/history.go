package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"mnist-serve/internal/repository"
	"mnist-serve/internal/transport/http/response"
)

// HistoryHandler serves the persisted prediction records. repo is nil when
// MySQL was unreachable at bootstrap; the endpoints then answer 503.
type HistoryHandler struct {
	repo *repository.PredictionRepository
}

func NewHistoryHandler(repo *repository.PredictionRepository) *HistoryHandler {
	return &HistoryHandler{repo: repo}
}

func (h *HistoryHandler) List(c *gin.Context) {
	if h.repo == nil {
		response.Error(c, http.StatusServiceUnavailable, response.CodeHistoryUnavailable, "prediction history unavailable: no database connected")
		return
	}

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}

	records, err := h.repo.ListRecent(limit)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list predictions failed")
		return
	}

	response.OK(c, records)
}

func (h *HistoryHandler) Stats(c *gin.Context) {
	if h.repo == nil {
		response.Error(c, http.StatusServiceUnavailable, response.CodeHistoryUnavailable, "prediction history unavailable: no database connected")
		return
	}

	counts, err := h.repo.CountByDigit()
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "prediction stats failed")
		return
	}

	response.OK(c, gin.H{"counts_by_digit": counts})
}
