package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"mnist-serve/internal/app"
)

type HealthHandler struct {
	service *app.PredictService
}

func NewHealthHandler(service *app.PredictService) *HealthHandler {
	return &HealthHandler{service: service}
}

// Check reports liveness and whether a model is loaded. A missing model is
// not a failure here: the service keeps serving in degraded mode.
func (h *HealthHandler) Check(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message":      "MNIST CNN API is running",
		"model_loaded": h.service != nil && h.service.ModelLoaded(),
	})
}
