package handler

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"mnist-serve/internal/app"
	"mnist-serve/internal/imaging"
	"mnist-serve/internal/mnist"
	"mnist-serve/internal/transport/http/response"
)

// ModelInfoProvider exposes the loaded model's shape summary for /model/info.
type ModelInfoProvider interface {
	Info() (mnist.ModelInfo, error)
	Loaded() bool
}

type PredictHandler struct {
	service *app.PredictService
	model   ModelInfoProvider

	modelUnavailableStatus int
	maxImageBytes          int64
}

type predictRequest struct {
	ImageData string `json:"image_data"`
}

func NewPredictHandler(service *app.PredictService, model ModelInfoProvider, modelUnavailableStatus int, maxImageBytes int64) *PredictHandler {
	if modelUnavailableStatus < 100 {
		modelUnavailableStatus = http.StatusInternalServerError
	}
	if maxImageBytes <= 0 {
		maxImageBytes = 10 << 20
	}
	return &PredictHandler{
		service:                service,
		model:                  model,
		modelUnavailableStatus: modelUnavailableStatus,
		maxImageBytes:          maxImageBytes,
	}
}

// Predict accepts either a multipart form with an "image" file field or a
// JSON body with a base64 "image_data" payload, and responds with the
// predicted digit, its confidence and the full class distribution.
func (h *PredictHandler) Predict(c *gin.Context) {
	input, ok := h.readImage(c)
	if !ok {
		return
	}

	result, err := h.service.Predict(c.Request.Context(), input)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrNoImage):
			response.PredictError(c, http.StatusBadRequest, "No image provided")
		case errors.Is(err, imaging.ErrDecode):
			response.PredictError(c, http.StatusBadRequest, "Failed to process image")
		case errors.Is(err, app.ErrModelUnavailable):
			response.PredictError(c, h.modelUnavailableStatus, "Model not loaded")
		default:
			response.PredictError(c, http.StatusInternalServerError, "Prediction failed: "+err.Error())
		}
		return
	}

	c.JSON(http.StatusOK, result)
}

// ModelInfo reports the architecture summary and shape descriptors of the
// loaded model.
func (h *PredictHandler) ModelInfo(c *gin.Context) {
	if h.model == nil || !h.model.Loaded() {
		response.PredictError(c, http.StatusInternalServerError, "Model not loaded")
		return
	}

	info, err := h.model.Info()
	if err != nil {
		response.PredictError(c, http.StatusInternalServerError, "Failed to get model info: "+err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"model_summary": info.Summary,
		"input_shape":   info.InputShape,
		"output_shape":  info.OutputShape,
	})
}

func (h *PredictHandler) readImage(c *gin.Context) (app.PredictInput, bool) {
	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		file, err := c.FormFile("image")
		if err != nil {
			response.PredictError(c, http.StatusBadRequest, "No image provided")
			return app.PredictInput{}, false
		}
		if file.Filename == "" {
			response.PredictError(c, http.StatusBadRequest, "No image selected")
			return app.PredictInput{}, false
		}
		if file.Size > h.maxImageBytes {
			response.PredictError(c, http.StatusBadRequest, "Image too large")
			return app.PredictInput{}, false
		}

		f, err := file.Open()
		if err != nil {
			response.PredictError(c, http.StatusBadRequest, "Failed to open uploaded file")
			return app.PredictInput{}, false
		}
		defer f.Close()

		data, err := io.ReadAll(io.LimitReader(f, h.maxImageBytes))
		if err != nil {
			response.PredictError(c, http.StatusBadRequest, "Failed to read image")
			return app.PredictInput{}, false
		}
		return app.PredictInput{ImageBytes: data, Source: "upload"}, true
	}

	var req predictRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.ImageData) == "" {
		response.PredictError(c, http.StatusBadRequest, "No image provided")
		return app.PredictInput{}, false
	}
	return app.PredictInput{ImageData: req.ImageData, Source: "base64"}, true
}
