// Package handler is the serverless entry point: one stateless HTTP
// function with the same prediction contract as the long-running server.
// Initialization runs once per cold start and is memoized across warm
// invocations.
package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"

	"mnist-serve/internal/app"
	"mnist-serve/internal/config"
	"mnist-serve/internal/imaging"
	"mnist-serve/internal/mnist"
)

var (
	once    sync.Once
	service *app.PredictService
)

type predictRequest struct {
	ImageData string `json:"image_data"`
}

func setup() {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("load config failed, using defaults: %v", err)
		cfg = &config.Config{}
	}

	paths := cfg.Model.Paths
	if len(paths) == 0 {
		paths = []string{"models/mnist_cnn.onnx", "../models/mnist_cnn.onnx", "/var/task/models/mnist_cnn.onnx"}
	}

	classifier := mnist.NewClassifier(paths, cfg.Model.ONNXSharedLibPath)
	service = app.NewPredictService(classifier, nil, nil)
}

// Handler serves POST predictions and OPTIONS preflights. Business
// failures are reported as HTTP 200 with an {"error": ...} body, keeping
// the historical behavior of this deployment shape; only malformed
// requests and unexpected errors get a non-200 status.
func Handler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	once.Do(setup)

	var req predictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Server error: invalid JSON body"})
		return
	}
	if strings.TrimSpace(req.ImageData) == "" {
		writeJSON(w, http.StatusOK, map[string]string{"error": "No image data provided"})
		return
	}

	result, err := service.Predict(r.Context(), app.PredictInput{ImageData: req.ImageData, Source: "base64"})
	if err != nil {
		switch {
		case errors.Is(err, app.ErrModelUnavailable):
			writeJSON(w, http.StatusOK, map[string]string{"error": "Model not available"})
		case errors.Is(err, imaging.ErrDecode):
			writeJSON(w, http.StatusOK, map[string]string{"error": "Failed to process image"})
		default:
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Server error: " + err.Error()})
		}
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("write response failed: %v", err)
	}
}
