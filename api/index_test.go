package handler

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// No model artifact exists in the test environment, so the handler runs in
// the cold-start degraded mode: reachable, CORS-correct, and answering
// business failures with HTTP 200 error bodies.

func smallDigitPayload(t *testing.T) string {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	for y := 3; y < 5; y++ {
		for x := 3; x < 5; x++ {
			img.SetGray(x, y, color.Gray{Y: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestHandlerPreflight(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/predict", nil)
	Handler(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("preflight status = %d, want 200", w.Code)
	}
	if origin := w.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Fatalf("Access-Control-Allow-Origin = %q, want *", origin)
	}
}

func TestHandlerRejectsNonPost(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/predict", nil)
	Handler(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", w.Code)
	}
}

func TestHandlerMissingImageData(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(`{}`))
	Handler(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (serverless error contract)", w.Code)
	}
	var parsed map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &parsed); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if parsed["error"] != "No image data provided" {
		t.Fatalf("error = %q, want %q", parsed["error"], "No image data provided")
	}
}

func TestHandlerModelUnavailable(t *testing.T) {
	body, _ := json.Marshal(map[string]string{"image_data": smallDigitPayload(t)})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/predict", bytes.NewReader(body))
	Handler(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (serverless error contract)", w.Code)
	}
	var parsed map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &parsed); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if parsed["error"] != "Model not available" {
		t.Fatalf("error = %q, want %q", parsed["error"], "Model not available")
	}
}

func TestHandlerMalformedJSON(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(`{"image_data": `))
	Handler(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
}
