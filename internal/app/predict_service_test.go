package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"

	"mnist-serve/internal/imaging"
	"mnist-serve/internal/mnist"
	"mnist-serve/internal/model"
)

type fakeClassifier struct {
	probs  []float32
	err    error
	loaded bool
	calls  int
}

func (f *fakeClassifier) Predict(ctx context.Context, t *imaging.Tensor) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.probs, nil
}

func (f *fakeClassifier) Loaded() bool { return f.loaded }

type memCache struct {
	store map[string]*PredictionResult
}

func newMemCache() *memCache {
	return &memCache{store: make(map[string]*PredictionResult)}
}

func (c *memCache) Get(ctx context.Context, key string) (*PredictionResult, bool, error) {
	result, ok := c.store[key]
	return result, ok, nil
}

func (c *memCache) Set(ctx context.Context, key string, result *PredictionResult) error {
	c.store[key] = result
	return nil
}

type memPublisher struct {
	records []model.PredictionRecord
}

func (p *memPublisher) Publish(ctx context.Context, record model.PredictionRecord) error {
	p.records = append(p.records, record)
	return nil
}

func testImageBytes(t *testing.T) []byte {
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
	return buf.Bytes()
}

func TestPredictTieBreaksToLowestIndex(t *testing.T) {
	probs := []float32{0.05, 0.25, 0.25, 0.05, 0.05, 0.05, 0.05, 0.25, 0.1, 0.1}
	service := NewPredictService(&fakeClassifier{probs: probs, loaded: true}, nil, nil)

	result, err := service.Predict(context.Background(), PredictInput{ImageBytes: testImageBytes(t)})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}

	if result.PredictedDigit != 1 {
		t.Fatalf("predicted digit = %d, want 1 (first occurrence of the maximum)", result.PredictedDigit)
	}
	if math.Abs(result.Confidence-0.25) > 1e-6 {
		t.Fatalf("confidence = %f, want 0.25", result.Confidence)
	}
}

func TestPredictDistribution(t *testing.T) {
	probs := []float32{0.01, 0.02, 0.03, 0.04, 0.7, 0.05, 0.05, 0.04, 0.03, 0.03}
	service := NewPredictService(&fakeClassifier{probs: probs, loaded: true}, nil, nil)

	result, err := service.Predict(context.Background(), PredictInput{ImageBytes: testImageBytes(t)})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}

	if result.PredictedDigit != 4 {
		t.Fatalf("predicted digit = %d, want 4", result.PredictedDigit)
	}
	if len(result.Probabilities) != 10 {
		t.Fatalf("distribution has %d entries, want 10", len(result.Probabilities))
	}

	sum := 0.0
	for i := 0; i < 10; i++ {
		key := fmt.Sprintf("%d", i)
		v, ok := result.Probabilities[key]
		if !ok {
			t.Fatalf("distribution missing key %q", key)
		}
		if math.Abs(v-float64(probs[i])) > 1e-6 {
			t.Fatalf("distribution[%q] = %f, want %f", key, v, probs[i])
		}
		sum += v
	}
	if math.Abs(sum-1) > 1e-5 {
		t.Fatalf("distribution sums to %f, want about 1", sum)
	}
	if result.Confidence != result.Probabilities["4"] {
		t.Fatalf("confidence %f does not match distribution maximum %f", result.Confidence, result.Probabilities["4"])
	}
}

func TestPredictNoImage(t *testing.T) {
	service := NewPredictService(&fakeClassifier{loaded: true}, nil, nil)

	if _, err := service.Predict(context.Background(), PredictInput{}); !errors.Is(err, ErrNoImage) {
		t.Fatalf("Predict(empty input) error = %v, want ErrNoImage", err)
	}
	if _, err := service.Predict(context.Background(), PredictInput{ImageData: "   "}); !errors.Is(err, ErrNoImage) {
		t.Fatalf("Predict(blank image_data) error = %v, want ErrNoImage", err)
	}
}

func TestPredictDecodeFailure(t *testing.T) {
	service := NewPredictService(&fakeClassifier{loaded: true}, nil, nil)

	_, err := service.Predict(context.Background(), PredictInput{ImageBytes: []byte("junk")})
	if !errors.Is(err, imaging.ErrDecode) {
		t.Fatalf("Predict(junk bytes) error = %v, want imaging.ErrDecode", err)
	}
}

func TestPredictModelUnavailable(t *testing.T) {
	raw := testImageBytes(t)

	service := NewPredictService(nil, nil, nil)
	if _, err := service.Predict(context.Background(), PredictInput{ImageBytes: raw}); !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("Predict(nil classifier) error = %v, want ErrModelUnavailable", err)
	}

	broken := &fakeClassifier{err: fmt.Errorf("warm start: %w", mnist.ErrUnavailable)}
	service = NewPredictService(broken, nil, nil)
	if _, err := service.Predict(context.Background(), PredictInput{ImageBytes: raw}); !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("Predict(unavailable classifier) error = %v, want ErrModelUnavailable", err)
	}
}

func TestPredictRejectsShortModelOutput(t *testing.T) {
	service := NewPredictService(&fakeClassifier{probs: []float32{0.5, 0.5}, loaded: true}, nil, nil)

	if _, err := service.Predict(context.Background(), PredictInput{ImageBytes: testImageBytes(t)}); err == nil {
		t.Fatal("Predict accepted a 2-element model output")
	}
}

func TestPredictUsesResultCache(t *testing.T) {
	classifier := &fakeClassifier{
		probs:  []float32{0, 0, 0, 0, 0, 0, 0, 0, 0, 1},
		loaded: true,
	}
	resultCache := newMemCache()
	service := NewPredictService(classifier, resultCache, nil)

	raw := testImageBytes(t)
	first, err := service.Predict(context.Background(), PredictInput{ImageBytes: raw})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if classifier.calls != 1 {
		t.Fatalf("classifier calls = %d after first request, want 1", classifier.calls)
	}

	second, err := service.Predict(context.Background(), PredictInput{ImageBytes: raw})
	if err != nil {
		t.Fatalf("Predict (cached): %v", err)
	}
	if classifier.calls != 1 {
		t.Fatalf("classifier calls = %d after cached request, want still 1", classifier.calls)
	}
	if first.PredictedDigit != second.PredictedDigit || first.Confidence != second.Confidence {
		t.Fatal("cached result differs from computed result")
	}
}

func TestPredictPublishesRecord(t *testing.T) {
	publisher := &memPublisher{}
	service := NewPredictService(&fakeClassifier{
		probs:  []float32{0, 0, 0, 0, 0, 0, 0, 0.9, 0.05, 0.05},
		loaded: true,
	}, nil, publisher)

	if _, err := service.Predict(context.Background(), PredictInput{ImageBytes: testImageBytes(t), Source: "upload"}); err != nil {
		t.Fatalf("Predict: %v", err)
	}

	if len(publisher.records) != 1 {
		t.Fatalf("published %d records, want 1", len(publisher.records))
	}
	record := publisher.records[0]
	if record.Digit != 7 {
		t.Fatalf("record digit = %d, want 7", record.Digit)
	}
	if record.Source != "upload" {
		t.Fatalf("record source = %q, want upload", record.Source)
	}
	if record.RequestID == "" {
		t.Fatal("record has no request id")
	}
}

func TestModelLoaded(t *testing.T) {
	if NewPredictService(nil, nil, nil).ModelLoaded() {
		t.Fatal("ModelLoaded() = true with no classifier")
	}
	if NewPredictService(&fakeClassifier{loaded: false}, nil, nil).ModelLoaded() {
		t.Fatal("ModelLoaded() = true with unloaded classifier")
	}
	if !NewPredictService(&fakeClassifier{loaded: true}, nil, nil).ModelLoaded() {
		t.Fatal("ModelLoaded() = false with loaded classifier")
	}
}
