package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"

	"mnist-serve/internal/imaging"
	"mnist-serve/internal/mnist"
	"mnist-serve/internal/model"
)

var (
	ErrNoImage          = errors.New("no image provided")
	ErrModelUnavailable = errors.New("model not loaded")
)

const classCount = 10

// DigitClassifier is the inference collaborator. The production
// implementation is *mnist.Classifier.
type DigitClassifier interface {
	Predict(ctx context.Context, t *imaging.Tensor) ([]float32, error)
	Loaded() bool
}

// ResultCache caches finished predictions keyed by tensor fingerprint.
type ResultCache interface {
	Get(ctx context.Context, key string) (*PredictionResult, bool, error)
	Set(ctx context.Context, key string, result *PredictionResult) error
}

// RecordPublisher hands prediction records to the async persistence pipeline.
type RecordPublisher interface {
	Publish(ctx context.Context, record model.PredictionRecord) error
}

// PredictionResult is the wire-format prediction body.
type PredictionResult struct {
	PredictedDigit int                `json:"predicted_digit"`
	Confidence     float64            `json:"confidence"`
	Probabilities  map[string]float64 `json:"probabilities"`
}

// PredictInput carries exactly one image source: raw upload bytes or a
// base64 (optionally data-URL) payload.
type PredictInput struct {
	ImageBytes []byte
	ImageData  string
	Source     string
}

type PredictService struct {
	classifier DigitClassifier
	cache      ResultCache
	publisher  RecordPublisher
}

// NewPredictService wires the classifier with optional cache and publisher;
// either may be nil and the predict path works without them.
func NewPredictService(classifier DigitClassifier, cache ResultCache, publisher RecordPublisher) *PredictService {
	return &PredictService{
		classifier: classifier,
		cache:      cache,
		publisher:  publisher,
	}
}

// Predict normalizes the input image, runs inference and builds the
// response. The predicted digit is the index of the first occurrence of the
// maximum probability: ties break to the lowest index, as a deliberate
// deterministic policy. Cache and history failures never fail the request.
func (s *PredictService) Predict(ctx context.Context, input PredictInput) (*PredictionResult, error) {
	var (
		tensor *imaging.Tensor
		err    error
	)
	switch {
	case len(input.ImageBytes) > 0:
		tensor, err = imaging.Normalize(input.ImageBytes)
	case strings.TrimSpace(input.ImageData) != "":
		tensor, err = imaging.NormalizeBase64(input.ImageData)
	default:
		return nil, ErrNoImage
	}
	if err != nil {
		return nil, err
	}

	if s.classifier == nil {
		return nil, ErrModelUnavailable
	}

	key := tensor.Fingerprint()
	if s.cache != nil {
		if cached, hit, cacheErr := s.cache.Get(ctx, key); cacheErr == nil && hit {
			return cached, nil
		}
	}

	started := time.Now()
	probs, err := s.classifier.Predict(ctx, tensor)
	if err != nil {
		if errors.Is(err, mnist.ErrUnavailable) {
			return nil, ErrModelUnavailable
		}
		return nil, fmt.Errorf("prediction failed: %w", err)
	}

	result, err := buildResult(probs)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if cacheErr := s.cache.Set(ctx, key, result); cacheErr != nil {
			log.Printf("cache prediction result failed: %v", cacheErr)
		}
	}
	if s.publisher != nil {
		record := model.PredictionRecord{
			RequestID:  uuid.NewString(),
			Digit:      result.PredictedDigit,
			Confidence: result.Confidence,
			Source:     input.Source,
			LatencyMS:  time.Since(started).Milliseconds(),
			CreatedAt:  time.Now(),
		}
		if pubErr := s.publisher.Publish(ctx, record); pubErr != nil {
			log.Printf("publish prediction record failed: %v", pubErr)
		}
	}

	return result, nil
}

// ModelLoaded reports whether the classifier is ready to serve.
func (s *PredictService) ModelLoaded() bool {
	return s.classifier != nil && s.classifier.Loaded()
}

func buildResult(probs []float32) (*PredictionResult, error) {
	if len(probs) < classCount {
		return nil, fmt.Errorf("model returned %d outputs, want %d", len(probs), classCount)
	}

	values := make([]float64, classCount)
	for i := range values {
		values[i] = float64(probs[i])
	}

	// MaxIdx returns the first index holding the maximum, which is
	// exactly the documented tie-break.
	best := floats.MaxIdx(values)

	distribution := make(map[string]float64, classCount)
	for i, v := range values {
		distribution[strconv.Itoa(i)] = v
	}

	return &PredictionResult{
		PredictedDigit: best,
		Confidence:     values[best],
		Probabilities:  distribution,
	}, nil
}
