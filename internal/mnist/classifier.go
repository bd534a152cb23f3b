// Package mnist wraps the ONNX Runtime session for the trained digit CNN.
package mnist

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"mnist-serve/internal/imaging"
)

// ErrUnavailable reports that no usable model is loaded.
var ErrUnavailable = errors.New("model not available")

// ModelInfo describes the loaded model for the /model/info endpoint.
type ModelInfo struct {
	Path        string  `json:"path"`
	Summary     string  `json:"model_summary"`
	InputShape  []int64 `json:"input_shape"`
	OutputShape []int64 `json:"output_shape"`
	Classes     int     `json:"classes"`
}

// Classifier owns a lazily initialized ONNX session. The session and its
// tensors are created once and treated read-only afterwards; Run executes
// under the mutex because the bound input/output tensors are shared.
type Classifier struct {
	mu sync.Mutex

	modelPaths []string
	libPath    string

	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	info    ModelInfo
	inited  bool
}

// NewClassifier creates a classifier over the first existing of modelPaths.
// Nothing is loaded until Warmup or the first Predict.
func NewClassifier(modelPaths []string, onnxLibPath string) *Classifier {
	return &Classifier{
		modelPaths: modelPaths,
		libPath:    onnxLibPath,
	}
}

// Warmup eagerly initializes the session. A missing model file is reported
// as ErrUnavailable so callers can log and keep serving in degraded mode.
func (c *Classifier) Warmup() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureLocked()
}

// Loaded reports whether a session is ready, without triggering a load.
func (c *Classifier) Loaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inited
}

// Info returns the loaded model's shape summary.
func (c *Classifier) Info() (ModelInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLocked(); err != nil {
		return ModelInfo{}, err
	}
	return c.info, nil
}

// Predict runs one synchronous inference over the normalized tensor and
// returns the raw 10-element output vector.
func (c *Classifier) Predict(ctx context.Context, t *imaging.Tensor) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLocked(); err != nil {
		return nil, err
	}

	inData := c.input.GetData()
	if len(inData) != len(t.Data) {
		return nil, fmt.Errorf("input tensor size %d, normalized image has %d values", len(inData), len(t.Data))
	}
	copy(inData, t.Data)

	if err := c.session.Run(); err != nil {
		return nil, fmt.Errorf("onnx run failed: %w", err)
	}

	outData := c.output.GetData()
	probs := make([]float32, len(outData))
	copy(probs, outData)
	return probs, nil
}

// Close releases the session and its tensors.
func (c *Classifier) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.inited {
		return
	}
	if c.input != nil {
		c.input.Destroy()
	}
	if c.output != nil {
		c.output.Destroy()
	}
	if c.session != nil {
		c.session.Destroy()
	}
	ort.DestroyEnvironment()
	c.inited = false
}

func (c *Classifier) ensureLocked() error {
	if c.inited {
		return nil
	}

	path := firstExisting(c.modelPaths)
	if path == "" {
		return fmt.Errorf("%w: no model file found in %v", ErrUnavailable, c.modelPaths)
	}

	if c.libPath != "" {
		ort.SetSharedLibraryPath(c.libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("%w: init onnx environment: %v", ErrUnavailable, err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return fmt.Errorf("%w: read model info: %v", ErrUnavailable, err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return fmt.Errorf("%w: model has no inputs or outputs", ErrUnavailable)
	}
	inputShape := inputs[0].Dimensions
	outputShape := outputs[0].Dimensions

	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return fmt.Errorf("%w: new input tensor: %v", ErrUnavailable, err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return fmt.Errorf("%w: new output tensor: %v", ErrUnavailable, err)
	}

	inputNames := make([]string, len(inputs))
	for i := range inputs {
		inputNames[i] = inputs[i].Name
	}
	outputNames := make([]string, len(outputs))
	for i := range outputs {
		outputNames[i] = outputs[i].Name
	}

	session, err := ort.NewAdvancedSession(path, inputNames, outputNames,
		[]ort.Value{inputTensor}, []ort.Value{outputTensor}, nil)
	if err != nil {
		outputTensor.Destroy()
		inputTensor.Destroy()
		return fmt.Errorf("%w: new session: %v", ErrUnavailable, err)
	}

	classes := 1
	for _, dim := range outputShape {
		if dim > 1 {
			classes = int(dim)
		}
	}

	c.session = session
	c.input = inputTensor
	c.output = outputTensor
	c.info = ModelInfo{
		Path:        path,
		Summary:     fmt.Sprintf("onnx cnn %s: input %v -> output %v", filepath.Base(path), inputShape, outputShape),
		InputShape:  append([]int64(nil), inputShape...),
		OutputShape: append([]int64(nil), outputShape...),
		Classes:     classes,
	}
	c.inited = true
	return nil
}

func firstExisting(paths []string) string {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
