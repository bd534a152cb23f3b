// Package imaging turns arbitrary uploaded images into the fixed
// (1, 28, 28, 1) grayscale tensor the digit model was trained on.
package imaging

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"strings"

	"github.com/nfnt/resize"
	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// ErrDecode reports an image payload that could not be decoded.
var ErrDecode = errors.New("image decode failed")

const (
	// Side is the edge length of the model input grid.
	Side = 28

	// foregroundThreshold is the 8-bit intensity above which a pixel
	// counts as part of the digit when locating the bounding box.
	foregroundThreshold = 50

	// squarePadding sizes the centered square canvas relative to the
	// larger bounding-box dimension, matching the margin statistics of
	// the training corpus.
	squarePadding = 1.2

	// blurSigma is the gaussian radius of the anti-aliasing pass applied
	// after resampling.
	blurSigma = 0.3
)

// Tensor is a normalized model input: shape (1, 28, 28, 1), values in [0, 1],
// digit foreground lighter than background.
type Tensor struct {
	Data  []float32
	Shape [4]int64
}

// Fingerprint returns a stable hex digest of the tensor contents, used to
// key the result cache.
func (t *Tensor) Fingerprint() string {
	h := sha256.New()
	var buf [4]byte
	for _, v := range t.Data {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
		h.Write(buf[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeBase64 decodes a base64 payload, with or without a browser-canvas
// data-URL prefix, and normalizes it.
func NormalizeBase64(payload string) (*Tensor, error) {
	payload = strings.TrimSpace(payload)
	if strings.HasPrefix(payload, "data:image") {
		if idx := strings.Index(payload, ","); idx >= 0 {
			payload = payload[idx+1:]
		}
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64 payload: %v", ErrDecode, err)
	}
	return Normalize(raw)
}

// Normalize converts raw image bytes into a model input tensor. Every step
// after decoding is deterministic and degrades gracefully: a blank image
// skips centering, and the smoothing pass never fails the pipeline. The
// result always has shape (1, 28, 28, 1) with values in [0, 1].
func Normalize(raw []byte) (*Tensor, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	gray := toGray(img)

	// Canvas drawings are light strokes on a dark background; scans tend
	// to be the opposite. Invert when the background is the bright side.
	if meanIntensity(gray) > 127 {
		invert(gray)
	}

	if box, ok := foregroundBox(gray); ok {
		gray = centerInSquare(gray, box)
	}

	resized := resize.Resize(Side, Side, gray, resize.Lanczos3)

	values := make([]float32, Side*Side)
	bounds := resized.Bounds()
	idx := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, _, _, _ := resized.At(x, y).RGBA()
			values[idx] = float32(r) / 65535.0
			idx++
		}
	}

	gaussianBlur(values, Side, Side, blurSigma)

	for i, v := range values {
		if v < 0 {
			values[i] = 0
		} else if v > 1 {
			values[i] = 1
		}
	}

	return &Tensor{Data: values, Shape: [4]int64{1, Side, Side, 1}}, nil
}

func toGray(img image.Image) *image.Gray {
	bounds := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			gray.Set(x-bounds.Min.X, y-bounds.Min.Y, color.GrayModel.Convert(img.At(x, y)))
		}
	}
	return gray
}

func meanIntensity(gray *image.Gray) float64 {
	bounds := gray.Bounds()
	total := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			total += int(gray.GrayAt(x, y).Y)
		}
	}
	count := bounds.Dx() * bounds.Dy()
	if count == 0 {
		return 0
	}
	return float64(total) / float64(count)
}

func invert(gray *image.Gray) {
	for i, v := range gray.Pix {
		gray.Pix[i] = 255 - v
	}
}

// foregroundBox returns the smallest rectangle enclosing all pixels above
// the foreground threshold. ok is false for a blank image.
func foregroundBox(gray *image.Gray) (image.Rectangle, bool) {
	bounds := gray.Bounds()
	minX, minY := bounds.Max.X, bounds.Max.Y
	maxX, maxY := bounds.Min.X-1, bounds.Min.Y-1

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if gray.GrayAt(x, y).Y > foregroundThreshold {
				if x < minX {
					minX = x
				}
				if x > maxX {
					maxX = x
				}
				if y < minY {
					minY = y
				}
				if y > maxY {
					maxY = y
				}
			}
		}
	}

	if maxX < minX || maxY < minY {
		return image.Rectangle{}, false
	}
	return image.Rect(minX, minY, maxX+1, maxY+1), true
}

// centerInSquare crops the digit to its bounding box and composites it into
// a black square sized to squarePadding times the larger box dimension.
func centerInSquare(gray *image.Gray, box image.Rectangle) *image.Gray {
	crop := gray.SubImage(box).(*image.Gray)

	longest := box.Dx()
	if box.Dy() > longest {
		longest = box.Dy()
	}
	side := int(float64(longest) * squarePadding)
	if side < longest {
		side = longest
	}

	square := image.NewGray(image.Rect(0, 0, side, side))
	xOffset := (side - box.Dx()) / 2
	yOffset := (side - box.Dy()) / 2
	dst := image.Rect(xOffset, yOffset, xOffset+box.Dx(), yOffset+box.Dy())
	draw.Draw(square, dst, crop, box.Min, draw.Src)
	return square
}

// gaussianBlur runs a small separable gaussian over the grid in place.
// A non-positive sigma disables the pass, which is the graceful-degradation
// path the pipeline guarantees for smoothing.
func gaussianBlur(values []float32, width, height int, sigma float64) {
	if sigma <= 0 || len(values) != width*height {
		return
	}

	radius := int(math.Ceil(3 * sigma))
	if radius < 1 {
		radius = 1
	}
	kernel := make([]float64, 2*radius+1)
	sum := 0.0
	for i := range kernel {
		d := float64(i - radius)
		kernel[i] = math.Exp(-d * d / (2 * sigma * sigma))
		sum += kernel[i]
	}
	for i := range kernel {
		kernel[i] /= sum
	}

	tmp := make([]float32, len(values))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			acc := 0.0
			for k := -radius; k <= radius; k++ {
				sx := clampInt(x+k, 0, width-1)
				acc += kernel[k+radius] * float64(values[y*width+sx])
			}
			tmp[y*width+x] = float32(acc)
		}
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			acc := 0.0
			for k := -radius; k <= radius; k++ {
				sy := clampInt(y+k, 0, height-1)
				acc += kernel[k+radius] * float64(tmp[sy*width+x])
			}
			values[y*width+x] = float32(acc)
		}
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
