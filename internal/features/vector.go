// Package features turns a canonical RGB raster into the fixed-length vector
// the classifier was trained on: texture histogram, co-occurrence statistics
// and HSV color histogram, concatenated in that order.
package features

import (
	"fmt"
	"image"

	"golang.org/x/sync/errgroup"

	"github.com/example/fruitscan/internal/imageprep"
)

// VectorLen is the length of an assembled feature vector.
const VectorLen = TextureLen + CooccurrenceLen + ColorLen

// Vector is an assembled feature vector.
type Vector []float64

// Texture returns the local binary pattern histogram section.
func (v Vector) Texture() []float64 { return v[:TextureLen] }

// Cooccurrence returns the co-occurrence statistics section.
func (v Vector) Cooccurrence() []float64 {
	return v[TextureLen : TextureLen+CooccurrenceLen]
}

// Color returns the HSV histogram section.
func (v Vector) Color() []float64 { return v[TextureLen+CooccurrenceLen:] }

// ShapeMismatchError reports data whose dimensions differ from what the next
// stage expects.
type ShapeMismatchError struct {
	Stage string
	Want  int
	Got   int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("shape mismatch in %s: expected %d values, got %d", e.Stage, e.Want, e.Got)
}

// Options configures the extractor. The zero value reproduces the layout the
// bundled artifacts expect.
type Options struct {
	LBP       LBPOptions
	Order     CooccurrenceOrder
	ColorNorm ColorNorm
}

// Extractor computes feature vectors. It holds no mutable state and is safe
// for concurrent use.
type Extractor struct {
	opts Options
}

// NewExtractor returns an extractor using opts.
func NewExtractor(opts Options) *Extractor {
	return &Extractor{opts: opts}
}

// Options returns the extractor configuration.
func (e *Extractor) Options() Options { return e.opts }

// Extract builds the feature vector of a Size x Size raster.
func (e *Extractor) Extract(img *image.RGBA) (Vector, error) {
	b := img.Bounds()
	if b.Dx() != imageprep.Size || b.Dy() != imageprep.Size {
		return nil, &ShapeMismatchError{
			Stage: "features.extract",
			Want:  imageprep.Size * imageprep.Size,
			Got:   b.Dx() * b.Dy(),
		}
	}

	gray := Grayscale(img)

	var texture, cooccurrence, color []float64
	var g errgroup.Group
	g.Go(func() error {
		texture = LBP(gray, e.opts.LBP)
		return nil
	})
	g.Go(func() error {
		cooccurrence = GLCM(gray, e.opts.Order)
		return nil
	})
	g.Go(func() error {
		color = ColorHistogram(img, e.opts.ColorNorm)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return Assemble(texture, cooccurrence, color)
}

// Assemble concatenates the three descriptors after checking their lengths.
func Assemble(texture, cooccurrence, color []float64) (Vector, error) {
	parts := []struct {
		stage string
		want  int
		data  []float64
	}{
		{"features.texture", TextureLen, texture},
		{"features.cooccurrence", CooccurrenceLen, cooccurrence},
		{"features.color", ColorLen, color},
	}

	out := make(Vector, 0, VectorLen)
	for _, part := range parts {
		if len(part.data) != part.want {
			return nil, &ShapeMismatchError{Stage: part.stage, Want: part.want, Got: len(part.data)}
		}
		out = append(out, part.data...)
	}
	return out, nil
}
