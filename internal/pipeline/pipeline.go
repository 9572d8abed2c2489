// Package pipeline is the entry point of the classifier: encoded photo in,
// parsed ripeness prediction out.
package pipeline

import (
	"errors"
	"fmt"
	"image"

	"go.uber.org/zap"

	"github.com/example/fruitscan/internal/features"
	"github.com/example/fruitscan/internal/imageprep"
	"github.com/example/fruitscan/internal/inference"
	"github.com/example/fruitscan/internal/label"
)

// Placeholder values returned while artifacts are unavailable.
const (
	PlaceholderFruit      = "Apple"
	PlaceholderLabel      = "RipeApple"
	PlaceholderConfidence = 0.8
)

// Result is the outcome of one prediction. Error is nil on success.
type Result struct {
	Fruit      string  `json:"fruit"`
	Label      string  `json:"label"`
	Ripeness   string  `json:"ripeness"`
	Confidence float64 `json:"confidence"`
	Error      *string `json:"error"`

	Placeholder bool `json:"-"`
}

// Options configures preparation and feature extraction.
type Options struct {
	Kernel   imageprep.Kernel
	Features features.Options
}

// Pipeline is built once at startup and shared by all requests. A nil engine
// puts it in placeholder mode.
type Pipeline struct {
	engine    *inference.Engine
	extractor *features.Extractor
	kernel    imageprep.Kernel
	logger    *zap.Logger
}

// New returns a pipeline over engine, which may be nil.
func New(engine *inference.Engine, opts Options, logger *zap.Logger) *Pipeline {
	kernel := opts.Kernel
	if kernel == "" {
		kernel = imageprep.KernelBilinear
	}
	return &Pipeline{
		engine:    engine,
		extractor: features.NewExtractor(opts.Features),
		kernel:    kernel,
		logger:    logger.Named("pipeline"),
	}
}

// Ready is true only when every artifact loaded.
func (p *Pipeline) Ready() bool { return p.engine != nil }

// PredictPayload decodes a base64 or data URL payload and predicts on it.
func (p *Pipeline) PredictPayload(payload string) (*Result, error) {
	data, err := imageprep.DecodePayload(payload)
	if err != nil {
		return p.fail(err), err
	}
	return p.Predict(data)
}

// Predict classifies encoded image bytes. The returned result is never nil:
// on failure it reports an Unknown fruit with zero confidence alongside err.
func (p *Pipeline) Predict(data []byte) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("prediction aborted: %v", r)
			p.logger.Error("prediction panicked", zap.Any("panic", r), zap.Stack("stack"))
			res = p.fail(err)
		}
	}()

	img, err := imageprep.Decode(data)
	if err != nil {
		return p.fail(err), err
	}
	if p.engine == nil {
		return placeholder(), nil
	}

	vec, err := p.extract(img)
	if err != nil {
		return p.fail(err), err
	}

	pred, err := p.engine.Predict(vec)
	if err != nil {
		return p.fail(err), err
	}

	ripeness, fruit := label.Parse(pred.Label)
	return &Result{
		Fruit:      fruit,
		Label:      pred.Label,
		Ripeness:   ripeness,
		Confidence: pred.Confidence,
	}, nil
}

// Extract returns the feature vector of encoded image bytes.
func (p *Pipeline) Extract(data []byte) (features.Vector, error) {
	img, err := imageprep.Decode(data)
	if err != nil {
		return nil, err
	}
	return p.extract(img)
}

func (p *Pipeline) extract(img image.Image) (features.Vector, error) {
	raster, err := imageprep.Normalize(img, p.kernel)
	if err != nil {
		return nil, err
	}
	return p.extractor.Extract(raster)
}

func (p *Pipeline) fail(err error) *Result {
	var shapeErr *ShapeMismatchError
	switch {
	case errors.As(err, &shapeErr):
		opts := p.extractor.Options()
		p.logger.Error("feature shape mismatch",
			zap.String("stage", shapeErr.Stage),
			zap.Int("expected", shapeErr.Want),
			zap.Int("actual", shapeErr.Got),
			zap.Int("vector_len", features.VectorLen),
			zap.Stringer("cooccurrence_order", opts.Order),
			zap.Stringer("color_norm", opts.ColorNorm),
			zap.Bool("lbp_pad_border", opts.LBP.PadBorder),
		)
	case IsInputError(err):
		p.logger.Debug("rejected undecodable image", zap.Error(err))
	default:
		p.logger.Error("prediction failed", zap.Error(err))
	}

	return FailureResult(err)
}

// FailureResult is the result reported alongside err.
func FailureResult(err error) *Result {
	msg := err.Error()
	return &Result{
		Fruit:    label.Unknown,
		Label:    label.Unknown,
		Ripeness: label.Unknown,
		Error:    &msg,
	}
}

func placeholder() *Result {
	msg := ErrModelNotLoaded.Error()
	ripeness, _ := label.Parse(PlaceholderLabel)
	return &Result{
		Fruit:       PlaceholderFruit,
		Label:       PlaceholderLabel,
		Ripeness:    ripeness,
		Confidence:  PlaceholderConfidence,
		Error:       &msg,
		Placeholder: true,
	}
}
