package pipeline

import (
	"errors"

	"github.com/example/fruitscan/internal/features"
	"github.com/example/fruitscan/internal/imageprep"
	"github.com/example/fruitscan/internal/inference"
)

// Error kinds surfaced by the pipeline.
type (
	DecodeError        = imageprep.DecodeError
	ShapeMismatchError = features.ShapeMismatchError
	ArtifactLoadError  = inference.ArtifactLoadError
)

// ErrModelNotLoaded marks placeholder results.
var ErrModelNotLoaded = errors.New("model not loaded")

// IsInputError reports whether err was caused by the caller's payload rather
// than by the service.
func IsInputError(err error) bool {
	var decodeErr *DecodeError
	return errors.As(err, &decodeErr)
}
