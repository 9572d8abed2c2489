// Package inference scores feature vectors against pre-fitted scaler,
// classifier and label encoding artifacts.
package inference

import (
	"errors"
	"io"

	"gonum.org/v1/gonum/floats"

	"github.com/example/fruitscan/internal/features"
)

// Scaler applies a pre-fitted per-feature transform.
type Scaler interface {
	Transform(x []float64) ([]float64, error)
}

// Classifier maps a scaled vector to a class index.
type Classifier interface {
	PredictClass(x []float64) (int, error)
}

// ProbabilisticClassifier additionally exposes a distribution indexed by
// class index.
type ProbabilisticClassifier interface {
	Classifier
	PredictProba(x []float64) ([]float64, error)
}

// LabelEncoder maps class indices to composite labels.
type LabelEncoder interface {
	Label(index int) (string, error)
	Len() int
}

// Prediction is the outcome of scoring one vector.
type Prediction struct {
	Index      int
	Label      string
	Confidence float64
	// Probabilities is nil when the classifier only produces hard classes.
	Probabilities []float64
}

// Engine bundles the three artifacts. It is immutable once built and safe
// for concurrent use.
type Engine struct {
	scaler     Scaler
	classifier Classifier
	labels     LabelEncoder
}

// NewEngine wires pre-loaded artifacts together.
func NewEngine(scaler Scaler, classifier Classifier, labels LabelEncoder) (*Engine, error) {
	if scaler == nil || classifier == nil || labels == nil {
		return nil, errors.New("inference: scaler, classifier and label encoder are all required")
	}
	return &Engine{scaler: scaler, classifier: classifier, labels: labels}, nil
}

// Probabilistic reports whether predictions carry real confidences.
func (e *Engine) Probabilistic() bool {
	_, ok := e.classifier.(ProbabilisticClassifier)
	return ok
}

// Classes returns the number of labels known to the encoder.
func (e *Engine) Classes() int { return e.labels.Len() }

// Predict scales v, classifies it and decodes the label. Ties between equal
// probabilities resolve to the lowest class index.
func (e *Engine) Predict(v features.Vector) (*Prediction, error) {
	scaled, err := e.scaler.Transform(v)
	if err != nil {
		return nil, err
	}

	pred := &Prediction{}
	if pc, ok := e.classifier.(ProbabilisticClassifier); ok {
		probs, err := pc.PredictProba(scaled)
		if err != nil {
			return nil, err
		}
		if len(probs) == 0 {
			return nil, &features.ShapeMismatchError{Stage: "inference.predict_proba", Want: e.labels.Len(), Got: 0}
		}
		pred.Index = floats.MaxIdx(probs)
		pred.Confidence = probs[pred.Index]
		pred.Probabilities = probs
	} else {
		idx, err := e.classifier.PredictClass(scaled)
		if err != nil {
			return nil, err
		}
		pred.Index = idx
		pred.Confidence = 1.0
	}

	label, err := e.labels.Label(pred.Index)
	if err != nil {
		return nil, err
	}
	pred.Label = label
	return pred, nil
}

// Close releases native resources held by the classifier, if any.
func (e *Engine) Close() error {
	if closer, ok := e.classifier.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
