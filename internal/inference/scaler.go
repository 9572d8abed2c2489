package inference

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"gonum.org/v1/gonum/floats"

	"github.com/example/fruitscan/internal/features"
)

// StandardScaler computes (x - mean) / scale.
type StandardScaler struct {
	mean  []float64
	scale []float64
}

// MinMaxScaler computes x*scale + min.
type MinMaxScaler struct {
	min   []float64
	scale []float64
}

type standardScalerFile struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

type minMaxScalerFile struct {
	Min   []float64 `json:"min"`
	Scale []float64 `json:"scale"`
}

// NewStandardScaler builds a standard scaler. A nil mean means no centering
// and a nil scale means unit variance; zero scales are treated as 1.
func NewStandardScaler(mean, scale []float64) (*StandardScaler, error) {
	n := max(len(mean), len(scale))
	if n == 0 {
		return nil, errors.New("standard scaler has no parameters")
	}
	if mean == nil {
		mean = make([]float64, n)
	}
	if scale == nil {
		scale = ones(n)
	}
	if len(mean) != len(scale) {
		return nil, fmt.Errorf("standard scaler mean has %d values but scale has %d", len(mean), len(scale))
	}
	s := &StandardScaler{mean: append([]float64(nil), mean...), scale: append([]float64(nil), scale...)}
	for i, v := range s.scale {
		if v == 0 {
			s.scale[i] = 1
		}
	}
	return s, nil
}

// Transform implements Scaler.
func (s *StandardScaler) Transform(x []float64) ([]float64, error) {
	if len(x) != len(s.mean) {
		return nil, &features.ShapeMismatchError{Stage: "inference.scale", Want: len(s.mean), Got: len(x)}
	}
	out := append([]float64(nil), x...)
	floats.Sub(out, s.mean)
	floats.Div(out, s.scale)
	return out, nil
}

// Dim returns the expected input length.
func (s *StandardScaler) Dim() int { return len(s.mean) }

// NewMinMaxScaler builds a min-max scaler from fitted offsets and factors.
func NewMinMaxScaler(minimum, scale []float64) (*MinMaxScaler, error) {
	if len(minimum) == 0 || len(minimum) != len(scale) {
		return nil, fmt.Errorf("min-max scaler needs equal non-empty min and scale, got %d and %d", len(minimum), len(scale))
	}
	return &MinMaxScaler{min: append([]float64(nil), minimum...), scale: append([]float64(nil), scale...)}, nil
}

// Transform implements Scaler.
func (s *MinMaxScaler) Transform(x []float64) ([]float64, error) {
	if len(x) != len(s.min) {
		return nil, &features.ShapeMismatchError{Stage: "inference.scale", Want: len(s.min), Got: len(x)}
	}
	out := append([]float64(nil), x...)
	floats.Mul(out, s.scale)
	floats.Add(out, s.min)
	return out, nil
}

// Dim returns the expected input length.
func (s *MinMaxScaler) Dim() int { return len(s.min) }

// DecodeScaler parses a scaler artifact, dispatching on its "type" field.
// A missing type means "standard".
func DecodeScaler(data []byte) (Scaler, error) {
	kind, err := artifactKind(data, "standard")
	if err != nil {
		return nil, fmt.Errorf("parse scaler: %w", err)
	}
	switch kind {
	case "standard":
		var file standardScalerFile
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse standard scaler: %w", err)
		}
		return NewStandardScaler(file.Mean, file.Scale)
	case "minmax":
		var file minMaxScalerFile
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse minmax scaler: %w", err)
		}
		return NewMinMaxScaler(file.Min, file.Scale)
	default:
		return nil, fmt.Errorf("unsupported scaler type %q", kind)
	}
}

// artifactKind reads the "type" discriminator of a JSON artifact. A missing
// type yields fallback; an empty fallback makes the type mandatory.
func artifactKind(data []byte, fallback string) (string, error) {
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return "", errors.New("artifact is not a JSON object")
	}
	kind := root.Get("type")
	switch {
	case !kind.Exists() && fallback != "":
		return fallback, nil
	case !kind.Exists():
		return "", errors.New(`artifact has no "type" field`)
	case kind.Type != gjson.String:
		return "", fmt.Errorf(`artifact "type" must be a string, got %s`, kind.Raw)
	default:
		return kind.Str, nil
	}
}

func ones(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}
