package inference

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/example/fruitscan/internal/features"
)

// linearModel holds the fitted weights shared by the linear classifiers.
// With two classes the weights have a single row scoring the second class.
type linearModel struct {
	coef      *mat.Dense
	intercept *mat.VecDense
	// classes maps a decision column to its class index.
	classes []int
	nFeat   int
}

type logisticFile struct {
	MultiClass string      `json:"multi_class"`
	Coef       [][]float64 `json:"coef"`
	Intercept  []float64   `json:"intercept"`
	Classes    []int       `json:"classes"`
}

type svcFile struct {
	Coef      [][]float64 `json:"coef"`
	Intercept []float64   `json:"intercept"`
	Classes   []int       `json:"classes"`
}

func newLinearModel(coef [][]float64, intercept []float64, classes []int) (*linearModel, error) {
	rows := len(coef)
	if rows == 0 || len(coef[0]) == 0 {
		return nil, errors.New("linear model has no coefficients")
	}
	cols := len(coef[0])
	data := make([]float64, 0, rows*cols)
	for i, row := range coef {
		if len(row) != cols {
			return nil, fmt.Errorf("coefficient row %d has %d values, want %d", i, len(row), cols)
		}
		data = append(data, row...)
	}
	if intercept == nil {
		intercept = make([]float64, rows)
	}
	if len(intercept) != rows {
		return nil, fmt.Errorf("intercept has %d values, want %d", len(intercept), rows)
	}

	nClasses := rows
	if rows == 1 {
		nClasses = 2
	}
	if classes == nil {
		classes = make([]int, nClasses)
		for i := range classes {
			classes[i] = i
		}
	}
	if len(classes) != nClasses {
		return nil, fmt.Errorf("classes has %d entries, want %d", len(classes), nClasses)
	}
	seen := make(map[int]bool, len(classes))
	for _, c := range classes {
		if c < 0 || seen[c] {
			return nil, fmt.Errorf("classes must be unique non-negative indices, got %v", classes)
		}
		seen[c] = true
	}

	return &linearModel{
		coef:      mat.NewDense(rows, cols, data),
		intercept: mat.NewVecDense(rows, append([]float64(nil), intercept...)),
		classes:   append([]int(nil), classes...),
		nFeat:     cols,
	}, nil
}

func (m *linearModel) decision(x []float64) ([]float64, error) {
	if len(x) != m.nFeat {
		return nil, &features.ShapeMismatchError{Stage: "inference.classify", Want: m.nFeat, Got: len(x)}
	}
	rows, _ := m.coef.Dims()
	var z mat.VecDense
	z.MulVec(m.coef, mat.NewVecDense(len(x), x))
	z.AddVec(&z, m.intercept)
	out := make([]float64, rows)
	for i := range out {
		out[i] = z.AtVec(i)
	}
	return out, nil
}

// spread places per-column scores into a slice indexed by class index.
func (m *linearModel) spread(perColumn []float64) []float64 {
	size := 0
	for _, c := range m.classes {
		size = max(size, c+1)
	}
	out := make([]float64, size)
	for col, p := range perColumn {
		out[m.classes[col]] = p
	}
	return out
}

// Dim returns the expected input length.
func (m *linearModel) Dim() int { return m.nFeat }

// LogisticRegression is a probabilistic linear classifier.
type LogisticRegression struct {
	*linearModel
	multinomial bool
}

// NewLogisticRegression builds a logistic model. multinomial selects softmax
// over the decision scores; otherwise one-vs-rest sigmoids are renormalized.
func NewLogisticRegression(coef [][]float64, intercept []float64, classes []int, multinomial bool) (*LogisticRegression, error) {
	m, err := newLinearModel(coef, intercept, classes)
	if err != nil {
		return nil, err
	}
	return &LogisticRegression{linearModel: m, multinomial: multinomial}, nil
}

// PredictProba implements ProbabilisticClassifier.
func (l *LogisticRegression) PredictProba(x []float64) ([]float64, error) {
	z, err := l.decision(x)
	if err != nil {
		return nil, err
	}
	if len(z) == 1 {
		p := sigmoid(z[0])
		return l.spread([]float64{1 - p, p}), nil
	}
	if l.multinomial {
		return l.spread(softmax(z)), nil
	}
	probs := make([]float64, len(z))
	for i, v := range z {
		probs[i] = sigmoid(v)
	}
	if sum := floats.Sum(probs); sum > 0 {
		floats.Scale(1/sum, probs)
	}
	return l.spread(probs), nil
}

// PredictClass implements Classifier.
func (l *LogisticRegression) PredictClass(x []float64) (int, error) {
	probs, err := l.PredictProba(x)
	if err != nil {
		return 0, err
	}
	return floats.MaxIdx(probs), nil
}

// LinearSVC is a margin classifier without probability output.
type LinearSVC struct {
	*linearModel
}

// NewLinearSVC builds a linear support vector classifier.
func NewLinearSVC(coef [][]float64, intercept []float64, classes []int) (*LinearSVC, error) {
	m, err := newLinearModel(coef, intercept, classes)
	if err != nil {
		return nil, err
	}
	return &LinearSVC{linearModel: m}, nil
}

// PredictClass implements Classifier.
func (s *LinearSVC) PredictClass(x []float64) (int, error) {
	z, err := s.decision(x)
	if err != nil {
		return 0, err
	}
	if len(z) == 1 {
		if z[0] > 0 {
			return s.classes[1], nil
		}
		return s.classes[0], nil
	}
	return s.classes[floats.MaxIdx(z)], nil
}

// DecodeClassifier parses a JSON classifier artifact, dispatching on "type".
func DecodeClassifier(data []byte) (Classifier, error) {
	kind, err := artifactKind(data, "")
	if err != nil {
		return nil, fmt.Errorf("parse classifier: %w", err)
	}
	switch kind {
	case "logistic_regression":
		var file logisticFile
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse logistic regression: %w", err)
		}
		return NewLogisticRegression(file.Coef, file.Intercept, file.Classes, file.MultiClass != "ovr")
	case "linear_svc":
		var file svcFile
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse linear svc: %w", err)
		}
		return NewLinearSVC(file.Coef, file.Intercept, file.Classes)
	default:
		return nil, fmt.Errorf("unsupported classifier type %q", kind)
	}
}

func sigmoid(v float64) float64 {
	return 1 / (1 + math.Exp(-v))
}

func softmax(z []float64) []float64 {
	out := make([]float64, len(z))
	peak := floats.Max(z)
	for i, v := range z {
		out[i] = math.Exp(v - peak)
	}
	floats.Scale(1/floats.Sum(out), out)
	return out
}
