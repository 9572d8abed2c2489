package inference

import (
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"gonum.org/v1/gonum/floats"

	"github.com/example/fruitscan/internal/features"
)

// ONNXOptions locates the runtime library and names the graph endpoints.
type ONNXOptions struct {
	LibraryPath string
	InputName   string
	OutputName  string
}

var onnxEnvMu sync.Mutex

// ONNXClassifier runs an exported classifier graph whose output is a
// [1, classes] probability tensor.
type ONNXClassifier struct {
	session    *ort.DynamicAdvancedSession
	inputName  string
	outputName string
	nFeat      int
	nClasses   int
}

// LoadONNX opens the model at path. nFeat and nClasses fix the tensor shapes.
func LoadONNX(path string, opts ONNXOptions, nFeat, nClasses int) (*ONNXClassifier, error) {
	if opts.InputName == "" || opts.OutputName == "" {
		return nil, errors.New("onnx input and output names are required")
	}
	if nFeat <= 0 || nClasses <= 0 {
		return nil, fmt.Errorf("invalid onnx shapes: %d features, %d classes", nFeat, nClasses)
	}
	if err := initONNXEnvironment(opts.LibraryPath); err != nil {
		return nil, err
	}
	session, err := ort.NewDynamicAdvancedSession(path, []string{opts.InputName}, []string{opts.OutputName}, nil)
	if err != nil {
		return nil, fmt.Errorf("create onnx session: %w", err)
	}
	return &ONNXClassifier{
		session:    session,
		inputName:  opts.InputName,
		outputName: opts.OutputName,
		nFeat:      nFeat,
		nClasses:   nClasses,
	}, nil
}

func initONNXEnvironment(libraryPath string) error {
	onnxEnvMu.Lock()
	defer onnxEnvMu.Unlock()
	if ort.IsInitialized() {
		return nil
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("initialize onnx runtime: %w", err)
	}
	return nil
}

// PredictProba implements ProbabilisticClassifier. Tensors are allocated per
// call so one session can serve concurrent requests.
func (c *ONNXClassifier) PredictProba(x []float64) ([]float64, error) {
	if len(x) != c.nFeat {
		return nil, &features.ShapeMismatchError{Stage: "inference.onnx_input", Want: c.nFeat, Got: len(x)}
	}
	data := make([]float32, len(x))
	for i, v := range x {
		data[i] = float32(v)
	}

	input, err := ort.NewTensor(ort.NewShape(1, int64(c.nFeat)), data)
	if err != nil {
		return nil, fmt.Errorf("create onnx input: %w", err)
	}
	defer input.Destroy()

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(c.nClasses)))
	if err != nil {
		return nil, fmt.Errorf("create onnx output: %w", err)
	}
	defer output.Destroy()

	if err := c.session.Run([]ort.ArbitraryTensor{input}, []ort.ArbitraryTensor{output}); err != nil {
		return nil, fmt.Errorf("onnx inference: %w", err)
	}

	raw := output.GetData()
	probs := make([]float64, len(raw))
	for i, v := range raw {
		probs[i] = float64(v)
	}
	return probs, nil
}

// PredictClass implements Classifier.
func (c *ONNXClassifier) PredictClass(x []float64) (int, error) {
	probs, err := c.PredictProba(x)
	if err != nil {
		return 0, err
	}
	return floats.MaxIdx(probs), nil
}

// Dim returns the expected input length.
func (c *ONNXClassifier) Dim() int { return c.nFeat }

// Close destroys the session.
func (c *ONNXClassifier) Close() error {
	if c.session == nil {
		return nil
	}
	return c.session.Destroy()
}
