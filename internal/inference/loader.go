package inference

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/example/fruitscan/internal/features"
)

// LoadConfig names the artifact files inside Dir.
type LoadConfig struct {
	Dir         string
	ModelFile   string
	ScalerFile  string
	EncoderFile string
	ONNX        ONNXOptions
}

// Load reads all three artifacts. Any failure is an *ArtifactLoadError; the
// artifacts are only usable together.
func Load(cfg LoadConfig) (*Engine, error) {
	encoderPath := filepath.Join(cfg.Dir, cfg.EncoderFile)
	labels, err := loadArtifact(encoderPath, "label encoder", DecodeLabelEncoding)
	if err != nil {
		return nil, err
	}

	scalerPath := filepath.Join(cfg.Dir, cfg.ScalerFile)
	scaler, err := loadArtifact(scalerPath, "scaler", DecodeScaler)
	if err != nil {
		return nil, err
	}

	modelPath := filepath.Join(cfg.Dir, cfg.ModelFile)
	var classifier Classifier
	if strings.EqualFold(filepath.Ext(modelPath), ".onnx") {
		if _, err := os.Stat(modelPath); err != nil {
			return nil, &ArtifactLoadError{Artifact: "classifier", Path: modelPath, Err: err}
		}
		onnxModel, err := LoadONNX(modelPath, cfg.ONNX, features.VectorLen, labels.Len())
		if err != nil {
			return nil, &ArtifactLoadError{Artifact: "classifier", Path: modelPath, Err: err}
		}
		classifier = onnxModel
	} else {
		classifier, err = loadArtifact(modelPath, "classifier", DecodeClassifier)
		if err != nil {
			return nil, err
		}
	}

	engine, err := NewEngine(scaler, classifier, labels)
	if err != nil {
		return nil, &ArtifactLoadError{Artifact: "engine", Path: cfg.Dir, Err: err}
	}
	return engine, nil
}

func loadArtifact[T any](path, artifact string, decode func([]byte) (T, error)) (T, error) {
	var zero T
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return zero, &ArtifactLoadError{Artifact: artifact, Path: path, Err: err}
	}
	value, err := decode(data)
	if err != nil {
		return zero, &ArtifactLoadError{Artifact: artifact, Path: path, Err: err}
	}
	return value, nil
}

// Provider loads the artifacts at most once, however many goroutines ask.
type Provider struct {
	cfg    LoadConfig
	logger *zap.Logger

	once   sync.Once
	engine *Engine
	err    error
}

// NewProvider returns a provider that loads lazily from cfg.
func NewProvider(cfg LoadConfig, logger *zap.Logger) *Provider {
	return &Provider{cfg: cfg, logger: logger.Named("inference")}
}

// Engine returns the loaded engine or the load error.
func (p *Provider) Engine() (*Engine, error) {
	p.once.Do(p.load)
	return p.engine, p.err
}

func (p *Provider) load() {
	p.engine, p.err = Load(p.cfg)
	if p.err != nil {
		p.logger.Warn("model artifacts unavailable, running in placeholder mode",
			zap.String("model_dir", p.cfg.Dir), zap.Error(p.err))
		return
	}

	type dimensioned interface{ Dim() int }
	for name, artifact := range map[string]interface{}{"scaler": p.engine.scaler, "classifier": p.engine.classifier} {
		if d, ok := artifact.(dimensioned); ok && d.Dim() != features.VectorLen {
			p.logger.Warn("artifact dimension differs from feature vector length",
				zap.String("artifact", name), zap.Int("artifact_dim", d.Dim()), zap.Int("vector_len", features.VectorLen))
		}
	}
	p.logger.Info("model artifacts loaded",
		zap.String("model_dir", p.cfg.Dir),
		zap.Int("classes", p.engine.Classes()),
		zap.Bool("probabilistic", p.engine.Probabilistic()),
	)
}

// Close releases the engine if it was loaded.
func (p *Provider) Close() error {
	if p.engine == nil {
		return nil
	}
	if err := p.engine.Close(); err != nil {
		return fmt.Errorf("close inference engine: %w", err)
	}
	return nil
}
