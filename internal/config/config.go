package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"

	"github.com/example/fruitscan/internal/features"
	"github.com/example/fruitscan/internal/imageprep"
	"github.com/example/fruitscan/internal/inference"
	"github.com/example/fruitscan/internal/pipeline"
)

// Config holds every runtime setting of the service. Field tags name the
// environment variable that overrides the default.
type Config struct {
	HTTPAddr        string        `env:"HTTP_ADDR"`
	GRPCHealthAddr  string        `env:"GRPC_HEALTH_ADDR"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT"`
	MaxUploadBytes  int64         `env:"MAX_UPLOAD_BYTES"`
	RateLimit       string        `env:"RATE_LIMIT"`

	ModelDir       string `env:"MODEL_DIR"`
	ModelFile      string `env:"MODEL_FILE"`
	ScalerFile     string `env:"SCALER_FILE"`
	EncoderFile    string `env:"ENCODER_FILE"`
	ONNXRuntimeLib string `env:"ONNXRUNTIME_LIB"`
	ONNXInputName  string `env:"ONNX_INPUT_NAME"`
	ONNXOutputName string `env:"ONNX_OUTPUT_NAME"`

	ResizeKernel string `env:"RESIZE_KERNEL"`
	LBPPadBorder bool   `env:"LBP_PAD_BORDER"`
	GLCMOrder    string `env:"GLCM_ORDER"`
	ColorNorm    string `env:"COLOR_NORM"`

	DatabaseDSN string        `env:"DATABASE_DSN"`
	RedisAddr   string        `env:"REDIS_ADDR"`
	CacheTTL    time.Duration `env:"CACHE_TTL"`

	JWTSecret   string        `env:"JWT_SECRET"`
	JWTAudience string        `env:"JWT_AUDIENCE"`
	TokenTTL    time.Duration `env:"TOKEN_TTL"`

	LogLevel string `env:"LOG_LEVEL"`
	LogFile  string `env:"LOG_FILE"`
}

// Default returns the configuration used when no variable is set.
func Default() Config {
	return Config{
		HTTPAddr:        ":8080",
		GRPCHealthAddr:  ":8081",
		ShutdownTimeout: 15 * time.Second,
		MaxUploadBytes:  10 << 20,
		RateLimit:       "20-S",

		ModelDir:       "best_model_traditionalML",
		ModelFile:      "best_model.json",
		ScalerFile:     "scaler.json",
		EncoderFile:    "label_encoder.json",
		ONNXInputName:  "float_input",
		ONNXOutputName: "probabilities",

		ResizeKernel: "bilinear",
		GLCMOrder:    "property-major",
		ColorNorm:    "l2",

		CacheTTL: 10 * time.Minute,

		JWTSecret: DevJWTSecret,
		TokenTTL:  7 * 24 * time.Hour,

		LogLevel: "info",
	}
}

// DevJWTSecret is the signing key used when JWT_SECRET is unset. It is
// refused once accounts are enabled through DATABASE_DSN.
const DevJWTSecret = "dev-secret"

// Load reads the process environment on top of Default.
func Load() (Config, error) {
	return FromEnviron(os.Environ())
}

// FromEnviron decodes KEY=VALUE pairs on top of Default. Empty values are
// treated as unset, matching the fallback semantics of getEnv.
func FromEnviron(environ []string) (Config, error) {
	cfg := Default()

	values := make(map[string]interface{})
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || value == "" {
			continue
		}
		values[key] = value
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "env",
		WeaklyTypedInput: true,
		Result:           &cfg,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return Config{}, err
	}
	if err := decoder.Decode(values); err != nil {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that cannot be repaired by a default.
func (c Config) Validate() error {
	if _, err := imageprep.ParseKernel(c.ResizeKernel); err != nil {
		return fmt.Errorf("RESIZE_KERNEL: %w", err)
	}
	if _, err := features.ParseCooccurrenceOrder(c.GLCMOrder); err != nil {
		return fmt.Errorf("GLCM_ORDER: %w", err)
	}
	if _, err := features.ParseColorNorm(c.ColorNorm); err != nil {
		return fmt.Errorf("COLOR_NORM: %w", err)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", c.MaxUploadBytes)
	}
	if c.ModelDir == "" {
		return fmt.Errorf("MODEL_DIR must not be empty")
	}
	if c.DatabaseDSN != "" && (c.JWTSecret == "" || c.JWTSecret == DevJWTSecret) {
		return fmt.Errorf("JWT_SECRET must be set to a private value when DATABASE_DSN is configured")
	}
	return nil
}

// PipelineOptions translates the preprocessing settings.
func (c Config) PipelineOptions() (pipeline.Options, error) {
	kernel, err := imageprep.ParseKernel(c.ResizeKernel)
	if err != nil {
		return pipeline.Options{}, err
	}
	order, err := features.ParseCooccurrenceOrder(c.GLCMOrder)
	if err != nil {
		return pipeline.Options{}, err
	}
	norm, err := features.ParseColorNorm(c.ColorNorm)
	if err != nil {
		return pipeline.Options{}, err
	}
	return pipeline.Options{
		Kernel: kernel,
		Features: features.Options{
			LBP:       features.LBPOptions{PadBorder: c.LBPPadBorder},
			Order:     order,
			ColorNorm: norm,
		},
	}, nil
}

// Artifacts describes where the model artifacts live.
func (c Config) Artifacts() inference.LoadConfig {
	return inference.LoadConfig{
		Dir:         c.ModelDir,
		ModelFile:   c.ModelFile,
		ScalerFile:  c.ScalerFile,
		EncoderFile: c.EncoderFile,
		ONNX: inference.ONNXOptions{
			LibraryPath: c.ONNXRuntimeLib,
			InputName:   c.ONNXInputName,
			OutputName:  c.ONNXOutputName,
		},
	}
}
