package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/fruitscan/internal/imageprep"
	"github.com/example/fruitscan/internal/logging"
	"github.com/example/fruitscan/internal/pipeline"
)

// DefaultCacheTTL bounds how long a cached prediction is reused.
const DefaultCacheTTL = 10 * time.Minute

// Predictor is the classification pipeline.
type Predictor interface {
	Predict(data []byte) (*pipeline.Result, error)
	Ready() bool
}

// PredictionUseCase wraps the pipeline with request correlation and a
// content-addressed result cache.
type PredictionUseCase struct {
	predictor Predictor
	cache     Cache
	ttl       time.Duration
	logger    *zap.Logger
	retry     redisRetry
}

// NewPredictionUseCase constructs a new use case instance. A nil cache
// disables caching.
func NewPredictionUseCase(predictor Predictor, cache Cache, ttl time.Duration, logger *zap.Logger) *PredictionUseCase {
	if cache == nil {
		cache = NopCache{}
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	logger = logger.Named("prediction_usecase")
	return &PredictionUseCase{
		predictor: predictor,
		cache:     cache,
		ttl:       ttl,
		logger:    logger,
		retry:     defaultRedisRetry(logger),
	}
}

// Ready reports whether predictions come from loaded artifacts.
func (uc *PredictionUseCase) Ready() bool {
	return uc.predictor.Ready()
}

// PredictPayload decodes a base64 or data URL payload and classifies it.
func (uc *PredictionUseCase) PredictPayload(ctx context.Context, payload string) (string, *pipeline.Result, error) {
	requestID := requestIDFrom(ctx)
	data, err := imageprep.DecodePayload(payload)
	if err != nil {
		logging.WithOperation(uc.logger, "usecase.decode_payload", requestID).Debug("rejected payload", zap.Error(err))
		return requestID, pipeline.FailureResult(err), logging.NewOperationError("usecase.decode_payload", requestID, err)
	}
	return uc.predict(ctx, requestID, data)
}

// Predict classifies encoded image bytes. The returned result is never nil.
func (uc *PredictionUseCase) Predict(ctx context.Context, data []byte) (string, *pipeline.Result, error) {
	return uc.predict(ctx, requestIDFrom(ctx), data)
}

func (uc *PredictionUseCase) predict(ctx context.Context, requestID string, data []byte) (string, *pipeline.Result, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.predict", requestID)

	hash := sha1.Sum(data)
	cacheKey := "prediction:" + hex.EncodeToString(hash[:])

	ready := uc.predictor.Ready()
	if ready {
		if cached, ok := uc.lookup(ctx, requestID, cacheKey); ok {
			opLogger.Debug("prediction served from cache", zap.String("cache_key", cacheKey))
			return requestID, cached, nil
		}
	}

	start := time.Now()
	result, err := uc.predictor.Predict(data)
	if err != nil {
		wrapped := logging.NewOperationError("pipeline.predict", requestID, err)
		if pipeline.IsInputError(err) {
			opLogger.Info("image rejected", zap.Error(err))
		} else {
			opLogger.Error("prediction failed", zap.Error(wrapped))
		}
		return requestID, result, wrapped
	}
	opLogger.Info("prediction completed",
		zap.String("label", result.Label),
		zap.Float64("confidence", result.Confidence),
		zap.Bool("placeholder", result.Placeholder),
		zap.Duration("latency", time.Since(start)),
	)

	if ready && !result.Placeholder && result.Error == nil {
		uc.store(ctx, requestID, cacheKey, result)
	}
	return requestID, result, nil
}

func (uc *PredictionUseCase) lookup(ctx context.Context, requestID, key string) (*pipeline.Result, bool) {
	var raw string
	err := uc.retry.do(ctx, requestID, "cache.get.prediction", func() error {
		value, err := uc.cache.Get(ctx, key)
		if err != nil {
			return err
		}
		raw = value
		return nil
	})
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logging.WithOperation(uc.logger, "cache.get.prediction", requestID).Warn("failed to read cache", zap.Error(err))
		}
		return nil, false
	}

	var result pipeline.Result
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		logging.WithOperation(uc.logger, "cache.get.prediction", requestID).Warn("failed to decode cached result", zap.Error(err))
		return nil, false
	}
	return &result, true
}

func (uc *PredictionUseCase) store(ctx context.Context, requestID, key string, result *pipeline.Result) {
	serialized, err := json.Marshal(result)
	if err != nil {
		logging.WithOperation(uc.logger, "cache.set.prediction", requestID).Warn("failed to serialize result", zap.Error(err))
		return
	}
	if err := uc.retry.do(ctx, requestID, "cache.set.prediction", func() error {
		return uc.cache.Set(ctx, key, string(serialized), uc.ttl)
	}); err != nil {
		logging.WithOperation(uc.logger, "cache.set.prediction", requestID).Warn("failed to cache result", zap.Error(err))
	}
}

func requestIDFrom(ctx context.Context) string {
	if id := logging.RequestIDFromContext(ctx); id != "" {
		return id
	}
	return uuid.NewString()
}
