package usecase

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/fruitscan/internal/imageprep"
	"github.com/example/fruitscan/internal/logging"
	"github.com/example/fruitscan/internal/pipeline"
)

type stubCache struct {
	setErrs   []error
	getErrs   []error
	getValues []string
	setKeys   []string
	getKeys   []string
	setValues []interface{}
}

func (s *stubCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	s.setKeys = append(s.setKeys, key)
	s.setValues = append(s.setValues, value)
	if len(s.setErrs) == 0 {
		return nil
	}
	err := s.setErrs[0]
	s.setErrs = s.setErrs[1:]
	return err
}

func (s *stubCache) Get(ctx context.Context, key string) (string, error) {
	s.getKeys = append(s.getKeys, key)
	var value string
	if len(s.getValues) > 0 {
		value = s.getValues[0]
		s.getValues = s.getValues[1:]
	}
	var err error
	if len(s.getErrs) > 0 {
		err = s.getErrs[0]
		s.getErrs = s.getErrs[1:]
	}
	return value, err
}

type stubPredictor struct {
	ready  bool
	result *pipeline.Result
	err    error
	calls  int
	inputs [][]byte
}

func (s *stubPredictor) Ready() bool { return s.ready }

func (s *stubPredictor) Predict(data []byte) (*pipeline.Result, error) {
	s.calls++
	s.inputs = append(s.inputs, data)
	if s.err != nil {
		return pipeline.FailureResult(s.err), s.err
	}
	return s.result, nil
}

type transientRedisError struct{}

func (transientRedisError) Error() string   { return "redis transient" }
func (transientRedisError) Timeout() bool   { return true }
func (transientRedisError) Temporary() bool { return true }

func newTestPredictionUseCase(p Predictor, cache Cache) *PredictionUseCase {
	uc := NewPredictionUseCase(p, cache, time.Minute, zap.NewNop())
	uc.retry.initialBackoff = time.Millisecond
	uc.retry.maxBackoff = 2 * time.Millisecond
	return uc
}

func TestPredictCachesSuccessfulResult(t *testing.T) {
	cache := &stubCache{getErrs: []error{redis.Nil}}
	predictor := &stubPredictor{ready: true, result: &pipeline.Result{Fruit: "Apple", Label: "RipeApple", Ripeness: "Ripe", Confidence: 0.93}}
	uc := newTestPredictionUseCase(predictor, cache)

	ctx := logging.ContextWithRequestID(context.Background(), "req-1")
	requestID, res, err := uc.Predict(ctx, []byte("image"))
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if requestID != "req-1" {
		t.Fatalf("expected request id from context, got %q", requestID)
	}
	if res.Label != "RipeApple" {
		t.Fatalf("unexpected result %+v", res)
	}

	// sha1("image")
	const key = "prediction:0e76292794888d4f1fa75fb3aff4ca27c58f56a6"
	if len(cache.getKeys) != 1 || cache.getKeys[0] != key {
		t.Fatalf("unexpected cache lookup keys %v", cache.getKeys)
	}
	if len(cache.setKeys) != 1 || cache.setKeys[0] != cache.getKeys[0] {
		t.Fatalf("expected result cached under lookup key, got %v", cache.setKeys)
	}
	if !strings.Contains(cache.setValues[0].(string), `"label":"RipeApple"`) {
		t.Fatalf("unexpected cached payload %v", cache.setValues[0])
	}
}

func TestPredictServesCacheHit(t *testing.T) {
	cache := &stubCache{getValues: []string{`{"fruit":"Banana","label":"RottenBanana","ripeness":"Rotten","confidence":0.7,"error":null}`}}
	predictor := &stubPredictor{ready: true}
	uc := newTestPredictionUseCase(predictor, cache)

	_, res, err := uc.Predict(context.Background(), []byte("image"))
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if predictor.calls != 0 {
		t.Fatalf("expected pipeline to be skipped, got %d calls", predictor.calls)
	}
	if res.Fruit != "Banana" || res.Confidence != 0.7 || res.Error != nil {
		t.Fatalf("unexpected cached result %+v", res)
	}
}

func TestPredictRetriesTransientCacheErrors(t *testing.T) {
	cache := &stubCache{getErrs: []error{transientRedisError{}, redis.Nil}}
	predictor := &stubPredictor{ready: true, result: &pipeline.Result{Fruit: "Apple", Label: "RipeApple"}}
	uc := newTestPredictionUseCase(predictor, cache)

	if _, _, err := uc.Predict(context.Background(), []byte("image")); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if len(cache.getKeys) != 2 || cache.getKeys[0] != cache.getKeys[1] {
		t.Fatalf("expected retry against same key, got %v", cache.getKeys)
	}
}

func TestPredictIgnoresCacheFailures(t *testing.T) {
	cache := &stubCache{getErrs: []error{errors.New("connection refused")}, setErrs: []error{errors.New("read only replica")}}
	predictor := &stubPredictor{ready: true, result: &pipeline.Result{Fruit: "Apple", Label: "RipeApple"}}
	uc := newTestPredictionUseCase(predictor, cache)

	_, res, err := uc.Predict(context.Background(), []byte("image"))
	if err != nil {
		t.Fatalf("cache failures must not fail predictions: %v", err)
	}
	if res.Fruit != "Apple" || predictor.calls != 1 {
		t.Fatalf("unexpected result %+v after %d calls", res, predictor.calls)
	}
}

func TestPredictSkipsCacheForPlaceholder(t *testing.T) {
	msg := "model not loaded"
	cache := &stubCache{}
	predictor := &stubPredictor{result: &pipeline.Result{Fruit: "Apple", Label: "RipeApple", Confidence: 0.8, Error: &msg, Placeholder: true}}
	uc := newTestPredictionUseCase(predictor, cache)

	_, res, err := uc.Predict(context.Background(), []byte("image"))
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if !res.Placeholder {
		t.Fatalf("expected placeholder result, got %+v", res)
	}
	if len(cache.getKeys) != 0 || len(cache.setKeys) != 0 {
		t.Fatalf("expected cache untouched, got gets %v sets %v", cache.getKeys, cache.setKeys)
	}
}

func TestPredictReturnsOperationErrorOnPipelineFailure(t *testing.T) {
	cache := &stubCache{getErrs: []error{redis.Nil}}
	predictor := &stubPredictor{ready: true, err: &imageprep.DecodeError{Reason: "unsupported or corrupt image"}}
	uc := newTestPredictionUseCase(predictor, cache)

	_, res, err := uc.Predict(context.Background(), []byte("junk"))
	var opErr *logging.OperationError
	if !errors.As(err, &opErr) || opErr.Operation != "pipeline.predict" {
		t.Fatalf("expected pipeline OperationError, got %v", err)
	}
	if !pipeline.IsInputError(err) {
		t.Fatal("expected decode error to remain detectable")
	}
	if res == nil || res.Fruit != "Unknown" {
		t.Fatalf("expected failure result, got %+v", res)
	}
	if len(cache.setKeys) != 0 {
		t.Fatalf("failures must not be cached, got %v", cache.setKeys)
	}
}

func TestPredictPayloadDecodesBase64(t *testing.T) {
	predictor := &stubPredictor{ready: true, result: &pipeline.Result{Fruit: "Apple"}}
	uc := newTestPredictionUseCase(predictor, nil)

	payload := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("raw-bytes"))
	requestID, _, err := uc.PredictPayload(context.Background(), payload)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if requestID == "" {
		t.Fatal("expected generated request id")
	}
	if string(predictor.inputs[0]) != "raw-bytes" {
		t.Fatalf("unexpected pipeline input %q", predictor.inputs[0])
	}

	_, res, err := uc.PredictPayload(context.Background(), "***")
	if !pipeline.IsInputError(err) {
		t.Fatalf("expected decode error, got %v", err)
	}
	if res.Error == nil || predictor.calls != 1 {
		t.Fatalf("expected failure result without pipeline call, got %+v", res)
	}
}
