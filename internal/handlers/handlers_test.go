package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/example/fruitscan/internal/auth"
	"github.com/example/fruitscan/internal/imageprep"
	"github.com/example/fruitscan/internal/pipeline"
	"github.com/example/fruitscan/internal/repository"
	"github.com/example/fruitscan/internal/usecase"
)

const testJWTSecret = "test-secret"

type stubPredictions struct {
	ready    bool
	result   *pipeline.Result
	err      error
	payloads []string
	uploads  [][]byte
}

func (s *stubPredictions) Ready() bool { return s.ready }

func (s *stubPredictions) Predict(ctx context.Context, data []byte) (string, *pipeline.Result, error) {
	s.uploads = append(s.uploads, data)
	return s.respond()
}

func (s *stubPredictions) PredictPayload(ctx context.Context, payload string) (string, *pipeline.Result, error) {
	s.payloads = append(s.payloads, payload)
	return s.respond()
}

func (s *stubPredictions) respond() (string, *pipeline.Result, error) {
	if s.err != nil {
		return "req-1", pipeline.FailureResult(s.err), s.err
	}
	return "req-1", s.result, nil
}

type stubAccounts struct {
	session *usecase.Session
	err     error
	user    *repository.User
}

func (s *stubAccounts) Register(ctx context.Context, email, password, name string) (*usecase.Session, error) {
	return s.session, s.err
}

func (s *stubAccounts) Login(ctx context.Context, email, password string) (*usecase.Session, error) {
	return s.session, s.err
}

func (s *stubAccounts) Profile(ctx context.Context, userID string) (*repository.User, error) {
	if s.user == nil || s.user.ID != userID {
		return nil, &usecase.AccountError{Code: usecase.CodeUserNotFound, Message: "User not found"}
	}
	return s.user, nil
}

type stubHistory struct {
	entries   []*repository.HistoryEntry
	deleteErr error
	added     []usecase.NewHistoryEntry
	userIDs   []string
}

func (s *stubHistory) List(ctx context.Context, userID string) ([]*repository.HistoryEntry, error) {
	s.userIDs = append(s.userIDs, userID)
	return s.entries, nil
}

func (s *stubHistory) Add(ctx context.Context, userID string, in usecase.NewHistoryEntry) (*repository.HistoryEntry, error) {
	s.userIDs = append(s.userIDs, userID)
	if in.Fruit == "" {
		return nil, usecase.ErrInvalidHistoryEntry
	}
	s.added = append(s.added, in)
	return &repository.HistoryEntry{ID: "entry-1"}, nil
}

func (s *stubHistory) Delete(ctx context.Context, userID, id string) error {
	s.userIDs = append(s.userIDs, userID)
	return s.deleteErr
}

func (s *stubHistory) Summary(ctx context.Context, userID string) (*usecase.HistorySummary, error) {
	return &usecase.HistorySummary{TotalEntries: 2, ByRipeness: map[string]int64{"Ripe": 2}, AverageScore: 0.9}, nil
}

func newTestRouter(t *testing.T, opts Options) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.MaxMultipartMemory = MaxUploadSize
	router.Use(RequestID())
	if opts.Predictions == nil {
		opts.Predictions = &stubPredictions{}
	}
	if opts.Auth == nil {
		opts.Auth = auth.JWTMiddleware(testJWTSecret, "")
	}
	opts.Logger = zap.NewNop()
	if err := RegisterRoutes(router, opts); err != nil {
		t.Fatalf("register routes: %v", err)
	}
	return router
}

func decodeBody(t *testing.T, resp *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body %q: %v", resp.Body.String(), err)
	}
	return body
}

func TestPredictImageRejectsLargeUpload(t *testing.T) {
	predictions := &stubPredictions{ready: true}
	router := newTestRouter(t, Options{Predictions: predictions})

	body, contentType := buildMultipartBody(t, "image/png", bytes.Repeat([]byte("a"), MaxUploadSize+1))

	req := httptest.NewRequest(http.MethodPost, "/predict/image", body)
	req.Header.Set("Content-Type", contentType)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status %d, got %d", http.StatusRequestEntityTooLarge, resp.Code)
	}
	if len(predictions.uploads) != 0 {
		t.Fatal("expected pipeline not to be called")
	}
}

func TestPredictImageRejectsUnsupportedContentType(t *testing.T) {
	router := newTestRouter(t, Options{})

	body, contentType := buildMultipartBody(t, "text/plain", []byte("hello"))

	req := httptest.NewRequest(http.MethodPost, "/predict/image", body)
	req.Header.Set("Content-Type", contentType)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected status %d, got %d", http.StatusUnsupportedMediaType, resp.Code)
	}
}

func TestPredictImageReturnsResult(t *testing.T) {
	predictions := &stubPredictions{ready: true, result: &pipeline.Result{Fruit: "Apple", Label: "RipeApple", Ripeness: "Ripe", Confidence: 0.9}}
	router := newTestRouter(t, Options{Predictions: predictions})

	body, contentType := buildMultipartBody(t, "image/jpeg", []byte("jpeg-bytes"))
	req := httptest.NewRequest(http.MethodPost, "/predict/image", body)
	req.Header.Set("Content-Type", contentType)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, resp.Code, resp.Body.String())
	}
	if string(predictions.uploads[0]) != "jpeg-bytes" {
		t.Fatalf("unexpected upload %q", predictions.uploads[0])
	}
	got := decodeBody(t, resp)
	if got["fruit"] != "Apple" || got["label"] != "RipeApple" || got["request_id"] != "req-1" || got["error"] != nil {
		t.Fatalf("unexpected body %v", got)
	}
}

func TestPredictJSON(t *testing.T) {
	msg := "model not loaded"
	cases := []struct {
		name   string
		body   string
		stub   *stubPredictions
		status int
		fruit  string
	}{
		{"missing image", `{}`, &stubPredictions{}, http.StatusBadRequest, ""},
		{"malformed json", `{"image":`, &stubPredictions{}, http.StatusBadRequest, ""},
		{"decode error", `{"image":"abc"}`, &stubPredictions{err: &imageprep.DecodeError{Reason: "unsupported or corrupt image"}}, http.StatusBadRequest, "Unknown"},
		{"internal failure", `{"image":"abc"}`, &stubPredictions{err: errors.New("boom")}, http.StatusInternalServerError, "Unknown"},
		{"placeholder", `{"image":"abc"}`, &stubPredictions{result: &pipeline.Result{Fruit: "Apple", Label: "RipeApple", Confidence: 0.8, Error: &msg, Placeholder: true}}, http.StatusOK, "Apple"},
	}
	for _, tc := range cases {
		router := newTestRouter(t, Options{Predictions: tc.stub})
		req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(tc.body))
		req.Header.Set("Content-Type", "application/json")
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)

		if resp.Code != tc.status {
			t.Fatalf("%s: expected status %d, got %d", tc.name, tc.status, resp.Code)
		}
		if tc.fruit != "" {
			if got := decodeBody(t, resp); got["fruit"] != tc.fruit {
				t.Fatalf("%s: unexpected body %v", tc.name, got)
			}
		}
	}
}

func TestPredictJSONRejectsOversizedBody(t *testing.T) {
	const limit = 16
	body := `{"image":"` + strings.Repeat("A", int(jsonBodyLimit(limit))) + `"}`
	cases := []struct {
		name   string
		reader func() io.Reader
	}{
		{"declared length", func() io.Reader { return strings.NewReader(body) }},
		// MultiReader hides the length so the request arrives without Content-Length.
		{"streamed", func() io.Reader { return io.MultiReader(strings.NewReader(body)) }},
	}
	for _, tc := range cases {
		predictions := &stubPredictions{ready: true}
		router := newTestRouter(t, Options{Predictions: predictions, MaxUploadBytes: limit})
		req := httptest.NewRequest(http.MethodPost, "/predict", tc.reader())
		req.Header.Set("Content-Type", "application/json")
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)

		if resp.Code != http.StatusRequestEntityTooLarge {
			t.Fatalf("%s: expected status %d, got %d", tc.name, http.StatusRequestEntityTooLarge, resp.Code)
		}
		if got := decodeBody(t, resp); got["code"] != "PAYLOAD_TOO_LARGE" {
			t.Fatalf("%s: unexpected body %v", tc.name, got)
		}
		if len(predictions.payloads) != 0 {
			t.Fatalf("%s: expected pipeline not to be called", tc.name)
		}
	}
}

func TestPredictJSONAcceptsBodyWithinLimit(t *testing.T) {
	const limit = 16
	predictions := &stubPredictions{ready: true, result: &pipeline.Result{Fruit: "Apple"}}
	router := newTestRouter(t, Options{Predictions: predictions, MaxUploadBytes: limit})

	image := strings.Repeat("A", int(jsonBodyLimit(limit))-jsonOverhead)
	req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(`{"image":"`+image+`"}`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, resp.Code, resp.Body.String())
	}
	if len(predictions.payloads) != 1 || predictions.payloads[0] != image {
		t.Fatal("expected payload to reach the pipeline")
	}
}

func TestPredictRateLimited(t *testing.T) {
	predictions := &stubPredictions{result: &pipeline.Result{Fruit: "Apple"}}
	router := newTestRouter(t, Options{Predictions: predictions, RateLimit: "1-M"})

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(`{"image":"abc"}`))
		req.Header.Set("Content-Type", "application/json")
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		codes = append(codes, resp.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("expected [200 429], got %v", codes)
	}
}

func TestRegisterRoutesRejectsBadRate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	err := RegisterRoutes(gin.New(), Options{Predictions: &stubPredictions{}, RateLimit: "often"})
	if err == nil {
		t.Fatal("expected error for malformed rate")
	}
}

func TestHealth(t *testing.T) {
	router := newTestRouter(t, Options{
		Predictions:   &stubPredictions{ready: true},
		DatabaseCheck: func(context.Context) error { return errors.New("down") },
	})

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}
	got := decodeBody(t, resp)
	if got["status"] != "ok" || got["model_loaded"] != true || got["database"] != "disconnected" {
		t.Fatalf("unexpected health body %v", got)
	}
	if resp.Header().Get(RequestIDHeader) == "" {
		t.Fatal("expected request id header")
	}
}

func TestAccountRoutesAbsentWithoutDatabase(t *testing.T) {
	router := newTestRouter(t, Options{})
	req := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(`{}`))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, resp.Code)
	}
}

func TestLoginErrorFormat(t *testing.T) {
	accounts := &stubAccounts{err: &usecase.AccountError{Code: usecase.CodeInvalidCredentials, Message: "Invalid email or password"}}
	router := newTestRouter(t, Options{Accounts: accounts, History: &stubHistory{}})

	req := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(`{"email":"a@b.co","password":"nope"}`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, resp.Code)
	}
	got := decodeBody(t, resp)
	if got["success"] != false || got["code"] != usecase.CodeInvalidCredentials || got["error"] != "Invalid email or password" {
		t.Fatalf("unexpected body %v", got)
	}
}

func TestRegisterReturnsSession(t *testing.T) {
	accounts := &stubAccounts{session: &usecase.Session{
		AccessToken: "tok",
		User:        &repository.User{ID: "u1", Email: "a@b.co", Name: "Ana", PasswordHash: "hash"},
	}}
	router := newTestRouter(t, Options{Accounts: accounts, History: &stubHistory{}})

	req := httptest.NewRequest(http.MethodPost, "/api/register", strings.NewReader(`{"email":"a@b.co","password":"secret1","name":"Ana"}`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d", http.StatusCreated, resp.Code)
	}
	if strings.Contains(resp.Body.String(), "hash") {
		t.Fatalf("password hash leaked: %s", resp.Body.String())
	}
	got := decodeBody(t, resp)
	user, _ := got["user"].(map[string]interface{})
	if got["access_token"] != "tok" || user["id"] != "u1" {
		t.Fatalf("unexpected body %v", got)
	}
}

func TestProtectedRoutes(t *testing.T) {
	accounts := &stubAccounts{user: &repository.User{ID: "user-123", Email: "a@b.co"}}
	history := &stubHistory{
		entries:   []*repository.HistoryEntry{{ID: "e1", Fruit: "Apple", Label: "Ripe", Score: 0.9, CreatedAt: time.UnixMilli(1700000000000)}},
		deleteErr: repository.ErrNotFound,
	}
	router := newTestRouter(t, Options{Accounts: accounts, History: history})
	token := buildTestToken(t, "user-123")

	do := func(method, path, body string, withToken bool) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if withToken {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		return resp
	}

	if resp := do(http.MethodGet, "/api/profile", "", false); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized without token, got %d", resp.Code)
	}
	if resp := do(http.MethodGet, "/api/profile", "", true); resp.Code != http.StatusOK {
		t.Fatalf("expected profile, got %d", resp.Code)
	}

	resp := do(http.MethodGet, "/api/history", "", true)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected history list, got %d", resp.Code)
	}
	var entries []map[string]interface{}
	if err := json.Unmarshal(resp.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(entries) != 1 || entries[0]["createdAt"] != float64(1700000000000) || entries[0]["label"] != "Ripe" {
		t.Fatalf("unexpected history %v", entries)
	}

	if resp := do(http.MethodPost, "/api/history", `{"fruit":"Apple","label":"Ripe","score":0.9}`, true); resp.Code != http.StatusCreated {
		t.Fatalf("expected created, got %d", resp.Code)
	}
	if resp := do(http.MethodPost, "/api/history", `{"fruit":"","label":"Ripe","score":0.9}`, true); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected bad request, got %d", resp.Code)
	}
	if resp := do(http.MethodDelete, "/api/history/e9", "", true); resp.Code != http.StatusNotFound {
		t.Fatalf("expected not found, got %d", resp.Code)
	}
	if resp := do(http.MethodGet, "/api/history/summary", "", true); resp.Code != http.StatusOK {
		t.Fatalf("expected summary, got %d", resp.Code)
	}

	for _, id := range history.userIDs {
		if id != "user-123" {
			t.Fatalf("expected calls scoped to token subject, got %q", id)
		}
	}
}

func buildMultipartBody(t *testing.T, contentType string, payload []byte) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="image"; filename="upload"`)
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("failed to create multipart part: %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("failed to write payload: %v", err)
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	return body, writer.FormDataContentType()
}

func buildTestToken(t *testing.T, subject string) string {
	t.Helper()

	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}
