package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/aidrin/internal/api/handlers"
	"github.com/inferloop/aidrin/internal/tasks"
	"github.com/inferloop/aidrin/pkg/constants"
	"github.com/inferloop/aidrin/pkg/models"
)

type fakeTasks struct{}

func (fakeTasks) Submit(ctx context.Context, req *models.MetricRequest) (*tasks.Task, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &tasks.Task{ID: "t1", State: tasks.StateProcessing}, nil
}

func (fakeTasks) Poll(ctx context.Context, id string) (*tasks.Task, error) {
	return &tasks.Task{ID: id, State: tasks.StateProcessing, Status: "Task queued"}, nil
}

type recordedRequest struct {
	method, path, status string
}

type fakeRecorder struct {
	mu       sync.Mutex
	requests []recordedRequest
	errors   []string
}

func (f *fakeRecorder) RecordHTTPRequest(method, path, status string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, recordedRequest{method, path, status})
}

func (f *fakeRecorder) RecordError(component, errorType string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, component+"/"+errorType)
}

func newTestServer(t *testing.T, config *Config, recorder RequestRecorder) *Server {
	t.Helper()
	s, err := NewServer(config, &Dependencies{
		Privacy: handlers.NewPrivacyHandler(fakeTasks{}, nil),
		Health:  handlers.NewHealthHandler(handlers.BuildInfo{Version: "test"}),
		Metrics: recorder,
	}, nil)
	require.NoError(t, err)
	return s
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNewServerRequiresHandlers(t *testing.T) {
	_, err := NewServer(nil, nil, nil)
	assert.Error(t, err)

	_, err = NewServer(nil, &Dependencies{Health: handlers.NewHealthHandler(handlers.BuildInfo{})}, nil)
	assert.Error(t, err)
}

func TestDefaultConfig(t *testing.T) {
	s := newTestServer(t, nil, nil)
	assert.Equal(t, constants.DefaultPort, s.GetConfig().Port)
	assert.Equal(t, int64(constants.MaxUploadSize), s.GetConfig().MaxRequestSize)
}

func TestRoutesAndMiddleware(t *testing.T) {
	recorder := &fakeRecorder{}
	s := newTestServer(t, nil, recorder)

	rec := do(s, http.MethodPost, "/api/v1/privacy/k-anonymity", `{"file":{"path":"p.csv"},"quasi_identifiers":["zip"]}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(constants.HeaderRequestID))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(s, http.MethodGet, "/api/v1/tasks/abc", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(s, http.MethodGet, "/health/live", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	assert.Equal(t, []recordedRequest{
		{http.MethodPost, "/api/v1/privacy/{metric}", "202"},
		{http.MethodGet, "/api/v1/tasks/{id}", "200"},
		{http.MethodGet, "/health/live", "200"},
	}, recorder.requests)
}

func TestRequestIDIsPropagated(t *testing.T) {
	s := newTestServer(t, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/version", nil)
	req.Header.Set(constants.HeaderRequestID, "req-42")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "req-42", rec.Header().Get(constants.HeaderRequestID))
}

func TestNotFound(t *testing.T) {
	s := newTestServer(t, nil, nil)

	rec := do(s, http.MethodGet, "/api/v1/nothing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "NOT_FOUND")
}

func TestCacheRoutesOptional(t *testing.T) {
	s := newTestServer(t, nil, nil)

	rec := do(s, http.MethodGet, "/api/v1/cache/stats", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	recorder := &fakeRecorder{}
	s := newTestServer(t, nil, recorder)
	s.router.HandleFunc("/boom", func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	rec := do(s, http.MethodGet, "/boom", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL_ERROR")

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	assert.Contains(t, recorder.errors, "http/panic")
}

func TestRequestSizeLimit(t *testing.T) {
	config := DefaultConfig()
	config.MaxRequestSize = 16
	s := newTestServer(t, config, nil)

	rec := do(s, http.MethodPost, "/api/v1/privacy/k-anonymity", `{"file":{"path":"p.csv"},"quasi_identifiers":["zip"]}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, nil, nil)

	rec := do(s, http.MethodOptions, "/api/v1/privacy/k-anonymity", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), constants.HeaderUserID)

	rec = do(s, http.MethodPut, "/api/v1/privacy/k-anonymity", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestPreflightOnEveryRoute(t *testing.T) {
	s := newTestServer(t, nil, nil)

	for _, path := range []string{"/health", "/api/v1/privacy/metrics", "/api/v1/tasks/abc"} {
		rec := do(s, http.MethodOptions, path, "")
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"), path)
	}

	rec := do(s, http.MethodDelete, "/api/v1/privacy/metrics", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Contains(t, rec.Body.String(), "METHOD_NOT_ALLOWED")

	rec = do(s, http.MethodGet, "/api/v1/unknown", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "NOT_FOUND")
}

func TestPreflightWithoutCORS(t *testing.T) {
	config := DefaultConfig()
	config.EnableCORS = false
	s := newTestServer(t, config, nil)

	rec := do(s, http.MethodOptions, "/api/v1/privacy/k-anonymity", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStartStop(t *testing.T) {
	config := DefaultConfig()
	config.Host = "127.0.0.1"
	config.Port = 0
	s := newTestServer(t, config, nil)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))
	assert.NoError(t, <-errCh)
}
