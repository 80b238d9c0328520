package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/aidrin/internal/storage"
	"github.com/inferloop/aidrin/internal/storage/implementations/memory"
	"github.com/inferloop/aidrin/internal/tasks"
	"github.com/inferloop/aidrin/pkg/constants"
	"github.com/inferloop/aidrin/pkg/errors"
	"github.com/inferloop/aidrin/pkg/models"
)

type stubTaskService struct {
	submitted *models.MetricRequest
	submitErr error
	tasks     map[string]*tasks.Task
}

func (s *stubTaskService) Submit(ctx context.Context, req *models.MetricRequest) (*tasks.Task, error) {
	if s.submitErr != nil {
		return nil, s.submitErr
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	s.submitted = req
	return &tasks.Task{ID: "task-1", State: tasks.StateProcessing}, nil
}

func (s *stubTaskService) Poll(ctx context.Context, id string) (*tasks.Task, error) {
	task, ok := s.tasks[id]
	if !ok {
		return nil, errors.NewAppError(errors.ErrorTypeJob, errors.CodeTaskNotFound, "Task '"+id+"' not found")
	}
	return task, nil
}

func newRouter(privacy *PrivacyHandler, cache *CacheHandler, health *HealthHandler) *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix(constants.APIPrefix).Subrouter()
	if privacy != nil {
		api.HandleFunc("/privacy/metrics", privacy.ListMetrics).Methods(http.MethodGet)
		api.HandleFunc("/privacy/{metric}", privacy.SubmitMetric).Methods(http.MethodPost)
		api.HandleFunc("/tasks/{id}", privacy.GetTask).Methods(http.MethodGet)
	}
	if cache != nil {
		api.HandleFunc("/cache/stats", cache.GetStats).Methods(http.MethodGet)
		api.HandleFunc("/cache", cache.Clear).Methods(http.MethodDelete)
	}
	if health != nil {
		r.HandleFunc("/health", health.GetHealth).Methods(http.MethodGet)
		r.HandleFunc("/health/live", health.GetLiveness).Methods(http.MethodGet)
		r.HandleFunc("/health/ready", health.GetReadiness).Methods(http.MethodGet)
		r.HandleFunc("/version", health.GetVersion).Methods(http.MethodGet)
	}
	return r
}

func serve(h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestSubmitMetric(t *testing.T) {
	service := &stubTaskService{}
	router := newRouter(NewPrivacyHandler(service, nil), nil, nil)

	body := `{"metric":"entropy-risk","file":{"path":"data/patients.csv"},"quasi_identifiers":["age","zip"]}`
	rec := serve(router, http.MethodPost, "/api/v1/privacy/k-anonymity", body,
		map[string]string{constants.HeaderUserID: " alice "})

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "/api/v1/tasks/task-1", rec.Header().Get(constants.HeaderLocation))

	out := decode(t, rec)
	assert.Equal(t, "task-1", out["task_id"])
	assert.Equal(t, "processing", out["state"])

	require.NotNil(t, service.submitted)
	assert.Equal(t, models.MetricKAnonymity, service.submitted.Metric)
	assert.Equal(t, "alice", service.submitted.Scope)
	assert.Equal(t, []string{"age", "zip"}, service.submitted.QuasiIdentifiers)
}

func TestSubmitMetricErrors(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		body   string
		status int
		code   string
	}{
		{
			name:   "unknown metric",
			path:   "/api/v1/privacy/fairness",
			body:   `{}`,
			status: http.StatusBadRequest,
			code:   errors.CodeUnknownMetric,
		},
		{
			name:   "malformed body",
			path:   "/api/v1/privacy/k-anonymity",
			body:   `{"file":`,
			status: http.StatusBadRequest,
			code:   errors.CodeInvalidInput,
		},
		{
			name:   "missing sensitive column",
			path:   "/api/v1/privacy/l-diversity",
			body:   `{"file":{"path":"p.csv"},"quasi_identifiers":["zip"]}`,
			status: http.StatusBadRequest,
			code:   errors.CodeNoColumnsSelected,
		},
	}

	router := newRouter(NewPrivacyHandler(&stubTaskService{}, nil), nil, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(router, http.MethodPost, tt.path, tt.body, nil)
			require.Equal(t, tt.status, rec.Code)

			out := decode(t, rec)
			errBody, ok := out["error"].(map[string]interface{})
			require.True(t, ok)
			assert.Equal(t, tt.code, errBody["code"])
			assert.Equal(t, tt.path, out["path"])
		})
	}
}

func TestSubmitMetricQueueClosed(t *testing.T) {
	service := &stubTaskService{
		submitErr: errors.NewAppError(errors.ErrorTypeJob, errors.CodeQueueClosed, "Task queue is closed"),
	}
	router := newRouter(NewPrivacyHandler(service, nil), nil, nil)

	rec := serve(router, http.MethodPost, "/api/v1/privacy/k-anonymity",
		`{"file":{"path":"p.csv"},"quasi_identifiers":["zip"]}`, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetTask(t *testing.T) {
	headline := 2.0
	completedAt := time.Now().UTC()
	service := &stubTaskService{tasks: map[string]*tasks.Task{
		"done": {
			ID:       "done",
			State:    tasks.StateCompleted,
			Progress: 1,
			Status:   "Task completed",
			Request:  &models.MetricRequest{Metric: models.MetricKAnonymity},
			Result: &models.RiskReport{
				Metric:         models.MetricKAnonymity,
				Headline:       &headline,
				Visualization:  "cG5n",
				Interpretation: "Each bar is an equivalence class.",
			},
			CompletedAt: &completedAt,
		},
	}}
	router := newRouter(NewPrivacyHandler(service, nil), nil, nil)

	rec := serve(router, http.MethodGet, "/api/v1/tasks/done", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	out := decode(t, rec)
	assert.Equal(t, "completed", out["state"])
	assert.Equal(t, "k-anonymity", out["metric"])
	assert.Equal(t, 1.0, out["progress"])

	result, ok := out["result"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 2.0, result["k-Value"])
	assert.Equal(t, "cG5n", result["k-Anonymity Visualization"])

	rec = serve(router, http.MethodGet, "/api/v1/tasks/missing", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	errBody := decode(t, rec)["error"].(map[string]interface{})
	assert.Equal(t, errors.CodeTaskNotFound, errBody["code"])
}

func TestListMetrics(t *testing.T) {
	router := newRouter(NewPrivacyHandler(&stubTaskService{}, nil), nil, nil)

	rec := serve(router, http.MethodGet, "/api/v1/privacy/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(len(models.AllMetrics())), decode(t, rec)["count"])
}

func TestCacheEndpoints(t *testing.T) {
	backend, err := memory.NewCache(nil, nil)
	require.NoError(t, err)
	defer backend.Close()

	cache := storage.NewResultCache(backend, nil, nil)
	ctx := context.Background()
	headline := 1.0
	report := &models.RiskReport{Metric: models.MetricKAnonymity, Headline: &headline}
	require.NoError(t, cache.Put(ctx, "alice", "a", report))
	require.NoError(t, cache.Put(ctx, "alice", "b", report))
	require.NoError(t, cache.Put(ctx, "bob", "a", report))

	router := newRouter(nil, NewCacheHandler(cache, nil), nil)
	alice := map[string]string{constants.HeaderUserID: "alice"}

	rec := serve(router, http.MethodGet, "/api/v1/cache/stats", "", alice)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, "alice", out["scope"])
	assert.Equal(t, 2.0, out["entries"])

	rec = serve(router, http.MethodDelete, "/api/v1/cache", "", alice)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2.0, decode(t, rec)["cleared"])

	rec = serve(router, http.MethodGet, "/api/v1/cache/stats", "", map[string]string{constants.HeaderUserID: "bob"})
	assert.Equal(t, 1.0, decode(t, rec)["entries"])

	rec = serve(router, http.MethodDelete, "/api/v1/cache", "", nil)
	assert.Equal(t, storage.AnonymousScope, decode(t, rec)["scope"])
}

func TestHealthEndpoints(t *testing.T) {
	health := NewHealthHandler(BuildInfo{Version: "1.2.3"})
	health.AddCheck("cache", func(ctx context.Context) error { return nil })
	router := newRouter(nil, nil, health)

	rec := serve(router, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode(t, rec)["status"])

	rec = serve(router, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alive", decode(t, rec)["status"])

	rec = serve(router, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(router, http.MethodGet, "/version", "", nil)
	out := decode(t, rec)
	assert.Equal(t, "1.2.3", out["version"])
	assert.NotEmpty(t, out["go_version"])

	health.AddCheck("archive", func(ctx context.Context) error {
		return errors.NewStorageError(errors.CodeNotConnected, "Postgres is not connected")
	})

	rec = serve(router, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "not_ready", decode(t, rec)["status"])

	rec = serve(router, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	out = decode(t, rec)
	assert.Equal(t, "degraded", out["status"])
	deps := out["dependencies"].([]interface{})
	require.Len(t, deps, 2)
	assert.Equal(t, "archive", deps[0].(map[string]interface{})["name"])
}
