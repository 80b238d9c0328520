package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/aidrin/internal/tasks"
	"github.com/inferloop/aidrin/pkg/constants"
	"github.com/inferloop/aidrin/pkg/errors"
	"github.com/inferloop/aidrin/pkg/models"
)

// TaskService submits and polls metric tasks.
type TaskService interface {
	Submit(ctx context.Context, req *models.MetricRequest) (*tasks.Task, error)
	Poll(ctx context.Context, id string) (*tasks.Task, error)
}

// PrivacyHandler serves metric submission and task polling.
type PrivacyHandler struct {
	tasks  TaskService
	logger *logrus.Logger
}

// SubmitResponse acknowledges an accepted request.
type SubmitResponse struct {
	TaskID string      `json:"task_id"`
	State  tasks.State `json:"state"`
}

// TaskResponse is the polled view of a task. Result uses the report's
// display keys.
type TaskResponse struct {
	TaskID      string                 `json:"task_id"`
	Metric      models.Metric          `json:"metric"`
	State       tasks.State            `json:"state"`
	Progress    float64                `json:"progress"`
	Status      string                 `json:"status"`
	Cached      bool                   `json:"cached"`
	Result      map[string]interface{} `json:"result,omitempty"`
	Error       string                 `json:"error,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
}

func NewPrivacyHandler(service TaskService, logger *logrus.Logger) *PrivacyHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &PrivacyHandler{
		tasks:  service,
		logger: logger,
	}
}

// SubmitMetric handles POST /privacy/{metric}. The metric in the path wins
// over any metric in the body; the cache scope comes from X-User-ID.
func (h *PrivacyHandler) SubmitMetric(w http.ResponseWriter, r *http.Request) {
	metric, err := models.ParseMetric(mux.Vars(r)["metric"])
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req models.MetricRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, errors.NewValidationError(errors.CodeInvalidInput,
			fmt.Sprintf("Invalid request body: %v", err)))
		return
	}
	req.Metric = metric
	req.Scope = strings.TrimSpace(r.Header.Get(constants.HeaderUserID))

	task, err := h.tasks.Submit(r.Context(), &req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set(constants.HeaderLocation, constants.APIPrefix+"/tasks/"+task.ID)
	writeJSON(w, http.StatusAccepted, &SubmitResponse{
		TaskID: task.ID,
		State:  task.State,
	})
}

// GetTask handles GET /tasks/{id}.
func (h *PrivacyHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == "" {
		writeError(w, r, errors.NewValidationError(errors.CodeInvalidInput, "Task ID is required"))
		return
	}

	task, err := h.tasks.Poll(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := &TaskResponse{
		TaskID:      task.ID,
		State:       task.State,
		Progress:    task.Progress,
		Status:      task.Status,
		Cached:      task.Cached,
		Error:       task.Error,
		CreatedAt:   task.CreatedAt,
		CompletedAt: task.CompletedAt,
	}
	if task.Request != nil {
		resp.Metric = task.Request.Metric
	}
	if task.Result != nil {
		resp.Result = task.Result.Record()
	}

	writeJSON(w, http.StatusOK, resp)
}

// ListMetrics handles GET /privacy/metrics.
func (h *PrivacyHandler) ListMetrics(w http.ResponseWriter, r *http.Request) {
	type metricInfo struct {
		Name               models.Metric `json:"name"`
		RequiresSensitive  bool          `json:"requires_sensitive"`
		RequiresIdentifier bool          `json:"requires_identifier"`
	}

	metrics := models.AllMetrics()
	out := make([]metricInfo, 0, len(metrics))
	for _, m := range metrics {
		out = append(out, metricInfo{
			Name:               m,
			RequiresSensitive:  m.RequiresSensitive(),
			RequiresIdentifier: m.RequiresIdentifier(),
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"metrics": out,
		"count":   len(out),
	})
}
