package tasks

import (
	"time"

	"github.com/google/uuid"

	"github.com/inferloop/aidrin/pkg/models"
)

// State is the lifecycle position of a task.
type State string

const (
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// IsFinal reports whether the task will not change again.
func (s State) IsFinal() bool {
	return s == StateCompleted || s == StateFailed
}

// Task is one asynchronous metric computation.
type Task struct {
	ID          string                `json:"task_id"`
	State       State                 `json:"state"`
	Progress    float64               `json:"progress"`
	Status      string                `json:"status"`
	Request     *models.MetricRequest `json:"request"`
	Fingerprint string                `json:"fingerprint"`
	Cached      bool                  `json:"cached"`
	Result      *models.RiskReport    `json:"result,omitempty"`
	Error       string                `json:"error,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
	CompletedAt *time.Time            `json:"completed_at,omitempty"`
}

func newTask(req *models.MetricRequest, fingerprint string) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:          uuid.New().String(),
		State:       StateProcessing,
		Status:      "Task queued",
		Request:     req,
		Fingerprint: fingerprint,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// complete finalizes the task with report. A report carrying an error marks
// the task failed.
func (t *Task) complete(report *models.RiskReport) {
	now := time.Now().UTC()
	t.Result = report
	t.Progress = 1
	t.UpdatedAt = now
	t.CompletedAt = &now

	if report != nil && report.Failed() {
		t.State = StateFailed
		t.Status = report.ErrorType
		t.Error = report.Error
		return
	}
	t.State = StateCompleted
	t.Status = "Task completed"
}

// Clone returns a copy safe to hand to callers.
func (t *Task) Clone() *Task {
	c := *t
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}
