package tasks

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/aidrin/internal/storage"
	"github.com/inferloop/aidrin/pkg/errors"
	"github.com/inferloop/aidrin/pkg/models"
)

// Manager accepts metric requests and answers status polls. Computation
// happens in a Processor reading the same store and queue.
type Manager struct {
	store  Store
	queue  Queue
	cache  *storage.ResultCache
	logger *logrus.Logger
}

// NewManager wires the manager. cache may be nil to disable result reuse.
func NewManager(store Store, queue Queue, cache *storage.ResultCache, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	return &Manager{
		store:  store,
		queue:  queue,
		cache:  cache,
		logger: logger,
	}
}

// Submit validates req and either answers it from the result cache or
// queues it. The returned task is a snapshot.
func (m *Manager) Submit(ctx context.Context, req *models.MetricRequest) (*Task, error) {
	if req == nil {
		return nil, errors.NewValidationError(errors.CodeInvalidInput, "request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	fingerprint := storage.RequestFingerprint(req)
	logger := m.logger.WithFields(logrus.Fields{
		"metric":      req.Metric,
		"dataset":     req.File.DisplayName(),
		"fingerprint": fingerprint[:12],
	})

	if m.cache != nil {
		report, ok, err := m.cache.Get(ctx, req.Scope, fingerprint)
		if err != nil {
			logger.WithError(err).Warn("Result cache lookup failed")
		}
		if ok {
			task := newTask(req, fingerprint)
			task.Cached = true
			task.complete(report)
			if err := m.store.Save(ctx, task); err != nil {
				return nil, err
			}
			logger.WithField("task_id", task.ID).Info("Served task from cache")
			return task.Clone(), nil
		}
	}

	task := newTask(req, fingerprint)
	if err := m.store.Save(ctx, task); err != nil {
		return nil, err
	}
	if err := m.queue.Enqueue(ctx, task.ID); err != nil {
		logger.WithError(err).Error("Failed to enqueue task")
		return nil, err
	}

	logger.WithField("task_id", task.ID).Info("Task submitted")
	return task.Clone(), nil
}

// Poll returns the current snapshot of task id.
func (m *Manager) Poll(ctx context.Context, id string) (*Task, error) {
	return m.store.Get(ctx, id)
}

// QueueDepth reports how many tasks wait for a processor.
func (m *Manager) QueueDepth(ctx context.Context) (int64, error) {
	return m.queue.Len(ctx)
}
