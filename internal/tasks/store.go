package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/aidrin/pkg/constants"
	"github.com/inferloop/aidrin/pkg/errors"
)

// Store persists task records.
type Store interface {
	Save(ctx context.Context, task *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	UpdateProgress(ctx context.Context, id string, progress float64, status string) error
	Purge(ctx context.Context, olderThan time.Time) (int, error)
}

// StoreConfig configures task retention
type StoreConfig struct {
	ResultExpiry  time.Duration `json:"result_expiry" mapstructure:"result_expiry"`
	PurgeSchedule string        `json:"purge_schedule" mapstructure:"purge_schedule"`
}

func (c *StoreConfig) withDefaults() *StoreConfig {
	out := StoreConfig{}
	if c != nil {
		out = *c
	}
	if out.ResultExpiry <= 0 {
		out.ResultExpiry = constants.DefaultResultExpiry
	}
	if out.PurgeSchedule == "" {
		out.PurgeSchedule = "@every 5m"
	}
	return &out
}

func taskNotFound(id string) error {
	return errors.NewAppError(errors.ErrorTypeJob, errors.CodeTaskNotFound,
		fmt.Sprintf("Task '%s' not found", id))
}

// MemoryStore keeps tasks in process. A cron job purges finished tasks
// older than the result expiry.
type MemoryStore struct {
	config *StoreConfig
	logger *logrus.Logger
	tasks  map[string]*Task
	mu     sync.RWMutex
	cron   *cron.Cron
}

// NewMemoryStore creates the store and schedules its purge job.
func NewMemoryStore(config *StoreConfig, logger *logrus.Logger) (*MemoryStore, error) {
	config = config.withDefaults()
	if logger == nil {
		logger = logrus.New()
	}

	s := &MemoryStore{
		config: config,
		logger: logger,
		tasks:  make(map[string]*Task),
		cron:   cron.New(),
	}

	_, err := s.cron.AddFunc(config.PurgeSchedule, func() {
		cutoff := time.Now().Add(-s.config.ResultExpiry)
		if n, _ := s.Purge(context.Background(), cutoff); n > 0 {
			s.logger.WithField("purged", n).Info("Purged expired tasks")
		}
	})
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeConfiguration, errors.CodeInvalidConfig,
			"Invalid task purge schedule")
	}
	s.cron.Start()

	return s, nil
}

func (s *MemoryStore) Save(ctx context.Context, task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks[task.ID] = task.Clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, taskNotFound(id)
	}
	return task.Clone(), nil
}

// UpdateProgress never moves progress backwards or touches a final task.
func (s *MemoryStore) UpdateProgress(ctx context.Context, id string, progress float64, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return taskNotFound(id)
	}
	applyProgress(task, progress, status)
	return nil
}

// Purge removes final tasks last updated before olderThan.
func (s *MemoryStore) Purge(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for id, task := range s.tasks {
		if task.State.IsFinal() && task.UpdatedAt.Before(olderThan) {
			delete(s.tasks, id)
			purged++
		}
	}
	return purged, nil
}

// Close stops the purge job.
func (s *MemoryStore) Close() error {
	<-s.cron.Stop().Done()
	return nil
}

func applyProgress(task *Task, progress float64, status string) {
	if task.State.IsFinal() {
		return
	}
	if progress > task.Progress {
		task.Progress = progress
	}
	if status != "" {
		task.Status = status
	}
	task.UpdatedAt = time.Now().UTC()
}
