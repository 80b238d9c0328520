package tasks

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/aidrin/internal/analytics"
	"github.com/inferloop/aidrin/internal/privacy"
	"github.com/inferloop/aidrin/internal/storage"
	"github.com/inferloop/aidrin/internal/storage/implementations/postgres"
	"github.com/inferloop/aidrin/pkg/constants"
	"github.com/inferloop/aidrin/pkg/errors"
	"github.com/inferloop/aidrin/pkg/models"
)

// DatasetReader loads the dataset a request points at.
type DatasetReader interface {
	Read(ctx context.Context, fd models.FileDescriptor) (*models.Dataset, error)
}

// Runner computes one metric. The analytics engine satisfies it.
type Runner interface {
	Run(ctx context.Context, req *models.MetricRequest, ds *models.Dataset, progress privacy.ProgressFunc) *models.RiskReport
}

// Archiver persists finished tasks.
type Archiver interface {
	Archive(ctx context.Context, record *postgres.ArchivedReport) error
}

// TaskRecorder receives task lifecycle metrics.
type TaskRecorder interface {
	SetActiveTasks(count float64)
	RecordTask(metric, state string, duration time.Duration)
	SetQueueDepth(depth float64)
}

// ProcessorConfig configures the worker pool
type ProcessorConfig struct {
	Concurrency   int           `json:"concurrency" mapstructure:"concurrency"`
	SoftTimeLimit time.Duration `json:"soft_time_limit" mapstructure:"soft_time_limit"`
	HardTimeLimit time.Duration `json:"hard_time_limit" mapstructure:"hard_time_limit"`
}

// DefaultProcessorConfig returns the default limits.
func DefaultProcessorConfig() *ProcessorConfig {
	return &ProcessorConfig{
		Concurrency:   constants.DefaultWorkerConcurrency,
		SoftTimeLimit: constants.DefaultTaskSoftTimeLimit,
		HardTimeLimit: constants.DefaultTaskHardTimeLimit,
	}
}

// Processor runs queued tasks with a fixed number of workers.
type Processor struct {
	config   *ProcessorConfig
	store    Store
	queue    Queue
	reader   DatasetReader
	runner   Runner
	cache    *storage.ResultCache
	archiver Archiver
	recorder TaskRecorder
	logger   *logrus.Logger

	activeTasks    int32
	completedTasks int64
	failedTasks    int64
	wg             sync.WaitGroup
}

// ProcessorOption customizes a Processor.
type ProcessorOption func(*Processor)

// WithResultCache stores successful reports for reuse by the manager.
func WithResultCache(cache *storage.ResultCache) ProcessorOption {
	return func(p *Processor) {
		p.cache = cache
	}
}

// WithArchiver archives every finished task.
func WithArchiver(a Archiver) ProcessorOption {
	return func(p *Processor) {
		p.archiver = a
	}
}

// WithTaskRecorder reports task metrics to r.
func WithTaskRecorder(r TaskRecorder) ProcessorOption {
	return func(p *Processor) {
		p.recorder = r
	}
}

// NewProcessor creates a processor. Zero config values fall back to the
// defaults; a hard limit below the soft limit is raised to match it.
func NewProcessor(config *ProcessorConfig, store Store, queue Queue, reader DatasetReader, runner Runner, logger *logrus.Logger, opts ...ProcessorOption) *Processor {
	cfg := *DefaultProcessorConfig()
	if config != nil {
		if config.Concurrency > 0 {
			cfg.Concurrency = config.Concurrency
		}
		if config.SoftTimeLimit > 0 {
			cfg.SoftTimeLimit = config.SoftTimeLimit
		}
		if config.HardTimeLimit > 0 {
			cfg.HardTimeLimit = config.HardTimeLimit
		}
	}
	if cfg.HardTimeLimit < cfg.SoftTimeLimit {
		cfg.HardTimeLimit = cfg.SoftTimeLimit
	}
	if logger == nil {
		logger = logrus.New()
	}

	p := &Processor{
		config: &cfg,
		store:  store,
		queue:  queue,
		reader: reader,
		runner: runner,
		logger: logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start runs the workers and blocks until ctx is done or the queue closes.
// Tasks already running finish on their own limits.
func (p *Processor) Start(ctx context.Context) {
	p.logger.WithField("concurrency", p.config.Concurrency).Info("Task processor started")

	for i := 0; i < p.config.Concurrency; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}

	p.wg.Wait()
	p.logger.Info("All workers stopped")
}

func (p *Processor) worker(ctx context.Context, workerID int) {
	defer p.wg.Done()

	logger := p.logger.WithField("workerID", workerID)
	logger.Debug("Worker started")

	for {
		id, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || IsQueueClosed(err) {
				logger.Debug("Worker stopping")
				return
			}
			logger.WithError(err).Warn("Failed to dequeue task")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		p.updateQueueDepth(ctx)
		p.process(ctx, id, workerID)
	}
}

// process runs one task to a final state. Work is detached from the
// worker's context so shutdown does not cut a running task short.
func (p *Processor) process(ctx context.Context, id string, workerID int) {
	ctx = context.WithoutCancel(ctx)

	logger := p.logger.WithFields(logrus.Fields{
		"task_id":  id,
		"workerID": workerID,
	})

	task, err := p.store.Get(ctx, id)
	if err != nil {
		logger.WithError(err).Warn("Dequeued task has no record")
		return
	}
	if task.State.IsFinal() {
		logger.Debug("Skipping finished task")
		return
	}

	p.setActive(atomic.AddInt32(&p.activeTasks, 1))
	defer func() { p.setActive(atomic.AddInt32(&p.activeTasks, -1)) }()

	start := time.Now()
	logger = logger.WithField("metric", task.Request.Metric)
	logger.Info("Processing task")

	if err := p.store.UpdateProgress(ctx, id, 0, "Loading dataset"); err != nil {
		logger.WithError(err).Debug("Failed to record progress")
	}

	report := p.runWithLimits(ctx, task, logger)
	task.complete(report)

	duration := time.Since(start)
	if err := p.store.Save(ctx, task); err != nil {
		logger.WithError(err).Error("Failed to save finished task")
	}

	if task.State == StateFailed {
		atomic.AddInt64(&p.failedTasks, 1)
		logger.WithFields(logrus.Fields{
			"duration":   duration,
			"error_type": report.ErrorType,
		}).Warn("Task failed")
	} else {
		atomic.AddInt64(&p.completedTasks, 1)
		logger.WithField("duration", duration).Info("Task completed")

		if p.cache != nil {
			if err := p.cache.Put(ctx, task.Request.Scope, task.Fingerprint, report); err != nil {
				logger.WithError(err).Warn("Failed to cache report")
			}
		}
	}

	if p.recorder != nil {
		p.recorder.RecordTask(string(task.Request.Metric), string(task.State), duration)
	}
	p.archive(ctx, task, logger)
}

// runWithLimits gives the computation a soft deadline it observes itself,
// and abandons it once the hard limit passes.
func (p *Processor) runWithLimits(ctx context.Context, task *Task, logger *logrus.Entry) *models.RiskReport {
	softCtx, cancel := context.WithTimeout(ctx, p.config.SoftTimeLimit)
	defer cancel()

	done := make(chan *models.RiskReport, 1)
	go func() {
		done <- p.compute(softCtx, task, logger)
	}()

	hard := time.NewTimer(p.config.HardTimeLimit)
	defer hard.Stop()

	select {
	case report := <-done:
		return report
	case <-hard.C:
		logger.WithField("hard_limit", p.config.HardTimeLimit).Error("Task exceeded hard time limit, abandoning")
		return analytics.FailureReport(task.Request.Metric, task.Request.File.DisplayName(),
			errors.NewTimeoutError(errors.CodeTimeout,
				"Computation timed out. The dataset may be too large or complex."))
	}
}

func (p *Processor) compute(ctx context.Context, task *Task, logger *logrus.Entry) (report *models.RiskReport) {
	req := task.Request
	name := req.File.DisplayName()

	defer func() {
		if r := recover(); r != nil {
			logger.WithField("panic", r).Error("Task panicked")
			report = analytics.FailureReport(req.Metric, name, errors.NewProcessingError(errors.CodeProcessing,
				fmt.Sprintf("An unexpected error occurred: %v", r)))
		}
	}()

	ds, err := p.reader.Read(ctx, req.File)
	if err != nil {
		logger.WithError(err).Warn("Failed to load dataset")
		return analytics.FailureReport(req.Metric, name, contextError(ctx, err))
	}

	progress := func(fraction float64, message string) {
		if err := p.store.UpdateProgress(ctx, task.ID, fraction, message); err != nil {
			logger.WithError(err).Debug("Failed to record progress")
		}
	}

	return p.runner.Run(ctx, req, ds, progress)
}

func (p *Processor) archive(ctx context.Context, task *Task, logger *logrus.Entry) {
	if p.archiver == nil || task.Result == nil {
		return
	}

	scope := task.Request.Scope
	if scope == "" {
		scope = storage.AnonymousScope
	}

	record := &postgres.ArchivedReport{
		TaskID:      task.ID,
		Scope:       scope,
		Dataset:     task.Request.File.DisplayName(),
		Metric:      task.Request.Metric,
		Params:      task.Request.Params(),
		State:       string(task.State),
		ErrorType:   task.Result.ErrorType,
		Warnings:    task.Result.Warnings,
		Report:      task.Result,
		SubmittedAt: task.CreatedAt,
		CompletedAt: *task.CompletedAt,
	}
	if err := p.archiver.Archive(ctx, record); err != nil {
		logger.WithError(err).Warn("Failed to archive task")
	}
}

func (p *Processor) setActive(n int32) {
	if p.recorder != nil {
		p.recorder.SetActiveTasks(float64(n))
	}
}

func (p *Processor) updateQueueDepth(ctx context.Context) {
	if p.recorder == nil {
		return
	}
	if depth, err := p.queue.Len(ctx); err == nil {
		p.recorder.SetQueueDepth(float64(depth))
	}
}

// ActiveTasks returns the number of tasks being computed.
func (p *Processor) ActiveTasks() int32 {
	return atomic.LoadInt32(&p.activeTasks)
}

// CompletedTasks returns the number of tasks that finished successfully.
func (p *Processor) CompletedTasks() int64 {
	return atomic.LoadInt64(&p.completedTasks)
}

// FailedTasks returns the number of tasks that finished with an error report.
func (p *Processor) FailedTasks() int64 {
	return atomic.LoadInt64(&p.failedTasks)
}

// contextError maps a reader error caused by the deadline to a Timeout.
func contextError(ctx context.Context, err error) error {
	if errors.AsAppError(err).Type == errors.ErrorTypeTimeout {
		return err
	}
	switch {
	case stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(ctx.Err(), context.DeadlineExceeded):
		return errors.WrapError(err, errors.ErrorTypeTimeout, errors.CodeTimeout,
			"Computation timed out. The dataset may be too large or complex.")
	case stderrors.Is(err, context.Canceled):
		return errors.WrapError(err, errors.ErrorTypeTimeout, errors.CodeCancelled, "Computation was cancelled.")
	default:
		return err
	}
}
