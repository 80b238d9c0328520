package tasks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/aidrin/internal/analytics"
	"github.com/inferloop/aidrin/internal/privacy"
	"github.com/inferloop/aidrin/internal/storage"
	"github.com/inferloop/aidrin/internal/storage/implementations/postgres"
	"github.com/inferloop/aidrin/pkg/errors"
	"github.com/inferloop/aidrin/pkg/models"
)

type stubReader struct {
	ds        *models.Dataset
	err       error
	panicWith interface{}
}

func (r *stubReader) Read(ctx context.Context, fd models.FileDescriptor) (*models.Dataset, error) {
	if r.panicWith != nil {
		panic(r.panicWith)
	}
	return r.ds, r.err
}

type runnerFunc func(ctx context.Context, req *models.MetricRequest, ds *models.Dataset, progress privacy.ProgressFunc) *models.RiskReport

func (f runnerFunc) Run(ctx context.Context, req *models.MetricRequest, ds *models.Dataset, progress privacy.ProgressFunc) *models.RiskReport {
	return f(ctx, req, ds, progress)
}

type stubArchiver struct {
	mu      sync.Mutex
	records []*postgres.ArchivedReport
}

func (a *stubArchiver) Archive(ctx context.Context, record *postgres.ArchivedReport) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, record)
	return nil
}

func (a *stubArchiver) all() []*postgres.ArchivedReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*postgres.ArchivedReport(nil), a.records...)
}

type stubTaskRecorder struct {
	mu     sync.Mutex
	states []string
}

func (r *stubTaskRecorder) SetActiveTasks(float64) {}
func (r *stubTaskRecorder) SetQueueDepth(float64)  {}

func (r *stubTaskRecorder) RecordTask(metric, state string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, metric+"/"+state)
}

func zipDataset(t *testing.T) *models.Dataset {
	t.Helper()
	ds, err := models.FromRows("patients.csv", []string{"id", "zip"}, [][]interface{}{
		{1, "A"}, {2, "A"}, {3, "B"}, {4, "B"},
	})
	require.NoError(t, err)
	return ds
}

func quietEngine() *analytics.Engine {
	config := analytics.DefaultEngineConfig()
	config.RenderVisualizations = false
	return analytics.NewEngine(config, nil)
}

type harness struct {
	store   *MemoryStore
	queue   *ChannelQueue
	manager *Manager
	proc    *Processor
	cancel  context.CancelFunc
	done    chan struct{}
}

func startHarness(t *testing.T, config *ProcessorConfig, reader DatasetReader, runner Runner, opts ...ProcessorOption) *harness {
	t.Helper()

	h := &harness{
		store: newMemoryStore(t),
		queue: NewChannelQueue(8),
		done:  make(chan struct{}),
	}
	h.manager = NewManager(h.store, h.queue, nil, nil)
	h.proc = NewProcessor(config, h.store, h.queue, reader, runner, nil, opts...)

	var ctx context.Context
	ctx, h.cancel = context.WithCancel(context.Background())
	go func() {
		h.proc.Start(ctx)
		close(h.done)
	}()

	t.Cleanup(func() {
		h.cancel()
		<-h.done
	})
	return h
}

func (h *harness) waitFinal(t *testing.T, id string) *Task {
	t.Helper()
	var task *Task
	require.Eventually(t, func() bool {
		got, err := h.store.Get(context.Background(), id)
		if err != nil {
			return false
		}
		task = got
		return got.State.IsFinal()
	}, 5*time.Second, 10*time.Millisecond)
	return task
}

func TestNewProcessorDefaults(t *testing.T) {
	p := NewProcessor(&ProcessorConfig{SoftTimeLimit: time.Minute, HardTimeLimit: time.Second}, nil, nil, nil, nil, nil)

	assert.Equal(t, 4, p.config.Concurrency)
	assert.Equal(t, time.Minute, p.config.SoftTimeLimit)
	assert.Equal(t, time.Minute, p.config.HardTimeLimit)
	assert.Zero(t, p.ActiveTasks())
	assert.Zero(t, p.CompletedTasks())
	assert.Zero(t, p.FailedTasks())
}

func TestProcessorCompletesTask(t *testing.T) {
	cache := newResultCache(t)
	archiver := &stubArchiver{}
	recorder := &stubTaskRecorder{}

	h := startHarness(t, &ProcessorConfig{Concurrency: 2}, &stubReader{ds: zipDataset(t)}, quietEngine(),
		WithResultCache(cache), WithArchiver(archiver), WithTaskRecorder(recorder))
	ctx := context.Background()

	req := kAnonymityRequest()
	submitted, err := h.manager.Submit(ctx, req)
	require.NoError(t, err)

	task := h.waitFinal(t, submitted.ID)
	assert.Equal(t, StateCompleted, task.State)
	assert.Equal(t, 1.0, task.Progress)
	require.NotNil(t, task.Result)
	require.NotNil(t, task.Result.Headline)
	assert.Equal(t, 2.0, *task.Result.Headline)
	assert.Equal(t, int64(1), h.proc.CompletedTasks())

	report, ok, err := cache.Get(ctx, req.Scope, storage.RequestFingerprint(req))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2.0, *report.Headline)

	require.Eventually(t, func() bool { return len(archiver.all()) == 1 }, time.Second, 10*time.Millisecond)
	record := archiver.all()[0]
	assert.Equal(t, submitted.ID, record.TaskID)
	assert.Equal(t, "alice", record.Scope)
	assert.Equal(t, string(StateCompleted), record.State)
	assert.Equal(t, map[string]string{"quasi_identifiers": "zip"}, record.Params)

	require.Eventually(t, func() bool {
		recorder.mu.Lock()
		defer recorder.mu.Unlock()
		return len(recorder.states) == 1
	}, time.Second, 10*time.Millisecond)
	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	assert.Equal(t, []string{"k-anonymity/completed"}, recorder.states)
}

func TestProcessorReaderErrorFailsTask(t *testing.T) {
	cache := newResultCache(t)
	reader := &stubReader{err: errors.NewDataError(errors.CodeEmptyDataset, "Input dataset is empty.")}
	h := startHarness(t, nil, reader, quietEngine(), WithResultCache(cache))
	ctx := context.Background()

	submitted, err := h.manager.Submit(ctx, kAnonymityRequest())
	require.NoError(t, err)

	task := h.waitFinal(t, submitted.ID)
	assert.Equal(t, StateFailed, task.State)
	assert.Equal(t, "Data Error", task.Status)
	assert.Equal(t, "Input dataset is empty.", task.Error)
	assert.Equal(t, "No visualization available due to data error.", task.Result.Interpretation)
	assert.Equal(t, int64(1), h.proc.FailedTasks())

	_, ok, err := cache.Get(ctx, "alice", submitted.Fingerprint)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProcessorSoftTimeLimit(t *testing.T) {
	runner := runnerFunc(func(ctx context.Context, req *models.MetricRequest, ds *models.Dataset, progress privacy.ProgressFunc) *models.RiskReport {
		progress(0.5, "Scoring zip")
		<-ctx.Done()
		return analytics.FailureReport(req.Metric, ds.Name,
			errors.WrapError(ctx.Err(), errors.ErrorTypeTimeout, errors.CodeTimeout, "Computation timed out."))
	})

	h := startHarness(t, &ProcessorConfig{SoftTimeLimit: 30 * time.Millisecond, HardTimeLimit: 5 * time.Second},
		&stubReader{ds: zipDataset(t)}, runner)

	submitted, err := h.manager.Submit(context.Background(), kAnonymityRequest())
	require.NoError(t, err)

	task := h.waitFinal(t, submitted.ID)
	assert.Equal(t, StateFailed, task.State)
	assert.Equal(t, "Timeout Error", task.Status)
	assert.Equal(t, errors.CodeTimeout, task.Result.ErrorCode)
}

func TestProcessorHardTimeLimit(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	runner := runnerFunc(func(ctx context.Context, req *models.MetricRequest, ds *models.Dataset, progress privacy.ProgressFunc) *models.RiskReport {
		<-release
		return &models.RiskReport{Metric: req.Metric}
	})

	h := startHarness(t, &ProcessorConfig{SoftTimeLimit: 10 * time.Millisecond, HardTimeLimit: 50 * time.Millisecond},
		&stubReader{ds: zipDataset(t)}, runner)

	submitted, err := h.manager.Submit(context.Background(), kAnonymityRequest())
	require.NoError(t, err)

	task := h.waitFinal(t, submitted.ID)
	assert.Equal(t, StateFailed, task.State)
	assert.Equal(t, "Timeout Error", task.Status)
	assert.Equal(t, "No visualization available due to timeout error.", task.Result.Interpretation)
}

func TestProcessorRecoversPanic(t *testing.T) {
	h := startHarness(t, nil, &stubReader{panicWith: "boom"}, quietEngine())

	submitted, err := h.manager.Submit(context.Background(), kAnonymityRequest())
	require.NoError(t, err)

	task := h.waitFinal(t, submitted.ID)
	assert.Equal(t, StateFailed, task.State)
	assert.Equal(t, "Processing Error", task.Status)
	assert.Contains(t, task.Error, "boom")
}

func TestProcessorSkipsFinishedTasks(t *testing.T) {
	calls := 0
	var mu sync.Mutex
	runner := runnerFunc(func(ctx context.Context, req *models.MetricRequest, ds *models.Dataset, progress privacy.ProgressFunc) *models.RiskReport {
		mu.Lock()
		calls++
		mu.Unlock()
		return &models.RiskReport{Metric: req.Metric}
	})

	h := startHarness(t, &ProcessorConfig{Concurrency: 1}, &stubReader{ds: zipDataset(t)}, runner)
	ctx := context.Background()

	finished := newTask(kAnonymityRequest(), "fp")
	finished.complete(&models.RiskReport{Metric: models.MetricKAnonymity})
	require.NoError(t, h.store.Save(ctx, finished))
	require.NoError(t, h.queue.Enqueue(ctx, finished.ID))
	require.NoError(t, h.queue.Enqueue(ctx, "unknown"))

	submitted, err := h.manager.Submit(ctx, kAnonymityRequest())
	require.NoError(t, err)
	h.waitFinal(t, submitted.ID)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestContextError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	err := contextError(ctx, ctx.Err())
	assert.Equal(t, errors.CodeTimeout, errors.AsAppError(err).Code)

	cancelled, stop := context.WithCancel(context.Background())
	stop()
	err = contextError(cancelled, context.Canceled)
	assert.Equal(t, errors.CodeCancelled, errors.AsAppError(err).Code)

	plain := errors.NewDataError(errors.CodeReadFailed, "bad csv")
	assert.Equal(t, plain, contextError(context.Background(), plain))
}
