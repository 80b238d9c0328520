package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/aidrin/pkg/errors"
	"github.com/inferloop/aidrin/pkg/models"
)

func kAnonymityRequest() *models.MetricRequest {
	return &models.MetricRequest{
		Metric:           models.MetricKAnonymity,
		File:             models.FileDescriptor{Path: "patients.csv"},
		QuasiIdentifiers: []string{"zip"},
		Scope:            "alice",
	}
}

func newMemoryStore(t *testing.T) *MemoryStore {
	t.Helper()
	s, err := NewMemoryStore(nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMemoryStoreSaveAndGet(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()

	task := newTask(kAnonymityRequest(), "fp")
	require.NoError(t, s.Save(ctx, task))

	got, err := s.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, StateProcessing, got.State)
	assert.Equal(t, "Task queued", got.Status)

	// callers get copies
	got.Status = "changed"
	again, err := s.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "Task queued", again.Status)

	_, err = s.Get(ctx, "missing")
	require.Error(t, err)
	assert.Equal(t, errors.CodeTaskNotFound, errors.AsAppError(err).Code)
}

func TestMemoryStoreUpdateProgress(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()

	task := newTask(kAnonymityRequest(), "fp")
	require.NoError(t, s.Save(ctx, task))

	require.NoError(t, s.UpdateProgress(ctx, task.ID, 0.5, "Scoring zip"))
	require.NoError(t, s.UpdateProgress(ctx, task.ID, 0.2, "Late update"))

	got, err := s.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.5, got.Progress)
	assert.Equal(t, "Late update", got.Status)

	report := &models.RiskReport{Metric: models.MetricKAnonymity}
	got.complete(report)
	require.NoError(t, s.Save(ctx, got))
	require.NoError(t, s.UpdateProgress(ctx, task.ID, 0.9, "Too late"))

	final, err := s.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, final.State)
	assert.Equal(t, 1.0, final.Progress)
	assert.Equal(t, "Task completed", final.Status)

	assert.Error(t, s.UpdateProgress(ctx, "missing", 0.1, ""))
}

func TestMemoryStorePurge(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()

	finished := newTask(kAnonymityRequest(), "fp")
	finished.complete(&models.RiskReport{Metric: models.MetricKAnonymity})
	finished.UpdatedAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, s.Save(ctx, finished))

	running := newTask(kAnonymityRequest(), "fp")
	running.UpdatedAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, s.Save(ctx, running))

	n, err := s.Purge(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.Get(ctx, finished.ID)
	assert.Error(t, err)
	_, err = s.Get(ctx, running.ID)
	assert.NoError(t, err)
}

func TestMemoryStoreInvalidSchedule(t *testing.T) {
	_, err := NewMemoryStore(&StoreConfig{PurgeSchedule: "whenever"}, nil)
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidConfig, errors.AsAppError(err).Code)
}

func TestTaskCompleteWithFailedReport(t *testing.T) {
	task := newTask(kAnonymityRequest(), "fp")
	task.complete(&models.RiskReport{
		Metric:    models.MetricKAnonymity,
		ErrorType: "Selection Error",
		Error:     "no quasi-identifiers selected",
	})

	assert.Equal(t, StateFailed, task.State)
	assert.Equal(t, "Selection Error", task.Status)
	assert.Equal(t, "no quasi-identifiers selected", task.Error)
	assert.Equal(t, 1.0, task.Progress)
	require.NotNil(t, task.CompletedAt)
	assert.True(t, task.State.IsFinal())
}
