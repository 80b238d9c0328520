package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/aidrin/internal/storage"
	"github.com/inferloop/aidrin/internal/storage/implementations/memory"
	"github.com/inferloop/aidrin/pkg/errors"
	"github.com/inferloop/aidrin/pkg/models"
)

func newResultCache(t *testing.T) *storage.ResultCache {
	t.Helper()
	backend, err := memory.NewCache(nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	return storage.NewResultCache(backend, &storage.ResultCacheConfig{TTL: time.Minute}, nil)
}

func TestManagerSubmitQueuesTask(t *testing.T) {
	store := newMemoryStore(t)
	queue := NewChannelQueue(4)
	m := NewManager(store, queue, newResultCache(t), nil)
	ctx := context.Background()

	task, err := m.Submit(ctx, kAnonymityRequest())
	require.NoError(t, err)
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, StateProcessing, task.State)
	assert.False(t, task.Cached)
	assert.Equal(t, storage.RequestFingerprint(kAnonymityRequest()), task.Fingerprint)

	depth, err := m.QueueDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)

	id, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, task.ID, id)

	polled, err := m.Poll(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, polled.ID)
}

func TestManagerSubmitServesCacheHit(t *testing.T) {
	store := newMemoryStore(t)
	queue := NewChannelQueue(4)
	cache := newResultCache(t)
	m := NewManager(store, queue, cache, nil)
	ctx := context.Background()

	req := kAnonymityRequest()
	headline := 2.0
	require.NoError(t, cache.Put(ctx, req.Scope, storage.RequestFingerprint(req), &models.RiskReport{
		Metric:   models.MetricKAnonymity,
		Headline: &headline,
	}))

	task, err := m.Submit(ctx, req)
	require.NoError(t, err)
	assert.True(t, task.Cached)
	assert.Equal(t, StateCompleted, task.State)
	assert.Equal(t, 1.0, task.Progress)
	require.NotNil(t, task.Result)
	assert.Equal(t, 2.0, *task.Result.Headline)

	depth, err := queue.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)

	// another user's scope misses
	other := kAnonymityRequest()
	other.Scope = "bob"
	task, err = m.Submit(ctx, other)
	require.NoError(t, err)
	assert.False(t, task.Cached)
}

func TestManagerSubmitRejectsInvalidRequests(t *testing.T) {
	m := NewManager(newMemoryStore(t), NewChannelQueue(1), nil, nil)
	ctx := context.Background()

	_, err := m.Submit(ctx, nil)
	require.Error(t, err)

	_, err = m.Submit(ctx, &models.MetricRequest{Metric: "fairness", File: models.FileDescriptor{Path: "a.csv"}})
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeValidation, errors.AsAppError(err).Type)

	_, err = m.Submit(ctx, &models.MetricRequest{Metric: models.MetricKAnonymity, File: models.FileDescriptor{Path: "a.csv"}})
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeSelection, errors.AsAppError(err).Type)
}

func TestManagerPollUnknownTask(t *testing.T) {
	m := NewManager(newMemoryStore(t), NewChannelQueue(1), nil, nil)

	_, err := m.Poll(context.Background(), "nope")
	require.Error(t, err)
	assert.Equal(t, errors.CodeTaskNotFound, errors.AsAppError(err).Code)
}

func TestManagerSubmitClosedQueue(t *testing.T) {
	queue := NewChannelQueue(1)
	require.NoError(t, queue.Close())
	m := NewManager(newMemoryStore(t), queue, nil, nil)

	_, err := m.Submit(context.Background(), kAnonymityRequest())
	assert.True(t, IsQueueClosed(err))
}
