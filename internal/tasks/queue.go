package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/aidrin/pkg/constants"
	"github.com/inferloop/aidrin/pkg/errors"
)

// Queue hands task ids from the manager to processors.
type Queue interface {
	Enqueue(ctx context.Context, id string) error
	// Dequeue blocks until an id is available, ctx is done or the queue
	// is closed.
	Dequeue(ctx context.Context) (string, error)
	Len(ctx context.Context) (int64, error)
	Close() error
}

var errQueueClosed = errors.NewAppError(errors.ErrorTypeJob, errors.CodeQueueClosed, "Task queue is closed")

// IsQueueClosed reports whether err signals a closed queue.
func IsQueueClosed(err error) bool {
	appErr, ok := err.(*errors.AppError)
	return ok && appErr.Code == errors.CodeQueueClosed
}

// ChannelQueue is an in-process bounded queue.
type ChannelQueue struct {
	items  chan string
	done   chan struct{}
	once   sync.Once
	closed bool
	mu     sync.RWMutex
}

// NewChannelQueue creates a queue holding up to capacity ids.
func NewChannelQueue(capacity int) *ChannelQueue {
	if capacity <= 0 {
		capacity = constants.DefaultQueueCapacity
	}
	return &ChannelQueue{
		items: make(chan string, capacity),
		done:  make(chan struct{}),
	}
}

func (q *ChannelQueue) Enqueue(ctx context.Context, id string) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return errQueueClosed
	}

	select {
	case q.items <- id:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *ChannelQueue) Dequeue(ctx context.Context) (string, error) {
	select {
	case id := <-q.items:
		return id, nil
	default:
	}

	select {
	case id := <-q.items:
		return id, nil
	case <-q.done:
		return "", errQueueClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (q *ChannelQueue) Len(ctx context.Context) (int64, error) {
	return int64(len(q.items)), nil
}

// Close stops accepting ids. Ids already queued are dropped by consumers
// that observe the close first.
func (q *ChannelQueue) Close() error {
	q.once.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
		close(q.done)
	})
	return nil
}

// RedisQueue is a Redis list: LPUSH to enqueue, BRPOP to dequeue.
type RedisQueue struct {
	client      redis.UniversalClient
	key         string
	pollTimeout time.Duration
	logger      *logrus.Logger
	done        chan struct{}
	once        sync.Once
}

// NewRedisQueue shares an existing client. pollTimeout bounds each BRPOP
// so consumers notice cancellation.
func NewRedisQueue(client redis.UniversalClient, keyPrefix string, pollTimeout time.Duration, logger *logrus.Logger) *RedisQueue {
	if pollTimeout <= 0 {
		pollTimeout = time.Second
	}
	if logger == nil {
		logger = logrus.New()
	}

	key := "queue:tasks"
	if keyPrefix != "" {
		key = keyPrefix + ":" + key
	}

	return &RedisQueue{
		client:      client,
		key:         key,
		pollTimeout: pollTimeout,
		logger:      logger,
		done:        make(chan struct{}),
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, id string) error {
	select {
	case <-q.done:
		return errQueueClosed
	default:
	}

	if err := q.client.LPush(ctx, q.key, id).Err(); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to enqueue task")
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (string, error) {
	for {
		select {
		case <-q.done:
			return "", errQueueClosed
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		result, err := q.client.BRPop(ctx, q.pollTimeout, q.key).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			q.logger.WithError(err).Warn("BRPOP failed, retrying")
			select {
			case <-time.After(q.pollTimeout):
			case <-ctx.Done():
				return "", ctx.Err()
			}
			continue
		}

		// result is [key, value]
		if len(result) == 2 {
			return result[1], nil
		}
	}
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, errors.WrapError(err, errors.ErrorTypeStorage, "READ_FAILED", "Failed to read queue length")
	}
	return n, nil
}

// Close stops this consumer; the Redis list itself is untouched.
func (q *RedisQueue) Close() error {
	q.once.Do(func() { close(q.done) })
	return nil
}
