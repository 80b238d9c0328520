package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/aidrin/pkg/errors"
)

// RedisStore keeps task records as JSON strings that expire after the
// result expiry, so no purge job is needed.
type RedisStore struct {
	client redis.UniversalClient
	config *StoreConfig
	prefix string
	logger *logrus.Logger
}

// NewRedisStore shares an existing client.
func NewRedisStore(client redis.UniversalClient, keyPrefix string, config *StoreConfig, logger *logrus.Logger) *RedisStore {
	if logger == nil {
		logger = logrus.New()
	}
	return &RedisStore{
		client: client,
		config: config.withDefaults(),
		prefix: keyPrefix,
		logger: logger,
	}
}

func (s *RedisStore) Save(ctx context.Context, task *Task) error {
	raw, err := json.Marshal(task)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to encode task")
	}

	if err := s.client.Set(ctx, s.key(task.ID), raw, s.config.ResultExpiry).Err(); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed,
			fmt.Sprintf("Failed to save task %s", task.ID))
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Task, error) {
	raw, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err == redis.Nil {
		return nil, taskNotFound(id)
	}
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, "READ_FAILED",
			fmt.Sprintf("Failed to read task %s", id))
	}

	var task Task
	if err := json.Unmarshal(raw, &task); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, "READ_FAILED",
			fmt.Sprintf("Failed to decode task %s", id))
	}
	return &task, nil
}

// UpdateProgress uses an optimistic transaction so a concurrent completion
// is never overwritten by a late progress update.
func (s *RedisStore) UpdateProgress(ctx context.Context, id string, progress float64, status string) error {
	key := s.key(id)

	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return taskNotFound(id)
		}
		if err != nil {
			return err
		}

		var task Task
		if err := json.Unmarshal(raw, &task); err != nil {
			return err
		}
		applyProgress(&task, progress, status)

		updated, err := json.Marshal(&task)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, redis.KeepTTL)
			return nil
		})
		return err
	}, key)
}

// Purge is a no-op; Redis expires task keys on its own.
func (s *RedisStore) Purge(ctx context.Context, olderThan time.Time) (int, error) {
	return 0, nil
}

func (s *RedisStore) key(id string) string {
	if s.prefix != "" {
		return fmt.Sprintf("%s:task:%s", s.prefix, id)
	}
	return "task:" + id
}
