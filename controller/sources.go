package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/dastron/video-ware-sub000/core"
	"github.com/dastron/video-ware-sub000/steps"
	"github.com/dastron/video-ware-sub000/store"
)

// StoreSource pulls queued tasks from the metadata store by polling the
// tasks collection in creation order.
type StoreSource struct {
	records store.RecordStore
	logger  core.Logger
}

// NewStoreSource creates a store-polling task source.
func NewStoreSource(records store.RecordStore, logger core.Logger) *StoreSource {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &StoreSource{records: records, logger: logger}
}

// Next returns up to limit queued tasks, oldest first.
func (s *StoreSource) Next(ctx context.Context, limit int) ([]*core.Task, error) {
	res, err := s.records.List(ctx, steps.CollectionTasks, 1, limit,
		store.Filter().Eq("status", string(core.TaskStatusQueued)).String(), "created")
	if err != nil {
		return nil, fmt.Errorf("poll queued tasks: %w", err)
	}

	tasks := make([]*core.Task, 0, len(res.Items))
	for _, item := range res.Items {
		task, err := taskFromRecord(item)
		if err != nil {
			s.logger.Warn("Skipping undecodable task record", map[string]interface{}{
				"id":    item.ID(),
				"error": err.Error(),
			})
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// taskFromRecord maps a store record onto the task model.
func taskFromRecord(rec store.Record) (*core.Task, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	var task core.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, err
	}
	if task.ID == "" {
		task.ID = rec.ID()
	}
	if task.Kind == "" {
		return nil, fmt.Errorf("%w: task %s has no kind", core.ErrInvalidInput, task.ID)
	}
	return &task, nil
}

// RedisSource pulls tasks from a Redis list. Producers LPUSH serialized
// tasks; the source BRPOPs them for FIFO handoff. The task record itself
// still lives in the metadata store; the list carries work signals with the
// full task inline so the controller can start without a store read.
type RedisSource struct {
	client *redis.Client
	config RedisSourceConfig
	logger core.Logger
}

// RedisSourceConfig configures the Redis task source.
type RedisSourceConfig struct {
	// QueueKey is the Redis list key
	// Default: "mediaworker:tasks:queue"
	QueueKey string `json:"queue_key"`

	// PopTimeout bounds each blocking pop
	// Default: 1s
	PopTimeout time.Duration `json:"pop_timeout"`

	// Logger is optional
	Logger core.Logger `json:"-"`
}

// DefaultRedisSourceConfig returns default configuration.
func DefaultRedisSourceConfig() RedisSourceConfig {
	return RedisSourceConfig{
		QueueKey:   "mediaworker:tasks:queue",
		PopTimeout: time.Second,
	}
}

// NewRedisSource creates a Redis-backed task source.
// The client should already be connected.
func NewRedisSource(client *redis.Client, config *RedisSourceConfig) *RedisSource {
	if config == nil {
		defaultConfig := DefaultRedisSourceConfig()
		config = &defaultConfig
	}
	if config.QueueKey == "" {
		config.QueueKey = "mediaworker:tasks:queue"
	}
	if config.PopTimeout <= 0 {
		config.PopTimeout = time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &RedisSource{client: client, config: *config, logger: logger}
}

// Enqueue pushes a task onto the list. Used by producers and by the
// controller when re-queuing a retryable task.
func (s *RedisSource) Enqueue(ctx context.Context, task *core.Task) error {
	if task == nil || task.ID == "" {
		return fmt.Errorf("%w: task with id required", core.ErrInvalidInput)
	}
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("serialize task %s: %w", task.ID, err)
	}
	if err := s.client.LPush(ctx, s.config.QueueKey, data).Err(); err != nil {
		return fmt.Errorf("%w: enqueue task %s: %v", core.ErrUnavailable, task.ID, err)
	}
	return nil
}

// Next pops up to limit tasks. The first pop blocks up to the configured
// timeout; once the queue runs dry the batch is returned as-is.
func (s *RedisSource) Next(ctx context.Context, limit int) ([]*core.Task, error) {
	var tasks []*core.Task
	for len(tasks) < limit {
		res, err := s.client.BRPop(ctx, s.config.PopTimeout, s.config.QueueKey).Result()
		if err == redis.Nil {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return tasks, ctx.Err()
			}
			return tasks, fmt.Errorf("%w: pop task: %v", core.ErrUnavailable, err)
		}
		// BRPop returns [key, value]
		if len(res) != 2 {
			continue
		}

		var task core.Task
		if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
			s.logger.Warn("Dropping undecodable queue entry", map[string]interface{}{
				"error": err.Error(),
			})
			continue
		}
		tasks = append(tasks, &task)
	}
	return tasks, nil
}

// QueueDepth returns the number of waiting tasks.
func (s *RedisSource) QueueDepth(ctx context.Context) (int64, error) {
	n, err := s.client.LLen(ctx, s.config.QueueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: queue depth: %v", core.ErrUnavailable, err)
	}
	return n, nil
}
