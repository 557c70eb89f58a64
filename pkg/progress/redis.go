package progress

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "pipevine:progress:"

// RedisTracker stores task progress in a Redis hash per workflow, so progress
// survives process restarts and is visible to other readers.
type RedisTracker struct {
	client *redis.Client

	mu          sync.RWMutex
	subscribers []Subscriber
}

// NewRedisTracker creates a tracker backed by the Redis instance at redisURL.
func NewRedisTracker(redisURL string) (*RedisTracker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	return &RedisTracker{client: redis.NewClient(opts)}, nil
}

func (t *RedisTracker) Record(ctx context.Context, workflowID, taskID string, percentage int) error {
	err := t.client.HSet(ctx, redisKeyPrefix+workflowID, taskID, percentage).Err()
	if err != nil {
		return fmt.Errorf("failed to record progress for task %s: %w", taskID, err)
	}

	t.mu.RLock()
	subscribers := make([]Subscriber, len(t.subscribers))
	copy(subscribers, t.subscribers)
	t.mu.RUnlock()

	for _, fn := range subscribers {
		fn(workflowID, taskID, percentage)
	}

	return nil
}

func (t *RedisTracker) Get(ctx context.Context, workflowID, taskID string) (int, error) {
	value, err := t.client.HGet(ctx, redisKeyPrefix+workflowID, taskID).Result()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}

		return 0, fmt.Errorf("failed to read progress for task %s: %w", taskID, err)
	}

	percentage, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid progress value for task %s: %w", taskID, err)
	}

	return percentage, nil
}

func (t *RedisTracker) Clear(ctx context.Context, workflowID string) error {
	err := t.client.Del(ctx, redisKeyPrefix+workflowID).Err()
	if err != nil {
		return fmt.Errorf("failed to clear progress for workflow %s: %w", workflowID, err)
	}

	return nil
}

func (t *RedisTracker) Subscribe(fn Subscriber) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.subscribers = append(t.subscribers, fn)
}

// Close releases the underlying Redis connection.
func (t *RedisTracker) Close() error {
	return t.client.Close()
}
