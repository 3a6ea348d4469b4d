package queue

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	pendingKey    = "formy:task:queue"
	processingKey = "formy:task:processing"
	taskDataKey   = "formy:task:data:"

	popPollInterval = 250 * time.Millisecond
	taskDataTTL     = 24 * time.Hour
)

// popScript moves the head of the pending list into the processing set in
// one step, so a crash between the two cannot lose the claim.
var popScript = redis.NewScript(`
local id = redis.call('LPOP', KEYS[1])
if not id then
	return false
end
redis.call('SADD', KEYS[2], id)
return id
`)

// Queue is the FIFO dispatch channel between the API and workers. Only task
// ids travel through it; the durable record stays in the database.
type Queue interface {
	// Push appends a task id to the pending list
	Push(ctx context.Context, taskID string) error

	// Pop claims the next task id, waiting up to timeout. Returns "" when
	// the queue stayed empty.
	Pop(ctx context.Context, timeout time.Duration) (string, error)

	// MarkComplete drops a claimed task id from the processing set
	MarkComplete(ctx context.Context, taskID string) error

	// Remove deletes a task id from the pending list, used on cancel
	Remove(ctx context.Context, taskID string) error

	// Requeue moves a claimed task id back to the pending list
	Requeue(ctx context.Context, taskID string) error

	// Length returns the pending list size
	Length(ctx context.Context) (int64, error)

	// ProcessingCount returns the number of claimed tasks
	ProcessingCount(ctx context.Context) (int64, error)

	// SetTaskData stores transient per-task fields in a hash
	SetTaskData(ctx context.Context, taskID string, fields map[string]interface{}) error

	// GetTaskData reads the transient per-task hash
	GetTaskData(ctx context.Context, taskID string) (map[string]string, error)

	// DeleteTaskData drops the transient per-task hash
	DeleteTaskData(ctx context.Context, taskID string) error
}

// RedisQueue implements Queue on a shared redis connection.
type RedisQueue struct {
	client redis.UniversalClient
}

// NewRedisQueue creates a queue on an existing connection.
func NewRedisQueue(client redis.UniversalClient) *RedisQueue {
	return &RedisQueue{client: client}
}

func (q *RedisQueue) Push(ctx context.Context, taskID string) error {
	return q.client.RPush(ctx, pendingKey, taskID).Err()
}

// Pop polls the claim script until something arrives or the timeout lapses.
// Polling instead of BLPOP keeps the pop-and-claim atomic.
func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		id, err := popScript.Run(ctx, q.client, []string{pendingKey, processingKey}).Text()
		if err == nil {
			return id, nil
		}
		if err != redis.Nil {
			return "", err
		}
		if time.Now().After(deadline) {
			return "", nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(popPollInterval):
		}
	}
}

func (q *RedisQueue) MarkComplete(ctx context.Context, taskID string) error {
	return q.client.SRem(ctx, processingKey, taskID).Err()
}

func (q *RedisQueue) Remove(ctx context.Context, taskID string) error {
	return q.client.LRem(ctx, pendingKey, 0, taskID).Err()
}

func (q *RedisQueue) Requeue(ctx context.Context, taskID string) error {
	pipe := q.client.TxPipeline()
	pipe.SRem(ctx, processingKey, taskID)
	pipe.RPush(ctx, pendingKey, taskID)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *RedisQueue) Length(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, pendingKey).Result()
}

func (q *RedisQueue) ProcessingCount(ctx context.Context) (int64, error) {
	return q.client.SCard(ctx, processingKey).Result()
}

func (q *RedisQueue) SetTaskData(ctx context.Context, taskID string, fields map[string]interface{}) error {
	key := taskDataKey + taskID
	pipe := q.client.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, taskDataTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *RedisQueue) GetTaskData(ctx context.Context, taskID string) (map[string]string, error) {
	return q.client.HGetAll(ctx, taskDataKey+taskID).Result()
}

func (q *RedisQueue) DeleteTaskData(ctx context.Context, taskID string) error {
	return q.client.Del(ctx, taskDataKey+taskID).Err()
}
