// Package redisqueue implements a visibility-timeout message queue on top of
// a Redis sorted set. Members are message ids scored by the unix timestamp at
// which they become visible; receiving a message atomically pushes its score
// into the future, so competing consumers never hold the same message at the
// same time.
package redisqueue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/your-org/fleetingest/pkg/queue"
)

// claimScript pops the oldest visible message id and hides it until the
// deadline in ARGV[2], bumping its receive counter in the same round trip.
var claimScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #ids == 0 then
  return false
end
redis.call('ZADD', KEYS[1], ARGV[2], ids[1])
local count = redis.call('HINCRBY', KEYS[2], ids[1], 1)
return {ids[1], count}
`)

type Queue struct {
	client     *redis.Client
	name       string
	visibility time.Duration
}

type Config struct {
	Addr              string
	Password          string
	DB                int
	Name              string
	VisibilityTimeout time.Duration
}

// New connects to Redis and returns a queue handle.
func New(cfg Config) (*Queue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Queue{
		client:     client,
		name:       cfg.Name,
		visibility: cfg.VisibilityTimeout,
	}, nil
}

func (q *Queue) pendingKey() string  { return "queue:" + q.name + ":pending" }
func (q *Queue) receiptsKey() string { return "queue:" + q.name + ":receipts" }
func (q *Queue) bodyKey(id string) string {
	return "queue:" + q.name + ":msg:" + id
}

// Publish enqueues a message body, immediately visible.
func (q *Queue) Publish(ctx context.Context, body []byte, attributes map[string]string) error {
	id := uuid.NewString()
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.bodyKey(id), "body", body)
	for k, v := range attributes {
		pipe.HSet(ctx, q.bodyKey(id), "attr:"+k, v)
	}
	pipe.ZAdd(ctx, q.pendingKey(), redis.Z{
		Score:  float64(time.Now().UnixMilli()),
		Member: id,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish to %s: %w", q.name, err)
	}
	return nil
}

// Receive claims the next visible message, or returns (nil, nil) when none
// is due.
func (q *Queue) Receive(ctx context.Context) (*queue.Message, error) {
	now := time.Now().UnixMilli()
	hideUntil := time.Now().Add(q.visibility).UnixMilli()

	res, err := claimScript.Run(ctx, q.client,
		[]string{q.pendingKey(), q.receiptsKey()}, now, hideUntil).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim message from %s: %w", q.name, err)
	}

	parts, ok := res.([]interface{})
	if !ok || len(parts) != 2 {
		return nil, fmt.Errorf("claim message from %s: unexpected reply %v", q.name, res)
	}
	id, _ := parts[0].(string)
	count, _ := parts[1].(int64)

	fields, err := q.client.HGetAll(ctx, q.bodyKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("load message %s: %w", id, err)
	}

	attributes := map[string]string{}
	for k, v := range fields {
		if after, found := strings.CutPrefix(k, "attr:"); found {
			attributes[after] = v
		}
	}

	return &queue.Message{
		ID:            id,
		ReceiptHandle: id,
		ReceiveCount:  int(count),
		Attributes:    attributes,
		Body:          []byte(fields["body"]),
	}, nil
}

// Delete removes the message and its payload.
func (q *Queue) Delete(ctx context.Context, msg *queue.Message) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.pendingKey(), msg.ReceiptHandle)
	pipe.HDel(ctx, q.receiptsKey(), msg.ReceiptHandle)
	pipe.Del(ctx, q.bodyKey(msg.ReceiptHandle))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete message %s: %w", msg.ID, err)
	}
	return nil
}

// ChangeVisibility reschedules the message to surface again after timeout.
func (q *Queue) ChangeVisibility(ctx context.Context, msg *queue.Message, timeout time.Duration) error {
	visibleAt := float64(time.Now().Add(timeout).UnixMilli())
	err := q.client.ZAddXX(ctx, q.pendingKey(), redis.Z{
		Score:  visibleAt,
		Member: msg.ReceiptHandle,
	}).Err()
	if err != nil {
		return fmt.Errorf("extend visibility of %s: %w", msg.ID, err)
	}
	return nil
}

// Close releases the Redis connection.
func (q *Queue) Close() error {
	return q.client.Close()
}
