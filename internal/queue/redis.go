package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atendelab/zapdesk/pkg/logging"
)

// RedisClient is a Redis-backed queue: a ready list fed by LPUSH/BRPOP, a
// delayed zset promoted on each receive, and capped failed/completed lists
// for bounded retention.
type RedisClient struct {
	rdb       redis.UniversalClient
	key       string
	retention int
	logger    *logging.Logger
}

func NewRedisClient(rdb redis.UniversalClient, key string, retention int, logger *logging.Logger) *RedisClient {
	if rdb == nil {
		panic("queue: redis client required")
	}
	if key == "" {
		key = "zapdesk:tasks"
	}
	if retention <= 0 {
		retention = 1000
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &RedisClient{rdb: rdb, key: key, retention: retention, logger: logger}
}

func (c *RedisClient) readyKey() string     { return c.key }
func (c *RedisClient) delayedKey() string   { return c.key + ":delayed" }
func (c *RedisClient) failedKey() string    { return c.key + ":failed" }
func (c *RedisClient) completedKey() string { return c.key + ":completed" }

func (c *RedisClient) Send(ctx context.Context, body string, delay time.Duration) error {
	if delay > 0 {
		due := float64(time.Now().Add(delay).UnixMilli())
		if err := c.rdb.ZAdd(ctx, c.delayedKey(), redis.Z{Score: due, Member: body}).Err(); err != nil {
			return fmt.Errorf("queue: schedule delayed: %w", err)
		}
		return nil
	}
	if err := c.rdb.LPush(ctx, c.readyKey(), body).Err(); err != nil {
		return fmt.Errorf("queue: enqueue: %w", err)
	}
	return nil
}

func (c *RedisClient) Receive(ctx context.Context, maxMessages, waitSeconds int) ([]Message, error) {
	if maxMessages <= 0 {
		maxMessages = 1
	}
	if err := c.promoteDue(ctx); err != nil {
		c.logger.Warn("failed to promote delayed tasks", "error", err)
	}

	wait := time.Duration(waitSeconds) * time.Second
	if wait <= 0 {
		wait = time.Second
	}

	var out []Message
	body, err := c.rdb.BRPop(ctx, wait, c.readyKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("queue: receive: %w", err)
	}
	// BRPOP returns [key, value].
	out = append(out, Message{Body: body[1], ReceiptHandle: body[1]})

	for len(out) < maxMessages {
		more, err := c.rdb.RPop(ctx, c.readyKey()).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				break
			}
			return out, fmt.Errorf("queue: receive batch: %w", err)
		}
		out = append(out, Message{Body: more, ReceiptHandle: more})
	}
	return out, nil
}

// promoteDue moves delayed members whose due time has passed onto the ready
// list.
func (c *RedisClient) promoteDue(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	due, err := c.rdb.ZRangeByScore(ctx, c.delayedKey(), &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
	if err != nil {
		return fmt.Errorf("queue: read delayed: %w", err)
	}
	for _, body := range due {
		removed, err := c.rdb.ZRem(ctx, c.delayedKey(), body).Result()
		if err != nil {
			return fmt.Errorf("queue: remove delayed: %w", err)
		}
		// Another consumer may promote concurrently; only the remover pushes.
		if removed == 0 {
			continue
		}
		if err := c.rdb.LPush(ctx, c.readyKey(), body).Err(); err != nil {
			return fmt.Errorf("queue: promote delayed: %w", err)
		}
	}
	return nil
}

func (c *RedisClient) Delete(ctx context.Context, receiptHandle string) error {
	pipe := c.rdb.TxPipeline()
	pipe.LPush(ctx, c.completedKey(), receiptHandle)
	pipe.LTrim(ctx, c.completedKey(), 0, int64(c.retention-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue: acknowledge: %w", err)
	}
	return nil
}

func (c *RedisClient) Fail(ctx context.Context, body, reason string) error {
	record, err := json.Marshal(map[string]string{
		"body":     body,
		"reason":   reason,
		"failedAt": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("queue: encode failed record: %w", err)
	}
	pipe := c.rdb.TxPipeline()
	pipe.LPush(ctx, c.failedKey(), record)
	pipe.LTrim(ctx, c.failedKey(), 0, int64(c.retention-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue: park failed: %w", err)
	}
	return nil
}
