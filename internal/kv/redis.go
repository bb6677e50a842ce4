package kv

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisKV implements KV on top of go-redis, the pack's rate-limit/cache
// backend of choice.
type RedisKV struct {
	client *redis.Client
}

func NewRedis(addr string) *RedisKV {
	return &RedisKV{client: redis.NewClient(&redis.Options{Addr: addr})}
}

func NewRedisFromClient(client *redis.Client) *RedisKV {
	return &RedisKV{client: client}
}

func (r *RedisKV) IncrWindow(ctx context.Context, key string, ttl time.Duration) (int, error) {
	n, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("kv: incr window %s: %w", key, err)
	}
	if n == 1 {
		if err := r.client.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("kv: incr window %s: %w", key, err)
		}
	}
	return int(n), nil
}

func (r *RedisKV) ActiveSessionCount(ctx context.Context, userID string) (int, error) {
	n, err := r.client.SCard(ctx, activeSessionsKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("kv: active session count for %s: %w", userID, err)
	}
	return int(n), nil
}

func (r *RedisKV) RegisterSession(ctx context.Context, userID, sessionID string, ttl time.Duration) error {
	key := activeSessionsKey(userID)
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, key, sessionID)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("kv: register session %s for %s: %w", sessionID, userID, err)
	}
	return nil
}

func (r *RedisKV) ReleaseSession(ctx context.Context, userID, sessionID string) error {
	if err := r.client.SRem(ctx, activeSessionsKey(userID), sessionID).Err(); err != nil {
		return fmt.Errorf("kv: release session %s for %s: %w", sessionID, userID, err)
	}
	return nil
}

func activeSessionsKey(userID string) string {
	return "cac:active_sessions:" + userID
}
