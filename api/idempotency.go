package api

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDeduper remembers idempotency keys of applied actions in Redis so a
// retried request does not apply the same action twice, across instances.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	if client == nil {
		panic("api.NewRedisDeduper: client is nil")
	}
	return &RedisDeduper{client: client, ttl: ttl}
}

func dedupeKey(userID, key string) string {
	return "action-key:" + userID + ":" + key
}

// AddMany records all keys in one pipeline. The result reports, per key,
// whether it was new. On error the result holds what was recorded before
// the failure so the caller can roll those keys back.
func (r *RedisDeduper) AddMany(ctx context.Context, userID string, keys []string) ([]bool, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	results := make([]bool, len(keys))
	cmds, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range keys {
			pipe.SetNX(ctx, dedupeKey(userID, key), 1, r.ttl)
		}
		return nil
	})
	if len(cmds) != len(keys) && err == nil {
		err = fmt.Errorf("deduper pipeline mismatch: expected %d results, got %d", len(keys), len(cmds))
	}
	for i, cmd := range cmds {
		boolCmd, ok := cmd.(*redis.BoolCmd)
		if !ok {
			return results, fmt.Errorf("unexpected redis response type %T", cmd)
		}
		val, cmdErr := boolCmd.Result()
		if cmdErr != nil {
			if err == nil {
				err = cmdErr
			}
			continue
		}
		results[i] = val
	}
	return results, err
}

// Remove forgets a key so the action it guarded may be sent again.
func (r *RedisDeduper) Remove(ctx context.Context, userID, key string) error {
	return r.client.Del(ctx, dedupeKey(userID, key)).Err()
}
