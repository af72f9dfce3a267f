package storage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"taskboard-api/domain"
)

// Cache wraps a Store with a Redis-backed read-through cache.
type Cache struct {
	base  Store
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Store wrapper using the provided Redis client and TTL.
func NewCache(base Store, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) Load(ctx context.Context, userID string) (domain.Board, error) {
	if board, ok := c.loadFromCache(ctx, userID); ok {
		return board, nil
	}

	board, err := c.base.Load(ctx, userID)
	if err != nil {
		return domain.Board{}, err
	}

	c.store(ctx, userID, board)
	return board, nil
}

// Save writes through to the backing store and then drops the cached copy.
func (c *Cache) Save(ctx context.Context, userID string, board domain.Board) error {
	if err := c.base.Save(ctx, userID, board); err != nil {
		return err
	}

	c.evict(ctx, userID)
	return nil
}

func (c *Cache) loadFromCache(ctx context.Context, userID string) (domain.Board, bool) {
	if c.redis == nil {
		return domain.Board{}, false
	}
	data, err := c.redis.Get(ctx, cacheKey(userID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, cacheKey(userID)).Err()
		}
		return domain.Board{}, false
	}
	board, err := DecodeBoard(data)
	if err != nil {
		_ = c.redis.Del(ctx, cacheKey(userID)).Err()
		return domain.Board{}, false
	}
	return board, true
}

func (c *Cache) store(ctx context.Context, userID string, board domain.Board) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := EncodeBoard(board)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, cacheKey(userID), data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, userID string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, cacheKey(userID)).Result()
}

func cacheKey(userID string) string {
	return "board-cache:" + userID
}
