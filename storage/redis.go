package storage

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"taskboard-api/domain"
)

// RedisStore keeps each board as a single string key without expiry.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a RedisStore on top of the given client.
func NewRedisStore(client *redis.Client) *RedisStore {
	if client == nil {
		panic("storage.NewRedisStore: client is nil")
	}
	return &RedisStore{client: client}
}

func (s *RedisStore) Load(ctx context.Context, userID string) (domain.Board, error) {
	data, err := s.client.Get(ctx, boardKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Board{}, ErrNotFound
		}
		return domain.Board{}, err
	}
	return DecodeBoard(data)
}

func (s *RedisStore) Save(ctx context.Context, userID string, board domain.Board) error {
	data, err := EncodeBoard(board)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, boardKey(userID), data, 0).Err()
}

func boardKey(userID string) string {
	return "board:" + userID
}
