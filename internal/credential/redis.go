package credential

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares tokens between processes through a Redis hash.
type RedisStore struct {
	redis *redis.Client
	key   string
}

func NewRedisStore(client *redis.Client, profile string) *RedisStore {
	return &RedisStore{
		redis: client,
		key:   fmt.Sprintf("credentials:%s", profile),
	}
}

func (s *RedisStore) Get(ctx context.Context) (Tokens, error) {
	values, err := s.redis.HGetAll(ctx, s.key).Result()
	if err != nil {
		return Tokens{}, fmt.Errorf("credential: redis get: %w", err)
	}
	return Tokens{
		AccessToken:  values[KeyAccessToken],
		RefreshToken: values[KeyRefreshToken],
	}, nil
}

func (s *RedisStore) Set(ctx context.Context, t Tokens) error {
	err := s.redis.HSet(ctx, s.key,
		KeyAccessToken, t.AccessToken,
		KeyRefreshToken, t.RefreshToken,
	).Err()
	if err != nil {
		return fmt.Errorf("credential: redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.redis.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("credential: redis clear: %w", err)
	}
	return nil
}
