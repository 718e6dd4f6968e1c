package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient creates a Redis client for the shared credential store and
// verifies the connection.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		// Fall back to a plain address
		opts = &redis.Options{
			Addr: url,
		}
	}

	// Token reads are tiny and infrequent
	opts.PoolSize = 4
	opts.MaxRetries = 3

	client := redis.NewClient(opts)

	if err := RedisHealthCheck(client); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// RedisHealthCheck performs a health check on Redis connection
func RedisHealthCheck(client *redis.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}

	return nil
}
