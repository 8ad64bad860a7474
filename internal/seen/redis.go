package seen

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "newswire:seen:"

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// Redis shares seen guids between fetcher processes.
type Redis struct {
	client *redis.Client
}

func NewRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	return &Redis{client: client}, nil
}

// Key is the redis key holding the seen marker for one guid.
func Key(medium, guid string) string {
	return keyPrefix + medium + ":" + guid
}

func (r *Redis) Seen(ctx context.Context, medium, guid string) (bool, error) {
	n, err := r.client.Exists(ctx, Key(medium, guid)).Result()
	if err != nil {
		return false, fmt.Errorf("check seen key: %w", err)
	}
	return n > 0, nil
}

func (r *Redis) Mark(ctx context.Context, medium, guid string, ttl time.Duration) error {
	if err := r.client.Set(ctx, Key(medium, guid), "1", ttl).Err(); err != nil {
		return fmt.Errorf("set seen key: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
