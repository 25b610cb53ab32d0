package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

func NewRedisClient(ctx context.Context, addr, username, password string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Username:     username,
		Password:     password,
		DB:           0,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     2,
		MinIdleConns: 1,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return rdb, nil
}

// NewWriterLocker returns the Redis locker when addr is set and the
// in-process locker otherwise. closeFn releases the Redis client.
func NewWriterLocker(ctx context.Context, addr, username, password string, ttl time.Duration) (locker Locker, closeFn func() error, err error) {
	if addr == "" {
		return NewLocalLocker(), func() error { return nil }, nil
	}

	rdb, err := NewRedisClient(ctx, addr, username, password)
	if err != nil {
		return nil, nil, err
	}
	return NewRedisLocker(rdb, ttl), rdb.Close, nil
}
