package gpulock

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"clipforge/internal/config"
)

// Open builds the lock selected by gpu.lock_backend. The returned closer
// releases backend resources such as the Redis connection pool.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Lock, io.Closer, error) {
	opts := Options{
		TTL:          time.Duration(cfg.GPU.LeaseTTLSeconds) * time.Second,
		PollInterval: time.Duration(cfg.GPU.PollIntervalMillis) * time.Millisecond,
		Logger:       logger,
	}

	switch cfg.GPU.LockBackend {
	case config.LockBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.GPU.RedisAddr,
			Password: cfg.GPU.RedisPassword,
			DB:       cfg.GPU.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("gpu lock: redis ping %s: %w", cfg.GPU.RedisAddr, err)
		}
		return New(NewRedisBackend(client, cfg.GPU.RedisKey), opts), client, nil
	case config.LockBackendMemory:
		return New(NewMemoryBackend(), opts), noopCloser{}, nil
	case config.LockBackendFlag:
		backend, err := NewFlagBackend(cfg.GPU.LockPath)
		if err != nil {
			return nil, nil, err
		}
		return New(backend, opts), noopCloser{}, nil
	default:
		backend, err := NewFileBackend(cfg.GPU.LockPath)
		if err != nil {
			return nil, nil, err
		}
		return New(backend, opts), noopCloser{}, nil
	}
}

type noopCloser struct{}

func (noopCloser) Close() error { return nil }
