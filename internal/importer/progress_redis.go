package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/almeidatech/quizbank/internal/model"
)

const redisProgressTTL = 24 * time.Hour

// RedisTracker is a ProgressTracker backed by Redis, for deployments where
// progress polling may hit a different node than the one running the import.
type RedisTracker struct {
	rdb *goredis.Client
}

// NewRedisTracker connects to Redis at addr and verifies the connection.
func NewRedisTracker(addr string) (*RedisTracker, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisTracker{rdb: rdb}, nil
}

// Close releases the Redis connection.
func (t *RedisTracker) Close() error {
	return t.rdb.Close()
}

func progressKey(importID string) string {
	return "quizbank:import_progress:" + importID
}

func (t *RedisTracker) Set(ctx context.Context, p model.BatchProgress) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	return t.rdb.Set(ctx, progressKey(p.ImportID), data, redisProgressTTL).Err()
}

func (t *RedisTracker) Get(ctx context.Context, importID string) (model.BatchProgress, bool, error) {
	data, err := t.rdb.Get(ctx, progressKey(importID)).Bytes()
	if err == goredis.Nil {
		return model.BatchProgress{}, false, nil
	}
	if err != nil {
		return model.BatchProgress{}, false, err
	}
	var p model.BatchProgress
	if err := json.Unmarshal(data, &p); err != nil {
		return model.BatchProgress{}, false, fmt.Errorf("unmarshal progress: %w", err)
	}
	return p, true, nil
}

func (t *RedisTracker) Delete(ctx context.Context, importID string) error {
	return t.rdb.Del(ctx, progressKey(importID)).Err()
}
