package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"crypto-strategy-engine/internal/model"

	"github.com/redis/go-redis/v9"
)

// RedisStatusCache 实例状态缓存，过期自动清除；MySQL 才是权威记录
type RedisStatusCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStatusCache(addr, password string, db int, ttl time.Duration) *RedisStatusCache {
	return &RedisStatusCache{
		rdb: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		ttl: ttl,
	}
}

func StatusKey(instance string) string {
	return fmt.Sprintf("engine-status-%s", instance)
}

func (c *RedisStatusCache) PutStatus(ctx context.Context, status model.InstanceStatus) error {
	encoded, err := json.Marshal(status)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, StatusKey(status.Name), string(encoded), c.ttl).Err()
}

// GetStatus 缓存未命中返回 nil, nil
func (c *RedisStatusCache) GetStatus(ctx context.Context, instance string) (*model.InstanceStatus, error) {
	res, err := c.rdb.Get(ctx, StatusKey(instance)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var status model.InstanceStatus
	if err := json.Unmarshal([]byte(res), &status); err != nil {
		return nil, fmt.Errorf("decode status %s: %w", instance, err)
	}
	return &status, nil
}

func (c *RedisStatusCache) Ping(ctx context.Context) error { return c.rdb.Ping(ctx).Err() }

func (c *RedisStatusCache) Close() error { return c.rdb.Close() }
