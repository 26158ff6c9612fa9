package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"botmail/backend/internal/domain"
)

// ErrCacheMiss 缓存未命中
var ErrCacheMiss = errors.New("cache miss")

// Cache 地址解析的旁路缓存
//
// 入站回调对每封邮件都要做 address→Handle 解析，这里把解析结果
// 缓存一段时间。缓存只是加速，未命中或 Redis 故障都回落到存储层。
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache 创建 Redis 缓存实例
func NewCache(addr, password string, db int, ttl time.Duration) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Cache{client: client, ttl: ttl}, nil
}

func handleKey(address string) string {
	return fmt.Sprintf("handle:addr:%s", address)
}

// CacheHandle 缓存地址到 Handle 的解析结果
func (c *Cache) CacheHandle(ctx context.Context, handle *domain.Handle) error {
	data, err := json.Marshal(handle)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, handleKey(handle.Address), data, c.ttl).Err()
}

// GetCachedHandle 获取缓存的地址解析结果，未命中返回 ErrCacheMiss
func (c *Cache) GetCachedHandle(ctx context.Context, address string) (*domain.Handle, error) {
	data, err := c.client.Get(ctx, handleKey(address)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, err
	}

	var handle domain.Handle
	if err := json.Unmarshal([]byte(data), &handle); err != nil {
		return nil, err
	}
	return &handle, nil
}

// InvalidateHandle 在地址改名、绑定或解绑后使缓存失效
func (c *Cache) InvalidateHandle(ctx context.Context, addresses ...string) error {
	if len(addresses) == 0 {
		return nil
	}
	keys := make([]string, len(addresses))
	for i, addr := range addresses {
		keys[i] = handleKey(addr)
	}
	return c.client.Del(ctx, keys...).Err()
}

// Ping 测试 Redis 连接
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close 关闭 Redis 连接
func (c *Cache) Close() error {
	return c.client.Close()
}
