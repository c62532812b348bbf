package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"fund-burying-backend/internal/stockdata"
)

const opTimeout = 2 * time.Second

// RedisCacheProvider 基于 Redis 的 stockdata.CacheProvider
type RedisCacheProvider struct {
	client *redis.Client
	prefix string
}

// NewRedisCacheProvider 连接 Redis 并 Ping，失败返回错误由调用方降级
func NewRedisCacheProvider(addr, password string, db int, prefix string) (*RedisCacheProvider, error) {
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("Redis连接失败: %w", err)
	}
	log.Printf("[INFO][Cache] Redis连接成功: %s", addr)
	return &RedisCacheProvider{client: client, prefix: prefix}, nil
}

// NewRedisCacheProviderFromClient 复用已有客户端（测试或共享连接池）
func NewRedisCacheProviderFromClient(client *redis.Client, prefix string) *RedisCacheProvider {
	return &RedisCacheProvider{client: client, prefix: prefix}
}

func (p *RedisCacheProvider) key(k string) string {
	return p.prefix + k
}

func (p *RedisCacheProvider) Get(key string, dest any) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	data, err := p.client.Get(ctx, p.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return stockdata.ErrCacheMiss
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

func (p *RedisCacheProvider) Set(key string, value any, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	return p.client.Set(ctx, p.key(key), data, expiration).Err()
}

func (p *RedisCacheProvider) Delete(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	return p.client.Del(ctx, p.key(key)).Err()
}

// Close 关闭Redis连接
func (p *RedisCacheProvider) Close() error {
	return p.client.Close()
}
