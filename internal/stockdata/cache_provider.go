package stockdata

import (
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// ErrCacheMiss 缓存未命中或已过期
var ErrCacheMiss = errors.New("cache miss")

// CacheProvider 行情与分析结果缓存，值以 JSON 存储
type CacheProvider interface {
	Get(key string, dest any) error
	Set(key string, value any, expiration time.Duration) error
	Delete(key string) error
}

type inMemoryCacheItem struct {
	data      []byte
	expiresAt time.Time
}

// InMemoryCacheProvider 进程内缓存，未配置 Redis 时使用
type InMemoryCacheProvider struct {
	mu    sync.RWMutex
	items map[string]inMemoryCacheItem
	now   func() time.Time
}

func NewInMemoryCacheProvider() *InMemoryCacheProvider {
	return &InMemoryCacheProvider{items: map[string]inMemoryCacheItem{}, now: time.Now}
}

func (p *InMemoryCacheProvider) Get(key string, dest any) error {
	p.mu.RLock()
	item, ok := p.items[key]
	p.mu.RUnlock()
	if !ok || len(item.data) == 0 {
		return ErrCacheMiss
	}
	if !item.expiresAt.IsZero() && p.now().After(item.expiresAt) {
		p.mu.Lock()
		delete(p.items, key)
		p.mu.Unlock()
		return ErrCacheMiss
	}
	return json.Unmarshal(item.data, dest)
}

func (p *InMemoryCacheProvider) Set(key string, value any, expiration time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	var expiresAt time.Time
	if expiration > 0 {
		expiresAt = p.now().Add(expiration)
	}
	p.mu.Lock()
	p.items[key] = inMemoryCacheItem{data: b, expiresAt: expiresAt}
	p.mu.Unlock()
	return nil
}

func (p *InMemoryCacheProvider) Delete(key string) error {
	p.mu.Lock()
	delete(p.items, key)
	p.mu.Unlock()
	return nil
}

var (
	cacheMu       sync.RWMutex
	cacheProvider CacheProvider = NewInMemoryCacheProvider()
)

// SetCacheProvider 替换全局缓存，nil 恢复为进程内缓存
func SetCacheProvider(p CacheProvider) {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	if p == nil {
		cacheProvider = NewInMemoryCacheProvider()
		return
	}
	cacheProvider = p
}

// Cache 当前全局缓存
func Cache() CacheProvider {
	return getCacheProvider()
}

func getCacheProvider() CacheProvider {
	cacheMu.RLock()
	defer cacheMu.RUnlock()
	return cacheProvider
}
