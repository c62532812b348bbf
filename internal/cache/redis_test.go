package cache

import (
	"testing"

	"fund-burying-backend/internal/stockdata"
)

var _ stockdata.CacheProvider = (*RedisCacheProvider)(nil)

func TestNewRedisCacheProviderUnreachable(t *testing.T) {
	// 端口 1 上没有 Redis，应立即返回错误而不是挂起
	p, err := NewRedisCacheProvider("127.0.0.1:1", "", 0, "test:")
	if err == nil {
		p.Close()
		t.Fatal("expected connection error")
	}
}

func TestKeyPrefix(t *testing.T) {
	p := NewRedisCacheProviderFromClient(nil, "ambush:")
	if got := p.key("series:600001"); got != "ambush:series:600001" {
		t.Fatalf("key = %q", got)
	}
}
