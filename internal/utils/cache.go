package utils

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CacheItem 包装实际的数据，增加过期时间
type CacheItem[T any] struct {
	Value     T
	ExpiredAt time.Time
}

// ContentCache 大体积内容缓存封装（章节正文等），LRU 淘汰 + TTL
type ContentCache[T any] struct {
	storage *lru.Cache[string, CacheItem[T]]
	ttl     time.Duration
}

// NewContentCache 初始化，size 是最大缓存条数（如 1000），ttl 是数据有效期（如 1小时）
func NewContentCache[T any](size int, ttl time.Duration) *ContentCache[T] {
	// lru.New 是线程安全的
	c, _ := lru.New[string, CacheItem[T]](size)
	return &ContentCache[T]{
		storage: c,
		ttl:     ttl,
	}
}

// Get 获取缓存值，过期项视为未命中并被清除
func (c *ContentCache[T]) Get(key string) (T, bool) {
	item, ok := c.storage.Get(key)
	if !ok {
		var zero T
		return zero, false
	}
	if time.Now().After(item.ExpiredAt) {
		c.storage.Remove(key)
		var zero T
		return zero, false
	}
	return item.Value, true
}

// Set 写入缓存值
func (c *ContentCache[T]) Set(key string, value T) {
	c.storage.Add(key, CacheItem[T]{
		Value:     value,
		ExpiredAt: time.Now().Add(c.ttl),
	})
}
