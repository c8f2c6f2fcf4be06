// Package cache - горячий кэш сериализованных блоков перед хранилищем
// и рассылка инвалидаций между узлами через NATS.
//
// Использование:
//
//	c, _ := cache.NewLocalCache(64 << 20)
//	data, err := c.Get(ctx, "block:0:0:0")
//	err = c.Set(ctx, "block:0:0:0", data, 30*time.Second)
//	err = c.Delete(ctx, "block:0:0:0")
package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrCacheMiss - ключа нет в кэше
var ErrCacheMiss = errors.New("cache miss")

// Cache - кэш байтовых значений с TTL
type Cache interface {
	// Get возвращает ErrCacheMiss, если ключ не найден
	Get(ctx context.Context, key string) ([]byte, error)
	// Set сохраняет значение; ttl = 0 - без истечения
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Metrics() Metrics
	Close() error
}

// Invalidator рассылает и принимает уведомления об изменении ключей
type Invalidator interface {
	PublishInvalidation(ctx context.Context, key string) error
	SubscribeInvalidations(ctx context.Context, handler InvalidationHandler) error
	Close() error
}

// InvalidationHandler обрабатывает уведомление об инвалидации ключа
type InvalidationHandler func(key string) error

// Metrics - метрики производительности кэша
type Metrics struct {
	TotalRequests int64   `json:"total_requests"`
	CacheHits     int64   `json:"cache_hits"`
	CacheMisses   int64   `json:"cache_misses"`
	HitRatio      float64 `json:"hit_ratio"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	MaxLatencyMs  float64 `json:"max_latency_ms"`
}

// counters - общие счетчики реализаций
type counters struct {
	requests     atomic.Int64
	hits         atomic.Int64
	misses       atomic.Int64
	latencySum   atomic.Int64 // наносекунды
	latencyCount atomic.Int64
	maxLatency   atomic.Int64
}

func (c *counters) hit()  { c.requests.Add(1); c.hits.Add(1) }
func (c *counters) miss() { c.requests.Add(1); c.misses.Add(1) }

func (c *counters) recordLatency(start time.Time) {
	d := time.Since(start).Nanoseconds()
	c.latencySum.Add(d)
	c.latencyCount.Add(1)
	for {
		cur := c.maxLatency.Load()
		if d <= cur || c.maxLatency.CompareAndSwap(cur, d) {
			return
		}
	}
}

func (c *counters) snapshot() Metrics {
	m := Metrics{
		TotalRequests: c.requests.Load(),
		CacheHits:     c.hits.Load(),
		CacheMisses:   c.misses.Load(),
		MaxLatencyMs:  float64(c.maxLatency.Load()) / 1e6,
	}
	if m.TotalRequests > 0 {
		m.HitRatio = float64(m.CacheHits) / float64(m.TotalRequests)
	}
	if n := c.latencyCount.Load(); n > 0 {
		m.AvgLatencyMs = float64(c.latencySum.Load()) / float64(n) / 1e6
	}
	return m
}
