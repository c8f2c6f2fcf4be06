package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
)

// LocalCache - кэш в памяти процесса на ristretto; стоимость записи - ее размер в байтах
type LocalCache struct {
	c *ristretto.Cache
	counters
}

// NewLocalCache создает кэш не больше maxBytes
func NewLocalCache(maxBytes int64) (*LocalCache, error) {
	if maxBytes <= 0 {
		maxBytes = 64 << 20
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		// Около 10 счетчиков на ожидаемую запись блока (~4 КБ)
		NumCounters: maxBytes / 4096 * 10,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("создание локального кэша: %w", err)
	}
	return &LocalCache{c: c}, nil
}

func (l *LocalCache) Get(_ context.Context, key string) ([]byte, error) {
	start := time.Now()
	defer l.recordLatency(start)

	v, ok := l.c.Get(key)
	if !ok {
		l.miss()
		return nil, ErrCacheMiss
	}
	l.hit()
	return v.([]byte), nil
}

func (l *LocalCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	buf := append([]byte(nil), value...)
	cost := int64(len(buf)) + 1
	if ttl > 0 {
		l.c.SetWithTTL(key, buf, cost, ttl)
	} else {
		l.c.Set(key, buf, cost)
	}
	// Запись в ristretto асинхронная; ждем, чтобы следующий Get ее увидел
	l.c.Wait()
	return nil
}

func (l *LocalCache) Delete(_ context.Context, key string) error {
	l.c.Del(key)
	return nil
}

func (l *LocalCache) Metrics() Metrics { return l.snapshot() }

func (l *LocalCache) Close() error {
	l.c.Close()
	return nil
}
