package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/freeminer/freeminer-sub007/internal/cache"
	"github.com/freeminer/freeminer-sub007/internal/config"
	"github.com/freeminer/freeminer-sub007/internal/logging"
	"github.com/freeminer/freeminer-sub007/internal/vec"
)

// CachedStore - сквозной кэш блоков перед BlockStore.
// Запись идет в хранилище, затем обновляет кэш и рассылает инвалидацию другим узлам.
type CachedStore struct {
	BlockStore
	cache       cache.Cache
	invalidator cache.Invalidator
	ttl         time.Duration
	cancel      context.CancelFunc
}

// NewCachedStore оборачивает store; invalidator может быть nil
func NewCachedStore(store BlockStore, c cache.Cache, invalidator cache.Invalidator, ttl time.Duration) (*CachedStore, error) {
	ctx, cancel := context.WithCancel(context.Background())
	cs := &CachedStore{BlockStore: store, cache: c, invalidator: invalidator, ttl: ttl, cancel: cancel}
	if invalidator != nil {
		err := invalidator.SubscribeInvalidations(ctx, func(key string) error {
			return c.Delete(context.Background(), key)
		})
		if err != nil {
			cancel()
			return nil, err
		}
	}
	return cs, nil
}

func (s *CachedStore) LoadBlock(ctx context.Context, pos vec.Vec3) ([]byte, error) {
	key := blockKey(pos)
	data, err := s.cache.Get(ctx, key)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		logging.GetStorageLogger().Warn("Кэш недоступен для %s: %v", key, err)
	}

	data, err = s.BlockStore.LoadBlock(ctx, pos)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
		logging.GetStorageLogger().Warn("Не удалось закэшировать %s: %v", key, err)
	}
	return data, nil
}

func (s *CachedStore) SaveBlock(ctx context.Context, pos vec.Vec3, data []byte) error {
	if err := s.BlockStore.SaveBlock(ctx, pos, data); err != nil {
		return err
	}
	key := blockKey(pos)
	if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
		_ = s.cache.Delete(ctx, key)
	}
	s.invalidate(ctx, key)
	return nil
}

func (s *CachedStore) DeleteBlock(ctx context.Context, pos vec.Vec3) error {
	if err := s.BlockStore.DeleteBlock(ctx, pos); err != nil {
		return err
	}
	key := blockKey(pos)
	_ = s.cache.Delete(ctx, key)
	s.invalidate(ctx, key)
	return nil
}

func (s *CachedStore) invalidate(ctx context.Context, key string) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.PublishInvalidation(ctx, key); err != nil {
		logging.GetStorageLogger().Warn("Инвалидация %s не разослана: %v", key, err)
	}
}

// CacheMetrics возвращает метрики кэша
func (s *CachedStore) CacheMetrics() cache.Metrics {
	return s.cache.Metrics()
}

func (s *CachedStore) Close() error {
	s.cancel()
	if s.invalidator != nil {
		_ = s.invalidator.Close()
	}
	_ = s.cache.Close()
	return s.BlockStore.Close()
}

// wrapWithCache включает кэш по конфигурации; при пустом backend возвращает store как есть
func wrapWithCache(store BlockStore, cfg config.CacheConfig) (BlockStore, error) {
	var (
		c   cache.Cache
		err error
	)
	switch cfg.Backend {
	case "":
		return store, nil
	case "local":
		c, err = cache.NewLocalCache(cfg.MaxBytes)
	case "redis":
		c, err = cache.NewRedisCache(context.Background(), cache.RedisConfig{Addr: cfg.RedisAddr})
	default:
		err = fmt.Errorf("неизвестный бэкенд кэша: %s", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	var inv cache.Invalidator
	if cfg.InvalidationURL != "" {
		nodeID := cfg.NodeID
		if nodeID == "" {
			nodeID = fmt.Sprintf("node-%d", time.Now().UnixNano())
		}
		n, err := cache.NewNATSInvalidator(cache.InvalidatorConfig{NATSURL: cfg.InvalidationURL}, nodeID)
		if err != nil {
			c.Close()
			return nil, err
		}
		inv = n
	}
	return NewCachedStore(store, c, inv, time.Duration(cfg.TTLSeconds)*time.Second)
}
