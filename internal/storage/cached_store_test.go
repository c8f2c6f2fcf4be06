package storage

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freeminer/freeminer-sub007/internal/cache"
	"github.com/freeminer/freeminer-sub007/internal/config"
	"github.com/freeminer/freeminer-sub007/internal/vec"
)

// loopbackInvalidator доставляет опубликованные ключи подписчикам других узлов
type loopbackInvalidator struct {
	mu        sync.Mutex
	published []string
	peers     []*loopbackInvalidator
	handler   cache.InvalidationHandler
}

func (l *loopbackInvalidator) PublishInvalidation(_ context.Context, key string) error {
	l.mu.Lock()
	l.published = append(l.published, key)
	l.mu.Unlock()
	for _, p := range l.peers {
		if p.handler != nil {
			_ = p.handler(key)
		}
	}
	return nil
}

func (l *loopbackInvalidator) SubscribeInvalidations(_ context.Context, h cache.InvalidationHandler) error {
	l.handler = h
	return nil
}

func (l *loopbackInvalidator) Close() error { return nil }

func newLocalCache(t *testing.T) cache.Cache {
	c, err := cache.NewLocalCache(1 << 20)
	require.NoError(t, err)
	return c
}

func TestCachedStoreContract(t *testing.T) {
	s, err := NewCachedStore(NewMemoryStore(), newLocalCache(t), nil, 0)
	require.NoError(t, err)
	defer s.Close()
	testBlockStore(t, s)
}

func TestCachedStoreReadThrough(t *testing.T) {
	ctx := context.Background()
	backing := NewMemoryStore()
	pos := vec.New3(1, 2, 3)
	require.NoError(t, backing.SaveBlock(ctx, pos, []byte{7}))

	s, err := NewCachedStore(backing, newLocalCache(t), nil, 0)
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < 3; i++ {
		data, err := s.LoadBlock(ctx, pos)
		require.NoError(t, err)
		assert.Equal(t, []byte{7}, data)
	}
	m := s.CacheMetrics()
	assert.Equal(t, int64(1), m.CacheMisses, "только первое чтение идет в хранилище")
	assert.Equal(t, int64(2), m.CacheHits)

	_, err = s.LoadBlock(ctx, vec.New3(9, 9, 9))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCachedStoreInvalidatesPeers(t *testing.T) {
	ctx := context.Background()
	shared := NewMemoryStore()
	pos := vec.New3(0, 0, 0)
	require.NoError(t, shared.SaveBlock(ctx, pos, []byte{1}))

	invA := &loopbackInvalidator{}
	invB := &loopbackInvalidator{}
	invA.peers = []*loopbackInvalidator{invB}
	invB.peers = []*loopbackInvalidator{invA}

	a, err := NewCachedStore(shared, newLocalCache(t), invA, 0)
	require.NoError(t, err)
	b, err := NewCachedStore(shared, newLocalCache(t), invB, 0)
	require.NoError(t, err)

	data, err := b.LoadBlock(ctx, pos)
	require.NoError(t, err)
	require.Equal(t, []byte{1}, data)

	require.NoError(t, a.SaveBlock(ctx, pos, []byte{2}))
	assert.Equal(t, []string{blockKey(pos)}, invA.published)

	data, err = b.LoadBlock(ctx, pos)
	require.NoError(t, err)
	assert.Equal(t, []byte{2}, data, "узел B не должен отдавать устаревший блок")

	require.NoError(t, a.DeleteBlock(ctx, pos))
	_, err = b.LoadBlock(ctx, pos)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpenWithLocalCache(t *testing.T) {
	s, err := Open(config.StorageConfig{Backend: "memory", Cache: config.CacheConfig{Backend: "local"}})
	require.NoError(t, err)
	defer s.Close()
	_, ok := s.(*CachedStore)
	assert.True(t, ok)

	_, err = Open(config.StorageConfig{Backend: "memory", Cache: config.CacheConfig{Backend: "memcached"}})
	assert.Error(t, err)
}
