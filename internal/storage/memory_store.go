package storage

import (
	"context"
	"sync"

	"github.com/freeminer/freeminer-sub007/internal/vec"
)

// MemoryStore реализует BlockStore в памяти (для тестов и временных миров)
type MemoryStore struct {
	mu     sync.RWMutex
	blocks map[vec.Vec3][]byte
	meta   map[string][]byte
}

// NewMemoryStore создает пустое хранилище в памяти
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blocks: make(map[vec.Vec3][]byte),
		meta:   make(map[string][]byte),
	}
}

func (r *MemoryStore) SaveBlock(ctx context.Context, pos vec.Vec3, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blocks[pos] = append([]byte(nil), data...)
	return nil
}

func (r *MemoryStore) LoadBlock(ctx context.Context, pos vec.Vec3) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	data, ok := r.blocks[pos]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (r *MemoryStore) DeleteBlock(ctx context.Context, pos vec.Vec3) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.blocks, pos)
	return nil
}

func (r *MemoryStore) ListBlocks(ctx context.Context) ([]vec.Vec3, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]vec.Vec3, 0, len(r.blocks))
	for p := range r.blocks {
		out = append(out, p)
	}
	return out, nil
}

func (r *MemoryStore) SaveMeta(ctx context.Context, key string, value []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.meta[key] = append([]byte(nil), value...)
	return nil
}

func (r *MemoryStore) LoadMeta(ctx context.Context, key string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.meta[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Count возвращает число сохраненных блоков
func (r *MemoryStore) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.blocks)
}

func (r *MemoryStore) Close() error { return nil }
