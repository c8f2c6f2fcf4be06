package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/dgraph-io/badger/v3"

	"github.com/freeminer/freeminer-sub007/internal/vec"
)

// BadgerStore - хранилище блоков мира на BadgerDB (бэкенд по умолчанию)
type BadgerStore struct {
	db      *badger.DB
	dbPath  string
	mutex   sync.RWMutex
	isReady bool
}

// NewBadgerStore открывает хранилище в dataPath/map
func NewBadgerStore(dataPath string) (*BadgerStore, error) {
	dbPath := filepath.Join(dataPath, "map")
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	return &BadgerStore{
		db:      db,
		dbPath:  dbPath,
		isReady: true,
	}, nil
}

// Close закрывает хранилище данных
func (bs *BadgerStore) Close() error {
	bs.mutex.Lock()
	defer bs.mutex.Unlock()

	if !bs.isReady {
		return nil
	}

	bs.isReady = false
	return bs.db.Close()
}

func (bs *BadgerStore) set(key string, data []byte) error {
	bs.mutex.RLock()
	defer bs.mutex.RUnlock()

	if !bs.isReady {
		return fmt.Errorf("хранилище не готово")
	}

	err := bs.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("ошибка сохранения в BadgerDB: %w", err)
	}
	return nil
}

func (bs *BadgerStore) get(key string) ([]byte, error) {
	bs.mutex.RLock()
	defer bs.mutex.RUnlock()

	if !bs.isReady {
		return nil, fmt.Errorf("хранилище не готово")
	}

	var data []byte
	err := bs.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			data = append([]byte{}, val...)
			return nil
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}
	return data, nil
}

// SaveBlock сохраняет сериализованный блок
func (bs *BadgerStore) SaveBlock(ctx context.Context, pos vec.Vec3, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return bs.set(blockKey(pos), data)
}

// LoadBlock загружает сериализованный блок
func (bs *BadgerStore) LoadBlock(ctx context.Context, pos vec.Vec3) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return bs.get(blockKey(pos))
}

// DeleteBlock удаляет блок
func (bs *BadgerStore) DeleteBlock(ctx context.Context, pos vec.Vec3) error {
	bs.mutex.RLock()
	defer bs.mutex.RUnlock()

	if !bs.isReady {
		return fmt.Errorf("хранилище не готово")
	}
	return bs.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(blockKey(pos)))
	})
}

// ListBlocks обходит ключи с префиксом блоков без чтения значений
func (bs *BadgerStore) ListBlocks(ctx context.Context) ([]vec.Vec3, error) {
	bs.mutex.RLock()
	defer bs.mutex.RUnlock()

	if !bs.isReady {
		return nil, fmt.Errorf("хранилище не готово")
	}

	var out []vec.Vec3
	err := bs.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(blockKeyPrefix + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if p, ok := parseBlockKey(string(it.Item().Key())); ok {
				out = append(out, p)
			}
		}
		return nil
	})
	return out, err
}

// SaveMeta сохраняет метаданные окружения
func (bs *BadgerStore) SaveMeta(ctx context.Context, key string, value []byte) error {
	return bs.set(metaKey(key), value)
}

// LoadMeta загружает метаданные окружения
func (bs *BadgerStore) LoadMeta(ctx context.Context, key string) ([]byte, error) {
	return bs.get(metaKey(key))
}
