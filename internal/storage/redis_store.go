package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/freeminer/freeminer-sub007/internal/logging"
	"github.com/freeminer/freeminer-sub007/internal/vec"
)

// RedisStore хранит блоки в Redis; позиции сохраненных блоков индексируются в множестве
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// RedisConfig содержит настройки подключения к Redis
type RedisConfig struct {
	Addr      string // Адрес Redis сервера
	Password  string // Пароль (пустой если не требуется)
	DB        int    // Номер базы данных
	KeyPrefix string // Префикс для ключей
}

// DefaultRedisConfig возвращает конфигурацию по умолчанию
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:      "localhost:6379",
		KeyPrefix: "freeminer:",
	}
}

// NewRedisStore подключается к Redis и проверяет соединение
func NewRedisStore(config *RedisConfig) (*RedisStore, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}
	if config.Addr == "" {
		config.Addr = DefaultRedisConfig().Addr
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.GetStorageLogger().Info("Connected to Redis at %s", config.Addr)
	return &RedisStore{client: client, keyPrefix: config.KeyPrefix}, nil
}

func (r *RedisStore) indexKey() string {
	return r.keyPrefix + "blocks"
}

func (r *RedisStore) SaveBlock(ctx context.Context, pos vec.Vec3, data []byte) error {
	key := blockKey(pos)
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.keyPrefix+key, data, 0)
	pipe.SAdd(ctx, r.indexKey(), key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save block: %w", err)
	}
	return nil
}

func (r *RedisStore) LoadBlock(ctx context.Context, pos vec.Vec3) ([]byte, error) {
	data, err := r.client.Get(ctx, r.keyPrefix+blockKey(pos)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load block: %w", err)
	}
	return data, nil
}

func (r *RedisStore) DeleteBlock(ctx context.Context, pos vec.Vec3) error {
	key := blockKey(pos)
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.keyPrefix+key)
	pipe.SRem(ctx, r.indexKey(), key)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisStore) ListBlocks(ctx context.Context) ([]vec.Vec3, error) {
	var out []vec.Vec3
	iter := r.client.SScan(ctx, r.indexKey(), 0, "", 0).Iterator()
	for iter.Next(ctx) {
		if p, ok := parseBlockKey(iter.Val()); ok {
			out = append(out, p)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan blocks: %w", err)
	}
	return out, nil
}

func (r *RedisStore) SaveMeta(ctx context.Context, key string, value []byte) error {
	return r.client.Set(ctx, r.keyPrefix+metaKey(key), value, 0).Err()
}

func (r *RedisStore) LoadMeta(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, r.keyPrefix+metaKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return data, err
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
