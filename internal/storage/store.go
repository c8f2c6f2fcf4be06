package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/freeminer/freeminer-sub007/internal/config"
	"github.com/freeminer/freeminer-sub007/internal/vec"
	"github.com/freeminer/freeminer-sub007/internal/voxel"
)

// ErrNotFound - запись отсутствует в хранилище
var ErrNotFound = errors.New("storage: not found")

// BlockStore определяет интерфейс хранения блоков карты и метаданных окружения.
// Блоки хранятся как непрозрачные байты (см. voxel.SerializeBlock).
type BlockStore interface {
	// SaveBlock сохраняет сериализованный блок
	SaveBlock(ctx context.Context, pos vec.Vec3, data []byte) error

	// LoadBlock загружает блок; ErrNotFound, если блок ни разу не сохранялся
	LoadBlock(ctx context.Context, pos vec.Vec3) ([]byte, error)

	// DeleteBlock удаляет блок
	DeleteBlock(ctx context.Context, pos vec.Vec3) error

	// ListBlocks возвращает позиции всех сохраненных блоков
	ListBlocks(ctx context.Context) ([]vec.Vec3, error)

	// SaveMeta/LoadMeta хранят метаданные окружения (время игры, времена LBM)
	SaveMeta(ctx context.Context, key string, value []byte) error
	LoadMeta(ctx context.Context, key string) ([]byte, error)

	// Close закрывает хранилище
	Close() error
}

const blockKeyPrefix = "block"

func blockKey(pos vec.Vec3) string {
	return pos.Key(blockKeyPrefix)
}

func metaKey(key string) string {
	return "meta:" + key
}

// parseBlockKey разбирает ключ вида block:x:y:z
func parseBlockKey(key string) (vec.Vec3, bool) {
	if !strings.HasPrefix(key, blockKeyPrefix+":") {
		return vec.Vec3{}, false
	}
	var p vec.Vec3
	if _, err := fmt.Sscanf(key[len(blockKeyPrefix)+1:], "%d:%d:%d", &p.X, &p.Y, &p.Z); err != nil {
		return vec.Vec3{}, false
	}
	return p, true
}

// SaveMapBlock сериализует блок, сохраняет его и снимает флаг изменений
func SaveMapBlock(ctx context.Context, s BlockStore, b *voxel.Block) error {
	data, err := voxel.SerializeBlock(b)
	if err != nil {
		return err
	}
	if err := s.SaveBlock(ctx, b.Pos(), data); err != nil {
		return fmt.Errorf("ошибка сохранения блока %s: %w", b.Pos(), err)
	}
	b.MarkSaved()
	return nil
}

// LoadMapBlock загружает и десериализует блок.
// Возвращает ErrNotFound, если блок не сохранялся.
func LoadMapBlock(ctx context.Context, s BlockStore, pos vec.Vec3) (*voxel.Block, error) {
	data, err := s.LoadBlock(ctx, pos)
	if err != nil {
		return nil, err
	}
	return voxel.DeserializeBlock(pos, data)
}

// Open создает хранилище по конфигурации и при необходимости оборачивает его кэшем
func Open(cfg config.StorageConfig) (BlockStore, error) {
	store, err := openBackend(cfg)
	if err != nil {
		return nil, err
	}
	wrapped, err := wrapWithCache(store, cfg.Cache)
	if err != nil {
		store.Close()
		return nil, err
	}
	return wrapped, nil
}

func openBackend(cfg config.StorageConfig) (BlockStore, error) {
	switch cfg.Backend {
	case "", "badger":
		return NewBadgerStore(cfg.Path)
	case "memory":
		return NewMemoryStore(), nil
	case "redis":
		return NewRedisStore(&RedisConfig{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: "freeminer:",
		})
	case "mysql":
		return NewSQLStore(DialectMySQL, cfg.GetDSN())
	case "sqlite":
		dsn := cfg.GetDSN()
		if dsn == "" {
			dsn = cfg.Path + ".sqlite"
		}
		return NewSQLStore(DialectSQLite, dsn)
	case "mongo":
		return NewMongoStore(MongoConfig{URI: cfg.GetMongoURI(), Database: cfg.MongoDatabase})
	default:
		return nil, fmt.Errorf("неизвестный бэкенд хранения: %s", cfg.Backend)
	}
}
