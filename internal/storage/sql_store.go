package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"github.com/freeminer/freeminer-sub007/internal/vec"
)

// Dialect - диалект SQL бэкенда
type Dialect string

const (
	DialectMySQL  Dialect = "mysql"
	DialectSQLite Dialect = "sqlite"
)

type sqlQueries struct {
	createBlocks string
	createMeta   string
	upsertBlock  string
	upsertMeta   string
}

var dialectQueries = map[Dialect]sqlQueries{
	DialectMySQL: {
		createBlocks: `
			CREATE TABLE IF NOT EXISTS blocks (
				x    INT      NOT NULL,
				y    INT      NOT NULL,
				z    INT      NOT NULL,
				data LONGBLOB NOT NULL,
				updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
				           ON UPDATE CURRENT_TIMESTAMP,
				PRIMARY KEY (x, y, z)
			) ENGINE=InnoDB`,
		createMeta: `
			CREATE TABLE IF NOT EXISTS env_meta (
				name  VARCHAR(64) PRIMARY KEY,
				value BLOB        NOT NULL
			) ENGINE=InnoDB`,
		upsertBlock: `
			INSERT INTO blocks (x, y, z, data) VALUES (?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE data = VALUES(data)`,
		upsertMeta: `
			INSERT INTO env_meta (name, value) VALUES (?, ?)
			ON DUPLICATE KEY UPDATE value = VALUES(value)`,
	},
	DialectSQLite: {
		createBlocks: `
			CREATE TABLE IF NOT EXISTS blocks (
				x    INTEGER NOT NULL,
				y    INTEGER NOT NULL,
				z    INTEGER NOT NULL,
				data BLOB    NOT NULL,
				PRIMARY KEY (x, y, z)
			)`,
		createMeta: `
			CREATE TABLE IF NOT EXISTS env_meta (
				name  TEXT PRIMARY KEY,
				value BLOB NOT NULL
			)`,
		upsertBlock: `
			INSERT INTO blocks (x, y, z, data) VALUES (?, ?, ?, ?)
			ON CONFLICT(x, y, z) DO UPDATE SET data = excluded.data`,
		upsertMeta: `
			INSERT INTO env_meta (name, value) VALUES (?, ?)
			ON CONFLICT(name) DO UPDATE SET value = excluded.value`,
	},
}

// SQLStore реализует BlockStore для MariaDB/MySQL и SQLite.
// Блоки лежат в таблице blocks с составным ключом (x, y, z).
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	q       sqlQueries
}

// NewSQLStore подключается к базе и создает таблицы, если их нет.
//
// Параметры:
//
//	dialect - DialectMySQL или DialectSQLite
//	dsn - строка подключения (user:pass@tcp(host:port)/dbname или путь к файлу)
func NewSQLStore(dialect Dialect, dsn string) (*SQLStore, error) {
	q, ok := dialectQueries[dialect]
	if !ok {
		return nil, fmt.Errorf("неизвестный SQL диалект: %s", dialect)
	}

	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к %s: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// Один писатель на файл базы
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось проверить соединение с %s: %w", dialect, err)
	}

	s := &SQLStore{db: db, dialect: dialect, q: q}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось создать таблицы: %w", err)
	}
	return s, nil
}

func (s *SQLStore) createTables() error {
	for _, query := range []string{s.q.createBlocks, s.q.createMeta} {
		if _, err := s.db.Exec(query); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) SaveBlock(ctx context.Context, pos vec.Vec3, data []byte) error {
	_, err := s.db.ExecContext(ctx, s.q.upsertBlock, pos.X, pos.Y, pos.Z, data)
	if err != nil {
		return fmt.Errorf("ошибка сохранения блока %s: %w", pos, err)
	}
	return nil
}

func (s *SQLStore) LoadBlock(ctx context.Context, pos vec.Vec3) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM blocks WHERE x = ? AND y = ? AND z = ?`, pos.X, pos.Y, pos.Z).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки блока %s: %w", pos, err)
	}
	return data, nil
}

func (s *SQLStore) DeleteBlock(ctx context.Context, pos vec.Vec3) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM blocks WHERE x = ? AND y = ? AND z = ?`, pos.X, pos.Y, pos.Z)
	return err
}

func (s *SQLStore) ListBlocks(ctx context.Context) ([]vec.Vec3, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT x, y, z FROM blocks`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []vec.Vec3
	for rows.Next() {
		var p vec.Vec3
		if err := rows.Scan(&p.X, &p.Y, &p.Z); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLStore) SaveMeta(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, s.q.upsertMeta, key, value)
	return err
}

func (s *SQLStore) LoadMeta(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM env_meta WHERE name = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return v, err
}

// Close закрывает соединение с базой данных.
func (s *SQLStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
