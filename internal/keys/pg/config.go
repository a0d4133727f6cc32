// Package pg implementa keys.ConfigStore sobre Postgres con escrituras
// condicionales por versión (optimistic concurrency, estilo ETag).
package pg

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/linksign/internal/keys"
)

const schema = `
CREATE TABLE IF NOT EXISTS linksign_config (
	name    TEXT PRIMARY KEY,
	value   BYTEA NOT NULL,
	version BIGINT NOT NULL DEFAULT 1
)`

type ConfigStore struct {
	pool *pgxpool.Pool
}

var _ keys.ConfigStore = (*ConfigStore)(nil)

// Open conecta al DSN y asegura el esquema.
func Open(ctx context.Context, dsn string) (*ConfigStore, error) {
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &ConfigStore{pool: pool}, nil
}

// NewWithPool envuelve un pool existente (no asegura esquema).
func NewWithPool(pool *pgxpool.Pool) *ConfigStore { return &ConfigStore{pool: pool} }

func (s *ConfigStore) Close() { s.pool.Close() }

func (s *ConfigStore) Get(ctx context.Context, name string) ([]byte, int64, error) {
	const q = `SELECT value, version FROM linksign_config WHERE name = $1`
	var (
		value   []byte
		version int64
	)
	if err := s.pool.QueryRow(ctx, q, name).Scan(&value, &version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, 0, keys.ErrConfigNotFound
		}
		return nil, 0, fmt.Errorf("config get %s: %w", name, err)
	}
	return value, version, nil
}

// Put aplica la escritura condicional: version 0 crea-si-no-existe, otra
// versión solo pisa si coincide con la actual. Cero filas afectadas en
// cualquiera de los dos casos significa que otro proceso ganó.
func (s *ConfigStore) Put(ctx context.Context, name string, value []byte, version int64) error {
	if version == 0 {
		const q = `
INSERT INTO linksign_config (name, value, version)
VALUES ($1, $2, 1)
ON CONFLICT (name) DO NOTHING`
		tag, err := s.pool.Exec(ctx, q, name, value)
		if err != nil {
			return fmt.Errorf("config create %s: %w", name, err)
		}
		if tag.RowsAffected() == 0 {
			return keys.ErrVersionConflict
		}
		return nil
	}

	const q = `
UPDATE linksign_config
SET value = $2, version = version + 1
WHERE name = $1 AND version = $3`
	tag, err := s.pool.Exec(ctx, q, name, value, version)
	if err != nil {
		return fmt.Errorf("config update %s: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return keys.ErrVersionConflict
	}
	return nil
}

func (s *ConfigStore) Delete(ctx context.Context, name string) error {
	const q = `DELETE FROM linksign_config WHERE name = $1`
	if _, err := s.pool.Exec(ctx, q, name); err != nil {
		return fmt.Errorf("config delete %s: %w", name, err)
	}
	return nil
}
