// Package storage opens the relational store and manages its schema.
package storage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/pressgate/pressgate/internal/config"
)

// schema holds the DDL for all tables. Timestamps are stored as unix
// seconds so that range comparisons in SQL are exact.
const schema = `
CREATE TABLE IF NOT EXISTS api_keys (
	id          TEXT PRIMARY KEY,
	key         TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL DEFAULT '',
	is_active   INTEGER NOT NULL DEFAULT 0,
	expires_at  INTEGER NOT NULL,
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_api_keys_active ON api_keys (is_active, expires_at);

CREATE TABLE IF NOT EXISTS categories (
	id   TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	slug TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS articles (
	id           TEXT PRIMARY KEY,
	title        TEXT NOT NULL,
	body         TEXT NOT NULL DEFAULT '',
	category_id  TEXT REFERENCES categories(id),
	published_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_articles_category ON articles (category_id, published_at);
`

// Open connects to the SQLite database and applies the schema.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlite connect: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime.Duration())
	}

	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// Migrate applies the schema. It is idempotent.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("sqlite migrate: %w", err)
	}
	return nil
}
