package sqlitedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const versionTable = `CREATE TABLE IF NOT EXISTS schema_versions (
	name TEXT PRIMARY KEY,
	version INTEGER NOT NULL
)`

func (db *DB) ensureSchema(ctx context.Context, schema Schema) error {
	if schema.Name == "" {
		return errors.New("schema name is required")
	}
	if _, err := db.ExecRetry(ctx, versionTable); err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	var version int
	err := db.DB.QueryRowContext(ctx, "SELECT version FROM schema_versions WHERE name = ?", schema.Name).Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return db.createSchema(ctx, schema)
	case err != nil:
		return fmt.Errorf("read %s schema version: %w", schema.Name, err)
	}

	if version != schema.Version {
		return fmt.Errorf("%w: %s has version %d, expected %d (delete %s to recreate it)",
			ErrSchemaMismatch, schema.Name, version, schema.Version, db.path)
	}
	return nil
}

func (db *DB) createSchema(ctx context.Context, schema Schema) error {
	return db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, schema.SQL); err != nil {
			return fmt.Errorf("create %s schema: %w", schema.Name, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO schema_versions (name, version) VALUES (?, ?)",
			schema.Name, schema.Version,
		); err != nil {
			return fmt.Errorf("record %s schema version: %w", schema.Name, err)
		}
		return nil
	})
}
