package db

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5"
)

//go:embed schema.sql
var schemaSQL string

// SchemaVersion is the current schema version. Bump it when schema.sql changes.
const SchemaVersion = 1

// Migrate creates the schema when missing and records its version. It is safe to run on
// every start; an already migrated database is left untouched.
func (db *DB) Migrate(ctx context.Context) error {
	return pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
		// Serialize concurrent migrators (serve and worker starting together)
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(7305121)`); err != nil {
			return fmt.Errorf("lock schema: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`CREATE TABLE IF NOT EXISTS schema_version (
			     version     INTEGER PRIMARY KEY,
			     applied_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
			 )`); err != nil {
			return fmt.Errorf("create schema_version: %w", err)
		}

		var current int
		if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current); err != nil {
			return fmt.Errorf("read schema version: %w", err)
		}
		if current > SchemaVersion {
			return fmt.Errorf("%w: database has version %d, binary expects %d", ErrSchemaMismatch, current, SchemaVersion)
		}
		if current == SchemaVersion {
			return nil
		}

		if _, err := tx.Exec(ctx, schemaSQL); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_version (version) VALUES ($1)`, SchemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		return nil
	})
}

// SchemaVersionApplied returns the recorded schema version, or 0 for an empty database.
func (db *DB) SchemaVersionApplied(ctx context.Context) (int, error) {
	var exists bool
	if err := db.pool.QueryRow(ctx, `SELECT to_regclass('schema_version') IS NOT NULL`).Scan(&exists); err != nil {
		return 0, fmt.Errorf("check schema_version: %w", err)
	}
	if !exists {
		return 0, nil
	}
	var version int
	if err := db.pool.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}
