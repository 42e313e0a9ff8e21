package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"
)

// CurrentSchemaVersion tracks the relational schema version.
const CurrentSchemaVersion = "1.0.0"

// Migration is one ordered schema change with per-dialect SQL.
type Migration struct {
	Version    string
	UpSQLite   string
	UpPostgres string
}

// AllMigrations contains all schema migrations. Applied in semver order.
var AllMigrations = []Migration{
	{
		Version:    "1.0.0",
		UpSQLite:   migrationV1SQLite,
		UpPostgres: migrationV1Postgres,
	},
}

const migrationV1SQLite = `
CREATE TABLE IF NOT EXISTS data_products (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    uid TEXT NOT NULL UNIQUE,
    execution_block TEXT NOT NULL,
    data TEXT NOT NULL,
    json_hash TEXT NOT NULL,
    dataproduct_file TEXT NOT NULL DEFAULT '',
    metadata_file TEXT NOT NULL DEFAULT '',
    date_created TEXT NOT NULL DEFAULT '1970-01-01',
    data_store TEXT NOT NULL DEFAULT 'dpd',
    generation INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_data_products_path
    ON data_products(dataproduct_file) WHERE dataproduct_file <> '';
CREATE UNIQUE INDEX IF NOT EXISTS idx_data_products_hash
    ON data_products(json_hash) WHERE dataproduct_file = '';
CREATE INDEX IF NOT EXISTS idx_data_products_eb ON data_products(execution_block);
CREATE INDEX IF NOT EXISTS idx_data_products_generation ON data_products(generation);

CREATE TABLE IF NOT EXISTS annotations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    data_product_uid TEXT NOT NULL,
    annotation_text TEXT NOT NULL,
    user_principal_name TEXT NOT NULL,
    timestamp_created TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    timestamp_modified TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_annotations_uid ON annotations(data_product_uid);
`

const migrationV1Postgres = `
CREATE TABLE IF NOT EXISTS data_products (
    id BIGSERIAL PRIMARY KEY,
    uid TEXT NOT NULL UNIQUE,
    execution_block VARCHAR(255) NOT NULL,
    data JSONB NOT NULL,
    json_hash CHAR(64) NOT NULL,
    dataproduct_file TEXT NOT NULL DEFAULT '',
    metadata_file TEXT NOT NULL DEFAULT '',
    date_created TEXT NOT NULL DEFAULT '1970-01-01',
    data_store TEXT NOT NULL DEFAULT 'dpd',
    generation BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_data_products_path
    ON data_products(dataproduct_file) WHERE dataproduct_file <> '';
CREATE UNIQUE INDEX IF NOT EXISTS idx_data_products_hash
    ON data_products(json_hash) WHERE dataproduct_file = '';
CREATE INDEX IF NOT EXISTS idx_data_products_eb ON data_products(execution_block);
CREATE INDEX IF NOT EXISTS idx_data_products_generation ON data_products(generation);

CREATE TABLE IF NOT EXISTS annotations (
    id BIGSERIAL PRIMARY KEY,
    data_product_uid TEXT NOT NULL,
    annotation_text TEXT NOT NULL,
    user_principal_name TEXT NOT NULL,
    timestamp_created TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    timestamp_modified TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_annotations_uid ON annotations(data_product_uid);
`

// ApplyMigrations brings the schema up to CurrentSchemaVersion,
// recording applied versions in schema_version.
func ApplyMigrations(ctx context.Context, db *sql.DB, dialect Dialect) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	applied := make(map[string]bool)
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_version")
	if err != nil {
		return fmt.Errorf("failed to read schema versions: %w", err)
	}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			_ = rows.Close()
			return err
		}
		applied[v] = true
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	pending := make([]Migration, 0, len(AllMigrations))
	for _, m := range AllMigrations {
		if !applied[m.Version] {
			pending = append(pending, m)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		vi := semver.MustParse(pending[i].Version)
		vj := semver.MustParse(pending[j].Version)
		return vi.LessThan(vj)
	})

	for _, m := range pending {
		up := m.UpSQLite
		if dialect == DialectPostgres {
			up = m.UpPostgres
		}
		if _, err := db.ExecContext(ctx, up); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", m.Version, err)
		}
		insert := "INSERT INTO schema_version (version) VALUES (?)"
		if dialect == DialectPostgres {
			insert = "INSERT INTO schema_version (version) VALUES ($1)"
		}
		if _, err := db.ExecContext(ctx, insert, m.Version); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", m.Version, err)
		}
	}
	return nil
}
