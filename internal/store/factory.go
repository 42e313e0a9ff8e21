package store

import (
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/rs/zerolog"
)

// Backend names a store implementation in configuration.
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
)

// Open builds the configured MetadataStore. An unreachable PostgreSQL
// degrades to the in-memory store so the catalog still serves volume
// metadata; SQLite failures are hard errors since they point at a local
// misconfiguration rather than a network blip.
func Open(backend Backend, dsn string, log zerolog.Logger) (MetadataStore, error) {
	switch backend {
	case BackendMemory, "":
		return NewMemoryStore(), nil

	case BackendSQLite:
		s, err := NewSQLStore(SQLiteDriverName, dsn, DialectSQLite)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		log.Info().Str("driver", SQLiteDriverName).Str("build", BuildMode).Msg("sqlite metadata store ready")
		return s, nil

	case BackendPostgres:
		s, err := NewSQLStore("pgx", dsn, DialectPostgres)
		if err != nil {
			log.Warn().Err(err).Msg("postgres unreachable, falling back to in-memory metadata store")
			return NewMemoryStore(), nil
		}
		log.Info().Msg("postgres metadata store ready")
		return s, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}
