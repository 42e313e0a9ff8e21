//go:build !sqlite_cgo

package store

import (
	// Pure-Go SQLite driver, the default build. No C toolchain needed.
	_ "modernc.org/sqlite"
)

// SQLiteDriverName is the database/sql driver registered by the
// build-selected SQLite implementation.
const SQLiteDriverName = "sqlite"

// BuildMode identifies which SQLite driver this binary carries.
const BuildMode = "purego"
