//go:build sqlite_cgo

package store

import (
	// CGO SQLite driver, opt-in with -tags sqlite_cgo for deployments
	// that want the C library's performance.
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteDriverName is the database/sql driver registered by the
// build-selected SQLite implementation.
const SQLiteDriverName = "sqlite3"

// BuildMode identifies which SQLite driver this binary carries.
const BuildMode = "cgo"
