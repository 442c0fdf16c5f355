// ABOUTME: Registers the SQLite drivers a handle can be opened with
// ABOUTME: modernc.org/sqlite is the default; mattn/go-sqlite3 needs cgo

package storage

import (
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)
