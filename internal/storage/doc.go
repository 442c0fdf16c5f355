// Package storage opens and configures the long-lived SQLite handle that
// backs a gate.
//
// # Storage Modes
//
// A handle is opened in one of two modes, chosen once at construction:
//
//   - InMemory(): a private ":memory:" database that lives as long as the handle
//   - OnDisk(path): a file database; an empty path resolves to
//     <data dir>/<name>.sqlite
//
// The default data directory follows XDG conventions:
//
//   - $XDG_DATA_HOME/<app>
//   - ~/.local/share/<app>
//
// # Handle
//
// A Handle pins exactly one connection. It is not safe for concurrent use on
// its own: PerformAndWait serializes every caller onto that connection, and
// Begin opens the transaction a unit of work runs in. Callers outside this
// module should go through the gate package rather than the handle.
//
// # Schema and Migrations
//
// A Schema is an ordered list of numbered migrations. The applied version is
// kept in PRAGMA user_version. Opening an older store applies the missing
// migrations; opening a newer store leaves it untouched.
//
// Migrations can be embedded and parsed with LoadSchema:
//
//	//go:embed migrations/*.sql
//	var migrations embed.FS
//
//	schema, err := storage.LoadSchema("records", migrations, "migrations")
//
// # Errors
//
// Anything that prevents a usable handle from being returned is a
// *SetupError. Those errors match ErrUnrecoverable and are not meant to be
// retried.
package storage
