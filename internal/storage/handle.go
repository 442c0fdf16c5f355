// ABOUTME: Store handle factory: opens, configures and migrates one pinned SQLite connection
// ABOUTME: The handle's mutex is the serialized execution context every unit of work runs on

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Supported database/sql driver names.
const (
	DriverModernc = "sqlite"  // modernc.org/sqlite, pure Go
	DriverMattn   = "sqlite3" // github.com/mattn/go-sqlite3, requires cgo
)

// DefaultApp names the data directory used when no directory is configured.
const DefaultApp = "gatedb"

// DefaultBusyTimeout is how long SQLite waits on a locked file before failing.
const DefaultBusyTimeout = 5 * time.Second

// Options tune how a handle is opened. The zero value is usable.
type Options struct {
	Driver      string        // DriverModernc (default) or DriverMattn
	DataDir     string        // directory for derived paths; defaults to DefaultDataDir(App)
	App         string        // application name for the default data dir; defaults to DefaultApp
	BusyTimeout time.Duration // zero or negative means DefaultBusyTimeout
	Logger      *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Driver == "" {
		o.Driver = DriverModernc
	}
	if o.App == "" {
		o.App = DefaultApp
	}
	if o.BusyTimeout <= 0 {
		o.BusyTimeout = DefaultBusyTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Handle is the live connection to a store. It is not safe for concurrent
// use except through PerformAndWait.
type Handle struct {
	mu     sync.Mutex
	db     *sql.DB
	conn   *sql.Conn
	name   string
	mode   Mode
	path   string
	driver string
	closed bool
	logger *slog.Logger
}

// Open creates the store handle for name. Any failure is returned as a
// *SetupError and no handle is left open.
func Open(ctx context.Context, mode Mode, schema *Schema, name string, opts Options) (*Handle, error) {
	opts = opts.withDefaults()
	logger := opts.Logger.With("component", "storage", "store", name)

	if name == "" {
		return nil, setupErr(name, "validate", errors.New("store name is empty"))
	}
	if err := schema.Validate(); err != nil {
		return nil, setupErr(name, "parse schema", err)
	}
	if opts.Driver != DriverModernc && opts.Driver != DriverMattn {
		return nil, setupErr(name, "validate", fmt.Errorf("unsupported driver %q", opts.Driver))
	}

	path, err := ResolvePath(mode, name, opts.DataDir, opts.App)
	if err != nil {
		return nil, setupErr(name, "resolve path", err)
	}

	dsn := path
	if mode.IsInMemory() {
		dsn = ":memory:"
	}

	db, err := sql.Open(opts.Driver, dsn)
	if err != nil {
		return nil, setupErr(name, "open database", err)
	}
	// A single connection keeps an in-memory database alive and makes the
	// pinned conn the only path to the file.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, setupErr(name, "open connection", err)
	}

	h := &Handle{
		db:     db,
		conn:   conn,
		name:   name,
		mode:   mode,
		path:   path,
		driver: opts.Driver,
		logger: logger,
	}

	if err := h.configure(ctx, opts.BusyTimeout); err != nil {
		h.Close()
		return nil, setupErr(name, "configure", err)
	}

	if err := h.migrate(ctx, schema); err != nil {
		h.Close()
		return nil, setupErr(name, "migrate", err)
	}

	logger.Info("store opened",
		"mode", mode.String(),
		"path", path,
		"driver", opts.Driver,
		"schema_version", schema.Version(),
	)
	return h, nil
}

func (h *Handle) configure(ctx context.Context, busyTimeout time.Duration) error {
	pragmas := []string{"PRAGMA foreign_keys=ON"}
	if !h.mode.IsInMemory() {
		pragmas = append(pragmas,
			"PRAGMA journal_mode=WAL",
			fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeout.Milliseconds()),
		)
	}

	for _, stmt := range pragmas {
		if _, err := h.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("configure sqlite %q: %w", stmt, err)
		}
	}
	return nil
}

// migrate brings the store up to the schema version. A store that is already
// newer than the schema is left as it is.
func (h *Handle) migrate(ctx context.Context, schema *Schema) error {
	current, err := h.userVersion(ctx)
	if err != nil {
		return err
	}

	target := schema.Version()
	if current > target {
		h.logger.Warn("store is newer than schema, skipping migrations",
			"store_version", current,
			"schema_version", target,
		)
		return nil
	}

	for _, m := range schema.Migrations[current:] {
		if err := h.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("applying migration %d (%s): %w", m.Version, m.Description, err)
		}
		h.logger.Debug("applied migration", "version", m.Version, "description", m.Description)
	}
	return nil
}

func (h *Handle) applyMigration(ctx context.Context, m Migration) error {
	if _, err := h.conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("beginning migration: %w", err)
	}

	if _, err := h.conn.ExecContext(ctx, m.SQL); err != nil {
		h.rollback(ctx)
		return err
	}

	// PRAGMA arguments cannot be bound.
	if _, err := h.conn.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version=%d", m.Version)); err != nil {
		h.rollback(ctx)
		return fmt.Errorf("recording version: %w", err)
	}

	if _, err := h.conn.ExecContext(ctx, "COMMIT"); err != nil {
		h.rollback(ctx)
		return fmt.Errorf("committing migration: %w", err)
	}
	return nil
}

func (h *Handle) userVersion(ctx context.Context) (int, error) {
	var version int
	if err := h.conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("reading user_version: %w", err)
	}
	return version, nil
}

// rollback ends any open transaction. SQLite reports an error when none is
// active, which is expected after a failed COMMIT that already rolled back.
func (h *Handle) rollback(ctx context.Context) {
	if _, err := h.conn.ExecContext(ctx, "ROLLBACK"); err != nil {
		h.logger.Debug("rollback", "error", err)
	}
}

// PerformAndWait runs fn on the handle's serialized execution context and
// returns once fn has returned. fn must not call PerformAndWait again.
func (h *Handle) PerformAndWait(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn()
}

// Begin opens the transaction a unit of work runs in. Writable transactions
// take SQLite's write lock immediately; read transactions run with
// PRAGMA query_only so no statement in them can change the store. It must
// be called from inside PerformAndWait.
func (h *Handle) Begin(ctx context.Context, writable bool) (*Tx, error) {
	if h.closed {
		return nil, ErrClosed
	}

	stmt := "BEGIN DEFERRED"
	if writable {
		stmt = "BEGIN IMMEDIATE"
	}
	if _, err := h.conn.ExecContext(ctx, stmt); err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	if !writable {
		if _, err := h.conn.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
			h.rollback(ctx)
			return nil, fmt.Errorf("setting query_only: %w", err)
		}
	}
	return &Tx{h: h, writable: writable}, nil
}

// Name returns the store name.
func (h *Handle) Name() string { return h.name }

// Mode returns the mode the handle was opened with.
func (h *Handle) Mode() Mode { return h.mode }

// Path returns the resolved primary file, or "" for in-memory handles.
func (h *Handle) Path() string { return h.path }

// Artifacts lists the files that belong to the store: the primary file and
// its -shm and -wal companions. In-memory handles have none.
func (h *Handle) Artifacts() []string {
	return ArtifactPaths(h.path)
}

// Close releases the connection. It is safe to call more than once.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true

	connErr := h.conn.Close()
	dbErr := h.db.Close()
	if err := errors.Join(connErr, dbErr); err != nil {
		return fmt.Errorf("closing store: %w", err)
	}

	h.logger.Debug("store closed")
	return nil
}
