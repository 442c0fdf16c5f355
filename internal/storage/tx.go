// ABOUTME: Transaction view of the store handle handed to units of work
// ABOUTME: Tracks pending changes and refuses use after commit or rollback

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrReadOnly is returned by Exec on a transaction opened for reading.
// Query and QueryRow statements that write are refused by SQLite itself,
// since read transactions run with PRAGMA query_only.
var ErrReadOnly = errors.New("storage: write in read-only transaction")

// Tx is an open transaction on the handle's connection. It is only valid
// while the unit of work it was given to is running. Result sets from Query
// and QueryRow still open when the transaction ends are closed by it.
type Tx struct {
	h        *Handle
	writable bool
	dirty    bool
	done     bool
	rows     []*sql.Rows
	pending  []*Row
}

// Writable reports whether the transaction may change the store.
func (tx *Tx) Writable() bool { return tx.writable }

// HasChanges reports whether Exec ran inside this transaction.
func (tx *Tx) HasChanges() bool { return tx.dirty }

// Exec runs a statement that changes the store.
func (tx *Tx) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if tx.done {
		return nil, ErrTxDone
	}
	if !tx.writable {
		return nil, ErrReadOnly
	}

	result, err := tx.h.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	tx.dirty = true
	return result, nil
}

// Query runs a statement that returns rows.
func (tx *Tx) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if tx.done {
		return nil, ErrTxDone
	}
	rows, err := tx.h.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	tx.rows = append(tx.rows, rows)
	return rows, nil
}

// QueryRow runs a statement expected to return at most one row.
func (tx *Tx) QueryRow(ctx context.Context, query string, args ...any) *Row {
	if tx.done {
		return &Row{err: ErrTxDone}
	}
	r := &Row{row: tx.h.conn.QueryRowContext(ctx, query, args...)}
	tx.pending = append(tx.pending, r)
	return r
}

// release closes every result set the unit of work left open. An open
// *sql.Rows pins the connection and would block Handle.Close forever.
func (tx *Tx) release() {
	for _, rows := range tx.rows {
		if err := rows.Close(); err != nil {
			tx.h.logger.Debug("closing rows", "error", err)
		}
	}
	for _, r := range tx.pending {
		r.discard()
	}
	tx.rows, tx.pending = nil, nil
}

// end restores the connection after a read transaction.
func (tx *Tx) end(ctx context.Context) {
	if tx.writable {
		return
	}
	if _, err := tx.h.conn.ExecContext(ctx, "PRAGMA query_only = OFF"); err != nil {
		tx.h.logger.Warn("clearing query_only", "error", err)
	}
}

// Commit makes the transaction's changes durable. When COMMIT fails the
// transaction is rolled back so none of its changes survive.
func (tx *Tx) Commit(ctx context.Context) error {
	if tx.done {
		return ErrTxDone
	}
	tx.done = true
	tx.release()
	defer tx.end(ctx)

	if _, err := tx.h.conn.ExecContext(ctx, "COMMIT"); err != nil {
		tx.h.rollback(ctx)
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Rollback discards the transaction's changes.
func (tx *Tx) Rollback(ctx context.Context) error {
	if tx.done {
		return ErrTxDone
	}
	tx.done = true
	tx.release()
	defer tx.end(ctx)

	if _, err := tx.h.conn.ExecContext(ctx, "ROLLBACK"); err != nil {
		return fmt.Errorf("rolling back transaction: %w", err)
	}
	return nil
}

// Row is the result of QueryRow.
type Row struct {
	row     *sql.Row
	err     error
	scanned bool
}

// Scan copies the row's columns into dest. It returns sql.ErrNoRows when the
// query matched nothing.
func (r *Row) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	r.scanned = true
	return r.row.Scan(dest...)
}

// discard closes the underlying rows of a Row that was never scanned.
// sql.Row only releases its rows from Scan, and a Scan without
// destinations fails after closing them.
func (r *Row) discard() {
	if r.err != nil || r.scanned || r.row == nil {
		return
	}
	r.scanned = true
	_ = r.row.Scan()
}

// Err returns the error, if any, that was encountered while running the query.
func (r *Row) Err() error {
	if r.err != nil {
		return r.err
	}
	return r.row.Err()
}
