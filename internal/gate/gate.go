// ABOUTME: Access gate owning a store handle: shared reads, exclusive writes, destroy
// ABOUTME: Each operation is admitted, run on the handle, committed and resolved once

package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/gatedb/internal/storage"
)

// Work is a unit of work. It must only use the transaction it is given and
// must not call Perform on the same gate; the gate is not reentrant and a
// nested call deadlocks.
type Work[T any] func(ctx context.Context, tx *storage.Tx) (T, error)

// Options configure a gate. The zero value is usable.
type Options struct {
	Logger  *slog.Logger
	Metrics *Metrics
	Storage storage.Options
}

// Stats is a snapshot of the gate's admission counters.
type Stats struct {
	Waiting int64 // submitted, not yet admitted
	Readers int64 // admitted with shared access
	Writers int64 // admitted with exclusive access (0 or 1)
}

// Gate mediates all access to a store handle.
type Gate struct {
	// mu is the admission lock. RLock admits a read, Lock admits a write or
	// a state change. sync.RWMutex holds back new readers while a writer
	// waits, so a steady stream of reads cannot starve writes.
	mu     sync.RWMutex
	state  State // guarded by mu
	handle *storage.Handle

	logger  *slog.Logger
	metrics *Metrics

	waiting atomic.Int64
	readers atomic.Int64
	writers atomic.Int64
}

// Open creates the store handle and the gate that owns it. Errors match
// storage.ErrUnrecoverable: the store cannot be used and retrying will not help.
func Open(ctx context.Context, mode storage.Mode, schema *storage.Schema, name string, opts Options) (*Gate, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Storage.Logger == nil {
		opts.Storage.Logger = opts.Logger
	}

	h, err := storage.Open(ctx, mode, schema, name, opts.Storage)
	if err != nil {
		return nil, err
	}
	return New(h, opts), nil
}

// MustOpen is like Open but panics when the store cannot be opened.
func MustOpen(ctx context.Context, mode storage.Mode, schema *storage.Schema, name string, opts Options) *Gate {
	g, err := Open(ctx, mode, schema, name, opts)
	if err != nil {
		panic(fmt.Sprintf("gate: %v", err))
	}
	return g
}

// New wraps an open handle. The gate takes ownership of it.
func New(h *storage.Handle, opts Options) *Gate {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		handle:  h,
		logger:  logger.With("component", "gate", "store", h.Name()),
		metrics: opts.Metrics,
	}
}

// Perform submits work and returns immediately. The work is admitted
// according to kind, run on the store handle, and committed if it returns
// no error. The future resolves exactly once with the work's value or with:
//
//   - ErrHandleUnavailable if the gate is nil, unopened or closed
//   - ErrDatabaseDestroyed if the gate was destroyed before the work was admitted
//   - ErrUnknownKind if kind is not Read or Write
//   - a *WorkError if work failed or panicked; nothing is committed
//   - a *CommitError if the commit was rejected; nothing is committed
//
// Cancelling ctx does not interrupt work once submitted; the work sees a
// context that carries ctx's values without its cancellation.
func Perform[T any](ctx context.Context, g *Gate, kind Kind, work Work[T]) *Future[T] {
	if g == nil || g.handle == nil {
		return failed[T](ErrHandleUnavailable)
	}
	if !kind.valid() {
		return failed[T](fmt.Errorf("%w: %s", ErrUnknownKind, kind))
	}

	ctx = context.WithoutCancel(ctx)
	f := newFuture[T]()
	g.waiting.Add(1)

	go func() {
		start := time.Now()
		value, err := run(ctx, g, kind, work)
		g.metrics.observe(kind, err, time.Since(start))
		f.resolve(value, err)
	}()

	return f
}

// Do is Perform followed by waiting on ctx.
func Do[T any](ctx context.Context, g *Gate, kind Kind, work Work[T]) (T, error) {
	return Perform(ctx, g, kind, work).Wait(ctx)
}

func run[T any](ctx context.Context, g *Gate, kind Kind, work Work[T]) (result T, err error) {
	release := g.acquire(kind)
	defer release()

	switch g.state {
	case StateDestroyed:
		return result, ErrDatabaseDestroyed
	case StateClosed:
		return result, ErrHandleUnavailable
	}

	g.handle.PerformAndWait(func() {
		result, err = execute(ctx, g, kind, work)
	})
	return result, err
}

// execute runs on the handle's serialized context: begin, work, then commit
// or roll back.
func execute[T any](ctx context.Context, g *Gate, kind Kind, work Work[T]) (result T, err error) {
	tx, err := g.handle.Begin(ctx, kind == Write)
	if err != nil {
		return result, fmt.Errorf("%w: %w", ErrHandleUnavailable, err)
	}

	defer func() {
		if r := recover(); r != nil {
			g.rollback(ctx, tx)
			var zero T
			result, err = zero, &WorkError{Err: fmt.Errorf("work panicked: %v", r)}
		}
	}()

	result, err = work(ctx, tx)
	if err != nil {
		g.rollback(ctx, tx)
		var zero T
		return zero, &WorkError{Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		var zero T
		g.logger.Warn("commit rejected", "kind", kind.String(), "error", err)
		return zero, &CommitError{Err: err}
	}

	g.logger.Debug("operation committed", "kind", kind.String(), "changes", tx.HasChanges())
	return result, nil
}

func (g *Gate) rollback(ctx context.Context, tx *storage.Tx) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, storage.ErrTxDone) {
		g.logger.Warn("rollback failed", "error", err)
	}
}

// acquire admits an operation and returns the function that releases it.
func (g *Gate) acquire(kind Kind) func() {
	if kind == Read {
		g.mu.RLock()
		g.waiting.Add(-1)
		g.readers.Add(1)
		g.metrics.admitted(kind, 1)
		return func() {
			g.metrics.admitted(kind, -1)
			g.readers.Add(-1)
			g.mu.RUnlock()
		}
	}

	g.mu.Lock()
	g.waiting.Add(-1)
	g.writers.Add(1)
	g.metrics.admitted(kind, 1)
	return func() {
		g.metrics.admitted(kind, -1)
		g.writers.Add(-1)
		g.mu.Unlock()
	}
}

// Stats returns the current admission counters. It never blocks.
func (g *Gate) Stats() Stats {
	if g == nil {
		return Stats{}
	}
	return Stats{
		Waiting: g.waiting.Load(),
		Readers: g.readers.Load(),
		Writers: g.writers.Load(),
	}
}

// Path returns the resolved primary store file, or "" for in-memory stores.
func (g *Gate) Path() string {
	if g == nil || g.handle == nil {
		return ""
	}
	return g.handle.Path()
}

// Close releases the store handle but keeps its files. Later operations fail
// with ErrHandleUnavailable. Close waits for admitted operations to finish.
func (g *Gate) Close() error {
	if g == nil || g.handle == nil {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != StateActive {
		return nil
	}
	g.state = StateClosed

	g.logger.Info("store closed")
	return g.handle.Close()
}

// Destroy permanently retires the gate and deletes the store's files. It
// waits for exclusive access, so no operation is running when the state
// changes, and every operation admitted afterwards fails with
// ErrDatabaseDestroyed. Calling it again does nothing. File removal is best
// effort: missing files are skipped and failures are only logged.
func (g *Gate) Destroy() {
	if g == nil || g.handle == nil {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == StateDestroyed {
		return
	}
	wasActive := g.state == StateActive
	g.state = StateDestroyed

	if wasActive {
		if err := g.handle.Close(); err != nil {
			g.logger.Warn("closing store before destroy", "error", err)
		}
	}

	removed := 0
	for _, path := range g.handle.Artifacts() {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := os.Remove(path); err != nil {
			g.logger.Warn("removing store file", "path", path, "error", err)
			continue
		}
		removed++
	}

	g.logger.Info("store destroyed", "files_removed", removed)
}
