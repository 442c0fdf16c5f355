// ABOUTME: Tests for the access gate
// ABOUTME: Covers admission, commit semantics, lifecycle and file cleanup

package gate

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/2389/gatedb/internal/storage"
)

const waitTimeout = 3 * time.Second

var testSchema = storage.NewSchema("gate-test",
	`CREATE TABLE records (id TEXT PRIMARY KEY, name TEXT NOT NULL DEFAULT '');
	 CREATE TABLE counters (id TEXT PRIMARY KEY, n INTEGER NOT NULL);
	 INSERT INTO counters (id, n) VALUES ('shared', 0);`,
	`CREATE TABLE parents (id TEXT PRIMARY KEY);
	 CREATE TABLE children (
		id TEXT PRIMARY KEY,
		parent_id TEXT NOT NULL REFERENCES parents(id) DEFERRABLE INITIALLY DEFERRED
	 );`,
)

// newTestGate opens an in-memory gate that is destroyed when the test ends.
func newTestGate(t *testing.T) *Gate {
	t.Helper()

	g, err := Open(context.Background(), storage.InMemory(), testSchema, "test", Options{})
	require.NoError(t, err)
	t.Cleanup(g.Destroy)
	return g
}

// newDiskGate opens an on-disk gate named name inside a temp dir.
func newDiskGate(t *testing.T, name string) *Gate {
	t.Helper()

	opts := Options{Storage: storage.Options{DataDir: t.TempDir()}}
	g, err := Open(context.Background(), storage.OnDisk(""), testSchema, name, opts)
	require.NoError(t, err)
	t.Cleanup(g.Destroy)
	return g
}

func insertRecord(id string) Work[struct{}] {
	return func(ctx context.Context, tx *storage.Tx) (struct{}, error) {
		_, err := tx.Exec(ctx, `INSERT INTO records (id) VALUES (?)`, id)
		return struct{}{}, err
	}
}

func fetchRecord(id string) Work[string] {
	return func(ctx context.Context, tx *storage.Tx) (string, error) {
		var got string
		err := tx.QueryRow(ctx, `SELECT id FROM records WHERE id = ?`, id).Scan(&got)
		return got, err
	}
}

func countRows(table string) Work[int] {
	return func(ctx context.Context, tx *storage.Tx) (int, error) {
		var n int
		err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n)
		return n, err
	}
}

func TestPerform_WriteThenRead(t *testing.T) {
	g := newTestGate(t)
	ctx := context.Background()

	_, err := Do(ctx, g, Write, insertRecord("a"))
	require.NoError(t, err)

	got, err := Do(ctx, g, Read, fetchRecord("a"))
	require.NoError(t, err)
	assert.Equal(t, "a", got)
}

func TestScenario_WalletLifecycle(t *testing.T) {
	g := newDiskGate(t, "wallet")
	ctx := context.Background()
	assert.Equal(t, "wallet.sqlite", filepath.Base(g.Path()))

	_, err := Perform(ctx, g, Write, insertRecord("a")).Wait(ctx)
	require.NoError(t, err)

	got, err := Perform(ctx, g, Read, fetchRecord("a")).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", got)

	g.Destroy()

	var called atomic.Bool
	_, err = Perform(ctx, g, Read, func(ctx context.Context, tx *storage.Tx) (string, error) {
		called.Store(true)
		return "", nil
	}).Wait(ctx)
	assert.ErrorIs(t, err, ErrDatabaseDestroyed)
	assert.False(t, called.Load(), "work must not run after destroy")
}

func TestPerform_ConcurrentWritesAreNotLost(t *testing.T) {
	g := newTestGate(t)
	ctx := context.Background()

	increment := func(by int) Work[struct{}] {
		return func(ctx context.Context, tx *storage.Tx) (struct{}, error) {
			var n int
			if err := tx.QueryRow(ctx, `SELECT n FROM counters WHERE id = 'shared'`).Scan(&n); err != nil {
				return struct{}{}, err
			}
			// Give a competing write every chance to interleave.
			time.Sleep(time.Millisecond)
			_, err := tx.Exec(ctx, `UPDATE counters SET n = ? WHERE id = 'shared'`, n+by)
			return struct{}{}, err
		}
	}

	var eg errgroup.Group
	want := 0
	for i := 1; i <= 20; i++ {
		want += i
		by := i
		eg.Go(func() error {
			_, err := Perform(ctx, g, Write, increment(by)).Result()
			return err
		})
	}
	require.NoError(t, eg.Wait())

	got, err := Do(ctx, g, Read, func(ctx context.Context, tx *storage.Tx) (int, error) {
		var n int
		err := tx.QueryRow(ctx, `SELECT n FROM counters WHERE id = 'shared'`).Scan(&n)
		return n, err
	})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestPerform_MutualExclusion(t *testing.T) {
	g := newTestGate(t)
	ctx := context.Background()

	var active, violations atomic.Int64

	enter := func() {
		if active.Add(1) != 1 {
			violations.Add(1)
		}
	}
	leave := func() { active.Add(-1) }

	var eg errgroup.Group
	for i := 0; i < 50; i++ {
		if i%3 == 0 {
			eg.Go(func() error {
				_, err := Perform(ctx, g, Write, func(ctx context.Context, tx *storage.Tx) (struct{}, error) {
					enter()
					defer leave()
					s := g.Stats()
					if s.Readers != 0 || s.Writers != 1 {
						violations.Add(1)
					}
					_, err := tx.Exec(ctx, `UPDATE counters SET n = n + 1 WHERE id = 'shared'`)
					return struct{}{}, err
				}).Result()
				return err
			})
			continue
		}
		eg.Go(func() error {
			_, err := Perform(ctx, g, Read, func(ctx context.Context, tx *storage.Tx) (int, error) {
				enter()
				defer leave()
				if g.Stats().Writers != 0 {
					violations.Add(1)
				}
				return countRows("records")(ctx, tx)
			}).Result()
			return err
		})
	}
	require.NoError(t, eg.Wait())

	assert.Zero(t, violations.Load())
}

func TestPerform_ReadsAreAdmittedTogether(t *testing.T) {
	g := newTestGate(t)
	ctx := context.Background()

	const readers = 5
	release := make(chan struct{})

	futures := make([]*Future[int], 0, readers)
	for i := 0; i < readers; i++ {
		futures = append(futures, Perform(ctx, g, Read, func(ctx context.Context, tx *storage.Tx) (int, error) {
			<-release
			return countRows("records")(ctx, tx)
		}))
	}

	// One read holds the handle; the rest are admitted and queued behind it,
	// none of them held back by the admission lock.
	require.Eventually(t, func() bool {
		return g.Stats().Readers == readers
	}, waitTimeout, time.Millisecond)
	assert.Zero(t, g.Stats().Waiting)

	write := Perform(ctx, g, Write, insertRecord("after-reads"))
	require.Eventually(t, func() bool {
		return g.Stats().Waiting == 1
	}, waitTimeout, time.Millisecond)
	assert.Zero(t, g.Stats().Writers, "write must wait for admitted reads")

	close(release)
	for _, f := range futures {
		n, err := f.Result()
		require.NoError(t, err)
		assert.Zero(t, n, "reads admitted before the write must not see it")
	}
	_, err := write.Result()
	require.NoError(t, err)
}

func TestPerform_WriteExcludesReads(t *testing.T) {
	g := newTestGate(t)
	ctx := context.Background()

	release := make(chan struct{})
	write := Perform(ctx, g, Write, func(ctx context.Context, tx *storage.Tx) (struct{}, error) {
		if _, err := tx.Exec(ctx, `INSERT INTO records (id) VALUES ('w')`); err != nil {
			return struct{}{}, err
		}
		<-release
		return struct{}{}, nil
	})
	require.Eventually(t, func() bool {
		return g.Stats().Writers == 1
	}, waitTimeout, time.Millisecond)

	reads := []*Future[int]{
		Perform(ctx, g, Read, countRows("records")),
		Perform(ctx, g, Read, countRows("records")),
		Perform(ctx, g, Read, countRows("records")),
	}
	require.Eventually(t, func() bool {
		return g.Stats().Waiting == 3
	}, waitTimeout, time.Millisecond)
	assert.Zero(t, g.Stats().Readers)

	close(release)
	_, err := write.Result()
	require.NoError(t, err)

	for _, f := range reads {
		n, err := f.Result()
		require.NoError(t, err)
		assert.Equal(t, 1, n, "reads admitted after the write see it committed")
	}
}

func TestPerform_AfterDestroyNeverRunsWork(t *testing.T) {
	g := newTestGate(t)
	ctx := context.Background()
	g.Destroy()

	var calls atomic.Int64
	work := func(ctx context.Context, tx *storage.Tx) (struct{}, error) {
		calls.Add(1)
		return struct{}{}, nil
	}

	for _, kind := range []Kind{Read, Write, Read, Write} {
		_, err := Do(ctx, g, kind, work)
		assert.ErrorIs(t, err, ErrDatabaseDestroyed)
	}
	assert.Zero(t, calls.Load())
}

func TestDestroy_Idempotent(t *testing.T) {
	g := newDiskGate(t, "twice")
	path := g.Path()

	g.Destroy()
	assert.NoFileExists(t, path)

	// Recreate the primary file: a second Destroy must not touch it.
	require.NoError(t, os.WriteFile(path, []byte("not ours"), 0644))
	g.Destroy()
	assert.FileExists(t, path)
}

func TestDestroy_RemovesStoreFiles(t *testing.T) {
	g := newDiskGate(t, "files")
	ctx := context.Background()

	_, err := Do(ctx, g, Write, insertRecord("a"))
	require.NoError(t, err)

	path := g.Path()
	paths := storage.ArtifactPaths(path)
	for _, p := range paths[1:] {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			require.NoError(t, os.WriteFile(p, nil, 0644))
		}
	}
	for _, p := range paths {
		require.FileExists(t, p)
	}

	g.Destroy()

	for _, p := range paths {
		assert.NoFileExists(t, p)
	}
}

func TestDestroy_MissingFilesAreIgnored(t *testing.T) {
	g := newDiskGate(t, "gone")

	for _, p := range storage.ArtifactPaths(g.Path()) {
		os.Remove(p)
	}

	assert.NotPanics(t, g.Destroy)
	_, err := Do(context.Background(), g, Read, countRows("records"))
	assert.ErrorIs(t, err, ErrDatabaseDestroyed)
}

func TestDestroy_WorkLeftRowsOpen(t *testing.T) {
	g := newDiskGate(t, "open-rows")
	path := g.Path()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	_, err := Do(ctx, g, Write, insertRecord("a"))
	require.NoError(t, err)

	_, err = Do(ctx, g, Read, func(ctx context.Context, tx *storage.Tx) (bool, error) {
		rows, err := tx.Query(ctx, `SELECT id FROM records`)
		if err != nil {
			return false, err
		}
		return rows.Next(), nil
	})
	require.NoError(t, err)

	destroyed := make(chan struct{})
	go func() {
		g.Destroy()
		close(destroyed)
	}()

	select {
	case <-destroyed:
	case <-time.After(waitTimeout):
		t.Fatal("Destroy blocked on rows left open by a unit of work")
	}

	_, err = Do(ctx, g, Read, fetchRecord("a"))
	assert.ErrorIs(t, err, ErrDatabaseDestroyed)
	assert.NoFileExists(t, path)
}

func TestDestroy_InMemory(t *testing.T) {
	g := newTestGate(t)
	assert.Empty(t, g.Path())
	assert.Nil(t, g.handle.Artifacts())

	assert.NotPanics(t, g.Destroy)
	assert.NotPanics(t, g.Destroy)
}

func TestDestroy_WaitsForAdmittedWrite(t *testing.T) {
	g := newTestGate(t)
	ctx := context.Background()

	release := make(chan struct{})
	write := Perform(ctx, g, Write, func(ctx context.Context, tx *storage.Tx) (struct{}, error) {
		<-release
		_, err := tx.Exec(ctx, `INSERT INTO records (id) VALUES ('in-flight')`)
		return struct{}{}, err
	})
	require.Eventually(t, func() bool {
		return g.Stats().Writers == 1
	}, waitTimeout, time.Millisecond)

	destroyed := make(chan struct{})
	go func() {
		g.Destroy()
		close(destroyed)
	}()

	select {
	case <-destroyed:
		t.Fatal("Destroy returned while a write was admitted")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	_, err := write.Result()
	require.NoError(t, err, "in-flight write completes normally")

	select {
	case <-destroyed:
	case <-time.After(waitTimeout):
		t.Fatal("Destroy did not finish after the write was released")
	}
}

func TestPerform_CommitFailureIsReported(t *testing.T) {
	g := newTestGate(t)
	ctx := context.Background()

	_, err := Do(ctx, g, Write, func(ctx context.Context, tx *storage.Tx) (struct{}, error) {
		_, err := tx.Exec(ctx, `INSERT INTO children (id, parent_id) VALUES ('orphan', 'nobody')`)
		return struct{}{}, err
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCommitFailed)
	var commitErr *CommitError
	assert.ErrorAs(t, err, &commitErr)

	n, err := Do(ctx, g, Read, countRows("children"))
	require.NoError(t, err)
	assert.Zero(t, n, "rejected changes must not be visible")

	// The handle stays usable after a rejected commit.
	_, err = Do(ctx, g, Write, insertRecord("after-commit-failure"))
	require.NoError(t, err)
}

func TestPerform_WorkErrorIsPropagatedVerbatim(t *testing.T) {
	g := newTestGate(t)
	ctx := context.Background()
	errBoom := errors.New("boom")

	_, err := Do(ctx, g, Write, func(ctx context.Context, tx *storage.Tx) (struct{}, error) {
		if _, err := tx.Exec(ctx, `INSERT INTO records (id) VALUES ('partial')`); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, errBoom
	})
	assert.ErrorIs(t, err, errBoom)
	assert.ErrorIs(t, err, ErrWorkFailed)
	assert.NotErrorIs(t, err, ErrCommitFailed)
	assert.Equal(t, "boom", err.Error())

	n, err := Do(ctx, g, Read, countRows("records"))
	require.NoError(t, err)
	assert.Zero(t, n, "failed work must leave the store unmodified")
}

func TestPerform_WorkNoRowsIsWorkError(t *testing.T) {
	g := newTestGate(t)

	_, err := Do(context.Background(), g, Read, fetchRecord("missing"))
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.ErrorIs(t, err, ErrWorkFailed)
}

func TestPerform_PanicIsRecovered(t *testing.T) {
	g := newTestGate(t)
	ctx := context.Background()

	_, err := Do(ctx, g, Write, func(ctx context.Context, tx *storage.Tx) (struct{}, error) {
		if _, err := tx.Exec(ctx, `INSERT INTO records (id) VALUES ('panic')`); err != nil {
			return struct{}{}, err
		}
		panic("unexpected")
	})
	assert.ErrorIs(t, err, ErrWorkFailed)
	assert.Contains(t, err.Error(), "unexpected")

	n, err := Do(ctx, g, Read, countRows("records"))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPerform_ReadCannotWrite(t *testing.T) {
	g := newTestGate(t)

	_, err := Do(context.Background(), g, Read, insertRecord("sneaky"))
	assert.ErrorIs(t, err, storage.ErrReadOnly)
}

func TestPerform_HandleUnavailable(t *testing.T) {
	ctx := context.Background()
	work := func(ctx context.Context, tx *storage.Tx) (int, error) {
		t.Error("work must not run")
		return 0, nil
	}

	var nilGate *Gate
	_, err := Do(ctx, nilGate, Read, work)
	assert.ErrorIs(t, err, ErrHandleUnavailable)

	var zero Gate
	_, err = Do(ctx, &zero, Write, work)
	assert.ErrorIs(t, err, ErrHandleUnavailable)
	assert.NotPanics(t, zero.Destroy)
	assert.NoError(t, zero.Close())
}

func TestPerform_UnknownKind(t *testing.T) {
	g := newTestGate(t)

	_, err := Do(context.Background(), g, Kind(42), countRows("records"))
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestClose_ThenDestroy(t *testing.T) {
	g := newDiskGate(t, "closing")
	ctx := context.Background()
	path := g.Path()

	require.NoError(t, g.Close())
	require.NoError(t, g.Close())
	assert.FileExists(t, path)

	_, err := Do(ctx, g, Read, countRows("records"))
	assert.ErrorIs(t, err, ErrHandleUnavailable)

	g.Destroy()
	assert.NoFileExists(t, path)

	_, err = Do(ctx, g, Read, countRows("records"))
	assert.ErrorIs(t, err, ErrDatabaseDestroyed)
}

func TestPerform_CancelDoesNotStopWork(t *testing.T) {
	g := newTestGate(t)
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	release := make(chan struct{})
	var sawCancel atomic.Bool

	f := Perform(ctx, g, Write, func(ctx context.Context, tx *storage.Tx) (struct{}, error) {
		close(started)
		<-release
		sawCancel.Store(ctx.Err() != nil)
		_, err := tx.Exec(ctx, `INSERT INTO records (id) VALUES ('survivor')`)
		return struct{}{}, err
	})

	<-started
	cancel()
	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	_, err = f.Result()
	require.NoError(t, err)
	assert.False(t, sawCancel.Load())

	got, err := Do(context.Background(), g, Read, fetchRecord("survivor"))
	require.NoError(t, err)
	assert.Equal(t, "survivor", got)
}

func TestPerform_ReopenAfterClose(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	opts := Options{Storage: storage.Options{DataDir: dir}}

	g, err := Open(ctx, storage.OnDisk(""), testSchema, "reopen", opts)
	require.NoError(t, err)
	_, err = Do(ctx, g, Write, insertRecord("persisted"))
	require.NoError(t, err)
	require.NoError(t, g.Close())

	g, err = Open(ctx, storage.OnDisk(""), testSchema, "reopen", opts)
	require.NoError(t, err)
	defer g.Destroy()

	got, err := Do(ctx, g, Read, fetchRecord("persisted"))
	require.NoError(t, err)
	assert.Equal(t, "persisted", got)
}

func TestMustOpen_PanicsOnBadSchema(t *testing.T) {
	assert.Panics(t, func() {
		MustOpen(context.Background(), storage.InMemory(), storage.NewSchema("bad", "NOT SQL"), "bad", Options{})
	})
}

func TestOpen_ErrorIsUnrecoverable(t *testing.T) {
	_, err := Open(context.Background(), storage.InMemory(), nil, "nil-schema", Options{})
	assert.ErrorIs(t, err, storage.ErrUnrecoverable)
}

func TestPerform_ManyConcurrentSubmitters(t *testing.T) {
	g := newTestGate(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			kind := Read
			var work Work[struct{}] = func(ctx context.Context, tx *storage.Tx) (struct{}, error) {
				_, err := countRows("records")(ctx, tx)
				return struct{}{}, err
			}
			if i%2 == 0 {
				kind = Write
				work = func(ctx context.Context, tx *storage.Tx) (struct{}, error) {
					_, err := tx.Exec(ctx, `UPDATE counters SET n = n + 1 WHERE id = 'shared'`)
					return struct{}{}, err
				}
			}
			_, err := Perform(ctx, g, kind, work).Result()
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, Stats{}, g.Stats())
}
