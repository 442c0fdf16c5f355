// Package gate serializes access to a single store handle.
//
// # Overview
//
// A Gate owns a storage.Handle and is the only way to reach it. Callers
// submit units of work with Perform, tagged Read or Write:
//
//	f := gate.Perform(ctx, g, gate.Write, func(ctx context.Context, tx *storage.Tx) (int64, error) {
//		res, err := tx.Exec(ctx, `UPDATE counters SET n = n + 1 WHERE id = ?`, "visits")
//		if err != nil {
//			return 0, err
//		}
//		return res.RowsAffected()
//	})
//	n, err := f.Wait(ctx)
//
// Perform never blocks the caller. The work runs on its own goroutine and the
// returned Future resolves exactly once.
//
// # Admission
//
// Reads are admitted together; a write is admitted alone. Destroy and Close
// are admitted like writes. Once admitted, work still runs on the handle's
// serialized execution context, one unit at a time, so the connection is
// never used concurrently.
//
// For writes, admission, work, commit and release form one critical section:
// no read can observe a write that is not yet committed.
//
// # Commit
//
// Each unit of work runs in its own transaction. Returning nil commits it;
// returning an error rolls it back. A rejected commit is rolled back too and
// reported as a *CommitError.
//
// # Lifecycle
//
//	Active --Close--> Closed --Destroy--> Destroyed
//	Active --Destroy------------------> Destroyed
//
// After Destroy every operation fails with ErrDatabaseDestroyed and the
// store's files (primary, -shm, -wal) have been removed.
//
// # Caller Obligations
//
// Work must not call Perform on the gate that is running it. The admission
// lock is not reentrant: a write calling Perform deadlocks, and a read calling
// Perform deadlocks as soon as a writer is waiting.
package gate
