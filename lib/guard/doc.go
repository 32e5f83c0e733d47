// Package guard provides the per-store access arbitration primitive used by
// the store pool. It coordinates any number of concurrent readers with at most
// one writer, with writer preference: once a writer is queued, readers that
// arrive later wait behind it, so a pending mutation is never starved by a
// continuous stream of reads.
//
// The package focuses on:
//   - Shared (read) and exclusive (write) borrows over one protected value
//   - Context-aware acquisition: a blocked caller can abandon its wait when
//     its request is cancelled, without corrupting the guard's accounting
//   - A non-blocking exclusive acquire (TryAcquireWrite) used by the idle
//     reaper, which must never stall its sweep on a busy store
//
// Unlike sync.RWMutex, waits here are cooperative channel waits and can be
// interrupted; no internal lock is held while a caller is suspended.
package guard
