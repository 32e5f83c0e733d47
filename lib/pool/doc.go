// Package pool owns the lifecycle of every annotation store the daemon
// serves. It is the only component that loads, tracks, and evicts stores;
// request handlers never touch engine data except through an access token
// handed out here.
//
// The package focuses on:
//   - Directory: enumerates the store ids available under the configured
//     base directory and guards against path traversal
//   - Pool: the registry mapping store ids to handles; loads stores on first
//     demand with load coalescing (N concurrent first-touch requests trigger
//     exactly one engine load), grants shared or exclusive access through a
//     per-store guard, and tracks last-access times
//   - Token: one granted borrow; released exactly once, on every exit path
//   - the idle reaper: a background sweep that evicts stores idle past the
//     configured threshold, strictly under exclusive access so no in-flight
//     borrower is ever invalidated
//
// Stores are fully independent units of contention: no cross-store ordering
// or locking exists anywhere in this package.
package pool
