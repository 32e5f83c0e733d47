package guard

import (
	"context"
	"sync"
)

// AccessGuard arbitrates shared and exclusive access to one store. The zero
// value is not usable; create instances with New.
//
// State machine: Idle (0 readers, no writer), Reading(n>=1), Writing. A write
// request queued while readers are active blocks new readers until it has run.
type AccessGuard struct {
	mu sync.Mutex

	readers        int  // active shared borrowers
	writerActive   bool // active exclusive borrower
	waitingWriters int  // queued exclusive borrowers

	// turn is closed and replaced whenever the state changes in a way that
	// could unblock a waiter. Waiters grab the current channel under mu,
	// release mu, then block on it.
	turn chan struct{}
}

// New creates an AccessGuard in the Idle state.
func New() *AccessGuard {
	return &AccessGuard{
		turn: make(chan struct{}),
	}
}

// --------------------------------------------------------------------------
// Shared (read) access
// --------------------------------------------------------------------------

// AcquireRead blocks until shared access is granted or ctx is done. A reader
// is admitted only when no writer is active and no writer is queued.
func (g *AccessGuard) AcquireRead(ctx context.Context) error {
	g.mu.Lock()
	for g.writerActive || g.waitingWriters > 0 {
		turn := g.turn
		g.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-turn:
		}
		g.mu.Lock()
	}
	g.readers++
	g.mu.Unlock()
	return nil
}

// ReleaseRead ends one shared borrow. One call per successful AcquireRead.
func (g *AccessGuard) ReleaseRead() {
	g.mu.Lock()
	if g.readers <= 0 {
		g.mu.Unlock()
		panic("guard: ReleaseRead without matching AcquireRead")
	}
	g.readers--
	g.notifyLocked()
	g.mu.Unlock()
}

// --------------------------------------------------------------------------
// Exclusive (write) access
// --------------------------------------------------------------------------

// AcquireWrite blocks until exclusive access is granted or ctx is done.
// While the caller is queued, no new readers are admitted.
func (g *AccessGuard) AcquireWrite(ctx context.Context) error {
	g.mu.Lock()
	g.waitingWriters++
	for g.writerActive || g.readers > 0 {
		turn := g.turn
		g.mu.Unlock()
		select {
		case <-ctx.Done():
			g.mu.Lock()
			g.waitingWriters--
			// Readers may be blocked solely on our queued intent.
			g.notifyLocked()
			g.mu.Unlock()
			return ctx.Err()
		case <-turn:
		}
		g.mu.Lock()
	}
	g.waitingWriters--
	g.writerActive = true
	g.mu.Unlock()
	return nil
}

// TryAcquireWrite grants exclusive access only if the guard is Idle right
// now, with no writers queued. It never blocks.
func (g *AccessGuard) TryAcquireWrite() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.writerActive || g.readers > 0 || g.waitingWriters > 0 {
		return false
	}
	g.writerActive = true
	return true
}

// ReleaseWrite ends the exclusive borrow. One call per successful
// AcquireWrite or TryAcquireWrite.
func (g *AccessGuard) ReleaseWrite() {
	g.mu.Lock()
	if !g.writerActive {
		g.mu.Unlock()
		panic("guard: ReleaseWrite without matching AcquireWrite")
	}
	g.writerActive = false
	g.notifyLocked()
	g.mu.Unlock()
}

// --------------------------------------------------------------------------
// Introspection
// --------------------------------------------------------------------------

// Idle reports whether the guard has no active or queued borrowers.
func (g *AccessGuard) Idle() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.writerActive && g.readers == 0 && g.waitingWriters == 0
}

// notifyLocked wakes all waiters so they can re-evaluate the state.
// Must be called with g.mu held.
func (g *AccessGuard) notifyLocked() {
	close(g.turn)
	g.turn = make(chan struct{})
}
