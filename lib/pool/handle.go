package pool

import (
	"sync"
	"sync/atomic"
	"time"

	"annod/lib/engine"
	"annod/lib/guard"
)

// --------------------------------------------------------------------------
// Store Handle
// --------------------------------------------------------------------------

// handle owns one store slot in the registry. A handle is created the first
// time its id is acquired and is never removed afterwards; only its loaded
// data cycles. The engine data lives exactly as long as the handle is in the
// loaded state.
type handle struct {
	id    string
	guard *guard.AccessGuard

	// pinned handles are never swept by the reaper.
	pinned atomic.Bool

	// lastAccess (unix nanos) updates on every successful acquire,
	// never on denied ones.
	lastAccess atomic.Int64

	mu      sync.Mutex // protects data and webanno
	data    *engine.Store
	webanno *engine.WebAnnoConfig
}

func newHandle(id string) *handle {
	return &handle{
		id:    id,
		guard: guard.New(),
	}
}

// snapshot returns the loaded engine data, or nil when unloaded. Safe to use
// only while the caller holds a borrow on the guard, or merely as a hint.
func (h *handle) snapshot() (*engine.Store, *engine.WebAnnoConfig) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.data, h.webanno
}

func (h *handle) setLoaded(s *engine.Store, w *engine.WebAnnoConfig) {
	h.mu.Lock()
	h.data = s
	h.webanno = w
	h.mu.Unlock()
}

func (h *handle) unload() {
	h.mu.Lock()
	h.data = nil
	h.webanno = nil
	h.mu.Unlock()
}

func (h *handle) touch() {
	h.lastAccess.Store(time.Now().UnixNano())
}

func (h *handle) idleSince() time.Time {
	return time.Unix(0, h.lastAccess.Load())
}

// --------------------------------------------------------------------------
// Access Token
// --------------------------------------------------------------------------

// Token is one granted borrow on a store. The engine data it exposes is
// valid until Release; eviction cannot run while any token is outstanding
// because the reaper needs the same guard exclusively.
type Token struct {
	handle  *handle
	mode    engine.Mode
	data    *engine.Store
	webanno *engine.WebAnnoConfig
	once    sync.Once
}

// Store returns the loaded engine data this token borrows.
func (t *Token) Store() *engine.Store { return t.data }

// WebAnno returns the store's Web Annotation output configuration.
func (t *Token) WebAnno() *engine.WebAnnoConfig { return t.webanno }

// Mode returns the access mode the token was granted with.
func (t *Token) Mode() engine.Mode { return t.mode }

// Release returns the borrow to the guard. Safe to call more than once;
// only the first call has an effect.
func (t *Token) Release() {
	t.once.Do(func() {
		if t.mode == engine.ModeWrite {
			t.handle.guard.ReleaseWrite()
		} else {
			t.handle.guard.ReleaseRead()
		}
	})
}
