package pool

import (
	"time"

	"go.uber.org/zap"
)

// --------------------------------------------------------------------------
// Idle Reaper
// --------------------------------------------------------------------------

// runReaper periodically sweeps loaded stores and evicts those idle past the
// configured threshold. It runs until Close. A fault in one sweep is logged
// and the next tick proceeds; the serving path is never affected.
func (p *Pool) runReaper(interval time.Duration) {
	defer close(p.reaperDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.reaperStop:
			return
		case <-ticker.C:
			p.sweep()
		}
	}
}

// sweep visits every loaded, unpinned handle and evicts the idle ones. A
// handle whose guard is busy is skipped for this tick, never waited on.
// Returns the number of stores evicted (used by tests).
func (p *Pool) sweep() (evicted int) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("reaper sweep panicked", zap.Any("panic", r))
		}
	}()

	now := time.Now()
	p.handles.Range(func(id string, h *handle) bool {
		if h.pinned.Load() {
			return true
		}
		if data, _ := h.snapshot(); data == nil {
			return true
		}
		if now.Sub(h.idleSince()) < p.cfg.UnloadAfter {
			return true
		}
		if !h.guard.TryAcquireWrite() {
			sweepSkips.Inc()
			return true
		}
		// Exclusive access held: no borrower can be invalidated below.
		func() {
			defer h.guard.ReleaseWrite()

			// Re-check under the guard; an acquire may have slipped in
			// between the idle check and the grant.
			data, _ := h.snapshot()
			if data == nil || time.Since(h.idleSince()) < p.cfg.UnloadAfter {
				return
			}
			if !p.cfg.ReadOnly && data.Changed() {
				if err := data.Save(); err != nil {
					// Keep the store resident rather than lose edits;
					// retried next tick.
					p.logger.Error("save before eviction failed",
						zap.String("store", id), zap.Error(err))
					return
				}
			}
			h.unload()
			evicted++
			evictionsTotal.Inc()
			p.logger.Info("evicted idle store", zap.String("store", id))
		}()
		return true
	})
	return evicted
}
