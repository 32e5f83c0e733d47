package pool

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"annod/lib/engine"
)

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// LoadFunc loads a store from its on-disk path. Injectable for tests;
// defaults to engine.Load.
type LoadFunc func(path string) (*engine.Store, error)

// Config holds the pool's immutable settings, fixed at startup.
type Config struct {
	// ReadOnly rejects every write-mode acquire with ErrForbidden.
	ReadOnly bool
	// UnloadAfter is the idle threshold before a store may be evicted.
	// Zero disables idle eviction entirely.
	UnloadAfter time.Duration
	// SweepInterval is the reaper period. Zero means UnloadAfter / 2,
	// clamped to at least one second.
	SweepInterval time.Duration
	// BaseURL is the externally visible service URL, used to derive
	// per-store Web Annotation IRI bases.
	BaseURL string
	// Namespaces remaps data-set name prefixes to URLs in JSON-LD output.
	Namespaces map[string]string
	// Load overrides the engine load operation (tests). Nil = engine.Load.
	Load LoadFunc
}

var (
	loadsTotal     = metrics.GetOrCreateCounter("annod_store_loads_total")
	loadFailsTotal = metrics.GetOrCreateCounter("annod_store_load_failures_total")
	evictionsTotal = metrics.GetOrCreateCounter("annod_store_evictions_total")
	sweepSkips     = metrics.GetOrCreateCounter("annod_reaper_busy_skips_total")
)

// --------------------------------------------------------------------------
// Pool
// --------------------------------------------------------------------------

// Pool is the store registry: it maps ids to handles, loads stores on first
// demand, and arbitrates all access. Create instances with New.
type Pool struct {
	dir     *Directory
	cfg     Config
	load    LoadFunc
	logger  *zap.Logger
	handles *xsync.MapOf[string, *handle]
	loading singleflight.Group

	reaperStop chan struct{}
	reaperDone chan struct{}
}

// New creates a pool over the given directory and starts the idle reaper
// unless cfg.UnloadAfter is zero.
func New(dir *Directory, cfg Config, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	load := cfg.Load
	if load == nil {
		load = engine.Load
	}
	p := &Pool{
		dir:     dir,
		cfg:     cfg,
		load:    load,
		logger:  logger.Named("pool"),
		handles: xsync.NewMapOf[string, *handle](),
	}
	if cfg.UnloadAfter > 0 {
		interval := cfg.SweepInterval
		if interval <= 0 {
			interval = cfg.UnloadAfter / 2
			if interval < time.Second {
				interval = time.Second
			}
		}
		p.reaperStop = make(chan struct{})
		p.reaperDone = make(chan struct{})
		go p.runReaper(interval)
	}
	return p
}

// ReadOnly reports whether the service rejects mutations.
func (p *Pool) ReadOnly() bool { return p.cfg.ReadOnly }

// List returns all known store ids: files on disk plus stores created in
// memory that have not been written out yet.
func (p *Pool) List() ([]string, error) {
	ids, err := p.dir.List()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		seen[id] = true
	}
	p.handles.Range(func(id string, h *handle) bool {
		if data, _ := h.snapshot(); data != nil && !seen[id] {
			ids = append(ids, id)
			seen[id] = true
		}
		return true
	})
	return ids, nil
}

// --------------------------------------------------------------------------
// Acquire / Release
// --------------------------------------------------------------------------

// Acquire grants access to a store, loading it first if needed.
//
//   - unknown id: ErrNotFound
//   - write mode on a read-only service: ErrForbidden, before any state check
//   - cold store: loaded once, no matter how many callers arrive together
//   - store being evicted: the caller waits for the guard, observes the
//     unloaded slot, and triggers a fresh load
//
// The returned token must be released exactly once.
func (p *Pool) Acquire(ctx context.Context, id string, mode engine.Mode) (*Token, error) {
	if mode == engine.ModeWrite && p.cfg.ReadOnly {
		return nil, ErrForbidden
	}
	if err := checkBasename(id); err != nil {
		return nil, err
	}

	for {
		h, err := p.handleFor(id)
		if err != nil {
			return nil, err
		}
		if err := p.ensureLoaded(ctx, h); err != nil {
			return nil, err
		}
		if mode == engine.ModeWrite {
			err = h.guard.AcquireWrite(ctx)
		} else {
			err = h.guard.AcquireRead(ctx)
		}
		if err != nil {
			return nil, err
		}
		data, webanno := h.snapshot()
		if data == nil {
			// Evicted between load check and grant; release and reload.
			if mode == engine.ModeWrite {
				h.guard.ReleaseWrite()
			} else {
				h.guard.ReleaseRead()
			}
			continue
		}
		h.touch()
		return &Token{handle: h, mode: mode, data: data, webanno: webanno}, nil
	}
}

// Map runs f under shared access to the store, releasing on every exit path.
func (p *Pool) Map(ctx context.Context, id string, f func(*engine.Store, *engine.WebAnnoConfig) error) error {
	tok, err := p.Acquire(ctx, id, engine.ModeRead)
	if err != nil {
		return err
	}
	defer tok.Release()
	return f(tok.Store(), tok.WebAnno())
}

// MapMut runs f under exclusive access to the store, releasing on every
// exit path.
func (p *Pool) MapMut(ctx context.Context, id string, f func(*engine.Store, *engine.WebAnnoConfig) error) error {
	tok, err := p.Acquire(ctx, id, engine.ModeWrite)
	if err != nil {
		return err
	}
	defer tok.Release()
	return f(tok.Store(), tok.WebAnno())
}

// handleFor returns the registry slot for id, creating it on first touch.
// Unknown ids fail with ErrNotFound before a slot is created.
func (p *Pool) handleFor(id string) (*handle, error) {
	if h, ok := p.handles.Load(id); ok {
		return h, nil
	}
	if !p.dir.Exists(id) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	h, _ := p.handles.LoadOrStore(id, newHandle(id))
	return h, nil
}

// ensureLoaded brings the handle into the loaded state. Concurrent callers
// for the same id coalesce onto a single engine load; a load failure is
// reported to every waiter and the slot stays unloaded so a later request
// can retry.
func (p *Pool) ensureLoaded(ctx context.Context, h *handle) error {
	if data, _ := h.snapshot(); data != nil {
		return nil
	}
	ch := p.loading.DoChan(h.id, func() (interface{}, error) {
		if data, _ := h.snapshot(); data != nil {
			return nil, nil
		}
		path, err := p.dir.Path(h.id)
		if err != nil {
			return nil, err
		}
		s, err := p.load(path)
		if err != nil {
			loadFailsTotal.Inc()
			p.logger.Warn("store load failed", zap.String("store", h.id), zap.Error(err))
			return nil, err
		}
		h.setLoaded(s, p.webannoFor(h.id))
		loadsTotal.Inc()
		p.logger.Info("loaded store", zap.String("store", h.id))
		return nil, nil
	})
	select {
	case <-ctx.Done():
		// The flight keeps running for the other waiters; only this
		// caller abandons its wait.
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

// webannoFor derives the per-store Web Annotation configuration from the
// service base URL, mirroring the store's public routes.
func (p *Pool) webannoFor(id string) *engine.WebAnnoConfig {
	base := strings.TrimSuffix(p.cfg.BaseURL, "/")
	return &engine.WebAnnoConfig{
		AnnotationBase: fmt.Sprintf("%s/%s/annotations/", base, id),
		ResourceBase:   fmt.Sprintf("%s/%s/resources/", base, id),
		Namespaces:     p.cfg.Namespaces,
	}
}

// --------------------------------------------------------------------------
// Creation
// --------------------------------------------------------------------------

// Create registers a brand-new store seeded from optional STAM-JSON content.
// The new store starts out loaded and is acquired like any other afterwards.
func (p *Pool) Create(id string, seed []byte) error {
	if p.cfg.ReadOnly {
		return ErrForbidden
	}
	path, err := p.dir.Path(id)
	if err != nil {
		return err
	}
	if p.dir.Exists(id) {
		return fmt.Errorf("%w: %q", ErrConflict, id)
	}
	if h, ok := p.handles.Load(id); ok {
		if data, _ := h.snapshot(); data != nil {
			return fmt.Errorf("%w: %q", ErrConflict, id)
		}
	}

	s, err := engine.Create(id, seed)
	if err != nil {
		return err
	}
	s.SetFilename(path)
	s.MarkChanged() // not on disk yet; must survive eviction

	h, _ := p.handles.LoadOrStore(id, newHandle(id))
	if !h.guard.TryAcquireWrite() {
		return fmt.Errorf("%w: %q", ErrConflict, id)
	}
	defer h.guard.ReleaseWrite()
	if data, _ := h.snapshot(); data != nil {
		return fmt.Errorf("%w: %q", ErrConflict, id)
	}
	h.setLoaded(s, p.webannoFor(id))
	h.touch()
	p.logger.Info("created store", zap.String("store", id))
	return nil
}

// Pin loads a store immediately and marks it always-resident: the reaper
// will never sweep it.
func (p *Pool) Pin(ctx context.Context, id string) error {
	tok, err := p.Acquire(ctx, id, engine.ModeRead)
	if err != nil {
		return err
	}
	defer tok.Release()
	tok.handle.pinned.Store(true)
	p.logger.Info("pinned store", zap.String("store", id))
	return nil
}

// --------------------------------------------------------------------------
// Shutdown
// --------------------------------------------------------------------------

// Close stops the reaper and writes out every loaded store with unsaved
// changes. Intended to run after the HTTP server has drained, so exclusive
// access is acquired with the caller's context as the deadline.
func (p *Pool) Close(ctx context.Context) error {
	if p.reaperStop != nil {
		close(p.reaperStop)
		<-p.reaperDone
	}
	var firstErr error
	p.handles.Range(func(id string, h *handle) bool {
		if err := h.guard.AcquireWrite(ctx); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return false
		}
		defer h.guard.ReleaseWrite()
		data, _ := h.snapshot()
		if data == nil {
			return true
		}
		if !p.cfg.ReadOnly && data.Changed() {
			if err := data.Save(); err != nil {
				p.logger.Error("save on shutdown failed", zap.String("store", id), zap.Error(err))
				if firstErr == nil {
					firstErr = err
				}
			}
		}
		h.unload()
		return true
	})
	return firstErr
}
