package pool

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"annod/lib/engine"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testExtension = "store.stam.json"

const demoStoreJSON = `{
  "@type": "AnnotationStore",
  "@id": "demo",
  "resources": [
    {"@type": "TextResource", "@id": "hello.txt", "text": "Hello world"}
  ],
  "annotations": [
    {
      "@type": "Annotation",
      "@id": "a1",
      "target": {"@type": "TextSelector", "resource": "hello.txt", "begin": 0, "end": 5},
      "data": [{"set": "testset", "key": "pos", "value": "interjection"}]
    }
  ]
}`

// newTestDir creates a base directory holding one store file per given id.
func newTestDir(t *testing.T, ids ...string) *Directory {
	t.Helper()
	base := t.TempDir()
	for _, id := range ids {
		path := filepath.Join(base, id+"."+testExtension)
		if err := os.WriteFile(path, []byte(demoStoreJSON), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	dir, err := NewDirectory(base, testExtension)
	if err != nil {
		t.Fatal(err)
	}
	return dir
}

func newTestPool(t *testing.T, dir *Directory, cfg Config) *Pool {
	t.Helper()
	p := New(dir, cfg, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.Close(ctx); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})
	return p
}

func TestAcquireUnknownStore(t *testing.T) {
	p := newTestPool(t, newTestDir(t, "demo"), Config{})

	_, err := p.Acquire(context.Background(), "nope", engine.ModeRead)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// Traversal attempts look like unknown stores, never like paths.
	for _, id := range []string{"../demo", "a/b", `a\b`, "..", ""} {
		if _, err := p.Acquire(context.Background(), id, engine.ModeRead); !errors.Is(err, ErrNotFound) {
			t.Fatalf("id %q: expected ErrNotFound, got %v", id, err)
		}
	}
}

func TestLoadCoalescing(t *testing.T) {
	dir := newTestDir(t, "demo")

	var loads atomic.Int32
	cfg := Config{
		Load: func(path string) (*engine.Store, error) {
			loads.Add(1)
			time.Sleep(30 * time.Millisecond) // widen the first-touch window
			return engine.Load(path)
		},
	}
	p := newTestPool(t, dir, cfg)

	const n = 16
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := p.Acquire(context.Background(), "demo", engine.ModeRead)
			if err != nil {
				t.Errorf("Acquire failed: %v", err)
				return
			}
			defer tok.Release()
			if got := len(tok.Store().Annotations()); got != 1 {
				t.Errorf("expected 1 annotation, got %d", got)
			}
		}()
	}
	wg.Wait()

	if got := loads.Load(); got != 1 {
		t.Fatalf("expected exactly 1 load, got %d", got)
	}
}

func TestLoadFailureReportedToAllWaitersAndRetryable(t *testing.T) {
	dir := newTestDir(t, "demo")

	var loads atomic.Int32
	fail := atomic.Bool{}
	fail.Store(true)
	cfg := Config{
		Load: func(path string) (*engine.Store, error) {
			loads.Add(1)
			time.Sleep(10 * time.Millisecond)
			if fail.Load() {
				return nil, engine.NewError(engine.KindLoad, "boom")
			}
			return engine.Load(path)
		},
	}
	p := newTestPool(t, dir, cfg)

	var wg sync.WaitGroup
	var failures atomic.Int32
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Acquire(context.Background(), "demo", engine.ModeRead); err != nil {
				failures.Add(1)
			}
		}()
	}
	wg.Wait()
	if failures.Load() != 4 {
		t.Fatalf("expected all 4 waiters to observe the load failure, got %d", failures.Load())
	}

	// The slot reverted to unloaded; a later request retries and succeeds.
	fail.Store(false)
	tok, err := p.Acquire(context.Background(), "demo", engine.ModeRead)
	if err != nil {
		t.Fatalf("retry after failed load should succeed: %v", err)
	}
	tok.Release()
	if loads.Load() < 2 {
		t.Fatalf("expected a fresh load on retry, got %d total loads", loads.Load())
	}
}

func TestReadOnlyForbidsWrites(t *testing.T) {
	dir := newTestDir(t, "demo")
	p := newTestPool(t, dir, Config{ReadOnly: true})

	if _, err := p.Acquire(context.Background(), "demo", engine.ModeWrite); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	// Denied acquires must not create registry state.
	if _, ok := p.handles.Load("demo"); ok {
		t.Fatal("denied write acquire must not register a handle")
	}

	if err := p.Create("newstore", nil); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden on create, got %v", err)
	}

	// Reads still work.
	tok, err := p.Acquire(context.Background(), "demo", engine.ModeRead)
	if err != nil {
		t.Fatalf("read acquire failed: %v", err)
	}
	tok.Release()
}

func TestCreateConflictAndRoundTrip(t *testing.T) {
	dir := newTestDir(t, "demo")
	p := newTestPool(t, dir, Config{})

	if err := p.Create("demo", nil); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for an existing file, got %v", err)
	}

	if err := p.Create("fresh", []byte(demoStoreJSON)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := p.Create("fresh", nil); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for a loaded store, got %v", err)
	}

	// Querying the seed content immediately returns it unchanged.
	err := p.Map(context.Background(), "fresh", func(s *engine.Store, _ *engine.WebAnnoConfig) error {
		a, err := s.Annotation("a1")
		if err != nil {
			return err
		}
		text, err := s.CoveredText(a)
		if err != nil {
			return err
		}
		if text != "Hello" {
			t.Errorf("expected covered text %q, got %q", "Hello", text)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Map failed: %v", err)
	}

	ids, err := p.List()
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, id := range ids {
		if id == "fresh" {
			found = true
		}
	}
	if !found {
		t.Fatalf("created store missing from listing: %v", ids)
	}
}

func TestIdleEvictionAndReload(t *testing.T) {
	dir := newTestDir(t, "demo")

	var loads atomic.Int32
	cfg := Config{
		UnloadAfter:   20 * time.Millisecond,
		SweepInterval: time.Hour, // sweeps driven manually below
		Load: func(path string) (*engine.Store, error) {
			loads.Add(1)
			return engine.Load(path)
		},
	}
	p := newTestPool(t, dir, cfg)

	tok, err := p.Acquire(context.Background(), "demo", engine.ModeRead)
	if err != nil {
		t.Fatal(err)
	}

	// A busy guard is skipped, never waited on.
	if n := p.sweep(); n != 0 {
		t.Fatalf("sweep evicted %d stores while a borrow was active", n)
	}
	tok.Release()

	// Not yet idle long enough.
	if n := p.sweep(); n != 0 {
		t.Fatalf("sweep evicted %d stores before the idle timeout", n)
	}

	time.Sleep(30 * time.Millisecond)
	if n := p.sweep(); n != 1 {
		t.Fatalf("expected 1 eviction, got %d", n)
	}

	// Next request reloads from scratch and succeeds.
	tok, err = p.Acquire(context.Background(), "demo", engine.ModeRead)
	if err != nil {
		t.Fatalf("acquire after eviction failed: %v", err)
	}
	tok.Release()
	if loads.Load() != 2 {
		t.Fatalf("expected 2 loads (initial + reload), got %d", loads.Load())
	}
}

func TestPinnedStoreNeverSwept(t *testing.T) {
	dir := newTestDir(t, "demo")
	p := newTestPool(t, dir, Config{
		UnloadAfter:   time.Millisecond,
		SweepInterval: time.Hour,
	})

	if err := p.Pin(context.Background(), "demo"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)
	if n := p.sweep(); n != 0 {
		t.Fatalf("pinned store was swept (%d evictions)", n)
	}
}

func TestCloseFlushesCreatedStore(t *testing.T) {
	dir := newTestDir(t)
	p := New(dir, Config{}, nil)

	if err := p.Create("made", []byte(demoStoreJSON)); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if !dir.Exists("made") {
		t.Fatal("created store was not written out on shutdown")
	}
	path, err := dir.Path("made")
	if err != nil {
		t.Fatal(err)
	}
	s, err := engine.Load(path)
	if err != nil {
		t.Fatalf("flushed store does not load: %v", err)
	}
	if _, err := s.Annotation("a1"); err != nil {
		t.Fatalf("flushed store lost its content: %v", err)
	}
}

func TestAcquireCancelledWhileLoading(t *testing.T) {
	dir := newTestDir(t, "demo")

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	cfg := Config{
		Load: func(path string) (*engine.Store, error) {
			once.Do(func() { close(started) })
			<-release
			return engine.Load(path)
		},
	}
	p := newTestPool(t, dir, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := p.Acquire(ctx, "demo", engine.ModeRead)
		errCh <- err
	}()

	<-started
	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled acquire never returned")
	}

	// The abandoned wait must not corrupt the slot: once the load finishes,
	// a fresh acquire succeeds without a new load flight blocking forever.
	close(release)
	tok, err := p.Acquire(context.Background(), "demo", engine.ModeRead)
	if err != nil {
		t.Fatalf("acquire after abandoned wait failed: %v", err)
	}
	tok.Release()
}
