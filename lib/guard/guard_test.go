package guard

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TestReadersShareAccess verifies multiple readers can hold the guard at once.
func TestReadersShareAccess(t *testing.T) {
	g := New()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := g.AcquireRead(ctx); err != nil {
			t.Fatalf("AcquireRead %d failed: %v", i, err)
		}
	}
	if g.Idle() {
		t.Fatal("guard should not be idle with active readers")
	}
	for i := 0; i < 5; i++ {
		g.ReleaseRead()
	}
	if !g.Idle() {
		t.Fatal("guard should be idle after all releases")
	}
}

// TestWriterExcludesReaders verifies no instant exists where a writer and a
// reader are active simultaneously, under concurrent load.
func TestWriterExcludesReaders(t *testing.T) {
	g := New()
	ctx := context.Background()

	var readers atomic.Int32
	var writers atomic.Int32
	var violations atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if err := g.AcquireRead(ctx); err != nil {
					t.Errorf("AcquireRead failed: %v", err)
					return
				}
				readers.Add(1)
				if writers.Load() > 0 {
					violations.Add(1)
				}
				readers.Add(-1)
				g.ReleaseRead()
			}
		}()
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if err := g.AcquireWrite(ctx); err != nil {
					t.Errorf("AcquireWrite failed: %v", err)
					return
				}
				if writers.Add(1) > 1 || readers.Load() > 0 {
					violations.Add(1)
				}
				writers.Add(-1)
				g.ReleaseWrite()
			}
		}()
	}
	wg.Wait()

	if n := violations.Load(); n > 0 {
		t.Fatalf("observed %d mutual-exclusion violations", n)
	}
	if !g.Idle() {
		t.Fatal("guard should be idle after the test")
	}
}

// TestWriterPreference verifies a reader arriving after a queued writer is
// not admitted ahead of it.
func TestWriterPreference(t *testing.T) {
	g := New()
	ctx := context.Background()

	// Hold a read borrow so the writer has to queue.
	if err := g.AcquireRead(ctx); err != nil {
		t.Fatalf("AcquireRead failed: %v", err)
	}

	writerAdmitted := make(chan struct{})
	go func() {
		if err := g.AcquireWrite(ctx); err != nil {
			t.Errorf("AcquireWrite failed: %v", err)
			return
		}
		close(writerAdmitted)
	}()

	// Wait until the writer is queued.
	for i := 0; ; i++ {
		g.mu.Lock()
		queued := g.waitingWriters > 0
		g.mu.Unlock()
		if queued {
			break
		}
		if i > 100 {
			t.Fatal("writer never queued")
		}
		time.Sleep(time.Millisecond)
	}

	// A late reader must now block behind the queued writer.
	var order []string
	var mu sync.Mutex
	readerAdmitted := make(chan struct{})
	go func() {
		if err := g.AcquireRead(ctx); err != nil {
			t.Errorf("late AcquireRead failed: %v", err)
			return
		}
		mu.Lock()
		order = append(order, "reader")
		mu.Unlock()
		close(readerAdmitted)
	}()

	select {
	case <-readerAdmitted:
		t.Fatal("late reader admitted ahead of queued writer")
	case <-time.After(20 * time.Millisecond):
	}

	// Release the initial reader: the writer must go first.
	g.ReleaseRead()
	select {
	case <-writerAdmitted:
	case <-time.After(time.Second):
		t.Fatal("queued writer never admitted")
	}
	mu.Lock()
	order = append(order, "writer")
	mu.Unlock()
	g.ReleaseWrite()

	select {
	case <-readerAdmitted:
	case <-time.After(time.Second):
		t.Fatal("late reader never admitted")
	}
	g.ReleaseRead()

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "writer" {
		t.Fatalf("unexpected admission order: %v", order)
	}
}

// TestTryAcquireWrite verifies the non-blocking acquire used by the reaper.
func TestTryAcquireWrite(t *testing.T) {
	g := New()
	ctx := context.Background()

	if !g.TryAcquireWrite() {
		t.Fatal("TryAcquireWrite should succeed on an idle guard")
	}
	if g.TryAcquireWrite() {
		t.Fatal("TryAcquireWrite should fail while a writer is active")
	}
	g.ReleaseWrite()

	if err := g.AcquireRead(ctx); err != nil {
		t.Fatalf("AcquireRead failed: %v", err)
	}
	if g.TryAcquireWrite() {
		t.Fatal("TryAcquireWrite should fail while a reader is active")
	}
	g.ReleaseRead()

	if !g.TryAcquireWrite() {
		t.Fatal("TryAcquireWrite should succeed once idle again")
	}
	g.ReleaseWrite()
}

// TestAcquireCancellation verifies an abandoned wait leaves the guard usable.
func TestAcquireCancellation(t *testing.T) {
	g := New()

	if err := g.AcquireRead(context.Background()); err != nil {
		t.Fatalf("AcquireRead failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := g.AcquireWrite(ctx); err == nil {
		t.Fatal("AcquireWrite should fail once the context expires")
	}

	// The cancelled writer must not leave readers blocked.
	done := make(chan struct{})
	go func() {
		if err := g.AcquireRead(context.Background()); err != nil {
			t.Errorf("AcquireRead after cancellation failed: %v", err)
			return
		}
		g.ReleaseRead()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reader blocked by a cancelled writer")
	}

	g.ReleaseRead()
	if !g.Idle() {
		t.Fatal("guard should be idle after cleanup")
	}
}
