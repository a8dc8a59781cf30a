// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ffalloc

import "testing"

// These exercise the reclaimer wired into a live Allocator, as opposed to
// reclaim_test.go/subpage_test.go's unit tests against a bare *reclaimer.

func TestAllocator_WithReclaimer_BasicAllocFree(t *testing.T) {
	a := newTestAllocator(t, WithReclaimer())
	if a.reclaimer == nil {
		t.Fatal("WithReclaimer() did not install a reclaimer")
	}

	for range 64 {
		buf, err := a.Alloc(64)
		if err != nil {
			t.Fatalf("Alloc() failed: %v", err)
		}
		a.Free(buf)
	}
}

func TestAllocator_WithSubPageReuse_ImpliesReclaimer(t *testing.T) {
	a := newTestAllocator(t, WithSubPageReuse())
	if !a.cfg.EnableReclaimer {
		t.Error("WithSubPageReuse() did not imply EnableReclaimer")
	}
	if !a.cfg.EnableSubPageReuse {
		t.Error("WithSubPageReuse() did not set EnableSubPageReuse")
	}
}

func TestAllocator_Close_IsIdempotentNoReclaimer(t *testing.T) {
	a, err := New()
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("Close() without a reclaimer returned %v, want nil", err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("second Close() without a reclaimer returned %v, want nil", err)
	}
}

func TestAllocator_Close_StopsReclaimerGoroutine(t *testing.T) {
	a, err := New(WithReclaimer())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	// Close waits for the reclaimer goroutine to exit, so its stopped
	// channel must already be closed once Close returns.
	select {
	case <-a.reclaimer.stopped:
	default:
		t.Error("reclaimer goroutine did not signal stopped after Close()")
	}
}

func TestAcquirePoolRegion_FallsBackWithoutReclaimer(t *testing.T) {
	a := newTestAllocator(t)
	addr, err := a.acquirePoolRegion(poolSize, false)
	if err != nil {
		t.Fatalf("acquirePoolRegion() failed: %v", err)
	}
	if addr == 0 {
		t.Error("acquirePoolRegion() returned a zero address")
	}
	a.osMem.unmapPages(addr, poolSize)
}
