// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ffalloc

import (
	"testing"
	"time"
)

func TestScanmap_MarkAndClean(t *testing.T) {
	s := newScanmap()

	const base = uintptr(poolSize) * 7 // arbitrary pool-aligned base
	addr := base + 512

	if !s.clean(base, base+poolSize) {
		t.Fatal("fresh scanmap reports dirty")
	}

	s.mark(addr)
	if s.clean(base, base+poolSize) {
		t.Error("clean() did not see the marked word")
	}
	if s.clean(addr, addr+8) {
		t.Error("clean() over the exact marked stride should report dirty")
	}

	// A different stride in the same leaf must still read clean.
	other := base + 4096
	if !s.clean(other, other+8) {
		t.Error("unrelated stride incorrectly reported dirty")
	}
}

func TestScanmap_Reset(t *testing.T) {
	s := newScanmap()
	addr := poolSize * 3
	s.mark(addr)
	if s.clean(addr, addr+8) {
		t.Fatal("expected dirty before reset")
	}
	s.reset()
	if !s.clean(addr, addr+8) {
		t.Error("reset() did not clear previously marked words")
	}
}

func TestScanmap_CrossLeaf(t *testing.T) {
	s := newScanmap()
	// Two addresses in different pool-sized leaves must not alias.
	a := poolSize * 2
	b := poolSize * 9
	s.mark(a)
	if !s.clean(b, b+8) {
		t.Error("marking one leaf incorrectly dirtied another")
	}
}

func TestReclaimer_NextInterval(t *testing.T) {
	r := &reclaimer{}

	// A burst of dirty pages should drive the interval to its floor.
	for range 20 {
		r.nextInterval(1000)
	}
	if got := r.nextInterval(1000); got != reclaimTickMin {
		t.Errorf("nextInterval() under sustained heavy dirt = %v, want %v", got, reclaimTickMin)
	}

	r2 := &reclaimer{}
	for range 20 {
		r2.nextInterval(0)
	}
	if got := r2.nextInterval(0); got != reclaimTickMax {
		t.Errorf("nextInterval() under sustained idle = %v, want %v", got, reclaimTickMax)
	}
}

func TestParseMapsLine(t *testing.T) {
	tests := []struct {
		line    string
		wantOK  bool
		wantRW  bool
	}{
		{"00400000-00452000 r-xp 00000000 08:02 173521 /usr/bin/x", true, false},
		{"7ffff7dd5000-7ffff7dd6000 rw-p 0002a000 08:02 173528 ", true, true},
		{"not a valid line", false, false},
	}
	for _, tc := range tests {
		region, ok := parseMapsLine(tc.line)
		if ok != tc.wantOK {
			t.Errorf("parseMapsLine(%q) ok = %v, want %v", tc.line, ok, tc.wantOK)
			continue
		}
		if ok && region.rwPrivate != tc.wantRW {
			t.Errorf("parseMapsLine(%q) rwPrivate = %v, want %v", tc.line, region.rwPrivate, tc.wantRW)
		}
	}
}

func TestReclaimer_ReclaimedRegionQueue(t *testing.T) {
	r := &reclaimer{reuse: make(map[uintptr]*boundedQueue[reclaimedRegion])}

	const size = poolSize
	r.pushReclaimed(size, reclaimedRegion{start: 0x1000, size: size})

	addr, ok := r.takeReusable(size)
	if !ok {
		t.Fatal("takeReusable() found nothing after pushReclaimed()")
	}
	if addr != 0x1000 {
		t.Errorf("takeReusable() = %#x, want 0x1000", addr)
	}

	if _, ok := r.takeReusable(size); ok {
		t.Error("takeReusable() returned a second region from an empty queue")
	}
}

func TestReclaimer_TakeReusable_UnknownSize(t *testing.T) {
	r := &reclaimer{reuse: make(map[uintptr]*boundedQueue[reclaimedRegion])}
	if _, ok := r.takeReusable(12345); ok {
		t.Error("takeReusable() on a size never pushed should report false")
	}
}

func TestReclaimer_CloseWithoutProcfs(t *testing.T) {
	r := &reclaimer{
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	close(r.stopped) // simulate run() having already returned
	done := make(chan struct{})
	go func() {
		r.close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("close() did not return")
	}
}
