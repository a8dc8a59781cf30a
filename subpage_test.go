// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ffalloc

import (
	"testing"
	"unsafe"
)

func TestAgeAndMark_SkipsBelowThreshold(t *testing.T) {
	r := &reclaimer{scan: newScanmap(), slotReuse: make(map[uintptr]*boundedQueue[reusableSlot])}

	// age*maxAlloc/live = 10*10/1 = 100, at the ">= 100 skip" boundary.
	pg := &pageMap{allocSize: 64, maxAlloc: 10, epoch: 0}
	pg.setBit(0)

	r.ageAndMark(pg, 10)
	if pg.epoch != 0 {
		t.Errorf("ageAndMark() advanced epoch past the skip threshold, got %d", pg.epoch)
	}

	// A lower age drops the ratio below 100 and the page should be scanned.
	r.ageAndMark(pg, 1)
	if pg.epoch != 1 {
		t.Errorf("ageAndMark() did not advance epoch once the heuristic passed, got %d", pg.epoch)
	}
}

func TestAgeAndMark_NoLiveSlotsSkipped(t *testing.T) {
	r := &reclaimer{scan: newScanmap(), slotReuse: make(map[uintptr]*boundedQueue[reusableSlot])}
	pg := &pageMap{allocSize: 64, maxAlloc: 10, epoch: 5}

	r.ageAndMark(pg, 50)
	if pg.epoch != 5 {
		t.Error("ageAndMark() must not touch a page with zero live slots")
	}
}

func TestAgeAndMark_MarksCleanFreeSlots(t *testing.T) {
	const allocSize = 64
	const slots = 4
	buf := make([]byte, allocSize*slots)
	base := uintptr(unsafe.Pointer(unsafe.SliceData(buf)))

	r := &reclaimer{scan: newScanmap(), slotReuse: make(map[uintptr]*boundedQueue[reusableSlot])}
	pg := &pageMap{start: base, allocSize: allocSize, maxAlloc: slots, epoch: 0}
	pg.setBit(0) // slot 0 is live; slots 1-3 are free and unmarked in the scanmap

	r.ageAndMark(pg, 1)

	for slot := uint32(1); slot < slots; slot++ {
		if !pg.isSafe(slot) {
			t.Errorf("slot %d: expected marked safe after ageAndMark", slot)
		}
	}
	if pg.isSafe(0) {
		t.Error("occupied slot 0 must never be marked safe")
	}

	addr, ok := r.tryReuseSlot(allocSize)
	if !ok {
		t.Fatal("tryReuseSlot() found nothing after ageAndMark queued free slots")
	}
	if addr < base || addr >= base+allocSize*slots {
		t.Errorf("tryReuseSlot() returned %#x outside the backing buffer", addr)
	}
	slot := uint32((addr - base) / allocSize)
	if !pg.isBitSet(slot) {
		t.Error("tryReuseSlot() did not set the occupancy bit for the reused slot")
	}
	if pg.isSafe(slot) {
		t.Error("tryReuseSlot() did not clear the safe bit for the reused slot")
	}
}

func TestAgeAndMark_DirtyScanmapBlocksReuse(t *testing.T) {
	const allocSize = 64
	buf := make([]byte, allocSize*2)
	base := uintptr(unsafe.Pointer(unsafe.SliceData(buf)))

	r := &reclaimer{scan: newScanmap(), slotReuse: make(map[uintptr]*boundedQueue[reusableSlot])}
	pg := &pageMap{start: base, allocSize: allocSize, maxAlloc: 2, epoch: 0}
	pg.setBit(0)

	// Mark the free slot's address range as having been seen as a candidate
	// pointer somewhere: it must not be certified safe for reuse.
	r.scan.mark(base + allocSize)

	r.ageAndMark(pg, 1)
	if pg.isSafe(1) {
		t.Error("ageAndMark() certified a slot the scanmap reports dirty")
	}
	if _, ok := r.tryReuseSlot(allocSize); ok {
		t.Error("tryReuseSlot() returned a slot that was never certified safe")
	}
}

func TestTryReuseSlot_RevalidatesAgainstConcurrentAlloc(t *testing.T) {
	const allocSize = 64
	buf := make([]byte, allocSize)
	base := uintptr(unsafe.Pointer(unsafe.SliceData(buf)))

	r := &reclaimer{slotReuse: make(map[uintptr]*boundedQueue[reusableSlot])}
	pg := &pageMap{start: base, allocSize: allocSize, maxAlloc: 1}
	pg.setSafe(0)
	r.pushReusableSlot(pg, 0, base)

	// Simulate the ordinary bump path having already reallocated this slot
	// before the reclaimer got around to handing it out.
	pg.setBit(0)

	if _, ok := r.tryReuseSlot(allocSize); ok {
		t.Error("tryReuseSlot() handed out a slot that was reallocated in the meantime")
	}
}

func TestTryReuseSlot_UnknownSize(t *testing.T) {
	r := &reclaimer{slotReuse: make(map[uintptr]*boundedQueue[reusableSlot])}
	if _, ok := r.tryReuseSlot(999); ok {
		t.Error("tryReuseSlot() on a size never queued should report false")
	}
}
