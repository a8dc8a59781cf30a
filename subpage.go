// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ffalloc

import "unsafe"

// scanSubPageCandidates implements the C11 aging heuristic (spec.md §4.10):
// for each small page whose epoch has fallen behind the current sweep, and
// whose live/free ratio suggests it is worth the scan cost, every free slot
// is checked against the scanmap and marked safe for reuse.
func (r *reclaimer) scanSubPageCandidates() {
	epoch := uint32(r.stwEpoch.Load())

	for i := range r.alloc.arenas.slots {
		ar := r.alloc.arenas.slots[i].Load()
		if ar == nil {
			continue
		}

		ar.smallMu.Lock()
		pools := append([]*pool(nil), ar.smallAll...)
		ar.smallMu.Unlock()

		for _, p := range pools {
			for pi := range p.pages {
				pg := &p.pages[pi]
				if pg.start == 0 || pg.status&(pageUnmapped|pageDrained) != 0 {
					continue
				}
				r.ageAndMark(pg, epoch)
			}
		}
	}
}

// ageAndMark applies spec.md §9(a)/§4.10's aging heuristic, preserved
// verbatim rather than replaced: `epochsSinceLastFree * maxAlloc / liveCount
// < 100`. Pages that fail it are skipped for this sweep; their turn comes
// once enough epochs (i.e. enough garbage, relative to how full they are)
// have passed.
func (r *reclaimer) ageAndMark(pg *pageMap, epoch uint32) {
	live := pg.liveCount()
	if live == 0 || pg.maxAlloc == 0 {
		return
	}
	age := epoch - pg.epoch
	if float64(age)*float64(pg.maxAlloc)/float64(live) >= 100 {
		return
	}
	pg.epoch = epoch

	for slot := uint32(0); slot < pg.maxAlloc; slot++ {
		if pg.isBitSet(slot) || pg.isSafe(slot) {
			continue
		}
		addr := pg.start + uintptr(slot)*uintptr(pg.allocSize)
		if r.scan.clean(addr, addr+uintptr(pg.allocSize)) {
			pg.setSafe(slot)
			r.pushReusableSlot(pg, slot, addr)
		}
	}
}

func (r *reclaimer) pushReusableSlot(pg *pageMap, slot uint32, addr uintptr) {
	size := uintptr(pg.allocSize)

	r.slotReuseMu.Lock()
	q, ok := r.slotReuse[size]
	if !ok {
		q = newBoundedQueue[reusableSlot](reuseQueueCapacity)
		q.setNonblock(true)
		r.slotReuse[size] = q
	}
	r.slotReuseMu.Unlock()

	_ = q.tryPush(reusableSlot{pm: pg, slot: slot, addr: addr})
}

// tryReuseSlot pops a certified-safe, still-free slot of exactly size bytes,
// atomically reclaiming both its occupancy and safety bits and zeroing its
// contents before handing it back (spec.md §4.10's "atomically flip both
// bits, zero the slot, and return it").
func (r *reclaimer) tryReuseSlot(size uintptr) (uintptr, bool) {
	r.slotReuseMu.Lock()
	q, ok := r.slotReuse[size]
	r.slotReuseMu.Unlock()
	if !ok {
		return 0, false
	}

	for {
		s, err := q.tryPop()
		if err != nil {
			return 0, false
		}
		// The slot may have been re-allocated through the ordinary bump
		// path, or re-freed, since it was queued; only hand it out if it is
		// still unallocated and still certified safe.
		if s.pm.isBitSet(s.slot) || !s.pm.isSafe(s.slot) {
			continue
		}
		s.pm.setBit(s.slot)
		s.pm.clearSafe(s.slot)
		b := unsafe.Slice((*byte)(unsafe.Pointer(s.addr)), int(s.pm.allocSize))
		clear(b)
		return s.addr, true
	}
}
