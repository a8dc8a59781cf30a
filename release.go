// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ffalloc

// releaseSmallFree clears a slot's occupancy bit in its page's bitmap and,
// once every slot on the page is clear, unmaps that page back to the OS
// (spec.md §6 "Page-release engine"). A page is never handed back to the
// pool's own free-page cursor for reuse: per spec.md §2's forward-only
// invariant, its virtual address is retired for good unless the concurrent
// reclaimer (C10) later proves it safe to reuse.
func (a *Allocator) releaseSmallFree(p *pool, addr uintptr) {
	pageAddr := addr &^ (PageSize - 1)
	pg := p.pageAt(pageAddr)

	if pg.start == 0 || pg.allocSize == 0 {
		a.fatal("Free", addr)
		return
	}

	slot := uint32((addr - pg.start) / uintptr(pg.allocSize))
	if !pg.clearBit(slot) {
		a.fatal("Free", addr)
		return
	}

	if !pg.allEmpty() {
		return
	}

	if pg.status&pageUnmapped != 0 {
		return
	}
	pg.status |= pageDrained

	if err := a.osMem.unmapPages(pageAddr, PageSize); err != nil {
		return
	}
	pg.status |= pageUnmapped

	a.maybeDestroySmallPool(p)
}

// maybeDestroySmallPool checks whether every page in a small pool has been
// unmapped and, if so, retires the pool entirely (unregisters it from the
// pointer resolver; the VA range itself was already returned page by page).
func (a *Allocator) maybeDestroySmallPool(p *pool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.endInUse <= p.startInUse {
		return // already retired
	}
	for i := range p.pages {
		if p.pages[i].status&pageUnmapped == 0 && p.pages[i].start != 0 {
			return
		}
	}
	if p.nextFreePage.Load() < p.end {
		return // pool still has untouched pages beyond the watermark
	}
	p.endInUse = p.startInUse

	a.registry.remove(p)
}

// retirePool is called once every allocation a large pool ever carved has
// been freed (large.go). With the
// concurrent reclaimer disabled it destroys the pool immediately, same as a
// page-granular small-pool release; with it enabled the pool is instead
// handed to the reclaimer's awaiting-scan queue, and only destroyed (or
// recycled whole via the reuse queue) once a sweep certifies nothing still
// points into it (spec.md §4.9's pool state machine).
func (a *Allocator) retirePool(p *pool) {
	if a.reclaimer != nil {
		a.reclaimer.enqueueDrained(p)
		return
	}
	a.destroyPool(p)
}
