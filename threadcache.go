// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ffalloc

import (
	"sync"
)

// bin is a thread cache's per-size-class cursor into a reserve of
// never-touched blank pages (spec.md §4.4). Per spec.md §2's forward-only
// invariant, a bin never recycles a freed slot address: every Alloc call
// either carves a brand-new slot off blankPage or refills from the pool's
// monotonic page cursor. Freed slots are tracked only by pageMap's bitmap,
// which exists to detect a fully drained page for the release engine (C8),
// not to feed new allocations. allocSize and maxAlloc are copied from
// sizeClass.binAllocSize/binMaxAlloc once at bin construction so the hot
// path never recomputes them.
type bin struct {
	allocSize uintptr
	maxAlloc  uintptr

	blankPage  uintptr  // current page being carved into fresh slots, 0 if none
	blankSlots uintptr  // slots remaining on blankPage
	page       *pageMap // metadata for blankPage, kept so alloc need not re-resolve it
}

// threadCache is a per-goroutine allocation front-end for the small path
// (spec.md §4.4). It borrows pages from a pool's nextFreePage cursor in
// batches of pagesPerRefillDefault (or a whole pool under
// Config.SingleThreaded) and carves fresh slots off its current blank page
// without taking any lock, except when the reserve itself needs a refill.
type threadCache struct {
	sc   sizeClass
	bins []bin

	pool    *pool // pool currently backing this cache's blank-page reserve
	refillN uintptr
	osMem   *osMemory
	arena   *Arena
	mdHeap  *metadataHeap

	// reserve holds pages claimed from the pool's shared cursor in a single
	// refillN-page batch (amortizing the CAS across many future page
	// installs) but not yet dedicated to any one bin.
	reserve []uintptr
}

// threadCachePool vends threadCache instances to goroutines, mirroring the
// reference implementation's per-OS-thread cache with sync.Pool standing in
// for the TLS slot Go does not expose (spec.md §9's sanctioned substitution:
// "a borrow-on-demand pool keyed by goroutine, rather than true TLS").
type threadCachePool struct {
	pools sync.Pool
}

func newThreadCachePool(a *Arena, sc sizeClass, singleThreaded bool) *threadCachePool {
	refillN := uintptr(pagesPerRefillDefault)
	if singleThreaded {
		refillN = poolSize / PageSize
	}
	tcp := &threadCachePool{}
	tcp.pools.New = func() any {
		return newThreadCache(a, sc, refillN)
	}
	return tcp
}

func newThreadCache(a *Arena, sc sizeClass, refillN uintptr) *threadCache {
	bins := make([]bin, sc.binCount)
	for i := range bins {
		bins[i].allocSize = sc.binAllocSize(i)
		bins[i].maxAlloc = sc.binMaxAlloc(i)
	}
	return &threadCache{
		sc:      sc,
		bins:    bins,
		refillN: refillN,
		osMem:   a.alloc.osMem,
		arena:   a,
		mdHeap:  a.alloc.metadata,
	}
}

func (tcp *threadCachePool) borrow() *threadCache {
	return tcp.pools.Get().(*threadCache)
}

func (tcp *threadCachePool) release(tc *threadCache) {
	tcp.pools.Put(tc)
}

// alloc returns a ready-to-use, never-before-handed-out slot address for the
// given aligned size, refilling the cache's bin (and, if necessary, its
// blank-page reserve and backing pool) as needed. It returns the slot
// address, the bin's allocation size, and the error (ErrOOM when address
// space runs out) from the pool/page acquisition calls it makes.
func (tc *threadCache) alloc(size uintptr) (uintptr, uintptr, error) {
	idx := tc.sc.bin(size)
	b := &tc.bins[idx]

	if r := tc.arena.alloc.reclaimer; r != nil && tc.arena.alloc.cfg.EnableSubPageReuse {
		if addr, ok := r.tryReuseSlot(b.allocSize); ok {
			return addr, b.allocSize, nil
		}
	}

	if b.blankSlots == 0 {
		if err := tc.refillBin(b); err != nil {
			return 0, 0, err
		}
	}

	addr := b.blankPage
	slot := uint32((addr - b.page.start) / uintptr(b.page.allocSize))
	b.page.setBit(slot)
	b.blankPage += b.allocSize
	b.blankSlots--
	return addr, b.allocSize, nil
}

// refillBin claims one page from the cache's local reserve (refilling that
// reserve in a single refillN-page batch off the pool's shared cursor first,
// if it is empty) and dedicates it entirely to bin b, matching ffmalloc.c's
// invariant that a page serves exactly one size class for its whole life
// (spec.md §4.4). Batching the cursor claim across refillN pages, rather
// than one CAS per page, is what PAGES_PER_REFILL amortizes; in
// Config.SingleThreaded mode it widens to a whole pool (newThreadCachePool).
func (tc *threadCache) refillBin(b *bin) error {
	page, err := tc.takeReservedPage()
	if err != nil {
		return err
	}

	idx := tc.pool.pageIndex(page)
	pm := &tc.pool.pages[idx]
	pm.start = page
	pm.allocSize = uint32(b.allocSize)
	pm.maxAlloc = uint32(b.maxAlloc)
	if pm.maxAlloc > 64 {
		arr, aerr := tc.mdHeap.allocArray(uintptr(pm.maxAlloc/64+1)*8, mdBinOf(uintptr(pm.maxAlloc/8+8)))
		if aerr == nil {
			pm.array = unsafeUint64Slice(arr, int(pm.maxAlloc/64+1))
		}
		if tc.arena.alloc.cfg.EnableSubPageReuse {
			safe, serr := tc.mdHeap.allocArray(uintptr(pm.maxAlloc/64+1)*8, mdBinOf(uintptr(pm.maxAlloc/8+8)))
			if serr == nil {
				pm.safemapArray = unsafeUint64Slice(safe, int(pm.maxAlloc/64+1))
			}
		}
	}

	b.blankPage = page
	b.blankSlots = b.maxAlloc
	b.page = pm

	return nil
}

// takeReservedPage pops one page address off tc.reserve, refilling it (and,
// if necessary, acquiring a fresh backing pool) first if empty.
func (tc *threadCache) takeReservedPage() (uintptr, error) {
	if len(tc.reserve) > 0 {
		page := tc.reserve[len(tc.reserve)-1]
		tc.reserve = tc.reserve[:len(tc.reserve)-1]
		return page, nil
	}

	if tc.pool == nil || tc.pool.destroyed() {
		p, err := tc.arena.acquireSmallPool(tc.sc)
		if err != nil {
			return 0, err
		}
		tc.pool = p
	}

	base, err := acquirePage(tc.pool, tc.refillN, tc.osMem)
	if err != nil {
		// Current pool is exhausted; drop it and retry once against a fresh one.
		p, aerr := tc.arena.acquireSmallPool(tc.sc)
		if aerr != nil {
			return 0, aerr
		}
		tc.pool = p
		base, err = acquirePage(tc.pool, tc.refillN, tc.osMem)
		if err != nil {
			return 0, err
		}
	}

	for i := uintptr(1); i < tc.refillN; i++ {
		tc.reserve = append(tc.reserve, base+i*PageSize)
	}
	return base, nil
}

// acquirePage claims the next batchPages*PageSize run from a pool's
// monotonic page cursor, atomically advancing nextFreePage so concurrent
// acquirers never collide (spec.md §4.4 "lock-free page hand-out"). The
// pool's nextFreePage must already be initialized to p.start by whichever
// constructor (C6/C9) created the pool.
func acquirePage(p *pool, batchPages uintptr, osMem *osMemory) (uintptr, error) {
	batchSize := batchPages * PageSize
	for {
		cur := p.nextFreePage.Load()
		next := cur + batchSize
		if next > p.end {
			return 0, ErrOOM
		}
		if p.nextFreePage.CompareAndSwap(cur, next) {
			_ = osMem
			return cur, nil
		}
	}
}
