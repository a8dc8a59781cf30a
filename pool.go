// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ffalloc

import (
	"math/bits"
	"sort"
	"sync"
	"sync/atomic"
)

// Sentinel values for pool.nextFreeIndex (spec.md §3 "nextFreeIndex"). Any
// other value names a live cursor into a large pool's boundary slice.
const (
	poolIndexSmall uint32 = 1<<32 - 1
	poolIndexJumbo uint32 = 1<<32 - 2
)

// pageStatus holds per-page flags for small pools. Per spec.md §9's design
// note, these are kept as explicit tagged fields rather than packed into the
// low bits of allocSize or an address.
type pageStatus uint8

const (
	pageDrained  pageStatus = 1 << iota // every allocation on the page has been freed
	pageUnmapped                        // the page has been returned to the OS (or PROT_NONE'd)
	pageFull                            // every slot on the page has been handed out at least once
)

// pageMap is the per-page metadata for a small pool (spec.md §3 "Page map").
type pageMap struct {
	start     uintptr
	allocSize uint32
	maxAlloc  uint32
	status    pageStatus

	// single tracks occupied slots directly when maxAlloc <= 64; array holds
	// one word per 64 slots otherwise, backed by the metadata heap.
	single atomic.Uint64
	array  []atomic.Uint64

	// safemap and epoch are only populated when sub-page reuse (C11) is
	// enabled; they track which slots a reclaimer pass has confirmed are
	// free of any surviving pointer.
	safemap      atomic.Uint64
	safemapArray []atomic.Uint64
	epoch        uint32
}

func (pg *pageMap) wordFor(slot uint32) (*atomic.Uint64, uint64) {
	if pg.array == nil {
		return &pg.single, 1 << slot
	}
	return &pg.array[slot/64], 1 << (slot % 64)
}

func (pg *pageMap) setBit(slot uint32) {
	word, mask := pg.wordFor(slot)
	word.Or(mask)
}

// clearBit clears slot and reports whether it had previously been set.
func (pg *pageMap) clearBit(slot uint32) bool {
	word, mask := pg.wordFor(slot)
	for {
		old := word.Load()
		if old&mask == 0 {
			return false
		}
		if word.CompareAndSwap(old, old&^mask) {
			return true
		}
	}
}

func (pg *pageMap) isBitSet(slot uint32) bool {
	word, mask := pg.wordFor(slot)
	return word.Load()&mask != 0
}

// allEmpty reports whether every tracked slot on the page is clear, the
// condition that lets the release engine reclaim the page (spec.md §6).
func (pg *pageMap) allEmpty() bool {
	if pg.array == nil {
		return pg.single.Load() == 0
	}
	for i := range pg.array {
		if pg.array[i].Load() != 0 {
			return false
		}
	}
	return true
}

// liveCount returns the number of currently-occupied slots, feeding C11's
// aging heuristic (spec.md §4.10).
func (pg *pageMap) liveCount() int {
	if pg.array == nil {
		return bits.OnesCount64(pg.single.Load())
	}
	n := 0
	for i := range pg.array {
		n += bits.OnesCount64(pg.array[i].Load())
	}
	return n
}

// safeWordFor mirrors wordFor for the safemap bitmap, which is only
// populated when sub-page reuse (C11) is enabled.
func (pg *pageMap) safeWordFor(slot uint32) (*atomic.Uint64, uint64) {
	if pg.safemapArray == nil {
		return &pg.safemap, 1 << slot
	}
	return &pg.safemapArray[slot/64], 1 << (slot % 64)
}

func (pg *pageMap) setSafe(slot uint32) {
	word, mask := pg.safeWordFor(slot)
	word.Or(mask)
}

func (pg *pageMap) clearSafe(slot uint32) {
	word, mask := pg.safeWordFor(slot)
	word.And(^mask)
}

func (pg *pageMap) isSafe(slot uint32) bool {
	word, mask := pg.safeWordFor(slot)
	return word.Load()&mask != 0
}

// largeBoundary is one entry in a large pool's sorted allocation-boundary
// array (spec.md §3 "Large-pool metadata"). Status is kept as explicit
// booleans rather than packed into an address's tag bits, per spec.md §9.
type largeBoundary struct {
	addr     uintptr
	freed    bool
	unmapped bool
	retired  bool
}

// pool is a fixed-size, forward-only VA region carved into slots (spec.md
// §3 "Pool"). The same struct backs small, large, and jumbo pools; which
// tracking union is populated is determined by nextFreeIndex.
type pool struct {
	_ noCopy

	start, end uintptr

	nextFreePage atomic.Uintptr

	mu         sync.Mutex // guards startInUse/endInUse and large-boundary mutation
	startInUse uintptr
	endInUse   uintptr

	nextFreeIndex uint32 // poolIndexSmall, poolIndexJumbo, or a large-pool cursor

	pages  []pageMap       // small-pool tracking: one entry per page in the pool
	bounds []largeBoundary // large-pool tracking: sorted allocation boundaries

	arena    *Arena
	listNext *pool // intrusive list pointer within an arena's per-size-class list

	alloc *Allocator
}

func (p *pool) isSmall() bool { return p.nextFreeIndex == poolIndexSmall }
func (p *pool) isJumbo() bool { return p.nextFreeIndex == poolIndexJumbo }
func (p *pool) isLarge() bool { return !p.isSmall() && !p.isJumbo() }

// pageIndex returns the index into p.pages for an address known to lie
// within the pool.
func (p *pool) pageIndex(addr uintptr) int {
	return int((addr - p.start) / PageSize)
}

func (p *pool) pageAt(addr uintptr) *pageMap {
	return &p.pages[p.pageIndex(addr)]
}

// findBoundary returns the index i such that bounds[i].addr == ptr and ptr
// names a live allocation start, or -1 otherwise. Matches spec.md §4.5's
// "binary-search the sorted array".
func (p *pool) findBoundary(ptr uintptr) int {
	n := len(p.bounds)
	i := sort.Search(n, func(i int) bool { return p.bounds[i].addr > ptr }) - 1
	if i < 0 || i >= n-1 || p.bounds[i].addr != ptr {
		return -1
	}
	return i
}

// destroyed reports whether the pool has been fully drained and its tail
// slack released (spec.md §3 invariant on startInUse/endInUse).
func (p *pool) destroyed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startInUse >= p.endInUse
}
