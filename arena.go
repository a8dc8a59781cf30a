// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ffalloc

import (
	"sync"
	"sync/atomic"
)

// Arena is an independent grouping of pools that can be torn down in bulk
// (spec.md §3 "Arena", §4.9). It is the one sanctioned exception to
// forward-only address semantics: destroying an arena unmaps every pool it
// owns regardless of whether individual allocations within it were freed.
type Arena struct {
	_ noCopy

	alloc *Allocator
	id    int32
	live  atomic.Bool

	smallMu  sync.Mutex
	small    *pool // current pool being carved for the small path (C5)
	smallAll []*pool

	large [maxLargeLists]struct {
		mu    sync.Mutex
		lanes []*pool
		_     [CacheLineSize]byte // pads each lane to its own cache line
	}
	largeLane atomic.Uint32 // round-robin cursor, substituting for sched_getcpu()

	jumboMu sync.Mutex
	jumbo   []*pool

	cacheOnce sync.Once
	caches    *threadCachePool
}

// smallCachePool lazily constructs the arena's thread-cache-pool on first
// use, so CreateArena stays cheap for callers that never touch the small
// path in a given arena.
func (a *Arena) smallCachePool() *threadCachePool {
	a.cacheOnce.Do(func() {
		a.caches = newThreadCachePool(a, a.alloc.sc, a.alloc.cfg.SingleThreaded)
	})
	return a.caches
}

// arenaTable holds every live arena in a fixed-size array, CAS-claimed by
// index, mirroring ffmalloc.c's `arena_t arenas[MAX_ARENAS]` (spec.md §4.9).
type arenaTable struct {
	slots [maxArenas]atomic.Pointer[Arena]
}

func newArenaTable(a *Allocator) *arenaTable {
	t := &arenaTable{}
	def := &Arena{alloc: a, id: 0}
	def.live.Store(true)
	t.slots[0].Store(def)
	return t
}

// create claims the first free slot beyond the default arena and returns a
// new Arena, or ErrArenaLimit if every slot is occupied.
func (t *arenaTable) create(a *Allocator) (*Arena, error) {
	for i := 1; i < maxArenas; i++ {
		if t.slots[i].Load() != nil {
			continue
		}
		na := &Arena{alloc: a, id: int32(i)}
		na.live.Store(true)
		if t.slots[i].CompareAndSwap(nil, na) {
			return na, nil
		}
	}
	return nil, ErrArenaLimit
}

// destroy unmaps every pool owned by the arena and frees the slot. The
// default arena (index 0) can never be destroyed.
func (t *arenaTable) destroy(ar *Arena) error {
	if ar.id == 0 {
		return nil
	}
	ar.live.Store(false)

	ar.smallMu.Lock()
	small := ar.smallAll
	ar.smallAll = nil
	ar.small = nil
	ar.smallMu.Unlock()
	for _, p := range small {
		ar.alloc.destroyPool(p)
	}

	for i := range ar.large {
		ar.large[i].mu.Lock()
		lanes := ar.large[i].lanes
		ar.large[i].lanes = nil
		ar.large[i].mu.Unlock()
		for _, p := range lanes {
			ar.alloc.destroyPool(p)
		}
	}

	ar.jumboMu.Lock()
	jumbo := ar.jumbo
	ar.jumbo = nil
	ar.jumboMu.Unlock()
	for _, p := range jumbo {
		ar.alloc.destroyPool(p)
	}

	t.slots[ar.id].Store(nil)
	return nil
}

func (t *arenaTable) defaultArena() *Arena {
	return t.slots[0].Load()
}

// acquireSmallPool returns the arena's current small pool for sc, mapping a
// fresh one when there is none yet, the current one has handed out all of its
// pages, or it has been fully drained and released.
func (a *Arena) acquireSmallPool(sc sizeClass) (*pool, error) {
	a.smallMu.Lock()
	defer a.smallMu.Unlock()

	if a.small != nil && !a.small.destroyed() && a.small.nextFreePage.Load() < a.small.end {
		return a.small, nil
	}

	p, err := a.alloc.newSmallPool(a)
	if err != nil {
		return nil, err
	}
	a.small = p
	a.smallAll = append(a.smallAll, p)
	return p, nil
}

// nextLargeLane rotates through MAX_LARGE_LISTS lanes, substituting for the
// reference implementation's sched_getcpu()-indexed list selection (spec.md
// §9's sanctioned substitution for CPU-affinity hinting Go does not expose).
func (a *Arena) nextLargeLane() int {
	if a.alloc.cfg.SingleThreaded {
		return 0
	}
	n := a.largeLane.Add(1)
	return int(n % maxLargeLists)
}
