// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ffalloc

// jumboAlloc serves an allocation whose aligned size is at or above
// jumboSizeCutoff (spec.md §4.6). Each jumbo allocation gets a dedicated
// pool-or-larger mapping sized to exactly the request, rounded up to a page:
// there is no sharing, no boundary tracking, and freeing one simply unmaps
// its entire backing region.
func (a *Allocator) jumboAlloc(ar *Arena, size uintptr) (uintptr, *pool, error) {
	mapSize := alignUp(size, PageSize)
	if mapSize < poolSize {
		mapSize = poolSize
	}

	p, err := a.newJumboPool(ar, mapSize)
	if err != nil {
		return 0, nil, err
	}

	ar.jumboMu.Lock()
	ar.jumbo = append(ar.jumbo, p)
	ar.jumboMu.Unlock()

	return p.start, p, nil
}

// jumboFree unmaps a jumbo allocation's entire backing pool. There is no
// coalescing path: every jumbo pool exists to serve exactly one allocation.
func (a *Allocator) jumboFree(ar *Arena, p *pool) {
	ar.jumboMu.Lock()
	for i, cand := range ar.jumbo {
		if cand == p {
			ar.jumbo = append(ar.jumbo[:i], ar.jumbo[i+1:]...)
			break
		}
	}
	ar.jumboMu.Unlock()

	a.destroyPool(p)
}

// jumboUsableSize returns the full mapped size of a jumbo allocation, which
// may exceed the originally requested size due to page/pool rounding
// (spec.md §4.6, UsableSize semantics in §8).
func jumboUsableSize(p *pool) uintptr {
	return p.end - p.start
}
