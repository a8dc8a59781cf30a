// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ffalloc

import (
	"sync"
	"sync/atomic"
)

// Radix tree geometry (spec.md §3 "Radix tree", §4.3). 48-bit pointers on
// x86-64/arm64, split root/stem/leaf, with POOL_SIZE_BITS taken off the
// bottom since lookups only ever need a pool's containing prefix.
const (
	radixRootBits  = 8
	radixStemBits  = 8
	radixLeafBits  = 48 - radixRootBits - radixStemBits - poolSizeBits
	radixStemCount = 1 << radixRootBits
	radixLeafCount = 1 << radixStemBits
	radixPoolCount = 1 << radixLeafBits
)

// radixLeaf is the leaf node of the pool registry. Because pool base
// addresses are not required to be POOL_SIZE aligned (ASLR-friendly per
// spec.md §3), a single prefix can contain both the start of one pool and
// the end of another, so two parallel arrays are kept.
type radixLeaf struct {
	poolStart [radixPoolCount]atomic.Pointer[pool]
	poolEnd   [radixPoolCount]atomic.Pointer[pool]
}

type radixStem struct {
	leaves [radixLeafCount]atomic.Pointer[radixLeaf]
}

type radixRoot struct {
	stems [radixStemCount]atomic.Pointer[radixStem]
}

// poolRegistry is the pointer -> pool resolver (C3). Lookups are lock-free;
// inserts and removes take a single coarse, write-mostly lock (spec.md §5).
type poolRegistry struct {
	mu   sync.Mutex
	root radixRoot
}

func newPoolRegistry() *poolRegistry {
	return &poolRegistry{}
}

func radixIndices(addr uintptr) (rootIdx, stemIdx, leafIdx int) {
	prefix := addr >> poolSizeBits
	leafIdx = int(prefix & (radixPoolCount - 1))
	stemIdx = int((prefix >> radixLeafBits) & (radixLeafCount - 1))
	rootIdx = int((prefix >> (radixLeafBits + radixStemBits)) & (radixStemCount - 1))
	return
}

// findPool resolves any client pointer to its owning pool in O(1) time,
// consulting poolStart first and poolEnd second (spec.md §4.3).
func (r *poolRegistry) findPool(ptr uintptr) *pool {
	rootIdx, stemIdx, leafIdx := radixIndices(ptr)

	stem := r.root.stems[rootIdx].Load()
	if stem == nil {
		return nil
	}
	leaf := stem.leaves[stemIdx].Load()
	if leaf == nil {
		return nil
	}

	if p := leaf.poolStart[leafIdx].Load(); p != nil && ptr >= p.start && ptr < p.end {
		return p
	}
	if p := leaf.poolEnd[leafIdx].Load(); p != nil && ptr >= p.start && ptr < p.end {
		return p
	}
	return nil
}

// leafFor returns the leaf covering addr, installing any missing stem or
// leaf on the way. The caller (add or remove) already holds r.mu.
func (r *poolRegistry) leafFor(addr uintptr) *radixLeaf {
	rootIdx, stemIdx, _ := radixIndices(addr)

	stem := r.root.stems[rootIdx].Load()
	if stem == nil {
		stem = &radixStem{}
		r.root.stems[rootIdx].Store(stem)
	}

	leaf := stem.leaves[stemIdx].Load()
	if leaf == nil {
		leaf = &radixLeaf{}
		stem.leaves[stemIdx].Store(leaf)
	}
	return leaf
}

// add registers p under both its start prefix and the prefix containing its
// last byte (they may coincide).
func (r *poolRegistry) add(p *pool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, _, startLeafIdx := radixIndices(p.start)
	startLeaf := r.leafFor(p.start)
	startLeaf.poolStart[startLeafIdx].Store(p)

	lastByte := p.end - 1
	_, _, endLeafIdx := radixIndices(lastByte)
	endLeaf := r.leafFor(lastByte)
	endLeaf.poolEnd[endLeafIdx].Store(p)
}

// remove unregisters p. Called only once a pool is fully destroyed.
func (r *poolRegistry) remove(p *pool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, _, startLeafIdx := radixIndices(p.start)
	if leaf := r.leafFor(p.start); leaf.poolStart[startLeafIdx].Load() == p {
		leaf.poolStart[startLeafIdx].Store(nil)
	}

	lastByte := p.end - 1
	_, _, endLeafIdx := radixIndices(lastByte)
	if leaf := r.leafFor(lastByte); leaf.poolEnd[endLeafIdx].Load() == p {
		leaf.poolEnd[endLeafIdx].Store(nil)
	}
}
