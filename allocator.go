// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ffalloc

import (
	"sync"
	"unsafe"
)

// pageMapEntrySize and largeBoundaryEntrySize are the metadata-heap strides
// for whole-pool tracking arrays. unsafe.Sizeof is a compile-time constant
// for types with no trailing flexible members, so these can be consts.
const (
	pageMapEntrySize      = unsafe.Sizeof(pageMap{})
	largeBoundaryEntrySize = unsafe.Sizeof(largeBoundary{})
)

// Allocator wires together every component (C1-C11) into a single forward-
// only, one-time-address-use memory allocator (spec.md §1-§3). Per spec.md
// §9, it is encapsulated behind a struct even though most programs need only
// the package-level convenience functions operating on a lazily-created
// default instance, so the whole allocator remains independently testable.
type Allocator struct {
	cfg      Config
	sc       sizeClass
	osMem    *osMemory
	metadata *metadataHeap
	registry *poolRegistry
	arenas   *arenaTable

	reclaimer *reclaimer // nil unless Config.EnableReclaimer

	releaseMu sync.Mutex // not taken anywhere: the page-release engine (C8) has no merge step
}

// New constructs an Allocator. Every option is applied once; there is no
// supported way to reconfigure an Allocator after construction.
func New(opts ...Option) (*Allocator, error) {
	cfg := newConfig(opts...)

	a := &Allocator{
		cfg:      cfg,
		sc:       sizeClassFor(cfg.MinAlignment),
		osMem:    newOSMemory(&cfg),
		registry: newPoolRegistry(),
	}

	md, err := newMetadataHeap(a.osMem)
	if err != nil {
		return nil, err
	}
	a.metadata = md
	a.arenas = newArenaTable(a)

	if cfg.EnableReclaimer {
		a.reclaimer = newReclaimer(a)
	}

	return a, nil
}

// Close stops the concurrent reclaimer's background goroutine, if one is
// running, and waits for it to exit (spec.md §4.9: "the reclaimer thread
// supports explicit cancellation at process exit"). It is a no-op when
// Config.EnableReclaimer was never set. Close does not unmap any pool; it
// only releases the reclaimer's own resources (procfs file descriptors,
// its goroutine).
func (a *Allocator) Close() error {
	if a.reclaimer != nil {
		a.reclaimer.close()
	}
	return nil
}

// acquirePoolRegion returns a VA range of exactly size bytes, preferring a
// reclaimer-certified reusable region (spec.md §4.9) over extending the
// bump cursor.
func (a *Allocator) acquirePoolRegion(size uintptr, populate bool) (uintptr, error) {
	if a.reclaimer != nil {
		if start, ok := a.reclaimer.takeReusable(size); ok {
			if err := a.osMem.remapReused(start, size, populate); err == nil {
				return start, nil
			}
			// Something else claimed the range in the meantime (or the
			// remap otherwise failed): fall through to a fresh mapping.
		}
	}
	return a.osMem.mapPool(size, populate)
}

// newSmallPool maps a fresh POOL_SIZE region, installs its page-map tracking
// array, and registers it with the pointer resolver (C3).
func (a *Allocator) newSmallPool(ar *Arena) (*pool, error) {
	start, err := a.acquirePoolRegion(poolSize, !a.cfg.SingleThreaded)
	if err != nil {
		return nil, err
	}

	p := &pool{
		start:         start,
		end:           start + poolSize,
		nextFreeIndex: poolIndexSmall,
		arena:         ar,
		alloc:         a,
	}
	p.nextFreePage.Store(start)
	p.startInUse, p.endInUse = start, start+poolSize

	pageCount := int(poolSize / PageSize)
	pagesBytes := uintptr(pageCount) * pageMapEntrySize
	raw, err := a.metadata.allocArray(pagesBytes, mdBinSmallArray)
	if err != nil {
		a.osMem.unmapPages(start, poolSize)
		return nil, err
	}
	p.pages = unsafePageMapSlice(raw, pageCount)

	a.registry.add(p)
	return p, nil
}

// newLargePool maps a fresh POOL_SIZE region for the large path (C6) with an
// empty boundary array seeded with a single sentinel marking the whole pool
// as free.
func (a *Allocator) newLargePool(ar *Arena) (*pool, error) {
	start, err := a.acquirePoolRegion(poolSize, false)
	if err != nil {
		return nil, err
	}

	p := &pool{
		start:         start,
		end:           start + poolSize,
		nextFreeIndex: 0,
		arena:         ar,
		alloc:         a,
	}
	p.nextFreePage.Store(start)
	p.startInUse, p.endInUse = start, start+poolSize

	// Seed capacity for boundaryCap allocations before falling back to
	// ordinary Go-heap growth; large pools rarely host more than a handful
	// of allocations given the size class they serve.
	const boundaryCap = maxPoolsPerList * 4
	raw, err := a.metadata.allocArray(boundaryCap*largeBoundaryEntrySize, mdBinLargeArray)
	if err != nil {
		a.osMem.unmapPages(start, poolSize)
		return nil, err
	}
	p.bounds = unsafeLargeBoundarySlice(raw, boundaryCap)[:0]
	p.bounds = append(p.bounds, largeBoundary{addr: start}, largeBoundary{addr: p.end})

	a.registry.add(p)
	return p, nil
}

// newJumboPool maps a pool-sized-or-larger region dedicated to a single
// allocation (C7). size has already been rounded up to a page multiple.
func (a *Allocator) newJumboPool(ar *Arena, size uintptr) (*pool, error) {
	start, err := a.osMem.mapPool(size, false)
	if err != nil {
		return nil, err
	}
	p := &pool{
		start:         start,
		end:           start + size,
		nextFreeIndex: poolIndexJumbo,
		arena:         ar,
		alloc:         a,
	}
	p.startInUse, p.endInUse = start, start+size
	a.registry.add(p)
	return p, nil
}

// destroyPool unmaps a pool's VA range and unregisters it from the pointer
// resolver. Used both by the release engine (C8) when a pool fully drains
// and by Arena teardown (C9).
func (a *Allocator) destroyPool(p *pool) {
	a.registry.remove(p)
	a.osMem.unmapPages(p.start, p.end-p.start)
}

// fatal routes an invalid-pointer condition through the configured hook.
func (a *Allocator) fatal(op string, ptr uintptr) {
	invalidPointer(&a.cfg, op, ptr)
}

