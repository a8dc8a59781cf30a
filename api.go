// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ffalloc

import (
	"math/bits"
	"sync"
	"unsafe"
)

// AlignedAllocKind selects among the named alignment strategies AlignedAlloc
// supports beyond the allocator's configured MinAlignment (spec.md §8).
type AlignedAllocKind int

const (
	// AlignNatural serves the request through the ordinary small/large/jumbo
	// path, relying only on Config.MinAlignment.
	AlignNatural AlignedAllocKind = iota
	// AlignPage rounds the requested alignment up to at least the OS page
	// size, routing through the jumbo path so the mapping itself satisfies
	// alignment rather than any in-page offset trick.
	AlignPage
)

// Alloc allocates size bytes from the default arena and returns a slice
// aliasing the raw mapped or carved memory (spec.md §8 "Alloc"). The slice's
// length is exactly size; its capacity may exceed size where the underlying
// bin, boundary, or jumbo mapping is larger (see UsableSize).
func (a *Allocator) Alloc(size int) ([]byte, error) {
	return a.AllocIn(a.arenas.defaultArena(), size)
}

// AllocIn is Alloc scoped to a specific arena (spec.md §4.9).
func (a *Allocator) AllocIn(ar *Arena, size int) ([]byte, error) {
	if size <= 0 {
		return nil, nil
	}
	usize := uintptr(size)
	aligned := a.sc.alignSize(usize)

	switch {
	case isJumbo(aligned):
		addr, p, err := a.jumboAlloc(ar, aligned)
		if err != nil {
			return nil, err
		}
		return unsafeBytes(addr, size, int(jumboUsableSize(p))), nil

	case isSmall(aligned):
		caches := ar.smallCachePool()
		tc := caches.borrow()
		addr, capSize, err := tc.alloc(aligned)
		caches.release(tc)
		if err != nil {
			return nil, err
		}
		return unsafeBytes(addr, size, int(capSize)), nil

	default:
		addr, err := a.largeAlloc(ar, aligned)
		if err != nil {
			return nil, err
		}
		return unsafeBytes(addr, size, int(aligned)), nil
	}
}

// AlignedAlloc allocates size bytes with at least the given alignment,
// which must be a power of two. Alignments up to the size class's natural
// alignment are free; larger ones up to a page round a small request up to a
// power of two no smaller than alignment. AlignPage, and any request that
// rounding would push past the small path, get their own mapping, which
// satisfies alignment itself.
func (a *Allocator) AlignedAlloc(size int, alignment uintptr, kind AlignedAllocKind) ([]byte, error) {
	if !isPow2(alignment) || alignment < unsafe.Sizeof(uintptr(0)) {
		return nil, ErrBadAlignment
	}
	if kind == AlignNatural && alignment > a.cfg.MinAlignment && alignment <= PageSize && size > 0 {
		// A small slot of power-of-two size sits at a multiple of that size
		// within its page.
		rounded := max(alignment, uintptr(1)<<bits.Len(uint(size-1)))
		if rounded <= halfPage {
			buf, err := a.Alloc(int(rounded))
			if err != nil {
				return nil, err
			}
			return buf[:size], nil
		}
		kind = AlignPage
	}
	if kind == AlignPage || alignment > PageSize {
		ar := a.arenas.defaultArena()
		// mapPool only guarantees a page-aligned base, so reserve an extra
		// alignment's worth of slack: whatever offset the base falls short
		// of the requested alignment by, there is still room for a
		// size-byte allocation past the rounded-up address.
		mapSize := alignUp(uintptr(size)+alignment, PageSize)
		if mapSize < poolSize {
			mapSize = poolSize
		}
		addr, err := a.osMem.mapPool(mapSize, false)
		if err != nil {
			return nil, err
		}
		p := &pool{start: addr, end: addr + mapSize, nextFreeIndex: poolIndexJumbo, arena: ar, alloc: a}
		p.startInUse, p.endInUse = addr, addr+mapSize
		a.registry.add(p)
		ar.jumboMu.Lock()
		ar.jumbo = append(ar.jumbo, p)
		ar.jumboMu.Unlock()

		aligned := alignUp(addr, alignment)
		return unsafeBytes(aligned, size, int(mapSize-(aligned-addr))), nil
	}
	return a.Alloc(size)
}

// Calloc allocates an n-element array of size-byte elements, zero-filled,
// failing with ErrOverflow rather than silently truncating n*size (spec.md
// §8's supplemented overflow-checked Calloc).
func (a *Allocator) Calloc(n, size int) ([]byte, error) {
	if n < 0 || size < 0 {
		return nil, ErrOverflow
	}
	hi, total := bits.Mul64(uint64(n), uint64(size))
	if hi != 0 || total > uint64(^uint(0)>>1) {
		return nil, ErrOverflow
	}
	buf, err := a.Alloc(int(total))
	if err != nil {
		return nil, err
	}
	clear(buf)
	return buf, nil
}

// Free returns buf to the allocator. buf must be a slice previously returned
// by Alloc, Realloc, Calloc, AlignedAlloc, or Dup/DupN on the same
// Allocator; passing anything else is a fatal usage error (spec.md §7).
func (a *Allocator) Free(buf []byte) {
	if len(buf) == 0 {
		return
	}
	addr := uintptr(unsafe.Pointer(unsafe.SliceData(buf)))
	p := a.registry.findPool(addr)
	if p == nil {
		a.fatal("Free", addr)
		return
	}

	switch {
	case p.isJumbo():
		a.jumboFree(p.arena, p)
	case p.isSmall():
		a.releaseSmallFree(p, addr)
	default:
		a.largeFree(p, addr)
	}
}

// UsableSize reports the full capacity of the allocation backing buf, which
// may exceed len(buf) (spec.md §8 "UsableSize").
func (a *Allocator) UsableSize(buf []byte) int {
	return cap(buf)
}

// Realloc resizes the allocation backing buf to newSize bytes, copying the
// overlapping prefix and freeing the original (spec.md §8 "Realloc"). Since
// addresses are never recycled in place, Realloc always moves: there is no
// in-place-grow fast path, unlike a recycling allocator.
func (a *Allocator) Realloc(buf []byte, newSize int) ([]byte, error) {
	if buf == nil {
		return a.Alloc(newSize)
	}
	if newSize <= 0 {
		a.Free(buf)
		return nil, nil
	}
	out, err := a.Alloc(newSize)
	if err != nil {
		return nil, err
	}
	n := copy(out, buf)
	_ = n
	a.Free(buf)
	return out, nil
}

// Dup allocates a copy of src (spec.md §8's supplemented convenience API).
func (a *Allocator) Dup(src []byte) ([]byte, error) {
	return a.DupN(src, len(src))
}

// DupN allocates an n-byte buffer and copies min(n, len(src)) bytes from
// src into it, zero-filling any remainder.
func (a *Allocator) DupN(src []byte, n int) ([]byte, error) {
	out, err := a.Alloc(n)
	if err != nil {
		return nil, err
	}
	copy(out, src)
	return out, nil
}

// CreateArena allocates a new independent arena whose pools can later be
// torn down in bulk via DestroyArena (spec.md §4.9).
func (a *Allocator) CreateArena() (*Arena, error) {
	return a.arenas.create(a)
}

// DestroyArena unmaps every pool owned by ar, regardless of whether the
// allocations within them were individually freed. The default arena (the
// one returned by DefaultArena) cannot be destroyed.
func (a *Allocator) DestroyArena(ar *Arena) error {
	return a.arenas.destroy(ar)
}

// DefaultArena returns the always-live arena new Allocators start with.
func (a *Allocator) DefaultArena() *Arena {
	return a.arenas.defaultArena()
}

// Alloc allocates size bytes scoped to this arena (spec.md §4.9).
func (ar *Arena) Alloc(size int) ([]byte, error) {
	return ar.alloc.AllocIn(ar, size)
}

func unsafeBytes(addr uintptr, length, capacity int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), capacity)[:length]
}

// defaultAllocator is the lazily-constructed instance backing the
// package-level convenience functions (spec.md §9: "encapsulate it behind
// an Allocator object even if only one instance is ever created").
var (
	defaultOnce  sync.Once
	defaultAlloc *Allocator
	defaultErr   error
)

func defaultAllocator() (*Allocator, error) {
	defaultOnce.Do(func() {
		defaultAlloc, defaultErr = New()
	})
	return defaultAlloc, defaultErr
}

// Alloc allocates size bytes from the package-level default Allocator.
func Alloc(size int) ([]byte, error) {
	a, err := defaultAllocator()
	if err != nil {
		return nil, err
	}
	return a.Alloc(size)
}

// Free returns buf to the package-level default Allocator.
func Free(buf []byte) {
	a, err := defaultAllocator()
	if err != nil {
		return
	}
	a.Free(buf)
}

// Calloc allocates a zero-filled n*size array from the default Allocator.
func Calloc(n, size int) ([]byte, error) {
	a, err := defaultAllocator()
	if err != nil {
		return nil, err
	}
	return a.Calloc(n, size)
}

// Realloc resizes buf via the default Allocator.
func Realloc(buf []byte, newSize int) ([]byte, error) {
	a, err := defaultAllocator()
	if err != nil {
		return nil, err
	}
	return a.Realloc(buf, newSize)
}
