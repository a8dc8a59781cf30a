// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ffalloc

import (
	"sync"
	"unsafe"
)

// metadataReserve is the size of the VA range reserved up front to back all
// allocator-internal objects (spec.md §3 "Metadata heap"). Matches the
// reference implementation's 1 GiB reservation.
const metadataReserve = 1024 * 1024 * 1024

// mdBinCount is the number of size-bucketed free-list bins, plus two special
// bins for whole small/large pool tracking arrays (spec.md §4.1).
const (
	mdBinCount      = 256
	mdBinSmallArray = 256 // whole-small-pool tracking array bin
	mdBinLargeArray = 257 // whole-large-pool tracking array bin
	mdTotalBins     = 258
)

// usedMD reinterprets a freed metadata block as a link in its bin's LIFO
// free list, mirroring usedmd_t in ffmalloc.c.
type usedMD struct {
	next unsafe.Pointer
}

// metadataHeap is the bump-plus-freelist allocator backing the internal
// arrays (small-pool page maps, page bitmaps and safemaps, large-pool
// boundary arrays); radix nodes and pool objects live on the Go heap. It is never
// returned to the OS and never exposed to client code (spec.md §4.1).
//
// Unlike the pools it backs, the metadata heap is not forward-only: freed
// metadata blocks cycle back through their bin's free list, which is safe
// because metadata is never visible to, or addressable by, client code.
type metadataHeap struct {
	mu sync.Mutex

	base unsafe.Pointer // start of the reserved range
	free unsafe.Pointer // bump pointer: next unallocated byte
	end  unsafe.Pointer // end of currently committed range

	limit unsafe.Pointer // end of the reserved (but not necessarily committed) range

	bins [mdTotalBins]unsafe.Pointer // LIFO free lists, one per bin

	os *osMemory
}

func newMetadataHeap(os *osMemory) (*metadataHeap, error) {
	base, err := os.reserveMetadata(metadataReserve)
	if err != nil {
		return nil, err
	}
	committed, err := os.commitMetadata(base, poolSize)
	if err != nil {
		return nil, err
	}
	_ = committed
	return &metadataHeap{
		base:  base,
		free:  base,
		end:   unsafe.Add(base, poolSize),
		limit: unsafe.Add(base, metadataReserve),
		os:    os,
	}, nil
}

// mdBinOf returns the free-list bin index for a 16-byte-rounded size,
// matching `bin = min(255, size/16 - 1)` in spec.md §4.1.
func mdBinOf(size uintptr) int {
	b := int(size/16) - 1
	if b < 0 {
		b = 0
	}
	if b > 255 {
		b = 255
	}
	return b
}

// alloc returns a zero-cleared block of at least size bytes from the
// metadata heap, rounding size up to 16 bytes first.
func (h *metadataHeap) alloc(size uintptr) (unsafe.Pointer, error) {
	size = alignUp(size, 16)
	bin := mdBinOf(size)

	h.mu.Lock()
	defer h.mu.Unlock()

	if head := h.bins[bin]; head != nil {
		h.bins[bin] = (*usedMD)(head).next
		return h.zero(head, size), nil
	}
	return h.bump(size)
}

// allocArray allocates a whole-pool tracking array from the dedicated bin,
// e.g. the pageMap array for a small pool or the boundary slice backing
// storage for a large pool.
func (h *metadataHeap) allocArray(size uintptr, bin int) (unsafe.Pointer, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if head := h.bins[bin]; head != nil {
		h.bins[bin] = (*usedMD)(head).next
		return h.zero(head, size), nil
	}
	return h.bump(size)
}

// bump advances the bump pointer by size, committing another POOL_SIZE chunk
// of the reserved range when the current commitment is exhausted.
func (h *metadataHeap) bump(size uintptr) (unsafe.Pointer, error) {
	for unsafe.Add(h.free, size) > h.end {
		if unsafe.Add(h.end, poolSize) > h.limit {
			return nil, ErrOOM
		}
		if _, err := h.os.commitMetadata(h.end, poolSize); err != nil {
			return nil, ErrOOM
		}
		h.end = unsafe.Add(h.end, poolSize)
	}
	p := h.free
	h.free = unsafe.Add(h.free, size)
	return p, nil
}

func (h *metadataHeap) zero(p unsafe.Pointer, size uintptr) unsafe.Pointer {
	b := unsafe.Slice((*byte)(p), int(size))
	clear(b)
	return p
}

// freeBlock returns a metadata block to its bin's LIFO free list. Internal
// cycling is fine here: metadata is never exposed to client code, so there
// is no use-after-free surface to protect (spec.md §4.1).
func (h *metadataHeap) freeBlock(p unsafe.Pointer, size uintptr) {
	size = alignUp(size, 16)
	bin := mdBinOf(size)
	h.freeToBin(p, bin)
}

func (h *metadataHeap) freeArray(p unsafe.Pointer, bin int) {
	h.freeToBin(p, bin)
}

func (h *metadataHeap) freeToBin(p unsafe.Pointer, bin int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	(*usedMD)(p).next = h.bins[bin]
	h.bins[bin] = p
}
