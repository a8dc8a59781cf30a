// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ffalloc

// Pool and page geometry (spec.md §3, §4.1–§4.6). POOL_SIZE_BITS=21 gives a
// 2 MiB pool, matching the reference implementation's default.
const (
	poolSizeBits = 21
	poolSize     = uintptr(1) << poolSizeBits

	halfPage = 2048

	// pagesPerRefillDefault is the number of pages handed from a pool to a
	// thread cache's blank-page reserve in one batch (spec.md §4.4). In
	// single-threaded mode this widens to a whole pool (newThreadCachePool).
	pagesPerRefillDefault = 128

	// minPagesToFree is the minimum run of contiguous freed pages required
	// before the release engine (C8) calls munmap, to mitigate VMA pressure
	// and avoid thrashing the kernel with tiny unmaps.
	minPagesToFree = 1

	maxArenas        = 256
	maxLargeLists    = 8
	maxPoolsPerList  = 16
	jumboSizeCutoff  = poolSize - halfPage // allocations >= this go to C7
)

// sizeClass holds the alignment-dependent constants the reference
// implementation selects at compile time via FF_EIGHTBYTEALIGN (spec.md §4.4,
// §9). ffalloc picks one of these at New() time based on Config.MinAlignment.
type sizeClass struct {
	minAlignment uintptr
	binCount     int
	binInflection int
	strideBoundary uintptr
}

var (
	sizeClass16 = sizeClass{minAlignment: 16, binCount: 32, binInflection: 13, strideBoundary: 304}
	sizeClass8  = sizeClass{minAlignment: 8, binCount: 45, binInflection: 19, strideBoundary: 208}
)

func sizeClassFor(minAlignment uintptr) sizeClass {
	if minAlignment == 8 {
		return sizeClass8
	}
	return sizeClass16
}

// alignSize rounds size up to the size class's minimum alignment, matching
// ALIGN_SIZE in ffmalloc.c: allocations of 8 bytes or less always land in the
// smallest bin regardless of MinAlignment.
func (sc sizeClass) alignSize(size uintptr) uintptr {
	if sc.minAlignment == 8 {
		return (size + 7) &^ 7
	}
	if size <= 8 {
		return 8
	}
	return (size + 15) &^ 15
}

// bin returns the thread-cache bin index for an already-aligned size,
// matching GET_BIN in ffmalloc.c. Bins [1, binInflection) are "max-packed":
// bin i holds i slots per page, allocSize = floor(PAGE_SIZE/i), rounded down
// to alignment. Bins [binInflection, binCount) are "stride": allocSize =
// k*alignment. Sizes above strideBoundary fall through to PAGE_SIZE/size
// directly, since an intermediate bin would waste no less space than the
// next stride bin up. Sizes of 8 bytes or less use the last stride bin, whose
// allocSize is one alignment unit; bin 0 is unused.
func (sc sizeClass) bin(size uintptr) int {
	if size <= 8 {
		return sc.binCount - 1
	}
	if size <= sc.strideBoundary {
		shift := uintptr(4)
		if sc.minAlignment == 8 {
			shift = 3
		}
		return sc.binCount - int(size>>shift)
	}
	return int(uintptr(PageSize) / size)
}

// binAllocSize returns the allocation size actually served by bin index idx,
// matching init_tcache's table construction in ffmalloc.c: for stride bins
// (idx >= binInflection) allocSize = (binCount-idx)*alignment; for max-packed
// bins (0 < idx < binInflection) allocSize is the floor(PAGE_SIZE/slots) value
// rounded down to alignment, where slots = idx. The unused bin 0 reports 0.
func (sc sizeClass) binAllocSize(idx int) uintptr {
	if idx >= sc.binInflection {
		return uintptr(sc.binCount-idx) * sc.minAlignment
	}
	if idx == 0 {
		return 0
	}
	raw := PageSize / uintptr(idx)
	return raw &^ (sc.minAlignment - 1)
}

// binMaxAlloc returns how many allocations of binAllocSize(idx) fit on a
// single page for this bin.
func (sc sizeClass) binMaxAlloc(idx int) uintptr {
	allocSize := sc.binAllocSize(idx)
	if allocSize == 0 {
		return 0
	}
	return PageSize / allocSize
}

// isSmall reports whether a requested, already-aligned size is served by the
// small-allocation path (C5) rather than large (C6) or jumbo (C7).
func isSmall(size uintptr) bool {
	return size <= halfPage
}

// isJumbo reports whether size belongs to the jumbo path (C7): its aligned
// size is at least POOL_SIZE - HALF_PAGE (spec.md §4.6).
func isJumbo(size uintptr) bool {
	return size >= jumboSizeCutoff
}

// alignUp rounds value up to a multiple of align, which must be a power of
// two.
func alignUp(value, align uintptr) uintptr {
	return (value + align - 1) &^ (align - 1)
}

// isPow2 reports whether v is a nonzero power of two.
func isPow2(v uintptr) bool {
	return v != 0 && v&(v-1) == 0
}
