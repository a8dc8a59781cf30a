// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ffalloc

import (
	"sync/atomic"
	"unsafe"
)

// unsafeUint64Slice reinterprets a metadata-heap block as a slice of n
// atomic.Uint64 words, used for page-map bitmaps and safemaps wider than a
// single inline word.
func unsafeUint64Slice(p unsafe.Pointer, n int) []atomic.Uint64 {
	return unsafe.Slice((*atomic.Uint64)(p), n)
}

// unsafeLargeBoundarySlice reinterprets a metadata-heap block as a slice of
// n largeBoundary entries backing a large pool's sorted boundary array.
func unsafeLargeBoundarySlice(p unsafe.Pointer, n int) []largeBoundary {
	return unsafe.Slice((*largeBoundary)(p), n)
}

// unsafePageMapSlice reinterprets a metadata-heap block as a slice of n
// pageMap entries backing a small pool's per-page tracking array.
func unsafePageMapSlice(p unsafe.Pointer, n int) []pageMap {
	return unsafe.Slice((*pageMap)(p), n)
}
