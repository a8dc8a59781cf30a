// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ffalloc

import (
	"unsafe"

	"code.hybscloud.com/ffalloc/internal"
)

// CacheLineSize is the CPU L1 cache line size for the current architecture.
// This is detected at compile time based on the target architecture:
//   - amd64: 64 bytes (Intel/AMD)
//   - arm64: 128 bytes (conservative for Apple Silicon)
//   - riscv64: 64 bytes
//   - loong64: 64 bytes
//   - 32-bit (386, arm, mips, mipsle, ppc, s390, riscv32, ...): 32 bytes
//   - others: 64 bytes (default)
const CacheLineSize = internal.CacheLineSize

// AlignedMem returns a byte slice with the specified size and starting
// address aligned to align (which must be a power of two).
//
// CacheLineAlignedMem calls it with the cache line size; the concurrent
// reclaimer (C10) takes its scratch buffers from CacheLineAlignedMemBlocks
// instead.
//
// The returned slice shares underlying memory with a larger allocation;
// do not assume len(result) == cap(result).
func AlignedMem(size int, align uintptr) []byte {
	p := make([]byte, uintptr(size)+align-1)
	base := unsafe.Pointer(unsafe.SliceData(p))
	offset := ((uintptr(base)+align-1)/align)*align - uintptr(base)
	return unsafe.Slice((*byte)(unsafe.Add(base, offset)), size)
}

// CacheLineAlignedMem returns a byte slice with the specified size
// and starting address aligned to the CPU cache line size.
func CacheLineAlignedMem(size int) []byte {
	return AlignedMem(size, uintptr(CacheLineSize))
}

// CacheLineAlignedMemBlocks returns n cache-line-aligned byte slices,
// each of length blockSize. Adjacent blocks are separated by cache line
// boundaries to prevent false sharing between buffers handed to different
// goroutines.
//
// Used by the concurrent reclaimer (C10) to hand each of its bounded VMA
// scan workers its own scratch buffer (reclaim.go's scanDirtyVMAs): without
// the cache-line separation, up to scanVMAWorkers goroutines reading
// /proc/self/mem in parallel could have their scratch writes bounce the
// same cache line between cores.
func CacheLineAlignedMemBlocks(n int, blockSize int) (blocks [][]byte) {
	if n < 1 {
		panic("bad block num")
	}
	align := uintptr(CacheLineSize)
	alignedBlockSize := ((uintptr(blockSize) + align - 1) / align) * align
	totalSize := int(alignedBlockSize)*n + int(align) - 1
	p := make([]byte, totalSize)
	base := unsafe.Pointer(unsafe.SliceData(p))
	offset := ((uintptr(base)+align-1)/align)*align - uintptr(base)
	blocks = make([][]byte, n)
	for i := range n {
		blocks[i] = unsafe.Slice((*byte)(unsafe.Add(base, offset+uintptr(i)*alignedBlockSize)), blockSize)
	}
	return
}
