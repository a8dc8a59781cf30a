// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ffalloc

import (
	"testing"
	"unsafe"
)

func newTestMetadataHeap(t *testing.T) *metadataHeap {
	t.Helper()
	cfg := defaultConfig()
	os := newOSMemory(&cfg)
	h, err := newMetadataHeap(os)
	if err != nil {
		t.Fatalf("newMetadataHeap() failed: %v", err)
	}
	return h
}

func TestMdBinOf(t *testing.T) {
	tests := []struct{ size uintptr; want int }{
		{16, 0}, {32, 1}, {16 * 256, 255}, {16 * 1000, 255},
	}
	for _, tc := range tests {
		if got := mdBinOf(tc.size); got != tc.want {
			t.Errorf("mdBinOf(%d) = %d, want %d", tc.size, got, tc.want)
		}
	}
}

func TestMetadataHeap_AllocZeroed(t *testing.T) {
	h := newTestMetadataHeap(t)

	p, err := h.alloc(64)
	if err != nil {
		t.Fatalf("alloc() failed: %v", err)
	}
	b := unsafe.Slice((*byte)(p), 64)
	for i, v := range b {
		if v != 0 {
			t.Fatalf("alloc() returned non-zero byte at %d: %d", i, v)
			break
		}
	}
}

func TestMetadataHeap_FreeListReuse(t *testing.T) {
	h := newTestMetadataHeap(t)

	p1, err := h.alloc(32)
	if err != nil {
		t.Fatalf("alloc() failed: %v", err)
	}
	h.freeBlock(p1, 32)

	p2, err := h.alloc(32)
	if err != nil {
		t.Fatalf("alloc() failed: %v", err)
	}
	if p2 != p1 {
		t.Errorf("alloc() after freeBlock() = %p, want reused block %p", p2, p1)
	}
}

func TestMetadataHeap_DistinctAllocationsDontOverlap(t *testing.T) {
	h := newTestMetadataHeap(t)

	p1, err := h.alloc(48)
	if err != nil {
		t.Fatalf("alloc() failed: %v", err)
	}
	p2, err := h.alloc(48)
	if err != nil {
		t.Fatalf("alloc() failed: %v", err)
	}
	if p1 == p2 {
		t.Error("two live allocations returned the same pointer")
	}
}

func TestMetadataHeap_AllocArrayBin(t *testing.T) {
	h := newTestMetadataHeap(t)

	p1, err := h.allocArray(4096, mdBinSmallArray)
	if err != nil {
		t.Fatalf("allocArray() failed: %v", err)
	}
	h.freeArray(p1, mdBinSmallArray)

	p2, err := h.allocArray(4096, mdBinSmallArray)
	if err != nil {
		t.Fatalf("allocArray() failed: %v", err)
	}
	if p2 != p1 {
		t.Errorf("allocArray() after freeArray() = %p, want reused block %p", p2, p1)
	}
}
