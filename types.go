// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ffalloc

// PageSize is the OS memory page size used for alignment throughout the
// allocator. It is fixed at 4096 and treated as read-only; SetPageSize
// exists only for tests that
// need to exercise non-default page sizes.
var PageSize uintptr = 4096

// SetPageSize overrides the package-level page size. Only safe to call
// before any pool has been created.
func SetPageSize(size int) {
	PageSize = uintptr(size)
}

// noCopy is a sentinel used to prevent copying of synchronization primitives.
// Embedding it in a struct and running `go vet` will flag accidental copies
// of pools, queues, and arenas, all of which hold locks and atomics
// that must not be duplicated.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
