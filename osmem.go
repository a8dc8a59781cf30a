// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ffalloc

import (
	"sync/atomic"
	"unsafe"
)

// osMemory is the OS memory adapter (C2, spec.md §4.2). It owns the
// process-wide highwater cursor and issues the raw mmap/munmap/mprotect
// calls every pool and the metadata heap are built on top of.
type osMemory struct {
	highWater atomic.Uintptr
	cfg       *Config
}

func newOSMemory(cfg *Config) *osMemory {
	return &osMemory{cfg: cfg}
}

// reserveMetadata maps a PROT_NONE range of the given size that will later
// be committed in POOL_SIZE chunks by commitMetadata. It also seeds the
// highwater cursor immediately past this range plus a small gap, matching
// ffmalloc.c's `poolHighWater = metadataPool + reserveSize + gap`.
func (m *osMemory) reserveMetadata(size uintptr) (unsafe.Pointer, error) {
	base, err := osReserve(size)
	if err != nil {
		return nil, ErrOOM
	}
	m.highWater.Store(uintptr(base) + size + uintptr(PageSize))
	return base, nil
}

// commitMetadata makes [addr, addr+size) readable/writable within a range
// previously reserved by reserveMetadata.
func (m *osMemory) commitMetadata(addr unsafe.Pointer, size uintptr) (unsafe.Pointer, error) {
	if err := osCommit(addr, size); err != nil {
		return nil, ErrOOM
	}
	return addr, nil
}

// mapPool atomically advances the highwater cursor by size and maps exactly
// that address range MAP_FIXED_NOREPLACE|MAP_ANON|MAP_PRIVATE (spec.md §4.2). On
// collision with an existing mapping the cursor is advanced a further
// POOL_SIZE and the attempt is retried; any other mmap failure is reported
// as OOM. populate requests MAP_POPULATE for pool-sized mappings; it must
// never be set for jumbo allocations.
func (m *osMemory) mapPool(size uintptr, populate bool) (uintptr, error) {
	for {
		addr := m.highWater.Add(size) - size
		got, err := osMapFixed(addr, size, populate)
		if err == nil {
			return got, nil
		}
		if isAddrCollision(err) {
			m.highWater.Add(poolSize)
			continue
		}
		return 0, ErrOOM
	}
}

// remapReused re-establishes a mapping at a VA range the reclaimer (C10)
// has certified reachable by nothing and already released with unmapPages,
// letting C2 hand it back out without ever touching the bump cursor (spec.md
// §4.9).
func (m *osMemory) remapReused(addr, size uintptr, populate bool) error {
	_, err := osMapFixed(addr, size, populate)
	return err
}

// unmapPages returns [addr, addr+size) to the OS, or remaps it PROT_NONE if
// Config.RemapNoneOnRelease is set (spec.md §4.2's "optional mode"). OS call
// failures attributable to VMA-limit pressure are swallowed: a later free
// will simply retry the release (spec.md §7).
func (m *osMemory) unmapPages(addr, size uintptr) error {
	var err error
	if m.cfg.RemapNoneOnRelease {
		err = osProtectNone(addr, size)
	} else {
		err = osUnmap(addr, size)
	}
	if err == nil {
		return nil
	}
	if isVMAPressure(err) {
		return nil
	}
	return err
}
