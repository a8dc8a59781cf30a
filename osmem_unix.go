// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build linux

package ffalloc

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// osReserve maps size bytes PROT_NONE at an address chosen by the kernel.
// Used once at startup for the metadata heap's 1 GiB reservation.
func osReserve(size uintptr) (unsafe.Pointer, error) {
	b, err := unix.Mmap(-1, 0, int(size), unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, err
	}
	return unsafe.Pointer(unsafe.SliceData(b)), nil
}

// osCommit makes [addr, addr+size) readable and writable within a range
// previously reserved with osReserve.
func osCommit(addr unsafe.Pointer, size uintptr) error {
	b := unsafe.Slice((*byte)(addr), int(size))
	return unix.Mprotect(b, unix.PROT_READ|unix.PROT_WRITE)
}

// osMapFixed maps exactly [addr, addr+size) anonymous/private, failing
// rather than silently relocating if the range is already occupied
// (MAP_FIXED_NOREPLACE, spec.md §4.2). golang.org/x/sys/unix's portable
// Mmap helper never accepts a caller-supplied address, so the mapping is
// made directly through the raw syscall, mirroring the Go runtime's own
// mmap_fixed helper.
func osMapFixed(addr, size uintptr, populate bool) (uintptr, error) {
	prot := unix.PROT_READ | unix.PROT_WRITE
	flags := unix.MAP_PRIVATE | unix.MAP_ANON | unix.MAP_FIXED_NOREPLACE
	if populate {
		flags |= unix.MAP_POPULATE
	}
	got, _, errno := unix.Syscall6(unix.SYS_MMAP, addr, size, uintptr(prot), uintptr(flags), ^uintptr(0), 0)
	if errno != 0 {
		return 0, errno
	}
	if got != addr {
		// The kernel chose a different address: the requested range was
		// occupied. Undo the stray mapping and report a collision so the
		// caller advances the highwater cursor and retries.
		unix.Syscall6(unix.SYS_MUNMAP, got, size, 0, 0, 0, 0)
		return 0, unix.EEXIST
	}
	return got, nil
}

func osUnmap(addr, size uintptr) error {
	b := unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(size))
	return unix.Munmap(b)
}

func osProtectNone(addr, size uintptr) error {
	b := unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(size))
	return unix.Mprotect(b, unix.PROT_NONE)
}

func isAddrCollision(err error) bool {
	return err == unix.EEXIST
}

// isVMAPressure reports whether err is the errno Linux returns when a
// munmap/mprotect call fails because the process has hit
// vm.max_map_count, the condition spec.md §7 says to swallow (a later free
// will retry the release).
func isVMAPressure(err error) bool {
	return err == unix.ENOMEM
}
