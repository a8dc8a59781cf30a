// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build !linux

package ffalloc

import (
	"errors"
	"unsafe"
)

// ffalloc's OS memory adapter depends on MAP_FIXED_NOREPLACE and procfs, both
// Linux-specific (spec.md §1 targets "64-bit operating systems" generally,
// but the reference implementation's non-Windows path is Linux-only too).
// Non-Linux Unixes get a clear unsupported error instead of silently
// behaving incorrectly; Windows would need the VirtualAlloc/VirtualFree
// adapter the original ships, out of scope here (spec.md §1 lists OS-specific
// adapters as external collaborators).
var errUnsupportedOS = errors.New("ffalloc: OS memory adapter requires linux")

func osReserve(size uintptr) (unsafe.Pointer, error)         { return nil, errUnsupportedOS }
func osCommit(addr unsafe.Pointer, size uintptr) error        { return errUnsupportedOS }
func osMapFixed(addr, size uintptr, populate bool) (uintptr, error) {
	return 0, errUnsupportedOS
}
func osUnmap(addr, size uintptr) error        { return errUnsupportedOS }
func osProtectNone(addr, size uintptr) error  { return errUnsupportedOS }
func isAddrCollision(err error) bool          { return false }
func isVMAPressure(err error) bool            { return false }
