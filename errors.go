// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ffalloc

import "errors"

// Semantic error values for the allocator's external interfaces (spec.md §7).
// Callers should compare with errors.Is, not string matching, matching the
// iox.ErrWouldBlock convention this package's dependencies already use.
var (
	// ErrOOM is returned when a request cannot be satisfied because the OS
	// refused a mapping or the metadata heap could not grow. It is never a
	// fatal condition: callers get a nil pointer and this error back.
	ErrOOM = errors.New("ffalloc: out of memory")

	// ErrArenaLimit is returned by CreateArena once all 256 arena slots
	// (maxArenas, the default arena's included) are already live.
	ErrArenaLimit = errors.New("ffalloc: arena limit reached")

	// ErrOverflow is returned by Calloc when n*size overflows uintptr.
	ErrOverflow = errors.New("ffalloc: size overflow")

	// ErrBadAlignment is returned by AlignedAlloc when alignment is not a
	// power of two or is smaller than the pointer size.
	ErrBadAlignment = errors.New("ffalloc: alignment must be a power of two >= pointer size")
)

// invalidPointer reports a free/realloc of a pointer the registry can't
// resolve, or whose slot bit is already clear. Per spec.md §7 this is always
// a programming error in the caller and must never be silently ignored —
// doing so would mask exactly the use-after-free/double-free bug class this
// allocator exists to make unexploitable. If cfg.OnFatal is set it is called
// instead of panicking directly; should it return, the allocator panics
// anyway, since returning into a caller holding a dangling pointer is not a
// safe option.
func invalidPointer(cfg *Config, op string, ptr uintptr) {
	err := fatalError{op: op, ptr: ptr}
	if cfg != nil && cfg.OnFatal != nil {
		cfg.OnFatal(err.Error())
	}
	panic(err)
}

// fatalError is the panic value raised for invalid-pointer conditions.
// It carries structured fields so a recover() in a test can assert on them
// without string-matching a panic message.
type fatalError struct {
	op  string
	ptr uintptr
}

func (f fatalError) Error() string {
	return "ffalloc: fatal: " + f.op + " on invalid or unresolved pointer"
}
