// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ffalloc

// Config holds the compile-time toggles the original ffmalloc implementation
// selects via #ifdef (spec.md §6, §9). Since Go has no header-time
// specialization, every toggle becomes a field read once at New() time.
type Config struct {
	// MinAlignment is either 8 or 16. 16 is the default: SSE-friendly and
	// what the reference implementation ships with. 8 trades alignment
	// guarantees for slightly better small-size packing.
	MinAlignment uintptr

	// SingleThreaded collapses PAGES_PER_REFILL to a whole pool and
	// MAX_LARGE_LISTS to 1, eliding the cross-thread races those knobs exist
	// to amortize. Mirrors the FFSINGLE_THREADED build of ffmalloc.c.
	SingleThreaded bool

	// EnableReclaimer turns on the concurrent mark-sweep reclaimer (C10).
	// Without it ffalloc never reuses an address.
	EnableReclaimer bool

	// EnableSubPageReuse turns on within-page slot reuse (C11). Has no
	// effect unless EnableReclaimer is also set, since it depends on the
	// scanner's pointer bitmap.
	EnableSubPageReuse bool

	// RemapNoneOnRelease switches the page-release engine (C8) from
	// unmapping freed runs to remapping them PROT_NONE, keeping the VA
	// reserved but unreadable. See spec.md §4.2.
	RemapNoneOnRelease bool

	// OnFatal, if set, is invoked instead of panicking for invalid-pointer
	// conditions (spec.md §7). It must not return normally; if it does, the
	// allocator panics anyway. nil (the default) panics directly.
	OnFatal func(msg string)
}

// Option configures a Config via the functional-options pattern.
type Option func(*Config)

// WithEightByteAlignment selects 8-byte minimum alignment (FF_EIGHTBYTEALIGN
// in the original), trading SSE alignment guarantees for denser small bins.
func WithEightByteAlignment() Option {
	return func(c *Config) { c.MinAlignment = 8 }
}

// WithSingleThreaded marks the allocator as single-threaded, widening refill
// batches to a whole pool and collapsing the large-pool CPU lanes to one.
func WithSingleThreaded() Option {
	return func(c *Config) { c.SingleThreaded = true }
}

// WithReclaimer enables the concurrent mark-sweep reclaimer (C10), allowing
// proven-unreachable pools to have their addresses reused.
func WithReclaimer() Option {
	return func(c *Config) { c.EnableReclaimer = true }
}

// WithSubPageReuse enables within-page slot reuse (C11). Implies
// WithReclaimer.
func WithSubPageReuse() Option {
	return func(c *Config) {
		c.EnableReclaimer = true
		c.EnableSubPageReuse = true
	}
}

// WithRemapNoneOnRelease switches page release to PROT_NONE remapping
// instead of munmap, keeping the VA reserved.
func WithRemapNoneOnRelease() Option {
	return func(c *Config) { c.RemapNoneOnRelease = true }
}

// WithOnFatal installs a hook invoked on invalid-pointer conditions in place
// of the default panic.
func WithOnFatal(f func(msg string)) Option {
	return func(c *Config) { c.OnFatal = f }
}

func defaultConfig() Config {
	return Config{
		MinAlignment: 16,
	}
}

func newConfig(opts ...Option) Config {
	c := defaultConfig()
	for _, opt := range opts {
		opt(&c)
	}
	return c
}
