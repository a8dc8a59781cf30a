// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package ffalloc implements a forward-only, one-time-address-use memory
// allocator: once a virtual address has been handed to the caller and freed,
// the allocator never hands that same address out again, unless an optional
// concurrent reclaimer has proven no pointer to it survives anywhere in the
// process.
//
// # Size classes
//
// Requests are routed to one of three independent paths based on aligned
// size:
//
//	Path    Aligned size range         Backed by
//	────    ──────────────────         ─────────
//	Small   <= HalfPage (2 KiB)        per-size-class bins, thread-local carving
//	Large   HalfPage < size < cutoff   per-pool sorted boundary array
//	Jumbo   >= PoolSize - HalfPage     one dedicated mapping per allocation
//
// # Pools and the pointer resolver
//
// Every allocation lives inside a fixed-size pool (2 MiB by default). A
// three-level radix tree maps any client pointer back to its owning pool in
// O(1), without scanning: see radix.go.
//
// # Page release
//
// Once every slot on a page of a small pool is freed, that page is unmapped
// (or, under WithRemapNoneOnRelease, remapped PROT_NONE) and never reused
// unless the concurrent reclaimer (WithReclaimer) proves it safe to do so.
// Large and jumbo pools are released as a whole once their last allocation
// is freed.
//
// # Arenas
//
// An Arena groups pools that can be torn down together via DestroyArena,
// regardless of whether individual allocations inside it were freed — the
// one sanctioned exception to the forward-only invariant.
//
// # Configuration
//
// New takes functional options (see config.go): alignment (16 or 8 bytes),
// single-threaded mode, the concurrent reclaimer, sub-page reuse, and the
// page-release strategy.
//
// # Concurrency
//
// Every exported method on Allocator and Arena is safe for concurrent use.
// The small-allocation path borrows a per-goroutine thread cache from a
// sync.Pool rather than true thread-local storage, which Go does not
// expose; the large path round-robins across a fixed number of lanes in
// place of CPU-affinity hinting.
package ffalloc
