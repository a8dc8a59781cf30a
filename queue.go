// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ffalloc

import (
	"math"
	"sync/atomic"
	"unsafe"

	"code.hybscloud.com/ffalloc/internal"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/spin"
)

// boundedQueue is a bounded MPMC value queue backing the reclaimer's reuse
// queues: whole pool regions it has reclaimed (C10, consumed by C2) and
// sub-page slots certified safe (C11). Unlike the reference
// implementation's original buffer pool, it starts empty and accepts pushes
// directly rather than recycling a pre-filled, Fill()-seeded item array: both
// queues hand off values (reclaimed regions, reusable slots) that only exist
// once something produces them at runtime.
// The implementation is based on the same bounded MPMC ring algorithm as
// the reference implementation's buffer pool:
//
//	https://nikitakoval.org/publications/ppopp20-queues.pdf
//
// boundedQueue is safe for concurrent use; Push and Pop each guarantee at
// least one goroutine makes progress.
type boundedQueue[T any] struct {
	_ noCopy

	capacity  uint32
	mask      uint32
	remapM    uint32
	remapN    uint32
	remapMask uint32

	slots      []queueSlot[T]
	head, tail atomic.Uint32

	nonblocking bool
}

type queueSlot[T any] struct {
	turn  atomic.Uint32
	empty atomic.Bool
	value T
}

// newBoundedQueue creates a boundedQueue with the given capacity, rounded up
// to the next power of two. capacity must be between 1 and math.MaxUint32.
func newBoundedQueue[T any](capacity int) *boundedQueue[T] {
	if capacity < 1 || capacity > math.MaxUint32 {
		panic("ffalloc: queue capacity must be between 1 and MaxUint32")
	}
	capacity--
	capacity |= capacity >> 1
	capacity |= capacity >> 2
	capacity |= capacity >> 4
	capacity |= capacity >> 8
	capacity |= capacity >> 16
	capacity++

	remapM := min(internal.CacheLineSize/unsafe.Sizeof(atomic.Uint32{}), uintptr(capacity))
	remapN := max(1, uintptr(capacity)/remapM)
	remapMask := remapN - 1

	q := &boundedQueue[T]{
		capacity:  uint32(capacity),
		mask:      uint32(capacity - 1),
		remapM:    uint32(remapM),
		remapN:    uint32(remapN),
		remapMask: uint32(remapMask),
		slots:     make([]queueSlot[T], capacity),
	}
	for i := range q.slots {
		q.slots[i].empty.Store(true)
	}
	return q
}

// setNonblock enables or disables the queue's non-blocking mode. When
// nonblocking, Push and Pop return iox.ErrWouldBlock instead of blocking.
func (q *boundedQueue[T]) setNonblock(nonblocking bool) {
	q.nonblocking = nonblocking
}

// cap returns the queue's capacity.
func (q *boundedQueue[T]) cap() int {
	return int(q.capacity)
}

// push adds value to the queue, blocking (or returning iox.ErrWouldBlock in
// nonblocking mode) while the queue is full. In blocking mode, push uses
// adaptive waiting (iox.Backoff): a full reuse queue empties out only as an
// external consumer (C2's pool acquisition, a thread cache reusing a slot)
// makes progress, so OS-level sleep is more appropriate than a hardware spin.
func (q *boundedQueue[T]) push(value T) error {
	var aw iox.Backoff
	for {
		err := q.tryPush(value)
		if err == nil {
			return nil
		}
		if err == iox.ErrWouldBlock && !q.nonblocking {
			aw.Wait()
			continue
		}
		return err
	}
}

// pop removes and returns a value from the queue, blocking (or returning
// iox.ErrWouldBlock in nonblocking mode) while the queue is empty.
func (q *boundedQueue[T]) pop() (value T, err error) {
	var aw iox.Backoff
	for {
		v, err := q.tryPop()
		if err == nil {
			return v, nil
		}
		if err == iox.ErrWouldBlock && !q.nonblocking {
			aw.Wait()
			continue
		}
		return value, err
	}
}

func (q *boundedQueue[T]) tryPop() (value T, err error) {
	var sw spin.Wait
	for {
		h, t := q.head.Load(), q.tail.Load()
		if h != q.head.Load() {
			sw.Once()
			continue
		}
		if h == t {
			return value, iox.ErrWouldBlock
		}

		hi := q.remap(h & q.mask)
		slot := &q.slots[hi]
		wantTurn := (h / q.capacity) & queueTurnMask
		if slot.turn.Load() != wantTurn || slot.empty.Load() {
			q.head.CompareAndSwap(h, h+1)
			sw.Once()
			continue
		}

		v := slot.value
		if slot.empty.CompareAndSwap(false, true) {
			q.head.CompareAndSwap(h, h+1)
			return v, nil
		}
		sw.Once()
	}
}

func (q *boundedQueue[T]) tryPush(value T) error {
	var sw spin.Wait
	for {
		h, t := q.head.Load(), q.tail.Load()
		if t != q.tail.Load() {
			sw.Once()
			continue
		}
		if t == h+q.capacity {
			return iox.ErrWouldBlock
		}

		ti := q.remap(t & q.mask)
		slot := &q.slots[ti]
		turn := (t / q.capacity) & queueTurnMask
		if !slot.empty.Load() {
			q.tail.CompareAndSwap(t, t+1)
			sw.Once()
			continue
		}
		slot.value = value
		slot.turn.Store(turn)
		if slot.empty.CompareAndSwap(true, false) {
			q.tail.CompareAndSwap(t, t+1)
			return nil
		}
		sw.Once()
	}
}

func (q *boundedQueue[T]) remap(cursor uint32) int {
	p, mq := cursor/q.remapN, cursor&q.remapMask
	return int(mq*q.remapM + p%q.remapM)
}

const queueTurnMask = 1<<30 - 1
