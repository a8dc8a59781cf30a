// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ffalloc

import (
	"sync"
	"sync/atomic"
	"testing"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/spin"
)

func TestBoundedQueue_PushPop(t *testing.T) {
	const capacity = 16
	q := newBoundedQueue[int](capacity)

	for i := range capacity {
		if err := q.push(i * 10); err != nil {
			t.Fatalf("push() failed at iteration %d: %v", i, err)
		}
	}

	seen := make(map[int]bool, capacity)
	for i := range capacity {
		v, err := q.pop()
		if err != nil {
			t.Fatalf("pop() failed at iteration %d: %v", i, err)
		}
		seen[v] = true
	}
	if len(seen) != capacity {
		t.Errorf("got %d distinct values, want %d", len(seen), capacity)
	}
}

func TestBoundedQueue_NonblockingEmpty(t *testing.T) {
	q := newBoundedQueue[int](4)
	q.setNonblock(true)

	if _, err := q.pop(); err != iox.ErrWouldBlock {
		t.Errorf("expected iox.ErrWouldBlock on empty queue, got %v", err)
	}
}

func TestBoundedQueue_NonblockingFull(t *testing.T) {
	const capacity = 4
	q := newBoundedQueue[int](capacity)
	q.setNonblock(true)

	for i := range capacity {
		if err := q.push(i); err != nil {
			t.Fatalf("push() failed: %v", err)
		}
	}
	if err := q.push(99); err != iox.ErrWouldBlock {
		t.Errorf("expected iox.ErrWouldBlock on full queue, got %v", err)
	}
}

func TestBoundedQueue_Cap(t *testing.T) {
	const capacity = 32
	q := newBoundedQueue[int](capacity)
	if q.cap() != capacity {
		t.Errorf("cap() = %d, want %d", q.cap(), capacity)
	}
}

func TestNewBoundedQueue_InvalidCapacity(t *testing.T) {
	t.Run("zero capacity", func(t *testing.T) {
		defer func() {
			if r := recover(); r == nil {
				t.Error("newBoundedQueue(0) did not panic")
			}
		}()
		_ = newBoundedQueue[int](0)
	})

	t.Run("negative capacity", func(t *testing.T) {
		defer func() {
			if r := recover(); r == nil {
				t.Error("newBoundedQueue(-1) did not panic")
			}
		}()
		_ = newBoundedQueue[int](-1)
	})
}

func TestBoundedQueue_Concurrent(t *testing.T) {
	const capacity = 64
	const producers = 8
	const consumers = 8
	const perProducer = 2000
	const total = producers * perProducer

	q := newBoundedQueue[int](capacity)

	var wg sync.WaitGroup
	wg.Add(producers)
	for g := range producers {
		go func(id int) {
			defer wg.Done()
			for i := range perProducer {
				_ = q.push(id*perProducer + i)
			}
		}(g)
	}

	var consumed atomic.Int64
	var cwg sync.WaitGroup
	cwg.Add(consumers)
	for range consumers {
		go func() {
			defer cwg.Done()
			for consumed.Load() < total {
				if _, err := q.pop(); err == nil {
					consumed.Add(1)
				}
			}
		}()
	}

	wg.Wait()
	cwg.Wait()

	if got := consumed.Load(); got != total {
		t.Errorf("consumed %d items, want %d", got, total)
	}
}

func TestBoundedQueue_BlockingPop(t *testing.T) {
	q := newBoundedQueue[int](4)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 1000 {
			spin.Yield()
		}
		_ = q.push(7)
	}()

	v, err := q.pop()
	if err != nil {
		t.Fatalf("blocking pop() failed: %v", err)
	}
	if v != 7 {
		t.Errorf("pop() = %d, want 7", v)
	}
	<-done
}

func TestBoundedQueue_BlockingPush(t *testing.T) {
	const capacity = 4
	q := newBoundedQueue[int](capacity)
	for i := range capacity {
		_ = q.push(i)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 1000 {
			spin.Yield()
		}
		_, _ = q.pop()
	}()

	if err := q.push(99); err != nil {
		t.Fatalf("blocking push() failed: %v", err)
	}
	<-done
}
