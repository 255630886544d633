package synch

import (
	"testing"
	"time"

	"nachos/thread"
)

// boot wires up a scheduler and runs it until every forked thread has
// finished, failing the test if that takes implausibly long -- tests
// in this package never block on real I/O so a short deadline is safe.
func boot(t *testing.T, sched *thread.Scheduler_t, done chan struct{}) {
	t.Helper()
	sched.Boot()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scenario did not finish in time")
	}
}

// TestSemaphoreProducerConsumer mirrors threadtest.cc's bounded-buffer
// producer/consumer scenario: a producer posts N items, a consumer
// drains them, and the counts must match exactly.
func TestSemaphoreProducerConsumer(t *testing.T) {
	sched := thread.NewScheduler()
	const n = 50
	full := NewSemaphore(sched, 0)
	empty := NewSemaphore(sched, 4) // bounded buffer of capacity 4
	mutex := NewLock(sched)

	var buf []int
	produced := make([]int, 0, n)
	consumed := make([]int, 0, n)
	done := make(chan struct{})

	sched.Fork(func() {
		self := sched.Current()
		for i := 0; i < n; i++ {
			empty.P(self)
			mutex.Acquire(self)
			buf = append(buf, i)
			produced = append(produced, i)
			mutex.Release(self)
			full.V()
		}
	}, 0)

	sched.Fork(func() {
		self := sched.Current()
		for i := 0; i < n; i++ {
			full.P(self)
			mutex.Acquire(self)
			v := buf[0]
			buf = buf[1:]
			consumed = append(consumed, v)
			mutex.Release(self)
			empty.V()
		}
		close(done)
	}, 0)

	boot(t, sched, done)

	if len(consumed) != n {
		t.Fatalf("consumed %d items, want %d", len(consumed), n)
	}
	for i, v := range consumed {
		if v != i {
			t.Fatalf("consumed[%d] = %d, want %d (order not preserved)", i, v, i)
		}
	}
}

// TestRWLockReadersConcurrentWritersExclusive checks that many readers
// may hold the lock together, while a writer excludes all readers and
// other writers.
func TestRWLockReadersConcurrentWritersExclusive(t *testing.T) {
	sched := thread.NewScheduler()
	rw := NewRWLock(sched)
	guard := NewLock(sched) // protects the shared counters below
	const readers = 5
	maxConcurrentReaders := 0
	curReaders := 0
	writerActive := false
	sawOverlap := false
	done := make(chan struct{})
	remaining := readers + 1

	finishOne := func() {
		remaining--
		if remaining == 0 {
			close(done)
		}
	}

	for i := 0; i < readers; i++ {
		sched.Fork(func() {
			self := sched.Current()
			rw.ReadAcquire(self)
			guard.Acquire(self)
			if writerActive {
				sawOverlap = true
			}
			curReaders++
			if curReaders > maxConcurrentReaders {
				maxConcurrentReaders = curReaders
			}
			guard.Release(self)

			sched.Yield(self)

			guard.Acquire(self)
			curReaders--
			guard.Release(self)
			rw.ReadRelease(self)
			guard.Acquire(self)
			finishOne()
			guard.Release(self)
		}, 0)
	}

	sched.Fork(func() {
		self := sched.Current()
		rw.WriteAcquire(self)
		guard.Acquire(self)
		writerActive = true
		if curReaders > 0 {
			sawOverlap = true
		}
		guard.Release(self)

		sched.Yield(self)

		guard.Acquire(self)
		writerActive = false
		guard.Release(self)
		rw.WriteRelease(self)
		guard.Acquire(self)
		finishOne()
		guard.Release(self)
	}, 0)

	boot(t, sched, done)

	if sawOverlap {
		t.Fatal("writer and reader(s) held the lock concurrently")
	}
	if maxConcurrentReaders < 1 {
		t.Fatal("no reader ever observed holding the lock")
	}
}

// TestRWLockWriterFirstExcludesReaders forks the writer before any
// reader and checks that no reader's ReadAcquire can complete until
// the writer releases, even though the readers' mutex admission check
// runs one at a time: a second reader arriving while the first reader
// is still blocked waiting for the writer must queue behind the first
// reader's mutex hold rather than observe readers>1 and slip through
// (the race fixed in RWLock_t.ReadAcquire).
func TestRWLockWriterFirstExcludesReaders(t *testing.T) {
	sched := thread.NewScheduler()
	rw := NewRWLock(sched)
	guard := NewLock(sched)
	const readers = 2
	writerHeld := false
	sawOverlap := false
	enteredWhileWriterHeld := 0
	done := make(chan struct{})
	remaining := readers + 1

	finishOne := func() {
		remaining--
		if remaining == 0 {
			close(done)
		}
	}

	sched.Fork(func() {
		self := sched.Current()
		rw.WriteAcquire(self)
		guard.Acquire(self)
		writerHeld = true
		guard.Release(self)

		sched.Yield(self) // give every reader a chance to attempt ReadAcquire

		guard.Acquire(self)
		if enteredWhileWriterHeld > 0 {
			sawOverlap = true
		}
		writerHeld = false
		guard.Release(self)
		rw.WriteRelease(self)
		guard.Acquire(self)
		finishOne()
		guard.Release(self)
	}, 0)

	for i := 0; i < readers; i++ {
		sched.Fork(func() {
			self := sched.Current()
			rw.ReadAcquire(self)
			guard.Acquire(self)
			if writerHeld {
				enteredWhileWriterHeld++
				sawOverlap = true
			}
			guard.Release(self)

			rw.ReadRelease(self)
			guard.Acquire(self)
			finishOne()
			guard.Release(self)
		}, 0)
	}

	boot(t, sched, done)

	if sawOverlap {
		t.Fatal("a reader completed ReadAcquire while the writer still held the lock")
	}
}

// TestBarrierReleasesAllAtOnce checks that no participant passes the
// barrier until all n have arrived.
func TestBarrierReleasesAllAtOnce(t *testing.T) {
	sched := thread.NewScheduler()
	const n = 4
	b := NewBarrier(sched, n)
	guard := NewLock(sched)
	passed := 0
	done := make(chan struct{})
	remaining := n

	for i := 0; i < n; i++ {
		sched.Fork(func() {
			self := sched.Current()
			b.Wait(self)
			guard.Acquire(self)
			passed++
			remaining--
			if remaining == 0 {
				close(done)
			}
			guard.Release(self)
		}, 0)
	}

	boot(t, sched, done)

	if passed != n {
		t.Fatalf("passed = %d, want %d", passed, n)
	}
}

// TestLockReleaseByNonOwnerPanics checks the owner-only release
// invariant.
func TestLockReleaseByNonOwnerPanics(t *testing.T) {
	sched := thread.NewScheduler()
	l := NewLock(sched)
	done := make(chan struct{})

	sched.Fork(func() {
		self := sched.Current()
		l.Acquire(self)
		other := &thread.Thread_t{}
		defer func() {
			if recover() == nil {
				t.Error("Release by non-owner did not panic")
			}
			l.Release(self)
			close(done)
		}()
		l.Release(other)
	}, 0)

	boot(t, sched, done)
}
