// Package synch implements the classic synchronization primitives:
// semaphore, lock, condition variable, barrier, and reader/writer
// lock, all built on package thread's Sleep/ReadyToRun and the
// scheduler's internal atomicity (its stand-in for "disable
// interrupts"). The shapes below follow the original synch.cc student
// implementation closely: P/V with a FIFO wait queue, a binary
// semaphore plus owner field for Lock, Mesa-semantics Wait/Signal/
// Broadcast for Cond, an nth-caller-broadcasts Barrier, and a
// reader-preference RWLock.
package synch

import "nachos/thread"

// Semaphore_t is a counting semaphore.
type Semaphore_t struct {
	sched   *thread.Scheduler_t
	value   int
	waiters []*thread.Thread_t
}

// NewSemaphore creates a semaphore with the given initial value.
func NewSemaphore(sched *thread.Scheduler_t, value int) *Semaphore_t {
	return &Semaphore_t{sched: sched, value: value}
}

// P decrements the semaphore, blocking self while it is zero. Waiters
// that are woken must re-check the value themselves rather than assume
// they now own it -- V only readies a waiter, it does not hand the
// decrement to it directly, matching the original's signal-and-continue
// behaviour.
func (sem *Semaphore_t) P(self *thread.Thread_t) {
	for {
		consumed := false
		sem.sched.Sleep(self, func() bool {
			if sem.value > 0 {
				sem.value--
				consumed = true
				return false
			}
			sem.waiters = append(sem.waiters, self)
			return true
		})
		if consumed {
			return
		}
	}
}

func (sem *Semaphore_t) vLocked() {
	if len(sem.waiters) > 0 {
		w := sem.waiters[0]
		sem.waiters = sem.waiters[1:]
		sem.sched.ReadyToRunLocked(w)
	}
	sem.value++
}

// V increments the semaphore and, if a thread was waiting, makes it
// ready (it must still re-check the value itself).
func (sem *Semaphore_t) V() {
	sem.sched.Atomic(sem.vLocked)
}

// Lock_t is a mutex built on a binary semaphore, with an owner field
// enabling IsHeldBy.
type Lock_t struct {
	sched *thread.Scheduler_t
	sem   *Semaphore_t
	owner *thread.Thread_t
}

// NewLock creates an unheld lock.
func NewLock(sched *thread.Scheduler_t) *Lock_t {
	return &Lock_t{sched: sched, sem: NewSemaphore(sched, 1)}
}

// Acquire blocks self until the lock is free, then takes it.
func (l *Lock_t) Acquire(self *thread.Thread_t) {
	l.sem.P(self)
	l.owner = self
}

func (l *Lock_t) releaseLocked() {
	l.owner = nil
	l.sem.vLocked()
}

// Release gives up the lock. Panics if self does not hold it, matching
// the original's assertion that only the owner may release.
func (l *Lock_t) Release(self *thread.Thread_t) {
	if l.owner != self {
		panic("synch: Release by non-owner")
	}
	l.sched.Atomic(l.releaseLocked)
}

// IsHeldBy reports whether t currently owns the lock.
func (l *Lock_t) IsHeldBy(t *thread.Thread_t) bool {
	return l.owner == t
}

// Cond_t is a Mesa-semantics condition variable: Wait atomically
// releases the associated lock, enqueues
// the caller, and blocks; Signal/Broadcast only make waiters ready,
// they do not hand off the lock, so a woken thread competes to
// reacquire it like anyone else.
type Cond_t struct {
	sched   *thread.Scheduler_t
	waiters []*thread.Thread_t
}

// NewCond creates an empty condition variable.
func NewCond(sched *thread.Scheduler_t) *Cond_t {
	return &Cond_t{sched: sched}
}

// Wait requires lock to be held by self. It releases the lock,
// blocks until signalled, then reacquires the lock before returning.
func (cv *Cond_t) Wait(self *thread.Thread_t, lock *Lock_t) {
	if !lock.IsHeldBy(self) {
		panic("synch: Cond.Wait without holding lock")
	}
	cv.sched.Sleep(self, func() bool {
		lock.releaseLocked()
		cv.waiters = append(cv.waiters, self)
		return true
	})
	lock.Acquire(self)
}

// Signal wakes one waiter, if any. lock must be held by self.
func (cv *Cond_t) Signal(self *thread.Thread_t, lock *Lock_t) {
	if !lock.IsHeldBy(self) {
		panic("synch: Cond.Signal without holding lock")
	}
	cv.sched.Atomic(func() {
		if len(cv.waiters) == 0 {
			return
		}
		w := cv.waiters[0]
		cv.waiters = cv.waiters[1:]
		cv.sched.ReadyToRunLocked(w)
	})
}

// Broadcast wakes every waiter. lock must be held by self.
func (cv *Cond_t) Broadcast(self *thread.Thread_t, lock *Lock_t) {
	if !lock.IsHeldBy(self) {
		panic("synch: Cond.Broadcast without holding lock")
	}
	cv.sched.Atomic(func() {
		for len(cv.waiters) > 0 {
			w := cv.waiters[0]
			cv.waiters = cv.waiters[1:]
			cv.sched.ReadyToRunLocked(w)
		}
	})
}

// Barrier_t synchronizes n threads: the nth caller to arrive broadcasts
// and resets the counter for the next round.
type Barrier_t struct {
	n       int
	arrived int
	lock    *Lock_t
	cond    *Cond_t
}

// NewBarrier creates a barrier for n participants.
func NewBarrier(sched *thread.Scheduler_t, n int) *Barrier_t {
	return &Barrier_t{n: n, lock: NewLock(sched), cond: NewCond(sched)}
}

// Wait blocks self until n threads have called Wait in the current
// round.
func (b *Barrier_t) Wait(self *thread.Thread_t) {
	b.lock.Acquire(self)
	b.arrived++
	if b.arrived == b.n {
		b.arrived = 0
		b.cond.Broadcast(self, b.lock)
	} else {
		b.cond.Wait(self, b.lock)
	}
	b.lock.Release(self)
}

// RWLock_t is a reader/writer lock with readers preferred, grounded on
// the original's Read_Write_Lock: a mutex serializes the reader count;
// the first reader takes the writer semaphore on readers' behalf and
// the last reader releases it. wlock is a bare semaphore rather than a
// Lock_t: the thread that takes it (the first reader) and the thread
// that gives it back (the last reader) are generally different
// threads, which Lock_t's owner-only Release would reject.
type RWLock_t struct {
	mutex   *Lock_t
	wlock   *Semaphore_t
	readers int
}

// NewRWLock creates an unheld reader/writer lock.
func NewRWLock(sched *thread.Scheduler_t) *RWLock_t {
	return &RWLock_t{mutex: NewLock(sched), wlock: NewSemaphore(sched, 1)}
}

// ReadAcquire takes a read lock, blocking only if a writer currently
// holds the lock. mutex is held across the wlock acquire, matching
// original_source/threads/synch.cc's Read_Write_Lock::startRead: a
// second reader arriving while the first is still waiting on a writer
// must queue behind mutex too, not observe readers>0 and skip wlock
// while a writer is mid-critical-section.
func (rw *RWLock_t) ReadAcquire(self *thread.Thread_t) {
	rw.mutex.Acquire(self)
	rw.readers++
	if rw.readers == 1 {
		rw.wlock.P(self)
	}
	rw.mutex.Release(self)
}

// ReadRelease gives up a read lock.
func (rw *RWLock_t) ReadRelease(self *thread.Thread_t) {
	rw.mutex.Acquire(self)
	rw.readers--
	last := rw.readers == 0
	rw.mutex.Release(self)
	if last {
		rw.wlock.V()
	}
}

// WriteAcquire takes the exclusive write lock, blocking until there
// are no readers and no other writer.
func (rw *RWLock_t) WriteAcquire(self *thread.Thread_t) {
	rw.wlock.P(self)
}

// WriteRelease gives up the write lock.
func (rw *RWLock_t) WriteRelease(self *thread.Thread_t) {
	rw.wlock.V()
}
