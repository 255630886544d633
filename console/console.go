// Package console implements the simulated console device and its
// synch wrapper, backing console file descriptors 0 and 1, grounded
// directly on original_source/machine/synchConsole.cc/.h: a
// raw device that delivers one character at a time via a completion
// callback, and a SynchConsole that blocks the calling thread on a
// semaphore until that callback fires.
package console

import (
	"bufio"
	"fmt"
	"io"
	"sync"

	"nachos/defs"
	"nachos/synch"
	"nachos/thread"
)

// Device is the raw console: asynchronous, one character at a time,
// exactly like synchConsole.cc's underlying
// Console class.
type Device struct {
	out       io.Writer
	in        *bufio.Reader
	mu        sync.Mutex
	putDoneCB func()
	getDoneCB func(ch byte, eof bool)
}

// NewDevice wraps host reader/writer streams (typically os.Stdin /
// os.Stdout, or in-memory buffers for tests) as the simulated console.
func NewDevice(in io.Reader, out io.Writer) *Device {
	return &Device{out: out, in: bufio.NewReader(in)}
}

// PutChar writes one character, invoking done once it has been
// written (matching the original's Console::PutChar issuing a write
// and later delivering WriteDone via interrupt).
func (d *Device) PutChar(ch byte, done func()) {
	go func() {
		d.mu.Lock()
		fmt.Fprintf(d.out, "%c", ch)
		d.mu.Unlock()
		done()
	}()
}

// GetChar reads one character, invoking done with it (or eof=true at
// end of input), matching Console::GetChar/ReadAvail.
func (d *Device) GetChar(done func(ch byte, eof bool)) {
	go func() {
		b, err := d.in.ReadByte()
		if err != nil {
			done(0, true)
			return
		}
		done(b, false)
	}()
}

// SynchConsole_t is the blocking wrapper kernel threads use, directly
// grounded on synchConsole.cc's SynchConsole class: a lock per
// direction, and per request a semaphore that the device's completion
// callback posts.
type SynchConsole_t struct {
	dev       *Device
	sched     *thread.Scheduler_t
	writeLock *synch.Lock_t
	readLock  *synch.Lock_t
}

// NewSynchConsole wraps dev for blocking use.
func NewSynchConsole(sched *thread.Scheduler_t, dev *Device) *SynchConsole_t {
	return &SynchConsole_t{dev: dev, sched: sched, writeLock: synch.NewLock(sched), readLock: synch.NewLock(sched)}
}

// PutChar blocks self until ch has been written.
func (sc *SynchConsole_t) PutChar(self *thread.Thread_t, ch byte) {
	sc.writeLock.Acquire(self)
	defer sc.writeLock.Release(self)
	sem := synch.NewSemaphore(sc.sched, 0)
	sc.dev.PutChar(ch, func() { sem.V() })
	sem.P(self)
}

// PutString writes s one character at a time through PutChar, the
// Print syscall's PrintString mode.
func (sc *SynchConsole_t) PutString(self *thread.Thread_t, s string) {
	for i := 0; i < len(s); i++ {
		sc.PutChar(self, s[i])
	}
}

// GetChar blocks self until a character (or EOF) is available.
func (sc *SynchConsole_t) GetChar(self *thread.Thread_t) (ch byte, eof bool) {
	sc.readLock.Acquire(self)
	defer sc.readLock.Release(self)
	sem := synch.NewSemaphore(sc.sched, 0)
	var gotCh byte
	var gotEOF bool
	sc.dev.GetChar(func(c byte, e bool) {
		gotCh, gotEOF = c, e
		sem.V()
	})
	sem.P(self)
	return gotCh, gotEOF
}

// Read reads up to n bytes (the Read syscall against fd
// defs.FdConsoleIn).
func (sc *SynchConsole_t) Read(self *thread.Thread_t, n int) ([]byte, defs.Err_t) {
	buf := make([]byte, 0, n)
	for len(buf) < n {
		ch, eof := sc.GetChar(self)
		if eof {
			break
		}
		buf = append(buf, ch)
	}
	return buf, 0
}

// Write writes data (the Write syscall against fd defs.FdConsoleOut).
func (sc *SynchConsole_t) Write(self *thread.Thread_t, data []byte) defs.Err_t {
	for _, b := range data {
		sc.PutChar(self, b)
	}
	return 0
}
