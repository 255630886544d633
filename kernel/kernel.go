// Package kernel ties the three core subsystems (thread, vm, fs) and
// their device collaborators (disk, console) together into the
// syscall surface a loaded user program drives. It plays the role
// exception.cc/syscall.cc play in original_source: the dispatcher a
// trap handler calls into after decoding a syscall number and its
// arguments out of the simulated machine's register file. Decoding
// those registers is the out-of-scope MIPS interpreter's job; KernelCtx
// takes already-decoded, typed arguments.
package kernel

import (
	"strconv"
	"sync"

	"nachos/console"
	"nachos/defs"
	"nachos/fs"
	"nachos/loader"
	"nachos/mem"
	"nachos/thread"
	"nachos/vm"
)

// procState tracks the per-thread bookkeeping a syscall dispatcher
// needs beyond what thread.Thread_t already carries: open file
// descriptors and the exit status Join reports.
type procState struct {
	fds      map[int]*fs.OpenFile_t
	nextFd   int
	exited   bool
	exitCode int
	execPath string // the path last Exec'd by this thread, for naming a forked child's swap file
}

func newProcState() *procState {
	return &procState{fds: make(map[int]*fs.OpenFile_t), nextFd: 2}
}

// KernelCtx bundles the scheduler and every subsystem a syscall might
// touch. One KernelCtx exists per booted machine; cmd/nachos and tests
// each construct their own.
type KernelCtx struct {
	Sched   *thread.Scheduler_t
	Physmem *mem.Physmem_t
	FS      *fs.FileSystem_t
	Console *console.SynchConsole_t

	mu     sync.Mutex
	procs  map[defs.Tid_t]*procState
	halted bool
	haltCh chan struct{}
}

// NewKernel wires up a fresh kernel context over an already-booted
// scheduler, frame table, filesystem, and console.
func NewKernel(sched *thread.Scheduler_t, physmem *mem.Physmem_t, fsys *fs.FileSystem_t, con *console.SynchConsole_t) *KernelCtx {
	return &KernelCtx{
		Sched:   sched,
		Physmem: physmem,
		FS:      fsys,
		Console: con,
		procs:   make(map[defs.Tid_t]*procState),
		haltCh:  make(chan struct{}),
	}
}

func (k *KernelCtx) stateFor(self *thread.Thread_t) *procState {
	k.mu.Lock()
	defer k.mu.Unlock()
	st, ok := k.procs[self.Tid]
	if !ok {
		st = newProcState()
		k.procs[self.Tid] = st
	}
	return st
}

// Halt stops the simulated machine, matching SysHalt. The scheduler
// itself keeps running (other threads may still be ready); Halted
// reports whether Halt has fired.
func (k *KernelCtx) Halt(self *thread.Thread_t) {
	k.mu.Lock()
	if !k.halted {
		k.halted = true
		close(k.haltCh)
	}
	k.mu.Unlock()
}

// Halted reports whether Halt has been called.
func (k *KernelCtx) Halted() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.halted
}

// HaltChan returns a channel that closes the moment Halt is called, so
// a caller can select on it instead of polling Halted.
func (k *KernelCtx) HaltChan() <-chan struct{} {
	return k.haltCh
}

// Exit records self's exit status and closes every file descriptor it
// still held open, matching SysExit plus the address-space teardown
// Exit performs in the original.
func (k *KernelCtx) Exit(self *thread.Thread_t, status int) {
	st := k.stateFor(self)
	for _, of := range st.fds {
		of.Close(self)
	}
	st.fds = nil
	st.exited = true
	st.exitCode = status
	if self.AS != nil {
		self.AS.Teardown()
	}
}

// ExitStatus reports the exit status a finished thread recorded via
// Exit, for Join to pick up. ok is false if tid never called Exit.
func (k *KernelCtx) ExitStatus(tid defs.Tid_t) (status int, ok bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	st, exists := k.procs[tid]
	if !exists || !st.exited {
		return 0, false
	}
	return st.exitCode, true
}

// Fork creates a new thread running entry with its own independent
// duplicate of self's address space, matching SysFork: "duplicate
// address space; child resumes at function pointer given in arg0".
// The duplicate gets its own swap file (named from self's last Exec'd
// path plus the child's new tid) holding a full copy of self's
// virtual-address-space image; nothing is shared, since this
// simulator has no copy-on-write. If the child's swap file cannot be
// created, the child instead shares self's address space (the same
// *vm.Vm_t), so its writes are visible to self. A self with no address space (never
// Exec'd) forks a bare thread with AS left nil, matching
// thread.Scheduler_t.Fork's own thread-level primitive.
func (k *KernelCtx) Fork(self *thread.Thread_t, entry func(self *thread.Thread_t)) (defs.Tid_t, defs.Err_t) {
	// child is assigned below, before Sched.Fork's goroutine can ever
	// be dispatched (dispatch requires a later scheduling event taking
	// the scheduler's lock), so the closure always sees it set.
	var child *thread.Thread_t
	t, ok := k.Sched.Fork(func() {
		entry(child)
	}, self.Priority)
	if !ok {
		return 0, -defs.EINVAL
	}
	child = t

	if self.AS != nil {
		execPath := k.stateFor(self).execPath
		childSwap, serr := k.newSwapFile(self, execPath, t.Tid)
		if serr == 0 {
			t.AS = self.AS.Fork(self, childSwap)
		} else {
			// Could not allocate the child a swap file of its own (disk
			// full): fall back to sharing the parent's address space
			// rather than failing the fork outright.
			t.AS = self.AS
		}
	}
	return t.Tid, 0
}

// Join blocks self until tid has exited, returning its exit status.
// Matches SysJoin.
func (k *KernelCtx) Join(self *thread.Thread_t, tid defs.Tid_t) (status int, err defs.Err_t) {
	k.Sched.Join(self, tid)
	status, _ = k.ExitStatus(tid)
	return status, 0
}

// Yield gives up the CPU voluntarily, matching SysYield.
func (k *KernelCtx) Yield(self *thread.Thread_t) {
	k.Sched.Yield(self)
}

// Exec replaces self's address space with the executable named by
// path, matching SysExec: it parses the NOFF segments, builds a fresh
// address space backed by a new swap file named for path and self's
// tid, and copies the code and init-data segments into that swap
// file -- the "lazy load" the specification describes, since the page
// table starts out entirely invalid and every segment, including the
// implicitly zero-filled BSS and stack, is demand-loaded from the
// swap file on first touch. The loaded program cannot actually run
// without the out-of-scope MIPS interpreter; this leaves self.AS
// ready for a trap handler (or a test) to drive directly via
// Translate/Userreadn/Userwriten.
func (k *KernelCtx) Exec(self *thread.Thread_t, path string) defs.Err_t {
	of, err := k.FS.Open(self, path)
	if err != 0 {
		return err
	}
	defer of.Close(self)

	raw := make([]byte, 0, of.Length())
	for {
		chunk, rerr := of.Read(self, defs.SectorSize)
		if rerr != 0 {
			return rerr
		}
		if len(chunk) == 0 {
			break
		}
		raw = append(raw, chunk...)
	}

	exe, perr := loader.Parse(raw)
	if perr != nil {
		return -defs.EINVAL
	}

	as := vm.NewVm(k.Physmem)
	if vaddr, size, data := exe.CodeSegment(); size > 0 {
		as.AddCodeSegment(vaddr, size, data)
	}
	if vaddr, size, data := exe.InitDataSegment(); size > 0 {
		as.AddInitDataSegment(vaddr, size, data)
	}
	if vaddr, size := exe.UninitDataSegment(); size > 0 {
		as.AddUninitDataSegment(vaddr, size)
	}
	stackBase := exe.TotalSize()
	as.AddStackSegment(stackBase, defs.UserStackSize)

	swap, serr := k.newSwapFile(self, path, self.Tid)
	if serr != 0 {
		return serr
	}
	as.AttachSwap(swap)
	if lerr := as.LoadImage(self); lerr != 0 {
		return lerr
	}

	self.AS = as
	k.stateFor(self).execPath = path
	return 0
}

// Create makes an empty file at path, matching SysCreate.
func (k *KernelCtx) Create(self *thread.Thread_t, path string) defs.Err_t {
	return k.FS.Create(self, path)
}

// Open resolves path and installs it in self's file descriptor table,
// matching SysOpen. Descriptors 0 and 1 are reserved for the console
// (defs.FdConsoleIn/FdConsoleOut) and never handed out here.
func (k *KernelCtx) Open(self *thread.Thread_t, path string) (fd int, err defs.Err_t) {
	of, ferr := k.FS.Open(self, path)
	if ferr != 0 {
		return -1, ferr
	}
	st := k.stateFor(self)
	fd = st.nextFd
	st.nextFd++
	st.fds[fd] = of
	return fd, 0
}

// Close releases fd from self's descriptor table, matching SysClose.
func (k *KernelCtx) Close(self *thread.Thread_t, fd int) defs.Err_t {
	if fd == defs.FdConsoleIn || fd == defs.FdConsoleOut {
		return 0
	}
	st := k.stateFor(self)
	of, ok := st.fds[fd]
	if !ok {
		return -defs.EBADF
	}
	of.Close(self)
	delete(st.fds, fd)
	return 0
}

// Read reads up to n bytes from fd, matching SysRead. fd
// defs.FdConsoleIn reads from the console; any other descriptor must
// have come from Open.
func (k *KernelCtx) Read(self *thread.Thread_t, fd int, n int) ([]byte, defs.Err_t) {
	if fd == defs.FdConsoleIn {
		return k.Console.Read(self, n)
	}
	st := k.stateFor(self)
	of, ok := st.fds[fd]
	if !ok {
		return nil, -defs.EBADF
	}
	return of.Read(self, n)
}

// Write writes data to fd, matching SysWrite. fd defs.FdConsoleOut
// writes to the console; any other descriptor must have come from
// Open.
func (k *KernelCtx) Write(self *thread.Thread_t, fd int, data []byte) defs.Err_t {
	if fd == defs.FdConsoleOut {
		return k.Console.Write(self, data)
	}
	st := k.stateFor(self)
	of, ok := st.fds[fd]
	if !ok {
		return -defs.EBADF
	}
	return of.Write(self, data)
}

// Print renders val or s to the console according to mode, matching
// SysPrint (the distilled spec's debug-print collaborator, brought
// in scope here as a real syscall rather than a host-side-only
// utility).
func (k *KernelCtx) Print(self *thread.Thread_t, mode defs.PrintMode, val int, s string) defs.Err_t {
	switch mode {
	case defs.PrintInt:
		return k.Console.Write(self, []byte(strconv.Itoa(val)))
	case defs.PrintChar:
		return k.Console.Write(self, []byte{byte(val)})
	case defs.PrintString:
		return k.Console.Write(self, []byte(s))
	}
	return -defs.EINVAL
}
