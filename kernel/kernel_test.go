package kernel

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"nachos/console"
	"nachos/defs"
	"nachos/disk"
	"nachos/fs"
	"nachos/mem"
	"nachos/thread"
)

// buildNOFF assembles a minimal NOFF object file with a code and
// init-data segment (no uninitialized-data segment), page-aligned at
// small virtual addresses so tests can predict exactly which VPNs a
// fault will touch.
func buildNOFF(codeBytes, dataBytes []byte) []byte {
	const headerSize = 4 + 3*12
	buf := make([]byte, headerSize+len(codeBytes)+len(dataBytes))
	order := binary.LittleEndian
	order.PutUint32(buf[0:], 0xbadfad)

	codeOff := headerSize
	dataOff := codeOff + len(codeBytes)

	order.PutUint32(buf[4:], 0)
	order.PutUint32(buf[8:], uint32(codeOff))
	order.PutUint32(buf[12:], uint32(len(codeBytes)))

	order.PutUint32(buf[16:], uint32(len(codeBytes)+defs.PageSize-1)/uint32(defs.PageSize)*uint32(defs.PageSize))
	order.PutUint32(buf[20:], uint32(dataOff))
	order.PutUint32(buf[24:], uint32(len(dataBytes)))

	order.PutUint32(buf[28:], 0)
	order.PutUint32(buf[32:], 0)
	order.PutUint32(buf[36:], 0)

	copy(buf[codeOff:], codeBytes)
	copy(buf[dataOff:], dataBytes)
	return buf
}

func writeFile(t *testing.T, k *KernelCtx, self *thread.Thread_t, path string, data []byte) {
	t.Helper()
	if err := k.Create(self, path); err != 0 {
		t.Fatalf("create %s: err=%d", path, err)
	}
	fd, err := k.Open(self, path)
	if err != 0 {
		t.Fatalf("open %s: err=%d", path, err)
	}
	if werr := k.Write(self, fd, data); werr != 0 {
		t.Fatalf("write %s: err=%d", path, werr)
	}
	k.Close(self, fd)
}

func boot(t *testing.T, sched *thread.Scheduler_t, done chan struct{}) {
	t.Helper()
	sched.Boot()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scenario did not finish in time")
	}
}

// withKernel forks a thread that formats a fresh disk image, builds a
// KernelCtx around it, and runs body with the formatting thread's
// self and the kernel, closing done when body returns.
func withKernel(t *testing.T, consoleIn string, body func(self *thread.Thread_t, k *KernelCtx, out *bytes.Buffer)) {
	t.Helper()
	sched := thread.NewScheduler()
	done := make(chan struct{})
	out := &bytes.Buffer{}

	sched.Fork(func() {
		self := sched.Current()
		sd := disk.NewSynchDisk(sched, disk.NewMemDevice(defs.NumSectors, 0))
		fsys := fs.FormatDisk(self, sched, sd)
		physmem := mem.NewPhysmem()
		con := console.NewSynchConsole(sched, console.NewDevice(bytes.NewReader([]byte(consoleIn)), out))
		k := NewKernel(sched, physmem, fsys, con)
		body(self, k, out)
		close(done)
	}, 0)

	boot(t, sched, done)
}

// TestForkJoinPropagatesExitStatus checks that a forked thread's exit
// status set via Exit reaches its parent's Join.
func TestForkJoinPropagatesExitStatus(t *testing.T) {
	withKernel(t, "", func(self *thread.Thread_t, k *KernelCtx, out *bytes.Buffer) {
		childTid, err := k.Fork(self, func(child *thread.Thread_t) {
			k.Exit(child, 42)
		})
		if err != 0 {
			t.Fatalf("Fork: err=%d", err)
		}
		status, jerr := k.Join(self, childTid)
		if jerr != 0 {
			t.Errorf("Join: err=%d", jerr)
		}
		if status != 42 {
			t.Errorf("Join status = %d, want 42", status)
		}
	})
}

// TestCreateOpenWriteReadRoundTrips drives the filesystem-facing
// syscalls (Create, Open, Write, Close, Open, Read) end to end.
func TestCreateOpenWriteReadRoundTrips(t *testing.T) {
	withKernel(t, "", func(self *thread.Thread_t, k *KernelCtx, out *bytes.Buffer) {
		if err := k.Create(self, "/greeting"); err != 0 {
			t.Fatalf("Create: err=%d", err)
		}
		fd, err := k.Open(self, "/greeting")
		if err != 0 {
			t.Fatalf("Open: err=%d", err)
		}
		if werr := k.Write(self, fd, []byte("hello")); werr != 0 {
			t.Errorf("Write: err=%d", werr)
		}
		if cerr := k.Close(self, fd); cerr != 0 {
			t.Errorf("Close: err=%d", cerr)
		}

		fd2, err := k.Open(self, "/greeting")
		if err != 0 {
			t.Fatalf("reopen: err=%d", err)
		}
		got, rerr := k.Read(self, fd2, 5)
		if rerr != 0 {
			t.Errorf("Read: err=%d", rerr)
		}
		if string(got) != "hello" {
			t.Errorf("Read = %q, want %q", got, "hello")
		}
		k.Close(self, fd2)
	})
}

// TestRemoveWhileOpenFailsThenSucceeds checks the syscall layer
// surfaces the filesystem's busy-file bookkeeping correctly.
func TestRemoveWhileOpenFailsThenSucceeds(t *testing.T) {
	withKernel(t, "", func(self *thread.Thread_t, k *KernelCtx, out *bytes.Buffer) {
		k.Create(self, "/busy")
		fd, _ := k.Open(self, "/busy")
		if err := k.FS.Remove(self, "/busy"); err != -defs.EBUSY {
			t.Errorf("Remove open file: err=%d, want EBUSY", err)
		}
		k.Close(self, fd)
		if err := k.FS.Remove(self, "/busy"); err != 0 {
			t.Errorf("Remove after close: err=%d", err)
		}
	})
}

// TestWriteToUnknownFdFails checks that a descriptor never returned by
// Open is rejected as EBADF.
func TestWriteToUnknownFdFails(t *testing.T) {
	withKernel(t, "", func(self *thread.Thread_t, k *KernelCtx, out *bytes.Buffer) {
		if err := k.Write(self, 99, []byte("x")); err != -defs.EBADF {
			t.Errorf("Write unknown fd: err=%d, want EBADF", err)
		}
	})
}

// TestHaltClosesHaltChan checks that Halt is observable through
// HaltChan exactly once, idempotently.
func TestHaltClosesHaltChan(t *testing.T) {
	withKernel(t, "", func(self *thread.Thread_t, k *KernelCtx, out *bytes.Buffer) {
		k.Halt(self)
		k.Halt(self) // idempotent: must not panic on double-close
		select {
		case <-k.HaltChan():
		default:
			t.Error("HaltChan did not close after Halt")
		}
		if !k.Halted() {
			t.Error("Halted() = false after Halt")
		}
	})
}

// TestConsoleWriteRead exercises fd 0/1 as the console, not a file.
func TestConsoleWriteRead(t *testing.T) {
	withKernel(t, "in", func(self *thread.Thread_t, k *KernelCtx, out *bytes.Buffer) {
		if err := k.Write(self, defs.FdConsoleOut, []byte("out")); err != 0 {
			t.Errorf("console Write: err=%d", err)
		}
		got, err := k.Read(self, defs.FdConsoleIn, 2)
		if err != 0 {
			t.Errorf("console Read: err=%d", err)
		}
		if string(got) != "in" {
			t.Errorf("console Read = %q, want %q", got, "in")
		}
	})
}

// TestExecLazyLoadsFromSwapFile drives SysExec end to end: the loaded
// program's code page is demand-faulted from its swap file, and a
// second touch of the same page hits the now-valid PTE without a
// further fault.
func TestExecLazyLoadsFromSwapFile(t *testing.T) {
	withKernel(t, "", func(self *thread.Thread_t, k *KernelCtx, out *bytes.Buffer) {
		code := bytes.Repeat([]byte{0x42}, defs.PageSize)
		data := []byte("hello, init data")
		writeFile(t, k, self, "/prog", buildNOFF(code, data))

		if err := k.Exec(self, "/prog"); err != 0 {
			t.Fatalf("Exec: err=%d", err)
		}
		if self.AS == nil {
			t.Fatal("Exec left self.AS nil")
		}

		pa, err := self.AS.Translate(self, 0, false, 1)
		if err != 0 {
			t.Fatalf("translate code vpn0: %v", err)
		}
		if self.AS.NumPageFaults() != 1 {
			t.Fatalf("faults after first touch = %d, want 1", self.AS.NumPageFaults())
		}
		page := k.Physmem.Page(pa)
		if page[0] != 0x42 {
			t.Fatalf("faulted-in code page[0] = %#x, want 0x42", page[0])
		}

		if _, err := self.AS.Translate(self, 0, false, 2); err != 0 {
			t.Fatalf("re-translate code vpn0: %v", err)
		}
		if self.AS.NumPageFaults() != 1 {
			t.Fatalf("faults after second touch = %d, want 1 (should hit page table)", self.AS.NumPageFaults())
		}
	})
}

// TestForkDuplicatesAddressSpaceIndependently checks that SysFork gives
// the child its own address space: writes the child makes to its copy
// of a page do not appear in the parent's.
func TestForkDuplicatesAddressSpaceIndependently(t *testing.T) {
	withKernel(t, "", func(self *thread.Thread_t, k *KernelCtx, out *bytes.Buffer) {
		// vpn 0 is a writable init-data page (no code segment), so the
		// child's write is not refused as a write to read-only code.
		data := bytes.Repeat([]byte{0x11}, defs.PageSize)
		writeFile(t, k, self, "/prog", buildNOFF(nil, data))
		if err := k.Exec(self, "/prog"); err != 0 {
			t.Fatalf("Exec: err=%d", err)
		}

		done := make(chan struct{})
		childTid, ferr := k.Fork(self, func(child *thread.Thread_t) {
			pa, err := child.AS.Translate(child, 0, true, 1)
			if err != 0 {
				t.Errorf("child translate: err=%d", err)
			} else {
				k.Physmem.Page(pa)[0] = 0x99
			}
			k.Exit(child, 0)
			close(done)
		})
		if ferr != 0 {
			t.Fatalf("Fork: err=%d", ferr)
		}
		if _, jerr := k.Join(self, childTid); jerr != 0 {
			t.Fatalf("Join: err=%d", jerr)
		}
		<-done

		if self.AS == nil {
			t.Fatal("parent lost its address space")
		}
		pa, err := self.AS.Translate(self, 0, false, 2)
		if err != 0 {
			t.Fatalf("parent translate: err=%d", err)
		}
		if got := k.Physmem.Page(pa)[0]; got != 0x11 {
			t.Fatalf("parent's page[0] = %#x, want 0x11 (unaffected by child's write)", got)
		}
	})
}

func TestDiagnosticsMentionsSubsystems(t *testing.T) {
	withKernel(t, "", func(self *thread.Thread_t, k *KernelCtx, out *bytes.Buffer) {
		report := k.Diagnostics()
		for _, want := range []string{"physical memory:", "scheduler:", "filesystem:"} {
			if !bytes.Contains([]byte(report), []byte(want)) {
				t.Errorf("Diagnostics() missing %q in:\n%s", want, report)
			}
		}
	})
}

func TestProfilerSnapshotCountsThreads(t *testing.T) {
	pr := NewProfiler()
	pr.RecordTick(1, 10)
	pr.RecordTick(1, 5)
	pr.RecordTick(2, 3)

	snap := pr.Snapshot()
	if len(snap.Sample) != 2 {
		t.Fatalf("Snapshot: %d samples, want 2", len(snap.Sample))
	}
	var total int64
	for _, s := range snap.Sample {
		total += s.Value[0]
	}
	if total != 18 {
		t.Errorf("total ticks = %d, want 18", total)
	}

	var buf bytes.Buffer
	if err := pr.WriteGzip(&buf); err != nil {
		t.Fatalf("WriteGzip: %v", err)
	}
	if buf.Len() == 0 {
		t.Error("WriteGzip produced no bytes")
	}
}
