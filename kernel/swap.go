package kernel

import (
	"strconv"
	"strings"

	"nachos/defs"
	"nachos/fs"
	"nachos/thread"
	"nachos/vm"
)

// fsSwap adapts an open filesystem file into a vm.SwapBackend, giving
// an address space's demand-paging image a real home on the
// simulated disk instead of process memory -- the "swap file" the
// specification requires every address space to own. self is typed
// any on the vm.SwapBackend interface to keep package vm free of a
// dependency on thread (which already depends on vm for Thread_t.AS);
// here, where both fs and thread are already in scope, it is always
// the calling thread.
type fsSwap struct {
	of *fs.OpenFile_t
}

func (s *fsSwap) ReadPage(self any, vpn int) ([]byte, defs.Err_t) {
	t, _ := self.(*thread.Thread_t)
	s.of.Seek(vpn * defs.PageSize)
	data, err := s.of.Read(t, defs.PageSize)
	if err != 0 {
		return nil, err
	}
	if len(data) < defs.PageSize {
		full := make([]byte, defs.PageSize)
		copy(full, data)
		return full, 0
	}
	return data, 0
}

func (s *fsSwap) WritePage(self any, vpn int, data []byte) defs.Err_t {
	t, _ := self.(*thread.Thread_t)
	s.of.Seek(vpn * defs.PageSize)
	return s.of.Write(t, data)
}

var _ vm.SwapBackend = (*fsSwap)(nil)

// swapFileName derives a swap file's name from the executable path
// plus the owning thread id, per the specification's "uniquely per
// process (from executable name plus thread id)" -- truncated to fit
// the filesystem's fixed FileNameMaxLen, which this simulator's tiny
// directory-entry format affords no room to relax.
func swapFileName(execPath string, tid defs.Tid_t) string {
	base := execPath
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}
	tidStr := strconv.Itoa(int(tid))
	maxBase := defs.FileNameMaxLen - len(tidStr) - 1
	if maxBase < 1 {
		maxBase = 1
	}
	if len(base) > maxBase {
		base = base[:maxBase]
	}
	return "/" + base + "." + tidStr
}

// newSwapFile creates (or truncates, if already present from a prior
// run against this disk image) and opens the swap file named for
// execPath/tid, returning a vm.SwapBackend over it.
func (k *KernelCtx) newSwapFile(self *thread.Thread_t, execPath string, tid defs.Tid_t) (vm.SwapBackend, defs.Err_t) {
	path := swapFileName(execPath, tid)
	err := k.FS.Create(self, path)
	if err == -defs.EEXIST {
		if err = k.FS.Remove(self, path); err == 0 {
			err = k.FS.Create(self, path)
		}
	}
	if err != 0 {
		return nil, err
	}
	of, err := k.FS.Open(self, path)
	if err != 0 {
		return nil, err
	}
	return &fsSwap{of: of}, 0
}
