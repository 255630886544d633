package vm

import (
	"testing"

	"nachos/defs"
	"nachos/mem"
)

func TestTranslateFaultsExactlyOncePerPage(t *testing.T) {
	physmem := mem.NewPhysmem()
	as := NewVm(physmem)
	as.AddStackSegment(0, defs.PageSize*2)

	if _, err := as.Translate(nil, 0, false, 1); err != 0 {
		t.Fatalf("translate vpn0: %v", err)
	}
	if _, err := as.Translate(nil, 0, false, 2); err != 0 {
		t.Fatalf("translate vpn0 again: %v", err)
	}
	if as.NumPageFaults() != 1 {
		t.Fatalf("faults = %d, want 1 (second translate should hit the TLB/page table)", as.NumPageFaults())
	}

	if _, err := as.Translate(nil, 1, false, 3); err != 0 {
		t.Fatalf("translate vpn1: %v", err)
	}
	if as.NumPageFaults() != 2 {
		t.Fatalf("faults = %d, want 2", as.NumPageFaults())
	}
}

func TestWriteToReadOnlySegmentFails(t *testing.T) {
	physmem := mem.NewPhysmem()
	as := NewVm(physmem)
	as.AddCodeSegment(0, defs.PageSize, make([]byte, defs.PageSize))

	if _, err := as.Translate(nil, 0, true, 1); err != -defs.ERDONLY {
		t.Fatalf("write to code segment: err = %v, want ERDONLY", err)
	}
}

func TestOutOfBoundsVpnFaultsWithEFAULT(t *testing.T) {
	physmem := mem.NewPhysmem()
	as := NewVm(physmem)
	as.AddStackSegment(0, defs.PageSize)

	if _, err := as.Translate(nil, 5, false, 1); err != -defs.EFAULT {
		t.Fatalf("translate OOB vpn: err = %v, want EFAULT", err)
	}
}

// TestQuotaEvictsWithinSameAddressSpace exercises the boundary behavior
// from the specification: with avail=1, two successive faults on
// distinct VPNs cause exactly one eviction between them, and eviction
// never touches a frame belonging to a different address space.
func TestQuotaEvictsWithinSameAddressSpace(t *testing.T) {
	physmem := mem.NewPhysmem()
	as := NewVm(physmem)
	as.avail = 1
	as.AddStackSegment(0, defs.PageSize*4)

	other := NewVm(physmem)
	other.AddStackSegment(0, defs.PageSize*4)
	otherPa, err := other.Translate(nil, 0, false, 1)
	if err != 0 {
		t.Fatalf("other.Translate: %v", err)
	}

	if _, err := as.Translate(nil, 0, false, 2); err != 0 {
		t.Fatalf("translate vpn0: %v", err)
	}
	if as.Avail() != 0 {
		t.Fatalf("avail after first fault = %d, want 0", as.Avail())
	}
	residentBefore := countResident(as)
	if residentBefore != 1 {
		t.Fatalf("resident after first fault = %d, want 1", residentBefore)
	}

	if _, err := as.Translate(nil, 1, false, 3); err != 0 {
		t.Fatalf("translate vpn1: %v", err)
	}
	if countResident(as) != 1 {
		t.Fatalf("resident after second fault = %d, want 1 (quota-bound steady state)", countResident(as))
	}
	if as.NumPageFaults() != 2 {
		t.Fatalf("faults = %d, want 2", as.NumPageFaults())
	}
	if vsp, vpn, inUse := physmem.Owner(otherPa); !inUse || vsp != other.Vsp() || vpn != 0 {
		t.Fatalf("other address space's frame was disturbed by as's eviction: owner=(vsp=%d,vpn=%d,inUse=%v)", vsp, vpn, inUse)
	}
}

func countResident(as *Vm_t) int {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	n := 0
	for _, pte := range as.pagetable {
		if pte.resident {
			n++
		}
	}
	return n
}

func TestEvictionReclaimsFramesUnderQuotaPressure(t *testing.T) {
	physmem := mem.NewPhysmem()
	as := NewVm(physmem)
	quota := as.Avail()
	as.AddStackSegment(0, defs.PageSize*(quota+4))

	for i := 0; i < quota+4; i++ {
		if _, err := as.Translate(nil, i, false, uint64(i)); err != 0 {
			t.Fatalf("translate vpn%d: %v", i, err)
		}
	}
	if as.NumPageFaults() != uint64(quota+4) {
		t.Fatalf("faults = %d, want %d", as.NumPageFaults(), quota+4)
	}
	if n := countResident(as); n > quota {
		t.Fatalf("resident = %d, want <= quota %d", n, quota)
	}
	// Touching the very first page again should fault a second time:
	// it must have been evicted to make room for the later ones.
	before := as.NumPageFaults()
	if _, err := as.Translate(nil, 0, false, 1000); err != 0 {
		t.Fatalf("re-translate vpn0: %v", err)
	}
	if as.NumPageFaults() != before+1 {
		t.Fatal("expected vpn0 to have been evicted and re-faulted")
	}
}

func TestTeardownFreesAllFrames(t *testing.T) {
	physmem := mem.NewPhysmem()
	as := NewVm(physmem)
	as.AddStackSegment(0, defs.PageSize*3)
	for i := 0; i < 3; i++ {
		as.Translate(nil, i, false, 1)
	}
	if physmem.NumFree() != defs.NumPhysPages-3 {
		t.Fatalf("free = %d, want %d", physmem.NumFree(), defs.NumPhysPages-3)
	}
	as.Teardown()
	if physmem.NumFree() != defs.NumPhysPages {
		t.Fatalf("free after teardown = %d, want %d", physmem.NumFree(), defs.NumPhysPages)
	}
}

func TestDirtyPageWrittenBackOnEviction(t *testing.T) {
	physmem := mem.NewPhysmem()
	as := NewVm(physmem)
	as.avail = 1
	as.AddStackSegment(0, defs.PageSize*4)

	pa, err := as.Translate(nil, 0, true, 1)
	if err != 0 {
		t.Fatalf("translate write vpn0: %v", err)
	}
	page := physmem.Page(pa)
	page[0] = 0xAB

	if _, err := as.Translate(nil, 1, false, 2); err != 0 {
		t.Fatalf("translate vpn1 (forces eviction of vpn0): %v", err)
	}

	pa2, err := as.Translate(nil, 0, false, 3)
	if err != 0 {
		t.Fatalf("re-translate vpn0: %v", err)
	}
	page2 := physmem.Page(pa2)
	if page2[0] != 0xAB {
		t.Fatalf("evicted dirty page lost its contents: got %#x, want 0xAB", page2[0])
	}
}

func TestForkCopiesResidentAndSwappedPages(t *testing.T) {
	physmem := mem.NewPhysmem()
	as := NewVm(physmem)
	as.AddStackSegment(0, defs.PageSize*2)

	pa, err := as.Translate(nil, 0, true, 1)
	if err != 0 {
		t.Fatalf("translate vpn0: %v", err)
	}
	physmem.Page(pa)[0] = 0x7A

	child := as.Fork(nil, newMemSwap())
	if child.NumPages() != as.NumPages() {
		t.Fatalf("child numPages = %d, want %d", child.NumPages(), as.NumPages())
	}
	if n := countResident(child); n != 0 {
		t.Fatalf("child resident = %d, want 0 (lazily re-faulted)", n)
	}

	cpa, cerr := child.Translate(nil, 0, false, 2)
	if cerr != 0 {
		t.Fatalf("child translate vpn0: %v", cerr)
	}
	if got := physmem.Page(cpa)[0]; got != 0x7A {
		t.Fatalf("child's copy of vpn0 = %#x, want 0x7A", got)
	}
}
