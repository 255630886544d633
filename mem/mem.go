// Package mem manages the simulated machine's physical frame store.
// biscuit's own mem package models a real x86-64 refcounted,
// per-CPU free-list allocator
// sitting behind a hardware direct map; none of that has an analogue
// in a simulated MIPS machine with a software-managed TLB and no
// direct-map trick (the direct-map/page-walking code in biscuit's
// dmap.go is dropped entirely -- see DESIGN.md). What carries over is
// the mental model: physical memory is a fixed array of
// pages addressed by frame number, managed by one allocator singleton.
package mem

import (
	"fmt"
	"sync"

	"nachos/defs"
)

// Pa_t is a physical frame number: an index into the physical frame
// table, not a byte address.
type Pa_t int

// Page_t is the fixed-size byte contents of one physical frame.
type Page_t [defs.PageSize]uint8

// frame_t is one physical-frame-table entry: ownership metadata for
// page replacement. A frame is either free or owned by exactly one
// (vspace, vpn) pair -- this simulator has no sharing between address
// spaces and no copy-on-write.
type frame_t struct {
	inUse    bool
	ownerVsp int // opaque address-space identity, set by package vm
	ownerVpn int
	lastUsed uint64 // tick of last access, for LRU victim selection
}

// Physmem_t is the kernel-wide physical memory manager: a fixed table
// of NumPhysPages frames. Unlike biscuit's Physmem_t, there is no
// refcounting: this demand-paging model gives each resident page
// exactly one owner at a time.
type Physmem_t struct {
	mu     sync.Mutex
	frames [defs.NumPhysPages]frame_t
	pages  [defs.NumPhysPages]Page_t
	free   int // count of unallocated frames, for Stats
}

// NewPhysmem returns a physical memory manager with every frame free.
func NewPhysmem() *Physmem_t {
	return &Physmem_t{free: defs.NumPhysPages}
}

// Alloc reserves a free frame for (vsp, vpn), zeroing it, and returns
// its number. ok is false if physical memory is exhausted -- callers
// (the page-fault handler) must then run eviction.
func (p *Physmem_t) Alloc(vsp, vpn int, tick uint64) (Pa_t, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.frames {
		if !p.frames[i].inUse {
			p.frames[i] = frame_t{inUse: true, ownerVsp: vsp, ownerVpn: vpn, lastUsed: tick}
			p.pages[i] = Page_t{}
			p.free--
			return Pa_t(i), true
		}
	}
	return 0, false
}

// Free releases frame pa back to the pool.
func (p *Physmem_t) Free(pa Pa_t) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.frames[pa].inUse {
		p.frames[pa] = frame_t{}
		p.free++
	}
}

// Touch records that frame pa was accessed at tick, for the LRU victim
// policy.
func (p *Physmem_t) Touch(pa Pa_t, tick uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames[pa].lastUsed = tick
}

// Owner reports the (vsp, vpn) that currently owns frame pa.
func (p *Physmem_t) Owner(pa Pa_t) (vsp, vpn int, inUse bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f := p.frames[pa]
	return f.ownerVsp, f.ownerVpn, f.inUse
}

// Page returns the byte contents of frame pa for direct read/modify by
// the VM layer's user-copy routines.
func (p *Physmem_t) Page(pa Pa_t) *Page_t {
	return &p.pages[pa]
}

// NumFree reports the number of unallocated frames.
func (p *Physmem_t) NumFree() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.free
}

// String renders a one-line occupancy dump, in biscuit's
// hand-rolled Statistics()-string style.
func (p *Physmem_t) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fmt.Sprintf("physmem: %d/%d frames free", p.free, defs.NumPhysPages)
}
