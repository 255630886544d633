package fs

import (
	"fmt"

	"nachos/defs"
)

// Bitmap_t is the free-sector bitmap: one bit per disk sector,
// persisted at defs.BitmapSector.
// It embeds the sector cache so that FileHeader_t and Directory_t
// (which need to read/write arbitrary sectors, not just bitmap bits)
// can share the same in-memory view of the disk via bm.readSector/
// bm.writeSector.
type Bitmap_t struct {
	*SectorCache_t
	bits []bool
	free int
}

// NewBitmap creates a bitmap over a disk of numSectors sectors, all
// initially free, backed by cache.
func NewBitmap(cache *SectorCache_t, numSectors int) *Bitmap_t {
	return &Bitmap_t{SectorCache_t: cache, bits: make([]bool, numSectors), free: numSectors}
}

func (b *Bitmap_t) readSector(sector int) [defs.SectorSize]byte  { return b.Get(sector) }
func (b *Bitmap_t) writeSector(sector int, d [defs.SectorSize]byte) { b.Put(sector, d) }

// Mark reserves sector (used when a sector's allocation is already
// decided, e.g. the well-known bitmap/root sectors at mkdisk time).
func (b *Bitmap_t) Mark(sector int) {
	if !b.bits[sector] {
		b.bits[sector] = true
		b.free--
	}
}

// Clear frees sector.
func (b *Bitmap_t) Clear(sector int) {
	if b.bits[sector] {
		b.bits[sector] = false
		b.free++
	}
}

// Find allocates and returns the lowest-numbered free sector. ok is
// false if the disk is full.
func (b *Bitmap_t) Find() (int, bool) {
	for i, used := range b.bits {
		if !used {
			b.bits[i] = true
			b.free--
			return i, true
		}
	}
	return 0, false
}

// NumFree reports the number of unallocated sectors.
func (b *Bitmap_t) NumFree() int { return b.free }

// FetchFrom loads the bitmap's bits from its on-disk sector(s).
func (b *Bitmap_t) FetchFrom(bitmapSector int) {
	bytesNeeded := (len(b.bits) + 7) / 8
	sectorsNeeded := (bytesNeeded + defs.SectorSize - 1) / defs.SectorSize
	raw := make([]byte, 0, sectorsNeeded*defs.SectorSize)
	for s := 0; s < sectorsNeeded; s++ {
		d := b.Get(bitmapSector + s)
		raw = append(raw, d[:]...)
	}
	b.free = 0
	for i := range b.bits {
		byteIdx, bitIdx := i/8, i%8
		b.bits[i] = raw[byteIdx]&(1<<bitIdx) != 0
		if !b.bits[i] {
			b.free++
		}
	}
}

// WriteBack persists the bitmap's bits to its on-disk sector(s).
func (b *Bitmap_t) WriteBack(bitmapSector int) {
	bytesNeeded := (len(b.bits) + 7) / 8
	sectorsNeeded := (bytesNeeded + defs.SectorSize - 1) / defs.SectorSize
	raw := make([]byte, sectorsNeeded*defs.SectorSize)
	for i, used := range b.bits {
		if used {
			raw[i/8] |= 1 << uint(i%8)
		}
	}
	for s := 0; s < sectorsNeeded; s++ {
		var d [defs.SectorSize]byte
		copy(d[:], raw[s*defs.SectorSize:(s+1)*defs.SectorSize])
		b.Put(bitmapSector+s, d)
	}
}

// String renders a one-line free-sector count, matching biscuit's
// Fs_statistics-style text dumps.
func (b *Bitmap_t) String() string {
	return fmt.Sprintf("bitmap: %d/%d sectors free", b.free, len(b.bits))
}
