package fs

import (
	"nachos/defs"
	"nachos/disk"
	"nachos/thread"
)

// SectorCache_t is a whole-disk, write-back cache of sectors sitting
// in front of disk.SynchDisk_t, grounded on
// original_source/filesys/fileCache.cc, which implements exactly this
// in front of SynchDisk. Because this simulator's disks are
// small (NumSectors sectors of SectorSize bytes -- well under a
// megabyte for the default geometry), the cache simply holds the
// entire disk resident in memory after Load and writes it back on
// Flush, rather than tracking per-sector LRU/eviction the way
// fileCache.cc does for a disk too large to fit in memory: the
// simplification is noted in DESIGN.md.
type SectorCache_t struct {
	sectors [][defs.SectorSize]byte
	dirty   []bool
}

// Load reads every sector of dev into the cache.
func Load(self *thread.Thread_t, sd *disk.SynchDisk_t) *SectorCache_t {
	n := sd.NumSectors()
	c := &SectorCache_t{
		sectors: make([][defs.SectorSize]byte, n),
		dirty:   make([]bool, n),
	}
	for i := 0; i < n; i++ {
		c.sectors[i], _ = sd.ReadSector(self, i)
	}
	return c
}

// Get returns a copy of sector's contents.
func (c *SectorCache_t) Get(sector int) [defs.SectorSize]byte {
	return c.sectors[sector]
}

// Put writes data into sector and marks it dirty.
func (c *SectorCache_t) Put(sector int, data [defs.SectorSize]byte) {
	c.sectors[sector] = data
	c.dirty[sector] = true
}

// Flush writes every dirty sector back to sd, in biscuit's
// Ufs_t.Sync role.
func (c *SectorCache_t) Flush(self *thread.Thread_t, sd *disk.SynchDisk_t) {
	for i, d := range c.dirty {
		if d {
			sd.WriteSector(self, i, c.sectors[i])
			c.dirty[i] = false
		}
	}
}

// NumSectors reports the cached disk's size.
func (c *SectorCache_t) NumSectors() int { return len(c.sectors) }
