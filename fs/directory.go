package fs

import (
	"fmt"

	"nachos/defs"
	"nachos/util"
)

// dirEntry_t is one fixed-size directory slot: InUse flag, a
// NUL-padded name, and the header sector of the named file.
type dirEntry_t struct {
	inUse        bool
	name         string
	headerSector int
}

// Directory_t is a fixed-capacity directory: defs.NumDirEntries slots.
// A freshly created directory is empty (NewDirectory); callers add the
// conventional `.` (self) and `..` (parent) entries via Add, occupying
// the first two slots, matching original_source/filesys/filesys.cc's
// directory->Add(".", sector); directory->Add("..", parentSector) at
// both mkfs time (root) and FileSystem::CreateDirectory time.
type Directory_t struct {
	entries [defs.NumDirEntries]dirEntry_t
	sector  int // this directory's own header sector
}

// NewDirectory creates an empty, all-free directory for the header at
// sector.
func NewDirectory(sector int) *Directory_t {
	return &Directory_t{sector: sector}
}

// Find returns the header sector of name, or (-1, false) if absent.
func (d *Directory_t) Find(name string) (int, bool) {
	for _, e := range d.entries {
		if e.inUse && e.name == name {
			return e.headerSector, true
		}
	}
	return -1, false
}

// Add inserts name -> headerSector. Fails with EEXIST if the name is
// already present, ENOSPC if the directory has no free slot, EINVAL if
// name is too long.
func (d *Directory_t) Add(name string, headerSector int) defs.Err_t {
	if len(name) == 0 || len(name) > defs.FileNameMaxLen {
		return -defs.EINVAL
	}
	if _, ok := d.Find(name); ok {
		return -defs.EEXIST
	}
	for i := range d.entries {
		if !d.entries[i].inUse {
			d.entries[i] = dirEntry_t{inUse: true, name: name, headerSector: headerSector}
			return 0
		}
	}
	return -defs.ENOSPC
}

// Remove deletes name. Fails with ENOENT if absent.
func (d *Directory_t) Remove(name string) defs.Err_t {
	for i := range d.entries {
		if d.entries[i].inUse && d.entries[i].name == name {
			d.entries[i] = dirEntry_t{}
			return 0
		}
	}
	return -defs.ENOENT
}

// List returns the names of every in-use entry other than `.` and
// `..`, for the diagnostics dump, tests, and RemoveDirectory's
// recursive walk -- matching RecursiveDelete's "for i := 2;
// i < NumDirEntries" skip of the two reserved slots.
func (d *Directory_t) List() []string {
	var out []string
	for _, e := range d.entries {
		if e.inUse && e.name != "." && e.name != ".." {
			out = append(out, e.name)
		}
	}
	return out
}

// IsEmpty reports whether the directory has no entries besides `.`
// and `..`.
func (d *Directory_t) IsEmpty() bool {
	return len(d.List()) == 0
}

// encode/decode pack the directory into DirectoryFileSize bytes for
// storage through the owning file's data sectors, one
// defs.DirectoryEntrySize-byte record per slot: InUse(4) as 0/1,
// Name padded to FileNameMaxLen+1 bytes, HeaderSector(4).
func (d *Directory_t) encode() []byte {
	buf := make([]byte, defs.DirectoryFileSize)
	for i, e := range d.entries {
		off := i * defs.DirectoryEntrySize
		inUse := 0
		if e.inUse {
			inUse = 1
		}
		util.Writen(buf, 4, off, inUse)
		nameBytes := []byte(e.name)
		copy(buf[off+4:off+4+defs.FileNameMaxLen], nameBytes)
		util.Writen(buf, 4, off+4+defs.FileNameMaxLen+1, e.headerSector)
	}
	return buf
}

func (d *Directory_t) decode(buf []byte) {
	for i := range d.entries {
		off := i * defs.DirectoryEntrySize
		inUse := util.Readn(buf, 4, off) != 0
		nameBytes := buf[off+4 : off+4+defs.FileNameMaxLen]
		n := 0
		for n < len(nameBytes) && nameBytes[n] != 0 {
			n++
		}
		headerSector := util.Readn(buf, 4, off+4+defs.FileNameMaxLen+1)
		d.entries[i] = dirEntry_t{inUse: inUse, name: string(nameBytes[:n]), headerSector: headerSector}
	}
}

// String renders the directory listing, matching biscuit's
// Ls-as-string debugging habit (ufs.Ufs_t.Ls).
func (d *Directory_t) String() string {
	return fmt.Sprintf("dir[sector=%d]: %v", d.sector, d.List())
}
