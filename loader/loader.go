// Package loader parses NOFF-format user executables and builds the
// address-space segments package vm expects, grounded directly on
// original_source/userprog/addrspace.cc and its SwapHeader helper.
package loader

import (
	"encoding/binary"
	"fmt"

	"nachos/defs"
)

// noffMagic identifies a NOFF object file. Nachos chose a deliberately
// odd value so a byte-swapped header is never mistaken for a valid one.
const noffMagic = 0xbadfad

// segmentHeader mirrors noff.h's Segment: byte offsets into the
// object file and the virtual address the bytes belong at.
type segmentHeader struct {
	VirtualAddr int32
	InFileAddr  int32
	Size        int32
}

// header mirrors noff.h's NoffHeader: a magic number followed by three
// segment headers for code, initialized data, and (implicitly
// zero-filled) uninitialized data.
type header struct {
	Magic      int32
	Code       segmentHeader
	InitData   segmentHeader
	UninitData segmentHeader
}

const headerSize = 4 + 3*12 // one int32 magic + three 3*int32 segment headers

// Executable is a parsed NOFF object file: the segment headers plus
// the raw file bytes backing the code and initialized-data segments.
type Executable struct {
	hdr  header
	code []byte
	data []byte
}

// Parse reads a NOFF header and its code/init-data segment bytes out
// of raw, a whole object file loaded into memory (typically via the
// out-of-scope object-loading collaborator reading a file opened
// through the filesystem core).
func Parse(raw []byte) (*Executable, error) {
	if len(raw) < headerSize {
		return nil, fmt.Errorf("loader: file too short for NOFF header (%d bytes)", len(raw))
	}

	h := decodeHeader(raw, binary.LittleEndian)
	if h.Magic != noffMagic {
		h = decodeHeader(raw, binary.BigEndian)
		if h.Magic != noffMagic {
			return nil, fmt.Errorf("loader: bad NOFF magic %#x", h.Magic)
		}
	}

	e := &Executable{hdr: h}
	if h.Code.Size > 0 {
		e.code = sliceAt(raw, int(h.Code.InFileAddr), int(h.Code.Size))
	}
	if h.InitData.Size > 0 {
		e.data = sliceAt(raw, int(h.InitData.InFileAddr), int(h.InitData.Size))
	}
	return e, nil
}

func sliceAt(raw []byte, off, n int) []byte {
	if off < 0 || off+n > len(raw) {
		return nil
	}
	out := make([]byte, n)
	copy(out, raw[off:off+n])
	return out
}

func decodeHeader(raw []byte, order binary.ByteOrder) header {
	readInt32 := func(off int) int32 { return int32(order.Uint32(raw[off:])) }
	readSeg := func(off int) segmentHeader {
		return segmentHeader{
			VirtualAddr: readInt32(off),
			InFileAddr:  readInt32(off + 4),
			Size:        readInt32(off + 8),
		}
	}
	return header{
		Magic:      readInt32(0),
		Code:       readSeg(4),
		InitData:   readSeg(16),
		UninitData: readSeg(28),
	}
}

// CodeSegment returns the code segment's virtual address, byte size,
// and backing file bytes.
func (e *Executable) CodeSegment() (vaddr, size int, data []byte) {
	return int(e.hdr.Code.VirtualAddr), int(e.hdr.Code.Size), e.code
}

// InitDataSegment returns the initialized-data segment's virtual
// address, byte size, and backing file bytes.
func (e *Executable) InitDataSegment() (vaddr, size int, data []byte) {
	return int(e.hdr.InitData.VirtualAddr), int(e.hdr.InitData.Size), e.data
}

// UninitDataSegment returns the BSS segment's virtual address and byte
// size; its contents are always zero-filled on demand.
func (e *Executable) UninitDataSegment() (vaddr, size int) {
	return int(e.hdr.UninitData.VirtualAddr), int(e.hdr.UninitData.Size)
}

// TotalSize returns the number of bytes spanned by the code,
// init-data, and uninit-data segments together, before the stack is
// added -- mirrors addrspace.cc's initial `size` computation.
func (e *Executable) TotalSize() int {
	return int(e.hdr.Code.Size + e.hdr.InitData.Size + e.hdr.UninitData.Size)
}

// NumPages returns the number of pages needed to hold size bytes of
// user address space, rounding up and adding defs.UserStackSize for
// the stack region.
func NumPages(size int) int {
	total := size + defs.UserStackSize
	return (total + defs.PageSize - 1) / defs.PageSize
}
