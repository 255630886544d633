// Package util contains helper functions used across the kernel.
// Readn/Writen are carried over from the teacher's own util/util.go
// verbatim (the fixed-offset binary-struct-over-a-byte-slice pattern
// fs/header.go's fieldr/fieldw build on); DivRoundUp is this repo's
// own addition, replacing the teacher's Min/Roundup/Rounddown helpers,
// which had no call site anywhere this kernel's sector/page-count math
// actually needs (every caller here rounds a byte size up to a sector
// count, which DivRoundUp already states directly).
package util

import "unsafe"

// Int is satisfied by all built-in integer types.
type Int interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

// DivRoundUp divides v by b, rounding up. Mirrors the original
// divRoundUp helper filehdr.cc uses to turn a byte size into a sector
// count.
func DivRoundUp[T Int](v, b T) T {
	return (v + b - 1) / b
}

// Readn reads n bytes from a starting at off and returns the value.
// It panics if the requested region is out of bounds or the size is unsupported.
func Readn(a []uint8, n int, off int) int {
	if off < 0 || off+n > len(a) {
		panic("Readn out of bounds")
	}
	p := unsafe.Pointer(&a[off])
	var ret int
	switch n {
	case 8:
		ret = *(*int)(p)
	case 4:
		ret = int(*(*uint32)(p))
	case 2:
		ret = int(*(*uint16)(p))
	case 1:
		ret = int(*(*uint8)(p))
	default:
		panic("unsupported size")
	}
	return ret
}

// Writen writes val using sz bytes into a starting at off.
// It panics if the destination is out of bounds or the size is unsupported.
func Writen(a []uint8, sz int, off int, val int) {
	if off < 0 || off+sz > len(a) {
		panic("Writen out of bounds")
	}
	p := unsafe.Pointer(&a[off])
	switch sz {
	case 8:
		*(*int)(p) = val
	case 4:
		*(*uint32)(p) = uint32(val)
	case 2:
		*(*uint16)(p) = uint16(val)
	case 1:
		*(*uint8)(p) = uint8(val)
	default:
		panic("unsupported size")
	}
}
