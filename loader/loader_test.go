package loader

import (
	"encoding/binary"
	"testing"
)

func buildNOFF(codeBytes, dataBytes []byte) []byte {
	const fileHeaderEnd = headerSize
	buf := make([]byte, fileHeaderEnd+len(codeBytes)+len(dataBytes))
	order := binary.LittleEndian
	order.PutUint32(buf[0:], noffMagic)

	codeOff := fileHeaderEnd
	dataOff := codeOff + len(codeBytes)

	// code segment header
	order.PutUint32(buf[4:], 0x1000)             // virtualAddr
	order.PutUint32(buf[8:], uint32(codeOff))    // inFileAddr
	order.PutUint32(buf[12:], uint32(len(codeBytes)))

	// initData segment header
	order.PutUint32(buf[16:], 0x2000)
	order.PutUint32(buf[20:], uint32(dataOff))
	order.PutUint32(buf[24:], uint32(len(dataBytes)))

	// uninitData segment header
	order.PutUint32(buf[28:], 0x3000)
	order.PutUint32(buf[32:], 0)
	order.PutUint32(buf[36:], 256)

	copy(buf[codeOff:], codeBytes)
	copy(buf[dataOff:], dataBytes)
	return buf
}

func TestParseRoundTripsSegments(t *testing.T) {
	code := []byte{1, 2, 3, 4, 5}
	data := []byte{9, 9, 9}
	raw := buildNOFF(code, data)

	exe, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	vaddr, size, bytes := exe.CodeSegment()
	if vaddr != 0x1000 || size != len(code) || string(bytes) != string(code) {
		t.Fatalf("CodeSegment = (%#x, %d, %v), want (0x1000, %d, %v)", vaddr, size, bytes, len(code), code)
	}

	vaddr, size, bytes = exe.InitDataSegment()
	if vaddr != 0x2000 || size != len(data) || string(bytes) != string(data) {
		t.Fatalf("InitDataSegment = (%#x, %d, %v), want (0x2000, %d, %v)", vaddr, size, bytes, len(data), data)
	}

	vaddr, size = exe.UninitDataSegment()
	if vaddr != 0x3000 || size != 256 {
		t.Fatalf("UninitDataSegment = (%#x, %d), want (0x3000, 256)", vaddr, size)
	}
}

func TestParseRejectsBadMagic(t *testing.T) {
	raw := buildNOFF(nil, nil)
	raw[0] = 0xff
	if _, err := Parse(raw); err == nil {
		t.Fatal("expected error for corrupted magic")
	}
}

func TestParseRejectsTruncatedHeader(t *testing.T) {
	if _, err := Parse(make([]byte, 4)); err == nil {
		t.Fatal("expected error for truncated header")
	}
}
