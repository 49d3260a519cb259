package riscv

import (
	"encoding/binary"
	"testing"
)

func TestWriteGotHeader64(t *testing.T) {
	got := make([]byte, 8)
	WriteGotHeader(got, 8, 0xdeadbeefcafe0000)
	if v := binary.LittleEndian.Uint64(got); v != 0xdeadbeefcafe0000 {
		t.Errorf("WriteGotHeader: got %#x, want %#x", v, uint64(0xdeadbeefcafe0000))
	}
}

func TestWriteGotPltReservedSlotsAreZero(t *testing.T) {
	buf := make([]byte, 16)
	for i := range buf {
		buf[i] = 0xff
	}
	WriteGotPlt(buf, 8)
	for i := 0; i < 16; i++ {
		if buf[i] != 0 {
			t.Fatalf("WriteGotPlt: byte %d not cleared, got %#x", i, buf[i])
		}
	}
}

func TestWritePltHeaderCheriAbiTraps(t *testing.T) {
	buf := make([]byte, 32)
	for i := range buf {
		buf[i] = 0xff
	}
	WritePltHeader(buf, 0x1000, 0x2000, 8, true)
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("CHERI PLT header byte %d = %#x, want 0 (trapping padding)", i, b)
		}
	}
}

func TestWritePltHeaderNonCheriEmitsTrampoline(t *testing.T) {
	buf := make([]byte, 32)
	WritePltHeader(buf, 0x1000, 0x2000, 8, false)
	// auipc at offset 0 must have opcode 0x17.
	word := binary.LittleEndian.Uint32(buf[0:4])
	if word&0x7f != 0x17 {
		t.Errorf("PLT header instruction 0 opcode = %#x, want 0x17 (auipc)", word&0x7f)
	}
	// jr t3 at the end must have opcode 0x67 (JALR).
	lastWord := binary.LittleEndian.Uint32(buf[28:32])
	if lastWord&0x7f != 0x67 {
		t.Errorf("PLT header instruction 7 opcode = %#x, want 0x67 (jalr)", lastWord&0x7f)
	}
}

func TestWritePltEntryOpcodes(t *testing.T) {
	buf := make([]byte, 16)
	WritePlt(buf, 0x3000, 0x4000, 8)
	auipc := binary.LittleEndian.Uint32(buf[0:4])
	if auipc&0x7f != 0x17 {
		t.Errorf("PLT entry instruction 0 opcode = %#x, want 0x17 (auipc)", auipc&0x7f)
	}
	jalr := binary.LittleEndian.Uint32(buf[8:12])
	if jalr&0x7f != 0x67 {
		t.Errorf("PLT entry instruction 2 opcode = %#x, want 0x67 (jalr)", jalr&0x7f)
	}
}
