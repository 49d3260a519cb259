package riscv

import "testing"

// TestHi20Lo12RoundTrip checks the §8.1 property: sign_extend12(Lo12(v)) + (Hi20(v) << 12) == v.
func TestHi20Lo12RoundTrip(t *testing.T) {
	samples := []int32{0, 1, -1, 0x7ff, -0x800, 0x7fffffff, -0x80000000, 0x12345678, -0x12345678, 4096, -4096}
	for _, v := range samples {
		got := (Hi20(v) << 12) + Lo12(v)
		if got != v {
			t.Errorf("Hi20/Lo12 round-trip failed for %#x: got %#x", v, got)
		}
	}
}

func TestEncodeUType(t *testing.T) {
	// lui x5, 0x12345 -> imm[31:12]=0x12345, rd=5, opcode=0x37
	word := EncodeUType(0x37, 5, 0x12345000)
	want := uint32(0x123452b7)
	if word != want {
		t.Errorf("EncodeUType: got %#x, want %#x", word, want)
	}
}

func TestEncodeIType(t *testing.T) {
	// addi x1, x2, -1 -> opcode=0x13, funct3=0, rd=1, rs1=2, imm=-1
	word := EncodeIType(0x13, 0, 1, 2, -1)
	want := uint32(0xfff10093)
	if word != want {
		t.Errorf("EncodeIType: got %#x, want %#x", word, want)
	}
}

func TestEncodeJTypeRoundTrip(t *testing.T) {
	word := EncodeJType(0x6f, 1, 4094) // jal ra, +4094
	imm20 := (word >> 31) & 0x1
	imm101 := (word >> 21) & 0x3ff
	imm11 := (word >> 20) & 0x1
	imm1912 := (word >> 12) & 0xff
	decoded := int32(imm20<<20 | imm1912<<12 | imm11<<11 | imm101<<1)
	decoded = signExtend(decoded, 21)
	if decoded != 4094 {
		t.Errorf("EncodeJType round-trip: got %d, want 4094", decoded)
	}
}

func TestFitsSignedUnsigned(t *testing.T) {
	if !fitsSigned(-2048, 12) || fitsSigned(-2049, 12) {
		t.Errorf("fitsSigned boundary wrong for 12 bits")
	}
	if !fitsSigned(2047, 12) || fitsSigned(2048, 12) {
		t.Errorf("fitsSigned upper boundary wrong for 12 bits")
	}
	if !fitsUnsigned(4095, 12) || fitsUnsigned(4096, 12) || fitsUnsigned(-1, 12) {
		t.Errorf("fitsUnsigned boundary wrong for 12 bits")
	}
}

func TestEncodeCBImmBoundary(t *testing.T) {
	// A zero displacement should scatter to all-zero immediate bits.
	if encodeCBImm(0) != 0 {
		t.Errorf("encodeCBImm(0) = %#x, want 0", encodeCBImm(0))
	}
}
