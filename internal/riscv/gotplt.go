package riscv

import "encoding/binary"

// PLT/GOT synthesis (§4.D), grounded on the teacher's plt_got.go and
// pltgot_rv64.go stub — generalized from "always emit the generic
// trampoline" to a two-shape choice (non-CHERI ABI-parameterized
// trampoline vs CHERI trapping-padding header) plus a parameterized
// per-symbol entry.

// PltEntrySize is the size in bytes of one PLT entry after the header.
const PltEntrySize = 16

// pltHeaderInsns is the eight-instruction, non-CHERI PLT[0] trampoline:
//
//	auipc t2, %pcrel_hi(.got.plt)
//	sub   t1, t1, t3
//	l[w|d] t3, %pcrel_lo(1b)(t2)
//	addi  t1, t1, -(header size+12)
//	addi  t0, t2, %pcrel_lo(1b)
//	srli  t1, t1, (WordSize==8 ? 1 : 2)
//	l[w|d] t0, WordSize(t0)
//	jr    t3
var pltHeaderInsns = []uint32{
	0x00000397, // auipc t2, 0          (hi20 patched below)
	0x41c30333, // sub   t1, t1, t3
	0x0003be03, // l[w|d] t3, 0(t2)     (lo12 + width patched below)
	0xfd430313, // addi  t1, t1, -44    (rewritten below)
	0x00038293, // addi  t0, t2, 0      (lo12 patched below)
	0x00135313, // srli  t1, t1, 1      (shift amount patched below)
	0x0002b283, // l[w|d] t0, 0(t0)     (width patched below)
	0x000e0067, // jr    t3
}

// WriteGotPlt writes the two reserved .got.plt header slots required
// by §4.D: slot 0 is reserved for the dynamic linker (left zero here;
// an external loader/relocator populates it at load time), slot 1
// identifies the owning link map (likewise left to the loader).
func WriteGotPlt(gotPlt []byte, wordSize int) {
	for i := 0; i < 2*wordSize && i < len(gotPlt); i++ {
		gotPlt[i] = 0
	}
}

// WriteGotHeader writes .got[0] = the virtual address of _DYNAMIC, per
// §4.D.
func WriteGotHeader(got []byte, wordSize int, dynamicVA uint64) {
	if wordSize == 8 {
		binary.LittleEndian.PutUint64(got, dynamicVA)
	} else {
		binary.LittleEndian.PutUint32(got, uint32(dynamicVA))
	}
}

// WritePltHeader emits PLT[0]. For the CHERI ABI it writes trapping
// zero padding instead of the trampoline, since CHERI lazy binding is
// deferred (§4.D); for the non-CHERI ABI it emits the eight-instruction
// trampoline parameterized on the header size and WordSize.
func WritePltHeader(buf []byte, pltVA, gotPltVA uint64, wordSize int, isCheriAbi bool) {
	if isCheriAbi {
		for i := range buf {
			buf[i] = 0 // illegal/trapping instruction encoding: all-zero word traps on RISC-V
		}
		return
	}

	insns := make([]uint32, len(pltHeaderInsns))
	copy(insns, pltHeaderInsns)

	disp := int32(int64(gotPltVA) - int64(pltVA))
	hi := Hi20(disp)
	lo := int32(int64(disp) - int64(hi)<<12)

	insns[0] = EncodeUType(0x17, 7 /* t2 */, uint32(hi)<<12) // auipc t2, hi20

	loadFunct3 := uint32(0x2) // lw
	storeWidthConst := int32(-(len(pltHeaderInsns)*4 + 12))
	shiftAmt := uint32(2)
	if wordSize == 8 {
		loadFunct3 = 0x3 // ld
		shiftAmt = 1
	}
	insns[2] = EncodeIType(0x03, loadFunct3, 28 /* t3 */, 7 /* t2 */, lo)
	insns[3] = EncodeIType(0x13, 0x0, 6 /* t1 */, 6 /* t1 */, storeWidthConst)
	insns[4] = EncodeIType(0x13, 0x0, 5 /* t0 */, 7 /* t2 */, lo)
	insns[5] = EncodeIType(0x13, 0x5, 6 /* t1 */, 6 /* t1 */, int32(shiftAmt))
	insns[6] = EncodeIType(0x03, loadFunct3, 5 /* t0 */, 5 /* t0 */, int32(wordSize))

	for i, w := range insns {
		binary.LittleEndian.PutUint32(buf[i*4:], w)
	}
}

// WritePlt emits one non-header, non-CHERI PLT entry: an AUIPC/load
// pair loading the .got.plt slot, then a jump through t3 and a padding
// nop.
//
//	auipc t3, %pcrel_hi(.got.plt entry)
//	l[w|d] t3, %pcrel_lo(1b)(t3)
//	jalr  t1, t3
//	nop
func WritePlt(buf []byte, pltEntryVA, gotPltSlotVA uint64, wordSize int) {
	disp := int32(int64(gotPltSlotVA) - int64(pltEntryVA))
	hi := Hi20(disp)
	lo := int32(int64(disp) - int64(hi)<<12)

	loadFunct3 := uint32(0x2)
	if wordSize == 8 {
		loadFunct3 = 0x3
	}

	insns := [4]uint32{
		EncodeUType(0x17, 28 /* t3 */, uint32(hi)<<12),
		EncodeIType(0x03, loadFunct3, 28 /* t3 */, 28 /* t3 */, lo),
		EncodeIType(0x67, 0x0, 6 /* t1 */, 28 /* t3 */, 0),
		0x00000013, // nop
	}
	for i, w := range insns {
		binary.LittleEndian.PutUint32(buf[i*4:], w)
	}
}
