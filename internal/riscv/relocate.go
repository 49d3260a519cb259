package riscv

import (
	"encoding/binary"
	"fmt"

	"github.com/xyproto/rvld/internal/diag"
	"github.com/xyproto/rvld/internal/objmodel"
)

// rangeError formats the out-of-range diagnostics §4.C requires for
// every failed check, anchored at the relocation's location.
func rangeError(loc diag.Location, rel *objmodel.Relocation, kind string, v int64) error {
	return fmt.Errorf("%s: %s relocation value %#x out of range at %s", loc, kind, v, rel)
}

func checkInt(loc diag.Location, rel *objmodel.Relocation, v int64, bits uint) error {
	if !fitsSigned(v, bits) {
		return rangeError(loc, rel, fmt.Sprintf("signed%d", bits), v)
	}
	return nil
}

func checkUInt(loc diag.Location, rel *objmodel.Relocation, v int64, bits uint) error {
	if !fitsUnsigned(v, bits) {
		return rangeError(loc, rel, fmt.Sprintf("unsigned%d", bits), v)
	}
	return nil
}

func checkAlignment(loc diag.Location, rel *objmodel.Relocation, v int64, align int64) error {
	if v%align != 0 {
		return fmt.Errorf("%s: misaligned relocation value %#x (need multiple of %d) at %s", loc, v, align, rel)
	}
	return nil
}

func readLE32(data []byte, off int64) uint32 {
	return binary.LittleEndian.Uint32(data[off:])
}

func writeLE32(data []byte, off int64, v uint32) {
	binary.LittleEndian.PutUint32(data[off:], v)
}

func readLE16(data []byte, off int64) uint16 {
	return binary.LittleEndian.Uint16(data[off:])
}

func writeLE16(data []byte, off int64, v uint16) {
	binary.LittleEndian.PutUint16(data[off:], v)
}

// Relocate applies a single relocation's computed value to the bytes
// at rel.Offset within data, per the per-kind contracts of §4.C. val
// is the value the outer framework computed from rel's ExprClass
// (S+A, S+A-P, PLT(S)+A-P, ...); Relocate itself never resolves
// symbols or recomputes expression classes.
func Relocate(col *diag.Collector, loc diag.Location, data []byte, rel *objmodel.Relocation, val int64, isCheriAbi bool) error {
	off := rel.Offset

	switch rel.Type {
	case objmodel.RNone, objmodel.RAlign, objmodel.RRelax:
		return nil

	case objmodel.R32, objmodel.RRelative:
		writeLE32(data, off, uint32(val))
		return nil

	case objmodel.R64, objmodel.RIRelative:
		binary.LittleEndian.PutUint64(data[off:], uint64(val))
		return nil

	case objmodel.RAdd8:
		data[off] += byte(val)
		return nil
	case objmodel.RAdd16:
		writeLE16(data, off, readLE16(data, off)+uint16(val))
		return nil
	case objmodel.RAdd32:
		writeLE32(data, off, readLE32(data, off)+uint32(val))
		return nil
	case objmodel.RAdd64:
		binary.LittleEndian.PutUint64(data[off:], binary.LittleEndian.Uint64(data[off:])+uint64(val))
		return nil
	case objmodel.RSub8:
		data[off] -= byte(val)
		return nil
	case objmodel.RSub16:
		writeLE16(data, off, readLE16(data, off)-uint16(val))
		return nil
	case objmodel.RSub32:
		writeLE32(data, off, readLE32(data, off)-uint32(val))
		return nil
	case objmodel.RSub64:
		binary.LittleEndian.PutUint64(data[off:], binary.LittleEndian.Uint64(data[off:])-uint64(val))
		return nil

	case objmodel.RSub6:
		cur := data[off]
		data[off] = (cur & 0xc0) | byte((cur&0x3f)-byte(val))&0x3f
		return nil
	case objmodel.RSet6:
		cur := data[off]
		data[off] = (cur & 0xc0) | byte(val)&0x3f
		return nil
	case objmodel.RSet8:
		data[off] = byte(val)
		return nil
	case objmodel.RSet16:
		writeLE16(data, off, uint16(val))
		return nil
	case objmodel.RSet32:
		writeLE32(data, off, uint32(val))
		return nil

	case objmodel.RBranch:
		if err := checkAlignment(loc, rel, val, 2); err != nil {
			return err
		}
		if err := checkInt(loc, rel, val/2, 12); err != nil {
			return err
		}
		word := readLE32(data, off)&0x1FFF07F | EncodeBType(0, 0, 0, 0, int32(val))
		writeLE32(data, off, word)
		return nil

	case objmodel.RJal, objmodel.RCheriCjal:
		if err := checkAlignment(loc, rel, val, 2); err != nil {
			return err
		}
		if err := checkInt(loc, rel, val/2, 20); err != nil {
			return err
		}
		word := readLE32(data, off)&0xFFF | EncodeJType(0, 0, int32(val))
		writeLE32(data, off, word)
		return nil

	case objmodel.RRvcBranch:
		if err := checkAlignment(loc, rel, val, 2); err != nil {
			return err
		}
		if err := checkInt(loc, rel, val/2, 8); err != nil {
			return err
		}
		word := readLE16(data, off)&0xE383 | encodeCBImm(int32(val))
		writeLE16(data, off, word)
		return nil

	case objmodel.RRvcJump, objmodel.RCheriRvcCjump:
		if err := checkAlignment(loc, rel, val, 2); err != nil {
			return err
		}
		if err := checkInt(loc, rel, val/2, 11); err != nil {
			return err
		}
		word := readLE16(data, off)&0xE003 | encodeCJImm(int32(val))
		writeLE16(data, off, word)
		return nil

	case objmodel.RRvcLui:
		hi := Hi20(int32(val))
		if hi == 0 {
			// Illegal-encoding workaround: c.lui rd,0 is illegal, so
			// rewrite to c.li rd, 0 instead.
			word := readLE16(data, off)
			rd := (word >> 7) & 0x1f
			writeLE16(data, off, 0x4001|uint16(rd<<7))
			return nil
		}
		// c.lui only carries 6 bits of payload (imm[17] and imm[16:12]);
		// everything above bit 5 of hi must be the sign extension of
		// bit 5, so the range check is 6 bits, not 17.
		if err := checkInt(loc, rel, int64(hi), 6); err != nil {
			return err
		}
		imm17 := (uint32(hi) >> 5) & 0x1
		imm1612 := uint32(hi) & 0x1f
		word := readLE16(data, off)&0xEF83 | uint16(imm17)<<12 | uint16(imm1612)<<2
		writeLE16(data, off, word)
		return nil

	case objmodel.RPcrelHi20, objmodel.RGotHi20, objmodel.RTlsGotHi20, objmodel.RTlsGdHi20,
		objmodel.RHi20, objmodel.RTprelHi20, objmodel.RCheriCaptabPcrelHi20,
		objmodel.RCheriTlsIeCaptab, objmodel.RCheriTlsGdCaptab:
		hi := Hi20(int32(val))
		if err := checkInt(loc, rel, int64(hi), 20); err != nil {
			return err
		}
		word := readLE32(data, off)&0xFFF | (uint32(hi)<<12)&0xFFFFF000
		writeLE32(data, off, word)
		return nil

	case objmodel.RPcrelLo12I, objmodel.RLo12I, objmodel.RTprelLo12I:
		lo := val - int64(Hi20(int32(val)))<<12
		word := readLE32(data, off)&0xFFFFF | (uint32(lo)&0xfff)<<20
		writeLE32(data, off, word)
		return nil

	case objmodel.RPcrelLo12S, objmodel.RLo12S, objmodel.RTprelLo12S:
		lo := int32(val - int64(Hi20(int32(val)))<<12)
		word := readLE32(data, off)&0x1FFF07F | EncodeSType(0, 0, 0, 0, lo)
		writeLE32(data, off, word)
		return nil

	case objmodel.RTprelAdd:
		return nil

	case objmodel.RCall, objmodel.RCallPlt, objmodel.RCheriCcall:
		hi := Hi20(int32(val))
		if err := checkInt(loc, rel, int64(hi), 20); err != nil {
			return err
		}
		hiWord := readLE32(data, off)&0xFFF | (uint32(hi)<<12)&0xFFFFF000
		writeLE32(data, off, hiWord)
		lo := val - (int64(hi) << 12)
		loWord := readLE32(data, off+4)&0xFFFFF | (uint32(lo)&0xfff)<<20
		writeLE32(data, off+4, loWord)
		return nil

	case objmodel.RTlsDtprel32:
		if !isCheriAbi {
			val -= 0x800
		}
		writeLE32(data, off, uint32(val))
		return nil
	case objmodel.RTlsDtprel64:
		if !isCheriAbi {
			val -= 0x800
		}
		binary.LittleEndian.PutUint64(data[off:], uint64(val))
		return nil

	case objmodel.RTlsDtpmod32:
		writeLE32(data, off, uint32(val))
		return nil
	case objmodel.RTlsDtpmod64:
		binary.LittleEndian.PutUint64(data[off:], uint64(val))
		return nil
	case objmodel.RTlsTprel32:
		writeLE32(data, off, uint32(val))
		return nil
	case objmodel.RTlsTprel64:
		binary.LittleEndian.PutUint64(data[off:], uint64(val))
		return nil

	case objmodel.RJumpSlot:
		binary.LittleEndian.PutUint64(data[off:], uint64(val))
		return nil

	case objmodel.RCheriCapability:
		// Delegated to the framework: writes a capability-sized
		// tagged slot the core doesn't model.
		return nil

	case objmodel.RCheriotCompartmentHi:
		return relocateCompartmentHi(loc, rel, data, off, val)

	case objmodel.RCheriotCompartmentLoI:
		return relocateCompartmentLoI(loc, rel, data, off, val)

	case objmodel.RCheriotCompartmentLoS:
		return relocateCompartmentLoS(loc, rel, data, off, val)

	case objmodel.RCheriotCompartmentSize:
		if err := checkUInt(loc, rel, val, 12); err != nil {
			return err
		}
		word := readLE32(data, off)&0xFFFFF | (uint32(val)&0xfff)<<20
		writeLE32(data, off, word)
		return nil

	default:
		col.Errorf(diag.CategoryMalformedReloc, loc, "unreachable relocation kind %s in applier", rel.Type)
		return fmt.Errorf("%s: unreachable relocation kind %s", loc, rel.Type)
	}
}

// relocateCompartmentHi applies CHERIOT_COMPARTMENT_HI: it writes the
// upper immediate, with the negative-PC-relative rounding rule. It does
// not choose between AUIPCC and AUICGP, and does not check the opcode:
// the opcode and rd bits already in the word are kept as they are.
func relocateCompartmentHi(loc diag.Location, rel *objmodel.Relocation, data []byte, off int64, val int64) error {
	pcRelative := rel.Sym != nil && rel.Sym.PCRelCap
	v := val
	if pcRelative && v < 0 {
		v = (v + 2048) >> 11
	} else {
		v = v >> 11
	}
	if err := checkInt(loc, rel, v, 20); err != nil {
		return err
	}
	word := readLE32(data, off)&0xFFF | (uint32(v)<<12)&0xFFFFF000
	// Bits 0-11 (opcode and rd) are preserved unchanged.
	writeLE32(data, off, word)
	return nil
}

// relocateCompartmentLoI implements COMPARTMENT_LO_I: a 14-bit
// two's-complement lo value (bit 11 replicated when negative), unless
// the paired hi20 alone reaches the target, in which case lo12 is
// forced to zero.
func relocateCompartmentLoI(loc diag.Location, rel *objmodel.Relocation, data []byte, off int64, val int64) error {
	hiReachesTarget := val>>11<<11 == val
	var lo int64
	if !hiReachesTarget {
		lo = val & 0xfff
		if val < 0 {
			lo |= 0x800
		}
	}
	if err := checkInt(loc, rel, lo, 12); err != nil {
		return err
	}
	word := readLE32(data, off)&0xFFFFF | (uint32(lo)&0xfff)<<20
	writeLE32(data, off, word)
	return nil
}

// relocateCompartmentLoS splits the same lo value as
// relocateCompartmentLoI into S-type store-immediate fields.
func relocateCompartmentLoS(loc diag.Location, rel *objmodel.Relocation, data []byte, off int64, val int64) error {
	hiReachesTarget := val>>11<<11 == val
	var lo int64
	if !hiReachesTarget {
		lo = val & 0xfff
		if val < 0 {
			lo |= 0x800
		}
	}
	if err := checkInt(loc, rel, lo, 12); err != nil {
		return err
	}
	word := readLE32(data, off)&0x1FFF07F | EncodeSType(0, 0, 0, 0, int32(lo))
	writeLE32(data, off, word)
	return nil
}
