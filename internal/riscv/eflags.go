package riscv

import "github.com/xyproto/rvld/internal/diag"

// EFlags bit layout, matching the psABI's e_flags for EM_RISCV.
const (
	EFRvcFlag        uint32 = 1 << 0 // RVC: any input used compressed instructions
	EFFloatAbiMask   uint32 = 0x6    // bits 1-2
	EFFloatAbiSoft   uint32 = 0x0 << 1
	EFFloatAbiSingle uint32 = 0x1 << 1
	EFFloatAbiDouble uint32 = 0x2 << 1
	EFFloatAbiQuad   uint32 = 0x3 << 1
	EFRve            uint32 = 1 << 3 // RV32E base ISA
	EFTso            uint32 = 1 << 4 // total store order
	EFCheriAbi       uint32 = 1 << 5 // CHERI pure-capability ABI in effect
	EFCapMode        uint32 = 1 << 6 // capability-mode code
)

// CalcEFlags merges per-object eflags per §4.E: RVC ORs across every
// input (any object using compressed instructions makes the whole
// link RVC); FLOAT_ABI, RVE, CHERIABI, and CAP_MODE must agree exactly
// across every object that defines them, else the link is rejected as
// an incompatible-input diagnostic. An empty input set yields eflags
// zero, matching the teacher's empty-aggregate convention in its own
// merge helpers.
func CalcEFlags(col *diag.Collector, objEFlags []uint32, objNames []string) uint32 {
	if len(objEFlags) == 0 {
		return 0
	}

	merged := objEFlags[0]
	for i := 1; i < len(objEFlags); i++ {
		f := objEFlags[i]
		merged |= f & EFRvcFlag

		if f&EFFloatAbiMask != merged&EFFloatAbiMask {
			col.Errorf(diag.CategoryIncompatibleInput, diag.Location{Object: objNames[i]},
				"floating-point ABI %#x of %s conflicts with %#x established by %s",
				f&EFFloatAbiMask, objNames[i], merged&EFFloatAbiMask, objNames[0])
		}
		if f&EFRve != merged&EFRve {
			col.Errorf(diag.CategoryIncompatibleInput, diag.Location{Object: objNames[i]},
				"%s mixes RV32E and non-RV32E objects", objNames[i])
		}
		if f&EFCheriAbi != merged&EFCheriAbi {
			col.Errorf(diag.CategoryIncompatibleInput, diag.Location{Object: objNames[i]},
				"%s mixes CHERI-ABI and non-CHERI-ABI objects", objNames[i])
		}
		if f&EFCapMode != merged&EFCapMode {
			col.Errorf(diag.CategoryIncompatibleInput, diag.Location{Object: objNames[i]},
				"%s mixes capability-mode and non-capability-mode code", objNames[i])
		}
	}
	return merged
}

// CalcIsCheriAbi reports whether the merged eflags select the CHERI
// pure-capability ABI, the single bit the PLT-header and relocation
// appliers branch on throughout §4. Per §4.E/§7.i, it additionally
// errors when the link-wide configuration requires the CHERI ABI but
// no input object actually asserted EF_RISCV_CHERIABI.
func CalcIsCheriAbi(col *diag.Collector, eflags uint32, configCheriAbi bool) bool {
	isCheriAbi := eflags&EFCheriAbi != 0
	if configCheriAbi && !isCheriAbi {
		col.Errorf(diag.CategoryIncompatibleInput, diag.Location{},
			"link is configured for the CHERI ABI but no input object asserts EF_RISCV_CHERIABI")
	}
	return isCheriAbi
}
