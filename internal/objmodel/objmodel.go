// Package objmodel holds the minimal object-file data model that the
// RISC-V linker backend consumes. ELF parsing, the global symbol
// table, and output-section layout are external collaborators — this
// package only defines the shapes the backend needs from them, in the
// spirit of the Section/Sym split in aclements-go-obj's ELF reader
// (debug/elf-backed, per-architecture relocation tables).
package objmodel

import "fmt"

// RelType is the closed enumeration of relocation kinds the backend
// understands. Values are a local sequence in declaration order; they
// are not the psABI's r_info numbers (RBranch is 5 here, 16 there).
type RelType uint32

const (
	RNone RelType = iota
	R32
	R64
	RRelative
	RIRelative
	RBranch
	RJal
	RCall
	RCallPlt
	RPcrelHi20
	RPcrelLo12I
	RPcrelLo12S
	RGotHi20
	RTlsGotHi20
	RTlsGdHi20
	RHi20
	RLo12I
	RLo12S
	RTprelHi20
	RTprelLo12I
	RTprelLo12S
	RTprelAdd
	RAdd8
	RAdd16
	RAdd32
	RAdd64
	RSub8
	RSub16
	RSub32
	RSub64
	RSub6
	RSet6
	RSet8
	RSet16
	RSet32
	RAlign
	RRvcBranch
	RRvcJump
	RRvcLui
	RRelax
	RJumpSlot
	RTlsDtpmod32
	RTlsDtpmod64
	RTlsDtprel32
	RTlsDtprel64
	RTlsTprel32
	RTlsTprel64
	// CHERI capability relocations.
	RCheriCapability
	RCheriCaptabPcrelHi20
	RCheriTlsIeCaptab
	RCheriTlsGdCaptab
	RCheriCjal
	RCheriCcall
	RCheriRvcCjump
	// CHERIoT compartment relocations.
	RCheriotCompartmentHi
	RCheriotCompartmentLoI
	RCheriotCompartmentLoS
	RCheriotCompartmentSize
)

var relTypeNames = map[RelType]string{
	RNone:                   "R_RISCV_NONE",
	R32:                     "R_RISCV_32",
	R64:                     "R_RISCV_64",
	RRelative:               "R_RISCV_RELATIVE",
	RIRelative:              "R_RISCV_IRELATIVE",
	RBranch:                 "R_RISCV_BRANCH",
	RJal:                    "R_RISCV_JAL",
	RCall:                   "R_RISCV_CALL",
	RCallPlt:                "R_RISCV_CALL_PLT",
	RPcrelHi20:              "R_RISCV_PCREL_HI20",
	RPcrelLo12I:             "R_RISCV_PCREL_LO12_I",
	RPcrelLo12S:             "R_RISCV_PCREL_LO12_S",
	RGotHi20:                "R_RISCV_GOT_HI20",
	RTlsGotHi20:             "R_RISCV_TLS_GOT_HI20",
	RTlsGdHi20:              "R_RISCV_TLS_GD_HI20",
	RHi20:                   "R_RISCV_HI20",
	RLo12I:                  "R_RISCV_LO12_I",
	RLo12S:                  "R_RISCV_LO12_S",
	RTprelHi20:              "R_RISCV_TPREL_HI20",
	RTprelLo12I:             "R_RISCV_TPREL_LO12_I",
	RTprelLo12S:             "R_RISCV_TPREL_LO12_S",
	RTprelAdd:               "R_RISCV_TPREL_ADD",
	RAdd8:                   "R_RISCV_ADD8",
	RAdd16:                  "R_RISCV_ADD16",
	RAdd32:                  "R_RISCV_ADD32",
	RAdd64:                  "R_RISCV_ADD64",
	RSub8:                   "R_RISCV_SUB8",
	RSub16:                  "R_RISCV_SUB16",
	RSub32:                  "R_RISCV_SUB32",
	RSub64:                  "R_RISCV_SUB64",
	RSub6:                   "R_RISCV_SUB6",
	RSet6:                   "R_RISCV_SET6",
	RSet8:                   "R_RISCV_SET8",
	RSet16:                  "R_RISCV_SET16",
	RSet32:                  "R_RISCV_SET32",
	RAlign:                  "R_RISCV_ALIGN",
	RRvcBranch:              "R_RISCV_RVC_BRANCH",
	RRvcJump:                "R_RISCV_RVC_JUMP",
	RRvcLui:                 "R_RISCV_RVC_LUI",
	RRelax:                  "R_RISCV_RELAX",
	RJumpSlot:               "R_RISCV_JUMP_SLOT",
	RTlsDtpmod32:            "R_RISCV_TLS_DTPMOD32",
	RTlsDtpmod64:            "R_RISCV_TLS_DTPMOD64",
	RTlsDtprel32:            "R_RISCV_TLS_DTPREL32",
	RTlsDtprel64:            "R_RISCV_TLS_DTPREL64",
	RTlsTprel32:             "R_RISCV_TPREL32",
	RTlsTprel64:             "R_RISCV_TPREL64",
	RCheriCapability:        "R_RISCV_CHERI_CAPABILITY",
	RCheriCaptabPcrelHi20:   "R_RISCV_CHERI_CAPTAB_PCREL_HI20",
	RCheriTlsIeCaptab:       "R_RISCV_TLS_IE_CAPTAB",
	RCheriTlsGdCaptab:       "R_RISCV_TLS_GD_CAPTAB",
	RCheriCjal:              "R_RISCV_CHERI_CJAL",
	RCheriCcall:             "R_RISCV_CHERI_CCALL",
	RCheriRvcCjump:          "R_RISCV_CHERI_RVC_CJUMP",
	RCheriotCompartmentHi:   "R_RISCV_CHERIOT_COMPARTMENT_HI",
	RCheriotCompartmentLoI:  "R_RISCV_CHERIOT_COMPARTMENT_LO_I",
	RCheriotCompartmentLoS:  "R_RISCV_CHERIOT_COMPARTMENT_LO_S",
	RCheriotCompartmentSize: "R_RISCV_CHERIOT_COMPARTMENT_SIZE",
}

// String implements fmt.Stringer, following the pattern of
// elf.R_X86_64.String() in the standard library's debug/elf package.
func (t RelType) String() string {
	if s, ok := relTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("R_RISCV_UNKNOWN(%d)", uint32(t))
}

// SymBinding captures just enough about a symbol's section affinity
// for anchor bookkeeping and capability-relative classification.
type SymBinding int

const (
	// SymRegular is a symbol defined in an ordinary (possibly
	// executable) section.
	SymRegular SymBinding = iota
	// SymAbsolute is an absolute symbol with no section.
	SymAbsolute
	// SymUndefined is undefined in this link (resolved elsewhere;
	// the core never reaches this case for defined-symbol anchors).
	SymUndefined
)

// Section is the minimal shape of an input section the backend reads
// and (for executable sections) rewrites in place during relaxation.
type Section struct {
	Name       string
	File       string // owning object file, for diagnostics
	Executable bool
	Addr       uint64 // virtual address once assigned
	RawData    []byte
	Relocs     []*Relocation

	// Relax is non-nil only while relaxation is active for this
	// section (see internal/riscv.RelaxAux).
	Relax any
}

// Symbol is the minimal capability set §3 of the specification
// requires: a stable name, a virtual address, a section binding, a
// size, and a flag distinguishing text-section definitions (which get
// anchor bookkeeping during relaxation).
type Symbol struct {
	Name      string
	Value     uint64
	Size      uint64
	Binding   SymBinding
	Section   *Section
	IsFunc    bool // STT_FUNC or similar — eligible for anchor tracking
	PCRelCap  bool // true if capability-relative addressing for this symbol is PC-relative (vs CGP-relative)
	PLTVA     uint64
	GotVA     uint64
	CaptabIdx int // index into the capability table, -1 if none
}

// Relocation is the tuple (offset within section, kind, target
// symbol, addend) from §3. The expression class is not stored on the
// record; riscv.GetRelExpr computes it from Type (and Sym) on demand.
type Relocation struct {
	Offset int64
	Type   RelType
	Sym    *Symbol
	Addend int64
}

// String renders a relocation for diagnostics: "<type>@+<offset>(<symbol>+<addend>)".
func (r *Relocation) String() string {
	name := "<nil>"
	if r.Sym != nil {
		name = r.Sym.Name
	}
	return fmt.Sprintf("%s@+0x%x(%s+%#x)", r.Type, r.Offset, name, r.Addend)
}
