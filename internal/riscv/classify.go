package riscv

import (
	"fmt"

	"github.com/xyproto/rvld/internal/linkctx"
	"github.com/xyproto/rvld/internal/objmodel"
)

// ExprClass is the abstract "what value to compute" tag the
// classifier (§4.B) attaches to a relocation before the surrounding
// framework resolves the symbol and this package's Relocate (§4.C)
// patches bytes.
type ExprClass int

const (
	ExprNone ExprClass = iota
	ExprAbs
	ExprPC
	ExprPltPC
	ExprGotPC
	ExprPcIndirect
	ExprTlsGdPC
	ExprTpRel
	ExprCheriCapability
	ExprCheriCaptabPC
	ExprCheriotCGPRel
	ExprRelaxHint
)

// GetRelExpr classifies a relocation into an ExprClass, the total
// function from kind to expression class required by §4.B and named
// by the polymorphic target interface in §9 (getRelExpr). Unknown
// kinds are user errors reported at the relocation's location, per
// §4.B and §7.ii.
func GetRelExpr(ctx *linkctx.Context, rel *objmodel.Relocation) (ExprClass, error) {
	switch rel.Type {
	case objmodel.RNone, objmodel.RAlign,
		objmodel.RAdd8, objmodel.RAdd16, objmodel.RAdd32, objmodel.RAdd64,
		objmodel.RSub8, objmodel.RSub16, objmodel.RSub32, objmodel.RSub64,
		objmodel.RSub6, objmodel.RSet6, objmodel.RSet8, objmodel.RSet16, objmodel.RSet32:
		return ExprNone, nil

	case objmodel.R32, objmodel.R64, objmodel.RHi20, objmodel.RLo12I, objmodel.RLo12S,
		objmodel.RRvcLui,
		objmodel.RTlsDtpmod32, objmodel.RTlsDtpmod64, objmodel.RTlsDtprel32, objmodel.RTlsDtprel64:
		return ExprAbs, nil

	case objmodel.RBranch, objmodel.RJal, objmodel.RCall,
		objmodel.RPcrelHi20, objmodel.RRvcBranch, objmodel.RRvcJump,
		objmodel.RCheriCjal, objmodel.RCheriCcall, objmodel.RCheriRvcCjump:
		return ExprPC, nil

	case objmodel.RCallPlt:
		return ExprPltPC, nil

	case objmodel.RGotHi20:
		return ExprGotPC, nil

	case objmodel.RTlsGotHi20:
		// Side effect per §4.B: a link-wide flag constrains later
		// dynamic-tag emission, which lives outside this core.
		ctx.MarkStaticTLSModel()
		return ExprGotPC, nil

	case objmodel.RTlsGdHi20:
		return ExprTlsGdPC, nil

	case objmodel.RTprelHi20, objmodel.RTprelLo12I, objmodel.RTprelLo12S, objmodel.RTprelAdd,
		objmodel.RTlsTprel32, objmodel.RTlsTprel64:
		return ExprTpRel, nil

	case objmodel.RPcrelLo12I, objmodel.RPcrelLo12S:
		// §4.B: lookup the paired hi20 at the location pointed to by
		// the symbol and reuse its value.
		return ExprPcIndirect, nil

	case objmodel.RCheriCapability:
		return ExprCheriCapability, nil

	case objmodel.RCheriCaptabPcrelHi20, objmodel.RCheriTlsIeCaptab, objmodel.RCheriTlsGdCaptab:
		return ExprCheriCaptabPC, nil

	case objmodel.RCheriotCompartmentHi:
		// §4.B: branches on the symbol, the reason for the
		// CHERIoT low-reloc pre-pass in §4.G.
		if rel.Sym != nil && rel.Sym.PCRelCap {
			return ExprPC, nil
		}
		return ExprCheriotCGPRel, nil

	case objmodel.RCheriotCompartmentLoI, objmodel.RCheriotCompartmentLoS, objmodel.RCheriotCompartmentSize:
		return ExprCheriotCGPRel, nil

	case objmodel.RRelax:
		if ctx.Config.Relax {
			return ExprRelaxHint, nil
		}
		// §7: degrades silently to None when relaxation is disabled.
		return ExprNone, nil

	case objmodel.RRelative, objmodel.RIRelative, objmodel.RJumpSlot:
		return ExprAbs, nil

	default:
		name := "<nil>"
		if rel.Sym != nil {
			name = rel.Sym.Name
		}
		return ExprNone, fmt.Errorf("unknown relocation kind %s at offset %#x against symbol %q", rel.Type, rel.Offset, name)
	}
}
