package riscv

import (
	"encoding/binary"
	"sort"

	"github.com/xyproto/rvld/internal/diag"
	"github.com/xyproto/rvld/internal/linkctx"
	"github.com/xyproto/rvld/internal/objmodel"
)

// The relaxation engine (§4.G, §5): an iterative fixed point that
// shrinks CALL/CALL_PLT pairs to compressed or plain jumps, and
// CHERIoT COMPARTMENT_HI/LO_I/LO_S triples to direct CGP-relative
// accesses, whenever an adjacent R_RISCV_RELAX hint says the
// surrounding code tolerates the shorter form. Every shrink is tracked
// as a per-relocation cumulative delta so that symbol values, anchor
// offsets and later relocation offsets can all be rebased in one
// Finalize pass, the same "emit now, patch addresses once layout
// settles" shape as the teacher's codegen/backend split — just run
// to a fixed point instead of once.

// Anchor marks where a function symbol starts or ends within a
// section, so Finalize can report the symbol's new value/size once
// bytes have been removed ahead of it. Anchors are sorted by
// (Offset, End) with starts before ends at the same offset, so a
// zero-length symbol still gets a well-defined (start-delta,
// end-delta) pair instead of ends silently leaking into the next
// symbol's start delta.
type Anchor struct {
	Offset int64
	End    bool
	Sym    *objmodel.Symbol
	Delta  int32 // filled in by RelaxOnce: cumulative bytes removed before Offset
}

// write is a splice applied during Finalize: replace OldLen bytes
// starting at Offset (in original, pre-relaxation coordinates) with
// NewData.
type write struct {
	Offset   int64
	OldLen   int
	NewData  []byte
	RelocIdx int // index into Section.Relocs of the relocation that produced this write
}

// RelaxAux is the per-section relaxation state, attached to
// objmodel.Section.Relax while relaxation is active.
type RelaxAux struct {
	Section *objmodel.Section

	Anchors []Anchor

	// RelocDeltas[i] is the cumulative number of bytes removed from
	// the section strictly before Section.Relocs[i].Offset, as of the
	// most recently completed pass.
	RelocDeltas []int32

	// RelocTypes[i] is the (possibly rewritten) kind for
	// Section.Relocs[i]; relaxation narrows CALL to RVC_JUMP or JAL,
	// and deletes a COMPARTMENT_HI by rewriting it to RNone.
	RelocTypes []objmodel.RelType

	writes []write

	// shrinkByIdx[i] is the net byte count removed by whatever write(s)
	// relocation i has produced, across every pass so far. It persists
	// on aux (not reset per pass) so that once a CALL has narrowed to
	// RVC_JUMP — and so no longer matches the switch case that created
	// the write — later passes still know to keep accounting for its
	// shrink when computing delta for relocations after it.
	shrinkByIdx map[int]int32

	// alignGap tracks the most recently applied gap size for each
	// ALIGN relocation's index, so repeated passes can detect "no
	// further change" instead of appending a fresh write every time.
	alignGap map[int]int64
}

// recordWrite appends a write produced by relocIdx and adds netShrink to
// that relocation's recorded shrink; it never replaces an earlier write.
func (aux *RelaxAux) recordWrite(relocIdx int, w write, netShrink int32) {
	aux.writes = append(aux.writes, w)
	if aux.shrinkByIdx == nil {
		aux.shrinkByIdx = make(map[int]int32)
	}
	aux.shrinkByIdx[relocIdx] += netShrink
}

// replaceWrite is recordWrite's counterpart for relocations (ALIGN) whose
// splice can legitimately need resizing more than once, as earlier
// shrinks change how many bytes of padding remain.
func (aux *RelaxAux) replaceWrite(relocIdx int, w write, netShrink int32) {
	for i := range aux.writes {
		if aux.writes[i].RelocIdx == relocIdx {
			aux.writes[i] = w
			if aux.shrinkByIdx == nil {
				aux.shrinkByIdx = make(map[int]int32)
			}
			aux.shrinkByIdx[relocIdx] = netShrink
			return
		}
	}
	aux.recordWrite(relocIdx, w, netShrink)
}

// InitRelaxAux attaches a fresh RelaxAux to an executable section,
// pushing one start/end anchor pair per function symbol defined in
// it, and seeding RelocTypes from each relocation's original kind.
func InitRelaxAux(ctx *linkctx.Context, sec *objmodel.Section, syms []*objmodel.Symbol) *RelaxAux {
	aux := &RelaxAux{
		Section:     sec,
		RelocDeltas: make([]int32, len(sec.Relocs)),
		RelocTypes:  make([]objmodel.RelType, len(sec.Relocs)),
	}
	for i, r := range sec.Relocs {
		aux.RelocTypes[i] = r.Type
	}
	for _, sym := range syms {
		if sym.Section != sec || !sym.IsFunc {
			continue
		}
		aux.Anchors = append(aux.Anchors, Anchor{Offset: int64(sym.Value), Sym: sym})
		aux.Anchors = append(aux.Anchors, Anchor{Offset: int64(sym.Value + sym.Size), End: true, Sym: sym})
	}
	sort.SliceStable(aux.Anchors, func(i, j int) bool {
		if aux.Anchors[i].Offset != aux.Anchors[j].Offset {
			return aux.Anchors[i].Offset < aux.Anchors[j].Offset
		}
		return !aux.Anchors[i].End && aux.Anchors[j].End
	})
	sec.Relax = aux
	return aux
}

// cheriotLowRelocPrepass implements §4.G's CHERIoT pre-pass: each
// COMPARTMENT_LO_I/LO_S relocation's symbol value is the offset of its
// paired COMPARTMENT_HI instruction (the usual hi20/lo12 pairing
// convention), found here by binary search since relocations are kept
// sorted by offset. The pairing is recorded so relaxCGP can later
// rewrite the low relocation whenever its high relocation is deleted,
// without re-deriving the pairing on every pass.
func cheriotLowRelocPrepass(relocs []*objmodel.Relocation) map[*objmodel.Relocation]*objmodel.Relocation {
	pairs := make(map[*objmodel.Relocation]*objmodel.Relocation)
	for _, r := range relocs {
		if r.Type != objmodel.RCheriotCompartmentLoI && r.Type != objmodel.RCheriotCompartmentLoS {
			continue
		}
		if r.Sym == nil {
			continue
		}
		hiOff := int64(r.Sym.Value)
		idx := sort.Search(len(relocs), func(i int) bool { return relocs[i].Offset >= hiOff })
		if idx < len(relocs) && relocs[idx].Offset == hiOff && relocs[idx].Type == objmodel.RCheriotCompartmentHi {
			pairs[r] = relocs[idx]
		}
	}
	return pairs
}

// RelaxOnce runs a single relaxation pass over sec, per §4.G/§5:
// ALIGN gaps are resized to whatever the current cumulative shrink
// requires, CALL/CALL_PLT pairs followed by a RELAX hint are offered
// to relaxCall, and CHERIoT COMPARTMENT_HI/LO_I/LO_S triples followed
// by a RELAX hint are offered to relaxCGP. It returns whether any
// relocation's encoding or delta changed, the fixed-point signal the
// caller loops on.
func RelaxOnce(ctx *linkctx.Context, aux *RelaxAux, pairs map[*objmodel.Relocation]*objmodel.Relocation) bool {
	relocs := aux.Section.Relocs
	changed := false

	var delta int32
	anchorIdx := 0
	for i, r := range relocs {
		for anchorIdx < len(aux.Anchors) && aux.Anchors[anchorIdx].Offset <= r.Offset {
			aux.Anchors[anchorIdx].Delta = delta
			anchorIdx++
		}
		// aux.RelocDeltas[i] is the cumulative shrink from everything
		// strictly before this relocation's offset, so it must not
		// yet include whatever shrink relocation i itself contributes
		// (added to delta only after the switch below runs). A
		// relocation sharing the previous one's offset (a RELAX hint)
		// gets the same delta.
		if i > 0 && r.Offset == relocs[i-1].Offset {
			aux.RelocDeltas[i] = aux.RelocDeltas[i-1]
		} else {
			aux.RelocDeltas[i] = delta
		}

		switch aux.RelocTypes[i] {
		case objmodel.RAlign:
			want := requiredAlignGap(r.Addend, r.Offset-delta64(delta))
			have := currentAlignGap(relocs, i)
			prev, applied := aux.alignGap[i]
			if !applied {
				prev = have
			}
			if want != prev {
				if aux.alignGap == nil {
					aux.alignGap = make(map[int]int64)
				}
				aux.alignGap[i] = want
				aux.replaceWrite(i, write{Offset: r.Offset, OldLen: int(have), NewData: nopFill(want), RelocIdx: i}, int32(have-want))
				changed = true
			}

		case objmodel.RCall, objmodel.RCallPlt:
			if !hasRelaxHint(relocs, i) {
				continue
			}
			if relaxCall(ctx, r, aux, i, delta) {
				changed = true
			}

		case objmodel.RCheriotCompartmentHi:
			if !hasRelaxHint(relocs, i) {
				continue
			}
			lo := pairedLowRelocs(r, pairs)
			if relaxCGP(ctx, r, lo, aux, i, delta) {
				changed = true
			}
		}

		// Fold in whatever this relocation has shrunk by — across
		// every pass so far, not just this one — before moving on to
		// the next relocation's delta.
		delta += aux.shrinkByIdx[i]
	}
	for ; anchorIdx < len(aux.Anchors); anchorIdx++ {
		aux.Anchors[anchorIdx].Delta = delta
	}
	return changed
}

func delta64(d int32) int64 { return int64(d) }

// hasRelaxHint reports whether the relocation following index i at the
// same offset is an R_RISCV_RELAX, the psABI convention for "this
// instruction sequence may be shortened."
func hasRelaxHint(relocs []*objmodel.Relocation, i int) bool {
	return i+1 < len(relocs) && relocs[i+1].Offset == relocs[i].Offset && relocs[i+1].Type == objmodel.RRelax
}

func pairedLowRelocs(hi *objmodel.Relocation, pairs map[*objmodel.Relocation]*objmodel.Relocation) []*objmodel.Relocation {
	var out []*objmodel.Relocation
	for lo, pairedHi := range pairs {
		if pairedHi == hi {
			out = append(out, lo)
		}
	}
	return out
}

// requiredAlignGap and currentAlignGap compute the NOP padding an
// R_RISCV_ALIGN relocation needs: Addend packs (alignment<<1)|hasExtra
// in the low bits per the psABI, here simplified to Addend holding the
// required alignment directly in bytes and the gap being however many
// bytes bring the post-shrink offset up to that alignment.
func requiredAlignGap(alignment int64, curOffset int64) int64 {
	if alignment <= 1 {
		return 0
	}
	rem := curOffset % alignment
	if rem == 0 {
		return 0
	}
	return alignment - rem
}

func currentAlignGap(relocs []*objmodel.Relocation, i int) int64 {
	if i+1 >= len(relocs) {
		return 0
	}
	return relocs[i+1].Offset - relocs[i].Offset
}

// nopFill builds an n-byte ALIGN gap filling: as many 4-byte `nop`
// encodings (0x00000013, i.e. addi x0, x0, 0) as fit, followed by one
// trailing 2-byte `c.nop` (0x0001) when n isn't a multiple of 4. An
// all-zero gap is not a NOP sequence — it's an illegal encoding that
// traps if control ever falls through it.
func nopFill(n int64) []byte {
	buf := make([]byte, n)
	i := int64(0)
	for ; i+4 <= n; i += 4 {
		binary.LittleEndian.PutUint32(buf[i:], 0x00000013)
	}
	if n-i == 2 {
		binary.LittleEndian.PutUint16(buf[i:], 0x0001)
	}
	return buf
}

// relaxCall implements §4.G's CALL/CALL_PLT narrowing: an
// AUIPC+JALR pair (8 bytes) shrinks to a single `jal` (4 bytes) when
// the displacement fits a 21-bit signed, 2-byte-aligned jump, and
// further to a 2-byte `c.j`/`c.jal` when it fits the RVC 11-bit jump
// range and the call either discards its return address (rd==x0) or
// targets ra (rd==x1, RV32-only c.jal).
func relaxCall(ctx *linkctx.Context, r *objmodel.Relocation, aux *RelaxAux, idx int, deltaSoFar int32) bool {
	data := aux.Section.RawData
	off := r.Offset
	jalrWord := binary.LittleEndian.Uint32(data[off+4:])
	rd := (jalrWord >> 7) & 0x1f

	disp := int64(r.Sym.Value) + r.Addend - (int64(r.Offset) - delta64(deltaSoFar))

	switch {
	case fitsSigned(disp, 12) && rd == 0:
		aux.recordWrite(idx, write{Offset: off, OldLen: 8, NewData: encodeCJump(int32(disp), false), RelocIdx: idx}, 6)
		aux.RelocTypes[idx] = objmodel.RRvcJump
		return true

	case fitsSigned(disp, 12) && rd == 1 && !ctx.Config.Is64:
		aux.recordWrite(idx, write{Offset: off, OldLen: 8, NewData: encodeCJump(int32(disp), true), RelocIdx: idx}, 6)
		aux.RelocTypes[idx] = objmodel.RRvcJump
		return true

	case fitsSigned(disp, 21):
		word := EncodeJType(0x6f, rd, int32(disp))
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, word)
		aux.recordWrite(idx, write{Offset: off, OldLen: 8, NewData: buf, RelocIdx: idx}, 4)
		aux.RelocTypes[idx] = objmodel.RJal
		return true

	default:
		return false
	}
}

// encodeCJump encodes a 2-byte c.j (useRa=false) or c.jal (useRa=true,
// RV32-only) instruction for the given displacement.
func encodeCJump(disp int32, useRa bool) []byte {
	funct3 := uint16(0x5) // c.j
	if useRa {
		funct3 = 0x1 // c.jal
	}
	word := (funct3 << 13) | encodeCJImm(disp) | 0x1
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, word)
	return buf
}

// relaxCGP implements the CHERIoT compartment-globals narrowing: when
// the CGP-relative displacement fits a plain 12-bit signed immediate,
// the AUICGP (4 bytes) is deleted and every paired LO_I/LO_S
// instruction is rewritten in place to address the CGP register
// directly with the full displacement, instead of the temp register
// AUICGP produced.
func relaxCGP(ctx *linkctx.Context, hi *objmodel.Relocation, los []*objmodel.Relocation, aux *RelaxAux, idx int, deltaSoFar int32) bool {
	if hi.Sym == nil || hi.Sym.PCRelCap {
		return false // PC-relative form has no CGP-relative shortcut
	}
	disp := int64(hi.Sym.Value) + hi.Addend
	if !fitsSigned(disp, 12) {
		return false
	}

	aux.recordWrite(idx, write{Offset: hi.Offset, OldLen: 4, NewData: nil, RelocIdx: idx}, 4)
	aux.RelocTypes[idx] = objmodel.RNone

	data := aux.Section.RawData
	const cgpReg = 3 // x3, the CHERIoT compartment-globals-pointer register
	for _, lo := range los {
		word := binary.LittleEndian.Uint32(data[lo.Offset:])
		rewritten := (word &^ (0x1f << 15)) | (cgpReg << 15)
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, rewritten)
		// This low relocation's own bytes shrink by 0 (still 4 bytes,
		// just a different encoding); the AUICGP deletion above is
		// where the section actually gets smaller.
		aux.writes = append(aux.writes, write{Offset: lo.Offset, OldLen: 4, NewData: buf, RelocIdx: idx})
	}
	ctx.Tracef("relaxCGP: deleted AUICGP at +0x%x, rewrote %d low relocation(s) to x%d-relative", hi.Offset, len(los), cgpReg)
	return true
}

// RunToFixedPoint drives RelaxOnce until a pass makes no further
// change, or the configured pass cap is hit — §5/§9(b)'s acknowledgment
// that relaxation termination is not formally guaranteed, so the
// framework must fail loudly rather than silently settle on a stale
// shrink.
func RunToFixedPoint(ctx *linkctx.Context, sec *objmodel.Section, syms []*objmodel.Symbol) *RelaxAux {
	aux := InitRelaxAux(ctx, sec, syms)
	pairs := cheriotLowRelocPrepass(sec.Relocs)

	for pass := 0; ; pass++ {
		if pass >= ctx.Config.MaxRelaxPasses {
			diag.Fatal(diag.Location{Object: sec.File, Section: sec.Name},
				"relaxation did not converge within %d passes", ctx.Config.MaxRelaxPasses)
		}
		if !RelaxOnce(ctx, aux, pairs) {
			break
		}
	}
	return aux
}

// Finalize applies every splice recorded during relaxation, producing
// the shrunk section bytes, rebasing every relocation's Offset by the
// cumulative delta ahead of it, and updating Value/Size of each
// anchored function symbol in place from its anchors' final Delta; it
// returns the new section bytes, which also replace Section.RawData.
// Per §7.iv, a
// section that shrinks by more than 65535 bytes in one link is an
// internal-error condition (far beyond anything a real relaxation
// fixed point should produce) and is reported via diag.Fatal rather
// than silently truncated.
func (aux *RelaxAux) Finalize(col *diag.Collector) []byte {
	sec := aux.Section
	sort.Slice(aux.writes, func(i, j int) bool { return aux.writes[i].Offset < aux.writes[j].Offset })

	out := make([]byte, 0, len(sec.RawData))
	cursor := int64(0)
	var totalShrink int64

	for _, w := range aux.writes {
		out = append(out, sec.RawData[cursor:w.Offset]...)
		out = append(out, w.NewData...)
		totalShrink += int64(w.OldLen - len(w.NewData))
		cursor = w.Offset + int64(w.OldLen)
	}
	out = append(out, sec.RawData[cursor:]...)

	if totalShrink > 65535 {
		diag.Fatal(diag.Location{Object: sec.File, Section: sec.Name},
			"section shrank by %d bytes during relaxation, exceeding the internal limit", totalShrink)
	}

	for i, r := range sec.Relocs {
		r.Offset -= delta64(aux.RelocDeltas[i])
	}
	// Per §3/§8.3, new_size = old_size - Δend + Δstart: a symbol whose
	// body contains no shrink still loses Δend bytes off its tail
	// unless the bytes removed ahead of its own start (Δstart) are
	// added back. Anchor.Offset is the pre-relaxation start/end offset
	// captured once in InitRelaxAux, so it — not Sym.Value, which the
	// start anchor below mutates in place — is the source of the old
	// start offset an end anchor needs.
	type startMark struct {
		offset int64
		delta  int32
	}
	starts := make(map[*objmodel.Symbol]startMark, len(aux.Anchors)/2)
	for i := range aux.Anchors {
		a := &aux.Anchors[i]
		if a.End {
			s := starts[a.Sym]
			oldSize := a.Offset - s.offset
			a.Sym.Size = uint64(oldSize - delta64(a.Delta) + delta64(s.delta))
			a.Sym.Value = uint64(s.offset - delta64(s.delta))
		} else {
			starts[a.Sym] = startMark{offset: a.Offset, delta: a.Delta}
		}
	}

	sec.RawData = out
	sec.Relax = nil
	return out
}
