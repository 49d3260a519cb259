package riscv

import (
	"testing"

	"github.com/xyproto/rvld/internal/diag"
)

func TestCalcEFlagsEmptyInput(t *testing.T) {
	col := diag.New()
	got := CalcEFlags(col, nil, nil)
	if got != 0 {
		t.Errorf("CalcEFlags(empty) = %#x, want 0", got)
	}
	if col.HasErrors() {
		t.Errorf("CalcEFlags(empty) should not report errors")
	}
}

func TestCalcEFlagsRvcOrsAcrossObjects(t *testing.T) {
	col := diag.New()
	got := CalcEFlags(col, []uint32{0, EFRvcFlag, 0}, []string{"a.o", "b.o", "c.o"})
	if got&EFRvcFlag == 0 {
		t.Errorf("CalcEFlags should OR in RVC when any object sets it")
	}
	if col.HasErrors() {
		t.Errorf("unexpected errors: %v", col.Report())
	}
}

func TestCalcEFlagsFloatAbiMismatchErrors(t *testing.T) {
	col := diag.New()
	_ = CalcEFlags(col, []uint32{EFFloatAbiDouble, EFFloatAbiSingle}, []string{"a.o", "b.o"})
	if !col.HasErrors() {
		t.Errorf("expected an error for conflicting floating-point ABIs")
	}
}

func TestCalcEFlagsCheriAbiMismatchErrors(t *testing.T) {
	col := diag.New()
	_ = CalcEFlags(col, []uint32{EFCheriAbi, 0}, []string{"a.o", "b.o"})
	if !col.HasErrors() {
		t.Errorf("expected an error for mixing CHERI-ABI and non-CHERI-ABI objects")
	}
}

// TestCalcEFlagsAssociative checks the §8 property that merging is
// order-independent (associative) for a fixed set of compatible
// inputs.
func TestCalcEFlagsAssociative(t *testing.T) {
	col1 := diag.New()
	a := CalcEFlags(col1, []uint32{EFRvcFlag, 0, EFRvcFlag}, []string{"a", "b", "c"})

	col2 := diag.New()
	b := CalcEFlags(col2, []uint32{0, EFRvcFlag, EFRvcFlag}, []string{"b", "a", "c"})

	if a != b {
		t.Errorf("CalcEFlags should be order-independent for compatible inputs: got %#x vs %#x", a, b)
	}
}

func TestCalcIsCheriAbi(t *testing.T) {
	col := diag.New()
	if CalcIsCheriAbi(col, 0, false) {
		t.Errorf("CalcIsCheriAbi(0) should be false")
	}
	if !CalcIsCheriAbi(col, EFCheriAbi, false) {
		t.Errorf("CalcIsCheriAbi(EFCheriAbi) should be true")
	}
	if col.HasErrors() {
		t.Errorf("unexpected errors: %v", col.Report())
	}
}

func TestCalcIsCheriAbiErrorsWhenConfigDemandsItButNoObjectAsserts(t *testing.T) {
	col := diag.New()
	got := CalcIsCheriAbi(col, 0, true)
	if got {
		t.Errorf("CalcIsCheriAbi should report the merged flags' own value, got true")
	}
	if !col.HasErrors() {
		t.Errorf("expected an error when the link is configured for CHERI ABI but no object asserts it")
	}
}
