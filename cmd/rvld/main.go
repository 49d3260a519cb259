// rvld drives the RISC-V linker backend (internal/riscv) against a set
// of relocatable object files: it merges their e_flags, resolves the
// CHERI ABI and capability size for the link, and reports the
// resulting target configuration. Flag handling follows the teacher
// compiler's main.go (short/long flag pairs, flag.Visit to tell an
// explicit flag from its default, VerboseMode-gated stderr tracing)
// rather than introducing a CLI framework the teacher never reaches
// for.
package main

import (
	"debug/elf"
	"flag"
	"fmt"
	"os"

	"github.com/xyproto/rvld/internal/diag"
	"github.com/xyproto/rvld/internal/linkctx"
	"github.com/xyproto/rvld/internal/riscv"
)

const versionString = "rvld 0.1.0"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("rvld", flag.ContinueOnError)

	var (
		versionShort = fs.Bool("V", false, "print version information and exit")
		version      = fs.Bool("version", false, "print version information and exit")
		verbose      = fs.Bool("v", false, "verbose mode (trace relaxation and CGP rewriting)")
		verboseLong  = fs.Bool("verbose", false, "verbose mode (trace relaxation and CGP rewriting)")
		relax        = fs.Bool("relax", true, "enable linker relaxation")
		cheriot      = fs.Bool("cheriot", false, "link for the CHERIoT pure-capability ABI")
		capSize      = fs.Int("cap-size", 16, "capability size in bytes (8 for RV32 Xcheri, 16 for RV64 Xcheri)")
		is32         = fs.Bool("32", false, "target RV32 instead of RV64")
		passCap      = fs.Int("pass-cap", linkctx.DefaultMaxRelaxPasses, "maximum relaxation passes before aborting")
	)

	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *version || *versionShort {
		fmt.Println(versionString)
		return 0
	}

	cfg := linkctx.Default()
	cfg.Is64 = !*is32
	if *is32 {
		cfg.WordSize = 4
	}
	cfg.IsCheriAbi = *cheriot
	cfg.CapabilitySize = riscv.GetCapabilitySize(cfg.Is64)
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "cap-size" {
			cfg.CapabilitySize = *capSize
		}
	})
	cfg.Relax = *relax
	cfg.MaxRelaxPasses = *passCap
	cfg.Verbose = *verbose || *verboseLong
	cfg = linkctx.FromEnv(cfg)

	objPaths := fs.Args()
	if len(objPaths) == 0 {
		fmt.Fprintln(os.Stderr, "usage: rvld [flags] object.o [object.o ...]")
		fs.PrintDefaults()
		return 2
	}

	ctx := linkctx.NewContext(cfg)
	target := riscv.New(ctx)

	eflagsList, names, err := readEFlags(objPaths, ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	col := diag.New()
	merged := target.CalcEFlags(col, eflagsList, names)
	isCheriAbi := target.CalcIsCheriAbi(col, merged)
	if col.HasErrors() {
		fmt.Fprintln(os.Stderr, col.Report())
		return 1
	}

	ctx.Tracef("merged e_flags = %#x across %d object(s)", merged, len(objPaths))

	fmt.Printf("merged e_flags:   %#010x\n", merged)
	fmt.Printf("cheri abi:        %v\n", isCheriAbi)
	fmt.Printf("capability size:  %d bytes\n", ctx.Config.CapabilitySize)
	fmt.Printf("relax passes cap: %d\n", cfg.MaxRelaxPasses)
	if ctx.HasStaticTLSModel() {
		fmt.Println("static tls model: required by at least one input object")
	}

	return 0
}

// readEFlags opens each object with debug/elf just far enough to read
// its ELF header flags field; the backend's own relocation and symbol
// model (internal/objmodel) covers everything downstream of that,
// since full ELF section/symbol-table parsing is this backend's
// external collaborator, not something it reimplements.
func readEFlags(paths []string, ctx *linkctx.Context) ([]uint32, []string, error) {
	eflags := make([]uint32, 0, len(paths))
	names := make([]string, 0, len(paths))
	for _, p := range paths {
		r, err := os.Open(p)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", p, err)
		}
		f, err := elf.NewFile(r)
		if err != nil {
			r.Close()
			return nil, nil, fmt.Errorf("%s: %w", p, err)
		}
		// debug/elf does not expose e_flags; it follows e_entry, e_phoff
		// and e_shoff, whose width depends on the ELF class.
		flagsOff := int64(0x30)
		if f.Class == elf.ELFCLASS32 {
			flagsOff = 0x24
		}
		var raw [4]byte
		_, err = r.ReadAt(raw[:], flagsOff)
		r.Close()
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", p, err)
		}
		flags := f.ByteOrder.Uint32(raw[:])
		eflags = append(eflags, flags)
		names = append(names, p)
		ctx.Tracef("%s: e_flags = %#x", p, flags)
	}
	return eflags, names, nil
}
