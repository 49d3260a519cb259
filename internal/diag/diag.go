// Package diag accumulates link-time diagnostics. It is a direct
// descendant of the teacher compiler's ErrorCollector (errors.go):
// the same accumulate-then-report shape, with SourceLocation replaced
// by a link-site Location (object file, section, byte offset) since
// the core never sees source text.
package diag

import (
	"fmt"
	"strings"
)

// Level indicates the severity of a diagnostic.
type Level int

const (
	LevelWarning Level = iota
	LevelError
	LevelFatal
)

func (l Level) String() string {
	switch l {
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	case LevelFatal:
		return "fatal error"
	default:
		return "unknown"
	}
}

// Category classifies the kind of diagnostic, matching §7 of the
// specification: incompatible input, malformed relocation, lookup
// failure, or internal.
type Category int

const (
	CategoryIncompatibleInput Category = iota
	CategoryMalformedReloc
	CategoryLookupFailure
	CategoryInternal
)

func (c Category) String() string {
	switch c {
	case CategoryIncompatibleInput:
		return "incompatible-input"
	case CategoryMalformedReloc:
		return "malformed-relocation"
	case CategoryLookupFailure:
		return "lookup-failure"
	case CategoryInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Location anchors a diagnostic at a link site: the object file, the
// section within it, and the byte offset of the offending relocation
// or instruction. Object and Section may be empty for link-wide
// diagnostics (e.g. an eflags conflict names only Object).
type Location struct {
	Object  string
	Section string
	Offset  int64
}

func (loc Location) String() string {
	switch {
	case loc.Object == "" && loc.Section == "":
		return "<link>"
	case loc.Section == "":
		return loc.Object
	default:
		return fmt.Sprintf("%s(%s+0x%x)", loc.Object, loc.Section, loc.Offset)
	}
}

// Diagnostic is a single link-time error or warning.
type Diagnostic struct {
	Level    Level
	Category Category
	Message  string
	Location Location
}

// Error implements the error interface.
func (d Diagnostic) Error() string {
	return fmt.Sprintf("%s: %s: %s", d.Location, d.Level, d.Message)
}

// Collector accumulates diagnostics across a link invocation. Errors
// (and fatals) never abort the link immediately — per §7, (i)-(iii)
// accumulate and the link aborts before emission once any are
// present; only (iv) internal errors panic on the spot (see Fatal).
type Collector struct {
	errors   []Diagnostic
	warnings []Diagnostic
}

// New creates an empty Collector.
func New() *Collector {
	return &Collector{}
}

// Add records an error-level or fatal-level diagnostic.
func (c *Collector) Add(d Diagnostic) {
	if d.Level == LevelWarning {
		c.warnings = append(c.warnings, d)
		return
	}
	c.errors = append(c.errors, d)
}

// Errorf is a convenience wrapper around Add for the common case of a
// formatted message at a given location and category.
func (c *Collector) Errorf(cat Category, loc Location, format string, args ...any) {
	c.Add(Diagnostic{
		Level:    LevelError,
		Category: cat,
		Message:  fmt.Sprintf(format, args...),
		Location: loc,
	})
}

// Warnf records a warning.
func (c *Collector) Warnf(loc Location, format string, args ...any) {
	c.Add(Diagnostic{
		Level:    LevelWarning,
		Category: CategoryIncompatibleInput,
		Message:  fmt.Sprintf(format, args...),
		Location: loc,
	})
}

// HasErrors reports whether any error or fatal diagnostic was added.
func (c *Collector) HasErrors() bool {
	return len(c.errors) > 0
}

// ErrorCount returns the number of errors collected.
func (c *Collector) ErrorCount() int {
	return len(c.errors)
}

// Report renders every accumulated diagnostic, errors first, in the
// order added, matching the teacher's Report(useColor) but without
// the terminal color codes — a linker backend's errors are consumed
// by whatever outer driver owns stderr, same as the teacher's parser
// hands its report to p.errors.Report(true) only at the CLI edge.
func (c *Collector) Report() string {
	var sb strings.Builder
	for i, d := range c.errors {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(d.Error())
	}
	for i, d := range c.warnings {
		if i > 0 || len(c.errors) > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(d.Error())
	}
	return sb.String()
}

// Fatal panics with an internal-error diagnostic. Used for §7.iv
// conditions (section shrink >65535 bytes, unreachable relocation
// kind in finalize) that indicate a bug in the core itself rather
// than bad input, and so are never accumulated for later reporting.
func Fatal(loc Location, format string, args ...any) {
	d := Diagnostic{
		Level:    LevelFatal,
		Category: CategoryInternal,
		Message:  fmt.Sprintf(format, args...),
		Location: loc,
	}
	panic(d)
}
