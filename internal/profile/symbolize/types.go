package symbolize

import "github.com/taskscope/taskscope/internal/profile/schema"

// Symbolizer is the single polymorphic seam in the pipeline (spec.md §9):
// everything else is concrete, but tests substitute a fake implementing
// this interface rather than parsing a real ELF binary. Kept in an
// untagged file so platforms without ELFSymbolizer (non-Linux) still
// expose the interface for stackresolve and its fakes to depend on.
type Symbolizer interface {
	// Resolve returns the frame sequence for a file offset, outermost
	// frame first when inlining is present. It never fails: a miss
	// yields a single frame named schema.UnknownFunction.
	Resolve(fileOffset uint64) []schema.Frame
	Close() error
	// BuildID returns the target binary's identity, for logging/export.
	BuildID() string
}

// DemangleFunc rewrites a raw DWARF/symtab name into a display name (e.g.
// a Rust or C++ demangler). The default is identity; callers inject a
// scheme-specific demangler for the target runtime.
type DemangleFunc func(string) string
