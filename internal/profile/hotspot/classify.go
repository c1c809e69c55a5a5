// Package hotspot implements the streaming function/file sample
// aggregator (C10), including user-code classification, ported from
// original_source/hud/src/classification.rs.
package hotspot

import (
	"strings"

	"github.com/taskscope/taskscope/internal/profile/schema"
)

// Origin classifies where a resolved frame's code lives. Aliased to
// schema.Origin so FunctionHotspot can carry a classification without this
// package importing back into schema's callers.
type Origin = schema.Origin

const (
	OriginUnknown    = schema.OriginUnknown
	OriginUserCode   = schema.OriginUserCode
	OriginStdLib     = schema.OriginStdLib
	OriginRuntimeLib = schema.OriginRuntimeLib
	OriginThirdParty = schema.OriginThirdParty
)

// knownRuntimeNamespaces names the async-runtime crates that, when found
// inside a cargo-registry path, are classified as RuntimeLib rather than
// a generic ThirdParty dependency.
var knownRuntimeNamespaces = []string{"tokio-", "async-std-", "futures-"}

// knownLibraryPrefixes is the small function-name-prefix table used as a
// fallback when a frame carries no file path at all (classify_frame
// step 4 in the source).
var knownLibraryPrefixes = []string{"std::", "core::", "alloc::", "tokio::", "async_std::", "futures::"}

// ClassifyFrame scores one resolved frame following
// classification.rs's classify_frame decision order:
//  1. an unresolved marker (<unknown>, a bare hex address, or a shared
//     library tag) is Unknown;
//  2. a file path under a cargo-registry segment is ThirdParty, or
//     RuntimeLib if it names a known async-runtime crate;
//  3. a file path under a toolchain-source segment is StdLib;
//  4. a file path under /usr or /lib is ThirdParty;
//  5. any other file path (relative, "./", "src/", or otherwise) is
//     UserCode;
//  6. no file info: fall back to a function-name-prefix table;
//  7. final fallback: UserCode if in_executable, else Unknown.
func ClassifyFrame(function, file string, inExecutable bool) Origin {
	if isUnresolved(function) {
		return OriginUnknown
	}

	if file != "" {
		if strings.Contains(file, ".cargo/registry") || strings.Contains(file, "cargo-registry") {
			if isKnownRuntimePath(file) {
				return OriginRuntimeLib
			}
			return OriginThirdParty
		}
		if strings.Contains(file, "rustup-toolchain") || strings.Contains(file, "/rustc/") {
			return OriginStdLib
		}
		if strings.HasPrefix(file, "/usr/") || strings.HasPrefix(file, "/lib/") {
			return OriginThirdParty
		}
		return OriginUserCode
	}

	if origin, ok := classifyByFunctionPrefix(function); ok {
		return origin
	}

	if inExecutable {
		return OriginUserCode
	}
	return OriginUnknown
}

func isUnresolved(function string) bool {
	return function == "" ||
		function == schema.UnknownFunction ||
		// mirrors stackresolve.SharedLibrary, which this package does not
		// import to avoid a stackresolve dependency for a single sentinel.
		function == "<shared library>" ||
		strings.HasPrefix(function, "0x") ||
		function == "<library>"
}

func isKnownRuntimePath(file string) bool {
	for _, ns := range knownRuntimeNamespaces {
		if strings.Contains(file, ns) {
			return true
		}
	}
	return false
}

func classifyByFunctionPrefix(function string) (Origin, bool) {
	for _, prefix := range knownLibraryPrefixes {
		if strings.HasPrefix(function, prefix) {
			switch prefix {
			case "std::", "core::", "alloc::":
				return OriginStdLib, true
			case "tokio::", "async_std::", "futures::":
				return OriginRuntimeLib, true
			}
		}
	}
	return OriginUnknown, false
}
