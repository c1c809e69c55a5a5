//go:build !linux

package symbolize

import (
	"fmt"

	"github.com/rs/zerolog"
)

// New returns an error on non-Linux platforms; the DWARF/ELF symbolizer
// depends on /proc and ELF parsing conventions this repo only exercises
// on Linux targets.
func New(binaryPath string, logger zerolog.Logger, demangle DemangleFunc) (Symbolizer, error) {
	return nil, fmt.Errorf("symbolize: ELF/DWARF symbolization is only supported on Linux")
}
