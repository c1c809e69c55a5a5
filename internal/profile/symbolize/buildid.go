//go:build linux

package symbolize

import (
	"crypto/sha256"
	"debug/elf"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// extractBuildID reads the ELF .note.gnu.build-id section, falling back
// to a SHA-256 of the whole file when the binary carries no build-id
// note (e.g. stripped with --build-id=none). The symbolizer stores this
// identity and exposes it through BuildID(); resolved frames do not carry
// it.
func extractBuildID(binaryPath string) (string, error) {
	f, err := elf.Open(binaryPath)
	if err != nil {
		return "", fmt.Errorf("symbolize: open %s for build-id: %w", binaryPath, err)
	}
	defer f.Close()

	if section := f.Section(".note.gnu.build-id"); section != nil {
		if data, err := section.Data(); err == nil && len(data) >= 36 {
			// ELF note layout: namesz(4) + descsz(4) + type(4) + name + desc.
			// The GNU build-id note's name is "GNU\0" (4 bytes), so the
			// descriptor (the build-id itself, 20 bytes for SHA-1) starts
			// at offset 16.
			return hex.EncodeToString(data[16:36]), nil
		}
	}

	file, err := os.Open(binaryPath) // #nosec G304 -- binaryPath is the operator-supplied profiling target
	if err != nil {
		return "", fmt.Errorf("symbolize: open %s for hashing: %w", binaryPath, err)
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("symbolize: hash %s: %w", binaryPath, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
