// Package memrange normalizes absolute user-space addresses captured by
// the kernel probes to file offsets in the target binary, by parsing the
// target process's memory map.
package memrange

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Range is a half-open [Start, End) address range for one or more loaded
// mappings of the target binary, unioned across every matching segment in
// /proc/<pid>/maps.
type Range struct {
	Start uint64
	End   uint64
}

// Contains reports whether addr falls within the range.
func (r Range) Contains(addr uint64) bool {
	return addr >= r.Start && addr < r.End
}

// Load parses /proc/<pid>/maps and returns the union range of every
// mapping whose path column contains binaryPath as a substring. It
// returns an error if no matching mapping is found, per spec.md
// §7's no-memory-range-found error kind.
func Load(pid int, binaryPath string) (Range, error) {
	path := fmt.Sprintf("/proc/%d/maps", pid)
	f, err := os.Open(path)
	if err != nil {
		return Range{}, fmt.Errorf("memrange: open %s: %w", path, err)
	}
	defer f.Close()

	var r Range
	found := false

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, binaryPath) {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		rangeCol := fields[0]
		parts := strings.SplitN(rangeCol, "-", 2)
		if len(parts) != 2 {
			continue
		}
		start, err := strconv.ParseUint(parts[0], 16, 64)
		if err != nil {
			continue
		}
		end, err := strconv.ParseUint(parts[1], 16, 64)
		if err != nil {
			continue
		}

		if !found {
			r = Range{Start: start, End: end}
			found = true
			continue
		}
		if start < r.Start {
			r.Start = start
		}
		if end > r.End {
			r.End = end
		}
	}
	if err := scanner.Err(); err != nil {
		return Range{}, fmt.Errorf("memrange: scan %s: %w", path, err)
	}
	if !found {
		return Range{}, fmt.Errorf("memrange: no mapping of %q found for pid %d", binaryPath, pid)
	}
	return r, nil
}

// Adjust maps an absolute address to a (file offset, in-executable) pair
// per spec.md §4.5: no known range ⇒ identity and true (best-effort);
// address in range ⇒ (address-start, true); else (address, false).
func Adjust(known *Range, addr uint64) (fileOffset uint64, inExecutable bool) {
	if known == nil {
		return addr, true
	}
	if known.Contains(addr) {
		return addr - known.Start, true
	}
	return addr, false
}
