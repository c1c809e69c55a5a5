//go:build linux

// Package symbolize resolves file offsets into the target binary to
// function names and source locations using its DWARF debug info, falling
// back to the ELF symbol table when DWARF is unavailable.
package symbolize

import (
	"debug/dwarf"
	"debug/elf"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/taskscope/taskscope/internal/profile/schema"
	"github.com/taskscope/taskscope/internal/safe"
)

func identity(s string) string { return s }

// ELFSymbolizer implements Symbolizer against a real on-disk object file.
type ELFSymbolizer struct {
	path      string
	elfFile   *elf.File
	dwarfData *dwarf.Data
	symtab    []elf.Symbol
	demangle  DemangleFunc
	buildID   string

	mu    sync.RWMutex
	cache map[uint64][]schema.Frame

	logger zerolog.Logger
}

// New opens binaryPath and loads its debug info. Construction fails loudly
// (spec.md §4.4 "Error policy") if the file cannot be read/parsed, or if
// neither DWARF nor a symbol table is present (a fully stripped binary).
func New(binaryPath string, logger zerolog.Logger, demangle DemangleFunc) (Symbolizer, error) {
	f, err := elf.Open(binaryPath)
	if err != nil {
		return nil, fmt.Errorf("symbolize: open %s: %w", binaryPath, err)
	}

	if demangle == nil {
		demangle = identity
	}

	s := &ELFSymbolizer{
		path:     binaryPath,
		elfFile:  f,
		demangle: demangle,
		cache:    make(map[uint64][]schema.Frame),
		logger:   logger.With().Str("component", "symbolizer").Str("binary", binaryPath).Logger(),
	}

	if dwarfData, err := f.DWARF(); err != nil {
		s.logger.Debug().Err(err).Msg("DWARF debug info not available, using symbol table only")
	} else {
		s.dwarfData = dwarfData
		s.logger.Debug().Msg("DWARF debug info loaded")
	}

	if symbols, err := f.Symbols(); err != nil {
		s.logger.Debug().Err(err).Msg("symbol table not available")
	} else {
		s.symtab = symbols
		s.logger.Debug().Int("symbol_count", len(symbols)).Msg("symbol table loaded")
	}

	if s.dwarfData == nil && len(s.symtab) == 0 {
		_ = f.Close()
		return nil, fmt.Errorf("symbolize: %s has no debug info or symbol table (stripped binary?)", binaryPath)
	}

	if buildID, err := extractBuildID(binaryPath); err != nil {
		s.logger.Debug().Err(err).Msg("build-id extraction failed")
	} else {
		s.buildID = buildID
		s.logger.Debug().Str("build_id", buildID).Msg("build-id extracted")
	}

	return s, nil
}

// BuildID returns the target binary's identity (GNU build-id note, or a
// content hash when none is present), for a caller to log or embed in an
// export so a later replay can be checked against a mismatched binary.
func (s *ELFSymbolizer) BuildID() string {
	return s.buildID
}

// Resolve never fails; a lookup miss yields a one-frame sequence tagged
// schema.UnknownFunction, per spec.md §4.4.
func (s *ELFSymbolizer) Resolve(fileOffset uint64) []schema.Frame {
	s.mu.RLock()
	if frames, ok := s.cache[fileOffset]; ok {
		s.mu.RUnlock()
		return frames
	}
	s.mu.RUnlock()

	var frames []schema.Frame
	if s.dwarfData != nil {
		frames = s.resolveDWARF(fileOffset)
	}
	if frames == nil && len(s.symtab) > 0 {
		frames = s.resolveSymTab(fileOffset)
	}
	if frames == nil {
		frames = []schema.Frame{{Address: fileOffset, Function: schema.UnknownFunction}}
	}

	s.mu.Lock()
	s.cache[fileOffset] = frames
	s.mu.Unlock()
	return frames
}

// resolveDWARF walks the compilation units linearly looking for the
// subprogram covering addr, then expands any inlined subroutines nested
// within it into additional frames, outermost (the subprogram itself)
// first — spec.md §3's "Inline expansion is preserved as a sequence
// rather than a single frame".
func (s *ELFSymbolizer) resolveDWARF(addr uint64) []schema.Frame {
	reader := s.dwarfData.Reader()

	for {
		entry, err := reader.Next()
		if err != nil || entry == nil {
			break
		}
		if entry.Tag != dwarf.TagSubprogram {
			continue
		}

		low, high, ok := pcRange(entry)
		if !ok || addr < low || addr >= high {
			continue
		}

		outer := schema.Frame{Address: addr, Function: s.funcName(entry)}
		if loc := s.lineForPC(entry, addr); loc != nil {
			outer.Loc = loc
		}

		frames := []schema.Frame{outer}
		frames = append(frames, s.inlinedFrames(reader, entry, addr)...)
		return frames
	}
	return nil
}

// inlinedFrames walks the children of a subprogram entry (the reader is
// positioned just after it) collecting TagInlinedSubroutine entries whose
// PC range covers addr, innermost call sites appended after their parent.
func (s *ELFSymbolizer) inlinedFrames(reader *dwarf.Reader, parent *dwarf.Entry, addr uint64) []schema.Frame {
	if !parent.Children {
		return nil
	}

	var frames []schema.Frame
	depth := 0
	for {
		entry, err := reader.Next()
		if err != nil || entry == nil {
			break
		}
		if entry.Tag == 0 {
			if depth == 0 {
				break
			}
			depth--
			continue
		}
		if entry.Children {
			depth++
		}
		if entry.Tag != dwarf.TagInlinedSubroutine {
			continue
		}
		low, high, ok := pcRange(entry)
		if !ok || addr < low || addr >= high {
			continue
		}
		frame := schema.Frame{Address: addr, Function: s.inlinedFuncName(entry)}
		if loc := s.lineForPC(entry, addr); loc != nil {
			frame.Loc = loc
		}
		frames = append(frames, frame)
	}
	return frames
}

func (s *ELFSymbolizer) funcName(entry *dwarf.Entry) string {
	if nameAttr := entry.Val(dwarf.AttrName); nameAttr != nil {
		if name, ok := nameAttr.(string); ok {
			return s.demangle(name)
		}
	}
	return schema.UnknownFunction
}

// inlinedFuncName resolves an inlined subroutine's name through its
// abstract-origin reference when it has no direct AttrName, which is the
// common DWARF encoding for inlined calls.
func (s *ELFSymbolizer) inlinedFuncName(entry *dwarf.Entry) string {
	if nameAttr := entry.Val(dwarf.AttrName); nameAttr != nil {
		if name, ok := nameAttr.(string); ok {
			return s.demangle(name)
		}
	}
	if originAttr := entry.Val(dwarf.AttrAbstractOrigin); originAttr != nil {
		if off, ok := originAttr.(dwarf.Offset); ok {
			originReader := s.dwarfData.Reader()
			originReader.Seek(off)
			if origin, err := originReader.Next(); err == nil && origin != nil {
				return s.funcName(origin)
			}
		}
	}
	return schema.UnknownFunction
}

func (s *ELFSymbolizer) lineForPC(entry *dwarf.Entry, addr uint64) *schema.Location {
	lineReader, err := s.dwarfData.LineReader(entry)
	if err != nil || lineReader == nil {
		return nil
	}
	var lineEntry dwarf.LineEntry
	if err := lineReader.SeekPC(addr, &lineEntry); err != nil {
		return nil
	}
	line, _ := safe.IntToUint32(lineEntry.Line)
	column, _ := safe.IntToUint32(lineEntry.Column)
	return &schema.Location{File: lineEntry.File.Name, Line: line, Column: column}
}

func pcRange(entry *dwarf.Entry) (low, high uint64, ok bool) {
	lowAttr := entry.Val(dwarf.AttrLowpc)
	highAttr := entry.Val(dwarf.AttrHighpc)
	if lowAttr == nil || highAttr == nil {
		return 0, 0, false
	}
	low, ok = lowAttr.(uint64)
	if !ok {
		return 0, 0, false
	}
	switch v := highAttr.(type) {
	case uint64:
		high = v
	case int64:
		high = low + uint64(v)
	default:
		return 0, 0, false
	}
	return low, high, true
}

func (s *ELFSymbolizer) resolveSymTab(addr uint64) []schema.Frame {
	for _, sym := range s.symtab {
		if addr >= sym.Value && addr < sym.Value+sym.Size {
			return []schema.Frame{{Address: addr, Function: s.demangle(sym.Name)}}
		}
	}
	return nil
}

// Close releases the underlying ELF file handle.
func (s *ELFSymbolizer) Close() error {
	if s.elfFile != nil {
		return s.elfFile.Close()
	}
	return nil
}
