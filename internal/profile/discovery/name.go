// Package discovery implements the two worker-classification strategies
// of spec.md §4.2: name-based (thread command matching) and
// stack-shape-based (classification of sampled call stacks).
package discovery

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/taskscope/taskscope/internal/procfs"
	"github.com/taskscope/taskscope/internal/profile/schema"
	"github.com/taskscope/taskscope/internal/safe"
)

// DefaultPrefix is the target runtime's well-known worker-thread name
// prefix, tried when the operator supplies none.
const DefaultPrefix = "tokio-runtime-w"

// MinPoolSize is the smallest group auto-discovery will accept as a
// worker pool.
const MinPoolSize = 2

// maxDisplayNames bounds how many distinct comms are named in a
// discovery-failure diagnostic.
const maxDisplayNames = 10

// ByName implements spec.md §4.2.1. If prefix is empty, DefaultPrefix is
// tried first; if that yields nothing, the largest same-base-name group
// (stripping a trailing "-<digits>" suffix) of size >= MinPoolSize is
// selected. Worker ids are assigned in ascending tid order (spec.md §9's
// tightening of the source's encounter order).
func ByName(threads []procfs.Thread, prefix string, logger zerolog.Logger) ([]schema.WorkerInfo, error) {
	tried := prefix
	if tried == "" {
		tried = DefaultPrefix
	}

	workers := collect(threads, tried)
	if len(workers) > 0 {
		return assignIDs(workers), nil
	}

	// Only auto-discover when the caller did not pin an explicit prefix;
	// an explicit --workers flag that matched nothing is a hard failure,
	// not an invitation to guess.
	if prefix != "" {
		logDiscoveryFailure(threads, logger)
		return nil, fmt.Errorf("discovery: no threads matched prefix %q", prefix)
	}

	autoPrefix, ok := discoverPrefix(threads)
	if !ok {
		logDiscoveryFailure(threads, logger)
		return nil, fmt.Errorf("discovery: no worker prefix found (tried default %q)", DefaultPrefix)
	}

	workers = collect(threads, autoPrefix)
	return assignIDs(workers), nil
}

func collect(threads []procfs.Thread, prefix string) []procfs.Thread {
	var matched []procfs.Thread
	for _, th := range threads {
		if strings.HasPrefix(th.Comm, prefix) {
			matched = append(matched, th)
		}
	}
	return matched
}

// assignIDs sorts by ascending tid then assigns sequential worker ids.
func assignIDs(threads []procfs.Thread) []schema.WorkerInfo {
	sorted := append([]procfs.Thread(nil), threads...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TID < sorted[j].TID })

	workers := make([]schema.WorkerInfo, 0, len(sorted))
	for i, th := range sorted {
		workerID, _ := safe.IntToUint32(i)
		workers = append(workers, schema.WorkerInfo{
			WorkerID: workerID,
			TID:      uint32(th.TID),
			Comm:     th.Comm,
			Active:   true,
		})
	}
	return workers
}

// stripNumericSuffix removes a trailing "-<digits>" from name, returning
// the base and whether a suffix was found.
func stripNumericSuffix(name string) (string, bool) {
	idx := strings.LastIndexByte(name, '-')
	if idx < 0 || idx == len(name)-1 {
		return "", false
	}
	suffix := name[idx+1:]
	if _, err := strconv.Atoi(suffix); err != nil {
		return "", false
	}
	return name[:idx], true
}

// discoverPrefix groups thread comms by base name and returns the
// largest group of size >= MinPoolSize. Ties are broken arbitrarily but
// stably (Go map iteration is randomized, so we break ties by
// lexicographically smallest base name for a deterministic result).
func discoverPrefix(threads []procfs.Thread) (string, bool) {
	counts := make(map[string]int)
	for _, th := range threads {
		base, ok := stripNumericSuffix(th.Comm)
		if !ok {
			continue
		}
		counts[base]++
	}

	best := ""
	bestCount := 0
	for base, count := range counts {
		if count < MinPoolSize {
			continue
		}
		if count > bestCount || (count == bestCount && base < best) {
			best = base
			bestCount = count
		}
	}
	if bestCount == 0 {
		return "", false
	}
	return best, true
}

func logDiscoveryFailure(threads []procfs.Thread, logger zerolog.Logger) {
	seen := make(map[string]struct{})
	var names []string
	for _, th := range threads {
		if _, ok := seen[th.Comm]; ok {
			continue
		}
		seen[th.Comm] = struct{}{}
		names = append(names, th.Comm)
	}
	sort.Strings(names)
	if len(names) > maxDisplayNames {
		names = names[:maxDisplayNames]
	}
	logger.Warn().
		Strs("observed_thread_names", names).
		Str("default_prefix", DefaultPrefix).
		Msg("worker discovery failed; pass --workers <prefix> to override")
}
